package netframe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Errors returned by server operations.
var (
	// ErrServerNotRunning is returned when the server has not been started or has been stopped.
	ErrServerNotRunning = errors.New("server not running")
	// ErrServerRunning is returned by Start on a server that is already running.
	ErrServerRunning = errors.New("server already running")
)

// Handler receives server events. Implementations are usually the
// application's game or service logic.
type Handler[T ID] interface {
	// OnClientConnect is called for every accepted socket before its
	// handshake. Returning false drops the connection.
	OnClientConnect(client *Conn[T]) bool
	// OnClientDisconnect is called once for a client found closed while
	// messaging it. The client has already been removed from the server.
	OnClientDisconnect(client *Conn[T])
	// OnMessage is called from Update for each inbound message.
	OnMessage(client *Conn[T], msg *Message[T])
}

// ValidationHandler is implemented by handlers that want to know when a
// client has passed the handshake. OnClientValidated runs on the
// connection's own goroutine.
type ValidationHandler[T ID] interface {
	OnClientValidated(client *Conn[T])
}

// HandlerFuncs adapts plain functions to Handler and ValidationHandler.
// A nil Connect denies every client; other nil fields are ignored.
type HandlerFuncs[T ID] struct {
	Connect    func(client *Conn[T]) bool
	Disconnect func(client *Conn[T])
	Validated  func(client *Conn[T])
	Message    func(client *Conn[T], msg *Message[T])
}

func (h HandlerFuncs[T]) OnClientConnect(client *Conn[T]) bool {
	if h.Connect == nil {
		return false
	}
	return h.Connect(client)
}

func (h HandlerFuncs[T]) OnClientDisconnect(client *Conn[T]) {
	if h.Disconnect != nil {
		h.Disconnect(client)
	}
}

func (h HandlerFuncs[T]) OnClientValidated(client *Conn[T]) {
	if h.Validated != nil {
		h.Validated(client)
	}
}

func (h HandlerFuncs[T]) OnMessage(client *Conn[T], msg *Message[T]) {
	if h.Message != nil {
		h.Message(client, msg)
	}
}

// registry is the set of live connections. It is only touched by the
// server's registry goroutine.
type registry[T ID] struct {
	conns []*Conn[T]
	byID  map[uint32]*Conn[T]
}

func newRegistry[T ID]() *registry[T] {
	return &registry[T]{byID: make(map[uint32]*Conn[T])}
}

func (r *registry[T]) add(c *Conn[T]) {
	r.conns = append(r.conns, c)
	r.byID[c.ID()] = c
}

// remove drops the given connections and reports how many were present.
func (r *registry[T]) remove(dead ...*Conn[T]) int {
	if len(dead) == 0 {
		return 0
	}

	drop := make(map[*Conn[T]]struct{}, len(dead))
	for _, c := range dead {
		drop[c] = struct{}{}
	}

	removed := 0
	live := r.conns[:0]
	for _, c := range r.conns {
		if _, ok := drop[c]; ok {
			delete(r.byID, c.ID())
			removed++
			continue
		}
		live = append(live, c)
	}
	clear(r.conns[len(live):])
	r.conns = live

	return removed
}

// Server accepts framed connections on a TCP port and feeds their messages
// to a Handler through Update.
type Server[T ID] struct {
	port    uint16
	handler Handler[T]
	opts    options
	logger  Logger
	metrics *metrics
	tracer  trace.Tracer

	in  *Queue[OwnedMessage[T]]
	ops chan func(*registry[T])

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopped  chan struct{} // closed when the registry goroutine exits
}

// NewServer returns a server that will listen on port once started.
// Port 0 picks an ephemeral port, see Addr.
func NewServer[T ID](port uint16, handler Handler[T], opt ...Option) *Server[T] {
	opts := newOptions(opt)

	return &Server[T]{
		port:    port,
		handler: handler,
		opts:    opts,
		logger:  opts.logger,
		metrics: newMetrics(opts.registerer, RoleServer),
		tracer:  opts.tracerProvider.Tracer(tracerName),
		in:      NewQueue[OwnedMessage[T]](),
		ops:     make(chan func(*registry[T])),
	}
}

// Start binds the port and starts accepting connections in the background.
// A bind failure is returned and leaves the server stopped.
func (s *Server[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerRunning
	}

	lc := net.ListenConfig{Control: listenControl(s.opts.reuseAddr)}
	listener, err := lc.Listen(context.Background(), "tcp", ":"+strconv.Itoa(int(s.port)))
	if err != nil {
		s.logger.Error("listen failed", "port", s.port, "error", err)
		return errors.Wrapf(err, "listen on port %d", s.port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	stopped := make(chan struct{})

	group.Go(func() error {
		s.registryLoop(ctx, stopped)
		return nil
	})

	group.Go(func() error {
		return s.acceptLoop(ctx, listener, group)
	})

	s.listener = listener
	s.cancel = cancel
	s.group = group
	s.stopped = stopped

	s.logger.Info("server started", "addr", listener.Addr())
	return nil
}

// Stop stops accepting and waits for all background goroutines to exit.
// Live sockets are closed without notice rather than left open, so no
// connection goroutine outlives Stop. Messages already received stay queued
// and are still delivered by Update. Safe to call multiple times.
func (s *Server[T]) Stop() {
	s.mu.Lock()
	listener, cancel, group := s.listener, s.cancel, s.group
	s.listener, s.cancel, s.group = nil, nil, nil
	s.mu.Unlock()

	if listener == nil {
		return
	}

	cancel()
	_ = listener.Close()
	_ = group.Wait()

	s.logger.Info("server stopped", "addr", listener.Addr())
}

// Addr returns the listener's network address, or nil when not running.
func (s *Server[T]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// registryLoop owns the connection registry and applies queued operations
// one at a time until ctx is canceled.
func (s *Server[T]) registryLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	r := newRegistry[T]()
	for {
		select {
		case op := <-s.ops:
			op(r)
		case <-ctx.Done():
			return
		}
	}
}

// do runs op on the registry goroutine and waits for it to finish.
// op must not call back into the server.
func (s *Server[T]) do(op func(*registry[T])) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	if stopped == nil {
		return ErrServerNotRunning
	}

	done := make(chan struct{})
	select {
	case s.ops <- func(r *registry[T]) {
		defer close(done)
		op(r)
	}:
	case <-stopped:
		return ErrServerNotRunning
	}

	<-done
	return nil
}

// acceptLoop accepts sockets until ctx is canceled. Accept failures are
// logged and retried with a growing delay.
func (s *Server[T]) acceptLoop(ctx context.Context, listener net.Listener, group *errgroup.Group) error {
	nextID := s.opts.firstClientID
	var delay time.Duration

	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			delay = acceptBackoff(delay)
			s.logger.Error("accept error", "error", err, "retry_in", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		delay = 0

		if s.accept(ctx, raw, nextID, group) {
			nextID++
		}
	}
}

func acceptBackoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return 5 * time.Millisecond
	}
	if delay *= 2; delay > time.Second {
		delay = time.Second
	}
	return delay
}

// accept offers raw to the handler and, if approved, registers it under id
// and starts its goroutine. It reports whether id was used.
func (s *Server[T]) accept(ctx context.Context, raw net.Conn, id uint32, group *errgroup.Group) bool {
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	s.logger.Info("new connection", "remote_addr", raw.RemoteAddr())

	c := newConn[T](RoleServer, raw, s.in, s.opts, s.metrics, s.validated)
	if !s.handler.OnClientConnect(c) {
		s.metrics.connection(false)
		s.logger.Info("connection denied", "remote_addr", raw.RemoteAddr())
		c.close()
		return false
	}
	s.metrics.connection(true)

	c.connectToClient(id)
	if err := s.do(func(r *registry[T]) { r.add(c) }); err != nil {
		c.close()
		return false
	}
	s.logger.Info("connection approved", "id", id, "remote_addr", raw.RemoteAddr())

	group.Go(func() error {
		_ = c.run(ctx)
		return nil
	})

	return true
}

func (s *Server[T]) validated(c *Conn[T]) {
	if vh, ok := s.handler.(ValidationHandler[T]); ok {
		vh.OnClientValidated(c)
	}
}

// Client returns the live connection with the given id.
func (s *Server[T]) Client(id uint32) (*Conn[T], bool) {
	var c *Conn[T]
	if err := s.do(func(r *registry[T]) { c = r.byID[id] }); err != nil {
		return nil, false
	}
	return c, c != nil
}

// Count returns the number of connections in the registry, including
// closed ones that have not been swept yet.
func (s *Server[T]) Count() int {
	var n int
	_ = s.do(func(r *registry[T]) { n = len(r.conns) })
	return n
}

// MessageClient queues msg for client. If the client turns out to be
// closed it is removed and reported through OnClientDisconnect.
func (s *Server[T]) MessageClient(client *Conn[T], msg *Message[T]) {
	if client == nil {
		return
	}

	if client.IsConnected() && client.Send(msg) == nil {
		return
	}

	var removed int
	_ = s.do(func(r *registry[T]) { removed = r.remove(client) })
	if removed > 0 {
		s.logger.Info("client disconnected", "id", client.ID())
		s.handler.OnClientDisconnect(client)
	}
}

// MessageAllClients queues msg for every connected client except except,
// which may be nil. Closed clients found during the sweep are removed
// after it and then reported through OnClientDisconnect.
func (s *Server[T]) MessageAllClients(msg *Message[T], except *Conn[T]) {
	var dead []*Conn[T]

	_ = s.do(func(r *registry[T]) {
		for _, c := range r.conns {
			if !c.IsConnected() {
				dead = append(dead, c)
				continue
			}
			if c == except {
				continue
			}
			if err := c.Send(msg); err != nil {
				dead = append(dead, c)
			}
		}
		r.remove(dead...)
	})

	for _, c := range dead {
		s.logger.Info("client disconnected", "id", c.ID())
		s.handler.OnClientDisconnect(c)
	}
}

// Update dispatches up to maxMessages inbound messages to OnMessage in
// arrival order; maxMessages <= 0 means no limit. With wait set it first
// blocks until a message is available or ctx is done.
func (s *Server[T]) Update(ctx context.Context, maxMessages int, wait bool) error {
	if wait {
		if err := s.in.WaitContext(ctx); err != nil {
			return err
		}
	}

	for n := 0; maxMessages <= 0 || n < maxMessages; n++ {
		owned, ok := s.in.PopFront()
		if !ok {
			break
		}
		s.dispatch(ctx, owned)
	}

	return nil
}

// dispatch hands owned to OnMessage even if its sender has since
// disconnected; replies to such a sender go through MessageClient, which
// reports the disconnect.
func (s *Server[T]) dispatch(ctx context.Context, owned OwnedMessage[T]) {
	client := owned.Conn

	_, span := s.tracer.Start(ctx, "netframe.dispatch", trace.WithAttributes(
		attribute.Int64("netframe.client.id", int64(owned.Remote)),
		attribute.Int64("netframe.message.id", int64(owned.Msg.Header.ID)),
		attribute.Int("netframe.message.size", len(owned.Msg.Body)),
	))
	defer span.End()

	start := time.Now()
	s.handler.OnMessage(client, owned.Msg)
	s.metrics.dispatched(start)
}

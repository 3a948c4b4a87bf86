// Package netframe provides a framed TCP messaging substrate for Go.
// Messages are a fixed-size header followed by a raw body, exchanged over
// connections that first pass a challenge/response validation handshake.
// Inbound messages from every connection are funnelled into one queue that
// the application drains from its own goroutine.
package netframe

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

const tracerName = "github.com/Zereker/netframe"

// Role selects which side of the handshake a connection plays.
type Role int

const (
	// RoleServer issues the challenge and checks the response.
	RoleServer Role = iota
	// RoleClient answers the challenge.
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a connection. States only move forward.
type State int32

const (
	StateIdle State = iota
	StateAwaitingHandshake
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one framed connection. It owns its socket and runs a read loop and
// a write loop. Inbound messages go to a queue shared with every other
// connection of the same Server or Client; outbound messages are queued
// privately and written by a single writer so frames never interleave.
type Conn[T ID] struct {
	id      uint32
	session uuid.UUID
	role    Role

	rawConn net.Conn
	reader  *bufio.Reader
	logger  Logger
	metrics *metrics
	tracer  trace.Tracer
	opts    options

	in   *Queue[OwnedMessage[T]]
	out  *Queue[*Message[T]]
	wake chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}

	// handshake values, unused once the connection is active
	handshakeOut   uint64
	handshakeIn    uint64
	handshakeCheck uint64

	onValidated func(*Conn[T])
}

// newConn wraps raw. The server side draws its challenge here so that it
// reflects the time the socket was accepted.
func newConn[T ID](role Role, raw net.Conn, in *Queue[OwnedMessage[T]], opts options, m *metrics, onValidated func(*Conn[T])) *Conn[T] {
	c := &Conn[T]{
		session:     uuid.New(),
		role:        role,
		rawConn:     raw,
		reader:      bufio.NewReaderSize(raw, opts.readBufferSize),
		metrics:     m,
		tracer:      opts.tracerProvider.Tracer(tracerName),
		opts:        opts,
		in:          in,
		out:         NewQueue[*Message[T]](),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		onValidated: onValidated,
	}
	c.logger = c.newLogger()

	if role == RoleServer {
		c.handshakeOut = newChallenge()
		c.handshakeCheck = Scramble(c.handshakeOut)
	}

	return c
}

func (c *Conn[T]) newLogger() Logger {
	return withArgs(c.opts.logger, "id", c.id, "session", c.session.String(), "addr", c.rawConn.RemoteAddr().String())
}

// connectToClient assigns the server-side id and readies the connection for
// its handshake. It must be called before run.
func (c *Conn[T]) connectToClient(id uint32) {
	c.id = id
	c.logger = c.newLogger()
	c.advance(StateAwaitingHandshake)
}

// ID returns the server-assigned id, or zero on the client side.
func (c *Conn[T]) ID() uint32 {
	return c.id
}

// Session returns a process-unique identifier used to correlate log lines
// and traces of this connection.
func (c *Conn[T]) Session() uuid.UUID {
	return c.session
}

// Role returns which side of the handshake this connection plays.
func (c *Conn[T]) Role() Role {
	return c.role
}

// State returns the current lifecycle state.
func (c *Conn[T]) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the socket is open, validated or not.
func (c *Conn[T]) IsConnected() bool {
	s := c.State()
	return s == StateAwaitingHandshake || s == StateActive
}

// Addr returns the remote address of the connection.
func (c *Conn[T]) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// Send queues msg for transmission. The message is copied, so the caller
// may reuse it. Messages sent before the handshake completes are held until
// the connection becomes active.
func (c *Conn[T]) Send(msg *Message[T]) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	c.out.PushBack(msg.Clone())

	select {
	case c.wake <- struct{}{}:
	default:
		// the writer is already due to drain the queue
	}

	return nil
}

// Disconnect closes the socket. Both loops stop and the connection becomes
// StateClosed. Safe to call multiple times.
func (c *Conn[T]) Disconnect() {
	c.close()
}

// advance moves the state forward to s. It fails if the connection is
// already at or past s.
func (c *Conn[T]) advance(s State) bool {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// activate moves the connection to StateActive. The active gauge is raised
// before the transition is published so that a close observing StateActive
// always has an increment to undo.
func (c *Conn[T]) activate() bool {
	c.metrics.opened()
	if !c.advance(StateActive) {
		c.metrics.closed()
		return false
	}
	return true
}

// close marks the connection closed and closes the socket exactly once.
func (c *Conn[T]) close() {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosed)))
		close(c.done)
		_ = c.rawConn.Close()
		if prev == StateActive {
			c.metrics.closed()
		}
	})
}

// run performs the handshake and then the read and write loops until the
// socket fails, Disconnect is called, or ctx is canceled. The connection is
// always closed when run returns.
func (c *Conn[T]) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.close)
	defer stop()
	defer c.close()

	c.advance(StateAwaitingHandshake)

	if err := c.handshake(ctx); err != nil {
		return c.fail(err)
	}

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop()
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.logger.Debug("connection loops stopped", "error", err)

	return err
}

// handshake runs the validation exchange for this connection's role and
// moves it to StateActive on success.
func (c *Conn[T]) handshake(ctx context.Context) error {
	_, span := c.tracer.Start(ctx, "netframe.handshake", trace.WithAttributes(
		attribute.String("netframe.role", c.role.String()),
		attribute.String("netframe.session", c.session.String()),
	))
	defer span.End()

	if err := c.validate(); err != nil {
		c.metrics.handshake(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if !c.activate() {
		return ErrConnectionClosed
	}
	c.metrics.handshake(true)

	if c.role == RoleServer {
		c.logger.Info("client validated")
		if c.onValidated != nil {
			c.onValidated(c)
		}
	} else {
		c.logger.Info("validated by server")
	}

	return nil
}

func (c *Conn[T]) validate() error {
	if c.role == RoleServer {
		if err := writeUint64(c.rawConn, c.handshakeOut); err != nil {
			return errors.Wrap(err, "write challenge")
		}

		in, err := readUint64(c.reader)
		if err != nil {
			return errors.Wrap(err, "read response")
		}
		c.handshakeIn = in

		if c.handshakeIn != c.handshakeCheck {
			return errors.Wrapf(ErrHandshakeFailed, "unexpected response %#x", c.handshakeIn)
		}
		return nil
	}

	in, err := readUint64(c.reader)
	if err != nil {
		return errors.Wrap(err, "read challenge")
	}
	c.handshakeIn = in
	c.handshakeOut = Scramble(in)

	if err := writeUint64(c.rawConn, c.handshakeOut); err != nil {
		return errors.Wrap(err, "write response")
	}
	return nil
}

// readLoop reads frames until the socket fails and pushes each one onto the
// shared inbound queue.
func (c *Conn[T]) readLoop() error {
	remote := c.id
	if c.role == RoleClient {
		remote = 0
	}

	for {
		msg, err := readMessage[T](c.reader, c.opts.maxMessageSize)
		if err != nil {
			return c.fail(err)
		}

		c.metrics.received(msg.Len())
		c.in.PushBack(OwnedMessage[T]{Remote: remote, Conn: c, Msg: msg})
	}
}

// writeLoop is the only writer of the socket. Each wake-up drains the
// outbound queue front to back, popping a message only once it is written.
func (c *Conn[T]) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.wake:
			for {
				msg, ok := c.out.Front()
				if !ok {
					break
				}
				if err := c.write(msg); err != nil {
					return c.fail(err)
				}
				c.out.PopFront()
			}
		}
	}
}

// write sends the header and body of msg in one vectored write.
func (c *Conn[T]) write(msg *Message[T]) error {
	header, err := encodeHeader(msg)
	if err != nil {
		return err
	}

	bufs := net.Buffers{header}
	if len(msg.Body) > 0 {
		bufs = append(bufs, msg.Body)
	}

	n, err := bufs.WriteTo(c.rawConn)
	if err != nil {
		return errors.Wrap(err, "write frame")
	}

	c.metrics.sent(int(n))
	return nil
}

// fail logs err and closes the connection. Errors caused by a local close
// are logged at debug level only.
func (c *Conn[T]) fail(err error) error {
	switch {
	case c.State() == StateClosed:
		c.logger.Debug("connection closed locally", "error", err)
	case errors.Is(err, io.EOF):
		c.logger.Info("connection closed by peer")
	default:
		c.logger.Warn("connection failed", "state", c.State().String(), "error", err)
	}

	c.close()
	return err
}

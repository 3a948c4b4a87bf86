package netframe

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Errors returned by client operations.
var (
	// ErrNotConnected is returned when the client has no connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned when connecting a client that is still connected.
	ErrAlreadyConnected = errors.New("already connected")
)

// Client is the dialing side: a single connection to one server whose
// messages are collected in the client's inbound queue.
type Client[T ID] struct {
	opts    options
	logger  Logger
	metrics *metrics

	in   *Queue[OwnedMessage[T]]
	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn *Conn[T]
	done chan struct{} // closed when the connection goroutine exits
}

// NewClient returns an unconnected client.
func NewClient[T ID](opt ...Option) *Client[T] {
	opts := newOptions(opt)

	var dialer net.Dialer
	return &Client[T]{
		opts:    opts,
		logger:  opts.logger,
		metrics: newMetrics(opts.registerer, RoleClient),
		in:      NewQueue[OwnedMessage[T]](),
		dial:    dialer.DialContext,
	}
}

// ConnectToServer resolves and dials host:port, then answers the server's
// challenge in the background. Resolution and dial failures are returned;
// a failed handshake closes the connection and shows up as IsConnected
// returning false.
func (c *Client[T]) ConnectToServer(ctx context.Context, host string, port uint16) error {
	if c.open() {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	raw, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		c.logger.Error("connect failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "connect to %s", addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another ConnectToServer may have won the race while dialing
	if c.conn != nil && c.conn.State() != StateClosed {
		_ = raw.Close()
		return ErrAlreadyConnected
	}

	conn := newConn[T](RoleClient, raw, c.in, c.opts, c.metrics, nil)
	conn.advance(StateAwaitingHandshake)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = conn.run(context.Background())
	}()

	c.conn, c.done = conn, done
	c.logger.Info("connected", "addr", addr, "session", conn.Session().String())

	return nil
}

// open reports whether the current connection, if any, is not yet closed.
func (c *Client[T]) open() bool {
	conn := c.Conn()
	return conn != nil && conn.State() != StateClosed
}

// Disconnect closes the connection and waits for its goroutines to exit.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.mu.Unlock()

	if conn == nil {
		return
	}

	conn.Disconnect()
	<-done
}

// IsConnected reports whether the client has an open connection.
func (c *Client[T]) IsConnected() bool {
	conn := c.Conn()
	return conn != nil && conn.IsConnected()
}

// Send queues msg for the server.
func (c *Client[T]) Send(msg *Message[T]) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// ID returns the id of the client's connection, always zero on this side.
func (c *Client[T]) ID() uint32 {
	if conn := c.Conn(); conn != nil {
		return conn.ID()
	}
	return 0
}

// Conn returns the current connection, or nil before the first connect.
func (c *Client[T]) Conn() *Conn[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Incoming returns the queue of messages received from the server.
func (c *Client[T]) Incoming() *Queue[OwnedMessage[T]] {
	return c.in
}

// Update passes up to maxMessages received messages to fn in arrival order;
// maxMessages <= 0 means no limit. With wait set it first blocks until a
// message is available or ctx is done.
func (c *Client[T]) Update(ctx context.Context, maxMessages int, wait bool, fn func(*Message[T])) error {
	if wait {
		if err := c.in.WaitContext(ctx); err != nil {
			return err
		}
	}

	for n := 0; maxMessages <= 0 || n < maxMessages; n++ {
		owned, ok := c.in.PopFront()
		if !ok {
			break
		}
		fn(owned.Msg)
	}

	return nil
}

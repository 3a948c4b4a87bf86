package netframe

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Errors returned by message encoding and decoding.
var (
	// ErrNotFixedSize is returned when a value has no fixed binary layout
	// (int, string, map, pointer fields and the like).
	ErrNotFixedSize = errors.New("value has no fixed size")
	// ErrBodyUnderflow is returned when more bytes are extracted than the body holds.
	ErrBodyUnderflow = errors.New("message body underflow")
	// ErrMessageTooLarge is returned when an inbound header announces a body
	// larger than the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
)

// byteOrder is the wire byte order. Peers are expected to share it.
var byteOrder = binary.NativeEndian

// ID constrains the application-defined message discriminant.
// Any fixed-width integer kind is allowed, typically a named enum type.
type ID interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64
}

// Header is the fixed-size prefix of every frame.
// Size is the number of body bytes that follow it on the wire.
type Header[T ID] struct {
	ID   T
	Size uint32
}

// headerSize returns the packed wire size of Header[T].
func headerSize[T ID]() int {
	return binary.Size(Header[T]{})
}

// Message is a header plus an untyped body of raw bytes.
// Header.Size always equals len(Body) after Append and Extract.
type Message[T ID] struct {
	Header Header[T]
	Body   []byte
}

// NewMessage returns an empty message with the given id.
func NewMessage[T ID](id T) *Message[T] {
	return &Message[T]{Header: Header[T]{ID: id}}
}

// Len returns the number of bytes the message occupies on the wire.
func (m *Message[T]) Len() int {
	return headerSize[T]() + len(m.Body)
}

// Clone returns a deep copy of the message.
func (m *Message[T]) Clone() *Message[T] {
	c := &Message[T]{Header: m.Header}
	if len(m.Body) > 0 {
		c.Body = append([]byte(nil), m.Body...)
	}
	return c
}

func (m *Message[T]) String() string {
	return fmt.Sprintf("ID:%d Size:%d", m.Header.ID, m.Header.Size)
}

// Append pushes each value onto the tail of the body, in argument order.
// Every value must have a fixed binary layout: sized integers, floats,
// bools, and arrays or structs made only of those.
func (m *Message[T]) Append(values ...any) error {
	for _, v := range values {
		if binary.Size(v) < 0 {
			return errors.Wrapf(ErrNotFixedSize, "append %T", v)
		}
	}

	for _, v := range values {
		body, err := binary.Append(m.Body, byteOrder, v)
		if err != nil {
			return errors.Wrapf(err, "append %T", v)
		}
		m.Body = body
	}
	m.Header.Size = uint32(len(m.Body))

	return nil
}

// Extract pops values off the tail of the body, in argument order, so
// values must be extracted in the reverse of the order they were appended.
// Each argument must be a pointer to a fixed-size value. The message is left
// untouched if the body is too short for all of them.
func (m *Message[T]) Extract(ptrs ...any) error {
	total := 0
	for _, p := range ptrs {
		n := binary.Size(p)
		if n < 0 {
			return errors.Wrapf(ErrNotFixedSize, "extract %T", p)
		}
		total += n
	}
	if total > len(m.Body) {
		return errors.Wrapf(ErrBodyUnderflow, "extract %d bytes from %d", total, len(m.Body))
	}

	for _, p := range ptrs {
		i := len(m.Body) - binary.Size(p)
		if _, err := binary.Decode(m.Body[i:], byteOrder, p); err != nil {
			return errors.Wrapf(err, "extract %T", p)
		}
		m.Body = m.Body[:i]
	}
	m.Header.Size = uint32(len(m.Body))

	return nil
}

// OwnedMessage is an inbound message tagged with the connection that
// produced it. Conn stays valid after the connection is closed or removed
// from its server. Remote is the connection id, zero on the client side
// where the sender is always the server.
type OwnedMessage[T ID] struct {
	Remote uint32
	Conn   *Conn[T]
	Msg    *Message[T]
}

func (o OwnedMessage[T]) String() string {
	return o.Msg.String()
}

// encodeHeader returns the packed header bytes for m.
func encodeHeader[T ID](m *Message[T]) ([]byte, error) {
	h := m.Header
	h.Size = uint32(len(m.Body))
	buf, err := binary.Append(make([]byte, 0, headerSize[T]()), byteOrder, h)
	if err != nil {
		return nil, errors.Wrap(err, "encode header")
	}
	return buf, nil
}

// readMessage reads one frame: the header first, then exactly Size body bytes.
func readMessage[T ID](r io.Reader, maxSize int) (*Message[T], error) {
	buf := make([]byte, headerSize[T]())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	m := &Message[T]{}
	if _, err := binary.Decode(buf, byteOrder, &m.Header); err != nil {
		return nil, errors.Wrap(err, "decode header")
	}

	if m.Header.Size == 0 {
		return m, nil
	}
	if maxSize > 0 && int64(m.Header.Size) > int64(maxSize) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "body of %d bytes, limit %d", m.Header.Size, maxSize)
	}

	m.Body = make([]byte, m.Header.Size)
	if _, err := io.ReadFull(r, m.Body); err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	return m, nil
}

package netframe

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrHandshakeFailed is returned when the peer's validation response does
// not match the expected value.
var ErrHandshakeFailed = errors.New("handshake failed")

// Scramble constants. Both peers must use exactly these values; they are
// protocol parameters, not secrets.
const (
	scrambleKey1 uint64 = 0xDEADBEEFC0DECAFE
	scrambleKey2 uint64 = 0xC0DEFACE12345678

	nibbleHigh uint64 = 0xF0F0F0F0F0F0F0F0
	nibbleLow  uint64 = 0x0F0F0F0F0F0F0F0F
)

// Scramble is the deterministic transform a client applies to the server's
// challenge. It only shows that the peer speaks this protocol and offers no
// protection against a deliberate impostor.
func Scramble(in uint64) uint64 {
	out := in ^ scrambleKey1
	out = (out&nibbleHigh)>>4 | (out&nibbleLow)<<4
	return out ^ scrambleKey2
}

// newChallenge derives a challenge from the wall clock in nanoseconds.
func newChallenge() uint64 {
	return uint64(time.Now().UnixNano())
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

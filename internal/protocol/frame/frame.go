package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	// HeaderSize is the fixed width of the ASCII length prefix.
	HeaderSize = 64
	// ChunkSize is the body size of each file chunk frame.
	ChunkSize = 4096
)

var (
	ErrPeerClosed      = errors.New("frame: peer closed")
	ErrMalformedHeader = errors.New("frame: malformed header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrHeaderOverflow  = errors.New("frame: length does not fit header")
)

// Frame is one header+body unit read off the wire.
type Frame struct {
	Declared uint64
	Payload  []byte
}

// Truncated reports whether the peer closed before the declared body arrived.
func (f Frame) Truncated() bool {
	return uint64(len(f.Payload)) < f.Declared
}

// Text returns the payload as a string.
func (f Frame) Text() string {
	return string(f.Payload)
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// WithDefaults fills zero-valued limits.
func (l Limits) WithDefaults() Limits {
	if l.MaxPayloadBytes == 0 {
		l.MaxPayloadBytes = DefaultLimits().MaxPayloadBytes
	}
	return l
}

// ReadFrame reads one header and its body. A body cut short by EOF is
// returned as a truncated Frame, not as an error.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	limits = limits.WithDefaults()

	header, truncated, err := ReadExact(r, HeaderSize)
	if err != nil {
		return Frame{}, err
	}
	if truncated {
		return Frame{}, ErrPeerClosed
	}

	n, err := DecodeHeader(header)
	if err != nil {
		return Frame{}, err
	}
	if n > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: declared=%d max=%d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
	}

	payload, _, err := ReadExact(r, n)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Declared: n, Payload: payload}, nil
}

// ReadExact reads until n bytes are accumulated or the reader reports EOF.
// On early EOF the partial data is returned with truncated set.
func ReadExact(r io.Reader, n uint64) ([]byte, bool, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return buf, false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:got], true, nil
	default:
		return buf[:got], false, err
	}
}

// WriteFrame writes the header and payload. On a *net.TCPConn both go out in
// a single writev.
func WriteFrame(w io.Writer, payload []byte) error {
	hb, err := EncodeHeader(uint64(len(payload)))
	if err != nil {
		return err
	}
	bufs := net.Buffers{hb[:]}
	if len(payload) > 0 {
		bufs = append(bufs, payload)
	}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("frame: write: %w", err)
	}
	return nil
}

func WriteString(w io.Writer, s string) error {
	return WriteFrame(w, []byte(s))
}

// EncodeHeader renders n as decimal ASCII, left-justified and space padded.
func EncodeHeader(n uint64) ([HeaderSize]byte, error) {
	var hb [HeaderSize]byte
	digits := strconv.FormatUint(n, 10)
	if len(digits) > HeaderSize {
		return hb, ErrHeaderOverflow
	}
	copy(hb[:], digits)
	for i := len(digits); i < HeaderSize; i++ {
		hb[i] = ' '
	}
	return hb, nil
}

func DecodeHeader(b []byte) (uint64, error) {
	if len(b) != HeaderSize {
		return 0, fmt.Errorf("%w: invalid header length: %d", ErrMalformedHeader, len(b))
	}
	digits := trimASCIISpace(b)
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrMalformedHeader)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedHeader, digits)
		}
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return n, nil
}

func trimASCIISpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessageSize caps the body length of any single framed message, guarding
// against a peer that lies about a multi-gigabyte length prefix.
const MaxMessageSize = 1 << 24

// Reader decodes length-prefixed PostgreSQL wire messages from a stream.
// It is deliberately bidirectional: unlike a server-only framework, this
// proxy must decode both frontend and backend message bodies.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader wraps r with wire-protocol framing.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 8192)}
}

// ReadTag reads the one-byte message tag that precedes every regular message.
func (rd *Reader) ReadTag() (byte, error) {
	b, err := rd.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return b, nil
}

// ReadBody reads the 4-byte big-endian length (which includes itself) and
// returns the len-4 body bytes that follow. The returned slice is owned by
// the Reader and is invalidated by the next call.
func (rd *Reader) ReadBody() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 {
		return nil, fmt.Errorf("invalid message length %d", total)
	}
	bodyLen := int(total - 4)
	if bodyLen > MaxMessageSize {
		return nil, fmt.Errorf("message body %d exceeds maximum %d", bodyLen, MaxMessageSize)
	}
	if cap(rd.buf) < bodyLen {
		rd.buf = make([]byte, bodyLen)
	}
	body := rd.buf[:bodyLen]
	if bodyLen > 0 {
		if _, err := io.ReadFull(rd.r, body); err != nil {
			return nil, fmt.Errorf("read message body: %w", err)
		}
	}
	return body, nil
}

// ReadStartupBody reads a startup-style packet: a 4-byte length (no leading
// tag), followed by len-4 bytes of body.
func (rd *Reader) ReadStartupBody() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read startup length: %w", err)
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 4 || int(total-4) > MaxMessageSize {
		return nil, fmt.Errorf("invalid startup length %d", total)
	}
	body := make([]byte, total-4)
	if len(body) > 0 {
		if _, err := io.ReadFull(rd.r, body); err != nil {
			return nil, fmt.Errorf("read startup body: %w", err)
		}
	}
	return body, nil
}

// body is a small cursor over a decoded message body, used by the
// per-message decoders in frontend.go/backend.go.
type body struct {
	b   []byte
	pos int
}

func newBody(b []byte) *body { return &body{b: b} }

func (d *body) byte() (byte, error) {
	if d.pos >= len(d.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := d.b[d.pos]
	d.pos++
	return v, nil
}

func (d *body) int16() (int16, error) {
	if d.pos+2 > len(d.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := int16(binary.BigEndian.Uint16(d.b[d.pos:]))
	d.pos += 2
	return v, nil
}

func (d *body) uint32() (uint32, error) {
	if d.pos+4 > len(d.b) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(d.b[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *body) int32() (int32, error) {
	v, err := d.uint32()
	return int32(v), err
}

func (d *body) cstring() (string, error) {
	start := d.pos
	for d.pos < len(d.b) {
		if d.b[d.pos] == 0 {
			s := string(d.b[start:d.pos])
			d.pos++
			return s, nil
		}
		d.pos++
	}
	return "", fmt.Errorf("unterminated c-string")
}

func (d *body) bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, nil
	}
	if d.pos+n > len(d.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	copy(out, d.b[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

func (d *body) remaining() []byte {
	return d.b[d.pos:]
}

package wire

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Writer encodes length-prefixed PostgreSQL wire messages onto a stream.
type Writer struct {
	w   *bufio.Writer
	cur []byte
	tag byte
	has bool
}

// NewWriter wraps w with wire-protocol framing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 8192)}
}

// Flush pushes any buffered bytes to the underlying stream.
func (wr *Writer) Flush() error {
	return wr.w.Flush()
}

// frame starts a new regular (tagged) message.
func (wr *Writer) frame(tag byte) {
	wr.tag = tag
	wr.has = true
	wr.cur = wr.cur[:0]
}

func (wr *Writer) addByte(b byte)         { wr.cur = append(wr.cur, b) }
func (wr *Writer) addBytes(b []byte)      { wr.cur = append(wr.cur, b...) }
func (wr *Writer) addInt16(v int16)       { wr.cur = binary.BigEndian.AppendUint16(wr.cur, uint16(v)) }
func (wr *Writer) addInt32(v int32)       { wr.cur = binary.BigEndian.AppendUint32(wr.cur, uint32(v)) }
func (wr *Writer) addUint32(v uint32)     { wr.cur = binary.BigEndian.AppendUint32(wr.cur, v) }
func (wr *Writer) addCString(s string)    { wr.cur = append(append(wr.cur, s...), 0) }

// addLenPrefixedBytes writes an i32 length (or -1 for nil) followed by the
// bytes themselves, matching the DataRow/Bind parameter encoding.
func (wr *Writer) addLenPrefixedBytes(b []byte) {
	if b == nil {
		wr.addInt32(-1)
		return
	}
	wr.addInt32(int32(len(b)))
	wr.addBytes(b)
}

// end writes the frame: tag (if this is a regular message), 4-byte length
// covering itself plus body, then the body bytes.
func (wr *Writer) end() error {
	if wr.has {
		if _, err := wr.w.Write([]byte{wr.tag}); err != nil {
			return err
		}
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(wr.cur)+4))
	if _, err := wr.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := wr.w.Write(wr.cur)
	wr.has = false
	return err
}

// startupFrame begins a startup-style message: no leading tag byte.
func (wr *Writer) startupFrame() {
	wr.has = false
	wr.cur = wr.cur[:0]
}

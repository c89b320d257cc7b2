package lib

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// MaxFrameLength is the largest body a 2-byte length header can describe.
const MaxFrameLength = 65535

// ErrTooLarge is returned when a frame body does not fit its length header.
var ErrTooLarge = errors.New("frame body is too large")

// Buffer
type Buffer struct {
	B        []byte
	original []byte
}

var (
	DefaultBufferLength = 512
	buffers             = &sync.Pool{
		New: func() interface{} {
			b := &Buffer{
				B: make([]byte, 0, DefaultBufferLength),
			}
			b.original = b.B
			return b
		},
	}
)

// TakeBuffer
func TakeBuffer() *Buffer {
	return buffers.Get().(*Buffer)
}

// ReleaseBuffer
func ReleaseBuffer(b *Buffer) {
	// don't keep the buffers that grew on a large frame
	if cap(b.B) > MaxFrameLength+2 {
		return
	}
	b.B = b.original[:0]
	buffers.Put(b)
}

// Reset
func (b *Buffer) Reset() {
	b.B = b.B[:0]
}

// AppendByte
func (b *Buffer) AppendByte(v byte) {
	b.B = append(b.B, v)
}

// Append
func (b *Buffer) Append(v []byte) {
	b.B = append(b.B, v...)
}

// AppendString
func (b *Buffer) AppendString(s string) {
	b.B = append(b.B, s...)
}

// AppendUint16 appends v in big-endian order.
func (b *Buffer) AppendUint16(v uint16) {
	b.B = binary.BigEndian.AppendUint16(b.B, v)
}

// AppendUint32 appends v in big-endian order.
func (b *Buffer) AppendUint32(v uint32) {
	b.B = binary.BigEndian.AppendUint32(b.B, v)
}

// Len
func (b *Buffer) Len() int {
	return len(b.B)
}

// Allocate sets the length of the buffer to n, growing the capacity if needed.
func (b *Buffer) Allocate(n int) {
	if cap(b.B) < n {
		b1 := make([]byte, n, n*2)
		copy(b1, b.B)
		b.B = b1
		return
	}
	b.B = b.B[:n]
}

// Frame writes the length of everything after the first 2 bytes into those
// 2 bytes. The caller must have started the buffer with Allocate(2).
func (b *Buffer) Frame() error {
	l := len(b.B) - 2
	if l < 0 {
		return errors.New("frame header is not allocated")
	}
	if l > MaxFrameLength {
		return errors.WithStack(ErrTooLarge)
	}
	binary.BigEndian.PutUint16(b.B[0:2], uint16(l))
	return nil
}

// WriteDataTo
func (b *Buffer) WriteDataTo(w io.Writer) error {
	data := b.B
	for len(data) > 0 {
		n, e := w.Write(data)
		if e != nil {
			return errors.WithStack(e)
		}
		data = data[n:]
	}
	return nil
}

// ReadFrameFrom reads one 2-byte length-prefixed frame from r and keeps its
// body in the buffer. No partial body is ever kept.
func (b *Buffer) ReadFrameFrom(r io.Reader) error {
	b.Allocate(2)
	if _, err := io.ReadFull(r, b.B); err != nil {
		return errors.WithStack(err)
	}
	l := int(binary.BigEndian.Uint16(b.B))
	b.Allocate(l)
	if _, err := io.ReadFull(r, b.B); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.WithStack(err)
	}
	return nil
}

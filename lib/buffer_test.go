package lib

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	b := TakeBuffer()
	defer ReleaseBuffer(b)

	if cap(b.B) < DefaultBufferLength {
		t.Fatal("incorrect capacity")
	}

	if len(b.B) != 0 {
		t.Fatal("should be zero length")
	}
}

func TestBufferFrame(t *testing.T) {
	requireT := require.New(t)

	b := TakeBuffer()
	defer ReleaseBuffer(b)

	b.Allocate(2)
	b.AppendByte('s')
	b.AppendString("ok")
	requireT.NoError(b.Frame())
	requireT.Equal([]byte{0, 3, 's', 'o', 'k'}, b.B)

	var out bytes.Buffer
	requireT.NoError(b.WriteDataTo(&out))

	b.Reset()
	requireT.NoError(b.ReadFrameFrom(&out))
	requireT.Equal([]byte("sok"), b.B)
}

func TestBufferFrameTooLarge(t *testing.T) {
	b := TakeBuffer()
	defer ReleaseBuffer(b)

	b.Allocate(2)
	b.Append(make([]byte, MaxFrameLength+1))
	err := b.Frame()
	require.True(t, errors.Is(err, ErrTooLarge))
}

func TestBufferReadShortFrame(t *testing.T) {
	b := TakeBuffer()
	defer ReleaseBuffer(b)

	// header says 5 bytes, only 2 follow
	err := b.ReadFrameFrom(bytes.NewReader([]byte{0, 5, 'a', 'b'}))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestBufferAppendIntegers(t *testing.T) {
	b := TakeBuffer()
	defer ReleaseBuffer(b)

	b.AppendUint16(0x0102)
	b.AppendUint32(0x03040506)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, b.B)
}

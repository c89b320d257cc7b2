package dist

import (
	"io"

	"github.com/ergo-services/erldist/lib"
)

// Every message in the handshake starts with a 16-bit big-endian integer,
// which contains the message length (not counting the two initial bytes).

// WriteMessage writes m to w as one length-prefixed frame.
func WriteMessage(w io.Writer, m Message) error {
	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	b.Allocate(2)
	m.Encode(b)
	if err := b.Frame(); err != nil {
		return err
	}
	return b.WriteDataTo(w)
}

// ReadFrame reads one length-prefixed frame from r and returns its body.
func ReadFrame(r io.Reader) ([]byte, error) {
	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	if err := b.ReadFrameFrom(r); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.B...), nil
}

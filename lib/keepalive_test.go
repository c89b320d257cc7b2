package lib

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestKeepAlive(t *testing.T) {
	requireT := require.New(t)

	var w syncBuffer
	k := StartKeepAlive(&w, []byte{0, 0, 0, 0}, 5*time.Millisecond)

	requireT.Eventually(func() bool {
		return w.Len() >= 12
	}, time.Second, time.Millisecond)
	requireT.NoError(k.Stop())

	sent := w.Len()
	requireT.Zero(sent % 4)
	time.Sleep(20 * time.Millisecond)
	requireT.Equal(sent, w.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestKeepAliveWriteError(t *testing.T) {
	k := StartKeepAlive(failingWriter{}, []byte{0}, time.Millisecond)
	require.Eventually(t, func() bool {
		k.Lock()
		defer k.Unlock()
		return k.err != nil
	}, time.Second, time.Millisecond)
	require.Error(t, k.Stop())
}

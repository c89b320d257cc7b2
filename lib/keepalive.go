package lib

import (
	"io"
	"sync"
	"time"
)

// KeepAlive writes the packet to the writer once per period until stopped.
type KeepAlive struct {
	sync.Mutex
	writer  io.Writer
	packet  []byte
	period  time.Duration
	timer   *time.Timer
	stopped bool
	err     error
}

// StartKeepAlive
func StartKeepAlive(w io.Writer, packet []byte, period time.Duration) *KeepAlive {
	k := &KeepAlive{
		writer: w,
		packet: packet,
		period: period,
	}
	k.timer = time.AfterFunc(period, k.send)
	return k
}

func (k *KeepAlive) send() {
	k.Lock()
	defer k.Unlock()

	if k.stopped {
		return
	}
	if _, err := k.writer.Write(k.packet); err != nil {
		// the connection is broken, nothing to keep alive anymore
		k.err = err
		return
	}
	k.timer.Reset(k.period)
}

// Stop stops sending and returns the write error, if any.
func (k *KeepAlive) Stop() error {
	k.Lock()
	defer k.Unlock()
	k.stopped = true
	k.timer.Stop()
	return k.err
}

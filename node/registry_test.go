package node

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/qa"

	"github.com/ergo-services/erldist/dist"
)

type countingConn struct {
	net.Conn
	closed atomic.Int32
}

func (c *countingConn) Close() error {
	c.closed.Add(1)
	return nil
}

func newConn() *countingConn {
	return &countingConn{}
}

func TestRegistryOutboundExclusive(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	o, err := r.TryBeginOutbound(ctx, "b@host2")
	requireT.NoError(err)
	requireT.True(r.IsInProgress("b@host2"))

	_, err = r.TryBeginOutbound(ctx, "b@host2")
	requireT.True(errors.Is(err, ErrInProgress))

	o.Complete()
	requireT.False(r.IsInProgress("b@host2"))
	requireT.Error(o.Context().Err())

	o2, err := r.TryBeginOutbound(ctx, "b@host2")
	requireT.NoError(err)

	// stale attempt must not remove the new one
	o.Complete()
	requireT.True(r.IsInProgress("b@host2"))

	r.CompleteOutbound("b@host2")
	requireT.False(r.IsInProgress("b@host2"))
	requireT.Error(o2.Context().Err())
}

func TestRegistryCancelInProgress(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	requireT.False(r.CancelInProgress("b@host2"))

	o, err := r.TryBeginOutbound(ctx, "b@host2")
	requireT.NoError(err)
	requireT.True(r.CancelInProgress("b@host2"))
	requireT.False(r.IsInProgress("b@host2"))
	requireT.True(errors.Is(context.Cause(o.Context()), dist.ErrRaceLost))

	conn := newConn()
	requireT.True(errors.Is(o.Establish(conn), dist.ErrRaceLost))
	requireT.False(r.IsActive("b@host2"))
	requireT.Zero(conn.closed.Load())
}

func TestRegistryEstablish(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	old := newConn()
	r.InstallActive("b@host2", old)

	o, err := r.TryBeginOutbound(ctx, "b@host2")
	requireT.NoError(err)
	conn := newConn()
	requireT.NoError(o.Establish(conn))
	requireT.False(r.IsInProgress("b@host2"))
	requireT.True(r.IsActive("b@host2"))
	requireT.EqualValues(1, old.closed.Load())
	requireT.Zero(conn.closed.Load())
}

func TestRegistryInstallActive(t *testing.T) {
	requireT := require.New(t)
	r := NewRegistry()

	conn1 := newConn()
	conn2 := newConn()

	r.InstallActive("b@host2", conn1)
	requireT.True(r.IsActive("b@host2"))

	r.InstallActive("b@host2", conn1)
	requireT.Zero(conn1.closed.Load())

	r.InstallActive("b@host2", conn2)
	requireT.EqualValues(1, conn1.closed.Load())
	requireT.Zero(conn2.closed.Load())

	requireT.False(r.detach("b@host2", conn1))
	requireT.True(r.RemoveActive("b@host2"))
	requireT.False(r.RemoveActive("b@host2"))
	requireT.EqualValues(1, conn1.closed.Load())
	requireT.EqualValues(1, conn2.closed.Load())
	requireT.Empty(r.ActiveNames())
}

func TestRegistryDecide(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	requireT.Equal(dist.StatusOk, r.Decide("a@host1", "b@host2"))

	r.InstallActive("b@host2", newConn())
	requireT.Equal(dist.StatusAlive, r.Decide("a@host1", "b@host2"))
	requireT.True(r.RemoveActive("b@host2"))

	// greater own name wins, the outbound attempt goes on
	o, err := r.TryBeginOutbound(ctx, "a@host1")
	requireT.NoError(err)
	requireT.Equal(dist.StatusNok, r.Decide("b@host2", "a@host1"))
	requireT.True(r.IsInProgress("a@host1"))
	requireT.NoError(o.Context().Err())

	// smaller own name gives way
	o, err = r.TryBeginOutbound(ctx, "b@host2")
	requireT.NoError(err)
	requireT.Equal(dist.StatusOkSimultaneous, r.Decide("a@host1", "b@host2"))
	requireT.False(r.IsInProgress("b@host2"))
	requireT.True(errors.Is(context.Cause(o.Context()), dist.ErrRaceLost))
}

func TestRegistryTieBreakIsSymmetric(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	names := [][2]string{
		{"a@host1", "b@host2"},
		{"node@10.0.0.2", "node@10.0.0.10"},
		{"x@h", "xy@h"},
	}
	for _, pair := range names {
		for _, swap := range []bool{false, true} {
			own, peer := pair[0], pair[1]
			if swap {
				own, peer = peer, own
			}

			r := NewRegistry()
			_, err := r.TryBeginOutbound(ctx, peer)
			requireT.NoError(err)

			status := r.Decide(own, peer)
			if own > peer {
				requireT.Equal(dist.StatusNok, status)
			} else {
				requireT.Equal(dist.StatusOkSimultaneous, status)
			}
		}
	}
}

func TestRegistryClose(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	conn := newConn()
	r.InstallActive("b@host2", conn)
	o, err := r.TryBeginOutbound(ctx, "c@host3")
	requireT.NoError(err)

	r.Close()
	requireT.EqualValues(1, conn.closed.Load())
	requireT.True(errors.Is(context.Cause(o.Context()), ErrClosed))
	requireT.Equal(dist.StatusNotAllowed, r.Decide("a@host1", "d@host4"))

	_, err = r.TryBeginOutbound(ctx, "b@host2")
	requireT.True(errors.Is(err, ErrClosed))

	late := newConn()
	r.InstallActive("b@host2", late)
	requireT.EqualValues(1, late.closed.Load())
	requireT.False(r.IsActive("b@host2"))

	r.Close()
	requireT.EqualValues(1, conn.closed.Load())
}

func TestRegistryConcurrent(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)
	r := NewRegistry()

	const workers = 8
	const rounds = 200
	names := []string{"a@host1", "b@host2", "c@host3"}

	var mu sync.Mutex
	var conns []*countingConn
	var inProgress [3]atomic.Int32

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				idx := (w + i) % len(names)
				name := names[idx]
				switch i % 4 {
				case 0, 1:
					conn := newConn()
					mu.Lock()
					conns = append(conns, conn)
					mu.Unlock()
					r.InstallActive(name, conn)
				case 2:
					r.RemoveActive(name)
				case 3:
					o, err := r.TryBeginOutbound(ctx, name)
					if err != nil {
						continue
					}
					if inProgress[idx].Add(1) != 1 {
						t.Errorf("two outbound attempts to %s at once", name)
					}
					inProgress[idx].Add(-1)
					o.Complete()
				}
			}
		}()
	}
	wg.Wait()

	requireT.LessOrEqual(len(r.ActiveNames()), len(names))
	r.Close()

	for _, conn := range conns {
		requireT.EqualValues(1, conn.closed.Load())
	}
}

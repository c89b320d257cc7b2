package dist

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ergo-services/erldist/lib"
)

const (
	DefaultHandshakeVersion uint16 = 5
	DefaultHandshakeTimeout        = 5 * time.Second
)

// HandshakeOptions
type HandshakeOptions struct {
	// Name is the full name of the local node (name@host).
	Name string
	// Cookie is the shared cluster secret.
	Cookie string
	// HighVersion and LowVersion bound the protocol versions the local node speaks.
	HighVersion uint16
	LowVersion  uint16
	// Flags defines the capabilities of the local node.
	Flags Flags
	// Timeout limits every single read and write of the handshake.
	// Negative value disables the limit.
	Timeout time.Duration
	// ReplaceAlive is what the connecting side answers when the peer reports
	// an alive connection to us already: true makes the peer drop it.
	ReplaceAlive bool
}

// Result describes the peer of a completed handshake.
type Result struct {
	PeerName        string
	PeerFlags       Flags
	PeerHighVersion uint16
	PeerLowVersion  uint16
	// Status is the status the accepting side sent.
	Status Status
}

// Arbiter decides the status of an incoming connection attempt. Decide must
// be atomic with respect to every other registry operation: when it answers
// StatusOkSimultaneous the local outbound attempt to the peer is already
// cancelled.
type Arbiter interface {
	Decide(own, peer string) Status
	RemoveActive(name string) bool
}

// Handshake runs the distribution handshake on behalf of the local node.
// It holds no per-connection state and is safe for concurrent use.
type Handshake struct {
	options HandshakeOptions
}

// CreateHandshake
func CreateHandshake(options HandshakeOptions) *Handshake {
	if options.HighVersion == 0 {
		options.HighVersion = DefaultHandshakeVersion
	}
	if options.LowVersion == 0 {
		options.LowVersion = options.HighVersion
	}
	if options.Flags == 0 {
		options.Flags = DefaultFlags
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultHandshakeTimeout
	}
	return &Handshake{options: options}
}

// Name returns the full name of the local node.
func (h *Handshake) Name() string {
	return h.options.Name
}

var aLongTimeAgo = time.Unix(1, 0)

// session serializes deadline changes of one connection so that the context
// cancellation can't be overwritten by the next step arming its timeout.
type session struct {
	ctx     context.Context
	conn    net.Conn
	timeout time.Duration
	b       *lib.Buffer

	mu   sync.Mutex
	stop func() bool
}

func newSession(ctx context.Context, conn net.Conn, timeout time.Duration) *session {
	s := &session{
		ctx:     ctx,
		conn:    conn,
		timeout: timeout,
		b:       lib.TakeBuffer(),
	}
	s.stop = context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.conn.SetDeadline(aLongTimeAgo)
	})
	return s
}

func (s *session) close() {
	s.stop()
	lib.ReleaseBuffer(s.b)
	s.b = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() == nil {
		s.conn.SetDeadline(time.Time{})
	}
}

// arm checks the context and sets the deadline for the next read or write.
func (s *session) arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return s.cause()
	}

	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if d, ok := s.ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return errors.WithStack(s.conn.SetDeadline(deadline))
}

func (s *session) cause() error {
	cause := context.Cause(s.ctx)
	if errors.Is(cause, ErrRaceLost) {
		return errors.WithStack(ErrRaceLost)
	}
	return errors.WithStack(cause)
}

func (s *session) failed(err error) error {
	if s.ctx.Err() != nil {
		return s.cause()
	}
	return err
}

// read returns the body of the next frame. It stays valid until the next read.
func (s *session) read() ([]byte, error) {
	if err := s.arm(); err != nil {
		return nil, err
	}
	s.b.Reset()
	if err := s.b.ReadFrameFrom(s.conn); err != nil {
		return nil, s.failed(err)
	}
	return s.b.B, nil
}

func (s *session) write(m Message) error {
	if err := s.arm(); err != nil {
		return err
	}
	if err := WriteMessage(s.conn, m); err != nil {
		return s.failed(err)
	}
	return nil
}

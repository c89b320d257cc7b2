package epmd

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	"github.com/ergo-services/erldist/lib"
)

// DefaultTimeout bounds every request to the name service.
const DefaultTimeout = 5 * time.Second

var aLongTimeAgo = time.Unix(1, 0)

// Client talks to the name service (EPMD). It registers local nodes and
// resolves the listening ports of the remote ones. Every request is bounded
// by Timeout and by the deadline of the context, cancelling the context
// interrupts the request.
type Client struct {
	// Host is the name service host used for registration and for names
	// without a host part.
	Host string
	// Port is the name service port on every host.
	Port uint16

	HighVersion uint16
	LowVersion  uint16
	// Hidden registers the nodes as hidden ones.
	Hidden bool
	// Timeout of a single request, 0 means no limit besides the context.
	Timeout time.Duration

	mu            sync.Mutex
	registrations map[string]*Registration
}

// NewClient
func NewClient(host string, port uint16) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		Host:          host,
		Port:          port,
		HighVersion:   5,
		LowVersion:    5,
		Timeout:       DefaultTimeout,
		registrations: make(map[string]*Registration),
	}
}

// Registration is a live registration of the local node. The name service
// forgets the node as soon as the registration connection is closed.
type Registration struct {
	Name     string
	Port     uint16
	Creation uint32

	conn net.Conn
}

func (r *Registration) key() string {
	return r.Name + ":" + strconv.Itoa(int(r.Port))
}

// dial connects to the name service on the host. The returned stop func
// detaches the connection from ctx and reports false if ctx was done already.
func (c *Client) dial(ctx context.Context, host string) (net.Conn, func() bool, error) {
	dialer := net.Dialer{
		KeepAlive: 15 * time.Second,
		Timeout:   c.Timeout,
	}
	dsn := net.JoinHostPort(host, strconv.Itoa(int(c.Port)))
	conn, err := dialer.DialContext(ctx, "tcp", dsn)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't connect to the name service %s", dsn)
	}

	var deadline time.Time
	if c.Timeout > 0 {
		deadline = time.Now().Add(c.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(aLongTimeAgo)
	})
	return conn, stop, nil
}

// failed replaces the error caused by the cancelled ctx with its cause.
func failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.WithStack(context.Cause(ctx))
	}
	return err
}

// Register registers the node name (short or full) with the listening port.
// Registering the same name and port again replaces the previous registration.
// ctx must carry a logger (see logger.WithLogger).
func (c *Client) Register(ctx context.Context, name string, port uint16) (*Registration, error) {
	short, _ := splitName(name)

	// the name stays taken while the previous registration is alive
	c.mu.Lock()
	key := (&Registration{Name: short, Port: port}).key()
	if old, exist := c.registrations[key]; exist {
		old.conn.Close()
		delete(c.registrations, key)
	}
	c.mu.Unlock()

	conn, stop, err := c.dial(ctx, c.Host)
	if err != nil {
		return nil, err
	}

	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	info := NodeInfo{
		Name:        short,
		Port:        port,
		Hidden:      c.Hidden,
		Protocol:    ProtocolTCP,
		HighVersion: c.HighVersion,
		LowVersion:  c.LowVersion,
	}
	if err := composeAliveReq(b, info); err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	if err := b.WriteDataTo(conn); err != nil {
		stop()
		conn.Close()
		return nil, failed(ctx, err)
	}

	creation, err := readAliveResp(conn)
	if !stop() && err == nil {
		err = errors.WithStack(context.Cause(ctx))
	}
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(failed(ctx, err), "can't register %q", short)
	}
	// the registration lives as long as the connection
	conn.SetDeadline(time.Time{})

	reg := &Registration{
		Name:     short,
		Port:     port,
		Creation: creation,
		conn:     conn,
	}

	c.mu.Lock()
	if old, exist := c.registrations[key]; exist {
		old.conn.Close()
	}
	c.registrations[key] = reg
	c.mu.Unlock()

	logger.Get(ctx).Debug("Node registered",
		zap.String("name", short), zap.Uint16("port", port), zap.Uint32("creation", creation))
	return reg, nil
}

// Unregister drops the registration. Returns false if the registration is
// unknown or has been replaced already.
func (c *Client) Unregister(reg *Registration) bool {
	if reg == nil {
		return false
	}

	c.mu.Lock()
	current, exist := c.registrations[reg.key()]
	if !exist || current != reg {
		c.mu.Unlock()
		return false
	}
	delete(c.registrations, reg.key())
	c.mu.Unlock()

	reg.conn.Close()
	return true
}

// LookupPort resolves the listening port of the node. A full name (name@host)
// is looked up at the name service running on that host.
func (c *Client) LookupPort(ctx context.Context, name string) (uint16, error) {
	info, err := c.Lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Port, nil
}

// Lookup resolves everything the name service knows about the node.
func (c *Client) Lookup(ctx context.Context, name string) (NodeInfo, error) {
	short, host := splitName(name)
	if host == "" {
		host = c.Host
	}

	conn, stop, err := c.dial(ctx, host)
	if err != nil {
		return NodeInfo{}, err
	}
	defer conn.Close()
	defer stop()

	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	if err := composePortPleaseReq(b, short); err != nil {
		return NodeInfo{}, err
	}
	if err := b.WriteDataTo(conn); err != nil {
		return NodeInfo{}, failed(ctx, err)
	}
	info, err := readPortResp(conn)
	if err != nil {
		return NodeInfo{}, errors.Wrapf(failed(ctx, err), "can't resolve %q", name)
	}
	return info, nil
}

// Names lists the nodes registered at the name service of the Host together
// with the port the name service reports for itself.
// Each line looks like "name NAME at port PORT".
func (c *Client) Names(ctx context.Context) (uint32, []string, error) {
	conn, stop, err := c.dial(ctx, c.Host)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()
	defer stop()

	b := lib.TakeBuffer()
	defer lib.ReleaseBuffer(b)

	if err := composeNamesReq(b); err != nil {
		return 0, nil, err
	}
	if err := b.WriteDataTo(conn); err != nil {
		return 0, nil, failed(ctx, err)
	}

	// the name service closes the connection once the list is sent
	reply, err := io.ReadAll(conn)
	if err != nil {
		return 0, nil, failed(ctx, errors.WithStack(err))
	}
	return readNamesResp(reply)
}

// Close drops all the registrations made by this client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, reg := range c.registrations {
		reg.conn.Close()
		delete(c.registrations, key)
	}
}

func splitName(name string) (string, string) {
	short, host, _ := strings.Cut(name, "@")
	return short, host
}

package node

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
	"golang.org/x/time/rate"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	"github.com/ergo-services/erldist/dist"
	"github.com/ergo-services/erldist/epmd"
	"github.com/ergo-services/erldist/lib"
)

var (
	// ErrStopped is returned by the operations of a stopped node.
	ErrStopped = errors.New("node is stopped")
	// ErrNoRoute is returned when the port of the peer can't be resolved.
	ErrNoRoute = errors.New("no route to node")
	// ErrSelfConnect is returned when the node is asked to connect to itself.
	ErrSelfConnect = errors.New("node can't connect to itself")
)

// tick is an empty distribution packet, peers drop the connection if they
// don't see any traffic for a while.
var tick = []byte{0, 0, 0, 0}

// Node accepts the connections of the peers, authenticates them and keeps
// them in its registry.
type Node struct {
	name    string
	port    uint16
	options Options

	handshake *dist.Handshake
	registry  *Registry
	metrics   *Metrics
	tracer    tracer
	limiter   *rate.Limiter
	listener  net.Listener
	log       *zap.Logger

	epmd         *epmd.Client
	registration *epmd.Registration

	routesMu sync.RWMutex
	routes   map[string]uint16

	mu      sync.Mutex
	running bool
	group   *parallel.Group
}

// Start starts the node. The node stops when ctx is done or Stop is called.
// ctx must carry a logger (see logger.WithLogger), the node logs through it.
// The registration at the name service is bounded by ctx and by
// Options.HandshakeTimeout.
func Start(ctx context.Context, options Options) (*Node, error) {
	if err := options.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	cookie := options.Cookie
	if cookie == "" {
		var err error
		if cookie, err = ReadCookie(options.CookiePath); err != nil {
			return nil, err
		}
	}

	name := options.Name
	if !strings.Contains(name, "@") {
		host := options.ListenHost
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			host = lib.LocalIP()
		}
		name += "@" + host
	}

	flags := options.Flags
	if flags == 0 {
		flags = dist.DefaultFlags
		if !options.Hidden {
			flags |= dist.ComposeFlags(dist.FlagPublished)
		}
	}

	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetricsWithRegisterer(DefaultNamespace, nil)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if options.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.AcceptRate), max(options.AcceptBurst, 1))
	}

	log := logger.Get(ctx).With(zap.String("node", name))

	lc := net.ListenConfig{}
	addr := net.JoinHostPort(options.ListenHost, strconv.Itoa(int(options.Port)))
	ls, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "can't start listener on %s", addr)
	}

	n := &Node{
		name:    name,
		port:    uint16(ls.Addr().(*net.TCPAddr).Port),
		options: options,
		handshake: dist.CreateHandshake(dist.HandshakeOptions{
			Name:         name,
			Cookie:       cookie,
			HighVersion:  options.HandshakeVersion,
			LowVersion:   options.HandshakeVersion,
			Flags:        flags,
			Timeout:      options.HandshakeTimeout,
			ReplaceAlive: options.ReplaceAlive,
		}),
		registry: NewRegistry(),
		metrics:  metrics,
		tracer:   newTracer(options.TracerProvider),
		limiter:  limiter,
		listener: ls,
		log:      log,
		routes:   make(map[string]uint16, len(options.StaticRoutes)),
		running:  true,
	}
	for peer, port := range options.StaticRoutes {
		n.routes[peer] = port
	}

	if !options.DisableEPMD {
		n.epmd = epmd.NewClient(options.EPMDHost, options.EPMDPort)
		n.epmd.Hidden = options.Hidden
		n.epmd.HighVersion = options.HandshakeVersion
		n.epmd.LowVersion = options.HandshakeVersion
		if options.HandshakeTimeout > 0 {
			n.epmd.Timeout = options.HandshakeTimeout
		}
		reg, err := n.epmd.Register(ctx, name, n.port)
		if err != nil {
			ls.Close()
			return nil, err
		}
		n.registration = reg
	}

	n.group = parallel.NewGroup(logger.WithLogger(ctx, log))
	n.group.Spawn("watchdog", parallel.Fail, func(ctx context.Context) error {
		<-ctx.Done()
		n.close()
		return errors.WithStack(ctx.Err())
	})
	n.group.Spawn("listener", parallel.Fail, n.acceptLoop)

	log.Info("Node started", zap.Uint16("port", n.port), zap.Stringer("flags", flags))
	return n, nil
}

// Name returns the full name of the node.
func (n *Node) Name() string {
	return n.name
}

// Port returns the listening port.
func (n *Node) Port() uint16 {
	return n.port
}

// Creation returns the creation number the name service assigned to the node,
// 0 if the node is not registered.
func (n *Node) Creation() uint32 {
	if n.registration == nil {
		return 0
	}
	return n.registration.Creation
}

// Stop closes the listener and all the connections, unregisters the node and
// waits for all its tasks.
func (n *Node) Stop() error {
	n.group.Exit(nil)
	n.close()
	return n.group.Wait()
}

func (n *Node) close() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.mu.Unlock()

	n.listener.Close()
	if n.epmd != nil {
		n.epmd.Unregister(n.registration)
		n.epmd.Close()
	}
	n.registry.Close()
	n.metrics.setActivePeers(0)
	n.log.Info("Node stopped")
}

func (n *Node) isRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// IsConnected tells if there is an authenticated connection to the peer.
func (n *Node) IsConnected(peer string) bool {
	return n.registry.IsActive(peer)
}

// Peers returns the sorted names of the connected peers.
func (n *Node) Peers() []string {
	return n.registry.ActiveNames()
}

// Disconnect closes the connection to the peer.
func (n *Node) Disconnect(peer string) bool {
	if !n.registry.RemoveActive(peer) {
		return false
	}
	n.metrics.setActivePeers(len(n.registry.ActiveNames()))
	n.log.Info("Peer disconnected", zap.String("peer", peer))
	return true
}

// AddStaticRoute makes the node connect to the peer on the given port without
// asking the name service.
func (n *Node) AddStaticRoute(peer string, port uint16) error {
	if _, host, _ := strings.Cut(peer, "@"); host == "" {
		return errors.Errorf("%q is not a full node name", peer)
	}
	if port == 0 {
		return errors.Errorf("invalid port for %q", peer)
	}
	n.routesMu.Lock()
	defer n.routesMu.Unlock()
	n.routes[peer] = port
	return nil
}

// RemoveStaticRoute
func (n *Node) RemoveStaticRoute(peer string) bool {
	n.routesMu.Lock()
	defer n.routesMu.Unlock()
	if _, exists := n.routes[peer]; !exists {
		return false
	}
	delete(n.routes, peer)
	return true
}

func (n *Node) resolve(ctx context.Context, peer string) (uint16, error) {
	n.routesMu.RLock()
	port, exists := n.routes[peer]
	n.routesMu.RUnlock()
	if exists {
		return port, nil
	}
	if n.epmd == nil {
		return 0, errors.Wrapf(ErrNoRoute, "%q has no static route", peer)
	}
	port, err := n.epmd.LookupPort(ctx, peer)
	if err != nil {
		if errors.Is(err, epmd.ErrNotFound) {
			return 0, errors.Wrapf(ErrNoRoute, "%s", err)
		}
		return 0, err
	}
	return port, nil
}

// Connect establishes the connection to the peer (name@host). It returns
// right away if the peer is connected already. dist.ErrRaceLost means the
// peer was connecting to us at the same time and its connection is used.
// Resolving the port through the name service is bounded by ctx and by
// Options.HandshakeTimeout.
func (n *Node) Connect(ctx context.Context, peer string) (retErr error) {
	if !n.isRunning() {
		return errors.WithStack(ErrStopped)
	}
	if n.registry.IsActive(peer) {
		return nil
	}
	_, host, _ := strings.Cut(peer, "@")
	if host == "" {
		return errors.Errorf("%q is not a full node name", peer)
	}
	if peer == n.name {
		return errors.WithStack(ErrSelfConnect)
	}

	port, err := n.resolve(ctx, peer)
	if err != nil {
		return err
	}

	outbound, err := n.registry.TryBeginOutbound(ctx, peer)
	if err != nil {
		return err
	}
	defer outbound.Complete()

	log := n.log.With(zap.String("peer", peer))
	ctx, span := n.tracer.startHandshake(logger.WithLogger(outbound.Context(), log), n.name, directionOutbound, peer)
	started := time.Now()
	var result dist.Result
	defer func() {
		n.metrics.handshakeDone(directionOutbound, started, retErr)
		endHandshake(span, result, retErr)
	}()

	dialer := net.Dialer{
		KeepAlive: 15 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		if errors.Is(context.Cause(ctx), dist.ErrRaceLost) {
			return errors.WithStack(dist.ErrRaceLost)
		}
		return errors.Wrapf(err, "can't connect to %q", peer)
	}

	result, err = n.handshake.Start(ctx, conn)
	if err == nil && result.PeerName != peer {
		err = errors.Wrapf(dist.ErrRejected, "peer introduced itself as %q", result.PeerName)
	}
	if err == nil {
		err = n.establish(outbound, peer, conn)
	}
	if err != nil {
		conn.Close()
		if errors.Is(err, dist.ErrRaceLost) {
			log.Debug("Simultaneous connection won by the peer")
		} else {
			log.Warn("Can't connect", zap.Error(err))
		}
		return err
	}

	log.Info("Peer connected", zap.Stringer("flags", result.PeerFlags))
	return nil
}

// establish installs the outbound connection and starts serving it.
func (n *Node) establish(outbound *Outbound, peer string, conn net.Conn) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return errors.WithStack(ErrStopped)
	}
	if err := outbound.Establish(conn); err != nil {
		return err
	}
	n.metrics.setActivePeers(len(n.registry.ActiveNames()))
	n.group.Spawn("link", parallel.Continue, func(ctx context.Context) error {
		n.serveLink(ctx, peer, conn)
		return nil
	})
	return nil
}

func (n *Node) acceptLoop(ctx context.Context) error {
	for {
		if err := n.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			return errors.WithStack(err)
		}

		conn, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			if errors.Is(err, net.ErrClosed) {
				return errors.WithStack(err)
			}
			n.log.Warn("Accept failed", zap.Error(err))
			continue
		}

		n.group.Spawn("handshake", parallel.Continue, func(ctx context.Context) error {
			n.accept(ctx, conn)
			return nil
		})
	}
}

// accept runs the handshake of the incoming connection and serves the
// connection once it's authenticated.
func (n *Node) accept(ctx context.Context, conn net.Conn) {
	log := n.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	ctx, span := n.tracer.startHandshake(logger.WithLogger(ctx, log), n.name, directionInbound, "")
	started := time.Now()

	result, err := n.handshake.Accept(ctx, conn, n.registry)
	n.metrics.handshakeDone(directionInbound, started, err)
	endHandshake(span, result, err)

	if err != nil {
		conn.Close()
		switch {
		case errors.Is(err, dist.ErrRaceLost):
			log.Debug("Simultaneous connection won by us", zap.String("peer", result.PeerName))
		case ctx.Err() != nil:
		default:
			log.Warn("Handshake failed", zap.String("peer", result.PeerName), zap.Error(err))
		}
		return
	}

	n.registry.InstallActive(result.PeerName, conn)
	n.metrics.setActivePeers(len(n.registry.ActiveNames()))
	log.Info("Peer connected", zap.String("peer", result.PeerName),
		zap.Stringer("status", result.Status), zap.Stringer("flags", result.PeerFlags))

	n.serveLink(ctx, result.PeerName, conn)
}

// serveLink keeps the connection alive until it's closed by either side.
// Incoming packets are dropped.
func (n *Node) serveLink(ctx context.Context, peer string, conn net.Conn) {
	log := n.log.With(zap.String("peer", peer))

	if n.options.TickInterval > 0 {
		keepAlive := lib.StartKeepAlive(conn, tick, n.options.TickInterval)
		defer func() {
			if err := keepAlive.Stop(); err != nil && ctx.Err() == nil {
				log.Debug("Can't send tick", zap.Error(err))
			}
		}()
	}

	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			if n.registry.detach(peer, conn) {
				log.Info("Peer disconnected")
			}
			n.metrics.setActivePeers(len(n.registry.ActiveNames()))
			return errors.WithStack(ctx.Err())
		})
		spawn("reader", parallel.Exit, func(ctx context.Context) error {
			_, err := io.Copy(io.Discard, conn)
			if err != nil && ctx.Err() == nil {
				log.Debug("Connection read failed", zap.Error(err))
			}
			return nil
		})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Debug("Link failed", zap.Error(err))
	}
}

package epmd

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// Server is an embedded name service. It is enough for a cluster of nodes
// running on hosts without a system wide EPMD.
type Server struct {
	mu       sync.RWMutex
	nodes    map[string]NodeInfo
	creation uint16
}

// NewServer
func NewServer() *Server {
	return &Server{
		nodes: make(map[string]NodeInfo),
	}
}

func (s *Server) join(info NodeInfo) (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[info.Name]; ok {
		return 0, false
	}
	s.nodes[info.Name] = info
	s.creation = s.creation%3 + 1
	return s.creation, true
}

func (s *Server) leave(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, name)
}

func (s *Server) get(name string) *NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.nodes[name]; ok {
		return &info
	}
	return nil
}

func (s *Server) list() map[string]uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lst := make(map[string]uint16, len(s.nodes))
	for name, info := range s.nodes {
		lst[name] = info.Port
	}
	return lst
}

// Serve accepts the name service requests until ctx is done.
func (s *Server) Serve(ctx context.Context, ls net.Listener) error {
	var port uint16
	if addr, ok := ls.Addr().(*net.TCPAddr); ok {
		port = uint16(addr.Port)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("watchdog", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			ls.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("listener", parallel.Fail, func(ctx context.Context) error {
			log := logger.Get(ctx)
			log.Info("Name service started", zap.Uint16("port", port))
			for {
				c, err := ls.Accept()
				if err != nil {
					if ctx.Err() != nil {
						return errors.WithStack(ctx.Err())
					}
					return errors.WithStack(err)
				}
				spawn("conn", parallel.Continue, func(ctx context.Context) error {
					s.handle(ctx, c, port)
					return nil
				})
			}
		})
		return nil
	})
}

func (s *Server) handle(ctx context.Context, c net.Conn, port uint16) {
	log := logger.Get(ctx).With(zap.Stringer("remote", c.RemoteAddr()))
	defer c.Close()
	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	var head [2]byte
	if _, err := io.ReadFull(c, head[:]); err != nil {
		return
	}
	req := make([]byte, binary.BigEndian.Uint16(head[:]))
	if _, err := io.ReadFull(c, req); err != nil || len(req) == 0 {
		return
	}

	switch req[0] {
	case AliveReq:
		info, err := readAliveReq(req[1:])
		if err != nil {
			log.Warn("Malformed registration", zap.Error(err))
			return
		}
		creation, ok := s.join(info)
		if !ok {
			log.Warn("Name is taken", zap.String("name", info.Name))
			c.Write(composeAliveResp(1, 0))
			return
		}
		defer s.leave(info.Name)
		log.Debug("Node registered", zap.String("name", info.Name), zap.Uint16("port", info.Port))

		if _, err := c.Write(composeAliveResp(0, creation)); err != nil {
			return
		}
		if tcp, ok := c.(*net.TCPConn); ok {
			tcp.SetKeepAlive(true)
			tcp.SetKeepAlivePeriod(15 * time.Second)
			tcp.SetNoDelay(true)
		}

		// the node stays registered while the connection is alive
		io.Copy(io.Discard, c)
		log.Debug("Node unregistered", zap.String("name", info.Name))

	case PortPleaseReq:
		c.Write(composePortResp(s.get(string(req[1:]))))

	case NamesReq:
		c.Write(composeNamesResp(port, s.list()))

	default:
		log.Warn("Unknown request", zap.Uint8("tag", req[0]))
	}
}

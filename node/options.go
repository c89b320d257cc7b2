package node

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ergo-services/erldist/dist"
	"github.com/ergo-services/erldist/epmd"
)

// Options defines the node.
type Options struct {
	// Name is either a short name or the full one (name@host). The host part
	// of a short name is the IP address of this host.
	Name string `yaml:"name"`
	// Cookie is the shared cluster secret. If empty, it's read from CookiePath.
	Cookie string `yaml:"cookie"`
	// CookiePath defaults to ~/.erlang.cookie.
	CookiePath string `yaml:"cookie_path"`

	// ListenHost is the address the node accepts the connections on.
	ListenHost string `yaml:"listen_host"`
	// Port is the listening port, 0 picks a free one.
	Port uint16 `yaml:"port"`
	// Hidden nodes are not published to the connected peers.
	Hidden bool `yaml:"hidden"`

	EPMDHost string `yaml:"epmd_host"`
	EPMDPort uint16 `yaml:"epmd_port"`
	// DisableEPMD makes the node skip the registration. Peers are reachable
	// through the static routes only then.
	DisableEPMD bool `yaml:"disable_epmd"`
	// StaticRoutes maps full node names to their listening ports.
	StaticRoutes map[string]uint16 `yaml:"static_routes"`

	HandshakeVersion uint16 `yaml:"handshake_version"`
	// HandshakeTimeout limits every read and write of the handshake,
	// negative value disables the limit.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReplaceAlive is what the node answers when the peer reports an alive
	// connection to us already.
	ReplaceAlive bool `yaml:"replace_alive"`
	// Flags overrides the advertised capabilities.
	Flags dist.Flags `yaml:"flags"`

	// AcceptRate limits incoming connections per second, 0 means unlimited.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`

	// TickInterval is how often the keepalive ticks are sent to the peers.
	TickInterval time.Duration `yaml:"tick_interval"`

	Metrics        *Metrics             `yaml:"-"`
	TracerProvider trace.TracerProvider `yaml:"-"`
}

// DefaultOptions returns the options every node starts from.
func DefaultOptions() Options {
	return Options{
		ListenHost:       "0.0.0.0",
		EPMDHost:         "localhost",
		EPMDPort:         epmd.DefaultPort,
		HandshakeVersion: dist.DefaultHandshakeVersion,
		HandshakeTimeout: dist.DefaultHandshakeTimeout,
		ReplaceAlive:     true,
		AcceptBurst:      10,
		TickInterval:     15 * time.Second,
	}
}

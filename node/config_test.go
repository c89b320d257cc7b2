package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	writeFileAt(t, path, content)
	return path
}

func writeFileAt(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfig(t *testing.T) {
	requireT := require.New(t)

	path := writeFile(t, "node.yaml", `
name: demo@127.0.0.1
cookie_path: /tmp/cookie
port: 25001
hidden: true
handshake_timeout: 2s
accept_rate: 50
static_routes:
  peer@127.0.0.1: 25002
`)
	options, err := LoadConfig(path)
	requireT.NoError(err)

	requireT.Equal("demo@127.0.0.1", options.Name)
	requireT.Equal("/tmp/cookie", options.CookiePath)
	requireT.Equal(uint16(25001), options.Port)
	requireT.True(options.Hidden)
	requireT.Equal(2*time.Second, options.HandshakeTimeout)
	requireT.Equal(float64(50), options.AcceptRate)
	requireT.Equal(map[string]uint16{"peer@127.0.0.1": 25002}, options.StaticRoutes)

	// defaults stay
	requireT.True(options.ReplaceAlive)
	requireT.Equal("localhost", options.EPMDHost)
	requireT.Equal(uint16(4369), options.EPMDPort)
	requireT.Equal(15*time.Second, options.TickInterval)
}

func TestLoadConfigInvalid(t *testing.T) {
	requireT := require.New(t)

	_, err := LoadConfig(writeFile(t, "node.yaml", `
name: "@host"
accept_rate: -1
static_routes:
  peer: 0
`))
	requireT.Error(err)
	requireT.Contains(err.Error(), "empty short part")
	requireT.Contains(err.Error(), "accept_rate")
	requireT.Contains(err.Error(), "must be a full node name")
	requireT.Contains(err.Error(), "has no port")

	_, err = LoadConfig(writeFile(t, "node.yaml", "name: [broken"))
	requireT.Error(err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	requireT.True(errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	requireT := require.New(t)

	options := DefaultOptions()
	requireT.Error(options.Validate())

	options.Name = "demo"
	requireT.NoError(options.Validate())

	options.Name = "demo@host@more"
	requireT.Error(options.Validate())

	options.Name = "demo@"
	requireT.Error(options.Validate())

	options.Name = "demo@host"
	options.EPMDHost = ""
	requireT.Error(options.Validate())
	options.DisableEPMD = true
	requireT.NoError(options.Validate())
}

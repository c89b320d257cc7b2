package node

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoCookie is returned when there is no cookie to start the node with.
var ErrNoCookie = errors.New("cookie is not found")

// DefaultCookieFile is looked up in the home directory.
const DefaultCookieFile = ".erlang.cookie"

// ReadCookie reads the cookie file, ~/.erlang.cookie if path is empty.
// Trailing whitespace is dropped.
func ReadCookie(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(ErrNoCookie, "no home directory: %s", err)
		}
		path = filepath.Join(home, DefaultCookieFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(ErrNoCookie, "%s", err)
	}
	cookie := strings.TrimRight(string(data), " \t\r\n")
	if cookie == "" {
		return "", errors.Wrapf(ErrNoCookie, "%s is empty", path)
	}
	return cookie, nil
}

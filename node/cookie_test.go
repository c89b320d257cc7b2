package node

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/qa"
)

func TestReadCookie(t *testing.T) {
	requireT := require.New(t)

	cookie, err := ReadCookie(writeFile(t, "cookie", "SECRETCOOKIE \n"))
	requireT.NoError(err)
	requireT.Equal("SECRETCOOKIE", cookie)

	_, err = ReadCookie(writeFile(t, "cookie", " \n"))
	requireT.True(errors.Is(err, ErrNoCookie))

	_, err = ReadCookie(filepath.Join(t.TempDir(), "missing"))
	requireT.True(errors.Is(err, ErrNoCookie))
}

func TestReadCookieFromHome(t *testing.T) {
	requireT := require.New(t)

	home := t.TempDir()
	t.Setenv("HOME", home)

	_, err := ReadCookie("")
	requireT.True(errors.Is(err, ErrNoCookie))

	writeFileAt(t, filepath.Join(home, DefaultCookieFile), "HOMECOOKIE\n")
	cookie, err := ReadCookie("")
	requireT.NoError(err)
	requireT.Equal("HOMECOOKIE", cookie)
}

func TestStartWithoutCookie(t *testing.T) {
	ctx := qa.NewContext(t)

	options := DefaultOptions()
	options.Name = "demo@127.0.0.1"
	options.CookiePath = filepath.Join(t.TempDir(), "missing")
	options.DisableEPMD = true

	n, err := Start(ctx, options)
	require.True(t, errors.Is(err, ErrNoCookie))
	require.Nil(t, n)
}

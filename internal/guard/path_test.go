package guard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathEmptyWorkspace(t *testing.T) {
	_, err := ResolvePath("foo.txt", "")
	require.ErrorIs(t, err, ErrNoWorkspace)
}

func TestResolvePathRejectsEscape(t *testing.T) {
	ws := t.TempDir()
	_, err := ResolvePath("../../etc/passwd", ws)
	require.Error(t, err)
}

func TestResolvePathAllowsInside(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("x"), 0o644))
	resolved, err := ResolvePath("a.txt", ws)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(ws, "a.txt"), resolved)
}

func TestResolvePathRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(ws, "link")
	require.NoError(t, os.Symlink(outside, link))

	_, err := ResolvePath("link/secret.txt", ws)
	require.Error(t, err)
}

func TestResolvePathCaseAndUnicodeFold(t *testing.T) {
	ws := t.TempDir()
	resolved, err := ResolvePath("sub/../file.txt", ws)
	require.NoError(t, err)
	require.True(t, sameOrWithin(resolved, ws))
	require.True(t, sameOrWithin(strings.ToUpper(resolved), ws))
	require.True(t, sameOrWithin(filepath.Join(ws, "café", "x.txt"), filepath.Join(ws, "café")))
}

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"faultfs/internal/vfs"
)

const (
	neverFail  = 0.99
	alwaysFail = 0.0
)

// constSource is a vfs.RandSource that always draws the same value.
type constSource float64

func (c constSource) Float64() float64 { return float64(c) }

// testTree builds a small mirrored tree:
//
//	a      "hello" (0644)
//	sub/   c = "nested" (0600)
//	link → a
func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("hello"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c"), []byte("nested"), 0600))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))

	return root
}

func newTestFaultFS(t *testing.T, draw float64) *vfs.FaultFS {
	t.Helper()
	mount, err := vfs.NewMountContext(testTree(t))
	require.NoError(t, err)

	fs := vfs.New(mount, vfs.NewFaultInjector(constSource(draw)))
	t.Cleanup(func() { fs.Close() })
	return fs
}

package vfs

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	neverFail  = 0.99
	alwaysFail = 0.0
)

// testTree builds a small mirrored tree:
//
//	a      "hello"
//	b      empty
//	sub/   c = "nested"
//	link → a
func testTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b"), nil, 0600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c"), []byte("nested"), 0644))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))

	return root
}

// testFaultFS returns a FaultFS over a fresh test tree whose fault draws
// always return draw.
func testFaultFS(t *testing.T, draw float64, opts ...Option) (*FaultFS, string) {
	t.Helper()
	root := testTree(t)

	mount, err := NewMountContext(root)
	require.NoError(t, err)

	fs := New(mount, NewFaultInjector(newFixedSource(draw)), opts...)
	t.Cleanup(func() { fs.Close() })
	return fs, root
}

func openRead(t *testing.T, fs *FaultFS, path string) HandleID {
	t.Helper()
	h, err := fs.Open(path, unix.O_RDONLY)
	require.NoError(t, err)
	return h
}

func TestGetAttr(t *testing.T) {
	t.Parallel()

	t.Run("matches lstat", func(t *testing.T) {
		t.Parallel()
		fs, root := testFaultFS(t, neverFail)

		for _, name := range []string{"/", "/a", "/b", "/sub", "/sub/c", "/link"} {
			md, err := fs.GetAttr(name)
			require.NoError(t, err, name)

			var st unix.Stat_t
			require.NoError(t, unix.Lstat(root+name, &st))
			assert.Equal(t, metadataFromStat(&st), md, name)
		}
	})

	t.Run("file types", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		md, err := fs.GetAttr("/a")
		require.NoError(t, err)
		assert.Equal(t, FileTypeRegularFile, md.Type())
		assert.Equal(t, int64(5), md.Size)
		assert.Equal(t, uint32(0644), md.Perm())

		md, err = fs.GetAttr("/sub")
		require.NoError(t, err)
		assert.True(t, md.IsDir())
		assert.True(t, md.FileMode().IsDir())

		// symlinks are not followed
		md, err = fs.GetAttr("/link")
		require.NoError(t, err)
		assert.Equal(t, FileTypeSymlink, md.Type())
		assert.Equal(t, os.ModeSymlink, md.FileMode().Type())
	})

	t.Run("synthetic data directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		want := &FileMetadata{Mode: unix.S_IFDIR | 0755, Nlink: 2}
		for _, p := range []string{"data", "/data"} {
			md, err := fs.GetAttr(p)
			require.NoError(t, err, p)
			if diff := cmp.Diff(want, md); diff != "" {
				t.Errorf("GetAttr(%q) mismatch (-want +got):\n%s", p, diff)
			}
		}
	})

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.GetAttr("/nope")
		assert.Equal(t, ENOENT, err)
		assert.Equal(t, -int(unix.ENOENT), Code(err))
	})

	t.Run("path through a file", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.GetAttr("/a/x")
		assert.Equal(t, ENOTDIR, err)
	})
}

func TestListEntries(t *testing.T) {
	t.Parallel()

	list := func(t *testing.T, fs *FaultFS, path string) ([]string, error) {
		t.Helper()
		var names []string
		err := fs.ListEntries(path, func(name string) {
			names = append(names, name)
		})
		sort.Strings(names)
		return names, err
	}

	t.Run("root", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		names, err := list(t, fs, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "link", "sub"}, names)
	})

	t.Run("subdirectory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		names, err := list(t, fs, "/sub")
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, names)
	})

	t.Run("empty directory", func(t *testing.T) {
		t.Parallel()
		fs, root := testFaultFS(t, neverFail)
		require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0755))

		names, err := list(t, fs, "/empty")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("many entries span batches", func(t *testing.T) {
		t.Parallel()
		fs, root := testFaultFS(t, neverFail)
		dir := filepath.Join(root, "many")
		require.NoError(t, os.Mkdir(dir, 0755))

		const n = readDirBatch*2 + 7
		for i := 0; i < n; i++ {
			f, err := os.Create(filepath.Join(dir, "f"+strconv.Itoa(i)))
			require.NoError(t, err)
			f.Close()
		}

		names, err := list(t, fs, "/many")
		require.NoError(t, err)
		assert.Len(t, names, n)
	})

	t.Run("not a directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := list(t, fs, "/a")
		assert.Equal(t, ENOTDIR, err)
	})

	t.Run("missing directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := list(t, fs, "/nope")
		assert.Equal(t, ENOENT, err)
	})

	t.Run("does not leak descriptors", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		for i := 0; i < 2000; i++ {
			_, err := list(t, fs, "/sub")
			require.NoError(t, err)
		}
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("returns distinct handles", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		h1 := openRead(t, fs, "/a")
		h2 := openRead(t, fs, "/a")
		assert.NotEqual(t, h1, h2)
		assert.Equal(t, 2, fs.OpenHandles())

		p, ok := fs.HandlePath(h1)
		assert.True(t, ok)
		assert.Equal(t, "/a", p)
	})

	t.Run("synthetic directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Open("/data", unix.O_RDONLY)
		assert.Equal(t, EISDIR, err)
		_, err = fs.Open("data", unix.O_RDONLY)
		assert.Equal(t, EISDIR, err)
		assert.Zero(t, fs.OpenHandles())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Open("/nope", unix.O_RDONLY)
		assert.Equal(t, ENOENT, err)
		assert.Zero(t, fs.OpenHandles())
	})

	t.Run("write to a directory", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Open("/sub", unix.O_WRONLY)
		assert.Equal(t, EISDIR, err)
	})
}

func TestRead(t *testing.T) {
	t.Parallel()

	t.Run("reads whole file", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/a")

		buf := make([]byte, 64)
		n, err := fs.Read(h, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	})

	t.Run("short and offset reads", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/a")

		buf := make([]byte, 3)
		n, err := fs.Read(h, buf, 1)
		require.NoError(t, err)
		assert.Equal(t, "ell", string(buf[:n]))

		n, err = fs.Read(h, buf, 4)
		require.NoError(t, err)
		assert.Equal(t, "o", string(buf[:n]))
	})

	t.Run("at end of file", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/a")

		buf := make([]byte, 8)
		n, err := fs.Read(h, buf, 5)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = fs.Read(h, buf, 1000)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("injected fault leaves buffer untouched", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, alwaysFail)
		h := openRead(t, fs, "/a")

		buf := bytes.Repeat([]byte{0xAA}, 16)
		n, err := fs.Read(h, buf, 0)
		assert.Zero(t, n)
		assert.ErrorIs(t, err, ErrInjected)
		assert.ErrorIs(t, err, EIO)
		assert.Equal(t, Code(EIO), Code(err))
		assert.Equal(t, bytes.Repeat([]byte{0xAA}, 16), buf)

		stats := fs.FaultStats()
		assert.Equal(t, uint64(1), stats.Draws)
		assert.Equal(t, uint64(1), stats.Injected)
	})

	t.Run("read from a directory handle", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/sub")

		_, err := fs.Read(h, make([]byte, 8), 0)
		assert.Equal(t, EISDIR, err)
	})

	t.Run("failure rate is about one half", func(t *testing.T) {
		t.Parallel()
		root := testTree(t)
		mount, err := NewMountContext(root)
		require.NoError(t, err)
		fs := New(mount, NewTimeSeededFaultInjector())
		defer fs.Close()

		h := openRead(t, fs, "/a")
		const reads = 10000
		failed := 0
		buf := make([]byte, 16)
		for i := 0; i < reads; i++ {
			n, err := fs.Read(h, buf, 0)
			if err != nil {
				require.ErrorIs(t, err, ErrInjected)
				require.Zero(t, n)
				failed++
				continue
			}
			require.Equal(t, "hello", string(buf[:n]))
		}

		assert.InDelta(t, 0.5, float64(failed)/reads, 0.03)
		assert.Equal(t, uint64(failed), fs.FaultStats().Injected)
	})

	t.Run("concurrent readers", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/sub/c")

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := make([]byte, 6)
				for j := 0; j < 100; j++ {
					n, err := fs.Read(h, buf, 0)
					assert.NoError(t, err)
					assert.Equal(t, "nested", string(buf[:n]))
				}
			}()
		}
		wg.Wait()
	})
}

func TestRelease(t *testing.T) {
	t.Parallel()

	t.Run("release then read is EBADF", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, alwaysFail)
		h := openRead(t, fs, "/a")

		require.NoError(t, fs.Release(h))
		assert.Zero(t, fs.OpenHandles())

		_, err := fs.Read(h, make([]byte, 8), 0)
		assert.Equal(t, EBADF, err)
		// Invalid handles are rejected before any fault draw
		assert.Zero(t, fs.FaultStats().Draws)
	})

	t.Run("double release", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/a")

		require.NoError(t, fs.Release(h))
		assert.Equal(t, EBADF, fs.Release(h))
	})

	t.Run("unknown handle", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		assert.Equal(t, EBADF, fs.Release(12345))
		_, err := fs.Read(12345, make([]byte, 1), 0)
		assert.Equal(t, EBADF, err)
	})

	t.Run("other handles unaffected", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h1 := openRead(t, fs, "/a")
		h2 := openRead(t, fs, "/a")

		require.NoError(t, fs.Release(h1))

		buf := make([]byte, 5)
		n, err := fs.Read(h2, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:n]))
	})

	t.Run("close releases everything", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)
		h := openRead(t, fs, "/a")
		openRead(t, fs, "/b")

		assert.Equal(t, 2, fs.Close())
		assert.Zero(t, fs.OpenHandles())

		_, err := fs.Read(h, make([]byte, 1), 0)
		assert.Equal(t, EBADF, err)
	})
}

// Not parallel: swaps the global logrus level and hooks.
func TestClose_LogsFailedClose(t *testing.T) {
	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)
	hooks := log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	defer log.StandardLogger().ReplaceHooks(hooks)
	hook := logtest.NewGlobal()

	fs, root := testFaultFS(t, neverFail)
	assert.Equal(t, root, fs.Mount().Root())
	fs.handles.Allocate(-1, "/a", 0)

	assert.Equal(t, 1, fs.Close())
	assert.Zero(t, fs.OpenHandles())

	var found bool
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "[VFS] Close: close fd=-1") {
			found = true
		}
	}
	assert.True(t, found, "expected failed close to be logged")
}

func TestReadlink(t *testing.T) {
	t.Parallel()

	t.Run("returns target", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		target, err := fs.Readlink("/link", DefaultLinkBufSize)
		require.NoError(t, err)
		assert.Equal(t, "a", target)
	})

	t.Run("truncates to size minus one", func(t *testing.T) {
		t.Parallel()
		fs, root := testFaultFS(t, neverFail)
		require.NoError(t, os.Symlink("0123456789", filepath.Join(root, "long")))

		target, err := fs.Readlink("/long", 5)
		require.NoError(t, err)
		assert.Equal(t, "0123", target)
	})

	t.Run("size too small", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Readlink("/link", 1)
		assert.Equal(t, EINVAL, err)
		_, err = fs.Readlink("/link", 0)
		assert.Equal(t, EINVAL, err)
	})

	t.Run("not a symlink", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Readlink("/a", DefaultLinkBufSize)
		assert.Equal(t, EINVAL, err)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		fs, _ := testFaultFS(t, neverFail)

		_, err := fs.Readlink("/nope", DefaultLinkBufSize)
		assert.Equal(t, ENOENT, err)
	})
}

func TestFaultScope(t *testing.T) {
	t.Parallel()

	scope := func(p string) bool { return strings.HasPrefix(p, "/sub/") }
	fs, _ := testFaultFS(t, alwaysFail, WithFaultScope(scope))

	outside := openRead(t, fs, "/a")
	buf := make([]byte, 5)
	n, err := fs.Read(outside, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Zero(t, fs.FaultStats().Draws, "out-of-scope reads do not draw")

	inside := openRead(t, fs, "/sub/c")
	_, err = fs.Read(inside, buf, 0)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, uint64(1), fs.FaultStats().Draws)
}

func TestTraversalPassesThrough(t *testing.T) {
	t.Parallel()

	// Paths are concatenated onto the root verbatim, so ".." escapes it.
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.Mkdir(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "outside"), []byte("escaped"), 0644))

	mount, err := NewMountContext(root)
	require.NoError(t, err)
	fs := New(mount, NewFaultInjector(newFixedSource(neverFail)))
	defer fs.Close()

	md, err := fs.GetAttr("/../outside")
	require.NoError(t, err)
	assert.Equal(t, int64(len("escaped")), md.Size)
}

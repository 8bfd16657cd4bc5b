//go:build !smb

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"faultfs/internal/common"
	"faultfs/internal/vfs"
)

func init() {
	netFSTypeName = "nfs"
}

// syntheticFileID is reported as the NFS file id of entries without an inode
// (the synthetic data directory), so clients never see fileid 0.
const syntheticFileID = 1<<63 - 1

// NFSServer wraps the go-nfs server
type NFSServer struct {
	mu       sync.Mutex
	listener net.Listener
	closed   bool
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc
}

// NewNFSServer creates a new NFS server exporting fs
func NewNFSServer(fs *vfs.FaultFS) *NFSServer {
	// Set go-nfs log level to match daemon's log level
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	billyFS := NewBillyAdapter(fs)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, 65536)

	ctx, cancel := context.WithCancel(context.Background())
	server := &nfs.Server{
		Handler: cacheHelper,
		Context: ctx,
	}

	return &NFSServer{
		server:  server,
		handler: cacheHelper,
		cancel:  cancel,
	}
}

// Serve starts the NFS server and blocks until Shutdown.
func (s *NFSServer) Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	err = s.server.Serve(listener)
	if s.isClosed() || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown stops the NFS server gracefully
func (s *NFSServer) Shutdown() {
	s.mu.Lock()
	listener := s.listener
	s.closed = true
	s.mu.Unlock()

	// Close the listener first to stop accepting new connections
	if listener != nil {
		listener.Close()

		// Settle time for in-flight NFS operations. The target is unmounted
		// before this is called, so the kernel client is already gone.
		time.Sleep(100 * time.Millisecond)
	}

	// Cancel context to signal handlers to stop
	s.cancel()
}

func (s *NFSServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// BillyAdapter exposes a FaultFS as a read-only billy filesystem
type BillyAdapter struct {
	fs *vfs.FaultFS
}

// NewBillyAdapter creates a Billy adapter for FaultFS
func NewBillyAdapter(fs *vfs.FaultFS) *BillyAdapter {
	return &BillyAdapter{fs: fs}
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return nil, vfs.EROFS
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&writeFlags != 0 {
		return nil, vfs.EROFS
	}

	vpath := common.VirtualPath(filename)
	handle, err := b.fs.Open(vpath, flag)
	if err != nil {
		return nil, err
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
		path:    vpath,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	// Symlinks are never followed; the kernel client resolves them itself.
	return b.Lstat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return vfs.EROFS
}

func (b *BillyAdapter) Remove(filename string) error {
	return vfs.EROFS
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, vfs.EROFS
}

// ReadDir lists dirname and stats each entry. Entries that disappear between
// the listing and the stat are skipped.
func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	dir := common.VirtualPath(dirname)

	var names []string
	if err := b.fs.ListEntries(dir, func(name string) {
		names = append(names, name)
	}); err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		md, err := b.fs.GetAttr(common.JoinVirtual(dir, name))
		if err != nil {
			log.Debugf("[BillyAdapter.ReadDir] skipping %q in %q: %v", name, dir, err)
			continue
		}
		result = append(result, &BillyFileInfo{name: name, md: md})
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return vfs.EROFS
}

func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	md, err := b.fs.GetAttr(common.VirtualPath(filename))
	if err != nil {
		return nil, err
	}
	return &BillyFileInfo{
		name: common.BaseName(filename),
		md:   md,
	}, nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return vfs.EROFS
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return b.fs.Readlink(common.VirtualPath(link), vfs.DefaultLinkBufSize)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error          { return vfs.EROFS }
func (b *BillyAdapter) Lchown(name string, uid, gid int) error            { return vfs.EROFS }
func (b *BillyAdapter) Chown(name string, uid, gid int) error             { return vfs.EROFS }
func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error { return vfs.EROFS }

// Capabilities reports a read-only filesystem; go-nfs answers mutating
// requests with NFS3ERR_ROFS without calling into the adapter.
func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// BillyFile is an open FaultFS handle seen through billy.File
type BillyFile struct {
	adapter *BillyAdapter
	handle  vfs.HandleID
	name    string
	path    string
	offset  int64
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	return 0, vfs.EROFS
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.adapter.fs.Read(f.handle, p, f.offset)
	if err != nil {
		return 0, err
	}
	f.offset += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAt reads at off. A short read means end of file and returns io.EOF.
func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	n, err = f.adapter.fs.Read(f.handle, p, off)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		md, err := f.adapter.fs.GetAttr(f.path)
		if err != nil {
			return 0, err
		}
		f.offset = md.Size + offset
	default:
		return 0, vfs.EINVAL
	}
	return f.offset, nil
}

func (f *BillyFile) Close() error {
	return f.adapter.fs.Release(f.handle)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return vfs.EROFS
}

// BillyFileInfo adapts FileMetadata to os.FileInfo
type BillyFileInfo struct {
	name string
	md   *vfs.FileMetadata
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.md.Size
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	return fi.md.FileMode()
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.md.Mtime
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.md.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	fileid := fi.md.Ino
	if fileid == 0 {
		fileid = syntheticFileID
	}
	return &nfsfile.FileInfo{
		Nlink:  uint32(fi.md.Nlink),
		UID:    fi.md.UID,
		GID:    fi.md.GID,
		Fileid: fileid,
	}
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)

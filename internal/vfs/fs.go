package vfs

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// DefaultLinkBufSize bounds Readlink when the host does not supply a size.
const DefaultLinkBufSize = 4096

// readDirBatch is how many names ListEntries pulls per getdents round.
const readDirBatch = 128

// faultLogEvery throttles the per-fault Info line; counters keep the totals.
const faultLogEvery = 100 * time.Millisecond

// FaultFS proxies read-oriented operations to the tree under a MountContext
// and fails reads at random.
type FaultFS struct {
	mount    *MountContext
	handles  *HandleManager
	faults   *FaultInjector
	scope    FaultScope
	faultLog *rate.Limiter
}

// Option configures a FaultFS.
type Option func(*FaultFS)

// WithFaultScope restricts fault injection to paths accepted by scope.
func WithFaultScope(scope FaultScope) Option {
	return func(fs *FaultFS) {
		fs.scope = scope
	}
}

// New creates a FaultFS over mount drawing faults from faults.
func New(mount *MountContext, faults *FaultInjector, opts ...Option) *FaultFS {
	fs := &FaultFS{
		mount:    mount,
		handles:  NewHandleManager(),
		faults:   faults,
		faultLog: rate.NewLimiter(rate.Every(faultLogEvery), 1),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Mount returns the mount context.
func (fs *FaultFS) Mount() *MountContext {
	return fs.mount
}

// FaultStats returns the injector's counters.
func (fs *FaultFS) FaultStats() FaultStats {
	return fs.faults.Stats()
}

// OpenHandles returns the number of handles not yet released.
func (fs *FaultFS) OpenHandles() int {
	return fs.handles.Count()
}

// HandlePath returns the virtual path behind an open handle.
func (fs *FaultFS) HandlePath(h HandleID) (string, bool) {
	return fs.handles.Path(h)
}

// recoverFaultFSPanic turns a panic inside a handler into EIO so one bad
// request cannot take down the server.
func recoverFaultFSPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[FaultFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// GetAttr returns metadata for a virtual path without following symlinks.
func (fs *FaultFS) GetAttr(path string) (attrs *FileMetadata, err error) {
	defer recoverFaultFSPanic("GetAttr", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] GetAttr %q → %v (%v)", path, err, time.Since(start)) }()
	}

	if IsSyntheticDir(path) {
		return syntheticDirMetadata(), nil
	}

	var st unix.Stat_t
	if err := unix.Lstat(fs.mount.Resolve(path), &st); err != nil {
		log.Debugf("[VFS] GetAttr: lstat %q failed: %v", path, err)
		return nil, ToErrno(err)
	}
	return metadataFromStat(&st), nil
}

// ListEntries calls emit once per entry of the directory at path, in the
// order the underlying filesystem returns them. "." and ".." are skipped.
func (fs *FaultFS) ListEntries(path string, emit func(name string)) (err error) {
	defer recoverFaultFSPanic("ListEntries", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] ListEntries %q → %v (%v)", path, err, time.Since(start)) }()
	}

	fullPath := fs.mount.Resolve(path)
	fd, err := unix.Open(fullPath, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Debugf("[VFS] ListEntries: open %q failed: %v", path, err)
		return ToErrno(err)
	}
	dir := os.NewFile(uintptr(fd), fullPath)
	defer dir.Close()

	for {
		names, err := dir.Readdirnames(readDirBatch)
		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}
			emit(name)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Debugf("[VFS] ListEntries: readdir %q failed: %v", path, err)
			return ToErrno(err)
		}
	}
}

// Open opens the file at path with the caller's flags and returns a handle
// that owns the new descriptor.
func (fs *FaultFS) Open(path string, flags int) (handle HandleID, err error) {
	defer recoverFaultFSPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open %q flags=%d → %v (%v)", path, flags, err, time.Since(start)) }()
	}

	if IsSyntheticDir(path) {
		return 0, EISDIR
	}

	fd, err := unix.Open(fs.mount.Resolve(path), flags|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Debugf("[VFS] Open: %q failed: %v", path, err)
		return 0, ToErrno(err)
	}

	handle = fs.handles.Allocate(fd, path, flags)
	log.Debugf("[VFS] Open: path=%q flags=%d → handle=%d", path, flags, handle)
	return handle, nil
}

// Release closes the descriptor behind handle. Close errors are not
// reported; an unknown or already released handle yields EBADF.
func (fs *FaultFS) Release(handle HandleID) (err error) {
	defer recoverFaultFSPanic("Release", &err)

	fd, ok := fs.handles.Release(handle)
	if !ok {
		log.Debugf("[VFS] Release: EBADF handle=%d", handle)
		return EBADF
	}
	if err := unix.Close(fd); err != nil {
		log.Debugf("[VFS] Release: close handle=%d: %v", handle, err)
	}
	return nil
}

// Read reads up to len(buf) bytes at offset. Before any I/O the fault
// injector is consulted; an injected fault returns ErrInjected with n == 0.
func (fs *FaultFS) Read(handle HandleID, buf []byte, offset int64) (n int, err error) {
	defer recoverFaultFSPanic("Read", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] Read handle=%d len=%d off=%d → %d, %v (%v)", handle, len(buf), offset, n, err, time.Since(start))
		}()
	}

	err = fs.handles.Use(handle, func(fd int, path string) error {
		if fs.shouldFail(path) {
			if fs.faultLog.Allow() {
				log.Infof("[VFS] Read: injected fault path=%q handle=%d off=%d", path, handle, offset)
			}
			return ErrInjected
		}

		var rerr error
		n, rerr = unix.Pread(fd, buf, offset)
		if rerr != nil {
			n = 0
			return ToErrno(rerr)
		}
		return nil
	})
	return n, err
}

func (fs *FaultFS) shouldFail(path string) bool {
	if fs.scope != nil && !fs.scope(path) {
		return false
	}
	return fs.faults.Decide()
}

// Readlink returns the target of the symlink at path, truncated to size-1
// bytes. A non-symlink yields EINVAL.
func (fs *FaultFS) Readlink(path string, size int) (target string, err error) {
	defer recoverFaultFSPanic("Readlink", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Readlink %q → %q, %v (%v)", path, target, err, time.Since(start)) }()
	}

	if size < 2 {
		return "", EINVAL
	}

	buf := make([]byte, size-1)
	n, err := unix.Readlink(fs.mount.Resolve(path), buf)
	if err != nil {
		return "", ToErrno(err)
	}
	return string(buf[:n]), nil
}

// Close releases every handle still open. Used on shutdown.
func (fs *FaultFS) Close() int {
	fds := fs.handles.Clear()
	for _, fd := range fds {
		if err := unix.Close(fd); err != nil {
			log.Debugf("[VFS] Close: close fd=%d: %v", fd, err)
		}
	}
	if len(fds) > 0 {
		log.Debugf("[VFS] Close: released %d outstanding handles", len(fds))
	}
	return len(fds)
}

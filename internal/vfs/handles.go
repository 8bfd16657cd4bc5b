package vfs

import "sync"

// HandleID is the type for VFS handles
type HandleID uint64

type handleState int

const (
	handleOpen handleState = iota
	handleClosed
)

// openHandle represents an open file. It owns exactly one descriptor.
type openHandle struct {
	mu    sync.RWMutex // held shared for I/O, exclusively to close
	fd    int
	path  string // virtual path as passed to Open
	flags int
	state handleState
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate registers fd under a new handle. IDs are never reused.
func (hm *HandleManager) Allocate(fd int, path string, flags int) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		fd:    fd,
		path:  path,
		flags: flags,
		state: handleOpen,
	}

	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Path returns the virtual path a handle was opened with.
func (hm *HandleManager) Path(h HandleID) (string, bool) {
	info, ok := hm.Get(h)
	if !ok {
		return "", false
	}
	return info.path, true
}

// Use runs fn with the handle's descriptor while holding the handle open.
// It returns EBADF for unknown or released handles.
func (hm *HandleManager) Use(h HandleID, fn func(fd int, path string) error) error {
	info, ok := hm.Get(h)
	if !ok {
		return EBADF
	}

	info.mu.RLock()
	defer info.mu.RUnlock()
	if info.state != handleOpen {
		return EBADF
	}
	return fn(info.fd, info.path)
}

// Release moves a handle from Open to Closed and returns its descriptor for
// the caller to close. It waits for in-flight Use calls on the handle.
// Releasing an unknown or already closed handle returns false.
func (hm *HandleManager) Release(h HandleID) (int, bool) {
	hm.mu.Lock()
	info, ok := hm.handles[h]
	delete(hm.handles, h)
	hm.mu.Unlock()
	if !ok {
		return -1, false
	}

	return info.close()
}

func (oh *openHandle) close() (int, bool) {
	oh.mu.Lock()
	defer oh.mu.Unlock()
	if oh.state != handleOpen {
		return -1, false
	}
	oh.state = handleClosed
	return oh.fd, true
}

// Count returns the number of open handles.
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear closes out all handles, returning their descriptors.
func (hm *HandleManager) Clear() []int {
	hm.mu.Lock()
	handles := hm.handles
	hm.handles = make(map[HandleID]*openHandle)
	// Don't reset nextHandle to avoid handle ID reuse issues
	hm.mu.Unlock()

	fds := make([]int, 0, len(handles))
	for _, info := range handles {
		if fd, ok := info.close(); ok {
			fds = append(fds, fd)
		}
	}
	return fds
}

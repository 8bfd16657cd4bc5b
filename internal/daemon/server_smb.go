//go:build smb

package daemon

import (
	"io"
	"os"
	"sync"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"

	"faultfs/internal/common"
	"faultfs/internal/vfs"
)

func init() {
	netFSTypeName = "smb"
}

// SMBServer wraps the go-smb2 server
type SMBServer struct {
	server *smb2.Server
}

// NewSMBServer creates a new SMB server exporting fs under shareName
func NewSMBServer(fs *vfs.FaultFS, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]smbvfs.VFSFileSystem{
		shareName: NewSMBAdapter(fs),
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "FAULTFS",
		DnsName:    "faultfs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Serve starts the SMB server
func (s *SMBServer) Serve(addr string) error {
	return s.server.Serve(addr)
}

// Shutdown stops the SMB server
func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// smbHandle is an SMB-visible handle. Files own a FaultFS handle; directories
// only remember their path and enumeration state.
type smbHandle struct {
	path     string
	isDir    bool
	file     vfs.HandleID
	enumDone bool
}

// SMBAdapter exposes a FaultFS as a read-only go-smb2 share
type SMBAdapter struct {
	fs *vfs.FaultFS

	mu      sync.Mutex
	handles map[smbvfs.VfsHandle]*smbHandle
	next    smbvfs.VfsHandle
}

// NewSMBAdapter creates an SMB adapter for FaultFS
func NewSMBAdapter(fs *vfs.FaultFS) *SMBAdapter {
	return &SMBAdapter{
		fs:      fs,
		handles: make(map[smbvfs.VfsHandle]*smbHandle),
		next:    1,
	}
}

const smbWriteFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

func (a *SMBAdapter) allocate(h *smbHandle) smbvfs.VfsHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	a.handles[id] = h
	return id
}

func (a *SMBAdapter) get(handle smbvfs.VfsHandle) (*smbHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[handle]
	return h, ok
}

// pathOf resolves a handle to its virtual path. Handle 0 is the share root.
func (a *SMBAdapter) pathOf(handle smbvfs.VfsHandle) (string, error) {
	if handle == 0 {
		return "/", nil
	}
	h, ok := a.get(handle)
	if !ok {
		return "", vfs.EBADF
	}
	return h.path, nil
}

// Open opens a file or directory for reading.
func (a *SMBAdapter) Open(path string, flags int, mode int) (smbvfs.VfsHandle, error) {
	log.Debugf("[SMB] Open: path=%q flags=%d", path, flags)
	if flags&smbWriteFlags != 0 {
		return 0, vfs.EROFS
	}

	vpath := common.VirtualPath(path)
	md, err := a.fs.GetAttr(vpath)
	if err != nil {
		return 0, err
	}
	if md.IsDir() {
		return a.allocate(&smbHandle{path: vpath, isDir: true}), nil
	}

	fh, err := a.fs.Open(vpath, flags)
	if err != nil {
		return 0, err
	}
	return a.allocate(&smbHandle{path: vpath, file: fh}), nil
}

func (a *SMBAdapter) Close(handle smbvfs.VfsHandle) error {
	a.mu.Lock()
	h, ok := a.handles[handle]
	delete(a.handles, handle)
	a.mu.Unlock()

	if ok && !h.isDir {
		a.fs.Release(h.file)
	}
	return nil
}

func (a *SMBAdapter) Read(handle smbvfs.VfsHandle, buf []byte, offset uint64, flags int) (int, error) {
	h, ok := a.get(handle)
	if !ok {
		return 0, vfs.EBADF
	}
	if h.isDir {
		return 0, vfs.EISDIR
	}
	return a.fs.Read(h.file, buf, int64(offset))
}

func (a *SMBAdapter) Write(handle smbvfs.VfsHandle, buf []byte, offset uint64, flags int) (int, error) {
	return 0, vfs.EROFS
}

func (a *SMBAdapter) Truncate(handle smbvfs.VfsHandle, size uint64) error {
	return vfs.EROFS
}

func (a *SMBAdapter) FSync(handle smbvfs.VfsHandle) error {
	return nil
}

func (a *SMBAdapter) Flush(handle smbvfs.VfsHandle) error {
	return nil
}

func (a *SMBAdapter) Mkdir(path string, mode int) (*smbvfs.Attributes, error) {
	return nil, vfs.EROFS
}

func (a *SMBAdapter) OpenDir(path string) (smbvfs.VfsHandle, error) {
	vpath := common.VirtualPath(path)
	md, err := a.fs.GetAttr(vpath)
	if err != nil {
		return 0, err
	}
	if !md.IsDir() {
		return 0, vfs.ENOTDIR
	}
	return a.allocate(&smbHandle{path: vpath, isDir: true}), nil
}

// ReadDir returns the whole directory on the first call and io.EOF after.
// A positive offset restarts the enumeration.
func (a *SMBAdapter) ReadDir(handle smbvfs.VfsHandle, offset int, count int) ([]smbvfs.DirInfo, error) {
	h, ok := a.get(handle)
	if !ok {
		return nil, vfs.EBADF
	}
	if !h.isDir {
		return nil, vfs.ENOTDIR
	}

	a.mu.Lock()
	if offset > 0 {
		h.enumDone = false
	}
	done := h.enumDone
	a.mu.Unlock()
	if done {
		return nil, io.EOF
	}

	dirMD, err := a.fs.GetAttr(h.path)
	if err != nil {
		return nil, err
	}
	entries := []smbvfs.DirInfo{
		vfs.ToSMBDirInfo(".", dirMD),
		vfs.ToSMBDirInfo("..", dirMD),
	}

	var names []string
	if err := a.fs.ListEntries(h.path, func(name string) {
		names = append(names, name)
	}); err != nil {
		return nil, err
	}
	for _, name := range names {
		md, err := a.fs.GetAttr(common.JoinVirtual(h.path, name))
		if err != nil {
			continue
		}
		entries = append(entries, vfs.ToSMBDirInfo(name, md))
	}

	a.mu.Lock()
	h.enumDone = true
	a.mu.Unlock()

	if count > 0 && count < len(entries) {
		return entries[:count], nil
	}
	return entries, nil
}

func (a *SMBAdapter) GetAttr(handle smbvfs.VfsHandle) (*smbvfs.Attributes, error) {
	p, err := a.pathOf(handle)
	if err != nil {
		return nil, err
	}
	md, err := a.fs.GetAttr(p)
	if err != nil {
		return nil, err
	}
	return vfs.ToSMBAttributes(md), nil
}

func (a *SMBAdapter) SetAttr(handle smbvfs.VfsHandle, attrs *smbvfs.Attributes) (*smbvfs.Attributes, error) {
	return nil, vfs.EROFS
}

func (a *SMBAdapter) Lookup(dirHandle smbvfs.VfsHandle, name string) (*smbvfs.Attributes, error) {
	dir, err := a.pathOf(dirHandle)
	if err != nil {
		return nil, err
	}

	target := dir
	if rel := common.VirtualPath(name); rel != "/" {
		target = common.JoinVirtual(dir, rel[1:])
	}
	md, err := a.fs.GetAttr(target)
	if err != nil {
		return nil, err
	}
	return vfs.ToSMBAttributes(md), nil
}

func (a *SMBAdapter) StatFS(handle smbvfs.VfsHandle) (*smbvfs.FSAttributes, error) {
	attrs := &smbvfs.FSAttributes{}
	attrs.SetBlockSize(4096)
	attrs.SetIOSize(4096)
	attrs.SetBlocks(1000000)
	attrs.SetFreeBlocks(0)
	attrs.SetAvailableBlocks(0)
	attrs.SetFiles(100000)
	attrs.SetFreeFiles(0)
	return attrs, nil
}

func (a *SMBAdapter) Unlink(handle smbvfs.VfsHandle) error {
	return vfs.EROFS
}

func (a *SMBAdapter) Rename(handle smbvfs.VfsHandle, newName string, flags int) error {
	return vfs.EROFS
}

func (a *SMBAdapter) Readlink(handle smbvfs.VfsHandle) (string, error) {
	p, err := a.pathOf(handle)
	if err != nil {
		return "", err
	}
	return a.fs.Readlink(p, vfs.DefaultLinkBufSize)
}

func (a *SMBAdapter) Symlink(handle smbvfs.VfsHandle, target string, mode int) (*smbvfs.Attributes, error) {
	return nil, vfs.EROFS
}

func (a *SMBAdapter) Link(srcNode smbvfs.VfsNode, dstNode smbvfs.VfsNode, name string) (*smbvfs.Attributes, error) {
	return nil, vfs.EROFS
}

// --- Extended Attributes (unsupported) ---

func (a *SMBAdapter) Listxattr(handle smbvfs.VfsHandle) ([]string, error) {
	return []string{}, nil
}

func (a *SMBAdapter) Getxattr(handle smbvfs.VfsHandle, name string, buf []byte) (int, error) {
	return 0, vfs.ENOTSUP
}

func (a *SMBAdapter) Setxattr(handle smbvfs.VfsHandle, name string, value []byte) error {
	return vfs.EROFS
}

func (a *SMBAdapter) Removexattr(handle smbvfs.VfsHandle, name string) error {
	return vfs.EROFS
}

var _ smbvfs.VFSFileSystem = (*SMBAdapter)(nil)

package vfs

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileType represents the type of a filesystem entry
type FileType int

const (
	// FileTypeRegularFile is a regular file
	FileTypeRegularFile FileType = iota
	// FileTypeDirectory is a directory
	FileTypeDirectory
	// FileTypeSymlink is a symbolic link
	FileTypeSymlink
	// FileTypeOther covers devices, fifos and sockets
	FileTypeOther
)

// FileMetadata is the attribute set returned by GetAttr.
// Mode holds the raw st_mode (type bits and permission bits).
type FileMetadata struct {
	Mode   uint32
	Nlink  uint64
	Size   int64
	Blocks int64
	Ino    uint64
	Dev    uint64
	Rdev   uint64
	UID    uint32
	GID    uint32
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// Type classifies the entry by its st_mode type bits.
func (m *FileMetadata) Type() FileType {
	switch m.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return FileTypeDirectory
	case unix.S_IFLNK:
		return FileTypeSymlink
	case unix.S_IFREG:
		return FileTypeRegularFile
	default:
		return FileTypeOther
	}
}

// IsDir reports whether the entry is a directory.
func (m *FileMetadata) IsDir() bool {
	return m.Type() == FileTypeDirectory
}

// Perm returns the permission bits (0777).
func (m *FileMetadata) Perm() uint32 {
	return m.Mode & 0777
}

// FileMode converts the raw st_mode into an os.FileMode.
func (m *FileMetadata) FileMode() os.FileMode {
	mode := os.FileMode(m.Mode & 0777)
	switch m.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	}
	if m.Mode&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m.Mode&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m.Mode&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// syntheticDirMetadata is reported for the synthetic data directory.
// Everything but the type, permission bits and link count stays zero.
func syntheticDirMetadata() *FileMetadata {
	return &FileMetadata{
		Mode:  unix.S_IFDIR | 0755,
		Nlink: 2,
	}
}

// metadataFromStat copies an lstat result into FileMetadata.
func metadataFromStat(st *unix.Stat_t) *FileMetadata {
	atime, mtime, ctime := statTimes(st)
	return &FileMetadata{
		Mode:   uint32(st.Mode),
		Nlink:  uint64(st.Nlink),
		Size:   st.Size,
		Blocks: st.Blocks,
		Ino:    st.Ino,
		Dev:    uint64(st.Dev),
		Rdev:   uint64(st.Rdev),
		UID:    st.Uid,
		GID:    st.Gid,
		Atime:  atime,
		Mtime:  mtime,
		Ctime:  ctime,
	}
}

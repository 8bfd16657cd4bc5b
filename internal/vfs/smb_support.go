package vfs

import (
	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
)

// smbFileType maps a FileType onto the SMB attribute enum. Devices, fifos and
// sockets have no SMB representation and are reported as regular files.
func smbFileType(t FileType) smbvfs.FileType {
	switch t {
	case FileTypeDirectory:
		return smbvfs.FileTypeDirectory
	case FileTypeSymlink:
		return smbvfs.FileTypeSymlink
	default:
		return smbvfs.FileTypeRegularFile
	}
}

// ToSMBAttributes converts FileMetadata into go-smb2 attributes.
func ToSMBAttributes(md *FileMetadata) *smbvfs.Attributes {
	attrs := &smbvfs.Attributes{}

	attrs.SetFileHandle(smbvfs.VfsNode(md.Ino))
	attrs.SetInodeNumber(md.Ino)
	attrs.SetSizeBytes(uint64(md.Size))
	attrs.SetLinkCount(uint32(md.Nlink))
	attrs.SetUID(md.UID)
	attrs.SetGID(md.GID)
	attrs.SetPermissions(smbvfs.NewPermissionsFromMode(md.Mode))
	attrs.SetUnixMode(md.Perm())
	attrs.SetLastDataModificationTime(md.Mtime)
	attrs.SetLastStatusChangeTime(md.Ctime)
	attrs.SetAccessTime(md.Atime)
	attrs.SetBirthTime(md.Ctime)
	attrs.SetChangeID(uint64(md.Mtime.UnixNano()))
	attrs.SetFileType(smbFileType(md.Type()))

	return attrs
}

// ToSMBDirInfo converts a named entry into a go-smb2 directory record.
func ToSMBDirInfo(name string, md *FileMetadata) smbvfs.DirInfo {
	return smbvfs.DirInfo{
		Name:       name,
		Attributes: *ToSMBAttributes(md),
	}
}

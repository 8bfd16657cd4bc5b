package vfs

import (
	"errors"
	"strings"
)

// SyntheticDirName is the virtual directory reported by GetAttr even when
// nothing named "data" exists in the mirrored tree.
const SyntheticDirName = "data"

// ErrEmptyRoot is returned by NewMountContext for an empty root path.
var ErrEmptyRoot = errors.New("mount root must not be empty")

// MountContext holds the root of the mirrored tree. It is built once at
// startup and never changes.
type MountContext struct {
	root string
}

// NewMountContext creates a MountContext for root.
func NewMountContext(root string) (*MountContext, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	return &MountContext{root: root}, nil
}

// Root returns the mirrored directory.
func (m *MountContext) Root() string {
	return m.root
}

// Resolve maps a virtual path onto the mirrored tree by plain concatenation.
// The virtual path is not cleaned, so ".." components pass through as-is.
func (m *MountContext) Resolve(virtualPath string) string {
	var b strings.Builder
	b.Grow(len(m.root) + len(virtualPath))
	b.WriteString(m.root)
	b.WriteString(virtualPath)
	return b.String()
}

// IsSyntheticDir reports whether virtualPath names the synthetic directory.
// Hosts differ in whether they pass a leading separator, so both forms match.
func IsSyntheticDir(virtualPath string) bool {
	return virtualPath == SyntheticDirName || virtualPath == "/"+SyntheticDirName
}

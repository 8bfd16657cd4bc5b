package daemon

import (
	"strings"
	"time"
)

// unmountTimeout is the maximum time to wait for each unmount attempt.
// After the server is shut down, the kernel client may block unmount
// commands while it waits for the server to respond (up to soft timeout).
const unmountTimeout = 3 * time.Second

// containsMount checks if a mount point is in the output of mount(8).
// Lines look like "127.0.0.1:/ on /mount/point type nfs (...)" on Linux and
// "127.0.0.1:/ on /mount/point (nfs, ...)" on macOS.
func containsMount(mountOutput, mountPoint string) bool {
	if mountPoint == "" {
		return false
	}
	for _, line := range strings.Split(mountOutput, "\n") {
		if strings.Contains(line, " on "+mountPoint+" ") ||
			strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}

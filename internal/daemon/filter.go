package daemon

import (
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"faultfs/internal/vfs"
)

// BuildFaultScope compiles gitignore-style patterns into a FaultScope that
// accepts the virtual paths whose reads may fail. Blank and comment lines
// are ignored. With no effective patterns it returns nil, meaning every read
// is eligible.
func BuildFaultScope(patterns []string) vfs.FaultScope {
	var lines []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		lines = append(lines, p)
	}
	if len(lines) == 0 {
		return nil
	}

	matcher := ignore.CompileIgnoreLines(lines...)
	log.Debugf("filter: fault scope restricted to %d patterns", len(lines))

	return func(virtualPath string) bool {
		relPath := strings.TrimLeft(virtualPath, "/")
		if relPath == "" {
			return false
		}
		return matcher.MatchesPath(relPath)
	}
}

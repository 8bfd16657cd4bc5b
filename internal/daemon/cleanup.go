package daemon

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"faultfs/internal/util"
)

// CleanupResult contains the result of a cleanup operation
type CleanupResult struct {
	StaleMounts      []string // Targets that were unmounted
	CleanedStateFile bool     // Whether a stale state file was removed
	Errors           []error  // Any errors encountered
}

// CleanupStale removes what a crashed daemon left behind for root: its
// target mount and its state file. Nothing is touched while the recorded
// process is still alive.
func CleanupStale(root string) (*CleanupResult, error) {
	result := &CleanupResult{}

	state, err := ReadState(root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		// Unreadable state is as good as stale
		log.Warnf("cleanup: %v", err)
		if err := RemoveState(root); err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.CleanedStateFile = true
		}
		return result, nil
	}

	if state.PID != os.Getpid() && util.IsProcessRunning(state.PID) {
		return result, nil
	}

	if state.Target != "" && IsMounted(state.Target) {
		if err := Unmount(state.Target); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to unmount %s: %w", state.Target, err))
		} else {
			result.StaleMounts = append(result.StaleMounts, state.Target)
		}
	}

	if err := RemoveState(root); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("failed to remove state file: %w", err))
	} else {
		result.CleanedStateFile = true
	}

	return result, nil
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if len(result.StaleMounts) > 0 {
		parts = append(parts, fmt.Sprintf("Unmounted %d stale mount(s):", len(result.StaleMounts)))
		for _, m := range result.StaleMounts {
			parts = append(parts, fmt.Sprintf("  - %s", m))
		}
	}

	if result.CleanedStateFile {
		parts = append(parts, "Cleaned up stale state file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"faultfs/internal/common"
	"faultfs/internal/daemon"
	"faultfs/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status <mountpoint>",
	Short: "Show the daemon serving a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	state, err := daemon.ReadState(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no daemon for %s: %w", root, common.ErrNotFound)
		}
		return err
	}

	out := cmd.OutOrStdout()
	running := util.IsProcessRunning(state.PID)
	fmt.Fprintf(out, "Root:    %s\n", state.Root)
	fmt.Fprintf(out, "PID:     %d (running: %v)\n", state.PID, running)
	fmt.Fprintf(out, "Export:  %s on %s\n", state.NetFS, state.Addr)
	if state.Target != "" {
		fmt.Fprintf(out, "Target:  %s (mounted: %v)\n", state.Target, daemon.IsMounted(state.Target))
	}
	fmt.Fprintf(out, "Session: %s\n", state.Session)
	fmt.Fprintf(out, "Started: %s\n", state.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if !running {
		fmt.Fprintln(out, "Daemon is gone; the next start on this directory cleans up.")
	}
	return nil
}

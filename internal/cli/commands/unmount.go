package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"faultfs/internal/common"
	"faultfs/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount <target>",
	Aliases: []string{"umount"},
	Short:   "Unmount a target left behind by a faultfs daemon",
	Long: `Unmounts a faultfs export from <target>.

A running daemon unmounts its own target on shutdown; use this after a
crash or kill -9 left the mount in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if !daemon.IsMounted(target) {
		return fmt.Errorf("%s: %w", target, common.ErrNotMounted)
	}
	if err := daemon.Unmount(target); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unmounted %s\n", target)
	return nil
}

// Copyright 2024 FaultFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"faultfs/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ErrUsage is returned when the command line is incomplete. Usage has
// already been written to stderr, so callers only need to exit non-zero.
var ErrUsage = errors.New("usage")

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// logLevelFlag accepts only the levels the daemon understands.
type logLevelFlag string

var validLogLevels = []string{"trace", "debug", "info", "warn", "none"}

func (l *logLevelFlag) String() string { return string(*l) }

func (l *logLevelFlag) Set(v string) error {
	v = strings.ToLower(v)
	for _, ok := range validLogLevels {
		if v == ok {
			*l = logLevelFlag(v)
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(validLogLevels, ", "))
}

func (l *logLevelFlag) Type() string { return "level" }

var _ pflag.Value = (*logLevelFlag)(nil)

var (
	flagLogLevel logLevelFlag
	flagListen   string
	flagTarget   string
)

var rootCmd = &cobra.Command{
	Use:   "faultfs <mountpoint>",
	Short: "Mirror a directory read-only and fail reads at random",
	Long: `faultfs exports the directory <mountpoint> read-only over NFS (or SMB
when built with -tags smb). Every read has a 50% chance of failing with EIO,
so applications can be tested against flaky storage.

Use --target to have faultfs mount the export itself; otherwise mount the
address it prints with your NFS client.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Usage: %s <mountpoint>\n", cmd.Root().Name())
			return ErrUsage
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("faultfs version {{.Version}}\n")

	rootCmd.Flags().Var(&flagLogLevel, "logging", "Log level: trace, debug, info, warn, none")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "Listen address for the export (default from settings, 127.0.0.1:0)")
	rootCmd.Flags().StringVarP(&flagTarget, "target", "t", "", "Mount the export at this directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	d := daemon.New(daemon.Options{
		Root:     args[0],
		Target:   flagTarget,
		Listen:   flagListen,
		LogLevel: string(flagLogLevel),
	})

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-d.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "faultfs: serving %s over %s on %s\n", args[0], daemon.NetFSType(), d.Addr())
			if flagTarget != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "faultfs: mounted at %s\n", flagTarget)
			}
		case <-stopped:
		}
	}()

	return d.Run(cmd.Context())
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

package daemon

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// State describes a running daemon. It is written next to the lock file so
// that `faultfs unmount` and the next daemon on the same root can find the
// export and the target it was mounted on.
type State struct {
	PID       int       `yaml:"pid"`
	Session   string    `yaml:"session"`
	Root      string    `yaml:"root"`
	Addr      string    `yaml:"addr"`
	NetFS     string    `yaml:"netfs"`
	Target    string    `yaml:"target,omitempty"`
	StartedAt time.Time `yaml:"started_at"`
}

// WriteState atomically replaces the state file for s.Root.
func WriteState(s *State) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := atomic.WriteFile(StatePath(s.Root), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// ReadState reads the state file for root. A missing file is reported with
// an error satisfying os.IsNotExist.
func ReadState(root string) (*State, error) {
	data, err := os.ReadFile(StatePath(root))
	if err != nil {
		return nil, err
	}
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &s, nil
}

// RemoveState deletes the state file for root, ignoring a missing file.
func RemoveState(root string) error {
	if err := os.Remove(StatePath(root)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

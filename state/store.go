package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/xiaoyuanzhu-com/claude-monitor/log"
)

// Decision actions written to the command file
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// Decision is the record consumed asynchronously by the hook scripts
type Decision struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

var logger = log.GetLogger("StateStore")

// Store reads the snapshot file written by the hook scripts and writes
// decision records to a separate command file. The snapshot file is only
// written by this daemon for the initial empty-state bootstrap; all later
// writes come from the hooks, and keeping decisions in their own file avoids
// a write race on the snapshot.
type Store struct {
	statePath   string
	commandPath string
}

// NewStore creates a store and ensures the state directory exists.
// A directory that cannot be created is the one environment error worth
// surfacing: without it no reconciliation is possible.
func NewStore(statePath, commandPath string) (*Store, error) {
	for _, p := range []string{statePath, commandPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return &Store{
		statePath:   statePath,
		commandPath: commandPath,
	}, nil
}

// StatePath returns the snapshot file path (the path the watcher subscribes to)
func (s *Store) StatePath() string {
	return s.statePath
}

// Load reads and parses the snapshot file. The second return value is false
// when no usable data is available - missing file, unreadable file, or
// malformed content. The hooks are an untrusted external producer, so bad
// input is logged and dropped, never fatal.
func (s *Store) Load() (*Snapshot, bool) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", s.statePath).Msg("failed to read state file")
		}
		return nil, false
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logger.Warn().
			Err(err).
			Str("path", s.statePath).
			Str("prefix", contentPrefix(data, 200)).
			Msg("failed to parse state file")
		return nil, false
	}

	snapshot.Normalize()
	return &snapshot, true
}

// Save serializes and atomically replaces the snapshot file. Used only for
// the initial empty-state bootstrap.
func (s *Store) Save(snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := writeFileAtomic(s.statePath, data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// WriteDecision overwrites the command file with a decision record for the
// hook scripts to consume
func (s *Store) WriteDecision(action, id string) error {
	data, err := json.Marshal(Decision{Action: action, ID: id})
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	if err := writeFileAtomic(s.commandPath, data); err != nil {
		return fmt.Errorf("failed to write command file: %w", err)
	}
	return nil
}

// writeFileAtomic writes content to a file atomically (write to temp, then rename)
func writeFileAtomic(path string, data []byte) error {
	// Create temp file in same directory (ensures same filesystem for atomic rename)
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Chmod(path, 0644)
}

// contentPrefix returns up to n bytes of data for diagnostics, trimmed back
// to a rune boundary so the cut never splits a multi-byte character
func contentPrefix(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	prefix := data[:n]
	for len(prefix) > 0 {
		r, size := utf8.DecodeLastRune(prefix)
		if r != utf8.RuneError || size > 1 {
			break
		}
		prefix = prefix[:len(prefix)-1]
	}
	return string(prefix)
}

package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// Entry is one OS process with its controlling terminal device
// (empty when the process has no terminal, i.e. runs detached)
type Entry struct {
	Name     string
	Terminal string
}

// Lister enumerates OS processes. The gopsutil implementation is the
// production one; tests substitute a fake.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Prober determines whether the target CLI is running interactively in a
// terminal session. Process enumeration is a blocking syscall with unbounded
// latency, so Check is always called from a worker goroutine, never from the
// reconciler's event loop.
type Prober struct {
	processName string
	lister      Lister
}

// New creates a prober for the given executable name using gopsutil
func New(processName string) *Prober {
	return NewWithLister(processName, gopsutilLister{})
}

// NewWithLister creates a prober with a custom process lister
func NewWithLister(processName string, lister Lister) *Prober {
	return &Prober{
		processName: processName,
		lister:      lister,
	}
}

// Check returns true iff at least one process matches the target executable
// name and has a non-empty controlling terminal. A listing failure is
// returned as an error so the caller can keep the previous value instead of
// flapping to false on transient OS errors.
func (p *Prober) Check(ctx context.Context) (bool, error) {
	entries, err := p.lister.List(ctx)
	if err != nil {
		return false, fmt.Errorf("process enumeration failed: %w", err)
	}

	for _, entry := range entries {
		if strings.EqualFold(entry.Name, p.processName) && entry.Terminal != "" {
			return true, nil
		}
	}
	return false, nil
}

// gopsutilLister enumerates processes via gopsutil
type gopsutilLister struct{}

func (gopsutilLister) List(ctx context.Context) ([]Entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(procs))
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			// Process may have exited between enumeration and inspection
			continue
		}
		terminal, err := proc.TerminalWithContext(ctx)
		if err != nil {
			terminal = ""
		}
		entries = append(entries, Entry{Name: name, Terminal: terminal})
	}
	return entries, nil
}

// Package decision delivers approve/deny feedback toward the CLI's terminal.
//
// The command file written by the state store is the authoritative decision
// channel; keystroke injection is an immediate-feedback fallback that assumes
// the correct application is frontmost. That assumption can be wrong, so
// every failure here is logged and swallowed - a known reliability gap, not
// one this package tries to mask.
package decision

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/xiaoyuanzhu-com/claude-monitor/log"
)

var logger = log.GetLogger("Decision")

// Keystrokes sent for each decision; the CLI's permission prompt accepts
// y/n followed by return.
const (
	KeyApprove = "y"
	KeyDeny    = "n"
)

// Sender types a keystroke into the frontmost terminal application.
// Implementations are OS-specific; NoopSender is the fallback.
type Sender interface {
	Send(ctx context.Context, key string) error
}

// NewSender returns the platform sender, or a no-op on platforms without
// a keystroke side channel
func NewSender() Sender {
	if runtime.GOOS == "darwin" {
		return &osascriptSender{timeout: 2 * time.Second}
	}
	return NoopSender{}
}

// NoopSender ignores keystroke requests
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, key string) error {
	logger.Debug().Str("key", key).Msg("keystroke delivery unavailable on this platform")
	return nil
}

// osascriptSender drives System Events to type into the frontmost app
type osascriptSender struct {
	timeout time.Duration
}

func (s *osascriptSender) Send(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	script := fmt.Sprintf(
		`tell application "System Events" to keystroke "%s"
tell application "System Events" to key code 36`, key)

	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript failed: %w (%s)", err, string(output))
	}
	return nil
}

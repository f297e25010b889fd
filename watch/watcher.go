package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/xiaoyuanzhu-com/claude-monitor/log"
)

var logger = log.GetLogger("Watcher")

// Watcher is a "watch(path) -> stream of change events" capability.
// Delivery is at least once with no ordering guarantee; consumers must make
// their reload idempotent. Tests substitute a channel-backed fake.
type Watcher interface {
	// Start begins delivering events until ctx is cancelled or Close is called
	Start(ctx context.Context) error
	// Events signals that the watched path changed and should be reloaded
	Events() <-chan struct{}
	Close()
}

// fileWatcher watches a single file path with fsnotify. The parent directory
// is watched as well so that atomic-replace writes (temp file + rename) and
// recreation after deletion are still observed.
type fileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan struct{}
}

// NewFileWatcher creates an fsnotify-backed watcher for the given file
func NewFileWatcher(path string) (Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fileWatcher{
		path:    path,
		watcher: watcher,
		events:  make(chan struct{}, 10),
	}, nil
}

func (fw *fileWatcher) Start(ctx context.Context) error {
	// Watch the containing directory; rename-based writes replace the inode,
	// which a plain file watch would silently lose
	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch state directory")
		// Fall through to the direct file watch below
	}

	if _, err := os.Stat(fw.path); err != nil {
		// File may not exist at subscribe time; the reconciler's startup read
		// and subsequent producer writes restore consistency
		logger.Debug().Str("path", fw.path).Msg("state file not present yet")
	} else if err := fw.watcher.Add(fw.path); err != nil {
		logger.Warn().Err(err).Str("path", fw.path).Msg("failed to watch state file")
	}

	go fw.eventLoop(ctx)
	return nil
}

func (fw *fileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(fw.path) {
				continue
			}

			// Write, create (atomic replace), remove, rename and chmod all
			// warrant a reload; reloads are cheap and idempotent
			select {
			case fw.events <- struct{}{}:
			default:
				// A reload is already queued
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Str("path", fw.path).Msg("fsnotify error")

		case <-ctx.Done():
			return
		}
	}
}

func (fw *fileWatcher) Events() <-chan struct{} {
	return fw.events
}

func (fw *fileWatcher) Close() {
	if fw.watcher != nil {
		fw.watcher.Close()
	}
}

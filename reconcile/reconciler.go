// Package reconcile merges the three best-effort observation sources - the
// process probe, the transcript scanner, and the hook-written state file -
// into one canonical snapshot, and applies approve/deny commands against it.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xiaoyuanzhu-com/claude-monitor/db"
	"github.com/xiaoyuanzhu-com/claude-monitor/decision"
	"github.com/xiaoyuanzhu-com/claude-monitor/log"
	"github.com/xiaoyuanzhu-com/claude-monitor/state"
	"github.com/xiaoyuanzhu-com/claude-monitor/watch"
)

var logger = log.GetLogger("Reconciler")

// ErrUnknownAction is returned for a decision on an id that is not pending.
// The mutation side is a logged no-op; callers may still surface it.
var ErrUnknownAction = errors.New("unknown pending action")

// ErrStopped is returned for commands issued after shutdown
var ErrStopped = errors.New("reconciler stopped")

// Prober reports whether the CLI is running interactively
type Prober interface {
	Check(ctx context.Context) (bool, error)
}

// Scanner returns the latest aggregated task list from transcripts,
// or nil when no transcript carried one
type Scanner interface {
	Scan() []state.Task
}

// ChangeCallback receives the new snapshot after a content change.
// Callbacks run on the reconciler's event loop and must return quickly.
type ChangeCallback func(snapshot *state.Snapshot)

// Options holds the injected dependencies of a Reconciler
type Options struct {
	Store   *state.Store
	Prober  Prober
	Scanner Scanner
	Watcher watch.Watcher // optional
	Sender  decision.Sender
	Audit   *db.DB // optional decision audit log

	ProbeInterval time.Duration
	ScanInterval  time.Duration
}

// internal events posted into the owning loop

type probeResult struct{ active bool }

type scanResult struct{ tasks []state.Task }

type reloadRequest struct{}

type permissionRequest struct{ action state.PendingAction }

type decisionRequest struct {
	action string
	id     string
	reply  chan error
}

// Reconciler owns the canonical snapshot. A single goroutine processes all
// events in arrival order; the probe and scan workers only post results, and
// the published copy read by Snapshot() is updated from that goroutine alone.
type Reconciler struct {
	opts Options

	events   chan any
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// canonical state, touched only by the run loop
	current *state.Snapshot

	// published copy for Snapshot()
	publishedMu sync.RWMutex
	published   *state.Snapshot

	subsMu      sync.RWMutex
	subscribers map[int]ChangeCallback
	nextSubID   int

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a reconciler with the given dependencies
func New(opts Options) *Reconciler {
	if opts.Sender == nil {
		opts.Sender = decision.NoopSender{}
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 2 * time.Second
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		opts:        opts,
		events:      make(chan any, 64),
		done:        make(chan struct{}),
		current:     state.EmptySnapshot(),
		published:   state.EmptySnapshot(),
		subscribers: make(map[int]ChangeCallback),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start bootstraps the state file, starts the watcher and the probe and scan
// workers, and begins processing events
func (r *Reconciler) Start() error {
	// Bootstrap: seed an empty snapshot so the hook scripts have a file to
	// read-modify-write, then adopt whatever is already there
	if snapshot, ok := r.opts.Store.Load(); ok {
		r.applyStateFile(snapshot)
	} else if err := r.opts.Store.Save(state.EmptySnapshot()); err != nil {
		return err
	}
	r.publish()

	if r.opts.Watcher != nil {
		if err := r.opts.Watcher.Start(r.ctx); err != nil {
			logger.Warn().Err(err).Msg("state file watcher failed to start, relying on hooks and scans")
		}
	}

	r.wg.Add(1)
	go r.run()

	r.wg.Add(1)
	go r.probeLoop()

	r.wg.Add(1)
	go r.scanLoop()

	return nil
}

// Stop shuts down the workers and the event loop. In-flight worker results
// are dropped by the closed loop rather than mutating state after shutdown.
// Safe to call more than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.done)
		r.wg.Wait()
		if r.opts.Watcher != nil {
			r.opts.Watcher.Close()
		}
	})
}

// Snapshot returns a copy of the current reconciled state
func (r *Reconciler) Snapshot() *state.Snapshot {
	r.publishedMu.RLock()
	defer r.publishedMu.RUnlock()
	return r.published.Clone()
}

// Subscribe registers a change callback and returns an unsubscribe function
func (r *Reconciler) Subscribe(cb ChangeCallback) func() {
	r.subsMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = cb
	r.subsMu.Unlock()

	return func() {
		r.subsMu.Lock()
		delete(r.subscribers, id)
		r.subsMu.Unlock()
	}
}

// Approve issues an approve decision for a pending action
func (r *Reconciler) Approve(id string) error {
	return r.decide(state.DecisionApprove, id)
}

// Deny issues a deny decision for a pending action
func (r *Reconciler) Deny(id string) error {
	return r.decide(state.DecisionDeny, id)
}

// HandlePermissionRequest appends a new pending action. Missing ids and
// timestamps are filled in, matching what hook scripts may omit.
func (r *Reconciler) HandlePermissionRequest(action state.PendingAction) {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.Timestamp == "" {
		action.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	r.post(permissionRequest{action: action})
}

// RequestReload asks the loop to re-read the state file (the watcher path,
// also usable by callers that learned of a write out of band)
func (r *Reconciler) RequestReload() {
	r.post(reloadRequest{})
}

func (r *Reconciler) decide(decisionAction, id string) error {
	reply := make(chan error, 1)
	select {
	case r.events <- decisionRequest{action: decisionAction, id: id, reply: reply}:
	case <-r.done:
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrStopped
	}
}

// post delivers an event unless the reconciler has shut down
func (r *Reconciler) post(event any) {
	select {
	case r.events <- event:
	case <-r.done:
	}
}

// run is the single-threaded owner of the canonical snapshot
func (r *Reconciler) run() {
	defer r.wg.Done()

	var watchEvents <-chan struct{}
	if r.opts.Watcher != nil {
		watchEvents = r.opts.Watcher.Events()
	}

	for {
		select {
		case event := <-r.events:
			r.handle(event)

		case _, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			r.handle(reloadRequest{})

		case <-r.done:
			return
		}
	}
}

func (r *Reconciler) handle(event any) {
	switch e := event.(type) {
	case probeResult:
		r.handleProbe(e.active)
	case scanResult:
		r.handleScan(e.tasks)
	case reloadRequest:
		r.handleReload()
	case permissionRequest:
		r.handlePermission(e.action)
	case decisionRequest:
		e.reply <- r.handleDecision(e.action, e.id)
	}
}

// handleProbe applies the probe's live determination of is_active.
// Only an actual transition emits a change event.
func (r *Reconciler) handleProbe(active bool) {
	if r.current.IsActive == active {
		return
	}
	r.current.IsActive = active
	logger.Info().Bool("active", active).Msg("process activity changed")
	r.publishAndNotify()
}

// handleScan replaces the task list with the scanner's aggregate when its
// identity set or count changed. A nil result means no transcript carried a
// task list and is not a delta.
func (r *Reconciler) handleScan(tasks []state.Task) {
	if tasks == nil {
		return
	}
	if sameTaskIdentity(r.current.Tasks, tasks) {
		return
	}
	r.current.Tasks = tasks
	r.publishAndNotify()
}

// handleReload re-reads the state file. The store is authoritative for
// pending actions and session metadata; its task list also wins at reload
// time since the file write is the more timely signal on approval paths.
func (r *Reconciler) handleReload() {
	snapshot, ok := r.opts.Store.Load()
	if !ok {
		return
	}
	if r.applyStateFile(snapshot) {
		r.publishAndNotify()
	}
}

// applyStateFile merges a loaded snapshot into the canonical state and
// reports whether anything changed. The file's isActive claim is ignored -
// the probe owns that value.
func (r *Reconciler) applyStateFile(snapshot *state.Snapshot) bool {
	changed := false

	if snapshot.IsSessionStop() {
		// Hook-written stop signal: clear both lists
		if len(r.current.Tasks) > 0 || len(r.current.PendingActions) > 0 {
			r.current.Tasks = []state.Task{}
			r.current.PendingActions = []state.PendingAction{}
			logger.Info().Msg("session stop observed, cleared tasks and pending actions")
			changed = true
		}
	} else {
		if !state.TasksEqual(r.current.Tasks, snapshot.Tasks) {
			r.current.Tasks = snapshot.Tasks
			changed = true
		}
		if !state.ActionsEqual(r.current.PendingActions, snapshot.PendingActions) {
			r.current.PendingActions = snapshot.PendingActions
			changed = true
		}
	}

	if snapshot.SessionID != "" && snapshot.SessionID != r.current.SessionID {
		r.current.SessionID = snapshot.SessionID
		changed = true
	}
	if snapshot.TerminalApp != "" && snapshot.TerminalApp != r.current.TerminalApp {
		r.current.TerminalApp = snapshot.TerminalApp
		changed = true
	}

	return changed
}

func (r *Reconciler) handlePermission(action state.PendingAction) {
	for _, existing := range r.current.PendingActions {
		if existing.ID == action.ID {
			return
		}
	}
	r.current.PendingActions = append(r.current.PendingActions, action)
	logger.Info().Str("id", action.ID).Str("type", action.Type).Msg("pending action added")
	r.publishAndNotify()
}

func (r *Reconciler) handleDecision(decisionAction, id string) error {
	idx := -1
	for i, action := range r.current.PendingActions {
		if action.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		logger.Warn().Str("action", decisionAction).Str("id", id).Msg("decision for unknown pending action")
		return ErrUnknownAction
	}

	action := r.current.PendingActions[idx]

	// Authoritative channel: the command file the hooks consume
	if err := r.opts.Store.WriteDecision(decisionAction, id); err != nil {
		logger.Error().Err(err).Str("id", id).Msg("failed to write decision to command file")
	}

	// Immediate-feedback fallback: best effort, assumes the terminal is frontmost
	key := decision.KeyApprove
	if decisionAction == state.DecisionDeny {
		key = decision.KeyDeny
	}
	go func() {
		if err := r.opts.Sender.Send(r.ctx, key); err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("keystroke delivery failed")
		}
	}()

	if r.opts.Audit != nil {
		if err := r.opts.Audit.InsertDecision(decisionAction, action); err != nil {
			logger.Error().Err(err).Str("id", id).Msg("failed to record decision")
		}
	}

	r.current.PendingActions = append(
		r.current.PendingActions[:idx],
		r.current.PendingActions[idx+1:]...,
	)
	logger.Info().Str("action", decisionAction).Str("id", id).Str("type", action.Type).Msg("decision issued")
	r.publishAndNotify()
	return nil
}

func (r *Reconciler) publish() {
	clone := r.current.Clone()
	r.publishedMu.Lock()
	r.published = clone
	r.publishedMu.Unlock()
}

func (r *Reconciler) publishAndNotify() {
	r.publish()
	snapshot := r.Snapshot()

	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	for _, cb := range r.subscribers {
		cb(snapshot)
	}
}

// probeLoop runs the blocking process enumeration off the event loop
func (r *Reconciler) probeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		r.probeOnce()

		select {
		case <-ticker.C:
		case <-r.done:
			return
		}
	}
}

func (r *Reconciler) probeOnce() {
	active, err := r.opts.Prober.Check(r.ctx)
	if err != nil {
		// Transient OS errors keep the previous value; flapping to false on
		// a failed listing would churn the UI for nothing
		logger.Warn().Err(err).Msg("process probe failed")
		return
	}
	r.post(probeResult{active: active})
}

// scanLoop runs the blocking transcript scan off the event loop
func (r *Reconciler) scanLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.ScanInterval)
	defer ticker.Stop()

	for {
		r.scanOnce()

		select {
		case <-ticker.C:
		case <-r.done:
			return
		}
	}
}

func (r *Reconciler) scanOnce() {
	tasks := r.opts.Scanner.Scan()
	if tasks == nil {
		return
	}
	r.post(scanResult{tasks: tasks})
}

// sameTaskIdentity compares task lists by id set and count, the scanner's
// change criterion
func sameTaskIdentity(a, b []state.Task) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, task := range a {
		ids[task.ID] = struct{}{}
	}
	for _, task := range b {
		if _, ok := ids[task.ID]; !ok {
			return false
		}
	}
	return true
}

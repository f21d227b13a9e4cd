// Package scheduler serializes runs per session and bounds how many run at once.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/linescout/internal/session"
)

// QueueMode determines how incoming events are handled when a run
// is already in progress for the same session.
type QueueMode string

const (
	// QueueModeQueue is simple FIFO: new events wait until current finishes.
	QueueModeQueue QueueMode = "queue"

	// QueueModeFollowup keeps only the newest waiting event; it runs once
	// the current run completes.
	QueueModeFollowup QueueMode = "followup"

	// QueueModeInterrupt cancels the current run and starts the new event.
	QueueModeInterrupt QueueMode = "interrupt"
)

// DropPolicy determines which messages to drop when the queue is full.
type DropPolicy string

const (
	DropOld DropPolicy = "old" // drop oldest event
	DropNew DropPolicy = "new" // reject incoming event
)

// QueueConfig configures per-session event queuing.
type QueueConfig struct {
	Mode QueueMode  `json:"mode"`
	Cap  int        `json:"cap"`
	Drop DropPolicy `json:"drop"`
}

// DefaultQueueConfig interrupts a running search when the user does
// something new.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Mode: QueueModeInterrupt,
		Cap:  10,
		Drop: DropOld,
	}
}

// RunRequest is one event to apply to a session.
type RunRequest struct {
	SessionKey string
	RunID      string
	Channel    string
	ChatID     string
	Event      session.Event
}

// RunResult holds the messages a run produced.
type RunResult struct {
	RunID    string
	Messages []session.Outgoing
}

// RunFunc executes a run. The scheduler calls this when it's the request's turn.
type RunFunc func(ctx context.Context, req RunRequest) (*RunResult, error)

// PendingRequest is a queued run awaiting execution.
type PendingRequest struct {
	Req      RunRequest
	ResultCh chan RunOutcome
}

// RunOutcome is the result of a scheduled run.
type RunOutcome struct {
	Result *RunResult
	Err    error
}

// SessionQueue serializes runs for a single session key.
// Only one run executes at a time; additional events are queued.
type SessionQueue struct {
	key     string
	config  QueueConfig
	runFn   RunFunc
	laneMgr *LaneManager
	lane    string

	mu        sync.Mutex
	queue     []*PendingRequest
	active    bool               // whether a run is currently executing
	cancel    context.CancelFunc // cancel for the active run (interrupt mode)
	parentCtx context.Context    // stored from first Enqueue call, used for spawning runs
}

// NewSessionQueue creates a queue for a specific session.
func NewSessionQueue(key, lane string, cfg QueueConfig, laneMgr *LaneManager, runFn RunFunc) *SessionQueue {
	return &SessionQueue{
		key:     key,
		config:  cfg,
		runFn:   runFn,
		laneMgr: laneMgr,
		lane:    lane,
	}
}

// Enqueue adds a request to the session queue.
// If no run is active, it starts immediately.
// Returns a channel that receives the result when the run completes.
func (sq *SessionQueue) Enqueue(ctx context.Context, req RunRequest) <-chan RunOutcome {
	outcome := make(chan RunOutcome, 1)
	pending := &PendingRequest{Req: req, ResultCh: outcome}

	sq.mu.Lock()
	defer sq.mu.Unlock()

	// Store parent context for spawning future runs
	if sq.parentCtx == nil {
		sq.parentCtx = ctx
	}

	switch sq.config.Mode {
	case QueueModeInterrupt:
		// Cancel current run if active
		if sq.active && sq.cancel != nil {
			sq.cancel()
		}
		// Clear existing queue and enqueue this one
		sq.drainQueue(RunOutcome{Err: context.Canceled})
		sq.queue = append(sq.queue, pending)
		if !sq.active {
			sq.startNext(ctx)
		}

	case QueueModeFollowup:
		sq.drainQueue(RunOutcome{Err: ErrQueueDropped})
		sq.queue = append(sq.queue, pending)
		if !sq.active {
			sq.startNext(ctx)
		}

	default: // queue
		if len(sq.queue) >= sq.config.Cap {
			sq.applyDropPolicy(pending)
		} else {
			sq.queue = append(sq.queue, pending)
		}

		if !sq.active {
			sq.startNext(ctx)
		}
	}

	return outcome
}

// startNext picks the first queued request and runs it in the lane.
// Must be called with sq.mu held.
func (sq *SessionQueue) startNext(ctx context.Context) {
	if len(sq.queue) == 0 {
		return
	}

	pending := sq.queue[0]
	sq.queue = sq.queue[1:]
	sq.active = true

	runCtx, cancel := context.WithCancel(ctx)
	sq.cancel = cancel

	lane := sq.laneMgr.Get(sq.lane)
	if lane == nil {
		lane = sq.laneMgr.Get("main")
	}

	if lane == nil {
		// No lane configured: run directly
		go sq.executeRun(runCtx, pending)
		return
	}

	err := lane.Submit(ctx, func() {
		sq.executeRun(runCtx, pending)
	})
	if err != nil {
		pending.ResultCh <- RunOutcome{Err: err}
		close(pending.ResultCh)
		// caller holds sq.mu
		sq.active = false
		sq.cancel = nil
	}
}

// executeRun runs the request and then processes the next queued event.
func (sq *SessionQueue) executeRun(ctx context.Context, pending *PendingRequest) {
	result, err := sq.runFn(ctx, pending.Req)
	pending.ResultCh <- RunOutcome{Result: result, Err: err}
	close(pending.ResultCh)

	sq.mu.Lock()
	sq.active = false
	sq.cancel = nil

	if len(sq.queue) > 0 {
		// parentCtx, not the per-run ctx which an interrupt may have cancelled
		sq.startNext(sq.parentCtx)
	}
	sq.mu.Unlock()
}

// applyDropPolicy handles a full queue.
// Must be called with sq.mu held.
func (sq *SessionQueue) applyDropPolicy(incoming *PendingRequest) {
	if sq.config.Drop == DropNew {
		incoming.ResultCh <- RunOutcome{Err: ErrQueueFull}
		close(incoming.ResultCh)
		return
	}

	if len(sq.queue) > 0 {
		old := sq.queue[0]
		old.ResultCh <- RunOutcome{Err: ErrQueueDropped}
		close(old.ResultCh)
		sq.queue = sq.queue[1:]
		slog.Debug("queued event dropped", "session", sq.key, "run_id", old.Req.RunID)
	}
	sq.queue = append(sq.queue, incoming)
}

// Cancel cancels the active run and drops queued events.
// Returns whether a run was active.
func (sq *SessionQueue) Cancel() bool {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	sq.drainQueue(RunOutcome{Err: context.Canceled})
	if sq.active && sq.cancel != nil {
		sq.cancel()
		return true
	}
	return false
}

// drainQueue cancels all pending requests with the given outcome.
// Must be called with sq.mu held.
func (sq *SessionQueue) drainQueue(outcome RunOutcome) {
	for _, p := range sq.queue {
		p.ResultCh <- outcome
		close(p.ResultCh)
	}
	sq.queue = nil
}

// IsActive returns whether a run is currently executing.
func (sq *SessionQueue) IsActive() bool {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.active
}

// Scheduler is the top-level coordinator that manages lanes and session queues.
type Scheduler struct {
	lanes    *LaneManager
	sessions map[string]*SessionQueue
	config   QueueConfig
	runFn    RunFunc
	mu       sync.RWMutex
}

// NewScheduler creates a scheduler with the given lane and queue config.
func NewScheduler(laneConfigs []LaneConfig, queueCfg QueueConfig, runFn RunFunc) *Scheduler {
	if laneConfigs == nil {
		laneConfigs = DefaultLanes()
	}

	return &Scheduler{
		lanes:    NewLaneManager(laneConfigs),
		sessions: make(map[string]*SessionQueue),
		config:   queueCfg,
		runFn:    runFn,
	}
}

// Schedule submits a run request to the appropriate session queue and lane.
// Returns a channel that receives the result when the run completes.
func (s *Scheduler) Schedule(ctx context.Context, lane string, req RunRequest) <-chan RunOutcome {
	sq := s.getOrCreateSession(req.SessionKey, lane)
	return sq.Enqueue(ctx, req)
}

// getOrCreateSession returns or creates a session queue for the given key.
func (s *Scheduler) getOrCreateSession(sessionKey, lane string) *SessionQueue {
	s.mu.RLock()
	sq, ok := s.sessions[sessionKey]
	s.mu.RUnlock()

	if ok {
		return sq
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if sq, ok := s.sessions[sessionKey]; ok {
		return sq
	}

	sq = NewSessionQueue(sessionKey, lane, s.config, s.lanes, s.runFn)
	s.sessions[sessionKey] = sq

	slog.Debug("session queue created", "session", sessionKey, "lane", lane)
	return sq
}

// Cancel cancels whatever is running or queued for sessionKey.
func (s *Scheduler) Cancel(sessionKey string) bool {
	s.mu.RLock()
	sq, ok := s.sessions[sessionKey]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return sq.Cancel()
}

// ActiveSessions returns how many sessions have a run in progress.
func (s *Scheduler) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sq := range s.sessions {
		if sq.IsActive() {
			n++
		}
	}
	return n
}

// Stop shuts down all lanes.
func (s *Scheduler) Stop() {
	s.lanes.StopAll()
}

// LaneStats returns utilization metrics for all lanes.
func (s *Scheduler) LaneStats() []LaneStats {
	return s.lanes.AllStats()
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// LaneConfig names a lane and how many runs it executes at once.
type LaneConfig struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
}

// DefaultLanes returns a single "main" lane.
func DefaultLanes() []LaneConfig {
	return []LaneConfig{{Name: "main", Concurrency: 16}}
}

// LaneStats is a point-in-time view of a lane.
type LaneStats struct {
	Name        string `json:"name"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Waiting     int    `json:"waiting"`
}

// Lane bounds how many submitted functions run concurrently.
type Lane struct {
	name        string
	concurrency int
	sem         *semaphore.Weighted

	active  atomic.Int32
	waiting atomic.Int32

	mu      sync.Mutex
	stopped bool
}

func NewLane(name string, concurrency int) *Lane {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Lane{
		name:        name,
		concurrency: concurrency,
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// Submit runs fn on its own goroutine once a slot is free. It does not block.
// If ctx ends while waiting for a slot, fn still runs so its owner can
// observe the cancellation and report back.
func (l *Lane) Submit(ctx context.Context, fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrLaneStopped
	}
	l.mu.Unlock()

	l.waiting.Add(1)
	go func() {
		err := l.sem.Acquire(ctx, 1)
		l.waiting.Add(-1)
		if err != nil {
			slog.Debug("lane acquire aborted", "lane", l.name, "error", err)
			fn()
			return
		}
		defer l.sem.Release(1)

		l.active.Add(1)
		defer l.active.Add(-1)
		fn()
	}()
	return nil
}

// Stop rejects further submissions. Running functions are not interrupted.
func (l *Lane) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
}

func (l *Lane) Stats() LaneStats {
	return LaneStats{
		Name:        l.name,
		Concurrency: l.concurrency,
		Active:      int(l.active.Load()),
		Waiting:     int(l.waiting.Load()),
	}
}

// LaneManager holds named lanes.
type LaneManager struct {
	mu    sync.RWMutex
	lanes map[string]*Lane
	order []string
}

func NewLaneManager(configs []LaneConfig) *LaneManager {
	lm := &LaneManager{lanes: make(map[string]*Lane, len(configs))}
	for _, c := range configs {
		lm.lanes[c.Name] = NewLane(c.Name, c.Concurrency)
		lm.order = append(lm.order, c.Name)
	}
	return lm
}

// Get returns the named lane, falling back to "main". Nil if neither exists.
func (lm *LaneManager) Get(name string) *Lane {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	if l, ok := lm.lanes[name]; ok {
		return l
	}
	return lm.lanes["main"]
}

func (lm *LaneManager) StopAll() {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	for _, l := range lm.lanes {
		l.Stop()
	}
}

// AllStats returns stats in creation order.
func (lm *LaneManager) AllStats() []LaneStats {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	stats := make([]LaneStats, 0, len(lm.order))
	for _, name := range lm.order {
		stats = append(stats, lm.lanes[name].Stats())
	}
	return stats
}

package search

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/linescout/internal/registry"
)

// ResourceSummary is the per-resource line of an aggregate search.
type ResourceSummary struct {
	Name    string
	Matches int
	// Err is set when the resource could not be scanned. Other resources
	// are still searched.
	Err error
}

// Summary is the outcome of searching every registered resource.
type Summary struct {
	Pattern   string
	Resources []ResourceSummary // registry order
	Total     int
	Result    *Result // combined, "[name] " prefixed; nil when Total is 0
}

// Failed reports how many resources could not be scanned.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Resources {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// RunAll searches every entry for pattern. A failing resource is recorded in
// its summary line and does not abort the others. Cancellation aborts the
// whole run and returns ctx.Err().
func (e *Engine) RunAll(ctx context.Context, entries []registry.Entry, pattern string, onProgress ProgressFunc) (*Summary, error) {
	m, err := NewMatcher(pattern)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(entries))
	summaries := make([]ResourceSummary, len(entries))

	runOne := func(i int, progress ProgressFunc) {
		entry := entries[i]
		summaries[i].Name = entry.Name
		res, err := e.scan(ctx, Request{
			Name:    entry.Name,
			Locator: entry.Locator,
			Pattern: m.Target(),
			Prefix:  true,
		}, m, progress)
		if err != nil {
			if ctx.Err() == nil {
				summaries[i].Err = err
			}
			return
		}
		results[i] = res
		summaries[i].Matches = res.Total
	}

	if e.cfg.Parallelism > 1 && len(entries) > 1 {
		var mu sync.Mutex
		progress := onProgress
		if onProgress != nil {
			progress = func(p Progress) {
				mu.Lock()
				defer mu.Unlock()
				onProgress(p)
			}
		}

		var g errgroup.Group
		g.SetLimit(e.cfg.Parallelism)
		for i := range entries {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				runOne(i, progress)
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range entries {
			if ctx.Err() != nil {
				break
			}
			runOne(i, onProgress)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := &Summary{
		Pattern:   m.Target(),
		Resources: summaries,
		Result:    newResult(e.cfg.MaxResultBytes, true),
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		sum.Total += summaries[i].Matches
		sum.Result.merge(res)
	}

	if sum.Total == 0 {
		sum.Result = nil
	}

	slog.Info("aggregate search complete",
		"resources", len(entries),
		"failed", sum.Failed(),
		"matches", sum.Total,
	)
	return sum, nil
}

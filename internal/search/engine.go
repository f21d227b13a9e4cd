package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/linescout/internal/source"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Cadence        Cadence
	MaxResultBytes int64
	// Parallelism > 1 scans aggregate resources concurrently.
	Parallelism int
}

// Request describes one single-resource search.
type Request struct {
	Name    string
	Locator source.Locator
	Pattern string
	// Prefix marks each result line with "[Name] ".
	Prefix bool
}

// Engine runs streaming searches over sources.
type Engine struct {
	opener source.Opener
	cfg    Config
	tracer trace.Tracer
}

func NewEngine(opener source.Opener, cfg Config) *Engine {
	cfg.Cadence = cfg.Cadence.normalized()
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = DefaultMaxResultBytes
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Engine{
		opener: opener,
		cfg:    cfg,
		tracer: otel.Tracer("linescout/search"),
	}
}

// Run searches a single resource. The pattern is validated before the
// source is opened. On cancellation Run returns ctx.Err() and no result.
func (e *Engine) Run(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	m, err := NewMatcher(req.Pattern)
	if err != nil {
		return nil, err
	}
	return e.scan(ctx, req, m, onProgress)
}

func (e *Engine) scan(ctx context.Context, req Request, m *Matcher, onProgress ProgressFunc) (*Result, error) {
	runID := uuid.NewString()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "search.run", trace.WithAttributes(
		attribute.String("search.run_id", runID),
		attribute.String("search.resource", req.Name),
		attribute.String("search.source_kind", req.Locator.Kind.String()),
	))
	defer span.End()

	res, p, err := e.scanSource(ctx, req, m, onProgress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			slog.Debug("search cancelled", "run_id", runID, "resource", req.Name, "lines", p.Lines)
			return nil, ctx.Err()
		}
		slog.Warn("search failed", "run_id", runID, "resource", req.Name, "lines", p.Lines, "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("search.lines", p.Lines),
		attribute.Int("search.matches", res.Total),
		attribute.Bool("search.truncated", res.Truncated),
	)
	slog.Info("search complete",
		"run_id", runID,
		"resource", req.Name,
		"lines", p.Lines,
		"matches", res.Total,
		"truncated", res.Truncated,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (e *Engine) scanSource(ctx context.Context, req Request, m *Matcher, onProgress ProgressFunc) (*Result, Progress, error) {
	p := Progress{Resource: req.Name}

	src, err := e.opener.Open(ctx, req.Locator)
	if err != nil {
		return nil, p, err
	}
	defer src.Close()

	p.Total = src.Size()
	tracker := newProgressTracker(e.cfg.Cadence, p.Total, onProgress)
	res := newResult(e.cfg.MaxResultBytes, req.Prefix)

	for {
		if err := ctx.Err(); err != nil {
			return nil, p, err
		}

		line, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p, fmt.Errorf("read %s at line %d: %w", req.Name, p.Lines+1, err)
		}

		p.Lines++
		p.Bytes += line.Bytes
		if m.Match(line.Text) {
			res.add(Match{Source: req.Name, Text: line.Text})
			p.Matches = res.Total
		}
		tracker.observe(p)
	}

	tracker.finish(p)
	return res, p, nil
}

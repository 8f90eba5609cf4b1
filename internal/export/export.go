// Package export delivers processed documents to their configured
// destinations.
//
// Destinations are independent: each one is gated by its own conditions,
// renders its own filename, retries with its own backoff and records its own
// outcome. A failing destination never blocks or poisons its siblings.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hotfold/hotfold/internal/condition"
	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/expr"
	"github.com/hotfold/hotfold/internal/job"
)

// Request is what a Sender needs to deliver one document.
type Request struct {
	// SourcePath is the working document, possibly a derived file.
	SourcePath string
	// Filename is the rendered, sanitized delivery name.
	Filename string
	// Render evaluates a destination-owned template against the job's
	// variables.
	Render func(src string) (string, error)
	Dest   config.Export
}

// Sender delivers a document to one destination kind. The returned target
// describes where the document ended up: a path for filesystem kinds, an
// address or URL otherwise.
type Sender interface {
	Kind() string
	Send(ctx context.Context, req Request) (target string, err error)
}

// Summary aggregates per-destination outcomes of one dispatch.
type Summary struct {
	Eligible  int
	Succeeded int
	Failed    int
	Skipped   int
}

// AllSucceeded reports whether every eligible destination delivered.
func (s Summary) AllSucceeded() bool { return s.Eligible > 0 && s.Failed == 0 }

// Engine fans a document out to its destinations.
type Engine struct {
	log      *slog.Logger
	senders  map[string]Sender
	counters expr.Incrementer
	now      func() time.Time

	// maxParallel caps concurrent deliveries per dispatch.
	maxParallel int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock fixes the time source, for tests and archive partitioning.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxParallel caps concurrent destination deliveries.
func WithMaxParallel(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// NewEngine builds an engine dispatching to the given senders. counters may
// be nil when no destination template uses AUTOINCREMENT.
func NewEngine(log *slog.Logger, counters expr.Incrementer, senders []Sender, opts ...Option) *Engine {
	byKind := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byKind[s.Kind()] = s
	}
	e := &Engine{
		log:         log,
		senders:     byKind,
		counters:    counters,
		now:         time.Now,
		maxParallel: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch delivers the document at path to every eligible destination.
// Outcomes are recorded on the job; the summary tells the caller how to
// conclude it.
func (e *Engine) Dispatch(ctx context.Context, j *job.Job, path string, dests []config.Export) Summary {
	vars := j.Snapshot()

	sem := semaphore.NewWeighted(e.maxParallel)
	results := make(chan job.Outcome, len(dests))
	launched := 0

	for _, dest := range dests {
		if !dest.IsEnabled() {
			e.log.Debug("destination disabled", "job", j.ID, "destination", dest.ID)
			continue
		}
		if dest.When != nil && !condition.Evaluate(*dest.When, condition.MapLookup(vars)) {
			e.log.Info("destination conditions not met",
				"job", j.ID, "destination", dest.ID)
			j.RecordOutcome(job.Outcome{
				DestinationID: dest.ID,
				Status:        job.OutcomeSkipped,
			})
			continue
		}

		launched++
		dest := dest
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- job.Outcome{DestinationID: dest.ID, Status: job.OutcomeFailed, Err: err.Error()}
				return
			}
			defer sem.Release(1)
			results <- e.deliver(ctx, j, path, vars, dest)
		}()
	}

	var sum Summary
	sum.Skipped = countSkipped(j)
	for i := 0; i < launched; i++ {
		o := <-results
		j.RecordOutcome(o)
		sum.Eligible++
		switch o.Status {
		case job.OutcomeSucceeded:
			sum.Succeeded++
		default:
			sum.Failed++
		}
	}
	return sum
}

func countSkipped(j *job.Job) int {
	n := 0
	for _, o := range j.Outcomes() {
		if o.Status == job.OutcomeSkipped {
			n++
		}
	}
	return n
}

// deliver runs one destination end to end: render once, then retry the send
// with exponential backoff. Rendering happens before the retry loop so an
// AUTOINCREMENT counter is consumed exactly once per destination.
func (e *Engine) deliver(ctx context.Context, j *job.Job, path string, vars map[string]string, dest config.Export) job.Outcome {
	sender, ok := e.senders[dest.Kind]
	if !ok {
		return job.Outcome{
			DestinationID: dest.ID,
			Status:        job.OutcomeFailed,
			Err:           fmt.Sprintf("no sender for kind %q", dest.Kind),
		}
	}

	render := func(src string) (string, error) {
		res, err := expr.Render(ctx, src, vars, expr.Options{Now: e.now, Counters: e.counters})
		if err != nil {
			return "", err
		}
		for _, w := range res.Warnings {
			e.log.Warn("template warning", "job", j.ID, "destination", dest.ID, "warning", w)
		}
		return res.Value, nil
	}

	filename, err := e.renderFilename(render, path, dest)
	if err != nil {
		return job.Outcome{
			DestinationID: dest.ID,
			Status:        job.OutcomeFailed,
			Err:           fmt.Sprintf("render filename: %v", err),
		}
	}

	req := Request{SourcePath: path, Filename: filename, Render: render, Dest: dest}

	retry := dest.Retry
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry.InitialInterval.Std()
	bo.MaxInterval = retry.MaxInterval.Std()
	bo.Multiplier = retry.Multiplier
	bo.MaxElapsedTime = 0

	var target string
	attempts := 0
	op := func() error {
		attempts++
		t, err := sender.Send(ctx, req)
		if err != nil {
			e.log.Warn("delivery attempt failed",
				"job", j.ID, "destination", dest.ID, "attempt", attempts, "error", err)
			return err
		}
		target = t
		return nil
	}
	err = backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(retry.MaxAttempts-1)), ctx))

	if err != nil {
		return job.Outcome{
			DestinationID: dest.ID,
			Status:        job.OutcomeFailed,
			Attempts:      attempts,
			Err:           err.Error(),
		}
	}

	if sidecarErr := e.writeSidecars(j, vars, dest, target, render); sidecarErr != nil {
		e.log.Warn("sidecar write failed",
			"job", j.ID, "destination", dest.ID, "error", sidecarErr)
	}

	e.log.Info("delivered",
		"job", j.ID, "destination", dest.ID, "target", target, "attempts", attempts)
	return job.Outcome{
		DestinationID: dest.ID,
		Status:        job.OutcomeSucceeded,
		Attempts:      attempts,
		Target:        target,
	}
}

// renderFilename evaluates the destination's filename template and falls
// back to the source name. The source extension is kept unless the template
// supplies its own.
func (e *Engine) renderFilename(render func(string) (string, error), path string, dest config.Export) (string, error) {
	ext := filepath.Ext(path)
	if dest.Filename == "" {
		return filepath.Base(path), nil
	}
	name, err := render(dest.Filename)
	if err != nil {
		return "", err
	}
	name = Sanitize(name)
	if name == "" {
		return "", fmt.Errorf("filename template produced an empty name")
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	return name, nil
}

// Sanitize strips characters that are path separators or otherwise illegal
// in common filesystems, collapsing them to underscores.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			b.WriteRune('_')
		default:
			if r < 0x20 {
				b.WriteRune('_')
			} else {
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(strings.TrimSpace(b.String()), ".")
}

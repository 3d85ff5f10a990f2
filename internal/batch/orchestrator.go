// Package batch runs cases through a bounded worker pool and streams their
// results to an output sink as they complete.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/agentoven/rootcause/internal/config"
	"github.com/agentoven/agentoven/rootcause/internal/errhandler"
	"github.com/agentoven/agentoven/rootcause/internal/output"
	"github.com/agentoven/agentoven/rootcause/internal/store"
	"github.com/agentoven/agentoven/rootcause/internal/telemetry"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// CaseRunner diagnoses one case. Run must always return a result.
type CaseRunner interface {
	Run(ctx context.Context, c models.Case) *models.DiagnosisResult
}

// Options size a batch run.
type Options struct {
	RunID         string
	Concurrency   int
	Timeout       time.Duration
	ProgressEvery int
}

// OptionsFrom derives run options from the batch configuration.
func OptionsFrom(cfg config.BatchConfig) Options {
	return Options{
		Concurrency:   cfg.Concurrency,
		Timeout:       cfg.Timeout,
		ProgressEvery: cfg.ProgressEvery,
	}
}

// Deps are the collaborators of an Orchestrator. History, Feed and Metrics
// are optional.
type Deps struct {
	Runner  CaseRunner
	Sink    output.Sink
	History store.Store
	Feed    *Feed
	Metrics *telemetry.Metrics
	Log     zerolog.Logger
}

// Orchestrator runs one batch. Summary snapshots may be read concurrently
// with Run.
type Orchestrator struct {
	opts Options
	deps Deps

	mu      sync.Mutex
	summary models.BatchSummary
}

// New returns an Orchestrator. A run ID is generated when none is given.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Runner == nil {
		return nil, errors.New("batch: case runner is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("batch: output sink is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ProgressEvery < 1 {
		opts.ProgressEvery = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if deps.Feed == nil {
		deps.Feed = NewFeed(256)
	}
	return &Orchestrator{
		opts:    opts,
		deps:    deps,
		summary: models.BatchSummary{RunID: opts.RunID, FailureReasons: map[string]int{}},
	}, nil
}

func (o *Orchestrator) RunID() string { return o.opts.RunID }
func (o *Orchestrator) Feed() *Feed   { return o.deps.Feed }

// ── Run ──────────────────────────────────────────────────────

// Run diagnoses cases with at most Concurrency in flight and returns the
// final summary. A failing sink aborts the run with a *errhandler.SinkError
// after cancelling in-flight cases. Cancellation of ctx, or the batch
// timeout, ends every remaining case as cancelled; the results are still
// written and the context error is returned.
func (o *Orchestrator) Run(ctx context.Context, cases []models.Case) (models.BatchSummary, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	runCtx, span := telemetry.Tracer().Start(runCtx, "batch.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.run_id", o.opts.RunID),
		attribute.Int("batch.cases", len(cases)),
		attribute.Int("batch.concurrency", o.opts.Concurrency),
	)

	o.reset(len(cases))
	o.deps.Log.Info().
		Str("run_id", o.opts.RunID).
		Int("cases", len(cases)).
		Int("concurrency", o.opts.Concurrency).
		Msg("Batch started")

	results := make(chan *models.DiagnosisResult, o.opts.Concurrency)
	written := make(chan error, 1)
	go func() { written <- o.write(runCtx, results, abort) }()

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, c := range cases {
		c := c
		g.Go(func() error {
			results <- o.runCase(runCtx, c)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	sinkErr := <-written

	summary := o.finish()
	o.deps.Feed.Publish(Event{Kind: EventRunFinished, Completed: summary.Completed, Total: summary.Total})
	o.deps.Log.Info().
		Str("run_id", o.opts.RunID).
		Int("completed", summary.Completed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.Elapsed).
		Msg("Batch finished")

	switch {
	case sinkErr != nil:
		span.SetStatus(codes.Error, "sink failed")
		return summary, sinkErr
	case ctx.Err() != nil:
		span.SetStatus(codes.Error, "cancelled")
		return summary, fmt.Errorf("batch %s interrupted: %w", o.opts.RunID, ctx.Err())
	}
	return summary, nil
}

// write is the single writer: it owns the sink and the summary counters.
func (o *Orchestrator) write(ctx context.Context, results <-chan *models.DiagnosisResult, abort context.CancelFunc) error {
	var failed error
	for res := range results {
		if failed != nil {
			continue
		}
		if err := o.deps.Sink.Write(res); err != nil {
			failed = &errhandler.SinkError{Op: "write " + res.UUID, Err: err}
			o.deps.Log.Error().Err(err).Str("uuid", res.UUID).Msg("Output sink failed, aborting batch")
			abort()
			continue
		}
		o.record(res)

		if o.deps.History != nil {
			if err := o.deps.History.SaveResult(context.WithoutCancel(ctx), store.NewRecord(o.opts.RunID, res)); err != nil {
				o.deps.Log.Warn().Err(err).Str("uuid", res.UUID).Msg("History not saved")
			}
		}
	}
	return failed
}

func (o *Orchestrator) runCase(ctx context.Context, c models.Case) *models.DiagnosisResult {
	o.started(c)
	start := time.Now()

	res := o.safeRun(ctx, c)
	res.UUID = c.UUID
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	o.deps.Metrics.CaseFinished(string(res.Status), time.Since(start))
	return res
}

// safeRun converts a runner panic into a failed result.
func (o *Orchestrator) safeRun(ctx context.Context, c models.Case) (res *models.DiagnosisResult) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Log.Error().
				Str("uuid", c.UUID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Case runner panicked")
			res = models.NewFallback(c, models.StatusFailed, models.FailureException, fmt.Sprint(r))
		}
	}()
	res = o.deps.Runner.Run(ctx, c)
	if res == nil {
		res = models.NewFallback(c, models.StatusFailed, models.FailureException, "runner returned no result")
	}
	return res
}

// ── Summary ──────────────────────────────────────────────────

func (o *Orchestrator) reset(total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary = models.BatchSummary{
		RunID:          o.opts.RunID,
		Total:          total,
		FailureReasons: map[string]int{},
		StartedAt:      time.Now().UTC(),
	}
}

func (o *Orchestrator) started(c models.Case) {
	o.mu.Lock()
	o.summary.InFlight++
	o.mu.Unlock()

	o.deps.Metrics.CaseStarted()
	o.deps.Feed.Publish(Event{Kind: EventCaseStarted, UUID: c.UUID})
}

func (o *Orchestrator) record(res *models.DiagnosisResult) {
	o.mu.Lock()
	s := &o.summary
	s.Completed++
	if s.InFlight > 0 {
		s.InFlight--
	}
	if res.Succeeded() {
		s.Succeeded++
	} else {
		s.Failed++
		s.FailureReasons[failureKey(res)]++
	}
	refresh(s, time.Now())
	snap := copySummary(*s)
	o.mu.Unlock()

	o.deps.Feed.Publish(Event{
		Kind:      EventCaseFinished,
		UUID:      res.UUID,
		Status:    string(res.Status),
		Reason:    res.FailureReason,
		Completed: snap.Completed,
		Total:     snap.Total,
	})
	o.deps.Log.Debug().
		Str("uuid", res.UUID).
		Str("status", string(res.Status)).
		Str("component", res.Component).
		Msg("Result written")

	if snap.Completed%o.opts.ProgressEvery == 0 || snap.Completed == snap.Total {
		o.deps.Log.Info().
			Int("completed", snap.Completed).
			Int("total", snap.Total).
			Float64("success_rate", snap.SuccessRate).
			Float64("cases_per_min", snap.PerMinute).
			Dur("eta", snap.ETA).
			Msg("Batch progress")
	}
}

func (o *Orchestrator) finish() models.BatchSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.InFlight = 0
	refresh(&o.summary, time.Now())
	return copySummary(o.summary)
}

// Snapshot returns the current summary.
func (o *Orchestrator) Snapshot() models.BatchSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := copySummary(o.summary)
	if !s.StartedAt.IsZero() && s.Completed < s.Total {
		refresh(&s, time.Now())
	}
	return s
}

func failureKey(res *models.DiagnosisResult) string {
	if res.FailureReason != "" {
		return res.FailureReason
	}
	return string(res.Status)
}

func refresh(s *models.BatchSummary, now time.Time) {
	s.Elapsed = now.Sub(s.StartedAt)
	if s.Completed > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Completed)
	}
	if mins := s.Elapsed.Minutes(); mins > 0 {
		s.PerMinute = float64(s.Completed) / mins
	}
	s.ETA = 0
	if remaining := s.Total - s.Completed; remaining > 0 && s.PerMinute > 0 {
		s.ETA = time.Duration(float64(remaining) / s.PerMinute * float64(time.Minute))
	}
}

func copySummary(s models.BatchSummary) models.BatchSummary {
	reasons := make(map[string]int, len(s.FailureReasons))
	for k, v := range s.FailureReasons {
		reasons[k] = v
	}
	s.FailureReasons = reasons
	return s
}

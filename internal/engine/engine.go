package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/store"
)

var tracer = otel.Tracer("qexec.engine")

// progressSteps is the number of progress events an emulated run emits.
const progressSteps = 10

// Engine runs kernels on a platform and records every run in the store.
type Engine struct {
	platform *Platform
	store    store.Store
	logger   *slog.Logger
	broker   *EventBroker
	wg       sync.WaitGroup
}

// NewEngine creates a new execution engine.
func NewEngine(p *Platform, s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		platform: p,
		store:    s,
		logger:   logger,
		broker:   NewEventBroker(),
	}
}

// Platform returns the platform the engine runs on.
func (e *Engine) Platform() *Platform {
	return e.platform
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Wait blocks until every in-flight asynchronous run has been recorded.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close drains the platform's workers and waits for outstanding bookkeeping.
func (e *Engine) Close() error {
	err := e.platform.Close()
	e.wg.Wait()
	return err
}

// Sample runs k on the given QPU and returns the aggregated counts. It runs
// on the caller's goroutine.
func (e *Engine) Sample(ctx context.Context, k Kernel, shots, qpuID int) (model.SampleResult, error) {
	run, err := e.SampleRun(ctx, k, shots, qpuID)
	if err != nil {
		return model.SampleResult{}, err
	}
	return run.Result(), nil
}

// SampleRun is Sample returning the final run record. A failed run is
// returned together with its error.
func (e *Engine) SampleRun(ctx context.Context, k Kernel, shots, qpuID int) (*model.Run, error) {
	q, err := e.check(k, shots, qpuID)
	if err != nil {
		return nil, err
	}
	tr, err := e.create(ctx, k, q, shots, false)
	if err != nil {
		return nil, err
	}

	out, err := e.execute(ctx, tr, k, q, false)
	if err != nil {
		return tr.run, err
	}
	e.finishCompleted(tr, out.result)
	return tr.run, nil
}

// check validates a sampling request before anything is created.
func (e *Engine) check(k Kernel, shots, qpuID int) (*QPU, error) {
	if err := k.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if shots <= 0 {
		return nil, fmt.Errorf("shots must be positive, got %d: %w", shots, ErrInvalidArgument)
	}
	q, err := e.platform.QPU(qpuID)
	if err != nil {
		return nil, err
	}
	if e.platform.Closed() {
		return nil, ErrClosed
	}
	return q, nil
}

// tracker carries a run record through its lifecycle.
type tracker struct {
	run   *model.Run
	seq   atomic.Int32
	start time.Time
}

func (e *Engine) create(ctx context.Context, k Kernel, q *QPU, shots int, async bool) (*tracker, error) {
	run := &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Kernel:    k.Name,
		QPU:       q.id,
		Shots:     shots,
		Async:     async,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	tr := &tracker{run: run}
	e.emit(tr, model.RunEvent{
		Kind:    model.EventQueued,
		Message: fmt.Sprintf("queued %s on qpu %d (%s)", k.Name, q.id, q.backend),
	})
	return tr, nil
}

// emit numbers ev within its run, persists it for history and publishes it
// to live subscribers.
func (e *Engine) emit(tr *tracker, ev model.RunEvent) {
	ev.RunID = tr.run.ID
	ev.Seq = int(tr.seq.Add(1) - 1)
	ev.CreatedAt = time.Now().UTC()
	if err := e.store.InsertEvent(context.Background(), &ev); err != nil {
		e.logger.Error("failed to persist run event", "run_id", ev.RunID, "seq", ev.Seq, "kind", ev.Kind, "error", err)
	}
	e.broker.Publish(ev)
}

// progressReporter returns the shot callback of an emulated run. At most
// progressSteps events are emitted, the last one for the final shot.
func (e *Engine) progressReporter(tr *tracker) func(done, total int) {
	step := max(1, tr.run.Shots/progressSteps)
	return func(done, total int) {
		if done%step != 0 && done != total {
			return
		}
		e.emit(tr, model.RunEvent{
			Kind:    model.EventProgress,
			Message: fmt.Sprintf("shot %d of %d", done, total),
			Shot:    done,
			Shots:   total,
		})
	}
}

// execute moves the run to running and drives the kernel. On failure the
// run is finished as failed. A successful outcome is left for the caller to
// finish, since it may still be pending behind a future.
func (e *Engine) execute(ctx context.Context, tr *tracker, k Kernel, q *QPU, async bool) (samplingOutcome, error) {
	ctx, span := tracer.Start(ctx, "engine.sample",
		trace.WithAttributes(
			attribute.String("kernel", k.Name),
			attribute.Int("qpu", q.id),
			attribute.Int("shots", tr.run.Shots),
			attribute.Bool("async", tr.run.Async),
		),
	)
	defer span.End()

	if err := e.store.UpdateRunStatus(ctx, tr.run.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", tr.run.ID, "error", err)
		err = fmt.Errorf("start run: %w", err)
		e.finishFailed(tr, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return samplingOutcome{}, err
	}
	tr.start = time.Now()
	now := tr.start.UTC()
	tr.run.Status = model.StatusRunning
	tr.run.StartedAt = &now
	tr.run.Path = samplingPath(k, q)
	span.SetAttributes(attribute.String("path", tr.run.Path))
	e.emit(tr, model.RunEvent{
		Kind:    model.EventRunning,
		Message: fmt.Sprintf("running on qpu %d via %s path", q.id, tr.run.Path),
	})

	out, err := runSampling(q, k, tr.run.Shots, async, e.progressReporter(tr))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.finishFailed(tr, err)
		return out, err
	}
	return out, nil
}

func (e *Engine) finishCompleted(tr *tracker, result model.SampleResult) {
	defer e.broker.Close(tr.run.ID)

	dur := int(time.Since(tr.start).Milliseconds())
	now := time.Now().UTC()
	counts := make(map[string]int, len(result.Counts))
	for bits, n := range result.Counts {
		counts[bits] = n
	}
	tr.run.Status = model.StatusCompleted
	tr.run.Counts = counts
	tr.run.DurationMS = &dur
	tr.run.FinishedAt = &now

	if err := e.store.UpdateRun(context.Background(), tr.run); err != nil {
		e.logger.Error("failed to update completed run", "run_id", tr.run.ID, "error", err)
	}
	runsTotal.WithLabelValues(tr.run.Path, model.StatusCompleted).Inc()
	runDuration.WithLabelValues(tr.run.Path).Observe(time.Since(tr.start).Seconds())
	shotsRequested.Add(float64(tr.run.Shots))

	e.emit(tr, model.RunEvent{
		Kind:    model.EventCompleted,
		Message: fmt.Sprintf("completed with %d outcomes over %d shots", len(counts), result.Total()),
	})
	e.logger.Info("run completed", "run_id", tr.run.ID, "kernel", tr.run.Kernel,
		"qpu", tr.run.QPU, "path", tr.run.Path, "duration_ms", dur)
}

// finishFailed marks a run as failed with err's message. The start time may
// be zero if execution never started.
func (e *Engine) finishFailed(tr *tracker, err error) {
	defer e.broker.Close(tr.run.ID)

	now := time.Now().UTC()
	var dur int
	if !tr.start.IsZero() {
		dur = int(time.Since(tr.start).Milliseconds())
	}
	tr.run.Status = model.StatusFailed
	tr.run.Error = err.Error()
	tr.run.DurationMS = &dur
	tr.run.FinishedAt = &now

	if uerr := e.store.UpdateRun(context.Background(), tr.run); uerr != nil {
		e.logger.Error("failed to update failed run", "run_id", tr.run.ID, "error", uerr)
	}
	if tr.run.Path != "" {
		runsTotal.WithLabelValues(tr.run.Path, model.StatusFailed).Inc()
	}

	e.emit(tr, model.RunEvent{Kind: model.EventFailed, Message: err.Error()})
	e.logger.Warn("run failed", "run_id", tr.run.ID, "kernel", tr.run.Kernel,
		"qpu", tr.run.QPU, "error", err)
}

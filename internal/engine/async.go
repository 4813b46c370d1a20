package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

// AsyncSampleResult is a handle to a sampling run that completes in the
// background.
type AsyncSampleResult struct {
	run    model.Run
	future *backend.Future
}

// RunID returns the id of the run record.
func (r *AsyncSampleResult) RunID() string {
	return r.run.ID
}

// Run returns the run record as it was when the run was submitted.
func (r *AsyncSampleResult) Run() model.Run {
	return r.run
}

// Done returns a channel that is closed once the result is available.
func (r *AsyncSampleResult) Done() <-chan struct{} {
	return r.future.Done()
}

// Get blocks until the run finishes and returns its counts.
func (r *AsyncSampleResult) Get() (model.SampleResult, error) {
	return r.future.Get()
}

// SampleAsync runs k on the given QPU without blocking the caller.
//
// The QPU id is validated before anything is created. On a local QPU the
// run is queued to the QPU's worker. On a remote QPU the kernel is driven on
// the caller's goroutine and the handle wraps the future published by the
// remote executor.
func (e *Engine) SampleAsync(ctx context.Context, k Kernel, shots, qpuID int) (*AsyncSampleResult, error) {
	q, err := e.check(k, shots, qpuID)
	if err != nil {
		return nil, err
	}
	tr, err := e.create(ctx, k, q, shots, true)
	if err != nil {
		return nil, err
	}
	handle := &AsyncSampleResult{run: *tr.run}

	if q.caps.Remote {
		handle.future = e.sampleRemote(ctx, tr, k, q)
		return handle, nil
	}

	fut := backend.NewFuture()
	handle.future = fut
	bg := context.WithoutCancel(ctx)
	err = e.platform.enqueue(q, func() {
		out, err := e.execute(bg, tr, k, q, false)
		if err != nil {
			fut.Set(model.SampleResult{}, err)
			return
		}
		e.finishCompleted(tr, out.result)
		fut.Set(out.result, nil)
	})
	if err != nil {
		e.finishFailed(tr, fmt.Errorf("submit to qpu %d: %w", q.id, err))
		return nil, err
	}
	return handle, nil
}

func (e *Engine) sampleRemote(ctx context.Context, tr *tracker, k Kernel, q *QPU) *backend.Future {
	out, err := e.execute(ctx, tr, k, q, true)
	if err != nil {
		fut := backend.NewFuture()
		fut.Set(model.SampleResult{}, err)
		return fut
	}
	if out.future == nil {
		fut := backend.NewFuture()
		e.finishCompleted(tr, out.result)
		fut.Set(out.result, nil)
		return fut
	}

	done := backend.NewFuture()
	e.wg.Go(func() {
		res, err := out.future.Get()
		if err != nil {
			e.finishFailed(tr, err)
		} else {
			e.finishCompleted(tr, res)
		}
		done.Set(res, err)
	})
	return done
}

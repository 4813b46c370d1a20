package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/backend/statevector"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/qis"
)

func TestSampleAsyncLocal(t *testing.T) {
	env := newTestEnv(t, statevector.BackendName)
	ctx := context.Background()

	handles := make([]*engine.AsyncSampleResult, 5)
	for i := range handles {
		h, err := env.eng.SampleAsync(ctx, bell(false), 200, 0)
		if err != nil {
			t.Fatalf("SampleAsync[%d]: %v", i, err)
		}
		if h.Run().Status != model.StatusPending || !h.Run().Async {
			t.Errorf("handle run = %+v, want pending async", h.Run())
		}
		handles[i] = h
	}

	for i, h := range handles {
		res, err := h.Get()
		if err != nil {
			t.Fatalf("Get[%d]: %v", i, err)
		}
		if res.Total() != 200 {
			t.Errorf("Get[%d] Total() = %d, want 200", i, res.Total())
		}
		run, err := env.store.GetRun(ctx, h.RunID())
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status != model.StatusCompleted {
			t.Errorf("run %d status = %q, want completed", i, run.Status)
		}
	}
}

func TestSampleAsyncInterleavesWithSync(t *testing.T) {
	env := newTestEnv(t, statevector.BackendName, statevector.BackendName)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 10 {
		qpu := i % 2
		wg.Go(func() {
			h, err := env.eng.SampleAsync(ctx, bell(true), 20, qpu)
			if err != nil {
				errs <- err
				return
			}
			if res, err := h.Get(); err != nil || res.Total() != 20 {
				errs <- errors.Join(err, errors.New("async total mismatch"))
			}
		})
		wg.Go(func() {
			res, err := env.eng.Sample(ctx, bell(false), 50, qpu)
			if err != nil || res.Total() != 50 {
				errs <- errors.Join(err, errors.New("sync total mismatch"))
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSampleAsyncKernelError(t *testing.T) {
	env := newTestEnv(t, "stub")
	k := bell(false)
	boom := errors.New("boom")
	k.Body = func(*qis.Manager) error { return boom }

	h, err := env.eng.SampleAsync(context.Background(), k, 10, 0)
	if err != nil {
		t.Fatalf("SampleAsync: %v", err)
	}
	if _, err := h.Get(); !errors.Is(err, boom) {
		t.Errorf("Get error = %v, want boom", err)
	}
	run, _ := env.store.GetRun(context.Background(), h.RunID())
	if run.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", run.Status)
	}
}

func TestSampleAsyncRemote(t *testing.T) {
	env := newTestEnv(t, "remote")
	stub := env.stubs["remote"]
	stub.gate = make(chan struct{})

	h, err := env.eng.SampleAsync(context.Background(), bell(false), 128, 0)
	if err != nil {
		t.Fatalf("SampleAsync: %v", err)
	}
	if !env.eng.Platform().IsRemote(0) {
		t.Fatal("qpu 0 should be remote")
	}

	select {
	case <-h.Done():
		t.Fatal("remote result resolved before the job finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(stub.gate)
	res, err := h.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Count("1") != 128 {
		t.Errorf("counts = %v, want map[1:128]", res.Counts)
	}

	env.eng.Wait()
	run, err := env.store.GetRun(context.Background(), h.RunID())
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != model.StatusCompleted || run.Path != model.PathRemote {
		t.Errorf("run = %+v, want completed via remote", run)
	}
}

func TestSampleAsyncRemoteFailure(t *testing.T) {
	env := newTestEnv(t, "remote")
	env.stubs["remote"].remoteErr = errors.New("job rejected")

	h, err := env.eng.SampleAsync(context.Background(), bell(false), 8, 0)
	if err != nil {
		t.Fatalf("SampleAsync: %v", err)
	}
	if _, err := h.Get(); err == nil {
		t.Fatal("expected remote error")
	}
	env.eng.Wait()

	run, _ := env.store.GetRun(context.Background(), h.RunID())
	if run.Status != model.StatusFailed || run.Error != "job rejected" {
		t.Errorf("run = %+v, want failed with remote error", run)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	env := newTestEnv(t, "stub")
	if err := env.eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := env.eng.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := env.eng.SampleAsync(context.Background(), bell(false), 1, 0); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("SampleAsync error = %v, want ErrClosed", err)
	}
	if _, err := env.eng.Sample(context.Background(), bell(false), 1, 0); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("Sample error = %v, want ErrClosed", err)
	}
}

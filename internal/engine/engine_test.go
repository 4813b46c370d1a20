package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/statevector"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/qis"
	"github.com/seantiz/qexec/internal/store"
)

// stubExecutor is a configurable executor for engine tests. In sample
// contexts it records a single "1" outcome per produced shot.
type stubExecutor struct {
	caps      backend.Capabilities
	live      map[int]bool
	ended     int
	aborted   int
	gate      chan struct{} // delays remote futures until closed
	remoteErr error
}

func newStub(caps backend.Capabilities) *stubExecutor {
	return &stubExecutor{caps: caps, live: make(map[int]bool)}
}

func (s *stubExecutor) AllocateQudit(q model.QuditRef) error {
	s.live[q.ID] = true
	return nil
}

func (s *stubExecutor) DeallocateQudit(id int) error {
	delete(s.live, id)
	return nil
}

func (s *stubExecutor) ExecuteInstruction(model.Instruction) error { return nil }
func (s *stubExecutor) MeasureQudit(model.QuditRef) (int, error) { return 1, nil }
func (s *stubExecutor) OnContextChanged(*backend.ExecutionContext) error { return nil }
func (s *stubExecutor) Capabilities() backend.Capabilities { return s.caps }

func (s *stubExecutor) OnContextEnded(ctx *backend.ExecutionContext) error {
	if ctx == nil {
		return nil
	}
	if ctx.Aborted {
		s.aborted++
		return nil
	}
	s.ended++
	n := ctx.Shots
	if ctx.HasConditionalFeedback && !s.caps.ConditionalFeedback {
		n = 1
	}
	res := model.NewSampleResult()
	res.Add("1", n)

	if ctx.Async && s.caps.Remote {
		fut := backend.NewFuture()
		ctx.Future = fut
		gate, remoteErr := s.gate, s.remoteErr
		go func() {
			if gate != nil {
				<-gate
			}
			if remoteErr != nil {
				fut.Set(model.SampleResult{}, remoteErr)
				return
			}
			fut.Set(res, nil)
		}()
		return nil
	}
	ctx.Result.Merge(res)
	return nil
}

type testEnv struct {
	eng   *engine.Engine
	store store.Store
	stubs map[string]*stubExecutor
}

// newTestEnv builds an engine whose QPUs use the named backends. "statevector"
// is the real simulator; "stub", "feedback" and "remote" are stubs.
func newTestEnv(t *testing.T, backends ...string) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	env := &testEnv{store: s, stubs: map[string]*stubExecutor{
		"stub":     newStub(backend.Capabilities{Name: "stub"}),
		"feedback": newStub(backend.Capabilities{Name: "feedback", ConditionalFeedback: true}),
		"remote":   newStub(backend.Capabilities{Name: "remote", Remote: true}),
	}}

	reg := backend.NewRegistry()
	reg.Register(statevector.BackendName, backend.Capabilities{Name: statevector.BackendName}, statevector.Factory(logger))
	for name, stub := range env.stubs {
		reg.Register(name, stub.caps, func(backend.Options) (backend.Executor, error) { return stub, nil })
	}

	specs := make([]engine.QPUSpec, len(backends))
	for i, b := range backends {
		specs[i] = engine.QPUSpec{Backend: b, Options: backend.Options{Seed: uint64(i + 1)}}
	}
	p, err := engine.NewPlatform(reg, specs, logger)
	if err != nil {
		t.Fatalf("NewPlatform: %v", err)
	}
	env.eng = engine.NewEngine(p, s, logger)
	t.Cleanup(func() { env.eng.Close() })
	return env
}

func bell(feedback bool) engine.Kernel {
	return engine.Kernel{
		Name:                "bell",
		ConditionalFeedback: feedback,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(2)
			if err != nil {
				return err
			}
			if err := m.H(qs[0]); err != nil {
				return err
			}
			if err := m.CX(qs[0], qs[1]); err != nil {
				return err
			}
			if _, err := m.MeasureAll(qs); err != nil {
				return err
			}
			return m.ReturnAll(qs)
		},
	}
}

// counting wraps k so that every invocation increments *n.
func counting(k engine.Kernel, n *int) engine.Kernel {
	body := k.Body
	k.Body = func(m *qis.Manager) error {
		*n++
		return body(m)
	}
	return k
}

func assertBellCounts(t *testing.T, res model.SampleResult, shots int) {
	t.Helper()
	if res.Total() != shots {
		t.Fatalf("Total() = %d, want %d", res.Total(), shots)
	}
	for _, bits := range res.Bitstrings() {
		if bits != "00" && bits != "11" {
			t.Errorf("unexpected outcome %q in %v", bits, res.Counts)
		}
	}
	for _, bits := range []string{"00", "11"} {
		if p := res.Probability(bits); p < 0.4 || p > 0.6 {
			t.Errorf("P(%s) = %.3f, want about 0.5", bits, p)
		}
	}
}

func TestSampleNativePath(t *testing.T) {
	env := newTestEnv(t, statevector.BackendName)
	var calls int

	run, err := env.eng.SampleRun(context.Background(), counting(bell(false), &calls), 1000, 0)
	if err != nil {
		t.Fatalf("SampleRun: %v", err)
	}
	if calls != 1 {
		t.Errorf("kernel invoked %d times, want 1", calls)
	}
	assertBellCounts(t, run.Result(), 1000)

	if run.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.Path != model.PathNative {
		t.Errorf("Path = %q, want %q", run.Path, model.PathNative)
	}

	stored, err := env.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != model.StatusCompleted || stored.Result().Total() != 1000 {
		t.Errorf("stored run = %+v", stored)
	}
	if stored.StartedAt == nil || stored.FinishedAt == nil || stored.DurationMS == nil {
		t.Error("stored run is missing timing fields")
	}
}

func TestSampleEmulatedFidelity(t *testing.T) {
	env := newTestEnv(t, statevector.BackendName)
	var calls int

	res, err := env.eng.Sample(context.Background(), counting(bell(true), &calls), 1000, 0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if calls != 1000 {
		t.Errorf("kernel invoked %d times, want one per shot", calls)
	}
	assertBellCounts(t, res, 1000)
}

func TestSampleEmulatedReleasesQubitsEachShot(t *testing.T) {
	env := newTestEnv(t, "stub")
	stub := env.stubs["stub"]
	var calls int

	res, err := env.eng.Sample(context.Background(), counting(bell(true), &calls), 25, 0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if calls != 25 || stub.ended != 25 {
		t.Errorf("calls = %d, context ends = %d, want 25 each", calls, stub.ended)
	}
	if res.Count("1") != 25 {
		t.Errorf("counts = %v, want map[1:25]", res.Counts)
	}
	if len(stub.live) != 0 {
		t.Errorf("%d qubits still allocated", len(stub.live))
	}
}

func TestSampleNativeFeedbackPath(t *testing.T) {
	env := newTestEnv(t, "feedback")
	var calls int

	run, err := env.eng.SampleRun(context.Background(), counting(bell(true), &calls), 300, 0)
	if err != nil {
		t.Fatalf("SampleRun: %v", err)
	}
	if calls != 1 {
		t.Errorf("kernel invoked %d times, want 1", calls)
	}
	if run.Path != model.PathNativeFeedback {
		t.Errorf("Path = %q, want %q", run.Path, model.PathNativeFeedback)
	}
	if run.Counts["1"] != 300 {
		t.Errorf("counts = %v, want map[1:300]", run.Counts)
	}
}

func TestSampleRemoteSync(t *testing.T) {
	env := newTestEnv(t, "remote")

	run, err := env.eng.SampleRun(context.Background(), bell(false), 64, 0)
	if err != nil {
		t.Fatalf("SampleRun: %v", err)
	}
	if run.Path != model.PathRemote {
		t.Errorf("Path = %q, want %q", run.Path, model.PathRemote)
	}
	if run.Counts["1"] != 64 {
		t.Errorf("counts = %v", run.Counts)
	}
}

func TestInvalidQPUHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, "stub")
	var calls int
	k := counting(bell(false), &calls)

	for _, id := range []int{-1, 1, 7} {
		if _, err := env.eng.Sample(context.Background(), k, 10, id); !errors.Is(err, engine.ErrInvalidArgument) {
			t.Errorf("Sample(qpu %d) error = %v, want ErrInvalidArgument", id, err)
		}
		if _, err := env.eng.SampleAsync(context.Background(), k, 10, id); !errors.Is(err, engine.ErrInvalidArgument) {
			t.Errorf("SampleAsync(qpu %d) error = %v, want ErrInvalidArgument", id, err)
		}
	}

	if calls != 0 {
		t.Errorf("kernel invoked %d times", calls)
	}
	_, total, err := env.store.ListRuns(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 0 {
		t.Errorf("%d runs recorded for invalid requests", total)
	}
}

func TestInvalidArguments(t *testing.T) {
	env := newTestEnv(t, "stub")
	ctx := context.Background()

	tests := []struct {
		name   string
		kernel engine.Kernel
		shots  int
	}{
		{"zero shots", bell(false), 0},
		{"negative shots", bell(false), -3},
		{"no body", engine.Kernel{Name: "empty"}, 10},
		{"no name", engine.Kernel{Body: bell(false).Body}, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.eng.Sample(ctx, tc.kernel, tc.shots, 0); !errors.Is(err, engine.ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestKernelErrorFailsRun(t *testing.T) {
	env := newTestEnv(t, "stub")
	stub := env.stubs["stub"]
	boom := errors.New("boom")

	k := engine.Kernel{Name: "broken", Body: func(m *qis.Manager) error {
		qs, err := m.AllocateQubits(3)
		if err != nil {
			return err
		}
		m.StartAdjointRegion()
		if err := m.H(qs[0]); err != nil {
			return err
		}
		return boom
	}}

	run, err := env.eng.SampleRun(context.Background(), k, 10, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("SampleRun error = %v, want boom", err)
	}
	if run.Status != model.StatusFailed || !strings.Contains(run.Error, "boom") {
		t.Errorf("run = %+v, want failed with boom", run)
	}
	if len(stub.live) != 0 {
		t.Errorf("%d qubits leaked by the failed kernel", len(stub.live))
	}
	if stub.aborted != 1 || stub.ended != 0 {
		t.Errorf("aborted = %d, ended = %d; want the context reset as aborted", stub.aborted, stub.ended)
	}

	// The QPU is usable afterwards.
	res, err := env.eng.Sample(context.Background(), bell(false), 10, 0)
	if err != nil {
		t.Fatalf("Sample after failure: %v", err)
	}
	if res.Total() != 10 {
		t.Errorf("Total() = %d, want 10", res.Total())
	}
}

func TestRunEventsRecorded(t *testing.T) {
	env := newTestEnv(t, "stub")

	run, err := env.eng.SampleRun(context.Background(), bell(false), 5, 0)
	if err != nil {
		t.Fatalf("SampleRun: %v", err)
	}
	events, err := env.store.GetEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	for i, kind := range []string{model.EventQueued, model.EventRunning, model.EventCompleted} {
		if events[i].Kind != kind || events[i].Seq != i {
			t.Errorf("events[%d] = %+v, want seq %d kind %s", i, events[i], i, kind)
		}
	}
	if !strings.Contains(events[2].Message, "over 5 shots") {
		t.Errorf("completed message = %q", events[2].Message)
	}

	// The topic is closed once the run finishes.
	ch, unsub := env.eng.Broker().Subscribe(run.ID)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("expected a closed channel for a finished run")
	}
}

func TestEmulatedRunReportsProgress(t *testing.T) {
	env := newTestEnv(t, "stub")

	run, err := env.eng.SampleRun(context.Background(), bell(true), 40, 0)
	if err != nil {
		t.Fatalf("SampleRun: %v", err)
	}
	events, err := env.store.GetEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}

	var shots []int
	for i, ev := range events {
		if ev.Seq != i {
			t.Errorf("events[%d].Seq = %d", i, ev.Seq)
		}
		if ev.Kind == model.EventProgress {
			if ev.Shots != 40 {
				t.Errorf("progress event %+v, want 40 total shots", ev)
			}
			shots = append(shots, ev.Shot)
		}
	}
	want := []int{4, 8, 12, 16, 20, 24, 28, 32, 36, 40}
	if fmt.Sprint(shots) != fmt.Sprint(want) {
		t.Errorf("progress shots = %v, want %v", shots, want)
	}
	if last := events[len(events)-1]; last.Kind != model.EventCompleted {
		t.Errorf("last event = %+v, want completed", last)
	}
}

func TestLeftoverQubitsDoNotCarryOver(t *testing.T) {
	env := newTestEnv(t, statevector.BackendName)

	// Allocates two qubits, flips the first, and never returns them.
	leaky := engine.Kernel{Name: "leaky", Body: func(m *qis.Manager) error {
		qs, err := m.AllocateQubits(2)
		if err != nil {
			return err
		}
		return m.X(qs[0])
	}}

	for i := range 3 {
		res, err := env.eng.Sample(context.Background(), leaky, 10, 0)
		if err != nil {
			t.Fatalf("run %d: Sample: %v", i, err)
		}
		if res.Count("10") != 10 || len(res.Counts) != 1 {
			t.Errorf("run %d: counts = %v, want map[10:10]", i, res.Counts)
		}
	}
}

func TestLeftoverQubitsReleasedEachShot(t *testing.T) {
	env := newTestEnv(t, "stub")
	stub := env.stubs["stub"]

	leaky := engine.Kernel{Name: "leaky", ConditionalFeedback: true, Body: func(m *qis.Manager) error {
		if len(stub.live) != 0 {
			return fmt.Errorf("%d qubits live at kernel entry", len(stub.live))
		}
		_, err := m.AllocateQubits(2)
		return err
	}}

	if _, err := env.eng.Sample(context.Background(), leaky, 5, 0); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(stub.live) != 0 {
		t.Errorf("%d qubits still allocated", len(stub.live))
	}
}

func TestBrokerStreamsRunEvents(t *testing.T) {
	env := newTestEnv(t, "stub")
	started := make(chan struct{})
	release := make(chan struct{})

	k := engine.Kernel{Name: "gated", Body: func(m *qis.Manager) error {
		close(started)
		<-release
		return nil
	}}
	handle, err := env.eng.SampleAsync(context.Background(), k, 3, 0)
	if err != nil {
		t.Fatalf("SampleAsync: %v", err)
	}
	<-started

	ch, unsub := env.eng.Broker().Subscribe(handle.RunID())
	defer unsub()
	close(release)

	var kinds []string
	for ev := range ch {
		if ev.RunID != handle.RunID() {
			t.Errorf("event for run %q on run %q's stream", ev.RunID, handle.RunID())
		}
		kinds = append(kinds, ev.Kind)
	}
	want := []string{model.EventQueued, model.EventRunning, model.EventCompleted}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("streamed kinds = %v, want %v", kinds, want)
	}
	if _, err := handle.Get(); err != nil {
		t.Errorf("Get: %v", err)
	}
}

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

// BackendName is the name used when registering with the backend registry.
const BackendName = "remote"

// Executor implements backend.Executor by recording the operation stream of
// a sample context and running it as a job on a qexec HTTP service when the
// context ends.
type Executor struct {
	client *Client
	qpu    int
	logger *slog.Logger

	ctx  *backend.ExecutionContext
	prog Program
	live map[int]bool
}

// New creates a remote executor for the service at opts.Endpoint.
func New(opts backend.Options, logger *slog.Logger) (*Executor, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("remote executor requires an endpoint")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client: NewClient(opts.Endpoint),
		qpu:    opts.RemoteQPU,
		logger: logger.With("endpoint", opts.Endpoint),
		live:   make(map[int]bool),
	}, nil
}

// Factory returns a backend.Factory that builds remote executors.
func Factory(logger *slog.Logger) backend.Factory {
	return func(opts backend.Options) (backend.Executor, error) {
		return New(opts, logger)
	}
}

// Capabilities describes the remote executor.
func (e *Executor) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:   BackendName,
		Remote: true,
	}
}

// Program returns a copy of the stream recorded for the current context.
func (e *Executor) Program() Program {
	return Program{
		Qudits:       slices.Clone(e.prog.Qudits),
		Instructions: slices.Clone(e.prog.Instructions),
		Measured:     slices.Clone(e.prog.Measured),
	}
}

// AllocateQudit marks q live and adds it to the recorded program.
func (e *Executor) AllocateQudit(q model.QuditRef) error {
	if q.Levels != model.QubitLevels {
		return fmt.Errorf("allocate %s: %w", q, backend.ErrUnsupported)
	}
	if e.live[q.ID] {
		return fmt.Errorf("allocate %s: already allocated", q)
	}
	e.live[q.ID] = true
	if !slices.Contains(e.prog.Qudits, q) {
		e.prog.Qudits = append(e.prog.Qudits, q)
	}
	return nil
}

// DeallocateQudit marks the qubit free. The recorded program is unchanged.
func (e *Executor) DeallocateQudit(id int) error {
	if !e.live[id] {
		return fmt.Errorf("deallocate qubit %d: not allocated", id)
	}
	delete(e.live, id)
	return nil
}

// ExecuteInstruction appends in to the recorded program.
func (e *Executor) ExecuteInstruction(in model.Instruction) error {
	e.prog.Instructions = append(e.prog.Instructions, in)
	return nil
}

// MeasureQudit records a terminal measurement. Outcomes are only known once
// the job has run, so mid-circuit feedback is not supported.
func (e *Executor) MeasureQudit(q model.QuditRef) (int, error) {
	if e.ctx == nil || e.ctx.Mode != model.ModeSample {
		return 0, fmt.Errorf("measure %s outside a sample context: %w", q, backend.ErrUnsupported)
	}
	if e.ctx.HasConditionalFeedback {
		return 0, fmt.Errorf("measure %s with conditional feedback: %w", q, backend.ErrUnsupported)
	}
	if !slices.Contains(e.prog.Measured, q) {
		e.prog.Measured = append(e.prog.Measured, q)
	}
	return 0, nil
}

// OnContextChanged starts recording a new program for ctx.
func (e *Executor) OnContextChanged(ctx *backend.ExecutionContext) error {
	if ctx != nil && ctx.Mode != model.ModeSample {
		return fmt.Errorf("%s context: %w", ctx.Mode, backend.ErrUnsupported)
	}
	e.ctx = ctx
	e.prog = Program{}
	return nil
}

// OnContextEnded submits the recorded program. Synchronous contexts block
// until the job finishes and merge its counts into ctx.Result; asynchronous
// contexts get a future in ctx.Future that resolves when the job finishes.
func (e *Executor) OnContextEnded(ctx *backend.ExecutionContext) error {
	if ctx == nil {
		return nil
	}
	if ctx.Aborted {
		e.ctx = nil
		e.prog = Program{}
		return nil
	}
	prog := e.Program()
	req := JobRequest{
		Kernel:  ctx.KernelName,
		Shots:   ctx.Shots,
		QPU:     e.qpu,
		Program: &prog,
	}
	e.ctx = nil
	e.prog = Program{}

	if err := req.Validate(); err != nil {
		return fmt.Errorf("build job: %w", err)
	}
	e.logger.Debug("submitting remote job",
		"kernel", req.Kernel, "shots", req.Shots, "instructions", len(req.Program.Instructions))

	if ctx.Async {
		fut := backend.NewFuture()
		ctx.Future = fut
		go func() {
			res, err := e.client.Run(context.Background(), req)
			fut.Set(res, err)
		}()
		return nil
	}

	res, err := e.client.Run(context.Background(), req)
	if err != nil {
		return err
	}
	ctx.Result.Merge(res)
	return nil
}

package backend

import "github.com/seantiz/qexec/internal/model"

// ExecutionContext holds the per-run session state. A context is created for
// one top-level kernel invocation and attached to exactly one manager for the
// run's duration; it is not shared across concurrent runs.
type ExecutionContext struct {
	Mode       model.Mode
	Shots      int
	KernelName string

	// HasConditionalFeedback is set when the kernel branches on mid-circuit
	// measurement results.
	HasConditionalFeedback bool

	// Async is set when the caller expects the result through Future.
	Async bool

	// Aborted is set by the driver when the kernel failed. Executors must
	// not produce results for an aborted context.
	Aborted bool

	// Result accumulates the counts produced by the executor.
	Result model.SampleResult

	// Future is published by executors that deliver results asynchronously.
	Future *Future
}

// NewExecutionContext creates a context for the given mode and shot count.
func NewExecutionContext(mode model.Mode, shots int) *ExecutionContext {
	return &ExecutionContext{
		Mode:   mode,
		Shots:  shots,
		Result: model.NewSampleResult(),
	}
}

package backend

import (
	"errors"

	"github.com/seantiz/qexec/internal/model"
)

// ErrUnsupported is returned when an operation, operand shape, or execution
// mode is not supported. It is fatal to the current run.
var ErrUnsupported = errors.New("unsupported")

// Executor is the interface that every execution backend must implement. The
// runtime buffers operations and only calls ExecuteInstruction at
// synchronization points, in enqueue order.
type Executor interface {
	// AllocateQudit makes the given qudit physically available.
	AllocateQudit(q model.QuditRef) error

	// DeallocateQudit releases the qudit with the given id.
	DeallocateQudit(id int) error

	// ExecuteInstruction applies a fully rewritten instruction.
	ExecuteInstruction(inst model.Instruction) error

	// MeasureQudit measures q and returns the classical outcome.
	MeasureQudit(q model.QuditRef) (int, error)

	// OnContextChanged is called when a new execution context is installed.
	OnContextChanged(ctx *ExecutionContext) error

	// OnContextEnded is called when the current context is torn down, after
	// all buffered work has been flushed and before deferred qudits are
	// released. Sampling executors fill ctx.Result (or ctx.Future) here.
	OnContextEnded(ctx *ExecutionContext) error

	// Capabilities reports what this executor supports.
	Capabilities() Capabilities
}

// Capabilities describes what an executor supports.
type Capabilities struct {
	Name string `json:"name"`

	// ConditionalFeedback reports native support for kernels that branch on
	// mid-circuit measurement results across many shots.
	ConditionalFeedback bool `json:"conditional_feedback"`

	// Remote reports that execution happens outside this process and results
	// are delivered through a Future.
	Remote bool `json:"remote"`

	MaxQudits int `json:"max_qudits"`
}

// Options configures a new executor instance.
type Options struct {
	// Seed for pseudo-random measurement sampling. Zero picks a random seed.
	Seed uint64 `json:"seed,omitempty" yaml:"seed"`

	// MaxQudits bounds the number of simultaneously allocated qudits.
	MaxQudits int `json:"max_qudits,omitempty" yaml:"max_qudits"`

	// Endpoint is the base URL of a remote qexec service.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`

	// RemoteQPU selects the QPU index on the remote service.
	RemoteQPU int `json:"remote_qpu,omitempty" yaml:"remote_qpu"`
}

// Factory creates a fresh executor. Each QPU owns its own executor so that no
// state is shared across concurrently running QPUs.
type Factory func(opts Options) (Executor, error)

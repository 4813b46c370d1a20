package remote

import (
	"errors"
	"fmt"

	"github.com/seantiz/qexec/internal/model"
)

// MaxProgramInstructions bounds the size of a submitted program.
const MaxProgramInstructions = 1 << 16

// ErrInvalidJob is returned when a job request fails validation.
var ErrInvalidJob = errors.New("invalid job")

// Program is the flattened operation stream of one kernel invocation.
// Adjoint and control regions have already been applied, so instructions are
// executed exactly as listed.
type Program struct {
	Qudits       []model.QuditRef    `json:"qudits"`
	Instructions []model.Instruction `json:"instructions"`
	Measured     []model.QuditRef    `json:"measured,omitempty"`
}

// JobRequest is the JSON body of POST /v1/jobs and POST /v1/jobs/async.
// Exactly one of Program or a named library kernel describes the work.
type JobRequest struct {
	Kernel  string   `json:"kernel"`
	Qubits  int      `json:"qubits,omitempty"`
	Shots   int      `json:"shots"`
	QPU     int      `json:"qpu"`
	Program *Program `json:"program,omitempty"`
}

// Validate checks the request shape.
func (r JobRequest) Validate() error {
	if r.Kernel == "" {
		return fmt.Errorf("kernel is required: %w", ErrInvalidJob)
	}
	if r.Shots <= 0 {
		return fmt.Errorf("shots must be positive, got %d: %w", r.Shots, ErrInvalidJob)
	}
	if r.QPU < 0 {
		return fmt.Errorf("qpu must not be negative, got %d: %w", r.QPU, ErrInvalidJob)
	}
	if r.Program != nil {
		return r.Program.Validate()
	}
	return nil
}

// Validate checks that every operand refers to a declared qubit.
func (p *Program) Validate() error {
	if len(p.Instructions) > MaxProgramInstructions {
		return fmt.Errorf("program has %d instructions, maximum is %d: %w",
			len(p.Instructions), MaxProgramInstructions, ErrInvalidJob)
	}
	declared := make(map[int]bool, len(p.Qudits))
	for _, q := range p.Qudits {
		if q.Levels != model.QubitLevels {
			return fmt.Errorf("qudit %s is not a qubit: %w", q, ErrInvalidJob)
		}
		if declared[q.ID] {
			return fmt.Errorf("qudit %s declared twice: %w", q, ErrInvalidJob)
		}
		declared[q.ID] = true
	}
	check := func(where string, q model.QuditRef) error {
		if q.Levels != model.QubitLevels || !declared[q.ID] {
			return fmt.Errorf("%s uses undeclared qudit %s: %w", where, q, ErrInvalidJob)
		}
		return nil
	}
	for i, in := range p.Instructions {
		where := fmt.Sprintf("instruction %d (%s)", i, in.Name)
		for _, q := range in.Controls {
			if err := check(where, q); err != nil {
				return err
			}
		}
		for _, q := range in.Targets {
			if err := check(where, q); err != nil {
				return err
			}
		}
	}
	for _, q := range p.Measured {
		if err := check("measurement", q); err != nil {
			return err
		}
	}
	return nil
}

package engine

import (
	"errors"

	"github.com/seantiz/qexec/internal/qis"
)

// Kernel is a quantum function executed against a QPU's manager.
type Kernel struct {
	Name string

	// ConditionalFeedback marks kernels that branch on mid-circuit
	// measurement results.
	ConditionalFeedback bool

	Body func(m *qis.Manager) error
}

func (k Kernel) validate() error {
	if k.Name == "" {
		return errors.New("kernel name is required")
	}
	if k.Body == nil {
		return errors.New("kernel body is required")
	}
	return nil
}

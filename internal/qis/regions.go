package qis

import (
	"errors"

	"github.com/seantiz/qexec/internal/model"
)

// ErrNoActiveRegion is returned when closing an adjoint or control region
// that was never opened.
var ErrNoActiveRegion = errors.New("no active region")

// instructionQueue is a FIFO of buffered instructions.
type instructionQueue []model.Instruction

func (q *instructionQueue) push(in model.Instruction) {
	*q = append(*q, in)
}

func (q *instructionQueue) reset() {
	clear(*q)
	*q = (*q)[:0]
}

// drain hands every instruction to fn in FIFO order. If fn fails, the failing
// instruction and everything queued after it are discarded and the error is
// returned along with the number of discarded instructions.
func (q *instructionQueue) drain(fn func(model.Instruction) error) (int, error) {
	for i, in := range *q {
		if err := fn(in); err != nil {
			dropped := len(*q) - i
			q.reset()
			return dropped, err
		}
	}
	q.reset()
	return 0, nil
}

// adjointStack is an arena of instruction queues indexed by nesting depth.
// Queues above the current depth keep their backing arrays for reuse.
type adjointStack struct {
	scopes []instructionQueue
}

func (s *adjointStack) depth() int {
	return len(s.scopes)
}

func (s *adjointStack) open() {
	n := len(s.scopes)
	if n < cap(s.scopes) {
		s.scopes = s.scopes[:n+1]
		s.scopes[n].reset()
		return
	}
	s.scopes = append(s.scopes, nil)
}

func (s *adjointStack) enqueue(in model.Instruction) {
	s.scopes[len(s.scopes)-1].push(in)
}

// close pops the innermost scope and re-injects its contents in reverse order
// into the parent scope, or into live when it was the outermost one.
func (s *adjointStack) close(live *instructionQueue) error {
	n := len(s.scopes)
	if n == 0 {
		return ErrNoActiveRegion
	}
	top := s.scopes[n-1]
	s.scopes = s.scopes[:n-1]

	dest := live
	if n > 1 {
		dest = &s.scopes[n-2]
	}
	for i := len(top) - 1; i >= 0; i-- {
		dest.push(top[i])
	}
	return nil
}

func (s *adjointStack) reset() {
	for i := range s.scopes {
		s.scopes[i].reset()
	}
	s.scopes = s.scopes[:0]
}

// controlStack holds the extra control ids contributed by open control
// regions, in push order.
type controlStack struct {
	ids []int
}

func (s *controlStack) push(ids []int) {
	s.ids = append(s.ids, ids...)
}

// pop removes the last n ids regardless of their values.
func (s *controlStack) pop(n int) error {
	if n < 0 || n > len(s.ids) {
		return ErrNoActiveRegion
	}
	s.ids = s.ids[:len(s.ids)-n]
	return nil
}

// refs returns the current stack as 2-level qudit references.
func (s *controlStack) refs() []model.QuditRef {
	out := make([]model.QuditRef, len(s.ids))
	for i, id := range s.ids {
		out[i] = model.Qubit(id)
	}
	return out
}

func (s *controlStack) reset() {
	s.ids = s.ids[:0]
}

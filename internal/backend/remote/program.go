package remote

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/qis"
)

// ProgramKernel returns a kernel that replays req.Program on a local
// manager. Qubits are allocated in ascending id order so the bitstrings of
// the replay line up with the submitter's.
func ProgramKernel(req JobRequest) engine.Kernel {
	return engine.Kernel{
		Name: req.Kernel,
		Body: func(m *qis.Manager) error {
			if req.Program == nil {
				return fmt.Errorf("replay %s: %w", req.Kernel, ErrInvalidJob)
			}
			return replay(m, req.Program)
		},
	}
}

func replay(m *qis.Manager, p *Program) error {
	if err := p.Validate(); err != nil {
		return err
	}

	declared := slices.SortedFunc(slices.Values(p.Qudits), func(a, b model.QuditRef) int {
		return cmp.Compare(a.ID, b.ID)
	})
	local := make(map[int]model.QuditRef, len(declared))
	for _, q := range declared {
		ref, err := m.Allocate(q.Levels)
		if err != nil {
			return fmt.Errorf("replay allocate %s: %w", q, err)
		}
		local[q.ID] = ref
	}
	mapRefs := func(refs []model.QuditRef) []model.QuditRef {
		out := make([]model.QuditRef, len(refs))
		for i, r := range refs {
			out[i] = local[r.ID]
		}
		return out
	}

	for _, in := range p.Instructions {
		if err := m.Apply(in.Name, in.Params, mapRefs(in.Controls), mapRefs(in.Targets), false); err != nil {
			return fmt.Errorf("replay %s: %w", in.Name, err)
		}
	}
	for _, q := range p.Measured {
		if _, err := m.Measure(local[q.ID]); err != nil {
			return err
		}
	}

	refs := make([]model.QuditRef, 0, len(local))
	for _, q := range declared {
		refs = append(refs, local[q.ID])
	}
	return m.ReturnAll(refs)
}

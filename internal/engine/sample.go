package engine

import (
	"errors"
	"fmt"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/qis"
)

// samplingOutcome is what one driver run produced. Exactly one of result or
// future is meaningful: future is set when the executor delivers the counts
// asynchronously.
type samplingOutcome struct {
	path   string
	result model.SampleResult
	future *backend.Future
}

// samplingPath picks how the shots of k are produced on q.
func samplingPath(k Kernel, q *QPU) string {
	switch {
	case k.ConditionalFeedback && q.caps.ConditionalFeedback:
		return model.PathNativeFeedback
	case k.ConditionalFeedback:
		return model.PathEmulated
	case q.caps.Remote:
		return model.PathRemote
	default:
		return model.PathNative
	}
}

// runSampling executes k on q for the given number of shots.
//
// Without conditional feedback, or when the executor supports it natively,
// the kernel is invoked once and the executor produces every shot. Otherwise
// the kernel is invoked once per shot, the single-shot results are merged,
// and progress (if non-nil) is told after each shot. When async is set and
// the executor publishes a future, the future is returned instead of an
// aggregate.
//
// Qudits the kernel leaves allocated are released after every invocation.
func runSampling(q *QPU, k Kernel, shots int, async bool, progress func(done, total int)) (samplingOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	path := samplingPath(k, q)
	out := samplingOutcome{path: path}
	m := q.manager

	ctx := backend.NewExecutionContext(model.ModeSample, shots)
	ctx.KernelName = k.Name
	ctx.HasConditionalFeedback = k.ConditionalFeedback
	ctx.Async = async && path != model.PathEmulated

	if err := m.SetExecutionContext(ctx); err != nil {
		return out, errors.Join(err, m.ResetExecutionContext())
	}

	if path != model.PathEmulated {
		if err := invoke(q, k, ctx); err != nil {
			return out, err
		}
		if err := finish(m); err != nil {
			return out, err
		}
		if ctx.Async && ctx.Future != nil {
			out.future = ctx.Future
			return out, nil
		}
		out.result = ctx.Result
		return out, nil
	}

	aggregate := model.NewSampleResult()
	for i := range shots {
		if err := invoke(q, k, ctx); err != nil {
			return out, fmt.Errorf("shot %d: %w", i, err)
		}
		if err := finish(m); err != nil {
			return out, fmt.Errorf("shot %d: %w", i, err)
		}
		aggregate.Merge(ctx.Result)
		ctx.Result.Clear()
		if progress != nil {
			progress(i+1, shots)
		}
		if i < shots-1 {
			if err := m.SetExecutionContext(ctx); err != nil {
				return out, errors.Join(fmt.Errorf("shot %d: %w", i+1, err), m.ResetExecutionContext())
			}
		}
	}
	out.result = aggregate
	return out, nil
}

// finish ends the context of a successful invocation and frees whatever the
// kernel left allocated.
func finish(m *qis.Manager) error {
	return errors.Join(m.ResetExecutionContext(), m.ReleaseAll())
}

// invoke runs the kernel body. On failure everything the kernel left behind
// is released and the context is reset as aborted.
func invoke(q *QPU, k Kernel, ctx *backend.ExecutionContext) error {
	err := k.Body(q.manager)
	if err == nil {
		return nil
	}
	ctx.Aborted = true
	return errors.Join(
		fmt.Errorf("kernel %s: %w", k.Name, err),
		q.manager.Abandon(),
		q.manager.ResetExecutionContext(),
	)
}

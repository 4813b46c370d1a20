package qis

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

// Manager buffers the quantum operations issued by a kernel and flushes them
// to its executor at synchronization points. It owns the qudit id pool, the
// live instruction buffer, and the adjoint and control region stacks.
//
// A Manager is not safe for concurrent use. Each QPU owns exactly one.
type Manager struct {
	exec   backend.Executor
	logger *slog.Logger

	ctx       *backend.ExecutionContext
	allocator *Allocator
	queue     instructionQueue
	adjoint   adjointStack
	controls  controlStack

	// deferred holds ids whose deallocation is postponed until the
	// sampling-style context that was active when they were returned ends.
	deferred []int
}

// NewManager creates a manager that dispatches to exec.
func NewManager(exec backend.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		exec:      exec,
		logger:    logger,
		allocator: NewAllocator(),
	}
}

// Executor returns the executor this manager dispatches to.
func (m *Manager) Executor() backend.Executor {
	return m.exec
}

// ExecutionContext returns the active context, or nil.
func (m *Manager) ExecutionContext() *backend.ExecutionContext {
	return m.ctx
}

// Allocator exposes the qudit id pool.
func (m *Manager) Allocator() *Allocator {
	return m.allocator
}

// Pending returns the number of instructions waiting in the live buffer.
func (m *Manager) Pending() int {
	return len(m.queue)
}

// SetExecutionContext installs ctx and notifies the executor. Any
// instructions left in the live buffer belong to a previous context and are
// discarded.
func (m *Manager) SetExecutionContext(ctx *backend.ExecutionContext) error {
	m.ctx = ctx
	if err := m.exec.OnContextChanged(ctx); err != nil {
		return fmt.Errorf("context changed: %w", err)
	}
	if n := len(m.queue); n > 0 {
		m.logger.Debug("discarding stale instructions", "count", n)
	}
	m.queue.reset()
	return nil
}

// ResetExecutionContext flushes pending work, lets the executor finish the
// context, releases qudits whose deallocation was deferred, and detaches the
// context. The context is detached even when a step fails; all failures are
// returned joined.
func (m *Manager) ResetExecutionContext() error {
	var errs []error
	if err := m.Synchronize(); err != nil {
		errs = append(errs, err)
	}

	ctx := m.ctx
	if err := m.exec.OnContextEnded(ctx); err != nil {
		errs = append(errs, fmt.Errorf("context ended: %w", err))
	}

	if ctx != nil && ctx.Mode.DefersDeallocation() {
		for _, id := range m.deferred {
			if err := m.release(id); err != nil {
				errs = append(errs, err)
			}
		}
		if len(m.deferred) > 0 {
			m.logger.Debug("released deferred qudits", "count", len(m.deferred), "mode", ctx.Mode)
		}
	}
	m.deferred = m.deferred[:0]
	m.ctx = nil

	return errors.Join(errs...)
}

// GetAvailableIndex allocates the next free qudit id and asks the executor to
// allocate it physically.
func (m *Manager) GetAvailableIndex(levels int) (int, error) {
	if levels < model.QubitLevels {
		return 0, fmt.Errorf("allocate qudit with %d levels: %w", levels, backend.ErrUnsupported)
	}
	id := m.allocator.Next()
	if err := m.exec.AllocateQudit(model.QuditRef{Levels: levels, ID: id}); err != nil {
		_ = m.allocator.Return(id)
		return 0, fmt.Errorf("allocate qudit %d: %w", id, err)
	}
	return id, nil
}

// Allocate allocates a single qudit with the given number of levels.
func (m *Manager) Allocate(levels int) (model.QuditRef, error) {
	id, err := m.GetAvailableIndex(levels)
	if err != nil {
		return model.QuditRef{}, err
	}
	return model.QuditRef{Levels: levels, ID: id}, nil
}

// AllocateQubits allocates n qubits.
func (m *Manager) AllocateQubits(n int) ([]model.QuditRef, error) {
	qs := make([]model.QuditRef, 0, n)
	for range n {
		q, err := m.Allocate(model.QubitLevels)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// ReturnQudit gives q back to the pool. With no active context it is
// deallocated immediately. Under a sampling-style context deallocation is
// deferred until the context is reset.
func (m *Manager) ReturnQudit(q model.QuditRef) error {
	if m.ctx == nil {
		return m.release(q.ID)
	}

	if m.ctx.Mode.DefersDeallocation() {
		m.deferred = append(m.deferred, q.ID)
		return nil
	}

	if err := m.release(q.ID); err != nil {
		return err
	}

	if m.allocator.AllAvailable() && m.ctx.Mode == model.ModeObserve {
		if n := len(m.queue); n > 0 {
			m.logger.Warn("dropping buffered instructions after last qudit returned", "count", n)
		}
		m.queue.reset()
	}
	return nil
}

func (m *Manager) release(id int) error {
	if !m.allocator.IsAllocated(id) {
		return fmt.Errorf("release qudit %d: %w", id, ErrUnknownQudit)
	}
	if err := m.exec.DeallocateQudit(id); err != nil {
		return fmt.Errorf("deallocate qudit %d: %w", id, err)
	}
	return m.allocator.Return(id)
}

// StartAdjointRegion opens a new adjoint region.
func (m *Manager) StartAdjointRegion() {
	m.adjoint.open()
}

// EndAdjointRegion closes the innermost adjoint region. Its instructions are
// reversed and merged into the enclosing region, or into the live buffer when
// no region encloses it.
func (m *Manager) EndAdjointRegion() error {
	if err := m.adjoint.close(&m.queue); err != nil {
		return fmt.Errorf("end adjoint region: %w", err)
	}
	return nil
}

// StartCtrlRegion adds ids as implicit controls on every operation applied
// until the matching EndCtrlRegion.
func (m *Manager) StartCtrlRegion(ids []int) {
	m.controls.push(ids)
}

// EndCtrlRegion removes the last n control ids.
func (m *Manager) EndCtrlRegion(n int) error {
	if err := m.controls.pop(n); err != nil {
		return fmt.Errorf("end control region of %d: %w", n, err)
	}
	return nil
}

// Apply buffers a quantum operation. When isAdjoint is set, or an odd number
// of adjoint regions is open, the operation is replaced by its adjoint once.
// The ids of every open control region are prepended to controls.
func (m *Manager) Apply(name string, params []float64, controls, targets []model.QuditRef, isAdjoint bool) error {
	allControls := append(m.controls.refs(), controls...)
	if err := validateOperands(name, allControls, targets); err != nil {
		return err
	}

	in := model.Instruction{
		Name:     name,
		Params:   append([]float64(nil), params...),
		Controls: allControls,
		Targets:  append([]model.QuditRef(nil), targets...),
	}

	if isAdjoint || m.adjoint.depth()%2 == 1 {
		in = in.Adjoint()
	}

	if m.adjoint.depth() > 0 {
		m.adjoint.enqueue(in)
	} else {
		m.queue.push(in)
	}
	return nil
}

func validateOperands(name string, controls, targets []model.QuditRef) error {
	if name == "" {
		return fmt.Errorf("apply unnamed operation: %w", backend.ErrUnsupported)
	}
	if len(targets) == 0 {
		return fmt.Errorf("apply %s without targets: %w", name, backend.ErrUnsupported)
	}
	seen := make(map[int]bool, len(controls)+len(targets))
	for _, q := range append(append([]model.QuditRef(nil), controls...), targets...) {
		if q.Levels < model.QubitLevels {
			return fmt.Errorf("apply %s on %d-level qudit %d: %w", name, q.Levels, q.ID, backend.ErrUnsupported)
		}
		if seen[q.ID] {
			return fmt.Errorf("apply %s with qudit %d used twice: %w", name, q.ID, backend.ErrUnsupported)
		}
		seen[q.ID] = true
	}
	return nil
}

// Synchronize flushes the live buffer to the executor in enqueue order. On an
// executor failure the remaining buffered instructions are discarded and the
// error is returned; nothing is retried.
func (m *Manager) Synchronize() error {
	dropped, err := m.queue.drain(m.exec.ExecuteInstruction)
	if err != nil {
		m.logger.Warn("executor failed during synchronize", "dropped", dropped, "error", err)
		return fmt.Errorf("execute instruction: %w", err)
	}
	return nil
}

// Measure flushes buffered work and then measures q.
func (m *Manager) Measure(q model.QuditRef) (int, error) {
	if err := m.Synchronize(); err != nil {
		return 0, err
	}
	bit, err := m.exec.MeasureQudit(q)
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", q, err)
	}
	return bit, nil
}

// Abandon discards everything a failed kernel left behind: pending
// instructions, open regions, deferred ids, and every qudit still allocated.
// The execution context stays attached.
func (m *Manager) Abandon() error {
	m.queue.reset()
	m.adjoint.reset()
	m.controls.reset()
	m.deferred = m.deferred[:0]
	return m.ReleaseAll()
}

// ReleaseAll deallocates every qudit that is still allocated, in ascending
// id order. Drivers call it once a kernel has returned so that qudits the
// kernel never gave back do not leak into the next run on the executor.
func (m *Manager) ReleaseAll() error {
	ids := m.allocator.Allocated()
	if len(ids) == 0 {
		return nil
	}
	m.logger.Debug("releasing leftover qudits", "count", len(ids))

	var errs []error
	for _, id := range ids {
		if err := m.release(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

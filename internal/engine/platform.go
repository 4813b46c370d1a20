package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/qis"
)

// taskQueueSize is the buffer of each QPU's task channel. Submissions block
// once this many tasks are waiting.
const taskQueueSize = 64

var (
	// ErrInvalidArgument is returned for out-of-range QPU ids, non-positive
	// shot counts, and malformed kernels.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned when work is submitted to a closed platform.
	ErrClosed = errors.New("platform closed")
)

// QPUSpec describes one QPU of a platform.
type QPUSpec struct {
	Backend string          `json:"backend" yaml:"backend"`
	Options backend.Options `json:"options" yaml:"options"`
}

// QPUInfo describes a QPU for listings.
type QPUInfo struct {
	ID           int                  `json:"id"`
	Backend      string               `json:"backend"`
	Capabilities backend.Capabilities `json:"capabilities"`
}

// QPU is one execution resource: an executor, the manager that buffers work
// for it, and a worker goroutine serving asynchronous tasks.
type QPU struct {
	id      int
	backend string
	caps    backend.Capabilities
	manager *qis.Manager

	// mu is held for the whole of every driver run so that synchronous
	// calls and worker tasks never interleave on the manager.
	mu    sync.Mutex
	tasks chan func()
}

// ID returns the QPU's index on its platform.
func (q *QPU) ID() int { return q.id }

// Capabilities returns the capabilities of the QPU's executor.
func (q *QPU) Capabilities() backend.Capabilities { return q.caps }

// Platform owns a fixed set of QPUs.
type Platform struct {
	qpus   []*QPU
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPlatform builds one QPU per spec using executors from reg and starts
// their workers.
func NewPlatform(reg *backend.Registry, specs []QPUSpec, logger *slog.Logger) (*Platform, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("platform needs at least one qpu: %w", ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Platform{logger: logger}
	for i, spec := range specs {
		exec, err := reg.New(spec.Backend, spec.Options)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("qpu %d: %w", i, err)
		}
		q := &QPU{
			id:      i,
			backend: spec.Backend,
			caps:    exec.Capabilities(),
			manager: qis.NewManager(exec, logger.With("qpu", i)),
			tasks:   make(chan func(), taskQueueSize),
		}
		p.qpus = append(p.qpus, q)
		p.wg.Go(func() {
			p.serve(q)
		})
		logger.Info("qpu ready", "qpu", i, "backend", spec.Backend,
			"remote", q.caps.Remote, "conditional_feedback", q.caps.ConditionalFeedback)
	}
	return p, nil
}

// serve runs queued tasks for q in submission order until its channel is
// closed.
func (p *Platform) serve(q *QPU) {
	label := qpuLabel(q.id)
	for task := range q.tasks {
		task()
		tasksQueued.WithLabelValues(label).Dec()
	}
}

// NumQPUs returns the number of QPUs on the platform.
func (p *Platform) NumQPUs() int {
	return len(p.qpus)
}

// QPU returns the QPU with the given id.
func (p *Platform) QPU(id int) (*QPU, error) {
	if id < 0 || id >= len(p.qpus) {
		return nil, fmt.Errorf("qpu %d out of range [0, %d): %w", id, len(p.qpus), ErrInvalidArgument)
	}
	return p.qpus[id], nil
}

// IsRemote reports whether the QPU with the given id delegates to a remote
// service. Unknown ids report false.
func (p *Platform) IsRemote(id int) bool {
	q, err := p.QPU(id)
	if err != nil {
		return false
	}
	return q.caps.Remote
}

// List describes every QPU in id order.
func (p *Platform) List() []QPUInfo {
	infos := make([]QPUInfo, len(p.qpus))
	for i, q := range p.qpus {
		infos[i] = QPUInfo{ID: q.id, Backend: q.backend, Capabilities: q.caps}
	}
	return infos
}

// Closed reports whether Close has been called.
func (p *Platform) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// enqueue hands task to q's worker.
func (p *Platform) enqueue(q *QPU, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	tasksQueued.WithLabelValues(qpuLabel(q.id)).Inc()
	q.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for the workers to drain their
// queues. It is safe to call more than once.
func (p *Platform) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.qpus {
		close(q.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("platform closed", "qpus", len(p.qpus))
	return nil
}

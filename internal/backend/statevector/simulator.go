package statevector

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/model"
)

var errUnknownQubit = errors.New("qubit not allocated")

// Simulator implements backend.Executor with a dense state vector.
//
// It is driven by a single qis.Manager and is not safe for concurrent use.
type Simulator struct {
	logger    *slog.Logger
	rng       *rand.Rand
	maxQubits int

	state []complex128
	ids   []int       // bit position → qubit id
	pos   map[int]int // qubit id → bit position

	ctx      *backend.ExecutionContext
	measured []int       // ids measured in the current context, in first-seen order
	outcomes map[int]int // collapsed outcome per measured id
}

// New creates a simulator with no qubits. A zero Seed picks a random one.
func New(opts backend.Options, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	maxQubits := opts.MaxQudits
	if maxQubits <= 0 {
		maxQubits = DefaultMaxQubits
	}
	if maxQubits > 30 {
		return nil, fmt.Errorf("max qubits %d exceeds simulator limit of 30", maxQubits)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		logger:    logger,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		maxQubits: maxQubits,
		state:     []complex128{1},
		pos:       make(map[int]int),
		outcomes:  make(map[int]int),
	}, nil
}

// Factory returns a backend.Factory that builds simulators logging to logger.
func Factory(logger *slog.Logger) backend.Factory {
	return func(opts backend.Options) (backend.Executor, error) {
		return New(opts, logger)
	}
}

// Capabilities describes the simulator. Mid-circuit feedback is emulated
// shot by shot by the sampling driver.
func (s *Simulator) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:      BackendName,
		MaxQudits: s.maxQubits,
	}
}

// NumQubits returns the number of live qubits.
func (s *Simulator) NumQubits() int {
	return len(s.ids)
}

// AllocateQudit adds a qubit in state |0> as the highest bit.
func (s *Simulator) AllocateQudit(q model.QuditRef) error {
	if q.Levels != model.QubitLevels {
		return fmt.Errorf("allocate %s: %w", q, backend.ErrUnsupported)
	}
	if _, ok := s.pos[q.ID]; ok {
		return fmt.Errorf("allocate %s: already allocated", q)
	}
	if len(s.ids) >= s.maxQubits {
		return fmt.Errorf("allocate %s: limit of %d qubits reached", q, s.maxQubits)
	}

	grown := make([]complex128, 2*len(s.state))
	copy(grown, s.state)
	s.state = grown
	s.pos[q.ID] = len(s.ids)
	s.ids = append(s.ids, q.ID)
	activeQubits.Inc()
	return nil
}

// DeallocateQudit collapses the qubit and removes it from the state.
func (s *Simulator) DeallocateQudit(id int) error {
	p, ok := s.pos[id]
	if !ok {
		return fmt.Errorf("deallocate qubit %d: %w", id, errUnknownQubit)
	}
	bit := s.collapse(p)

	shrunk := make([]complex128, len(s.state)/2)
	low := 1<<p - 1
	for i := range shrunk {
		src := (i&^low)<<1 | bit<<p | i&low
		shrunk[i] = s.state[src]
	}
	s.state = shrunk

	s.ids = slices.Delete(s.ids, p, p+1)
	delete(s.pos, id)
	for i := p; i < len(s.ids); i++ {
		s.pos[s.ids[i]] = i
	}
	activeQubits.Dec()
	return nil
}

// ExecuteInstruction applies a gate to the state.
func (s *Simulator) ExecuteInstruction(in model.Instruction) error {
	if !IsSupportedGate(in.Name) {
		return fmt.Errorf("execute %s: %w", in.Name, backend.ErrUnsupported)
	}
	ctrlMask := 0
	for _, c := range in.Controls {
		p, err := s.position(c)
		if err != nil {
			return fmt.Errorf("execute %s: %w", in.Name, err)
		}
		ctrlMask |= 1 << p
	}
	targets := make([]int, len(in.Targets))
	for i, t := range in.Targets {
		p, err := s.position(t)
		if err != nil {
			return fmt.Errorf("execute %s: %w", in.Name, err)
		}
		targets[i] = p
	}

	if in.Name == "swap" {
		if len(targets) != 2 || len(in.Params) != 0 {
			return fmt.Errorf("execute swap on %d targets: %w", len(targets), backend.ErrUnsupported)
		}
		applySwap(s.state, ctrlMask, targets[0], targets[1])
	} else {
		if len(targets) != 1 {
			return fmt.Errorf("execute %s on %d targets: %w", in.Name, len(targets), backend.ErrUnsupported)
		}
		u, err := unitary(in.Name, in.Params)
		if err != nil {
			return err
		}
		applyMatrix(s.state, u, ctrlMask, targets[0])
	}
	instructionsTotal.WithLabelValues(in.Name).Inc()
	return nil
}

// MeasureQudit measures q. Inside a sample context without conditional
// feedback the measurement is only recorded and 0 is returned; the outcome
// distribution is sampled when the context ends. Otherwise the state
// collapses and the observed bit is returned.
func (s *Simulator) MeasureQudit(q model.QuditRef) (int, error) {
	p, err := s.position(q)
	if err != nil {
		return 0, fmt.Errorf("measure: %w", err)
	}
	measurementsTotal.Inc()

	if !slices.Contains(s.measured, q.ID) {
		s.measured = append(s.measured, q.ID)
	}
	if s.deferredSampling() {
		return 0, nil
	}
	bit := s.collapse(p)
	s.outcomes[q.ID] = bit
	return bit, nil
}

// OnContextChanged starts tracking measurements for ctx.
func (s *Simulator) OnContextChanged(ctx *backend.ExecutionContext) error {
	s.ctx = ctx
	s.measured = s.measured[:0]
	clear(s.outcomes)
	return nil
}

// OnContextEnded records results for sample contexts. Without feedback
// ctx.Shots bitstrings are drawn from the final state; with feedback the
// single collapsed outcome is recorded.
func (s *Simulator) OnContextEnded(ctx *backend.ExecutionContext) error {
	defer func() {
		s.ctx = nil
		s.measured = s.measured[:0]
		clear(s.outcomes)
	}()
	if ctx == nil || ctx.Mode != model.ModeSample || ctx.Aborted {
		return nil
	}

	ids := slices.Clone(s.measured)
	if len(ids) == 0 {
		ids = slices.Clone(s.ids)
	}
	slices.Sort(ids)

	if !ctx.HasConditionalFeedback {
		n := s.sample(ids, ctx.Shots, &ctx.Result)
		shotsTotal.Add(float64(n))
		s.logger.Debug("sampled state", "kernel", ctx.KernelName, "qubits", len(ids), "shots", n)
		return nil
	}

	var b strings.Builder
	for _, id := range ids {
		bit, ok := s.outcomes[id]
		if !ok {
			p, err := s.position(model.Qubit(id))
			if err != nil {
				return fmt.Errorf("record shot: %w", err)
			}
			bit = s.collapse(p)
		}
		b.WriteByte(byte('0' + bit))
	}
	ctx.Result.Add(b.String(), 1)
	shotsTotal.Inc()
	return nil
}

// Probabilities returns the distribution over all live qubits, keyed by
// bitstrings ordered by ascending qubit id. Zero-probability states are
// omitted.
func (s *Simulator) Probabilities() map[string]float64 {
	ids := slices.Clone(s.ids)
	slices.Sort(ids)
	return s.marginal(ids)
}

func (s *Simulator) deferredSampling() bool {
	return s.ctx != nil && s.ctx.Mode == model.ModeSample && !s.ctx.HasConditionalFeedback
}

func (s *Simulator) position(q model.QuditRef) (int, error) {
	if q.Levels != model.QubitLevels {
		return 0, fmt.Errorf("%s: %w", q, backend.ErrUnsupported)
	}
	p, ok := s.pos[q.ID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", q, errUnknownQubit)
	}
	return p, nil
}

// collapse measures the qubit at bit position p, projecting and
// renormalizing the state, and returns the observed bit.
func (s *Simulator) collapse(p int) int {
	mask := 1 << p
	var p1 float64
	for i, a := range s.state {
		if i&mask != 0 {
			p1 += real(a)*real(a) + imag(a)*imag(a)
		}
	}
	bit := 0
	if s.rng.Float64() < p1 {
		bit = 1
	}
	prob := p1
	if bit == 0 {
		prob = 1 - p1
	}
	norm := complex(1/math.Sqrt(prob), 0)
	for i := range s.state {
		if (i&mask != 0) == (bit == 1) {
			s.state[i] *= norm
		} else {
			s.state[i] = 0
		}
	}
	return bit
}

// marginal sums probabilities over the basis states that agree on ids.
func (s *Simulator) marginal(ids []int) map[string]float64 {
	positions := make([]int, len(ids))
	for i, id := range ids {
		positions[i] = s.pos[id]
	}
	dist := make(map[string]float64)
	key := make([]byte, len(ids))
	for i, a := range s.state {
		prob := real(a)*real(a) + imag(a)*imag(a)
		if prob < 1e-12 {
			continue
		}
		for k, p := range positions {
			key[k] = byte('0' + (i>>p)&1)
		}
		dist[string(key)] += prob
	}
	return dist
}

// sample draws shots bitstrings over ids into result and returns the number
// of shots recorded.
func (s *Simulator) sample(ids []int, shots int, result *model.SampleResult) int {
	if shots <= 0 {
		return 0
	}
	dist := s.marginal(ids)
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cdf := make([]float64, len(keys))
	var acc float64
	for i, k := range keys {
		acc += dist[k]
		cdf[i] = acc
	}

	counts := make(map[string]int, len(keys))
	for range shots {
		r := s.rng.Float64() * acc
		i := sort.SearchFloat64s(cdf, r)
		if i >= len(keys) {
			i = len(keys) - 1
		}
		counts[keys[i]]++
	}
	for k, n := range counts {
		result.Add(k, n)
	}
	return shots
}

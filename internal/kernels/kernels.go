// Package kernels is a small library of named quantum kernels used by the
// CLI and the HTTP service.
package kernels

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/model"
	"github.com/seantiz/qexec/internal/qis"
)

// Kernel names.
const (
	Bell           = "bell"
	GHZ            = "ghz"
	Teleport       = "teleport"
	QFTRoundTrip   = "qft-roundtrip"
	ControlledFlip = "controlled-flip"
)

// DefaultQubits is used by sized kernels when no size is requested.
const DefaultQubits = 3

var (
	// ErrUnknownKernel is returned by Lookup for names not in the library.
	ErrUnknownKernel = errors.New("unknown kernel")

	// ErrInvalidSize is returned by Lookup when a kernel cannot be built
	// with the requested number of qubits.
	ErrInvalidSize = errors.New("invalid kernel size")
)

type builder struct {
	minQubits int
	sized     bool
	build     func(n int) engine.Kernel
}

var library = map[string]builder{
	Bell:           {minQubits: 2, build: func(int) engine.Kernel { return bell() }},
	GHZ:            {minQubits: 2, sized: true, build: ghz},
	Teleport:       {minQubits: 3, build: func(int) engine.Kernel { return teleport() }},
	QFTRoundTrip:   {minQubits: 1, sized: true, build: qftRoundTrip},
	ControlledFlip: {minQubits: 2, sized: true, build: controlledFlip},
}

// Names returns the library's kernel names in sorted order.
func Names() []string {
	names := make([]string, 0, len(library))
	for name := range library {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the named kernel. n sets the number of qubits for sized
// kernels; zero selects DefaultQubits. Fixed-size kernels ignore n.
func Lookup(name string, n int) (engine.Kernel, error) {
	b, ok := library[strings.ToLower(name)]
	if !ok {
		return engine.Kernel{}, fmt.Errorf("lookup %q: %w", name, ErrUnknownKernel)
	}
	if !b.sized {
		return b.build(b.minQubits), nil
	}
	if n == 0 {
		n = DefaultQubits
	}
	if n < b.minQubits {
		return engine.Kernel{}, fmt.Errorf("%s needs at least %d qubits, got %d: %w", name, b.minQubits, n, ErrInvalidSize)
	}
	return b.build(n), nil
}

func bell() engine.Kernel {
	return engine.Kernel{
		Name: Bell,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(2)
			if err != nil {
				return err
			}
			if err := m.H(qs[0]); err != nil {
				return err
			}
			if err := m.CX(qs[0], qs[1]); err != nil {
				return err
			}
			return measureAndReturn(m, qs)
		},
	}
}

func ghz(n int) engine.Kernel {
	return engine.Kernel{
		Name: GHZ,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(n)
			if err != nil {
				return err
			}
			if err := m.H(qs[0]); err != nil {
				return err
			}
			for i := 1; i < n; i++ {
				if err := m.CX(qs[i-1], qs[i]); err != nil {
					return err
				}
			}
			return measureAndReturn(m, qs)
		},
	}
}

// teleport moves |1> from the first qubit to the third. The corrections
// depend on mid-circuit measurements, so the third bit of every outcome
// is 1.
func teleport() engine.Kernel {
	return engine.Kernel{
		Name:                Teleport,
		ConditionalFeedback: true,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(3)
			if err != nil {
				return err
			}
			msg, a, b := qs[0], qs[1], qs[2]

			if err := m.X(msg); err != nil {
				return err
			}
			if err := m.H(a); err != nil {
				return err
			}
			if err := m.CX(a, b); err != nil {
				return err
			}
			if err := m.CX(msg, a); err != nil {
				return err
			}
			if err := m.H(msg); err != nil {
				return err
			}

			m0, err := m.Measure(msg)
			if err != nil {
				return err
			}
			m1, err := m.Measure(a)
			if err != nil {
				return err
			}
			if m1 == 1 {
				if err := m.X(b); err != nil {
					return err
				}
			}
			if m0 == 1 {
				if err := m.Z(b); err != nil {
					return err
				}
			}
			if _, err := m.Measure(b); err != nil {
				return err
			}
			return m.ReturnAll(qs)
		},
	}
}

// QFTRoundTripOutcome is the only bitstring produced by the qft-roundtrip
// kernel on n qubits.
func QFTRoundTripOutcome(n int) string {
	var b strings.Builder
	for i := range n {
		if i%2 == 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// qftRoundTrip prepares a basis state, applies the QFT and then its adjoint,
// and measures. The outcome is always QFTRoundTripOutcome(n).
func qftRoundTrip(n int) engine.Kernel {
	return engine.Kernel{
		Name: QFTRoundTrip,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(n)
			if err != nil {
				return err
			}
			for i := 0; i < n; i += 2 {
				if err := m.X(qs[i]); err != nil {
					return err
				}
			}
			if err := qft(m, qs); err != nil {
				return err
			}
			if err := m.Adjoint(func() error { return qft(m, qs) }); err != nil {
				return err
			}
			return measureAndReturn(m, qs)
		},
	}
}

func qft(m *qis.Manager, qs []model.QuditRef) error {
	n := len(qs)
	for i := range n {
		if err := m.H(qs[i]); err != nil {
			return err
		}
		for j := i + 1; j < n; j++ {
			theta := math.Pi / float64(int(1)<<(j-i))
			if err := m.CR1(theta, qs[j], qs[i]); err != nil {
				return err
			}
		}
	}
	for i := range n / 2 {
		if err := m.Swap(qs[i], qs[n-1-i]); err != nil {
			return err
		}
	}
	return nil
}

// controlledFlip sets n-1 controls and flips the last qubit inside a
// control region. The outcome is all ones.
func controlledFlip(n int) engine.Kernel {
	return engine.Kernel{
		Name: ControlledFlip,
		Body: func(m *qis.Manager) error {
			qs, err := m.AllocateQubits(n)
			if err != nil {
				return err
			}
			ctrls, target := qs[:n-1], qs[n-1]
			for _, c := range ctrls {
				if err := m.X(c); err != nil {
					return err
				}
			}
			if err := m.Controlled(ctrls, func() error { return m.X(target) }); err != nil {
				return err
			}
			return measureAndReturn(m, qs)
		},
	}
}

func measureAndReturn(m *qis.Manager, qs []model.QuditRef) error {
	if _, err := m.MeasureAll(qs); err != nil {
		return err
	}
	return m.ReturnAll(qs)
}

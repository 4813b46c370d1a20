package qis

import (
	"errors"

	"github.com/seantiz/qexec/internal/model"
)

func one(q model.QuditRef) []model.QuditRef { return []model.QuditRef{q} }

// H applies a Hadamard gate.
func (m *Manager) H(q model.QuditRef) error { return m.Apply("h", nil, nil, one(q), false) }

// X applies a Pauli-X gate.
func (m *Manager) X(q model.QuditRef) error { return m.Apply("x", nil, nil, one(q), false) }

// Y applies a Pauli-Y gate.
func (m *Manager) Y(q model.QuditRef) error { return m.Apply("y", nil, nil, one(q), false) }

// Z applies a Pauli-Z gate.
func (m *Manager) Z(q model.QuditRef) error { return m.Apply("z", nil, nil, one(q), false) }

// S applies the phase gate.
func (m *Manager) S(q model.QuditRef) error { return m.Apply("s", nil, nil, one(q), false) }

// T applies the pi/8 gate.
func (m *Manager) T(q model.QuditRef) error { return m.Apply("t", nil, nil, one(q), false) }

// RX rotates q about the X axis by theta.
func (m *Manager) RX(theta float64, q model.QuditRef) error {
	return m.Apply("rx", []float64{theta}, nil, one(q), false)
}

// RY rotates q about the Y axis by theta.
func (m *Manager) RY(theta float64, q model.QuditRef) error {
	return m.Apply("ry", []float64{theta}, nil, one(q), false)
}

// RZ rotates q about the Z axis by theta.
func (m *Manager) RZ(theta float64, q model.QuditRef) error {
	return m.Apply("rz", []float64{theta}, nil, one(q), false)
}

// R1 applies a relative phase of theta to the |1> state of q.
func (m *Manager) R1(theta float64, q model.QuditRef) error {
	return m.Apply("r1", []float64{theta}, nil, one(q), false)
}

// CX applies X to target controlled on control.
func (m *Manager) CX(control, target model.QuditRef) error {
	return m.Apply("x", nil, one(control), one(target), false)
}

// CR1 applies R1(theta) to target controlled on control.
func (m *Manager) CR1(theta float64, control, target model.QuditRef) error {
	return m.Apply("r1", []float64{theta}, one(control), one(target), false)
}

// Swap exchanges the states of a and b.
func (m *Manager) Swap(a, b model.QuditRef) error {
	return m.Apply("swap", nil, nil, []model.QuditRef{a, b}, false)
}

// Adjoint runs body inside an adjoint region.
func (m *Manager) Adjoint(body func() error) error {
	m.StartAdjointRegion()
	bodyErr := body()
	return errors.Join(bodyErr, m.EndAdjointRegion())
}

// Controlled runs body inside a control region over ctrls.
func (m *Manager) Controlled(ctrls []model.QuditRef, body func() error) error {
	ids := make([]int, len(ctrls))
	for i, c := range ctrls {
		ids[i] = c.ID
	}
	m.StartCtrlRegion(ids)
	bodyErr := body()
	return errors.Join(bodyErr, m.EndCtrlRegion(len(ids)))
}

// MeasureAll measures each qudit in order and returns the outcomes.
func (m *Manager) MeasureAll(qs []model.QuditRef) ([]int, error) {
	bits := make([]int, len(qs))
	for i, q := range qs {
		b, err := m.Measure(q)
		if err != nil {
			return nil, err
		}
		bits[i] = b
	}
	return bits, nil
}

// ReturnAll returns every qudit in qs to the pool.
func (m *Manager) ReturnAll(qs []model.QuditRef) error {
	var errs []error
	for _, q := range qs {
		if err := m.ReturnQudit(q); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package statevector

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/seantiz/qexec/internal/backend"
)

// matrix is a single-qubit unitary in row-major order.
type matrix [2][2]complex128

var invSqrt2 = complex(1/math.Sqrt2, 0)

func diag(a, b complex128) matrix {
	return matrix{{a, 0}, {0, b}}
}

// unitary returns the 2x2 matrix for a single-qubit gate.
func unitary(name string, params []float64) (matrix, error) {
	if isParametric(name) {
		if len(params) != 1 {
			return matrix{}, fmt.Errorf("gate %s takes 1 parameter, got %d: %w", name, len(params), backend.ErrUnsupported)
		}
	} else if len(params) != 0 {
		return matrix{}, fmt.Errorf("gate %s takes no parameters, got %d: %w", name, len(params), backend.ErrUnsupported)
	}

	switch name {
	case "h":
		return matrix{{invSqrt2, invSqrt2}, {invSqrt2, -invSqrt2}}, nil
	case "x":
		return matrix{{0, 1}, {1, 0}}, nil
	case "y":
		return matrix{{0, -1i}, {1i, 0}}, nil
	case "z":
		return diag(1, -1), nil
	case "s":
		return diag(1, 1i), nil
	case "sdg":
		return diag(1, -1i), nil
	case "t":
		return diag(1, cmplx.Exp(complex(0, math.Pi/4))), nil
	case "tdg":
		return diag(1, cmplx.Exp(complex(0, -math.Pi/4))), nil
	}
	if !isParametric(name) {
		return matrix{}, fmt.Errorf("gate %s: %w", name, backend.ErrUnsupported)
	}

	half := params[0] / 2
	c, s := complex(math.Cos(half), 0), complex(math.Sin(half), 0)
	switch name {
	case "rx":
		return matrix{{c, -1i * s}, {-1i * s, c}}, nil
	case "ry":
		return matrix{{c, -s}, {s, c}}, nil
	case "rz":
		return diag(cmplx.Exp(complex(0, -half)), cmplx.Exp(complex(0, half))), nil
	default: // r1
		return diag(1, cmplx.Exp(complex(0, params[0]))), nil
	}
}

// applyMatrix applies u to the qubit at bit position target on every basis
// state whose control bits are all set.
func applyMatrix(state []complex128, u matrix, ctrlMask, target int) {
	bit := 1 << target
	for i := range state {
		if i&bit != 0 || i&ctrlMask != ctrlMask {
			continue
		}
		j := i | bit
		a0, a1 := state[i], state[j]
		state[i] = u[0][0]*a0 + u[0][1]*a1
		state[j] = u[1][0]*a0 + u[1][1]*a1
	}
}

// applySwap exchanges the qubits at bit positions a and b on every basis
// state whose control bits are all set.
func applySwap(state []complex128, ctrlMask, a, b int) {
	ba, bb := 1<<a, 1<<b
	for i := range state {
		if i&ba == 0 || i&bb != 0 || i&ctrlMask != ctrlMask {
			continue
		}
		j := i ^ ba ^ bb
		state[i], state[j] = state[j], state[i]
	}
}

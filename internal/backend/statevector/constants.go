package statevector

import "slices"

// BackendName is the name used when registering with the backend registry.
const BackendName = "statevector"

// DefaultMaxQubits bounds the state size when no limit is configured.
const DefaultMaxQubits = 24

// SupportedGates lists the gate names the simulator can execute.
var SupportedGates = []string{
	"h", "x", "y", "z",
	"s", "sdg", "t", "tdg",
	"rx", "ry", "rz", "r1",
	"swap",
}

// parametric gates take exactly one angle.
var parametric = []string{"rx", "ry", "rz", "r1"}

// IsSupportedGate reports whether the simulator can execute the named gate.
func IsSupportedGate(name string) bool {
	return slices.Contains(SupportedGates, name)
}

func isParametric(name string) bool {
	return slices.Contains(parametric, name)
}

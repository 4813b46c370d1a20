package model

import (
	"fmt"
	"strings"
)

// Instruction is a single buffered quantum operation. Once an instruction has
// been enqueued it is never modified; adjoint and control rewriting happen
// before it enters a queue.
type Instruction struct {
	Name     string     `json:"name"`
	Params   []float64  `json:"params,omitempty"`
	Controls []QuditRef `json:"controls,omitempty"`
	Targets  []QuditRef `json:"targets"`
}

// adjointNames is an involution over gate names whose adjoint is a different
// named gate. Every other gate keeps its name and only has its parameters
// negated.
var adjointNames = map[string]string{
	"t":   "tdg",
	"tdg": "t",
	"s":   "sdg",
	"sdg": "s",
}

// AdjointName returns the name of the adjoint of the named gate.
func AdjointName(name string) string {
	if adj, ok := adjointNames[name]; ok {
		return adj
	}
	return name
}

// Adjoint returns a copy of the instruction with its name substituted and
// every parameter negated.
func (in Instruction) Adjoint() Instruction {
	var params []float64
	if len(in.Params) > 0 {
		params = make([]float64, len(in.Params))
		for i, p := range in.Params {
			params[i] = -1.0 * p
		}
	}
	return Instruction{
		Name:     AdjointName(in.Name),
		Params:   params,
		Controls: in.Controls,
		Targets:  in.Targets,
	}
}

func (in Instruction) String() string {
	var b strings.Builder
	b.WriteString(in.Name)
	if len(in.Params) > 0 {
		fmt.Fprintf(&b, "(%s)", joinFloats(in.Params))
	}
	if len(in.Controls) > 0 {
		fmt.Fprintf(&b, " [%s]", joinRefs(in.Controls))
	}
	fmt.Fprintf(&b, " %s", joinRefs(in.Targets))
	return b.String()
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(parts, ", ")
}

func joinRefs(refs []QuditRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

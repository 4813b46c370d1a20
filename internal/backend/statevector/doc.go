// Package statevector implements a dense state-vector simulator for qubits.
//
// The simulator keeps one complex amplitude per basis state of the live
// qubits. Qubits are appended as the highest bit on allocation and compacted
// out of the state on deallocation after being collapsed.
package statevector

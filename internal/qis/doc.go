// Package qis implements the deferred-instruction execution manager that
// kernels talk to. Operations are buffered as instructions and rewritten by
// the enclosing adjoint and control regions. The buffer is flushed to a
// backend.Executor in program order at synchronization points such as
// measurement and context teardown.
package qis

// Package backend defines the contract between the execution runtime and the
// executors that carry out quantum operations, along with the per-run
// ExecutionContext and the Future used to hand back asynchronous results.
package backend

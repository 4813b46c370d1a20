// Package engine runs quantum kernels on a platform of QPUs. Each run is
// driven through the sampling path its QPU supports and recorded in the
// store, with lifecycle events streamed to subscribers.
package engine

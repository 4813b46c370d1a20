package backend

import (
	"sync"

	"github.com/seantiz/qexec/internal/model"
)

// Future is a single-assignment holder for an asynchronously produced counts
// table. Get blocks until Set has been called. There is no cancellation: a
// future that is never awaited is simply dropped.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result model.SampleResult
	err    error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Set resolves the future. Only the first call has any effect.
func (f *Future) Set(result model.SampleResult, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Get blocks until the future is resolved and returns its value.
func (f *Future) Get() (model.SampleResult, error) {
	<-f.done
	return f.result, f.err
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

package qis

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownQudit is returned when a qudit id that is not currently allocated
// is returned to the pool.
var ErrUnknownQudit = errors.New("unknown qudit")

// Allocator hands out qudit ids. Every id it has ever issued is either
// available or allocated, never both. Returned ids are reused smallest first.
type Allocator struct {
	available []int // sorted ascending
	allocated map[int]struct{}
	total     int
}

// NewAllocator creates an empty id pool.
func NewAllocator() *Allocator {
	return &Allocator{allocated: make(map[int]struct{})}
}

// Next allocates the smallest available id, growing the pool if none is free.
func (a *Allocator) Next() int {
	var id int
	if len(a.available) > 0 {
		id = a.available[0]
		a.available = a.available[1:]
	} else {
		id = a.total
		a.total++
	}
	a.allocated[id] = struct{}{}
	return id
}

// Return moves id from the allocated set back to the available set.
func (a *Allocator) Return(id int) error {
	if _, ok := a.allocated[id]; !ok {
		return fmt.Errorf("return qudit %d: %w", id, ErrUnknownQudit)
	}
	delete(a.allocated, id)
	i, _ := slices.BinarySearch(a.available, id)
	a.available = slices.Insert(a.available, i, id)
	return nil
}

// IsAllocated reports whether id is currently allocated.
func (a *Allocator) IsAllocated(id int) bool {
	_, ok := a.allocated[id]
	return ok
}

// Allocated returns the allocated ids in ascending order.
func (a *Allocator) Allocated() []int {
	ids := make([]int, 0, len(a.allocated))
	for id := range a.allocated {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NumAvailable returns the number of issued ids that are free for reuse.
func (a *Allocator) NumAvailable() int {
	return len(a.available)
}

// NumAllocated returns the number of ids currently in use.
func (a *Allocator) NumAllocated() int {
	return len(a.allocated)
}

// Total returns the number of ids ever issued.
func (a *Allocator) Total() int {
	return a.total
}

// AllAvailable reports whether every issued id has been returned.
func (a *Allocator) AllAvailable() bool {
	return a.NumAvailable() == a.total
}

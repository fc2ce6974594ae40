// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package pagetable

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrOutOfRange is returned for a page index or page local range
	// outside the table bounds.
	ErrOutOfRange = errors.New("pagetable: index out of range")

	// ErrResourceExhausted is returned when a page cannot be
	// materialized because the allocator budget is spent.
	ErrResourceExhausted = errors.New("pagetable: page budget exhausted")
)

// Allocator materializes page buffers. Anything implementing this interface
// can back the table, which is how tests inject deterministic allocation
// failures.
type Allocator interface {
	// AllocPage returns a fresh zero filled page buffer or
	// ErrResourceExhausted.
	AllocPage() ([]byte, error)
}

// heapAllocator allocates pages from the Go heap with an optional budget on
// the number of pages ever handed out. Budget 0 means unbounded.
type heapAllocator struct {
	// Pages handed out so far. Accessed atomically, kept first for
	// 64-bit alignment.
	handed int64

	budget   int64
	pageSize int
}

// NewHeapAllocator returns an allocator handing out zeroed pageSize buffers.
// With a non-zero budget the allocator fails after budget pages, which gives
// the volatile store a deterministic capacity on materialized memory.
func NewHeapAllocator(pageSize int, budget int64) Allocator {
	return &heapAllocator{
		pageSize: pageSize,
		budget:   budget,
	}
}

func (a *heapAllocator) AllocPage() ([]byte, error) {
	if a.budget > 0 {
		if handed := atomic.AddInt64(&a.handed, 1); handed > a.budget {
			atomic.AddInt64(&a.handed, -1)
			return nil, ErrResourceExhausted
		}
	}

	return make([]byte, a.pageSize), nil
}

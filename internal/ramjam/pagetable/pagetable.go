// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package pagetable implements the sparse index to page mapping backing the
// ramjam device. Pages are allocated lazily on first write and zero filled.
// An absent slot reads as zeros without being materialized. The table
// exclusively owns every allocated page; pages are freed only by Release().
package pagetable

import (
	"sync/atomic"

	lock "github.com/viney-shih/go-lock"
)

const (
	// Number of lock stripes guarding the slots. Operations on pages
	// falling into different stripes proceed fully in parallel.
	// Power of two so the modulo is cheap.
	guardStripes = 128
)

// Table is a sparse mapping from page index to an owned page buffer. A nil
// slot means the page was never written and reads as zeros. Every present
// page is owned by exactly its slot and keeps the same index for the table
// lifetime.
//
// All slot transitions and all byte copies into or out of a page happen
// under the stripe guard for that page index, so page level operations are
// atomic with respect to each other, from both the block and the map path.
type Table struct {
	// Count of materialized pages. Accessed atomically, kept first for
	// 64-bit alignment.
	resident int64

	slots []([]byte)

	// Striped read-write guards. Writers and allocators take the write
	// side, pure readers the read side.
	guards []lock.RWMutex

	alloc     Allocator
	pageCount int64
	pageSize  int
}

// New returns a table for pageCount pages of pageSize bytes each. No page
// memory is allocated up front, only the slot directory. A nil alloc selects
// the unbounded heap allocator.
func New(pageCount int64, pageSize int, alloc Allocator) (*Table, error) {
	if pageCount <= 0 || pageSize <= 0 {
		return nil, ErrOutOfRange
	}

	if alloc == nil {
		alloc = NewHeapAllocator(pageSize, 0)
	}

	guards := make([]lock.RWMutex, guardStripes)
	for i := range guards {
		guards[i] = lock.NewCASMutex()
	}

	t := Table{
		slots:     make([][]byte, pageCount),
		guards:    guards,
		alloc:     alloc,
		pageCount: pageCount,
		pageSize:  pageSize,
	}

	return &t, nil
}

// PageCount returns the fixed number of pages in the logical address space.
func (t *Table) PageCount() int64 {
	return t.pageCount
}

// PageSize returns the fixed page size in bytes.
func (t *Table) PageSize() int {
	return t.pageSize
}

// Capacity returns the logical address space size in bytes.
func (t *Table) Capacity() int64 {
	return t.pageCount * int64(t.pageSize)
}

// Resident returns the number of materialized pages. It only grows; the
// table never reclaims pages during its lifetime.
func (t *Table) Resident() int64 {
	return atomic.LoadInt64(&t.resident)
}

func (t *Table) guard(index int64) lock.RWMutex {
	return t.guards[index%guardStripes]
}

// Get is a pure lookup. It returns nil for an absent slot and never
// allocates.
func (t *Table) Get(index int64) ([]byte, error) {
	if index < 0 || index >= t.pageCount {
		return nil, ErrOutOfRange
	}

	g := t.guard(index)
	g.RLock()
	page := t.slots[index]
	g.RUnlock()

	return page, nil
}

// GetOrAllocate returns the page for index. When the slot is absent and
// forWrite is false it returns nil with no side effect. When forWrite is
// true an absent slot is filled with a fresh zeroed page before returning
// it. Concurrent callers for the same index never double allocate and never
// observe a half constructed page. On allocation failure the slot stays
// absent.
func (t *Table) GetOrAllocate(index int64, forWrite bool) ([]byte, error) {
	if index < 0 || index >= t.pageCount {
		return nil, ErrOutOfRange
	}

	g := t.guard(index)

	if !forWrite {
		g.RLock()
		page := t.slots[index]
		g.RUnlock()
		return page, nil
	}

	g.Lock()
	defer g.Unlock()

	return t.materialize(index)
}

// materialize installs a zeroed page into an absent slot. Caller holds the
// write guard for index.
func (t *Table) materialize(index int64) ([]byte, error) {
	if page := t.slots[index]; page != nil {
		return page, nil
	}

	page, err := t.alloc.AllocPage()
	if err != nil {
		return nil, err
	}

	t.slots[index] = page
	atomic.AddInt64(&t.resident, 1)

	return page, nil
}

// ReadAt copies len(dst) bytes starting at byte offset off of page index
// into dst. An absent page reads as zeros and is not materialized. The
// range must lie within the page.
func (t *Table) ReadAt(dst []byte, index int64, off int) error {
	if index < 0 || index >= t.pageCount {
		return ErrOutOfRange
	}
	if off < 0 || off+len(dst) > t.pageSize {
		return ErrOutOfRange
	}

	g := t.guard(index)
	g.RLock()
	defer g.RUnlock()

	page := t.slots[index]
	if page == nil {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}

	copy(dst, page[off:])

	return nil
}

// WriteAt copies src into page index starting at byte offset off,
// materializing the page first when absent. The range must lie within the
// page. On allocation failure nothing is written and the slot stays absent.
func (t *Table) WriteAt(src []byte, index int64, off int) error {
	if index < 0 || index >= t.pageCount {
		return ErrOutOfRange
	}
	if off < 0 || off+len(src) > t.pageSize {
		return ErrOutOfRange
	}

	g := t.guard(index)
	g.Lock()
	defer g.Unlock()

	page, err := t.materialize(index)
	if err != nil {
		return err
	}

	copy(page[off:], src)

	return nil
}

// Release drops every slot at once. Pages are never freed individually
// during the table lifetime, only here. The table must not be used
// afterwards.
func (t *Table) Release() {
	for i := range t.guards {
		t.guards[i].Lock()
	}

	for i := range t.slots {
		t.slots[i] = nil
	}
	atomic.StoreInt64(&t.resident, 0)

	for i := range t.guards {
		t.guards[i].Unlock()
	}
}

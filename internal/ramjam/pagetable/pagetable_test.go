// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package pagetable

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

const (
	testPages    = 8
	testPageSize = 4096
)

func newTestTable(t *testing.T, alloc Allocator) *Table {
	t.Helper()

	table, err := New(testPages, testPageSize, alloc)
	if err != nil {
		t.Fatal(err)
	}

	return table
}

func TestNewValidation(t *testing.T) {
	if _, err := New(0, testPageSize, nil); err == nil {
		t.Error("expected error for zero page count")
	}
	if _, err := New(testPages, 0, nil); err == nil {
		t.Error("expected error for zero page size")
	}
	if _, err := New(-1, testPageSize, nil); err == nil {
		t.Error("expected error for negative page count")
	}
}

func TestGetNeverAllocates(t *testing.T) {
	table := newTestTable(t, nil)

	page, err := table.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	if page != nil {
		t.Error("expected absent slot for untouched index")
	}

	page, err = table.GetOrAllocate(3, false)
	if err != nil {
		t.Fatal(err)
	}
	if page != nil {
		t.Error("read miss must not materialize the page")
	}

	if r := table.Resident(); r != 0 {
		t.Errorf("expected 0 resident pages, got %d", r)
	}
}

func TestGetOrAllocateForWrite(t *testing.T) {
	table := newTestTable(t, nil)

	page, err := table.GetOrAllocate(5, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != testPageSize {
		t.Fatalf("expected page of %d bytes, got %d", testPageSize, len(page))
	}
	if !bytes.Equal(page, make([]byte, testPageSize)) {
		t.Error("fresh page must be zero filled")
	}
	if r := table.Resident(); r != 1 {
		t.Errorf("expected 1 resident page, got %d", r)
	}

	page[0] = 0x42
	again, err := table.GetOrAllocate(5, true)
	if err != nil {
		t.Fatal(err)
	}
	if again[0] != 0x42 {
		t.Error("second GetOrAllocate must return the installed page")
	}
	if r := table.Resident(); r != 1 {
		t.Errorf("expected still 1 resident page, got %d", r)
	}
}

func TestIndexOutOfRange(t *testing.T) {
	table := newTestTable(t, nil)

	for _, index := range []int64{-1, testPages, testPages + 100} {
		if _, err := table.Get(index); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Get(%d): expected ErrOutOfRange, got %v", index, err)
		}
		if _, err := table.GetOrAllocate(index, true); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("GetOrAllocate(%d): expected ErrOutOfRange, got %v", index, err)
		}
	}

	buf := make([]byte, 16)
	if err := table.ReadAt(buf, testPages, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := table.WriteAt(buf, 0, testPageSize-8); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("page overflow: expected ErrOutOfRange, got %v", err)
	}
}

func TestReadAtZeroFill(t *testing.T) {
	table := newTestTable(t, nil)

	dst := bytes.Repeat([]byte{0xFF}, 128)
	if err := table.ReadAt(dst, 2, 100); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, make([]byte, 128)) {
		t.Error("absent page must read as zeros")
	}
	if r := table.Resident(); r != 0 {
		t.Errorf("zero fill read must not materialize, got %d resident", r)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	table := newTestTable(t, nil)

	src := []byte("demand allocated")
	if err := table.WriteAt(src, 1, 60); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, len(src))
	if err := table.ReadAt(dst, 1, 60); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, src) {
		t.Errorf("round trip mismatch: %q != %q", dst, src)
	}

	// Bytes around the written range stay zero.
	around := make([]byte, 1)
	if err := table.ReadAt(around, 1, 59); err != nil {
		t.Fatal(err)
	}
	if around[0] != 0 {
		t.Error("byte before written range must be zero")
	}
}

func TestBudgetExhaustion(t *testing.T) {
	table := newTestTable(t, NewHeapAllocator(testPageSize, 1))

	if _, err := table.GetOrAllocate(0, true); err != nil {
		t.Fatal(err)
	}

	_, err := table.GetOrAllocate(1, true)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}

	// The failing slot stays absent, no partial state.
	page, err := table.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if page != nil {
		t.Error("failed allocation must leave the slot absent")
	}
	if r := table.Resident(); r != 1 {
		t.Errorf("expected 1 resident page, got %d", r)
	}
}

func TestConcurrentAllocateSingleIndex(t *testing.T) {
	table := newTestTable(t, nil)

	const workers = 16
	pages := make([][]byte, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			page, err := table.GetOrAllocate(4, true)
			if err != nil {
				t.Error(err)
				return
			}
			pages[i] = page
		}(i)
	}
	wg.Wait()

	if r := table.Resident(); r != 1 {
		t.Fatalf("concurrent allocation must install exactly one page, got %d", r)
	}
	for i := 1; i < workers; i++ {
		if &pages[i][0] != &pages[0][0] {
			t.Fatal("all callers must observe the same installed page")
		}
	}
}

func TestConcurrentDisjointPages(t *testing.T) {
	table := newTestTable(t, nil)

	var wg sync.WaitGroup
	for i := int64(0); i < testPages; i++ {
		wg.Add(1)
		go func(index int64) {
			defer wg.Done()
			pattern := bytes.Repeat([]byte{byte(index + 1)}, testPageSize)
			for round := 0; round < 50; round++ {
				if err := table.WriteAt(pattern, index, 0); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	dst := make([]byte, testPageSize)
	for i := int64(0); i < testPages; i++ {
		if err := table.ReadAt(dst, i, 0); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, bytes.Repeat([]byte{byte(i + 1)}, testPageSize)) {
			t.Errorf("page %d corrupted by concurrent writers on other pages", i)
		}
	}
}

func TestRelease(t *testing.T) {
	table := newTestTable(t, nil)

	if _, err := table.GetOrAllocate(0, true); err != nil {
		t.Fatal(err)
	}
	if _, err := table.GetOrAllocate(7, true); err != nil {
		t.Fatal(err)
	}

	table.Release()

	if r := table.Resident(); r != 0 {
		t.Errorf("expected 0 resident pages after release, got %d", r)
	}
	page, err := table.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if page != nil {
		t.Error("expected absent slot after release")
	}
}

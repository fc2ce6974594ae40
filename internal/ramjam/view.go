// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramjam

import (
	"sync"

	"github.com/ramjam/ramjam/internal/ramjam/pagetable"
)

// FaultHandler materializes the page backing a page index on the first
// access through a view. The device itself is the default implementation;
// a platform adapter doing real memory protection tricks can supply its
// own.
type FaultHandler interface {
	Fault(index int64) ([]byte, error)
}

// View is a bounded, page aligned window into the device address space used
// for direct access. It owns no pages, only a per view cache of the pages
// it has faulted so far. Each covered page moves one way from unfaulted to
// faulted on the first access to any of its bytes; later accesses in the
// same view skip the allocation path entirely.
//
// All byte copies still go through the page table guards, which keeps view
// access and block access to the same page mutually excluded.
type View struct {
	id      int64
	dev     *Device
	table   *pagetable.Table
	handler FaultHandler

	// Absolute byte offset of the window start. Page aligned.
	off    int64
	length int

	// First page index covered by the window.
	firstPage int64

	mu sync.Mutex

	// Installed page references, indexed relative to firstPage. A nil
	// entry means the page is still unfaulted for this view.
	pages [][]byte

	closed bool
}

func newView(id int64, dev *Device, table *pagetable.Table, off int64, length int) *View {
	pageSize := int64(table.PageSize())
	covered := (int64(length) + pageSize - 1) / pageSize

	return &View{
		id:        id,
		dev:       dev,
		table:     table,
		handler:   dev,
		off:       off,
		length:    length,
		firstPage: off / pageSize,
		pages:     make([][]byte, covered),
	}
}

// Offset returns the absolute byte offset of the window start.
func (v *View) Offset() int64 {
	return v.off
}

// Size returns the window length in bytes.
func (v *View) Size() int {
	return v.length
}

// close marks the view unmapped. Called by Device.Unmap with the view
// removed from the registry first.
func (v *View) close() {
	v.mu.Lock()
	v.closed = true
	v.pages = nil
	v.mu.Unlock()
}

// fault moves the covered page rel to the faulted state if it is not there
// yet and installs the page reference for the lifetime of the view.
func (v *View) fault(rel int64) error {
	if v.pages[rel] != nil {
		return nil
	}

	page, err := v.handler.Fault(v.firstPage + rel)
	if err != nil {
		return err
	}

	v.pages[rel] = page

	return nil
}

// checkWindow validates a view relative access range. Any byte outside the
// window fails the whole access before anything is touched.
func (v *View) checkWindow(off int64, length int) error {
	if v.closed {
		return ErrViewClosed
	}
	if v.dev.isClosed() {
		return ErrClosed
	}
	if off < 0 || length < 0 || off+int64(length) > int64(v.length) {
		return ErrAccessViolation
	}

	return nil
}

// access walks the covered pages of the range and calls apply for each page
// local piece, faulting every touched page first. Returns the number of
// bytes handed to apply before a failure.
func (v *View) access(off int64, length int, apply func(index int64, pageOff, n, done int) error) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkWindow(off, length); err != nil {
		return 0, err
	}

	pageSize := int64(v.table.PageSize())
	abs := v.off + off

	done := 0
	for done < length {
		index := abs / pageSize
		pageOff := int(abs % pageSize)

		n := int(pageSize) - pageOff
		if n > length-done {
			n = length - done
		}

		if err := v.fault(index - v.firstPage); err != nil {
			return done, err
		}

		if err := apply(index, pageOff, n, done); err != nil {
			return done, err
		}

		done += n
		abs += int64(n)
	}

	return done, nil
}

// ReadAt copies len(p) bytes starting at view relative offset off into p.
// Unlike the block path there is no clamping; a range leaving the window
// fails with ErrAccessViolation. Reading an unfaulted page faults it in, so
// even a pure read materializes the touched pages, exactly like touching
// mapped memory would.
func (v *View) ReadAt(p []byte, off int64) (int, error) {
	return v.access(off, len(p), func(index int64, pageOff, n, done int) error {
		return v.table.ReadAt(p[done:done+n], index, pageOff)
	})
}

// WriteAt copies p into the window at view relative offset off. A range
// leaving the window fails with ErrAccessViolation before any byte is
// written.
func (v *View) WriteAt(p []byte, off int64) (int, error) {
	return v.access(off, len(p), func(index int64, pageOff, n, done int) error {
		return v.table.WriteAt(p[done:done+n], index, pageOff)
	})
}

// Byte returns the byte at view relative offset off.
func (v *View) Byte(off int64) (byte, error) {
	var b [1]byte
	_, err := v.ReadAt(b[:], off)

	return b[0], err
}

// SetByte stores b at view relative offset off.
func (v *View) SetByte(off int64, b byte) error {
	_, err := v.WriteAt([]byte{b}, off)

	return err
}

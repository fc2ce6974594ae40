// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramjam

import (
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	mapset "github.com/deckarep/golang-set"
	"github.com/rs/zerolog/log"

	"github.com/ramjam/ramjam/internal/config"
	"github.com/ramjam/ramjam/internal/ramjam/pagetable"
	"github.com/ramjam/ramjam/internal/ramjam/viewid"
)

// Device is one instance of the block store. It owns the page table
// exclusively and keeps a registry of live views. Capacity is fixed at
// creation; memory consumption grows with the number of distinct pages ever
// written and is released all at once by Close.
type Device struct {
	table *pagetable.Table

	// Identifiers of views handed out by Map and not yet unmapped.
	views mapset.Set

	closed int32
}

// NewWithDefaults returns a device sized from the global configuration,
// with the resident page budget from config applied to the heap allocator.
func NewWithDefaults() (*Device, error) {
	alloc := pagetable.NewHeapAllocator(config.Cfg.PageSize, config.Cfg.MaxResident)

	return New(config.Cfg.Pages, config.Cfg.PageSize, alloc)
}

// New returns a device with pageCount pages of pageSize bytes. A nil alloc
// selects the unbounded heap allocator. No page memory is allocated up
// front.
func New(pageCount int64, pageSize int, alloc pagetable.Allocator) (*Device, error) {
	table, err := pagetable.New(pageCount, pageSize, alloc)
	if err != nil {
		return nil, ErrOutOfRange
	}

	d := Device{
		table: table,
		views: mapset.NewSet(),
	}

	return &d, nil
}

// Capacity returns the size of the logical address space in bytes.
func (d *Device) Capacity() int64 {
	return d.table.Capacity()
}

// Resident returns the number of pages materialized so far.
func (d *Device) Resident() int64 {
	return d.table.Resident()
}

func (d *Device) isClosed() bool {
	return atomic.LoadInt32(&d.closed) != 0
}

// clamp limits a request of length starting at off to the remaining
// capacity. A request starting at or beyond capacity clamps to zero.
func (d *Device) clamp(off int64, length int) int {
	capacity := d.table.Capacity()
	if off >= capacity {
		return 0
	}

	if remaining := capacity - off; int64(length) > remaining {
		return int(remaining)
	}

	return length
}

// Read returns length bytes starting at byte offset off. The request is
// clamped to the remaining capacity, so a request at or beyond capacity
// returns an empty slice. Regions never written read as zeros and are not
// materialized by the read.
func (d *Device) Read(off int64, length int) ([]byte, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	if off < 0 || length < 0 {
		return nil, ErrOutOfRange
	}

	buf := make([]byte, d.clamp(off, length))
	if err := d.readRange(buf, off); err != nil {
		return nil, err
	}

	return buf, nil
}

// readRange fills buf from the touched pages in index order. Caller already
// clamped buf to capacity.
func (d *Device) readRange(buf []byte, off int64) error {
	pageSize := int64(d.table.PageSize())

	for len(buf) > 0 {
		index := off / pageSize
		pageOff := int(off % pageSize)

		n := int(pageSize) - pageOff
		if n > len(buf) {
			n = len(buf)
		}

		if err := d.table.ReadAt(buf[:n], index, pageOff); err != nil {
			return err
		}

		buf = buf[n:]
		off += int64(n)
	}

	return nil
}

// Write copies data to byte offset off and returns the number of bytes
// applied. The request is clamped to the remaining capacity. Every touched
// page is materialized on demand; ranges crossing page boundaries are split
// with exact page local offsets. When materialization fails midway the
// write stops at the failing page and bytes already applied to earlier
// pages are kept.
func (d *Device) Write(off int64, data []byte) (int, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrOutOfRange
	}

	data = data[:d.clamp(off, len(data))]
	pageSize := int64(d.table.PageSize())

	written := 0
	for written < len(data) {
		index := off / pageSize
		pageOff := int(off % pageSize)

		n := int(pageSize) - pageOff
		if n > len(data)-written {
			n = len(data) - written
		}

		if err := d.table.WriteAt(data[written:written+n], index, pageOff); err != nil {
			return written, err
		}

		written += n
		off += int64(n)
	}

	return written, nil
}

// ReadAt implements io.ReaderAt over the block path. A read clamped by
// capacity returns the short count together with io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrOutOfRange
	}

	n := d.clamp(off, len(p))
	if err := d.readRange(p[:n], off); err != nil {
		return 0, err
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt over the block path. A write clamped by
// capacity returns the short count together with ErrOutOfRange.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.Write(off, p)
	if err == nil && n < len(p) {
		err = ErrOutOfRange
	}

	return n, err
}

// Map returns a view of the window [off, off+length). The offset must be
// page aligned and the window must not exceed capacity. The view starts
// with every covered page unfaulted; the first access to any byte of a page
// materializes it through the device fault handler.
func (d *Device) Map(off int64, length int) (*View, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}

	pageSize := int64(d.table.PageSize())
	if off < 0 || length < 0 || off%pageSize != 0 {
		return nil, ErrOutOfRange
	}
	if off+int64(length) > d.table.Capacity() {
		return nil, ErrOutOfRange
	}

	v := newView(viewid.Next(), d, d.table, off, length)
	d.views.Add(v.id)

	return v, nil
}

// Unmap releases the view bookkeeping. Pages faulted through the view stay
// owned by the device. Unmapping a view twice fails with ErrViewClosed.
func (d *Device) Unmap(v *View) error {
	if d.isClosed() {
		return ErrClosed
	}

	if v == nil || !d.views.Contains(v.id) {
		return ErrViewClosed
	}

	d.views.Remove(v.id)
	v.close()

	return nil
}

// Fault materializes the page backing index and returns it. It is the
// default FaultHandler wired into views created by Map.
func (d *Device) Fault(index int64) ([]byte, error) {
	return d.table.GetOrAllocate(index, true)
}

// Views returns the number of live views.
func (d *Device) Views() int {
	return d.views.Cardinality()
}

// Occupancy of the device. Resident grows monotonically, there is no
// reclamation before Close.
type Occupancy struct {
	Pages         int64
	ResidentPages int64
	ResidentBytes int64
	Ratio         float64
}

// Occupancy returns a snapshot of how much of the sparse space is
// materialized.
func (d *Device) Occupancy() Occupancy {
	resident := d.table.Resident()

	return Occupancy{
		Pages:         d.table.PageCount(),
		ResidentPages: resident,
		ResidentBytes: resident * int64(d.table.PageSize()),
		Ratio:         float64(resident) / float64(d.table.PageCount()),
	}
}

// RegisterOccupancyDump registers SIGUSR1 as a trigger for logging the
// current occupancy.
func (d *Device) RegisterOccupancyDump() {
	dumpChan := make(chan os.Signal, 1)
	signal.Notify(dumpChan, syscall.SIGUSR1)

	go func() {
		for range dumpChan {
			o := d.Occupancy()
			log.Info().
				Int64("resident_pages", o.ResidentPages).
				Int64("resident_bytes", o.ResidentBytes).
				Float64("ratio", o.Ratio).
				Int("views", d.Views()).
				Msg("Occupancy")
		}
	}()
}

// Close tears the device down. All pages are released at once and every
// later operation fails with ErrClosed. Views still mapped become useless
// but closing never deallocates anything they could observe mid copy; the
// table guards serialize the release against in flight page operations.
func (d *Device) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return ErrClosed
	}

	d.table.Release()

	return nil
}

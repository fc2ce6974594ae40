// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package ramjam

import (
	"errors"

	"github.com/ramjam/ramjam/internal/ramjam/pagetable"
)

var (
	// ErrOutOfRange is returned for an offset or range outside the
	// device capacity, and for a map request which is not page aligned.
	ErrOutOfRange = errors.New("ramjam: offset out of range")

	// ErrResourceExhausted is returned when a page cannot be
	// materialized during a write or a fault. The failing page stays
	// absent; bytes already applied to earlier pages of the same request
	// are kept.
	ErrResourceExhausted = pagetable.ErrResourceExhausted

	// ErrAccessViolation is returned for an access outside a view
	// window. It is fatal for that access only and leaves the page table
	// untouched.
	ErrAccessViolation = errors.New("ramjam: access outside mapped window")

	// ErrClosed is returned for any operation on a device after Close.
	ErrClosed = errors.New("ramjam: device closed")

	// ErrViewClosed is returned for any access through an unmapped view
	// and for unmapping a view twice.
	ErrViewClosed = errors.New("ramjam: view unmapped")
)

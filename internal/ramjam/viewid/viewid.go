// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package for synchronized access to the view identifier counter.
package viewid

import (
	"sync"
)

var (
	id    int64
	mutex sync.Mutex
)

// Returns value of the currently unassigned identifier. It is forbidden to
// use it for a new view without calling Next().
func Current() int64 {
	mutex.Lock()
	defer mutex.Unlock()

	return id
}

// Returns value of the currently unassigned identifier and increments, so
// the id variable contains an unassigned identifier again. Identifiers are
// unique across all devices in the process.
func Next() int64 {
	mutex.Lock()
	defer mutex.Unlock()

	tmp := id
	id++

	return tmp
}

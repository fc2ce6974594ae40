// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package ioproxy is a worker pool front for a ReadWriterAt which performs
// prioritization of requests. Foreground I/O goes to the priority channels
// so background traffic like a soak workload does not slow it down.
package ioproxy

import (
	"io"
)

// Interface for the block backend. Anything implementing this interface can
// be served by the proxy.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Proxy for the block backend which prioritizes requests. Requests coming
// to the priority channels are handled first.
type Proxy struct {
	Instance ReadWriterAt

	// Number of go routines to spawn for handling read requests and
	// write requests.
	readers int
	writers int

	// Internal channels.
	reads      chan request
	writes     chan request
	readsPrio  chan request
	writesPrio chan request

	quit chan struct{}
}

// Request is internal structure for wrapping the communication into
// channels.
type request struct {
	buf  []byte
	off  int64
	done chan result
}

type result struct {
	n   int
	err error
}

// Return new instance of the proxy which can be directly used. It
// immediately spawns go routines for read and write workers.
func New(instance ReadWriterAt, readers, writers int) Proxy {
	p := Proxy{
		Instance:   instance,
		readers:    readers,
		writers:    writers,
		reads:      make(chan request),
		writes:     make(chan request),
		readsPrio:  make(chan request),
		writesPrio: make(chan request),
		quit:       make(chan struct{}),
	}

	for i := 0; i < p.readers; i++ {
		go p.readWorker()
	}

	for i := 0; i < p.writers; i++ {
		go p.writeWorker()
	}

	return p
}

// Proxy function for reading into buf at off. It selects the right channel
// according to prio and waits for the reply.
func (p *Proxy) Read(buf []byte, off int64, prio bool) (int, error) {
	c := p.reads
	if prio {
		c = p.readsPrio
	}

	done := make(chan result)
	c <- request{buf, off, done}
	r := <-done

	return r.n, r.err
}

// Proxy function for writing buf at off. It selects the right channel
// according to prio and waits for the reply.
func (p *Proxy) Write(buf []byte, off int64, prio bool) (int, error) {
	c := p.writes
	if prio {
		c = p.writesPrio
	}

	done := make(chan result)
	c <- request{buf, off, done}
	r := <-done

	return r.n, r.err
}

// Close stops all workers. Requests submitted after Close may block
// forever, so callers must stop submitting first.
func (p *Proxy) Close() {
	close(p.quit)
}

// Generic function for prioritization used by both reader and writer
// workers. The second return value is false when the proxy is closed.
func (p *Proxy) receiveRequest(prio chan request, normal chan request) (request, bool) {
	select {
	case r := <-prio:
		return r, true
	default:
		select {
		case r := <-prio:
			return r, true
		case r := <-normal:
			return r, true
		case <-p.quit:
			return request{}, false
		}
	}
}

// Read worker just calls ReadAt() on the instance provided in New().
func (p *Proxy) readWorker() {
	for {
		r, ok := p.receiveRequest(p.readsPrio, p.reads)
		if !ok {
			return
		}

		n, err := p.Instance.ReadAt(r.buf, r.off)
		r.done <- result{n, err}
	}
}

// Write worker just calls WriteAt() on the instance provided in New().
func (p *Proxy) writeWorker() {
	for {
		r, ok := p.receiveRequest(p.writesPrio, p.writes)
		if !ok {
			return
		}

		n, err := p.Instance.WriteAt(r.buf, r.off)
		r.done <- result{n, err}
	}
}

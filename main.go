// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// ramjam is a userspace daemon hosting a sparse, demand allocated virtual
// block store. The logical address space is fixed at startup but backing
// pages are materialized lazily on first write, so memory consumption is
// proportional to the data actually stored, not to the device size.
//
// Project structure is following:
//
// - internal contains all packages used by this program. The name "internal"
// is reserved by go compiler and disallows its imports from different
// projects. Since we don't provide any reusable packages, we use internal
// directory.
//
// - internal/ramjam contains all packages related to the store itself. See
// the package descriptions in the source code for more details.
//
// - internal/null contains trivial implementation of the block backend which
// does nothing but correctly. It can be used for benchmarking the proxy and
// the workload harness. The null implementation is part of ramjam because it
// shares configuration and makes benchmarking easier and without code
// duplication.
//
// - internal/config contains configuration package which is common for both,
// ramjam and null backends.
package main

import (
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ramjam/ramjam/internal/config"
	"github.com/ramjam/ramjam/internal/null"
	"github.com/ramjam/ramjam/internal/ramjam"
	"github.com/ramjam/ramjam/internal/ramjam/ioproxy"
)

// Parse configuration from file and environment variables, create the store
// and run a background workload through the prioritized proxy until SIGINT
// or SIGTERM signals a graceful finish. SIGUSR1 dumps the current occupancy
// of the sparse space.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	if config.Cfg.Profiler {
		runProfiler(config.Cfg.ProfilerPort)
	}

	backend, dev, err := getBackend(config.Cfg.Null)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	proxy := ioproxy.New(backend, config.Cfg.Workload.Readers, config.Cfg.Workload.Writers)

	capacity := config.Cfg.Pages * int64(config.Cfg.PageSize)
	log.Info().Msgf("ramjam device with capacity %d registered!", capacity)

	if dev != nil {
		dev.RegisterOccupancyDump()
	}

	workloadStop := make(chan struct{})
	runWorkload(&proxy, capacity, workloadStop)

	waitForInterrupt()

	log.Info().Msg("Removing ramjam device")
	close(workloadStop)
	proxy.Close()

	if dev != nil {
		o := dev.Occupancy()
		log.Info().
			Int64("resident_pages", o.ResidentPages).
			Int64("resident_bytes", o.ResidentBytes).
			Msg("Final occupancy")

		dev.Close()
	}
}

// Return null backend if user wants it, otherwise returns the ramjam device,
// which is default. The device is returned separately as well because only
// the real store has occupancy to report.
func getBackend(wantNullBackend bool) (ioproxy.ReadWriterAt, *ramjam.Device, error) {
	if wantNullBackend {
		return null.NewNull(), nil, nil
	}

	dev, err := ramjam.NewWithDefaults()

	return dev, dev, err
}

// Spawn background writers and readers hammering the store with random
// chunk sized requests through the low priority channels.
func runWorkload(proxy *ioproxy.Proxy, capacity int64, stop chan struct{}) {
	seed := config.Cfg.Workload.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	chunk := config.Cfg.Workload.ChunkSize

	for i := 0; i < config.Cfg.Workload.Writers; i++ {
		go func(r *rand.Rand) {
			buf := make([]byte, chunk)
			r.Read(buf)
			for {
				select {
				case <-stop:
					return
				default:
					proxy.Write(buf, r.Int63n(capacity), false)
				}
			}
		}(rand.New(rand.NewSource(seed + int64(i))))
	}

	for i := 0; i < config.Cfg.Workload.Readers; i++ {
		go func(r *rand.Rand) {
			buf := make([]byte, chunk)
			for {
				select {
				case <-stop:
					return
				default:
					proxy.Read(buf, r.Int63n(capacity), false)
				}
			}
		}(rand.New(rand.NewSource(seed - int64(i) - 1)))
	}
}

// Block until SIGINT or SIGTERM comes in.
func waitForInterrupt() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	<-stopChan

	log.Info().Msg("Received interrupt, stopping ramjam device!")
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling support. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}

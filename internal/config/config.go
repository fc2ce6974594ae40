// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/ramjam/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	Null        bool  `toml:"null" env:"RAMJAM_NULL" env-default:"false" env-description:"Use null backend, i.e. immediate acknowledge to read or write. For testing raw harness performance."`
	Pages       int64 `toml:"pages" env:"RAMJAM_PAGES" env-default:"262144" env-description:"Number of pages in the logical address space."`
	PageSize    int   `toml:"page_size" env:"RAMJAM_PAGESIZE" env-default:"4096" env-description:"Page size in bytes. Must be a power of two."`
	MaxResident int64 `toml:"max_resident" env:"RAMJAM_MAXRESIDENT" env-default:"0" env-description:"Budget on materialized pages. 0 means unbounded."`

	Workload struct {
		Writers   int   `toml:"writers" env:"RAMJAM_WORKLOAD_WRITERS" env-description:"Number of background writer threads." env-default:"4"`
		Readers   int   `toml:"readers" env:"RAMJAM_WORKLOAD_READERS" env-description:"Number of background reader threads." env-default:"4"`
		ChunkSize int   `toml:"chunk_size" env:"RAMJAM_WORKLOAD_CHUNKSIZE" env-description:"Workload chunk size in KB." env-default:"64"`
		Seed      int64 `toml:"seed" env:"RAMJAM_WORKLOAD_SEED" env-description:"Seed for the workload offset generator. 0 means time based." env-default:"0"`
	} `toml:"workload"`

	Log struct {
		Level  int  `toml:"level" env:"RAMJAM_LOG_LEVEL" env-description:"Log level." env-default:"-1"`
		Pretty bool `toml:"pretty" env:"RAMJAM_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"RAMJAM_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"RAMJAM_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup()
	err := parse()

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing and fills the Cfg structure.
func parse() error {
	if err := cleanenv.ReadConfig(Cfg.ConfigPath, &Cfg); err != nil {
		if err := cleanenv.ReadEnv(&Cfg); err != nil {
			return err
		}
	}

	Cfg.Workload.ChunkSize *= 1024

	if Cfg.PageSize <= 0 || Cfg.PageSize&(Cfg.PageSize-1) != 0 {
		Cfg.PageSize = 4096
	}

	return nil
}

// Handle program flags.
func flagSetup() {
	f := flag.NewFlagSet("ramjam", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(os.Args[1:])
}

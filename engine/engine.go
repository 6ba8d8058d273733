// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package engine drives the frames of a scene graph:
// merging paged subgraphs, transferring dynamic data,
// recording every view and committing the result.
package engine

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gviegas/sgraph/pager"
	"github.com/gviegas/sgraph/transfer"
)

const (
	// The maximum number of frames in flight.
	MaxFrame = 3

	dflWidth  = 1280
	dflHeight = 720
)

// Duration is a time.Duration that is written as
// text in configuration files (e.g. "250ms").
type Duration time.Duration

// String returns the string representation of d.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Config is used to configure a Viewer.
type Config struct {
	// Prefer double-buffering rather than the
	// default triple-buffering.
	//
	// Default is false.
	DoubleBuffered bool `yaml:"double-buffered" toml:"double-buffered"`

	// Size of the render pass.
	//
	// Default is 1280x720.
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`

	// The number of goroutines reading paged subgraphs.
	//
	// Default is 4.
	NumReadThreads int `yaml:"read-threads" toml:"read-threads"`

	// The number of goroutines compiling paged
	// subgraphs.
	//
	// Default is 1.
	NumCompileThreads int `yaml:"compile-threads" toml:"compile-threads"`

	// The number of resident high resolution subgraphs
	// above which the least recently used ones are
	// released.
	//
	// Default is 1500.
	TargetMaxNumPagedLODWithHighResSubgraphs int `yaml:"target-max-paged-lods" toml:"target-max-paged-lods"`

	// The number of frames that released subgraphs
	// are kept alive for. It cannot be less than the
	// number of frames in flight.
	//
	// Default is 3.
	NumFramesToRetain int `yaml:"frames-to-retain" toml:"frames-to-retain"`

	// The number of failed loads after which a PagedLOD
	// is no longer requested. Zero means no limit.
	//
	// Default is 3.
	MaxLoadAttempts int `yaml:"max-load-attempts" toml:"max-load-attempts"`

	// The initial size of each transfer staging buffer.
	//
	// Default is 65536 bytes.
	MinimumStagingBufferSize int64 `yaml:"min-staging-size" toml:"min-staging-size"`

	// How long to wait for a transfer block.
	//
	// Default is 1s.
	TransferTimeout Duration `yaml:"transfer-timeout" toml:"transfer-timeout"`

	// The number of goroutines releasing evicted
	// subgraphs.
	//
	// Default is 2.
	ReleaseWorkers int `yaml:"release-workers" toml:"release-workers"`

	// Directories searched for relative locators.
	SearchPaths []string `yaml:"search-paths" toml:"search-paths"`

	// Name (or part of the name) of the driver to use.
	//
	// Default is "soft".
	Driver string `yaml:"driver" toml:"driver"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	pc := pager.DefaultConfig()
	tc := transfer.DefaultConfig()
	return Config{
		DoubleBuffered:    false,
		Width:             dflWidth,
		Height:            dflHeight,
		NumReadThreads:    pc.NumReadThreads,
		NumCompileThreads: pc.NumCompileThreads,
		TargetMaxNumPagedLODWithHighResSubgraphs: pc.TargetMaxNumPagedLODWithHighResSubgraphs,
		NumFramesToRetain:        pc.NumFramesToRetain,
		MaxLoadAttempts:          pc.MaxLoadAttempts,
		MinimumStagingBufferSize: tc.MinimumStagingBufferSize,
		TransferTimeout:          Duration(tc.Timeout),
		ReleaseWorkers:           pc.ReleaseWorkers,
		Driver:                   "soft",
	}
}

// LoadConfig reads a configuration file.
// The format is chosen by extension: .yaml/.yml or
// .toml. Fields absent from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, prefix+"config")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); err != nil && err != io.EOF {
			return cfg, errors.Wrapf(err, prefix+"config %s", path)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err = dec.Decode(&cfg); err != nil {
			return cfg, errors.Wrapf(err, prefix+"config %s", path)
		}
	default:
		return cfg, errors.Errorf(prefix+"unknown config format %q", ext)
	}
	return cfg, cfg.Validate()
}

// Validate checks that c is usable.
func (c *Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return errors.Errorf(prefix+"invalid size %dx%d", c.Width, c.Height)
	case c.NumReadThreads < 1:
		return errors.New(prefix + "at least one read thread is required")
	case c.NumCompileThreads < 1:
		return errors.New(prefix + "at least one compile thread is required")
	case c.TargetMaxNumPagedLODWithHighResSubgraphs < 0:
		return errors.New(prefix + "negative paged LOD target")
	case c.NumFramesToRetain < c.frames():
		return errors.Errorf(prefix+"frames to retain (%d) less than frames in flight (%d)", c.NumFramesToRetain, c.frames())
	case c.MaxLoadAttempts < 0:
		return errors.New(prefix + "negative number of load attempts")
	case c.MinimumStagingBufferSize < 0:
		return errors.New(prefix + "negative staging buffer size")
	case c.TransferTimeout <= 0:
		return errors.New(prefix + "transfer timeout must be positive")
	}
	return nil
}

// frames returns the number of frames in flight.
func (c *Config) frames() int {
	if c.DoubleBuffered {
		return 2
	}
	return MaxFrame
}

func (c *Config) pagerConfig() pager.Config {
	pc := pager.DefaultConfig()
	pc.NumReadThreads = c.NumReadThreads
	pc.NumCompileThreads = c.NumCompileThreads
	pc.TargetMaxNumPagedLODWithHighResSubgraphs = c.TargetMaxNumPagedLODWithHighResSubgraphs
	pc.NumFramesToRetain = c.NumFramesToRetain
	pc.MaxLoadAttempts = c.MaxLoadAttempts
	pc.ReleaseWorkers = c.ReleaseWorkers
	return pc
}

func (c *Config) transferConfig() transfer.Config {
	return transfer.Config{
		NumBlocks:                c.frames(),
		MinimumStagingBufferSize: c.MinimumStagingBufferSize,
		Timeout:                  time.Duration(c.TransferTimeout),
	}
}

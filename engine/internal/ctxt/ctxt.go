// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package ctxt holds the process-wide driver opened
// for Viewers that are not given a GPU.
package ctxt

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/driver"
	_ "github.com/gviegas/sgraph/driver/soft"
)

var (
	mu     sync.Mutex
	drv    driver.Driver
	gpu    driver.GPU
	limits driver.Limits
)

var errNoDriver = errors.New("ctxt: driver not found")

// loadDriver opens the first registered driver whose
// name contains name, ignoring case. An empty name
// matches every driver.
// It must be called with mu held and no driver open.
func loadDriver(name string) error {
	drivers := driver.Drivers()
	err := errNoDriver
	name = strings.ToLower(name)
	for i := range drivers {
		if !strings.Contains(strings.ToLower(drivers[i].Name()), name) {
			continue
		}
		var u driver.GPU
		if u, err = drivers[i].Open(); err != nil {
			logrus.WithError(err).WithField("driver", drivers[i].Name()).Warn("ctxt: driver failed to open")
			continue
		}
		drv = drivers[i]
		gpu = u
		limits = gpu.Limits()
		return nil
	}
	return err
}

// Load selects the driver whose name contains name and
// opens it. If no such driver can be opened, every
// registered driver is tried.
// Calling Load again with a name that matches the
// current driver has no effect.
func Load(name string) (driver.GPU, error) {
	mu.Lock()
	defer mu.Unlock()
	if drv != nil {
		if strings.Contains(strings.ToLower(drv.Name()), strings.ToLower(name)) {
			return gpu, nil
		}
		drv.Close()
		drv, gpu = nil, nil
	}
	if err := loadDriver(name); err != nil {
		if name == "" {
			return nil, err
		}
		// Try all drivers.
		if err = loadDriver(""); err != nil {
			return nil, err
		}
	}
	logrus.WithField("driver", drv.Name()).Info("ctxt: driver loaded")
	return gpu, nil
}

// Unload closes the current driver, if any.
func Unload() {
	mu.Lock()
	defer mu.Unlock()
	if drv != nil {
		drv.Close()
		drv, gpu = nil, nil
	}
}

// Driver returns the open driver, or nil.
func Driver() driver.Driver {
	mu.Lock()
	defer mu.Unlock()
	return drv
}

// GPU returns the GPU of the open driver, or nil.
func GPU() driver.GPU {
	mu.Lock()
	defer mu.Unlock()
	return gpu
}

// Limits returns the limits of the open driver's GPU,
// queried when it was opened. Callers must not modify
// them.
func Limits() *driver.Limits { return &limits }

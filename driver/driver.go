// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package driver defines the narrow set of GPU interfaces
// consumed by the scene graph: resource creation, command
// recording and committing work for execution.
// Platform-specific APIs implement these interfaces and
// register themselves on init.
package driver

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Driver opens and closes a GPU.
type Driver interface {
	// Open returns the driver's GPU, creating it on the
	// first call. Later calls return the same GPU until
	// Close is called.
	// Open must not be called concurrently.
	Open() (GPU, error)

	// Name identifies the driver in configuration.
	// Calling it does not open the driver.
	Name() string

	// Close releases the GPU returned by Open. It does
	// nothing if the driver is not open.
	Close()
}

// ErrNotInstalled is returned by Open when the system
// lacks a library the driver depends on.
var ErrNotInstalled = errors.New("driver: missing required library")

// ErrNoDevice is returned by Open when no device can
// run the scene graph.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrNoHostMemory is returned when a host allocation
// fails.
var ErrNoHostMemory = errors.New("driver: out of host memory")

// ErrNoDeviceMemory is returned when a buffer or image
// does not fit in device memory.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrFatal reports a lost GPU. Nothing created from it
// can be used again: every resource must be destroyed
// and the Driver closed. The Driver can then be opened
// anew.
// The pager stops when a compile fails with ErrFatal.
var ErrFatal = errors.New("driver: fatal error")

// Drivers returns a copy of the registered Drivers.
// A driver package registers itself when imported.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register adds drv to the list returned by Drivers.
// It is meant to be called from the init function of
// a driver package. A Driver of the same name is
// replaced.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			logrus.WithField("driver", drv.Name()).Warn("driver replaced")
			return
		}
	}
	drivers = append(drivers, drv)
	logrus.WithField("driver", drv.Name()).Debug("driver registered")
}

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 1)
)

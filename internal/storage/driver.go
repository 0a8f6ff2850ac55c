// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package storage

import (
	"log/slog"
	"sort"
	"sync"
)

// # Driver Set
//
// Backends register at compile time, database/sql style: a blank import of a
// backend package makes its driver available. The resolver selects at most
// one non-default driver at base-tenant initialization; an ambiguous set is a
// fatal startup error, enforced there.

// DefaultDriverName is the always-available in-process backend.
const DefaultDriverName = "sqlite"

// Driver constructs unconnected backend instances.
type Driver interface {
	// Name is the unique driver identifier (e.g. "sqlite", "postgres").
	Name() string

	// CanServe reports whether the driver can handle the given normalized
	// configuration. Must be cheap and side-effect-free; the resolver calls
	// it during plugin selection.
	CanServe(cfg *NormalizedConfig) bool

	// New constructs an unconnected backend. Construction must be
	// side-effect-free: candidates built during reconciliation may be
	// discarded without ever being initialized.
	New(logger *slog.Logger) Storage
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available under its name. It panics on a
// duplicate registration, which indicates a wiring bug.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("storage: RegisterDriver with nil driver")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic("storage: RegisterDriver called twice for driver " + d.Name())
	}
	drivers[d.Name()] = d
}

// LookupDriver returns the driver registered under name, if any.
func LookupDriver(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// Drivers returns the registered drivers sorted by name.
func Drivers() []Driver {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]Driver, 0, len(names))
	for _, name := range names {
		list = append(list, drivers[name])
	}
	return list
}

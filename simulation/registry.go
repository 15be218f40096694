// Package simulation drives a two-phase DHT run: an overlay is built to
// quiescence on a join environment, construction measurements are
// discarded, and a client workload with optional churn runs against a
// fresh environment until MaxTime.
package simulation

import (
	"context"
	"sort"
	"strings"

	"dhtsim/dht"
	"dhtsim/sim"
	"dhtsim/stats"
)

// Params is everything a variant factory needs to build its manager.
type Params struct {
	Background context.Context
	Env        *sim.Env
	Collector  *stats.Collector
	Config     Config
}

// Factory builds one variant's overlay manager.
type Factory func(params Params) dht.Manager

var factories = map[string]Factory{}

// Register makes a variant available under name. It panics when the name
// is taken; variants register once, from main.
func Register(name string, factory Factory) {
	if _, exists := factories[name]; exists {
		panic("dht variant already registered: " + name)
	}
	factories[name] = factory
}

// Factories returns the registered variant names, sorted.
func Factories() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewManager builds the named variant's manager.
func NewManager(name string, params Params) (dht.Manager, error) {
	factory, exists := factories[name]
	if !exists {
		return nil, configf("unknown dht %q, registered: %s", name, strings.Join(Factories(), ", "))
	}
	return factory(params), nil
}

/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package monitor aggregates servable state events into a queryable view of
// the latest state of every servable version.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/events"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/metrics"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

// VersionMap maps version numbers to the latest observed state.
type VersionMap map[int64]servable.State

// ServableMap maps servable names to their version states.
type ServableMap map[string]VersionMap

// Config holds the configuration for the Monitor.
type Config struct {
	// MaxTerminalVersionsPerName bounds how many End-state versions are
	// retained per servable name; the oldest terminal version is discarded
	// when the bound is exceeded. Zero retains every version forever.
	MaxTerminalVersionsPerName int `json:"maxTerminalVersionsPerName"`
	// EnableMetrics toggles whether transitions and tracked entries are
	// recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns a default configuration for the Monitor.
func DefaultConfig() *Config {
	return &Config{}
}

// Monitor subscribes to a bus of servable state events and answers queries
// about the latest state observed for every servable version. Entries are
// never removed by event processing: a version that reaches End stays
// queryable, subject only to the explicit retention bound in Config.
type Monitor struct {
	mu     sync.RWMutex
	states ServableMap
	sub    *events.Subscription[servable.State]

	// retention > 0 enables the per-name LRU of End-state versions.
	retention int
	terminal  map[string]*lru.Cache[int64, struct{}]

	enableMetrics bool
}

// NewMonitor creates a Monitor subscribed to bus. Only events published
// after construction are observed.
func NewMonitor(ctx context.Context, cfg *Config, bus *events.Bus[servable.State]) (*Monitor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxTerminalVersionsPerName < 0 {
		return nil, fmt.Errorf("max terminal versions per name %d must be non-negative: %w",
			cfg.MaxTerminalVersionsPerName, servable.ErrInvalidArgument)
	}

	m := &Monitor{
		states:        make(ServableMap),
		retention:     cfg.MaxTerminalVersionsPerName,
		enableMetrics: cfg.EnableMetrics,
	}
	if m.retention > 0 {
		m.terminal = make(map[string]*lru.Cache[int64, struct{}])
	}

	if cfg.EnableMetrics {
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
	}

	m.sub = bus.Subscribe(m.handleEvent)
	return m, nil
}

// Close unsubscribes the monitor from its bus. Publishes that begin after
// Close returns never reach the monitor; queries remain valid on the
// retained view.
func (m *Monitor) Close() {
	m.sub.Unsubscribe()
}

// GetState returns the latest state observed for id, and whether the id has
// been observed at all.
func (m *Monitor) GetState(id servable.ID) (servable.State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.states[id.Name]
	if !ok {
		return servable.State{}, false
	}
	state, ok := versions[id.Version]
	return state, ok
}

// GetAllVersionStates returns a copy of the version states of name, or nil
// if the name has never been observed. The returned map is the caller's to
// mutate.
func (m *Monitor) GetAllVersionStates(name string) VersionMap {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions, ok := m.states[name]
	if !ok {
		return nil
	}

	copied := make(VersionMap, len(versions))
	for version, state := range versions {
		copied[version] = state
	}
	return copied
}

// GetAllServableStates returns a deep copy of the whole observed view. The
// snapshot is immutable after return: later events never alter it.
func (m *Monitor) GetAllServableStates() ServableMap {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make(ServableMap, len(m.states))
	for name, versions := range m.states {
		versionsCopy := make(VersionMap, len(versions))
		for version, state := range versions {
			versionsCopy[version] = state
		}
		copied[name] = versionsCopy
	}
	return copied
}

// Names returns the set of servable names observed so far.
func (m *Monitor) Names() sets.Set[string] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := sets.New[string]()
	for name := range m.states {
		names.Insert(name)
	}
	return names
}

// handleEvent records the event under its own ID, latest wins. Runs on the
// publisher's goroutine.
func (m *Monitor) handleEvent(state servable.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.states[state.ID.Name]
	if !ok {
		versions = make(VersionMap)
		m.states[state.ID.Name] = versions
	}

	_, existed := versions[state.ID.Version]
	versions[state.ID.Version] = state

	if m.enableMetrics {
		metrics.Transitions.WithLabelValues(string(state.ManagerState)).Inc()
		if !existed {
			metrics.TrackedEntries.Inc()
		}
	}

	if m.retention > 0 {
		m.updateTerminal(state)
	}
}

// updateTerminal maintains the per-name LRU of End-state versions. Callers
// hold mu; the eviction callback relies on that.
func (m *Monitor) updateTerminal(state servable.State) {
	name := state.ID.Name

	if state.ManagerState != servable.End {
		// A late reordered event can pull a version back out of End;
		// dropVersion sees the fresh state and keeps the entry.
		if cache, ok := m.terminal[name]; ok {
			cache.Remove(state.ID.Version)
		}
		return
	}

	cache, ok := m.terminal[name]
	if !ok {
		cache, _ = lru.NewWithEvict[int64, struct{}](m.retention, func(version int64, _ struct{}) {
			m.dropVersion(name, version)
		})
		m.terminal[name] = cache
	}
	cache.Add(state.ID.Version, struct{}{})
}

// dropVersion discards a terminal version that left the retention window.
// Runs inside the LRU eviction callback with mu held by handleEvent; only
// versions still in End state are dropped.
func (m *Monitor) dropVersion(name string, version int64) {
	versions, ok := m.states[name]
	if !ok {
		return
	}
	state, ok := versions[version]
	if !ok || state.ManagerState != servable.End {
		return
	}

	delete(versions, version)
	if m.enableMetrics {
		metrics.TrackedEntries.Dec()
	}
}

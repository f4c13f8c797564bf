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

// Package serving wires the servable-state control plane together: a
// transition bus, a state monitor subscribed to it, an executor for source
// callbacks, and optionally a ZMQ ingest pool feeding remote transitions
// into the bus.
package serving

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/executor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/events"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/monitor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/source"
)

// Config holds the configuration for the StateManager module. The
// configuration covers the components the manager wires together.
type Config struct {
	MonitorConfig  *monitor.Config  `json:"monitorConfig"`
	ExecutorConfig *executor.Config `json:"executorConfig"`
	// IngestConfig enables the remote transition ingest pool when set.
	IngestConfig *events.PoolConfig `json:"ingestConfig,omitempty"`
}

// NewDefaultConfig returns a default configuration for the StateManager
// module. Remote ingest stays disabled until IngestConfig is set.
func NewDefaultConfig() *Config {
	return &Config{
		MonitorConfig:  monitor.DefaultConfig(),
		ExecutorConfig: executor.DefaultConfig(),
	}
}

// StateManager owns the serving control plane. Loaders publish transitions
// on Bus(); the monitor answers state queries; sources registered with
// AddRunner announce aspired versions through the executor.
type StateManager struct {
	config *Config

	bus          *events.Bus[servable.State]
	stateMonitor *monitor.Monitor
	exec         *executor.ThreadPool
	ingest       *events.Pool

	runners []source.Runner
}

// NewStateManager creates a StateManager given a Config.
func NewStateManager(ctx context.Context, config *Config) (*StateManager, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	bus := events.NewBus[servable.State]()

	stateMonitor, err := monitor.NewMonitor(ctx, config.MonitorConfig, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create state monitor: %w", err)
	}

	exec, err := executor.NewThreadPool(config.ExecutorConfig)
	if err != nil {
		stateMonitor.Close()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	var ingest *events.Pool
	if config.IngestConfig != nil {
		ingest = events.NewPool(config.IngestConfig, bus)
	}

	return &StateManager{
		config:       config,
		bus:          bus,
		stateMonitor: stateMonitor,
		exec:         exec,
		ingest:       ingest,
	}, nil
}

// Bus returns the transition bus. Loaders publish servable.State values on
// it; the monitor picks them up through its subscription.
func (m *StateManager) Bus() *events.Bus[servable.State] {
	return m.bus
}

// Monitor returns the servable state monitor.
func (m *StateManager) Monitor() *monitor.Monitor {
	return m.stateMonitor
}

// Executor returns the pool that delivers source callbacks.
func (m *StateManager) Executor() *executor.ThreadPool {
	return m.exec
}

// AddRunner registers a polling source for Run to supervise. Runners must
// be registered before Run is called.
func (m *StateManager) AddRunner(runner source.Runner) {
	m.runners = append(m.runners, runner)
}

// Run starts the ingest pool when configured, starts every registered
// runner, and blocks until ctx is done or one of them fails. The first
// failure cancels the remaining components.
func (m *StateManager) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("serving.StateManager")
	logger.Info("starting state manager", "runners", len(m.runners), "ingest", m.ingest != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if m.ingest != nil {
		g.Go(func() error {
			m.ingest.Run(gctx)
			return nil
		})
	}

	for _, runner := range m.runners {
		g.Go(func() error {
			return runner.Start(gctx)
		})
	}

	return g.Wait()
}

// Close stops the monitor's bus subscription and drains the executor.
// Call it after Run returns; sources own their backing clients and close
// them separately.
func (m *StateManager) Close() {
	m.stateMonitor.Close()
	m.exec.Close()
}

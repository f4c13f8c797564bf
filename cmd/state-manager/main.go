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

// The state-manager daemon tracks servable lifecycles across a serving
// fleet. Workers stream transitions over ZMQ into the monitor; aspired
// versions announced by the configured sources are logged so operators can
// compare aspired against actual state.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/executor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/events"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/monitor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/source"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils/logging"
)

const (
	envZMQEndpoint     = "ZMQ_ENDPOINT"
	envZMQTopic        = "ZMQ_TOPIC"
	envPoolConcurrency = "POOL_CONCURRENCY"

	envRegistryAddr         = "REGISTRY_ADDR"
	envRegistryKeyPrefix    = "REGISTRY_KEY_PREFIX"
	envRegistryPollInterval = "REGISTRY_POLL_INTERVAL"

	envModelBasePath          = "MODEL_BASE_PATH"
	envServableName           = "SERVABLE_NAME"
	envFileSystemPollInterval = "FILE_SYSTEM_POLL_INTERVAL"

	envExecutorWorkers = "EXECUTOR_WORKERS"

	defaultMetricsLoggingInterval = 30 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := klog.FromContext(ctx)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx); err != nil {
		logger.Error(err, "failed to run state manager")
		os.Exit(1)
	}
}

func getStateManagerConfig() *serving.Config {
	config := serving.NewDefaultConfig()
	config.MonitorConfig = &monitor.Config{
		EnableMetrics:          true,
		MetricsLoggingInterval: defaultMetricsLoggingInterval,
	}

	if workers, err := strconv.Atoi(os.Getenv(envExecutorWorkers)); err == nil && workers > 0 {
		config.ExecutorConfig = &executor.Config{Name: "state-manager", Workers: workers}
	}

	ingest := events.DefaultPoolConfig()
	if endpoint := os.Getenv(envZMQEndpoint); endpoint != "" {
		ingest.ZMQEndpoint = endpoint
	}
	if topic := os.Getenv(envZMQTopic); topic != "" {
		ingest.TopicFilter = topic
	}
	if c, err := strconv.Atoi(os.Getenv(envPoolConcurrency)); err == nil && c > 0 {
		ingest.Concurrency = c
	}
	config.IngestConfig = ingest

	return config
}

func run(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	manager, err := serving.NewStateManager(ctx, getStateManagerConfig())
	if err != nil {
		return err
	}
	defer manager.Close()
	logger.Info("Created StateManager")

	// Aspired announcements are surfaced in the logs; pairing them with the
	// transitions ingested from the workers shows aspired vs. actual state.
	logAspired := func(name string, versions []source.AspiredVersion) {
		logger.Info("aspired versions announced", "servable", name, "count", len(versions))
		for _, v := range versions {
			logger.V(logging.DEBUG).Info("aspired version", "servable", name,
				"version", v.Version, "path", v.Path)
		}
	}

	if registryAddr := os.Getenv(envRegistryAddr); registryAddr != "" {
		registrySource, err := setupRegistrySource(ctx, registryAddr, logAspired)
		if err != nil {
			return err
		}
		defer registrySource.Close()
		manager.AddRunner(registrySource)
	}

	if basePath := os.Getenv(envModelBasePath); basePath != "" {
		fsSource, err := setupFileSystemSource(ctx, basePath, manager, logAspired)
		if err != nil {
			return err
		}
		manager.AddRunner(fsSource)
	}

	logger.Info("Starting state manager, listening for worker transitions")
	return manager.Run(ctx)
}

func setupRegistrySource(ctx context.Context, addr string,
	callback source.AspiredVersionsCallback,
) (*source.RegistrySource, error) {
	logger := klog.FromContext(ctx)

	cfg := source.DefaultRegistryConfig()
	cfg.Address = addr
	if prefix := os.Getenv(envRegistryKeyPrefix); prefix != "" {
		cfg.KeyPrefix = prefix
	}
	if interval, err := time.ParseDuration(os.Getenv(envRegistryPollInterval)); err == nil && interval > 0 {
		cfg.PollInterval = interval
	}

	logger.Info("Creating registry source", "address", cfg.Address, "keyPrefix", cfg.KeyPrefix)
	registrySource, err := source.NewRegistrySource(cfg, nil)
	if err != nil {
		return nil, err
	}

	if err := registrySource.SetAspiredVersionsCallback(callback); err != nil {
		registrySource.Close()
		return nil, err
	}

	return registrySource, nil
}

func setupFileSystemSource(ctx context.Context, basePath string, manager *serving.StateManager,
	callback source.AspiredVersionsCallback,
) (*source.FileSystemSource, error) {
	logger := klog.FromContext(ctx)

	name := os.Getenv(envServableName)
	if name == "" {
		name = "default"
	}

	cfg := source.DefaultFileSystemConfig()
	cfg.Servables = []source.ServablePath{{ServableName: name, BasePath: basePath}}
	if interval, err := time.ParseDuration(os.Getenv(envFileSystemPollInterval)); err == nil && interval > 0 {
		cfg.PollInterval = interval
	}

	logger.Info("Creating file-system source", "servable", name, "basePath", basePath)
	fsSource, err := source.NewFileSystemSource(cfg, manager.Executor())
	if err != nil {
		return nil, err
	}

	if err := fsSource.SetAspiredVersionsCallback(callback); err != nil {
		return nil, err
	}

	return fsSource, nil
}

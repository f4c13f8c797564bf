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

package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/executor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils/logging"
)

const (
	defaultRegistryKeyPrefix    = "servable:aspired:"
	defaultRegistryPollInterval = time.Second
)

// RegistryConfig holds the configuration for the registry source.
type RegistryConfig struct {
	Address string `json:"address,omitempty"` // Redis server address
	// KeyPrefix namespaces the aspired-version hashes.
	KeyPrefix string `json:"keyPrefix"`
	// PollInterval is how often the registry is re-scanned.
	PollInterval time.Duration `json:"pollInterval"`
}

// DefaultRegistryConfig returns a RegistryConfig with default values.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Address:      "redis://127.0.0.1:6379",
		KeyPrefix:    defaultRegistryKeyPrefix,
		PollInterval: defaultRegistryPollInterval,
	}
}

// RegistrySource reads aspired versions from a shared Redis registry. Each
// servable stream is one hash: the key is "<prefix><name>", fields are
// version numbers, values are storage paths. Streams appear and disappear
// at runtime; a hash that vanishes announces the empty list once, which is
// how operators deregister a stream.
type RegistrySource struct {
	config    RegistryConfig
	client    *redis.Client
	announcer *announcer

	// known holds the stream names seen on the previous scan. It is only
	// touched by the poll loop.
	known sets.Set[string]
}

var _ Source = &RegistrySource{}
var _ Runner = &RegistrySource{}

// NewRegistrySource connects to the registry and creates the source.
// Callbacks are delivered as exec tasks; a nil exec delivers them inline on
// the polling goroutine.
func NewRegistrySource(cfg *RegistryConfig, exec executor.Executor) (*RegistrySource, error) {
	if cfg == nil {
		cfg = DefaultRegistryConfig()
	}

	config := *cfg
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultRegistryKeyPrefix
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultRegistryPollInterval
	}

	if !strings.HasPrefix(config.Address, "redis://") &&
		!strings.HasPrefix(config.Address, "rediss://") &&
		!strings.HasPrefix(config.Address, "unix://") {
		config.Address = "redis://" + config.Address
	}

	redisOpt, err := redis.ParseURL(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RegistrySource{
		config:    config,
		client:    redisClient,
		announcer: newAnnouncer(exec),
		known:     sets.New[string](),
	}, nil
}

// SetAspiredVersionsCallback installs the consumer callback. It must be
// called before Start.
func (s *RegistrySource) SetAspiredVersionsCallback(callback AspiredVersionsCallback) error {
	return s.announcer.setCallback(callback)
}

// Start scans the registry until ctx is done. The first scan runs
// immediately; scan failures are logged and retried on the next interval.
func (s *RegistrySource) Start(ctx context.Context) error {
	if !s.announcer.installed() {
		return fmt.Errorf("registry source started without an aspired-versions callback: %w",
			servable.ErrFailedPrecondition)
	}

	err := wait.PollUntilContextCancel(ctx, s.config.PollInterval, true,
		func(ctx context.Context) (bool, error) {
			s.refresh(ctx)
			return false, nil
		})
	if wait.Interrupted(err) {
		return nil
	}

	return err
}

// Close releases the Redis client.
func (s *RegistrySource) Close() error {
	return s.client.Close()
}

// refresh scans the registry once and hands every discovered stream to the
// announcer. A scan or read failure keeps the previous aspired lists; only
// a successful scan that no longer shows a stream deregisters it.
func (s *RegistrySource) refresh(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("source.registry")

	iter := s.client.Scan(ctx, 0, s.config.KeyPrefix+"*", 0).Iterator()
	keys := make([]string, 0, len(s.known))
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Error(err, "failed to scan registry, keeping previous aspired lists")
		return
	}

	// pipeline for single RTT
	pipe := s.client.Pipeline()
	results := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		results[i] = pipe.HGetAll(ctx, key)
	}
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		logger.Error(execErr, "failed to read registry hashes, keeping previous aspired lists")
		return
	}

	current := sets.New[string]()
	for idx, cmd := range results {
		name := strings.TrimPrefix(keys[idx], s.config.KeyPrefix)
		if name == "" {
			continue
		}

		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			logger.Error(cmdErr, "failed to read aspired versions", "servable", name)
			continue
		}

		current.Insert(name)
		s.announcer.announce(ctx, name, versionsFromHash(ctx, name, fields))
	}

	// streams that disappeared from the registry announce the empty list
	for name := range s.known.Difference(current) {
		s.announcer.announce(ctx, name, nil)
	}
	s.known = current
}

// versionsFromHash converts one registry hash into a sorted aspired list.
// Fields that do not parse as non-negative version numbers are skipped.
func versionsFromHash(ctx context.Context, name string, fields map[string]string) []AspiredVersion {
	logger := klog.FromContext(ctx).WithName("source.registry")

	versions := make([]AspiredVersion, 0, len(fields))
	for field, path := range fields {
		version, err := strconv.ParseInt(field, 10, 64)
		if err != nil || version < 0 {
			logger.V(logging.DEBUG).Info("skipping malformed version field",
				"servable", name, "field", field)
			continue
		}

		versions = append(versions, AspiredVersion{Version: version, Path: path})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions
}

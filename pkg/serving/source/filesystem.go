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
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/executor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

const defaultFileSystemPollInterval = time.Second

// ServablePath pairs a servable name with the base path holding its
// numbered version subdirectories.
type ServablePath struct {
	ServableName string `json:"servableName"`
	BasePath     string `json:"basePath"`
}

// FileSystemConfig holds the configuration for the file-system source.
type FileSystemConfig struct {
	// Servables lists the streams to watch.
	Servables []ServablePath `json:"servables"`
	// PollInterval is how often base paths are re-listed.
	PollInterval time.Duration `json:"pollInterval"`
	// FailOnZeroVersions makes Start fail when a base path is unreadable or
	// holds no version children on the first poll.
	FailOnZeroVersions bool `json:"failOnZeroVersions"`
}

// DefaultFileSystemConfig returns a FileSystemConfig with default values.
// Servables must still be filled in by the caller.
func DefaultFileSystemConfig() *FileSystemConfig {
	return &FileSystemConfig{
		PollInterval: defaultFileSystemPollInterval,
	}
}

// FileSystemSource polls base paths for version subdirectories and announces
// the full aspired list of each stream whenever it changes. A child entry
// whose name parses as a non-negative integer is a version; all other
// children are ignored.
type FileSystemSource struct {
	config    FileSystemConfig
	announcer *announcer

	mu      sync.Mutex
	started bool
}

var _ Source = &FileSystemSource{}
var _ Runner = &FileSystemSource{}

// NewFileSystemSource validates the configuration and creates the source.
// Callbacks are delivered as exec tasks so a slow consumer never stalls the
// poll loop; a nil exec delivers them inline on the polling goroutine.
func NewFileSystemSource(cfg *FileSystemConfig, exec executor.Executor) (*FileSystemSource, error) {
	if cfg == nil {
		cfg = DefaultFileSystemConfig()
	}

	config := *cfg
	if config.PollInterval <= 0 {
		config.PollInterval = defaultFileSystemPollInterval
	}

	if len(config.Servables) == 0 {
		return nil, fmt.Errorf("file-system source requires at least one servable: %w", servable.ErrInvalidArgument)
	}

	names := sets.New[string]()
	for _, sp := range config.Servables {
		if sp.ServableName == "" {
			return nil, fmt.Errorf("servable name must not be empty: %w", servable.ErrInvalidArgument)
		}
		if sp.BasePath == "" {
			return nil, fmt.Errorf("servable %q requires a base path: %w", sp.ServableName, servable.ErrInvalidArgument)
		}
		if names.Has(sp.ServableName) {
			return nil, fmt.Errorf("servable %q is configured twice: %w", sp.ServableName, servable.ErrInvalidArgument)
		}
		names.Insert(sp.ServableName)
	}

	return &FileSystemSource{
		config:    config,
		announcer: newAnnouncer(exec),
	}, nil
}

// SetAspiredVersionsCallback installs the consumer callback. It must be
// called before Start; installing a new callback while the source is
// running replaces the old one for subsequent announcements.
func (f *FileSystemSource) SetAspiredVersionsCallback(callback AspiredVersionsCallback) error {
	return f.announcer.setCallback(callback)
}

// Start polls until ctx is done. The first poll runs synchronously so
// misconfigured paths surface as a startup error when FailOnZeroVersions
// is set; later polls log failures and keep going.
func (f *FileSystemSource) Start(ctx context.Context) error {
	if !f.announcer.installed() {
		return fmt.Errorf("file-system source started without an aspired-versions callback: %w",
			servable.ErrFailedPrecondition)
	}

	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("file-system source already started: %w", servable.ErrFailedPrecondition)
	}
	f.started = true
	f.mu.Unlock()

	if err := f.pollOnce(ctx, true); err != nil {
		return err
	}

	err := wait.PollUntilContextCancel(ctx, f.config.PollInterval, false,
		func(ctx context.Context) (bool, error) {
			_ = f.pollOnce(ctx, false)
			return false, nil
		})
	if wait.Interrupted(err) {
		return nil
	}

	return err
}

// pollOnce lists every configured base path and hands the results to the
// announcer. Only the startup poll can fail; a transient error later skips
// the stream for the cycle without announcing anything, so a flaky file
// system never masquerades as a deregistration.
func (f *FileSystemSource) pollOnce(ctx context.Context, startup bool) error {
	logger := klog.FromContext(ctx).WithName("source.filesystem")

	for _, sp := range f.config.Servables {
		versions, err := listVersionChildren(sp.BasePath)
		if err != nil {
			if startup && f.config.FailOnZeroVersions {
				return fmt.Errorf("failed to list versions for servable %q: %w", sp.ServableName, err)
			}
			logger.Error(err, "failed to list versions, keeping previous aspired list",
				"servable", sp.ServableName, "basePath", sp.BasePath)
			continue
		}

		if len(versions) == 0 && startup && f.config.FailOnZeroVersions {
			return fmt.Errorf("servable %q has zero versions under %q: %w",
				sp.ServableName, sp.BasePath, servable.ErrFailedPrecondition)
		}

		f.announcer.announce(ctx, sp.ServableName, versions)
	}

	return nil
}

// listVersionChildren returns the aspired versions found under basePath,
// sorted by version number.
func listVersionChildren(basePath string) ([]AspiredVersion, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read base path: %w", err)
	}

	versions := make([]AspiredVersion, 0, len(entries))
	for _, entry := range entries {
		version, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || version < 0 {
			continue
		}

		versions = append(versions, AspiredVersion{
			Version: version,
			Path:    filepath.Join(basePath, entry.Name()),
		})
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}

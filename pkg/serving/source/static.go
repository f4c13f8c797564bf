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
	"fmt"
	"sync"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

// StaticConfig holds the configuration for a static source: one servable
// stream, one version, one storage path.
type StaticConfig struct {
	ServableName string `json:"servableName"`
	Version      int64  `json:"version"`
	Path         string `json:"path"`
}

// StaticSource announces a single hard-coded servable version, exactly once,
// from inside SetAspiredVersionsCallback. It is meant for fixed single-model
// deployments and tests; it has no polling loop and no goroutines.
type StaticSource struct {
	config StaticConfig

	mu        sync.Mutex
	installed bool
}

var _ Source = &StaticSource{}

// NewStaticSource validates the configuration and creates the source.
// Construction has no side effects; nothing is announced until a callback
// is installed.
func NewStaticSource(cfg *StaticConfig) (*StaticSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("static source requires a configuration: %w", servable.ErrInvalidArgument)
	}

	id := servable.ID{Name: cfg.ServableName, Version: cfg.Version}
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create static source: %w", err)
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("static source for %s requires a storage path: %w", id, servable.ErrInvalidArgument)
	}

	return &StaticSource{config: *cfg}, nil
}

// SetAspiredVersionsCallback installs callback and synchronously announces
// the configured version to it before returning. The announcement happens
// exactly once for the lifetime of the source: a second installation is
// rejected, because silently accepting it would hide a wiring bug while the
// new callback never hears about the servable.
func (s *StaticSource) SetAspiredVersionsCallback(callback AspiredVersionsCallback) error {
	if callback == nil {
		return fmt.Errorf("aspired-versions callback must not be nil: %w", servable.ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.installed {
		s.mu.Unlock()
		return fmt.Errorf("static source for %q already announced its version: %w",
			s.config.ServableName, servable.ErrFailedPrecondition)
	}
	s.installed = true
	s.mu.Unlock()

	callback(s.config.ServableName, []AspiredVersion{{
		Version: s.config.Version,
		Path:    s.config.Path,
	}})

	return nil
}

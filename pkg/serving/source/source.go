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

// Package source provides storage-path sources: components that announce
// the aspired versions of servable streams to a consumer callback, from a
// hard-coded config, a polled file system, or a shared Redis registry.
package source

import (
	"context"
)

// AspiredVersion pairs a servable version number with the storage path its
// artifacts load from.
type AspiredVersion struct {
	Version int64  `json:"version"`
	Path    string `json:"path"`
}

// AspiredVersionsCallback receives the complete aspired version list for one
// servable stream. Every invocation carries the full list, never a delta;
// an empty list means nothing is aspired for the stream.
type AspiredVersionsCallback func(name string, versions []AspiredVersion)

// Source announces aspired versions for one or more servable streams.
type Source interface {
	// SetAspiredVersionsCallback installs the consumer callback.
	SetAspiredVersionsCallback(callback AspiredVersionsCallback) error
}

// Runner is implemented by polling sources that keep announcing until their
// context is canceled.
type Runner interface {
	// Start blocks until ctx is done or the source fails.
	Start(ctx context.Context) error
}

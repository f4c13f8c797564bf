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

// Package servable defines the identity and lifecycle-state value types that
// the rest of the project exchanges. Everything here is a plain copyable
// value: events, snapshots and map entries never share mutable storage.
package servable

import (
	"fmt"
)

// ID uniquely identifies one version of one servable stream.
type ID struct {
	// Name is the servable stream name, e.g. a model name.
	Name string `json:"name"`
	// Version is the version number within the stream. Valid versions are
	// non-negative; larger numbers are newer.
	Version int64 `json:"version"`
}

// String renders the ID for logs and registry keys.
func (id ID) String() string {
	return fmt.Sprintf("%s@%d", id.Name, id.Version)
}

// Less orders IDs by name, then version.
func (id ID) Less(other ID) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	return id.Version < other.Version
}

// Validate checks that the ID is well-formed.
func (id ID) Validate() error {
	if id.Name == "" {
		return fmt.Errorf("servable name must not be empty: %w", ErrInvalidArgument)
	}
	if id.Version < 0 {
		return fmt.Errorf("servable version %d must be non-negative: %w", id.Version, ErrInvalidArgument)
	}
	return nil
}

// ManagerState is the lifecycle stage of a servable version as driven by its
// manager. The set of states is closed.
type ManagerState string

const (
	// Start means the manager has seen the servable but taken no action.
	Start ManagerState = "start"
	// Loading means a load is in flight.
	Loading ManagerState = "loading"
	// Available means the servable is loaded and may be served.
	Available ManagerState = "available"
	// Unloading means an unload is in flight.
	Unloading ManagerState = "unloading"
	// End means the servable has been unloaded and will not return.
	End ManagerState = "end"
)

// ParseManagerState converts the wire representation of a manager state.
func ParseManagerState(s string) (ManagerState, error) {
	switch state := ManagerState(s); state {
	case Start, Loading, Available, Unloading, End:
		return state, nil
	default:
		return "", fmt.Errorf("unknown manager state %q: %w", s, ErrInvalidArgument)
	}
}

// State describes the lifecycle state of a single servable version as last
// reported by its manager. A State is self-describing: consumers must read
// the identity from the event itself, never infer it from context.
type State struct {
	// ID identifies the servable version this state belongs to.
	ID ID `json:"id"`
	// ManagerState is the lifecycle stage.
	ManagerState ManagerState `json:"managerState"`
	// Health is the latest health status reported for the servable.
	Health Status `json:"health"`
}

// String renders the state for logs.
func (s State) String() string {
	return fmt.Sprintf("%s: %s (%s)", s.ID, s.ManagerState, s.Health)
}

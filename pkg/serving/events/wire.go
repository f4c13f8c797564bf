// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

// TransitionEventTag is the tag for Transition events.
const TransitionEventTag = "Transition"

// Batch represents a batch of transition events.
// It is encoded as an array to match the serving workers' format.
type Batch struct {
	_      struct{} `msgpack:",array"`
	TS     float64
	Events []msgpack.RawMessage
}

// Transition is the wire form of a servable state change.
type Transition struct {
	_             struct{} `msgpack:",array"`
	Name          string
	Version       int64
	ManagerState  string
	HealthCode    string
	HealthMessage string
}

// TransitionOf builds the wire form of a domain state.
func TransitionOf(state servable.State) Transition {
	return Transition{
		Name:          state.ID.Name,
		Version:       state.ID.Version,
		ManagerState:  string(state.ManagerState),
		HealthCode:    string(state.Health.Code),
		HealthMessage: state.Health.Message,
	}
}

// ToTaggedUnion flattens the transition into its tagged-union wire form.
func (tr Transition) ToTaggedUnion() []any {
	return []any{
		TransitionEventTag,
		tr.Name,
		tr.Version,
		tr.ManagerState,
		tr.HealthCode,
		tr.HealthMessage,
	}
}

// State converts the wire transition into the domain value, rejecting
// malformed identities, states and codes.
func (tr Transition) State() (servable.State, error) {
	id := servable.ID{Name: tr.Name, Version: tr.Version}
	if err := id.Validate(); err != nil {
		return servable.State{}, fmt.Errorf("failed to convert transition: %w", err)
	}

	managerState, err := servable.ParseManagerState(tr.ManagerState)
	if err != nil {
		return servable.State{}, fmt.Errorf("failed to convert transition for %s: %w", id, err)
	}

	code, err := servable.ParseCode(tr.HealthCode)
	if err != nil {
		return servable.State{}, fmt.Errorf("failed to convert transition for %s: %w", id, err)
	}

	return servable.State{
		ID:           id,
		ManagerState: managerState,
		Health:       servable.NewStatus(code, tr.HealthMessage),
	}, nil
}

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

//nolint:testpackage // allow tests to run in the same package
package e2e

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

// TestRegistryDrivenLoad verifies that a version registered in the registry
// flows through the source and the loader into the monitor.
func (s *StateManagerSuite) TestRegistryDrivenLoad() {
	s.registerVersion("mnist", 7, "/models/mnist/7")

	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)

	state, ok := s.manager.Monitor().GetState(servable.ID{Name: "mnist", Version: 7})
	s.Require().True(ok)
	s.True(state.Health.OK())
}

// TestRegistryUpgrade verifies that registering a second version loads it
// alongside the first.
func (s *StateManagerSuite) TestRegistryUpgrade() {
	s.registerVersion("mnist", 7, "/models/mnist/7")
	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)

	s.registerVersion("mnist", 8, "/models/mnist/8")
	s.waitForState(servable.ID{Name: "mnist", Version: 8}, servable.Available)

	state, ok := s.manager.Monitor().GetState(servable.ID{Name: "mnist", Version: 7})
	s.Require().True(ok)
	s.Equal(servable.Available, state.ManagerState, "loading version 8 must not disturb version 7")

	s.Len(s.manager.Monitor().GetAllVersionStates("mnist"), 2)
}

// TestRegistryDeregistration verifies that deleting a stream's hash unloads
// its versions, and that the monitor retains the terminal state.
func (s *StateManagerSuite) TestRegistryDeregistration() {
	s.registerVersion("mnist", 7, "/models/mnist/7")
	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)

	s.deregisterServable("mnist")
	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.End)

	// the monitor never forgets a version it has seen
	state, ok := s.manager.Monitor().GetState(servable.ID{Name: "mnist", Version: 7})
	s.Require().True(ok)
	s.Equal(servable.End, state.ManagerState)
}

// TestRegistryVersionRollover swaps version 7 for version 8 in one stream.
func (s *StateManagerSuite) TestRegistryVersionRollover() {
	s.registerVersion("mnist", 7, "/models/mnist/7")
	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)

	s.registerVersion("mnist", 8, "/models/mnist/8")
	s.Require().NoError(s.rdb.HDel(s.ctx, registryKeyPrefix+"mnist", "7").Err())

	s.waitForState(servable.ID{Name: "mnist", Version: 8}, servable.Available)
	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.End)
}

// TestMultipleServables verifies that independent streams load in parallel.
func (s *StateManagerSuite) TestMultipleServables() {
	s.registerVersion("mnist", 7, "/models/mnist/7")
	s.registerVersion("resnet", 3, "/models/resnet/3")

	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)
	s.waitForState(servable.ID{Name: "resnet", Version: 3}, servable.Available)

	s.True(s.manager.Monitor().Names().Equal(sets.New("mnist", "resnet")))
}

// TestMalformedRegistryFieldsAreIgnored verifies that junk fields in a
// registry hash do not block the valid ones.
func (s *StateManagerSuite) TestMalformedRegistryFieldsAreIgnored() {
	s.registerVersion("mnist", 7, "/models/mnist/7")
	err := s.rdb.HSet(s.ctx, registryKeyPrefix+"mnist", "latest", "/models/mnist/latest").Err()
	s.Require().NoError(err)

	s.waitForState(servable.ID{Name: "mnist", Version: 7}, servable.Available)
	s.Len(s.manager.Monitor().GetAllVersionStates("mnist"), 1)
}

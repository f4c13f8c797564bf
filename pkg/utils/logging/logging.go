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

// Package logging defines the klog verbosity levels used across the project.
package logging

const (
	// DEBUG verbosity is used for messages that help debug the flow of
	// events through the system.
	DEBUG = 4
	// TRACE verbosity is used for high-volume messages that trace
	// individual operations.
	TRACE = 5
)

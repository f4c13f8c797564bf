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

// Package events carries servable state changes between components. It
// provides the synchronous in-process Bus that the state monitor subscribes
// to, the msgpack wire format serving workers publish transitions in, and a
// sharded ingest pool that decodes remote transition streams and
// republishes them on the local bus while preserving per-servable order.
package events

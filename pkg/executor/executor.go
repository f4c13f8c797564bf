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

// Package executor provides fire-and-forget execution of closures: an
// inline executor and a fixed-size worker pool with an unbounded FIFO
// queue.
package executor

// Executor runs scheduled closures on some execution context.
type Executor interface {
	// Schedule hands fn to the executor. Fire-and-forget: there is no
	// result and no completion signal. A task that panics takes the
	// process down; tasks own their error handling.
	Schedule(fn func())
}

// Inline is an Executor that runs each task on the calling goroutine
// before Schedule returns.
type Inline struct{}

var _ Executor = Inline{}

// Schedule runs fn immediately.
func (Inline) Schedule(fn func()) {
	fn()
}

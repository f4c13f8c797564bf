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
	"container/list"
	"sync"
)

// Handler consumes events published on a Bus.
type Handler[T any] func(event T)

// Bus is an in-process publish/subscribe channel. Publishing is synchronous:
// every subscribed handler runs on the publisher's goroutine, in subscription
// order, before Publish returns. The handler list is guarded by a mutex held
// only for list manipulation; handlers themselves run outside it, so a slow
// handler never blocks Subscribe or Unsubscribe on other goroutines.
//
// Handlers must not publish to the same bus from within their own
// invocation; hand the event to an executor task instead.
type Bus[T any] struct {
	mu       sync.Mutex
	handlers *list.List // of Handler[T], in subscription order
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{handlers: list.New()}
}

// Subscribe registers a handler and returns its subscription handle. Safe to
// call from any goroutine, including during an in-flight Publish; the handler
// observes events published after registration.
func (b *Bus[T]) Subscribe(handler Handler[T]) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	return &Subscription[T]{bus: b, elem: b.handlers.PushBack(handler)}
}

// Publish delivers event to every currently-subscribed handler, in
// subscription order, on the calling goroutine. With no subscribers it is a
// no-op. A panicking handler propagates to the publisher.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	snapshot := make([]Handler[T], 0, b.handlers.Len())
	for elem := b.handlers.Front(); elem != nil; elem = elem.Next() {
		snapshot = append(snapshot, elem.Value.(Handler[T]))
	}
	b.mu.Unlock()

	for _, handler := range snapshot {
		handler(event)
	}
}

// Subscription is a scoped handle for one subscribed handler.
type Subscription[T any] struct {
	bus  *Bus[T]
	elem *list.Element
	once sync.Once
}

// Unsubscribe removes the handler. Idempotent. A publish already in flight
// on another goroutine works from its own snapshot of the handler list and
// may deliver one final event; publishes that start after Unsubscribe
// returns never reach the handler.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		s.bus.handlers.Remove(s.elem)
	})
}

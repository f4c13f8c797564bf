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

//nolint:testpackage // need to test internal types
package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

func marshalBatch(t *testing.T, transitions ...Transition) []byte {
	t.Helper()

	rawEvents := make([]msgpack.RawMessage, 0, len(transitions))
	for _, transition := range transitions {
		raw, err := msgpack.Marshal(transition.ToTaggedUnion())
		require.NoError(t, err)
		rawEvents = append(rawEvents, raw)
	}

	payload, err := msgpack.Marshal(&Batch{
		TS:     float64(time.Now().UnixNano()) / 1e9,
		Events: rawEvents,
	})
	require.NoError(t, err)
	return payload
}

func collectingBus() (*Bus[servable.State], *[]servable.State) {
	bus := NewBus[servable.State]()
	var got []servable.State
	bus.Subscribe(func(state servable.State) { got = append(got, state) })
	return bus, &got
}

func TestProcessMessagePublishesTransitionsInOrder(t *testing.T) {
	bus, got := collectingBus()
	pool := NewPool(&PoolConfig{Concurrency: 1}, bus)

	payload := marshalBatch(t,
		TransitionOf(servable.State{
			ID:           servable.ID{Name: "mnist", Version: 7},
			ManagerState: servable.Loading,
			Health:       servable.StatusOK(),
		}),
		TransitionOf(servable.State{
			ID:           servable.ID{Name: "mnist", Version: 7},
			ManagerState: servable.Available,
			Health:       servable.StatusOK(),
		}),
	)

	pool.processMessage(context.Background(), &Message{
		Topic:        "state@worker-0@mnist",
		Payload:      payload,
		Seq:          1,
		WorkerID:     "worker-0",
		ServableName: "mnist",
	})

	require.Len(t, *got, 2)
	assert.Equal(t, servable.Loading, (*got)[0].ManagerState)
	assert.Equal(t, servable.Available, (*got)[1].ManagerState)
	assert.Equal(t, servable.ID{Name: "mnist", Version: 7}, (*got)[1].ID)
}

func TestProcessMessageDropsUndecodablePayload(t *testing.T) {
	bus, got := collectingBus()
	pool := NewPool(&PoolConfig{Concurrency: 1}, bus)

	pool.processMessage(context.Background(), &Message{
		Topic:   "state@worker-0@mnist",
		Payload: []byte("definitely not msgpack"),
	})

	assert.Empty(t, *got)
}

func TestProcessMessageSkipsBadEventsKeepsGoodOnes(t *testing.T) {
	bus, got := collectingBus()
	pool := NewPool(&PoolConfig{Concurrency: 1}, bus)

	unknownTag, err := msgpack.Marshal([]any{"Resharded", "mnist", 3})
	require.NoError(t, err)

	badState, err := msgpack.Marshal(Transition{
		Name: "mnist", Version: 7, ManagerState: "hibernating", HealthCode: "ok",
	}.ToTaggedUnion())
	require.NoError(t, err)

	good, err := msgpack.Marshal(TransitionOf(servable.State{
		ID:           servable.ID{Name: "mnist", Version: 8},
		ManagerState: servable.Loading,
		Health:       servable.StatusOK(),
	}).ToTaggedUnion())
	require.NoError(t, err)

	payload, err := msgpack.Marshal(&Batch{
		TS:     1.0,
		Events: []msgpack.RawMessage{unknownTag, badState, good},
	})
	require.NoError(t, err)

	pool.processMessage(context.Background(), &Message{
		Topic:        "state@worker-0@mnist",
		Payload:      payload,
		ServableName: "mnist",
	})

	require.Len(t, *got, 1)
	assert.Equal(t, servable.ID{Name: "mnist", Version: 8}, (*got)[0].ID)
}

func TestAddTaskShardsByServableName(t *testing.T) {
	bus := NewBus[servable.State]()
	pool := NewPool(&PoolConfig{Concurrency: 4}, bus)

	for i := 0; i < 3; i++ {
		pool.AddTask(&Message{ServableName: "mnist", Seq: uint64(i)})
	}
	pool.AddTask(&Message{ServableName: "resnet"})

	total := 0
	sameShard := 0
	for _, queue := range pool.queues {
		length := queue.Len()
		total += length
		if length >= 3 {
			sameShard = length
		}
	}

	assert.Equal(t, 4, total)
	assert.GreaterOrEqual(t, sameShard, 3, "all messages for one servable share a shard")
}

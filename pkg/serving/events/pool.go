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
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/metrics"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils/logging"
)

// PoolConfig holds the configuration for the transition ingest pool.
type PoolConfig struct {
	// ZMQEndpoint is the ZMQ address to bind for worker transition streams
	// (e.g., "tcp://*:5557").
	ZMQEndpoint string `json:"zmqEndpoint"`
	// TopicFilter is the ZMQ subscription filter (e.g., "state@").
	TopicFilter string `json:"topicFilter"`
	// Concurrency is the number of parallel workers to run.
	Concurrency int `json:"concurrency"`
}

// DefaultPoolConfig returns a default configuration for the ingest pool.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		ZMQEndpoint: "tcp://*:5557",
		TopicFilter: "state@",
		Concurrency: 4,
	}
}

// Message represents a message that is read from a ZMQ topic.
type Message struct {
	Topic   string
	Payload []byte
	// Seq is the publisher-assigned sequence number of the message.
	Seq uint64
	// WorkerID identifies the serving worker that published the message.
	// Extracted from the ZMQ topic.
	WorkerID string
	// ServableName is the servable stream the message belongs to.
	// Extracted from the ZMQ topic.
	ServableName string
}

// Pool is a sharded worker pool that decodes remote transition messages and
// republishes them on the in-process bus. Messages for the same servable
// name always land on the same shard, so one servable's transitions reach
// the bus in arrival order; distinct servables proceed in parallel.
type Pool struct {
	queues      []workqueue.TypedRateLimitingInterface[*Message]
	concurrency int
	subscriber  *zmqSubscriber
	bus         *Bus[servable.State]
	wg          sync.WaitGroup
}

// NewPool creates a Pool with a sharded worker setup. Zero-valued config
// fields fall back to their defaults.
func NewPool(cfg *PoolConfig, bus *Bus[servable.State]) *Pool {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}

	config := *cfg
	defaults := DefaultPoolConfig()
	if config.ZMQEndpoint == "" {
		config.ZMQEndpoint = defaults.ZMQEndpoint
	}
	if config.TopicFilter == "" {
		config.TopicFilter = defaults.TopicFilter
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	p := &Pool{
		queues:      make([]workqueue.TypedRateLimitingInterface[*Message], config.Concurrency),
		concurrency: config.Concurrency,
		bus:         bus,
	}

	for i := 0; i < p.concurrency; i++ {
		p.queues[i] = workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[*Message]())
	}

	p.subscriber = newZMQSubscriber(p, config.ZMQEndpoint, config.TopicFilter)
	return p
}

// Run starts the workers and the ZMQ subscriber and blocks until ctx is
// done. Messages already queued at shutdown are drained before Run returns.
func (p *Pool) Run(ctx context.Context) {
	logger := klog.FromContext(ctx)
	logger.Info("starting transition ingest pool", "workers", p.concurrency)

	p.startWorkers(ctx)
	go p.subscriber.Start(ctx)

	<-ctx.Done()
	p.shutdown(ctx)
}

func (p *Pool) startWorkers(ctx context.Context) {
	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		// Each worker is given its own dedicated queue shard.
		go p.worker(ctx, i)
	}
}

func (p *Pool) shutdown(ctx context.Context) {
	for _, queue := range p.queues {
		queue.ShutDown()
	}
	p.wg.Wait()
	klog.FromContext(ctx).Info("transition ingest pool shut down")
}

// AddTask is called by the subscriber to add a message to the processing
// queue. Hashing the servable name to select a shard keeps transitions for
// one servable ordered; the monitor's latest-wins map makes cross-servable
// order irrelevant.
func (p *Pool) AddTask(task *Message) {
	//nolint:gosec // if concurrency overflows then the world is in trouble anyway
	queueIndex := xxhash.Sum64String(task.ServableName) % uint64(p.concurrency)
	p.queues[queueIndex].Add(task)
}

// worker is the main processing loop for a single worker goroutine.
func (p *Pool) worker(ctx context.Context, workerIndex int) {
	defer p.wg.Done()
	queue := p.queues[workerIndex]
	for {
		task, shutdown := queue.Get()
		if shutdown {
			return
		}

		// Use a nested func to ensure Done is always called.
		func(task *Message) {
			defer queue.Done(task)
			p.processMessage(ctx, task)
			queue.Forget(task)
		}(task)
	}
}

// processMessage deserializes the message payload and republishes each
// decoded transition on the bus. Undecodable payloads are dropped rather
// than retried.
func (p *Pool) processMessage(ctx context.Context, msg *Message) {
	debugLogger := klog.FromContext(ctx).V(logging.DEBUG)
	debugLogger.Info("processing transition message", "topic", msg.Topic, "seq", msg.Seq)
	metrics.IngestedMessages.Inc()

	var batch Batch
	if err := msgpack.Unmarshal(msg.Payload, &batch); err != nil {
		// Likely a poison-pill message; dropping it beats retrying forever.
		metrics.DroppedMessages.Inc()
		debugLogger.Error(err, "failed to unmarshal transition batch, dropping message")
		return
	}

	for _, rawEvent := range batch.Events {
		var taggedUnion []msgpack.RawMessage
		if err := msgpack.Unmarshal(rawEvent, &taggedUnion); err != nil {
			debugLogger.Error(err, "failed to unmarshal tagged union, skipping event")
			continue
		}

		if len(taggedUnion) < 1 {
			debugLogger.Error(nil, "malformed tagged union, no tag element")
			continue
		}

		var tag string
		if err := msgpack.Unmarshal(taggedUnion[0], &tag); err != nil {
			debugLogger.Error(err, "failed to unmarshal tag from tagged union, skipping event")
			continue
		}

		if tag != TransitionEventTag {
			debugLogger.Info("unknown event tag, skipping event", "tag", tag)
			continue
		}

		payloadBytes, err := msgpack.Marshal(taggedUnion[1:])
		if err != nil {
			debugLogger.Error(err, "failed to re-marshal payload parts, skipping event")
			continue
		}

		var transition Transition
		if err := msgpack.Unmarshal(payloadBytes, &transition); err != nil {
			debugLogger.Error(err, "failed to unmarshal transition, skipping event")
			continue
		}

		state, err := transition.State()
		if err != nil {
			debugLogger.Error(err, "invalid transition on the wire, skipping event", "servable", transition.Name)
			continue
		}

		p.bus.Publish(state)
	}
}

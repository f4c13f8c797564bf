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
	"encoding/binary"
	"strings"
	"time"

	zmq "github.com/pebbe/zmq4"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils/logging"
)

const (
	// How long to wait before retrying to connect.
	retryInterval = 5 * time.Second
	// How often the poller should time out to check for context cancellation.
	pollTimeout = 250 * time.Millisecond
)

// zmqSubscriber receives transition messages from serving workers and
// forwards them to a pool.
type zmqSubscriber struct {
	pool        *Pool
	endpoint    string
	topicFilter string
}

// newZMQSubscriber creates a new ZMQ subscriber.
func newZMQSubscriber(pool *Pool, endpoint, topicFilter string) *zmqSubscriber {
	return &zmqSubscriber{
		pool:        pool,
		endpoint:    endpoint,
		topicFilter: topicFilter,
	}
}

// Start binds a SUB socket, receives messages, wraps them in Message
// structs, and pushes them into the pool. The loop runs until the provided
// context is canceled.
func (z *zmqSubscriber) Start(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("zmq-subscriber")

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down zmq-subscriber")
			return
		default:
			// Socket setup/teardown and connection retries live in a
			// separate function so each attempt starts clean.
			z.runSubscriber(ctx)
			// wait before retrying, unless the context has been canceled.
			select {
			case <-time.After(retryInterval):
				logger.Info("retrying zmq-subscriber")
			case <-ctx.Done():
				logger.Info("shutting down zmq-subscriber")
				return
			}
		}
	}
}

// runSubscriber binds the SUB socket, subscribes to the topic filter, and
// listens for messages until an error forces a reconnect.
func (z *zmqSubscriber) runSubscriber(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("zmq-subscriber")
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		logger.Error(err, "failed to create subscriber socket")
		return
	}
	defer sub.Close()

	if err := sub.Bind(z.endpoint); err != nil {
		logger.Error(err, "failed to bind subscriber socket", "endpoint", z.endpoint)
		return
	}
	logger.Info("bound subscriber socket", "endpoint", z.endpoint)

	if err := sub.SetSubscribe(z.topicFilter); err != nil {
		logger.Error(err, "failed to subscribe to topic filter", "topic", z.topicFilter)
		return
	}

	poller := zmq.NewPoller()
	poller.Add(sub, zmq.POLLIN)
	debugLogger := logger.V(logging.DEBUG)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			debugLogger.Error(err, "failed to poll zmq subscriber", "endpoint", z.endpoint)
			break // Exit on poll error to reconnect
		}

		if len(polled) > 0 {
			parts, err := sub.RecvMessageBytes(0)
			if err != nil {
				debugLogger.Error(err, "failed to receive message from zmq subscriber", "endpoint", z.endpoint)
				break // Exit on receive error to reconnect
			}
			if len(parts) != 3 {
				debugLogger.Error(nil, "dropping message with unexpected part count", "parts", len(parts))
				continue
			}
			topic := string(parts[0])
			seqBytes := parts[1]
			payload := parts[2]

			if len(seqBytes) != 8 {
				debugLogger.Error(nil, "dropping message with malformed sequence number", "topic", topic)
				continue
			}
			seq := binary.BigEndian.Uint64(seqBytes)

			// Extract identifiers from the topic, which follows the
			// "state@<worker-id>@<servable-name>" format.
			topicParts := strings.Split(topic, "@")
			if len(topicParts) != 3 {
				debugLogger.Error(nil, "failed to extract identifiers from topic, expected format state@<worker-id>@<servable-name>", "topic", topic)
				continue
			}
			workerID := topicParts[1]
			servableName := topicParts[2]

			debugLogger.Info("received message from zmq subscriber",
				"topic", topic,
				"seq", seq,
				"workerID", workerID,
				"servableName", servableName,
				"payloadSize", len(payload))

			z.pool.AddTask(&Message{
				Topic:        topic,
				Payload:      payload,
				Seq:          seq,
				WorkerID:     workerID,
				ServableName: servableName,
			})
		}
	}
}

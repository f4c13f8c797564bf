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

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Transitions counts state transitions applied to the monitor, by
	// manager state.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serving", Subsystem: "monitor", Name: "transitions_total",
		Help: "Total number of servable state transitions recorded",
	}, []string{"manager_state"})
	// TrackedEntries gauges the number of (name, version) entries the
	// monitor currently retains.
	TrackedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "serving", Subsystem: "monitor", Name: "tracked_entries",
		Help: "Number of servable version entries currently tracked",
	})

	// IngestedMessages counts event messages handled by the ingest pool.
	IngestedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serving", Subsystem: "events", Name: "messages_total",
		Help: "Total number of transition messages ingested",
	})
	// DroppedMessages counts ingest messages dropped as undecodable.
	DroppedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serving", Subsystem: "events", Name: "dropped_messages_total",
		Help: "Number of ingested messages dropped as malformed",
	})

	// ScheduledTasks counts closures handed to the executor.
	ScheduledTasks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serving", Subsystem: "executor", Name: "scheduled_tasks_total",
		Help: "Total number of tasks scheduled on the executor",
	})
	// CompletedTasks counts closures the executor ran to completion.
	CompletedTasks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "serving", Subsystem: "executor", Name: "completed_tasks_total",
		Help: "Total number of executor tasks run to completion",
	})
	// PendingTasks gauges tasks scheduled but not yet finished.
	PendingTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "serving", Subsystem: "executor", Name: "pending_tasks",
		Help: "Number of executor tasks currently queued or running",
	})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Transitions, TrackedEntries,
		IngestedMessages, DroppedMessages,
		ScheduledTasks, CompletedTasks, PendingTasks,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with K8s registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values every
// interval.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func logMetrics(ctx context.Context) {
	var m dto.Metric

	transitions := float64(0)
	transitionChan := make(chan prometheus.Metric, 16)
	go func() {
		Transitions.Collect(transitionChan)
		close(transitionChan)
	}()
	for metric := range transitionChan {
		if err := metric.Write(&m); err != nil {
			return
		}
		transitions += m.GetCounter().GetValue()
	}

	err := TrackedEntries.Write(&m)
	if err != nil {
		return
	}
	tracked := m.GetGauge().GetValue()

	err = IngestedMessages.Write(&m)
	if err != nil {
		return
	}
	ingested := m.GetCounter().GetValue()

	err = DroppedMessages.Write(&m)
	if err != nil {
		return
	}
	dropped := m.GetCounter().GetValue()

	err = ScheduledTasks.Write(&m)
	if err != nil {
		return
	}
	scheduled := m.GetCounter().GetValue()

	err = CompletedTasks.Write(&m)
	if err != nil {
		return
	}
	completed := m.GetCounter().GetValue()

	err = PendingTasks.Write(&m)
	if err != nil {
		return
	}
	pending := m.GetGauge().GetValue()

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"transitions", transitions,
		"tracked_entries", tracked,
		"ingested", ingested,
		"dropped", dropped,
		"scheduled_tasks", scheduled,
		"completed_tasks", completed,
		"pending_tasks", pending,
	)
}

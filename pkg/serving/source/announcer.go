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

package source

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/executor"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/utils/logging"
)

// announcer delivers full aspired lists through an executor. It suppresses
// lists that are unchanged since the last announcement for the same stream,
// and skips deliveries that a newer announcement has already superseded.
// Deliveries for one stream never run concurrently, and the latest announced
// list always lands last.
type announcer struct {
	exec executor.Executor

	mu          sync.Mutex
	callback    AspiredVersionsCallback
	digests     map[string]uint64
	generations map[string]uint64
	deliverMu   map[string]*sync.Mutex
}

// newAnnouncer creates an announcer delivering through exec. A nil exec
// delivers callbacks inline on the announcing goroutine.
func newAnnouncer(exec executor.Executor) *announcer {
	if exec == nil {
		exec = executor.Inline{}
	}

	return &announcer{
		exec:        exec,
		digests:     make(map[string]uint64),
		generations: make(map[string]uint64),
		deliverMu:   make(map[string]*sync.Mutex),
	}
}

func (a *announcer) setCallback(callback AspiredVersionsCallback) error {
	if callback == nil {
		return fmt.Errorf("aspired-versions callback must not be nil: %w", servable.ErrInvalidArgument)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.callback = callback
	return nil
}

func (a *announcer) installed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.callback != nil
}

// announce schedules delivery of versions for name unless the list is
// unchanged since the last announcement. A delivery that has not run by the
// time a newer list is announced for the same stream is skipped: the newer
// list supersedes it.
func (a *announcer) announce(ctx context.Context, name string, versions []AspiredVersion) {
	digest := aspiredDigest(name, versions)

	a.mu.Lock()
	if last, seen := a.digests[name]; seen && last == digest {
		a.mu.Unlock()
		return
	}
	a.digests[name] = digest
	generation := a.generations[name] + 1
	a.generations[name] = generation
	callback := a.callback
	a.mu.Unlock()

	klog.FromContext(ctx).V(logging.DEBUG).WithName("source.announcer").Info("announcing aspired versions",
		"servable", name, "versions", len(versions))

	a.exec.Schedule(func() {
		// The per-stream lock serializes deliveries; checking the generation
		// under it guarantees a superseded list can never land after the one
		// that replaced it.
		deliverMu := a.deliveryLock(name)
		deliverMu.Lock()
		defer deliverMu.Unlock()

		a.mu.Lock()
		superseded := a.generations[name] != generation
		a.mu.Unlock()
		if superseded {
			return
		}

		callback(name, versions)
	})
}

func (a *announcer) deliveryLock(name string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	deliverMu, ok := a.deliverMu[name]
	if !ok {
		deliverMu = &sync.Mutex{}
		a.deliverMu[name] = deliverMu
	}

	return deliverMu
}

// aspiredDigest produces a deterministic fingerprint of an aspired list.
// The caller is expected to pass versions in a stable order.
func aspiredDigest(name string, versions []AspiredVersion) uint64 {
	if len(versions) == 0 {
		versions = nil
	}

	payload := []interface{}{name, utils.SliceMap(versions, func(v AspiredVersion) []interface{} {
		return []interface{}{v.Version, v.Path}
	})}

	encMode, err := cbor.CanonicalEncOptions().EncMode() // deterministic
	if err != nil {
		klog.Background().Error(err, "failed to create CBOR encoder")
		return 0
	}

	b, err := encMode.Marshal(payload)
	if err != nil {
		klog.Background().Error(err, "failed to encode aspired versions for digest")
		return 0
	}

	sum := sha256.Sum256(b)
	return binary.BigEndian.Uint64(sum[24:])
}

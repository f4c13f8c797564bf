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

package source_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/source"
)

const registryPrefix = "servable:aspired:"

// newRegistrySource spins up a miniredis server and a source polling it.
func newRegistrySource(t *testing.T) (*miniredis.Miniredis, *source.RegistrySource) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	src, err := source.NewRegistrySource(&source.RegistryConfig{
		Address:      server.Addr(),
		KeyPrefix:    registryPrefix,
		PollInterval: pollInterval,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, src.Close())
	})

	return server, src
}

// startRegistrySource runs src.Start on a goroutine and checks its error on
// test cleanup.
func startRegistrySource(t *testing.T, src *source.RegistrySource) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
}

func TestRegistrySourceConnectFailure(t *testing.T) {
	_, err := source.NewRegistrySource(&source.RegistryConfig{Address: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to connect")
}

func TestRegistrySourceRequiresCallback(t *testing.T) {
	_, src := newRegistrySource(t)
	require.ErrorIs(t, src.Start(context.Background()), servable.ErrFailedPrecondition)
}

func TestRegistrySourceAnnouncesHashes(t *testing.T) {
	server, src := newRegistrySource(t)
	server.HSet(registryPrefix+"mnist", "7", "/models/mnist/7")

	rec := &recorder{}
	require.NoError(t, src.SetAspiredVersionsCallback(rec.callback))
	startRegistrySource(t, src)

	assert.Eventually(t, func() bool { return rec.count() > 0 }, waitFor, tick)

	calls := rec.snapshot()
	assert.Equal(t, recordedCall{
		name:     "mnist",
		versions: []source.AspiredVersion{{Version: 7, Path: "/models/mnist/7"}},
	}, calls[0])

	// registering another version re-announces the whole sorted list
	server.HSet(registryPrefix+"mnist", "8", "/models/mnist/8")

	assert.Eventually(t, func() bool {
		calls := rec.snapshot()
		last := calls[len(calls)-1]
		return len(last.versions) == 2
	}, waitFor, tick)

	calls = rec.snapshot()
	assert.Equal(t, []source.AspiredVersion{
		{Version: 7, Path: "/models/mnist/7"},
		{Version: 8, Path: "/models/mnist/8"},
	}, calls[len(calls)-1].versions)
}

func TestRegistrySourceSkipsMalformedVersionFields(t *testing.T) {
	server, src := newRegistrySource(t)
	server.HSet(registryPrefix+"mnist",
		"7", "/models/mnist/7",
		"latest", "/models/mnist/latest",
		"-3", "/models/mnist/-3")

	rec := &recorder{}
	require.NoError(t, src.SetAspiredVersionsCallback(rec.callback))
	startRegistrySource(t, src)

	assert.Eventually(t, func() bool { return rec.count() > 0 }, waitFor, tick)

	calls := rec.snapshot()
	assert.Equal(t, []source.AspiredVersion{{Version: 7, Path: "/models/mnist/7"}}, calls[0].versions)
}

func TestRegistrySourceDeregistration(t *testing.T) {
	server, src := newRegistrySource(t)
	server.HSet(registryPrefix+"mnist", "7", "/models/mnist/7")

	rec := &recorder{}
	require.NoError(t, src.SetAspiredVersionsCallback(rec.callback))
	startRegistrySource(t, src)

	assert.Eventually(t, func() bool { return rec.count() > 0 }, waitFor, tick)

	server.Del(registryPrefix + "mnist")

	assert.Eventually(t, func() bool {
		calls := rec.snapshot()
		return len(calls[len(calls)-1].versions) == 0
	}, waitFor, tick)

	// the empty list is announced once, not on every scan
	time.Sleep(10 * pollInterval)
	emptyAnnouncements := 0
	for _, call := range rec.snapshot() {
		if call.name == "mnist" && len(call.versions) == 0 {
			emptyAnnouncements++
		}
	}
	assert.Equal(t, 1, emptyAnnouncements)

	// re-registering revives the stream
	server.HSet(registryPrefix+"mnist", "9", "/models/mnist/9")

	assert.Eventually(t, func() bool {
		calls := rec.snapshot()
		last := calls[len(calls)-1]
		return len(last.versions) == 1 && last.versions[0].Version == 9
	}, waitFor, tick)
}

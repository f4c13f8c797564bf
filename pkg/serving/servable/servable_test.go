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

package servable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

func TestIDValidate(t *testing.T) {
	cases := []struct {
		name    string
		id      servable.ID
		wantErr bool
	}{
		{
			name: "valid id",
			id:   servable.ID{Name: "mnist", Version: 7},
		},
		{
			name: "version zero is valid",
			id:   servable.ID{Name: "mnist", Version: 0},
		},
		{
			name:    "empty name",
			id:      servable.ID{Version: 7},
			wantErr: true,
		},
		{
			name:    "negative version",
			id:      servable.ID{Name: "mnist", Version: -1},
			wantErr: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.id.Validate()
			if c.wantErr {
				require.ErrorIs(t, err, servable.ErrInvalidArgument)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIDOrdering(t *testing.T) {
	a := servable.ID{Name: "alpha", Version: 9}
	b := servable.ID{Name: "beta", Version: 1}

	assert.True(t, a.Less(b), "name orders before version")
	assert.True(t, servable.ID{Name: "alpha", Version: 1}.Less(a))
	assert.False(t, a.Less(a))
	assert.Equal(t, "alpha@9", a.String())
}

func TestParseManagerState(t *testing.T) {
	state, err := servable.ParseManagerState("available")
	require.NoError(t, err)
	assert.Equal(t, servable.Available, state)

	_, err = servable.ParseManagerState("resurrected")
	require.ErrorIs(t, err, servable.ErrInvalidArgument)
}

func TestStatus(t *testing.T) {
	ok := servable.StatusOK()
	assert.True(t, ok.OK())
	assert.Equal(t, "ok", ok.String())

	degraded := servable.NewStatus(servable.Internal, "weights checksum mismatch")
	assert.False(t, degraded.OK())
	assert.Equal(t, "internal: weights checksum mismatch", degraded.String())

	code, err := servable.ParseCode("failed_precondition")
	require.NoError(t, err)
	assert.Equal(t, servable.FailedPrecondition, code)

	_, err = servable.ParseCode("teapot")
	require.ErrorIs(t, err, servable.ErrInvalidArgument)
}

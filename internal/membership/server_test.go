// Copyright (c) 2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitaya-cluster/discovery/internal/membership"
)

func TestServer_MarshalUnmarshalJSON(t *testing.T) {
	expected := membership.Server{
		ID:       "A",
		Kind:     "room",
		Hostname: "room-a.internal",
		Frontend: true,
		Metadata: map[string]string{"zone": "us-east"},
	}

	data, err := expected.MarshalJSON()
	require.NoError(t, err)

	var actual membership.Server
	require.NoError(t, actual.UnmarshalJSON(data))

	assert.Equal(t, expected, actual)
}

func TestServer_UnmarshalJSON_MissingMetadata(t *testing.T) {
	data := []byte(`{"id":"A","kind":"room","hostname":"h","frontend":false}`)

	var actual membership.Server
	require.NoError(t, actual.UnmarshalJSON(data))

	assert.NotNil(t, actual.Metadata)
	assert.Empty(t, actual.Metadata)
}

func TestServer_MarshalJSON_NilMetadata(t *testing.T) {
	s := membership.Server{ID: "A", Kind: "room"}

	data, err := s.MarshalJSON()
	require.NoError(t, err)

	assert.Contains(t, string(data), `"metadata":{}`)
}

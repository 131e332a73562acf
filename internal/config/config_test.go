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

package config_test

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/pitaya-cluster/discovery/internal/config"
)

const validYAML = `
prefix: pitaya
endpoints: [http://etcd-0:2379, http://etcd-1:2379]
lease_ttl: 20s
tls:
  cert_file: /certs/client.crt
  key_file: /certs/client.key
  ca_file: /certs/ca.pem
observability:
  logging:
    level: info
  metrics:
    enabled: true
`

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "config.yaml", []byte(validYAML), 0o644))

	cfg, err := config.Load(fs, "config.yaml")
	require.NoError(t, err)

	require.Equal(t, "pitaya", cfg.Prefix)
	require.Equal(t, []string{"http://etcd-0:2379", "http://etcd-1:2379"}, cfg.Endpoints)
	require.Equal(t, 20*time.Second, cfg.LeaseTTL)
	require.Equal(t, "/certs/client.crt", cfg.TLS.CertFile)
	require.Equal(t, "info", cfg.Observability.Logging.Level)
	require.True(t, cfg.Observability.Metrics.Enabled)
}

func TestLoad_MissingPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "config.yaml", []byte(`
endpoints: [http://etcd-0:2379]
lease_ttl: 20s
`), 0o644))

	_, err := config.Load(fs, "config.yaml")
	require.Error(t, err)
}

func TestLoad_MissingEndpoints(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "config.yaml", []byte(`
prefix: pitaya
lease_ttl: 20s
`), 0o644))

	_, err := config.Load(fs, "config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidLeaseTTL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "config.yaml", []byte(`
prefix: pitaya
endpoints: [http://etcd-0:2379]
lease_ttl: not-a-duration
`), 0o644))

	_, err := config.Load(fs, "config.yaml")
	require.Error(t, err)
}

func TestLoad_ZeroLeaseTTL(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "config.yaml", []byte(`
prefix: pitaya
endpoints: [http://etcd-0:2379]
lease_ttl: 0s
`), 0o644))

	_, err := config.Load(fs, "config.yaml")
	require.Error(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := config.Load(fs, "missing.yaml")
	require.Error(t, err)
}

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

// Package tlsconfig builds a *tls.Config for the store's gRPC transport from
// cert/key/ca file paths, the same mTLS shape
// cmd/maas-agent/main.go's getClusterCert/setupHTTPClient build for the
// agent's HTTP and Temporal clients, generalized here from HTTP transport
// credentials to gRPC ones.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/spf13/afero"
)

// Config names the on-disk material for an optional mTLS client
// configuration. All three fields empty means TLS is disabled.
type Config struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Enabled reports whether any TLS material was configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Build loads the certificate, key, and CA bundle named in c from fs and
// returns a client *tls.Config. Returns nil, nil if c is not Enabled.
func Build(fs afero.Fs, c Config) (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}

	certPEM, err := afero.ReadFile(fs, c.CertFile)
	if err != nil {
		return nil, fmt.Errorf("reading cert file: %w", err)
	}

	keyPEM, err := afero.ReadFile(fs, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client cert/key: %w", err)
	}

	pool := x509.NewCertPool()

	caPEM, err := afero.ReadFile(fs, c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("cannot append certs to CA pool")
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

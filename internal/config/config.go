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

// Package config loads the discovery daemon's YAML configuration, following
// internal/daemon/config.go's rawConfig-then-parsed-Config pattern: plain
// strings on the wire, parsed types (time.Duration) on the public struct.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config is the discovery daemon's only recognized configuration, per §6:
// prefix, store endpoints, and lease TTL, plus the self-registration record,
// optional TLS material, and the ambient observability block every daemon
// in this style carries.
type Config struct {
	Prefix        string              `yaml:"-"`
	Endpoints     []string            `yaml:"-"`
	LeaseTTL      time.Duration       `yaml:"-"`
	Self          SelfConfig          `yaml:"self"`
	TLS           TLSConfig           `yaml:"tls"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SelfConfig describes the server record this process registers on Start.
// ID is optional: an empty value leaves identity generation to
// discovery.New's default (a random google/uuid), matching
// internal/daemon/identity.go's default-identity behaviour.
type SelfConfig struct {
	ID       string            `yaml:"id"`
	Kind     string            `yaml:"kind"`
	Hostname string            `yaml:"hostname"`
	Frontend bool              `yaml:"frontend"`
	Metadata map[string]string `yaml:"metadata"`
}

// TLSConfig names the optional client certificate material used to secure
// the connection to the coordination store.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// ObservabilityConfig holds the logging/metrics knobs shared by every
// daemon in this style.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zerolog global level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig enables or disables the /metrics HTTP surface.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// rawConfig is the wire shape: prefix/endpoints/lease_ttl as plain strings,
// matching internal/daemon/config.go's Controller-as-string field.
type rawConfig struct {
	Prefix        string              `yaml:"prefix"`
	Endpoints     []string            `yaml:"endpoints,flow"`
	LeaseTTL      string              `yaml:"lease_ttl"`
	Self          SelfConfig          `yaml:"self"`
	TLS           TLSConfig           `yaml:"tls"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// UnmarshalYAML implements yaml.Unmarshaler for Config, parsing lease_ttl
// into a time.Duration the way Config.UnmarshalYAML in
// internal/daemon/config.go parses its controller string into a *url.URL.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw rawConfig

	if err := value.Decode(&raw); err != nil {
		return err
	}

	ttl, err := time.ParseDuration(raw.LeaseTTL)
	if err != nil {
		return fmt.Errorf("invalid lease_ttl: %w", err)
	}

	if ttl <= 0 {
		return fmt.Errorf("invalid lease_ttl: must be positive, got %s", ttl)
	}

	c.Prefix = raw.Prefix
	c.Endpoints = raw.Endpoints
	c.LeaseTTL = ttl
	c.Self = raw.Self
	c.TLS = raw.TLS
	c.Observability = raw.Observability

	return nil
}

// Load reads and parses the YAML config file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Prefix == "" {
		return nil, fmt.Errorf("config: prefix is required")
	}

	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("config: at least one endpoint is required")
	}

	return cfg, nil
}

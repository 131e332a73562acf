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

// Package pathutil computes the on-disk locations discoveryd uses for its
// config file and its lease-id recovery cache, following the
// override-env-var-then-default shape of the teacher's pathutil package.
package pathutil

import (
	"os"
	"path/filepath"
)

const (
	defaultDataDir   = "/var/lib/discoveryd"
	defaultConfigDir = "/etc/discoveryd"
	defaultRunDir    = "/run/discoveryd"
)

// DataPath returns discoveryd's data path (where the lease-id recovery
// cache lives) with the given relative path appended. DISCOVERYD_DATA_DIR
// overrides the default root.
func DataPath(path string) string {
	base := defaultDataDir
	if dataDir := os.Getenv("DISCOVERYD_DATA_DIR"); dataDir != "" {
		base = dataDir
	}

	return filepath.Join(base, path)
}

// DataDir returns the root discoveryd data directory.
func DataDir() string {
	return DataPath("")
}

// ConfigPath returns discoveryd's config path with the given relative path
// appended. DISCOVERYD_CONFIG_DIR overrides the default root.
func ConfigPath(path string) string {
	path = filepath.Clean(path)

	base := defaultConfigDir
	if configDir := os.Getenv("DISCOVERYD_CONFIG_DIR"); configDir != "" {
		base = configDir
	}

	return filepath.Join(base, path)
}

// ConfigDir returns the root discoveryd config directory.
func ConfigDir() string {
	return ConfigPath("")
}

// RunDir returns discoveryd's runtime directory, where the metrics unix
// socket is created. DISCOVERYD_RUN_DIR overrides the default.
func RunDir() string {
	if runDir := os.Getenv("DISCOVERYD_RUN_DIR"); runDir != "" {
		return runDir
	}

	return defaultRunDir
}

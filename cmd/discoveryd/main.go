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

// Command discoveryd runs the lazy etcd-backed service-discovery engine as
// a standalone daemon: connect to the coordination store, register the
// local server under a lease, serve lookups from the membership cache, and
// keep it fresh off the watch stream until asked to stop.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/pitaya-cluster/discovery/internal/cli"
)

func main() {
	ctx := context.Background()

	if err := cli.RootCmd(ctx).Execute(); err != nil {
		log.Error().Err(err).Msg("discoveryd exited with an error")
		os.Exit(1)
	}
}

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

package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"

	"github.com/pitaya-cluster/discovery/internal/atomicfile"
	"github.com/pitaya-cluster/discovery/internal/store"
)

func persistLeaseID(fs afero.Fs, path string, id store.LeaseID) error {
	return atomicfile.WriteFileWithFs(fs, path, []byte(strconv.FormatInt(int64(id), 10)), 0o600)
}

func clearLeaseID(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// RecoverAndRevoke reads a lease id left on disk by WithStatePersistence from
// a process that crashed before it could clean up, and best-effort revokes
// it against s. Call this before the first Grant of a fresh process; it is
// a no-op if no state file is present. Errors are non-fatal: an unrevoked
// stale lease simply expires on its own ttl.
func RecoverAndRevoke(ctx context.Context, s store.Store, fs afero.Fs, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("reading persisted lease id: %w", err)
	}

	raw, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing persisted lease id: %w", err)
	}

	if err := s.LeaseRevoke(ctx, store.LeaseID(raw)); err != nil {
		return fmt.Errorf("revoking recovered lease: %w", err)
	}

	return clearLeaseID(fs, path)
}

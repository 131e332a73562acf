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

package lease_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitaya-cluster/discovery/internal/lease"
	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	nextLeaseID    store.LeaseID
	puts           []string
	revoked        []store.LeaseID
	keepAliveErr   error
	keepAliveResps chan *store.KeepAliveResponse
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextLeaseID:    1,
		keepAliveResps: make(chan *store.KeepAliveResponse, 16),
	}
}

func (s *fakeStore) Put(_ context.Context, key string, _ []byte, _ store.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts = append(s.puts, key)

	return nil
}

func (s *fakeStore) GetPrefix(context.Context, string) ([]store.KeyValue, error) { return nil, nil }

func (s *fakeStore) LeaseGrant(context.Context, time.Duration) (store.LeaseID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextLeaseID
	s.nextLeaseID++

	return id, nil
}

func (s *fakeStore) LeaseKeepAlive(context.Context, store.LeaseID) (*store.Keeper, error) {
	s.mu.Lock()
	err := s.keepAliveErr
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &store.Keeper{C: s.keepAliveResps}, nil
}

func (s *fakeStore) LeaseRevoke(_ context.Context, id store.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked = append(s.revoked, id)

	return nil
}

func (s *fakeStore) WatchPrefix(context.Context, string) (*store.Watcher, error) { return nil, nil }

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) setKeepAliveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keepAliveErr = err
}

func TestManager_GrantAndRegister(t *testing.T) {
	fs := newFakeStore()
	m := lease.NewManager(fs, "pitaya", time.Minute)

	require.NoError(t, m.Grant(context.Background()))
	assert.Equal(t, store.LeaseID(1), m.LeaseID())

	self := membership.Server{ID: "A", Kind: "room"}
	require.NoError(t, m.Register(context.Background(), self))

	require.Len(t, fs.puts, 1)
	assert.Equal(t, "pitaya/servers/room/A", fs.puts[0])
}

func TestManager_StopRevokesLease(t *testing.T) {
	fs := newFakeStore()
	m := lease.NewManager(fs, "pitaya", time.Minute)

	require.NoError(t, m.Grant(context.Background()))

	appDie := make(chan error, 1)
	m.Start(context.Background(), appDie)

	m.Stop(context.Background())

	assert.Equal(t, store.LeaseID(0), m.LeaseID())
	require.Len(t, fs.revoked, 1)
	assert.Equal(t, store.LeaseID(1), fs.revoked[0])

	select {
	case err := <-appDie:
		t.Fatalf("unexpected app-die signal on clean stop: %v", err)
	default:
	}
}

func TestManager_KeepAliveFailuresRaiseAppDie(t *testing.T) {
	fs := newFakeStore()
	fs.setKeepAliveErr(errors.New("connection reset"))

	m := lease.NewManager(fs, "pitaya", 30*time.Millisecond)
	require.NoError(t, m.Grant(context.Background()))

	appDie := make(chan error, 1)
	m.Start(context.Background(), appDie)

	select {
	case err := <-appDie:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for app-die signal")
	}
}

func TestManager_StatePersistenceWritesAndClearsLeaseID(t *testing.T) {
	fs := newFakeStore()
	afs := afero.NewMemMapFs()

	m := lease.NewManager(fs, "pitaya", time.Minute, lease.WithStatePersistence(afs, "/var/lib/discoveryd/lease.id"))
	require.NoError(t, m.Grant(context.Background()))

	data, err := afero.ReadFile(afs, "/var/lib/discoveryd/lease.id")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))

	m.Stop(context.Background())

	_, err = afs.Stat("/var/lib/discoveryd/lease.id")
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverAndRevoke_RevokesStaleLease(t *testing.T) {
	fs := newFakeStore()
	afs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(afs, "/var/lib/discoveryd/lease.id", []byte("7"), 0o600))

	require.NoError(t, lease.RecoverAndRevoke(context.Background(), fs, afs, "/var/lib/discoveryd/lease.id"))

	require.Len(t, fs.revoked, 1)
	assert.Equal(t, store.LeaseID(7), fs.revoked[0])

	_, err := afs.Stat("/var/lib/discoveryd/lease.id")
	assert.True(t, os.IsNotExist(err))
}

func TestRecoverAndRevoke_NoStateFileIsNoop(t *testing.T) {
	fs := newFakeStore()
	afs := afero.NewMemMapFs()

	require.NoError(t, lease.RecoverAndRevoke(context.Background(), fs, afs, "/var/lib/discoveryd/lease.id"))
	assert.Empty(t, fs.revoked)
}

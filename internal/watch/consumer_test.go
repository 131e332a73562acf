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

package watch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/store"
	"github.com/pitaya-cluster/discovery/internal/watch"
)

type fakeCache struct {
	mu       sync.Mutex
	inserted []membership.Server
	removed  []struct {
		kind membership.ServerKind
		id   membership.ServerId
	}
}

func (c *fakeCache) Insert(s membership.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inserted = append(c.inserted, s)
}

func (c *fakeCache) Remove(kind membership.ServerKind, id membership.ServerId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removed = append(c.removed, struct {
		kind membership.ServerKind
		id   membership.ServerId
	}{kind, id})

	return true
}

type fakeWatchStore struct {
	mu      sync.Mutex
	events  chan store.Event
	watches int
	fail    bool
}

func newFakeWatchStore() *fakeWatchStore {
	return &fakeWatchStore{events: make(chan store.Event, 16)}
}

func (s *fakeWatchStore) Put(context.Context, string, []byte, store.LeaseID) error { return nil }
func (s *fakeWatchStore) GetPrefix(context.Context, string) ([]store.KeyValue, error) {
	return nil, nil
}
func (s *fakeWatchStore) LeaseGrant(context.Context, time.Duration) (store.LeaseID, error) {
	return 0, nil
}
func (s *fakeWatchStore) LeaseKeepAlive(context.Context, store.LeaseID) (*store.Keeper, error) {
	return nil, nil
}
func (s *fakeWatchStore) LeaseRevoke(context.Context, store.LeaseID) error { return nil }
func (s *fakeWatchStore) Close() error                                    { return nil }

func (s *fakeWatchStore) WatchPrefix(context.Context, string) (*store.Watcher, error) {
	s.mu.Lock()
	s.watches++
	s.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() { close(s.events) })
	}

	return &store.Watcher{C: s.events, Cancel: cancel}, nil
}

func TestConsumer_AppliesPutAndDelete(t *testing.T) {
	fs := newFakeWatchStore()
	cache := &fakeCache{}
	consumer := watch.NewConsumer(fs, "pitaya", cache)

	appDie := make(chan error, 1)
	require.NoError(t, consumer.Start(context.Background(), appDie))

	fs.events <- store.Event{
		Type:  store.EventPut,
		Key:   "pitaya/servers/room/A",
		Value: []byte(`{"id":"A","kind":"room"}`),
	}

	fs.events <- store.Event{
		Type: store.EventDelete,
		Key:  "pitaya/servers/room/A",
	}

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()

		return len(cache.inserted) == 1 && len(cache.removed) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, membership.ServerId("A"), cache.inserted[0].ID)
	assert.Equal(t, membership.ServerKind("room"), cache.removed[0].kind)
	assert.Equal(t, membership.ServerId("A"), cache.removed[0].id)

	consumer.Stop()
}

func TestConsumer_DecodeErrorIsSkippedNotFatal(t *testing.T) {
	fs := newFakeWatchStore()
	cache := &fakeCache{}
	consumer := watch.NewConsumer(fs, "pitaya", cache)

	appDie := make(chan error, 1)
	require.NoError(t, consumer.Start(context.Background(), appDie))

	fs.events <- store.Event{Type: store.EventPut, Key: "pitaya/servers/room/A", Value: []byte("not json")}
	fs.events <- store.Event{Type: store.EventPut, Key: "pitaya/servers/room/B", Value: []byte(`{"id":"B"}`)}

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()

		return len(cache.inserted) == 1
	}, time.Second, 10*time.Millisecond)

	select {
	case err := <-appDie:
		t.Fatalf("decode error should not raise app-die: %v", err)
	default:
	}

	consumer.Stop()
}


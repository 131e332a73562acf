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

package membership

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// notifier is the subset of notify.Bus the cache needs. Defined here (rather
// than imported) to keep membership free of a dependency on notify; the
// concrete *notify.Bus satisfies it.
type notifier interface {
	Publish(Notification)
}

// Cache is the concurrent byId/byKind index described for the membership
// core. The zero value is not usable; construct with NewCache.
type Cache struct {
	mu     sync.RWMutex
	byId   map[ServerId]Server
	byKind map[ServerKind]map[ServerId]Server
	bus    notifier
	logger zerolog.Logger
}

// NewCache builds an empty Cache that publishes insert/remove notifications
// to bus.
func NewCache(bus notifier) *Cache {
	return &Cache{
		byId:   make(map[ServerId]Server),
		byKind: make(map[ServerKind]map[ServerId]Server),
		bus:    bus,
		logger: log.Logger.With().Str("component", "membership").Logger(),
	}
}

// Get returns the server registered under id, if any.
func (c *Cache) Get(id ServerId) (Server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.byId[id]

	return s, ok
}

// List returns a snapshot of every server registered under kind. Order is
// unspecified.
func (c *Cache) List(kind ServerKind) []Server {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byKind := c.byKind[kind]
	out := make([]Server, 0, len(byKind))

	for _, s := range byKind {
		out = append(out, s)
	}

	return out
}

// Insert upserts server across both indices. A previously-absent id emits
// Added; a previously-present id is treated as a stale overwrite and emits
// nothing (invariant 4/5 in the data model).
func (c *Cache) Insert(server Server) {
	c.mu.Lock()

	old, existed := c.byId[server.ID]
	c.byId[server.ID] = server

	kindIndex, ok := c.byKind[server.Kind]
	if !ok {
		kindIndex = make(map[ServerId]Server)
		c.byKind[server.Kind] = kindIndex
	}

	kindIndex[server.ID] = server

	// A registration can change kind between calls (rare, but the store
	// doesn't forbid it); drop the stale kind bucket entry so invariant 1
	// holds.
	if existed && old.Kind != server.Kind {
		if oldKindIndex, ok := c.byKind[old.Kind]; ok {
			delete(oldKindIndex, server.ID)

			if len(oldKindIndex) == 0 {
				delete(c.byKind, old.Kind)
			}
		}
	}

	c.mu.Unlock()

	if existed {
		c.logger.Warn().
			Str("id", string(server.ID)).
			Interface("old", old).
			Msg("stale server overwrite")

		return
	}

	c.bus.Publish(Notification{Kind: EventInsert, Server: server})
}

// Counts returns a snapshot of how many servers are registered under each
// kind, for the membership-count gauge internal/metrics reports.
func (c *Cache) Counts() map[ServerKind]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[ServerKind]int, len(c.byKind))

	for kind, byId := range c.byKind {
		out[kind] = len(byId)
	}

	return out
}

// Remove drops id from the cache. kind is the caller's best guess at the
// server's kind (e.g. parsed from a delete event's key); if the recovered
// record's actual kind differs, the bucket cleanup follows the recovered
// kind rather than the caller-supplied one, per §4.1's edge-case policy.
// Reports false if id was not present.
func (c *Cache) Remove(kind ServerKind, id ServerId) bool {
	c.mu.Lock()

	removed, existed := c.byId[id]
	if !existed {
		c.mu.Unlock()
		return false
	}

	delete(c.byId, id)

	actualKind := removed.Kind
	if actualKind == "" {
		actualKind = kind
	}

	if kindIndex, ok := c.byKind[actualKind]; ok {
		delete(kindIndex, id)

		if len(kindIndex) == 0 {
			delete(c.byKind, actualKind)
		}
	}

	c.mu.Unlock()

	c.logger.Debug().Str("id", string(id)).Msg("server removed")

	c.bus.Publish(Notification{Kind: EventRemove, Server: removed})

	return true
}

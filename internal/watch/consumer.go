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

// Package watch consumes the coordination store's prefix-watch stream over
// the peer-servers prefix and mutates the membership cache accordingly.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/store"
)

// errWatchTerminated is raised on app-die when the watch stream fails to
// recover after a single reconnect attempt.
var errWatchTerminated = errors.New("watch stream terminated and reconnect failed")

// cache is the subset of membership.Cache the consumer mutates.
type cache interface {
	Insert(membership.Server)
	Remove(membership.ServerKind, membership.ServerId) bool
}

// Consumer subscribes to a prefix watch and applies Put/Delete events to a
// membership cache.
type Consumer struct {
	store  store.Store
	prefix string
	cache  cache
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  func()
	doneCh  chan struct{}
	stopped bool
}

// NewConsumer builds a Consumer watching {prefix}/servers/ and applying
// events to c.
func NewConsumer(s store.Store, prefix string, c cache) *Consumer {
	return &Consumer{
		store:  s,
		prefix: prefix,
		cache:  c,
		logger: log.Logger.With().Str("component", "watch").Str("task", "watch").Logger(),
	}
}

func (wc *Consumer) watchPrefix() string {
	return wc.prefix + "/servers/"
}

// Start begins consuming the watch stream in the background. appDie
// receives the terminal error if the stream cannot be kept alive after one
// reconnect attempt.
func (wc *Consumer) Start(ctx context.Context, appDie chan<- error) error {
	watcher, err := wc.store.WatchPrefix(ctx, wc.watchPrefix())
	if err != nil {
		return err
	}

	wc.mu.Lock()
	wc.cancel = watcher.Cancel
	wc.doneCh = make(chan struct{})
	doneCh := wc.doneCh
	wc.mu.Unlock()

	go wc.run(ctx, watcher, appDie, doneCh, false)

	return nil
}

func (wc *Consumer) run(ctx context.Context, watcher *store.Watcher, appDie chan<- error,
	doneCh chan struct{}, isReconnect bool) {
	defer close(doneCh)

	for ev := range watcher.C {
		wc.apply(ev)
	}

	// The channel closed: either Stop requested it, or the stream
	// terminated on its own (store closed the watch or connection lost).
	// Only the latter earns a reconnect attempt.
	wc.mu.Lock()
	stopped := wc.stopped
	wc.mu.Unlock()

	if stopped {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	if isReconnect {
		wc.logger.Error().Msg("watch stream terminated after reconnect, giving up")
		appDie <- errWatchTerminated

		return
	}

	wc.logger.Warn().Msg("watch stream terminated, attempting single reconnect")

	newWatcher, err := wc.store.WatchPrefix(ctx, wc.watchPrefix())
	if err != nil {
		wc.logger.Error().Err(err).Msg("watch reconnect failed")
		appDie <- err

		return
	}

	wc.mu.Lock()
	wc.cancel = newWatcher.Cancel
	newDone := make(chan struct{})
	wc.doneCh = newDone
	wc.mu.Unlock()

	wc.run(ctx, newWatcher, appDie, newDone, true)
}

func (wc *Consumer) apply(ev store.Event) {
	switch ev.Type {
	case store.EventPut:
		var server membership.Server

		if err := json.Unmarshal(ev.Value, &server); err != nil {
			wc.logger.Warn().Err(err).Str("key", ev.Key).Msg("failed to decode server value")
			return
		}

		wc.cache.Insert(server)
	case store.EventDelete:
		kind, id, ok := parseServerKey(ev.Key)
		if !ok {
			wc.logger.Warn().Str("key", ev.Key).Msg("failed to parse server key")
			return
		}

		if ev.HasPrev {
			var prev membership.Server
			if err := json.Unmarshal(ev.PrevValue, &prev); err == nil && prev.Kind != "" {
				kind = prev.Kind
			}
		}

		wc.cache.Remove(kind, id)
	}
}

// parseServerKey extracts kind and id from a key of the form
// {prefix}/servers/{kind}/{id}.
func parseServerKey(key string) (membership.ServerKind, membership.ServerId, bool) {
	idx := strings.Index(key, "/servers/")
	if idx < 0 {
		return "", "", false
	}

	rest := key[idx+len("/servers/"):]

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	return membership.ServerKind(parts[0]), membership.ServerId(parts[1]), true
}

// Stop cancels the watch and waits for the background task to exit.
func (wc *Consumer) Stop() {
	wc.mu.Lock()
	wc.stopped = true
	cancel := wc.cancel
	doneCh := wc.doneCh
	wc.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if doneCh != nil {
		<-doneCh
	}
}

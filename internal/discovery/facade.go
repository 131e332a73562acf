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

// Package discovery wires the membership cache, notification bus, lease
// manager, and watch consumer together behind a small public surface: look
// up servers by id or kind, subscribe to changes, and start/stop the whole
// engine.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/pitaya-cluster/discovery/internal/lease"
	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/notify"
	"github.com/pitaya-cluster/discovery/internal/store"
	"github.com/pitaya-cluster/discovery/internal/watch"
)

// Facade is the public surface of the discovery engine: serverById,
// serversByKind, subscribe, start, stop, per spec §4.5/§6.
type Facade struct {
	store    store.Store
	prefix   string
	leaseTtl time.Duration
	self     membership.Server

	cache   *membership.Cache
	bus     *notify.Bus
	leases  *lease.Manager
	watcher *watch.Consumer
	logger  zerolog.Logger

	dialBackoff    backoff.BackOff
	busCapacity    int
	metrics        engineMetrics
	leaseFs        afero.Fs
	leaseStatePath string

	mu      sync.Mutex
	started bool
}

// engineMetrics is the subset of internal/metrics.Recorder the engine's
// background tasks report to. Optional: a nil value disables reporting.
type engineMetrics interface {
	IncLeaseFailure()
	IncNotifyDrop()
}

// Option configures a Facade at construction time.
type Option func(*Facade)

// WithSelf sets the local server record to register on Start. If unset, or
// if its ID is empty, a random id is generated with google/uuid, the same
// default-identity pattern the teacher uses for agent enrollment.
func WithSelf(self membership.Server) Option {
	return func(f *Facade) {
		f.self = self
	}
}

// WithBusCapacity overrides the notification bus's per-subscriber buffer
// size (default notify.DefaultCapacity).
func WithBusCapacity(capacity int) Option {
	return func(f *Facade) {
		f.busCapacity = capacity
	}
}

// WithDialBackoff overrides the backoff policy Start uses to retry the
// initial lease grant, the engine's first call to the store.
func WithDialBackoff(b backoff.BackOff) Option {
	return func(f *Facade) {
		f.dialBackoff = b
	}
}

// WithMetrics reports lease-renewal failures and notification-bus drops to
// r. Pair with (*metrics.Recorder).ObserveMembership(meter, facade.Counts)
// to also report the live membership-count gauge.
func WithMetrics(r engineMetrics) Option {
	return func(f *Facade) {
		f.metrics = r
	}
}

// WithLeaseStatePersistence persists the held lease id to path on fs so a
// crash-restarted process can recover and revoke it; see
// lease.RecoverAndRevoke.
func WithLeaseStatePersistence(fs afero.Fs, path string) Option {
	return func(f *Facade) {
		f.leaseFs = fs
		f.leaseStatePath = path
	}
}

// New builds a Facade talking to s under the given key-space prefix, with
// self-registration leases of leaseTtl.
func New(s store.Store, prefix string, leaseTtl time.Duration, opts ...Option) *Facade {
	f := &Facade{
		store:       s,
		prefix:      prefix,
		leaseTtl:    leaseTtl,
		busCapacity: notify.DefaultCapacity,
		logger:      log.Logger.With().Str("component", "discovery").Logger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.self.ID == "" {
		f.self.ID = membership.ServerId(uuid.NewString())
	}

	if f.dialBackoff == nil {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 60 * time.Second
		f.dialBackoff = b
	}

	var busOpts []notify.Option
	if f.metrics != nil {
		busOpts = append(busOpts, notify.WithMetrics(f.metrics))
	}

	f.bus = notify.NewBus(f.busCapacity, busOpts...)
	f.cache = membership.NewCache(f.bus)

	var leaseOpts []lease.Option
	if f.metrics != nil {
		leaseOpts = append(leaseOpts, lease.WithMetrics(f.metrics))
	}

	if f.leaseFs != nil {
		leaseOpts = append(leaseOpts, lease.WithStatePersistence(f.leaseFs, f.leaseStatePath))
	}

	f.leases = lease.NewManager(s, prefix, leaseTtl, leaseOpts...)
	f.watcher = watch.NewConsumer(s, prefix, f.cache)

	return f
}

// Counts returns a snapshot of live servers known per kind, for wiring the
// members gauge via (*metrics.Recorder).ObserveMembership.
func (f *Facade) Counts() map[membership.ServerKind]int {
	return f.cache.Counts()
}

// Start obtains a lease, registers the local server under it, and begins
// consuming the peer-servers watch stream. appDie receives the terminal
// error from either background task if the engine can no longer uphold its
// invariants.
func (f *Facade) Start(ctx context.Context, appDie chan<- error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return fmt.Errorf("discovery: already started")
	}

	if err := backoff.Retry(func() error {
		return f.leases.Grant(ctx)
	}, f.dialBackoff); err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	if err := f.leases.Register(ctx, f.self); err != nil {
		f.leases.Stop(ctx)
		return fmt.Errorf("registering self: %w", err)
	}

	f.leases.Start(ctx, appDie)

	if err := f.watcher.Start(ctx, appDie); err != nil {
		f.leases.Stop(ctx)
		return fmt.Errorf("starting watch: %w", err)
	}

	f.started = true

	f.logger.Info().Str("id", string(f.self.ID)).Str("kind", string(f.self.Kind)).Msg("discovery engine started")

	return nil
}

// Stop tears down the keep-alive task, best-effort revoking the lease, and
// only then stops the watch consumer — so that if the store's watch stream
// still has the resulting delete queued, it is applied to the cache before
// the consumer is torn down.
func (f *Facade) Stop(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return
	}

	f.leases.Stop(ctx)
	f.watcher.Stop()

	f.started = false

	f.logger.Info().Msg("discovery engine stopped")
}

// ServerById returns the server registered under id if it's already known,
// or absent if there genuinely is none. kind scopes the lazy-fill prefix
// read performed on a cache miss.
func (f *Facade) ServerById(ctx context.Context, id membership.ServerId, kind membership.ServerKind) (membership.Server, bool, error) {
	if s, ok := f.cache.Get(id); ok {
		return s, true, nil
	}

	if err := f.fill(ctx, kind); err != nil {
		return membership.Server{}, false, err
	}

	s, ok := f.cache.Get(id)

	return s, ok, nil
}

// ServersByKind returns every cached server of kind, performing a lazy fill
// first if the cache has nothing for it yet.
func (f *Facade) ServersByKind(ctx context.Context, kind membership.ServerKind) ([]membership.Server, error) {
	if list := f.cache.List(kind); len(list) > 0 {
		return list, nil
	}

	if err := f.fill(ctx, kind); err != nil {
		return nil, err
	}

	return f.cache.List(kind), nil
}

// Subscribe returns a handle receiving every Notification published after
// this call returns. Per §4.5's ordering note, a caller that needs a
// consistent initial snapshot should Subscribe before calling
// ServersByKind.
func (f *Facade) Subscribe() *notify.Subscription {
	return f.bus.Subscribe()
}

// fill performs the one-shot lazy-fill prefix read over
// {prefix}/servers/{kind}/ and inserts every decoded result into the
// cache. A single logical read: callers must not issue a second range read
// for the same miss (see spec §9's note on the source's duplicated read).
// A decode failure aborts the fill and surfaces to the caller, per §7:
// unlike the watch consumer, a lazy fill is a query operation and must
// report DecodeError rather than skip the offending entry.
func (f *Facade) fill(ctx context.Context, kind membership.ServerKind) error {
	prefix := fmt.Sprintf("%s/servers/%s/", f.prefix, kind)

	kvs, err := f.store.GetPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("lazy fill %q: %w", prefix, err)
	}

	for _, kv := range kvs {
		var s membership.Server

		if err := s.UnmarshalJSON(kv.Value); err != nil {
			return fmt.Errorf("decoding server at %q: %w", kv.Key, err)
		}

		f.cache.Insert(s)
	}

	return nil
}

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

// Package lease implements the leased-liveness half of the discovery
// engine: granting a lease, registering the local server under it, and
// keeping it alive until told to stop.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/store"
)

// maxConsecutiveFailures is the number of missed refresh ticks that cause
// the keep-alive task to give up and raise app-die.
const maxConsecutiveFailures = 3

// Manager grants a lease, registers the local server under it, and keeps
// it alive with a background task until Stop is called.
type Manager struct {
	store     store.Store
	prefix    string
	ttl       time.Duration
	logger    zerolog.Logger
	metrics   metricsRecorder
	statePath string
	stateFs   afero.Fs

	mu      sync.Mutex
	leaseID store.LeaseID
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// metricsRecorder is the subset of internal/metrics.Recorder the keep-alive
// task reports to. Optional: a nil metrics field disables reporting, the
// same pattern internal/discovery's Facade uses for its optional metrics.
type metricsRecorder interface {
	IncLeaseFailure()
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMetrics reports keep-alive failures to r.
func WithMetrics(r metricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithStatePersistence persists the held lease id to path on fs after every
// successful Grant, and clears it on a clean Stop, so a crash-restarted
// process can still attempt revocation of a lease it can no longer refresh.
// See RecoverAndRevoke.
func WithStatePersistence(fs afero.Fs, path string) Option {
	return func(m *Manager) {
		m.stateFs = fs
		m.statePath = path
	}
}

// NewManager builds a Manager writing self-registration keys under prefix
// and requesting ttl-second leases from s.
func NewManager(s store.Store, prefix string, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		prefix: prefix,
		ttl:    ttl,
		logger: log.Logger.With().Str("component", "lease").Logger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// serverKey builds the self-registration key for server, per §6's key
// layout: {prefix}/servers/{kind}/{id}.
func (m *Manager) serverKey(kind membership.ServerKind, id membership.ServerId) string {
	return fmt.Sprintf("%s/servers/%s/%s", m.prefix, kind, id)
}

// Grant obtains a lease with the manager's configured ttl. Must be called
// at most once before Register/Start.
func (m *Manager) Grant(ctx context.Context) error {
	id, err := m.store.LeaseGrant(ctx, m.ttl)
	if err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	m.mu.Lock()
	m.leaseID = id
	m.mu.Unlock()

	if m.stateFs != nil {
		if err := persistLeaseID(m.stateFs, m.statePath, id); err != nil {
			m.logger.Warn().Err(err).Msg("failed to persist lease id")
		}
	}

	return nil
}

// Register writes self's record bound to the held lease.
func (m *Manager) Register(ctx context.Context, self membership.Server) error {
	value, err := json.Marshal(&self)
	if err != nil {
		return fmt.Errorf("encoding self record: %w", err)
	}

	m.mu.Lock()
	leaseID := m.leaseID
	m.mu.Unlock()

	key := m.serverKey(self.Kind, self.ID)

	if err := m.store.Put(ctx, key, value, leaseID); err != nil {
		return fmt.Errorf("registering self: %w", err)
	}

	return nil
}

// keepAliveState models the state machine described for the keep-alive
// task: Idle -> Refreshing -> Idle ... -> Stopping(clean|failed).
type keepAliveState int

const (
	stateIdle keepAliveState = iota
	stateRefreshing
	stateStoppingClean
	stateStoppingFailed
)

// Start launches the background keep-alive task. appDie receives the
// terminal error if the lease cannot be kept alive; it is never written to
// on a clean Stop.
func (m *Manager) Start(ctx context.Context, appDie chan<- error) {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh := m.stopCh
	doneCh := m.doneCh
	leaseID := m.leaseID
	m.mu.Unlock()

	logger := m.logger.With().Str("task", "keep_alive").Logger()

	go m.runKeepAlive(ctx, leaseID, stopCh, doneCh, appDie, logger)
}

// runKeepAlive opens a single long-lived keep-alive stream for leaseID and
// consumes it for the task's lifetime, per §6's leaseKeepAlive(leaseId) ->
// (keeper, responseStream) contract: one stream, read continuously, not one
// call per tick. A watchdog timer armed for ttl/3 counts a failure whenever
// it fires before the next response arrives; the stream closing outright is
// treated as immediate termination.
func (m *Manager) runKeepAlive(ctx context.Context, leaseID store.LeaseID,
	stopCh, doneCh chan struct{}, appDie chan<- error, logger zerolog.Logger) {
	defer close(doneCh)

	keeper, err := m.store.LeaseKeepAlive(ctx, leaseID)
	if err != nil {
		if m.metrics != nil {
			m.metrics.IncLeaseFailure()
		}

		logger.Error().Err(err).Msg("failed to open lease keep-alive stream")
		appDie <- fmt.Errorf("opening lease keep-alive stream: %w", err)

		return
	}

	state := stateIdle
	failures := 0

	timer := time.NewTimer(m.ttl / 3)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			state = stateStoppingClean
			logger.Debug().Msg("keep-alive stopped")

			return
		case <-ctx.Done():
			state = stateStoppingClean
			return
		case <-timer.C:
			state = stateRefreshing
			failures++

			if m.metrics != nil {
				m.metrics.IncLeaseFailure()
			}

			logger.Warn().Int("failures", failures).Msg("lease refresh timed out")

			if failures >= maxConsecutiveFailures {
				state = stateStoppingFailed
				appDie <- fmt.Errorf("lease keep-alive timed out after %d attempts", failures)

				return
			}

			timer.Reset(m.ttl / 3)
		case resp, ok := <-keeper.C:
			if !ok || resp == nil {
				state = stateStoppingFailed

				if m.metrics != nil {
					m.metrics.IncLeaseFailure()
				}

				logger.Warn().Msg("lease keep-alive stream terminated")
				appDie <- errors.New("lease keep-alive stream terminated")

				return
			}

			failures = 0
			state = stateIdle

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			timer.Reset(m.ttl / 3)

			logger.Debug().Int("state", int(state)).Msg("lease refreshed")
		}
	}
}

// Stop signals the keep-alive task to exit cleanly and waits for it to
// finish, then best-effort revokes the lease. Revocation errors are logged
// but never returned.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	leaseID := m.leaseID
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	if doneCh != nil {
		<-doneCh
	}

	if leaseID == 0 {
		return
	}

	if err := m.store.LeaseRevoke(ctx, leaseID); err != nil {
		m.logger.Warn().Err(err).Msg("lease revoke failed")
	}

	if m.stateFs != nil {
		if err := clearLeaseID(m.stateFs, m.statePath); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear persisted lease id")
		}
	}

	m.mu.Lock()
	m.leaseID = 0
	m.mu.Unlock()
}

// LeaseID returns the currently-held lease id, or zero if none is held.
func (m *Manager) LeaseID() store.LeaseID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.leaseID
}

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

// Package metrics wires the discovery engine's OpenTelemetry instruments:
// a live membership-count gauge and counters for lease-renewal failures and
// notification-bus drops, following internal/cluster/service.go's
// WithMetricMeter Int64ObservableGauge shape.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pitaya-cluster/discovery/internal/membership"
)

// Recorder wraps the engine's OpenTelemetry instruments. The zero value is
// not usable; construct with NewRecorder.
type Recorder struct {
	leaseFailures metric.Int64Counter
	notifyDrops   metric.Int64Counter
}

// NewRecorder builds the counters against meter. Call ObserveMembership once
// the engine's cache is available to register the members gauge.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	leaseFailures, err := meter.Int64Counter("lease_renewal_failures",
		metric.WithDescription("Count of failed lease keep-alive refresh attempts"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, fmt.Errorf("creating lease_renewal_failures counter: %w", err)
	}

	notifyDrops, err := meter.Int64Counter("notification_bus_drops",
		metric.WithDescription("Count of notifications dropped for a lagging subscriber"),
		metric.WithUnit("{drop}"))
	if err != nil {
		return nil, fmt.Errorf("creating notification_bus_drops counter: %w", err)
	}

	return &Recorder{leaseFailures: leaseFailures, notifyDrops: notifyDrops}, nil
}

// IncLeaseFailure reports one failed lease keep-alive refresh attempt.
// Satisfies internal/lease's metricsRecorder interface.
func (r *Recorder) IncLeaseFailure() {
	r.leaseFailures.Add(context.Background(), 1)
}

// IncNotifyDrop reports one dropped notification envelope. Satisfies
// internal/notify's metricsRecorder interface.
func (r *Recorder) IncNotifyDrop() {
	r.notifyDrops.Add(context.Background(), 1)
}

// ObserveMembership registers an Int64ObservableGauge named "members" that
// reports snapshot()'s per-kind counts on every collection, the same
// member-count-as-gauge shape internal/cluster/service.go's WithMetricMeter
// uses, scoped to kind instead of cluster member name.
func (r *Recorder) ObserveMembership(meter metric.Meter, snapshot func() map[membership.ServerKind]int) error {
	gauge, err := meter.Int64ObservableGauge("members",
		metric.WithDescription("Live membership count per kind"),
		metric.WithUnit("{server}"))
	if err != nil {
		return fmt.Errorf("creating members gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for kind, count := range snapshot() {
			o.ObserveInt64(gauge, int64(count), metric.WithAttributes(
				attribute.String("kind", string(kind)),
			))
		}

		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("registering members gauge callback: %w", err)
	}

	return nil
}

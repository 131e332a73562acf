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

package metrics_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/metrics"
)

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}

	return metricdata.Metrics{}, false
}

func TestRecorder_CountersIncrement(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	rec, err := metrics.NewRecorder(meter)
	require.NoError(t, err)

	rec.IncLeaseFailure()
	rec.IncLeaseFailure()
	rec.IncNotifyDrop()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	failures, ok := findMetric(rm, "lease_renewal_failures")
	require.True(t, ok)
	sum := failures.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	drops, ok := findMetric(rm, "notification_bus_drops")
	require.True(t, ok)
	dropSum := drops.Data.(metricdata.Sum[int64])
	require.Len(t, dropSum.DataPoints, 1)
	assert.Equal(t, int64(1), dropSum.DataPoints[0].Value)
}

func TestRecorder_ObserveMembershipReportsSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	rec, err := metrics.NewRecorder(meter)
	require.NoError(t, err)

	require.NoError(t, rec.ObserveMembership(meter, func() map[membership.ServerKind]int {
		return map[membership.ServerKind]int{"room": 3, "connector": 1}
	}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	members, ok := findMetric(rm, "members")
	require.True(t, ok)
	gauge := members.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 2)
}

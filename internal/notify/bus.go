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

// Package notify implements a bounded multi-subscriber broadcast of
// membership.Notification values. The standard library has no broadcast
// channel, so this builds one from a per-subscriber buffered channel plus a
// drop-oldest policy on a full buffer, the shape used across the corpus's
// buffered-channel fan-out code (internal/connpool's channel pool, the
// dhcp lease heap's notification naming).
package notify

import (
	"sync"

	"github.com/pitaya-cluster/discovery/internal/membership"
)

// DefaultCapacity is the per-subscriber buffer size, matching the
// reference implementation's max_chan_size.
const DefaultCapacity = 80

// Envelope wraps a Notification with a lag flag: true if one or more
// earlier notifications were dropped for this subscriber before this one
// was delivered.
type Envelope struct {
	Notification membership.Notification
	Lagged       bool
}

type subscriber struct {
	ch     chan Envelope
	mu     sync.Mutex
	lagged bool
}

// Bus is a bounded multi-subscriber fan-out of membership notifications.
// The zero value is not usable; construct with NewBus.
type Bus struct {
	capacity int
	metrics  metricsRecorder

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// metricsRecorder is the subset of internal/metrics.Recorder the bus
// reports dropped envelopes to. Optional: a nil metrics field disables
// reporting.
type metricsRecorder interface {
	IncNotifyDrop()
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithMetrics reports a drop-oldest event on every subscriber to r.
func WithMetrics(r metricsRecorder) Option {
	return func(b *Bus) {
		b.metrics = r
	}
}

// NewBus builds a Bus whose subscribers buffer up to capacity pending
// notifications before the oldest is dropped.
func NewBus(capacity int, opts ...Option) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	b := &Bus{
		capacity: capacity,
		subs:     make(map[*subscriber]struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscription is a handle returned by Subscribe. Receive from C; call
// Unsubscribe when done to stop receiving and free the slot.
type Subscription struct {
	C    <-chan Envelope
	bus  *Bus
	sub  *subscriber
	once sync.Once
}

// Unsubscribe removes the subscription from the bus. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.sub)
		s.bus.mu.Unlock()
	})
}

// Subscribe returns a new Subscription that receives every Notification
// published after this call returns.
func (b *Bus) Subscribe() *Subscription {
	sub := &subscriber{ch: make(chan Envelope, b.capacity)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{C: sub.ch, bus: b, sub: sub}
}

// Publish fans n out to every current subscriber. It never blocks: a
// subscriber whose buffer is full has its oldest pending envelope dropped
// and the envelope it receives next is flagged lagged. Publish with zero
// subscribers is a silent no-op.
func (b *Bus) Publish(n membership.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.mu.Lock()
		envelope := Envelope{Notification: n, Lagged: sub.lagged}
		sub.lagged = false

		select {
		case sub.ch <- envelope:
		default:
			// Buffer full: drop the oldest queued envelope to make room.
			select {
			case <-sub.ch:
				if b.metrics != nil {
					b.metrics.IncNotifyDrop()
				}
			default:
			}

			// Re-queue what is left behind the new envelope, flagging the
			// new head so the subscriber's next receive reports the drop.
			// Only Publish sends on sub.ch and b.mu is held, so the
			// re-queue always fits in the freed buffer.
			pending := []Envelope{}
			for drained := false; !drained; {
				select {
				case e := <-sub.ch:
					pending = append(pending, e)
				default:
					drained = true
				}
			}

			pending = append(pending, envelope)
			pending[0].Lagged = true

			for _, e := range pending {
				sub.ch <- e
			}
		}
		sub.mu.Unlock()
	}
}

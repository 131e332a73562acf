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

package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOption configures an etcd-backed Store.
type EtcdOption func(*etcdStore)

// WithTLS enables TLS on the underlying gRPC connection.
func WithTLS(cfg *tls.Config) EtcdOption {
	return func(s *etcdStore) {
		s.tlsConfig = cfg
	}
}

// WithDialTimeout overrides the default dial timeout used while connecting
// to the cluster.
func WithDialTimeout(d time.Duration) EtcdOption {
	return func(s *etcdStore) {
		s.dialTimeout = d
	}
}

type etcdStore struct {
	endpoints   []string
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	client      *clientv3.Client
}

const defaultDialTimeout = 5 * time.Second

// NewEtcdStore dials endpoints and returns a Store backed by etcd's v3 API.
// Dialing is retried by the caller (see internal/cli's runStart and its use
// of cenkalti/backoff); this constructor fails fast on a single attempt.
func NewEtcdStore(endpoints []string, opts ...EtcdOption) (Store, error) {
	s := &etcdStore{
		endpoints:   endpoints,
		dialTimeout: defaultDialTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   s.endpoints,
		DialTimeout: s.dialTimeout,
		TLS:         s.tlsConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing store: %w", err)
	}

	s.client = client

	return s, nil
}

func (s *etcdStore) Put(ctx context.Context, key string, value []byte, leaseID LeaseID) error {
	opts := []clientv3.OpOption{}
	if leaseID != 0 {
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(leaseID)))
	}

	_, err := s.client.Put(ctx, key, string(value), opts...)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	return nil
}

func (s *etcdStore) GetPrefix(ctx context.Context, prefix string) ([]KeyValue, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get prefix %q: %w", prefix, err)
	}

	out := make([]KeyValue, 0, len(resp.Kvs))

	for _, kv := range resp.Kvs {
		out = append(out, KeyValue{Key: string(kv.Key), Value: kv.Value})
	}

	return out, nil
}

func (s *etcdStore) LeaseGrant(ctx context.Context, ttl time.Duration) (LeaseID, error) {
	resp, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("lease grant: %w", err)
	}

	return LeaseID(resp.ID), nil
}

func (s *etcdStore) LeaseKeepAlive(ctx context.Context, id LeaseID) (*Keeper, error) {
	respChan, err := s.client.KeepAlive(ctx, clientv3.LeaseID(id))
	if err != nil {
		return nil, fmt.Errorf("lease keep-alive: %w", err)
	}

	out := make(chan *KeepAliveResponse)

	go func() {
		defer close(out)

		for resp := range respChan {
			if resp == nil {
				continue
			}

			out <- &KeepAliveResponse{ID: LeaseID(resp.ID), TTL: resp.TTL}
		}
	}()

	return &Keeper{C: out}, nil
}

func (s *etcdStore) LeaseRevoke(ctx context.Context, id LeaseID) error {
	_, err := s.client.Revoke(ctx, clientv3.LeaseID(id))
	if err != nil {
		return fmt.Errorf("lease revoke: %w", err)
	}

	return nil
}

func (s *etcdStore) WatchPrefix(ctx context.Context, prefix string) (*Watcher, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watchChan := s.client.Watch(watchCtx, prefix, clientv3.WithPrefix())

	out := make(chan Event)

	go func() {
		defer close(out)

		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				return
			}

			for _, ev := range resp.Events {
				out <- toEvent(ev)
			}
		}
	}()

	return &Watcher{C: out, Cancel: cancel}, nil
}

func toEvent(ev *clientv3.Event) Event {
	if ev.Type == clientv3.EventTypeDelete {
		e := Event{Type: EventDelete, Key: string(ev.Kv.Key)}

		if ev.PrevKv != nil {
			e.PrevValue = ev.PrevKv.Value
			e.HasPrev = true
		}

		return e
	}

	return Event{Type: EventPut, Key: string(ev.Kv.Key), Value: ev.Kv.Value}
}

func (s *etcdStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("closing store client: %w", err)
	}

	return nil
}

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

// Package membership holds the types describing a cluster member and the
// in-memory cache that indexes them by id and by kind.
package membership

import "encoding/json"

// ServerKind identifies the role a server plays in the cluster (e.g. "room",
// "connector", "metagame"). It is opaque to this package; Pitaya-style
// frontends use it to pick a server to route to.
type ServerKind string

// ServerId uniquely identifies a server within a kind-independent namespace.
type ServerId string

// Server is a single registered cluster member.
type Server struct {
	ID       ServerId
	Kind     ServerKind
	Hostname string
	Frontend bool
	Metadata map[string]string
}

// jsonServer mirrors Server's wire shape. Metadata always decodes to an
// empty, non-nil map when the field is absent so callers never have to
// nil-check it.
type jsonServer struct {
	ID       ServerId          `json:"id"`
	Kind     ServerKind        `json:"kind"`
	Hostname string            `json:"hostname"`
	Frontend bool              `json:"frontend"`
	Metadata map[string]string `json:"metadata"`
}

// MarshalJSON implements json.Marshaler for Server.
func (s *Server) MarshalJSON() ([]byte, error) {
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	return json.Marshal(jsonServer{
		ID:       s.ID,
		Kind:     s.Kind,
		Hostname: s.Hostname,
		Frontend: s.Frontend,
		Metadata: metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Server.
func (s *Server) UnmarshalJSON(data []byte) error {
	var t jsonServer

	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}

	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}

	s.ID = t.ID
	s.Kind = t.Kind
	s.Hostname = t.Hostname
	s.Frontend = t.Frontend
	s.Metadata = t.Metadata

	return nil
}

// EventKind distinguishes the two notification shapes a MembershipCache can
// emit.
type EventKind int

const (
	// EventInsert fires when a server id is newly added to the cache. An
	// insert that overwrites an entry with the same id emits nothing.
	EventInsert EventKind = iota
	// EventRemove fires when a server is dropped from the cache.
	EventRemove
)

// Notification is what MembershipCache publishes to its NotificationBus when
// a server id is added to or removed from the cache.
type Notification struct {
	Kind   EventKind
	Server Server
}

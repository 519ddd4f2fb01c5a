/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package neighbor holds the ordered endpoint-to-peer mapping every
// node maintains for its directly connected overlay neighbors.
package neighbor

import (
	"net"
	"sync"

	"github.com/open-overlay/p2pkv/wire"
)

// Peer is a directly connected neighbor: its advertised listen
// endpoint paired with the live socket reaching it. Conn is expected to
// serialize its own concurrent writes (see overlay's connection
// wrapper) since a flooding forward and a confirmation reply can land
// on the same connection from different goroutines.
type Peer struct {
	Endpoint wire.Endpoint
	Conn     net.Conn
}

// Send writes a single record to the peer's connection.
func (p *Peer) Send(record string) error {
	return wire.WriteRecord(p.Conn, record)
}

// Table is the node's sole owner of neighbor sockets. It preserves
// insertion order so the console can offer a stable numeric index, and
// guards all mutation with a single mutex, matching the mutex-per-
// struct idiom used across this codebase for small pieces of shared
// state.
type Table struct {
	mu    sync.Mutex
	order []wire.Endpoint
	peers map[wire.Endpoint]*Peer
}

// New returns an empty neighbor table.
func New() *Table {
	return &Table{peers: make(map[wire.Endpoint]*Peer)}
}

// Insert adds ep with an already-established connection. If ep is
// already present, the call is a no-op and reports false so the caller
// can decide whether to close the redundant connection.
func (t *Table) Insert(ep wire.Endpoint, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[ep]; ok {
		return false
	}
	t.peers[ep] = &Peer{Endpoint: ep, Conn: conn}
	t.order = append(t.order, ep)
	return true
}

// Remove erases ep's peer, if present, and returns its connection so
// the caller can close it. Idempotent: removing an absent endpoint
// returns (nil, false).
func (t *Table) Remove(ep wire.Endpoint) (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[ep]
	if !ok {
		return nil, false
	}
	delete(t.peers, ep)
	for i, e := range t.order {
		if e == ep {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return p.Conn, true
}

// Get returns the peer for ep, if present.
func (t *Table) Get(ep wire.Endpoint) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[ep]
	return p, ok
}

// Find returns the peer whose remote IP and advertised listen port
// match, used to identify the edge a message arrived on from its
// sender IP and LAST_HOP_PORT field.
func (t *Table) Find(senderIP string, lastHopPort int) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	want := wire.Endpoint{IP: senderIP, Port: lastHopPort}
	p, ok := t.peers[want]
	return p, ok
}

// List returns the endpoints in insertion order, giving a stable index
// for console selection.
func (t *Table) List() []wire.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Endpoint, len(t.order))
	copy(out, t.order)
	return out
}

// Pick returns the peer at the given console index, or false if out of range.
func (t *Table) Pick(index int) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.order) {
		return nil, false
	}
	return t.peers[t.order[index]], true
}

// Snapshot returns every current peer, taken under the table's lock
// and safe to range over after the lock is released -- the caller must
// not block on a peer send while holding any table lock.
func (t *Table) Snapshot() []*Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Peer, 0, len(t.order))
	for _, ep := range t.order {
		out = append(out, t.peers[ep])
	}
	return out
}

// Len returns the number of neighbors currently held.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

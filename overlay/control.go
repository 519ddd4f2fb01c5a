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

package overlay

import (
	"fmt"

	"github.com/open-overlay/p2pkv/wire"
)

// dispatch routes a decoded message to Control Operations or the
// Search Engine.
func (n *Node) dispatch(msg wire.Message, senderIP string) {
	switch m := msg.(type) {
	case wire.Hello:
		n.handleHello(m)
	case wire.Bye:
		n.handleBye(m)
	case wire.Search:
		if err := n.engine.HandleSearch(m, senderIP); err != nil {
			n.log.Warnf("handling SEARCH from %s failed: %v", senderIP, err)
		}
	case wire.Value:
		n.engine.HandleValue(m)
	default:
		n.log.Warnf("dispatch: unhandled message type %T", msg)
	}
}

// handleHello registers the sender as a neighbor by dialing it back on
// its own advertised endpoint, matching add_neighbor's "always open a
// fresh outbound socket" contract (spec.md §4.2) -- the connection the
// HELLO arrived on is never reused as the Peer's socket. Idempotent: a
// HELLO from an already-known endpoint changes nothing and no second
// connection is opened.
func (n *Node) handleHello(m wire.Hello) {
	if _, ok := n.neighbors.Get(m.From); ok {
		n.log.Debugf("HELLO from already-known neighbor %s", m.From)
		return
	}
	n.log.Infof("dialing back %s after HELLO", m.From)
	go n.dialBack(m.From)
}

// handleBye removes the sender from the neighbor table and its
// Seen-Filter entry.
func (n *Node) handleBye(m wire.Bye) {
	conn, ok := n.neighbors.Remove(m.From)
	if !ok {
		n.log.Debugf("BYE from unknown neighbor %s", m.From)
		return
	}
	n.seenFilter.Forget(m.From.String())
	conn.Close()
}

// sendHello crafts and sends a HELLO to ep over its existing
// connection. The sequence number is drawn before the send, so the
// counter advances even when the send fails.
func (n *Node) sendHello(ep wire.Endpoint) error {
	p, ok := n.neighbors.Get(ep)
	if !ok {
		return fmt.Errorf("overlay: %s is not a neighbor", ep)
	}
	record, err := wire.Encode(wire.Hello{From: n.self, Seq: n.seq.Next()})
	if err != nil {
		return err
	}
	return p.Send(record)
}

// sendBye crafts and sends a BYE to ep over its existing connection.
func (n *Node) sendBye(ep wire.Endpoint) error {
	p, ok := n.neighbors.Get(ep)
	if !ok {
		return fmt.Errorf("overlay: %s is not a neighbor", ep)
	}
	record, err := wire.Encode(wire.Bye{From: n.self, Seq: n.seq.Next()})
	if err != nil {
		return err
	}
	return p.Send(record)
}

// SendHello sends a HELLO to the neighbor at the given console index.
func (n *Node) SendHello(index int) error {
	p, ok := n.neighbors.Pick(index)
	if !ok {
		return fmt.Errorf("overlay: no neighbor at index %d", index)
	}
	return n.sendHello(p.Endpoint)
}

// SendBye sends a BYE to the neighbor at the given console index.
func (n *Node) SendBye(index int) error {
	p, ok := n.neighbors.Pick(index)
	if !ok {
		return fmt.Errorf("overlay: no neighbor at index %d", index)
	}
	return n.sendBye(p.Endpoint)
}

// QuitAll sends a BYE to every current neighbor, for the console's
// quit (menu option 9) action.
func (n *Node) QuitAll() {
	for _, p := range n.neighbors.Snapshot() {
		if err := n.sendBye(p.Endpoint); err != nil {
			n.log.Warnf("sending BYE to %s failed: %v", p.Endpoint, err)
		}
	}
}

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

package search

import (
	"fmt"
	"math/rand"

	"github.com/open-overlay/p2pkv/neighbor"
	"github.com/open-overlay/p2pkv/wire"
)

// StartDepthFirst resets the depth-first scratch state and sends the
// first probe to a uniformly-chosen neighbor. The scratch state is a
// singleton per node, shared by every in-transit depth-first search,
// matching the reference implementation's single reused dictionary --
// only one depth-first probe is assumed to transit a node at a time.
func (e *Engine) StartDepthFirst(key string) error {
	if v, ok := e.local[key]; ok {
		e.emit(Result{Kind: ResultValueFound, Mode: wire.ModeDepthFirst, Key: key, Value: v, HopCount: 0})
		return nil
	}
	peers := e.neighbors.Snapshot()
	if len(peers) == 0 {
		return fmt.Errorf("search: no neighbors to start depth-first search")
	}

	e.mu.Lock()
	idx := rand.Intn(len(peers))
	active := peers[idx]
	candidates := removeAt(peers, idx)
	e.dfsParent = e.self.String()
	e.dfsActive = active
	e.dfsCandidates = candidates
	e.mu.Unlock()

	msg := wire.Search{
		From:        e.self,
		Seq:         e.nextSeq(),
		TTL:         e.ttl(),
		Mode:        wire.ModeDepthFirst,
		LastHopPort: e.self.Port,
		Key:         key,
		HopCount:    1,
	}
	record, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := active.Send(record); err != nil {
		e.log.Warnf("depth-first initial probe to %s failed: %v", active.Endpoint, err)
	}
	return nil
}

func removeAt(peers []*neighbor.Peer, idx int) []*neighbor.Peer {
	out := make([]*neighbor.Peer, 0, len(peers)-1)
	for i, p := range peers {
		if i != idx {
			out = append(out, p)
		}
	}
	return out
}

func removePeer(peers []*neighbor.Peer, target *neighbor.Peer) []*neighbor.Peer {
	out := peers[:0:0]
	for _, p := range peers {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) forwardDepthFirst(s wire.Search, senderIP string, ttl, hopCount int) error {
	previousPeer, ok := e.neighbors.Find(senderIP, s.LastHopPort)
	if !ok {
		return fmt.Errorf("search: BP probe from non-neighbor %s:%d, discarding", senderIP, s.LastHopPort)
	}
	originStr := s.From.String()

	e.mu.Lock()
	if !e.seenFilter.AlreadySeen(originStr, s.Seq) {
		e.dfsParent = (wire.Endpoint{IP: senderIP, Port: s.LastHopPort}).String()
		e.dfsCandidates = e.neighbors.Snapshot()
	}
	e.dfsCandidates = removePeer(e.dfsCandidates, previousPeer)

	// Termination: exhausted our own search back at the root.
	if e.dfsParent == e.self.String() && e.dfsActive == previousPeer && len(e.dfsCandidates) == 0 {
		e.mu.Unlock()
		e.emit(Result{Kind: ResultKeyNotFound, Mode: wire.ModeDepthFirst, Key: s.Key})
		return nil
	}

	var nextPeer *neighbor.Peer
	switch {
	case e.dfsActive != nil && e.dfsActive != previousPeer:
		// Cycle detected: bounce back without changing active_child.
		nextPeer = previousPeer
	case len(e.dfsCandidates) == 0:
		// Exhausted: back-track to parent.
		parentEP, err := wire.ParseEndpoint(e.dfsParent)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("search: invalid parent endpoint %q: %w", e.dfsParent, err)
		}
		p, ok := e.neighbors.Get(parentEP)
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("search: parent %s no longer a neighbor", parentEP)
		}
		nextPeer = p
	default:
		// Advance to a fresh candidate.
		idx := rand.Intn(len(e.dfsCandidates))
		nextPeer = e.dfsCandidates[idx]
		e.dfsActive = nextPeer
		e.dfsCandidates = removeAt(e.dfsCandidates, idx)
	}
	e.mu.Unlock()

	out := wire.Search{
		From:        s.From,
		Seq:         s.Seq,
		TTL:         ttl,
		Mode:        wire.ModeDepthFirst,
		LastHopPort: e.self.Port,
		Key:         s.Key,
		HopCount:    hopCount,
	}
	record, err := wire.Encode(out)
	if err != nil {
		return err
	}
	if err := nextPeer.Send(record); err != nil {
		e.log.Warnf("depth-first forward to %s failed: %v", nextPeer.Endpoint, err)
	}
	return nil
}

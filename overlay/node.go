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

// Package overlay wires the Wire Codec, Neighbor Table, Seen-Message
// Filter, Search Engine and Statistics together into the node-global
// orchestrator, and runs the Connection Manager's accept/dial/reader
// activities and Control Operations handlers.
package overlay

import (
	"context"
	"fmt"
	"net"

	"github.com/open-overlay/p2pkv/neighbor"
	"github.com/open-overlay/p2pkv/search"
	"github.com/open-overlay/p2pkv/seen"
	"github.com/open-overlay/p2pkv/stats"
	"github.com/open-overlay/p2pkv/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config is the validated, boundary-adapter-supplied configuration a
// Node is built from.
type Config struct {
	Listen     wire.Endpoint
	DefaultTTL int
	Local      map[string]string
	Neighbors  []wire.Endpoint
}

// Node encapsulates all node-global mutable state and exposes the
// external API the console and bootstrap adapters consume:
// SendHello, SendBye, StartSearch, SetDefaultTTL, ListNeighbors and
// StatisticsSnapshot.
type Node struct {
	self       wire.Endpoint
	local      map[string]string
	neighbors  *neighbor.Table
	seenFilter *seen.Filter
	statsAcc   *stats.Accumulator
	seq        *sequenceCounter
	ttl        *ttlSetting
	engine     *search.Engine
	listener   net.Listener
	log        *log.Entry
}

// New constructs a Node bound to cfg.Listen. The listener is opened
// immediately so that startup failures surface before Start is called.
func New(cfg Config) (*Node, error) {
	listener, err := net.Listen("tcp", cfg.Listen.String())
	if err != nil {
		return nil, fmt.Errorf("overlay: listening on %s: %w", cfg.Listen, err)
	}

	self := cfg.Listen
	if self.Port == 0 {
		// port 0 asks the OS for an ephemeral port, used by tests; resolve
		// the endpoint peers must actually dial back.
		self.Port = listener.Addr().(*net.TCPAddr).Port
	}

	local := cfg.Local
	if local == nil {
		local = map[string]string{}
	}

	n := &Node{
		self:       self,
		local:      local,
		neighbors:  neighbor.New(),
		seenFilter: seen.New(),
		statsAcc:   stats.New(),
		seq:        newSequenceCounter(),
		ttl:        newTTLSetting(cfg.DefaultTTL),
		listener:   listener,
		log:        log.WithField("node", self.String()),
	}
	n.engine = search.New(n.self, n.local, n.neighbors, n.seenFilter, n.statsAcc, n.seq.Next, n.ttl.Get)

	for _, ep := range cfg.Neighbors {
		n.dialNeighbor(ep)
	}

	return n, nil
}

// Start runs the accept loop until ctx is canceled or the listener is
// closed, using an errgroup to propagate the first failure the same
// way the teacher's daemon composes its background loops.
func (n *Node) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.acceptLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return n.listener.Close()
	})
	return g.Wait()
}

// Stop closes the listen socket, unblocking acceptLoop.
func (n *Node) Stop() error {
	return n.listener.Close()
}

// Self returns the node's own listen endpoint.
func (n *Node) Self() wire.Endpoint {
	return n.self
}

// ListNeighbors returns the neighbor endpoints in stable console order.
func (n *Node) ListNeighbors() []wire.Endpoint {
	return n.neighbors.List()
}

// LocalData returns the node's local key-value table. Read-only after
// construction, so no copy is needed.
func (n *Node) LocalData() map[string]string {
	return n.local
}

// StatisticsSnapshot returns the current per-mode counters and hop-count
// mean/stddev.
func (n *Node) StatisticsSnapshot() map[wire.Mode]stats.Snapshot {
	return n.statsAcc.Snapshot()
}

// SetDefaultTTL changes the TTL applied to future locally-initiated
// searches. Must be a positive integer.
func (n *Node) SetDefaultTTL(v int) error {
	return n.ttl.Set(v)
}

// DefaultTTL returns the current default TTL.
func (n *Node) DefaultTTL() int {
	return n.ttl.Get()
}

// StartSearch initiates a search for key using the given mode.
func (n *Node) StartSearch(mode wire.Mode, key string) error {
	switch mode {
	case wire.ModeFlooding:
		return n.engine.StartFlooding(key)
	case wire.ModeRandomWalk:
		return n.engine.StartRandomWalk(key)
	case wire.ModeDepthFirst:
		return n.engine.StartDepthFirst(key)
	default:
		return fmt.Errorf("overlay: unknown search mode %v", mode)
	}
}

// Results returns the channel of asynchronous search outcomes (VAL
// arrivals, depth-first termination) for the console to print live.
func (n *Node) Results() <-chan search.Result {
	return n.engine.Results()
}

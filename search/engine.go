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

// Package search implements the three key-lookup forwarding
// strategies (flooding, random walk, depth-first) and the VAL return
// path, plus the statistics observation that rides along with them.
package search

import (
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/open-overlay/p2pkv/neighbor"
	"github.com/open-overlay/p2pkv/seen"
	"github.com/open-overlay/p2pkv/stats"
	"github.com/open-overlay/p2pkv/wire"
	log "github.com/sirupsen/logrus"
)

// ResultKind distinguishes the three asynchronous local outcomes a
// search can produce.
type ResultKind int

const (
	// ResultValueFound reports a VAL delivered to this node's origin
	// (including the instant local-data hit on initiation).
	ResultValueFound ResultKind = iota
	// ResultKeyNotFound reports depth-first exhaustion back at the root.
	ResultKeyNotFound
	// ResultDuplicateValue reports a VAL for a key this node already
	// holds locally -- should not happen, indicates a race or duplicate.
	ResultDuplicateValue
)

// Result is pushed to the engine's Results channel for every
// asynchronous outcome the console should report to the user.
type Result struct {
	Kind     ResultKind
	Mode     wire.Mode
	Key      string
	Value    string
	HopCount int
}

// Engine runs the forwarding algorithms and owns the depth-first
// scratch state. It never logs directly to stdout; all user-facing
// reporting flows through Results.
type Engine struct {
	self       wire.Endpoint
	local      map[string]string
	neighbors  *neighbor.Table
	seenFilter *seen.Filter
	statsAcc   *stats.Accumulator
	log        *log.Entry
	nextSeq    func() uint64
	ttl        func() int
	dial       func(network, address string) (net.Conn, error)

	results chan Result

	mu            sync.Mutex
	dfsParent     string
	dfsActive     *neighbor.Peer
	dfsCandidates []*neighbor.Peer
}

// New builds an Engine. nextSeq must return the node's next local
// sequence number (and advance the counter); ttl must return the
// node's current default TTL.
func New(self wire.Endpoint, local map[string]string, neighbors *neighbor.Table, seenFilter *seen.Filter, statsAcc *stats.Accumulator, nextSeq func() uint64, ttl func() int) *Engine {
	return &Engine{
		self:       self,
		local:      local,
		neighbors:  neighbors,
		seenFilter: seenFilter,
		statsAcc:   statsAcc,
		log:        log.WithField("component", "search"),
		nextSeq:    nextSeq,
		ttl:        ttl,
		dial:       net.Dial,
		results:    make(chan Result, 32),
	}
}

// Results returns the channel asynchronous search outcomes are
// published to. The console driver is the intended (sole) consumer.
func (e *Engine) Results() <-chan Result {
	return e.results
}

func (e *Engine) emit(r Result) {
	select {
	case e.results <- r:
	default:
		e.log.Warnf("results channel full, dropping %v result for key %q", r.Kind, r.Key)
	}
}

// StartFlooding initiates a flooding search for key, or reports an
// instant local hit without emitting any wire traffic.
func (e *Engine) StartFlooding(key string) error {
	if v, ok := e.local[key]; ok {
		e.emit(Result{Kind: ResultValueFound, Mode: wire.ModeFlooding, Key: key, Value: v, HopCount: 0})
		return nil
	}
	msg := wire.Search{
		From:        e.self,
		Seq:         e.nextSeq(),
		TTL:         e.ttl(),
		Mode:        wire.ModeFlooding,
		LastHopPort: e.self.Port,
		Key:         key,
		HopCount:    1,
	}
	record, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	for _, p := range e.neighbors.Snapshot() {
		if err := p.Send(record); err != nil {
			e.log.Warnf("flooding send to %s failed: %v", p.Endpoint, err)
		}
	}
	return nil
}

// StartRandomWalk initiates a random-walk search for key, sending to
// exactly one uniformly-chosen neighbor.
func (e *Engine) StartRandomWalk(key string) error {
	if v, ok := e.local[key]; ok {
		e.emit(Result{Kind: ResultValueFound, Mode: wire.ModeRandomWalk, Key: key, Value: v, HopCount: 0})
		return nil
	}
	peers := e.neighbors.Snapshot()
	if len(peers) == 0 {
		return fmt.Errorf("search: no neighbors to start random walk")
	}
	msg := wire.Search{
		From:        e.self,
		Seq:         e.nextSeq(),
		TTL:         e.ttl(),
		Mode:        wire.ModeRandomWalk,
		LastHopPort: e.self.Port,
		Key:         key,
		HopCount:    1,
	}
	record, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	target := peers[rand.Intn(len(peers))]
	if err := target.Send(record); err != nil {
		e.log.Warnf("random walk send to %s failed: %v", target.Endpoint, err)
	}
	return nil
}

// HandleSearch dispatches a decoded SEARCH record by its mode,
// observing it in Statistics regardless of disposition.
func (e *Engine) HandleSearch(s wire.Search, senderIP string) error {
	e.statsAcc.ObserveSearch(s.Mode)

	if v, ok := e.local[s.Key]; ok {
		return e.replyValue(s, v)
	}

	ttl := s.TTL - 1
	if ttl <= 0 {
		e.log.Debugf("search: ttl exhausted for key %q from %s, discarding", s.Key, s.From)
		return nil
	}
	hopCount := s.HopCount + 1

	switch s.Mode {
	case wire.ModeFlooding:
		return e.forwardFlooding(s, senderIP, ttl, hopCount)
	case wire.ModeRandomWalk:
		return e.forwardRandomWalk(s, senderIP, ttl, hopCount)
	case wire.ModeDepthFirst:
		return e.forwardDepthFirst(s, senderIP, ttl, hopCount)
	default:
		return fmt.Errorf("search: unknown mode %v", s.Mode)
	}
}

// replyValue emits a VAL addressed at the SEARCH's ORIGIN, using the
// existing peer connection if one exists or a one-shot dial otherwise.
func (e *Engine) replyValue(s wire.Search, value string) error {
	val := wire.Value{
		From:     e.self,
		Seq:      e.nextSeq(),
		TTL:      e.ttl(),
		Mode:     s.Mode,
		Key:      s.Key,
		Value:    value,
		HopCount: s.HopCount,
	}
	record, err := wire.Encode(val)
	if err != nil {
		return err
	}
	if p, ok := e.neighbors.Get(s.From); ok {
		return p.Send(record)
	}
	conn, err := e.dial("tcp", s.From.String())
	if err != nil {
		return fmt.Errorf("search: one-shot dial to %s failed: %w", s.From, err)
	}
	defer conn.Close()
	return wire.WriteRecord(conn, record)
}

func (e *Engine) forwardFlooding(s wire.Search, senderIP string, ttl, hopCount int) error {
	originStr := s.From.String()
	if e.seenFilter.AlreadySeen(originStr, s.Seq) || s.From == e.self {
		e.log.Debugf("flooding: dropping duplicate/own search from %s seq %d", s.From, s.Seq)
		return nil
	}
	out := wire.Search{
		From:        s.From,
		Seq:         s.Seq,
		TTL:         ttl,
		Mode:        wire.ModeFlooding,
		LastHopPort: e.self.Port,
		Key:         s.Key,
		HopCount:    hopCount,
	}
	record, err := wire.Encode(out)
	if err != nil {
		return err
	}
	for _, p := range e.neighbors.Snapshot() {
		if p.Endpoint.IP == senderIP && p.Endpoint.Port == s.LastHopPort {
			continue
		}
		if err := p.Send(record); err != nil {
			e.log.Warnf("flooding forward to %s failed: %v", p.Endpoint, err)
		}
	}
	return nil
}

func (e *Engine) forwardRandomWalk(s wire.Search, senderIP string, ttl, hopCount int) error {
	peers := e.neighbors.Snapshot()
	if len(peers) == 0 {
		return nil
	}
	if len(peers) > 1 {
		filtered := peers[:0:0]
		for _, p := range peers {
			if p.Endpoint.IP == senderIP && p.Endpoint.Port == s.LastHopPort {
				continue
			}
			filtered = append(filtered, p)
		}
		peers = filtered
	}
	out := wire.Search{
		From:        s.From,
		Seq:         s.Seq,
		TTL:         ttl,
		Mode:        wire.ModeRandomWalk,
		LastHopPort: e.self.Port,
		Key:         s.Key,
		HopCount:    hopCount,
	}
	record, err := wire.Encode(out)
	if err != nil {
		return err
	}
	target := peers[rand.Intn(len(peers))]
	if err := target.Send(record); err != nil {
		e.log.Warnf("random walk forward to %s failed: %v", target.Endpoint, err)
	}
	return nil
}

// HandleValue processes a VAL addressed at this node.
func (e *Engine) HandleValue(v wire.Value) {
	if _, ok := e.local[v.Key]; ok {
		e.emit(Result{Kind: ResultDuplicateValue, Mode: v.Mode, Key: v.Key, Value: v.Value, HopCount: v.HopCount})
		return
	}
	e.statsAcc.ObserveValue(v.Mode, v.HopCount)
	e.emit(Result{Kind: ResultValueFound, Mode: v.Mode, Key: v.Key, Value: v.Value, HopCount: v.HopCount})
}

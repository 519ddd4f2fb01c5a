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
	"testing"
	"time"

	"github.com/open-overlay/p2pkv/neighbor"
	"github.com/open-overlay/p2pkv/seen"
	"github.com/open-overlay/p2pkv/stats"
	"github.com/open-overlay/p2pkv/wire"
	"github.com/stretchr/testify/require"
)

// TestStartDepthFirstSendsToOneCandidate verifies the initial probe
// goes to exactly one of the two neighbors, with the other left as a
// backtrack candidate.
func TestStartDepthFirstSendsToOneCandidate(t *testing.T) {
	tbl := neighbor.New()
	epB := wire.Endpoint{IP: "127.0.0.1", Port: 5001}
	epC := wire.Endpoint{IP: "127.0.0.1", Port: 5002}
	remoteB, rB := pairedPeer(t, tbl, epB)
	remoteC, rC := pairedPeer(t, tbl, epC)
	defer remoteB.Close()
	defer remoteC.Close()

	e := New(wire.Endpoint{IP: "127.0.0.1", Port: 5000}, map[string]string{}, tbl, seen.New(), stats.New(), newCounter(1), fixedTTL(5))
	require.NoError(t, e.StartDepthFirst("foo"))

	probed := 0
	type result struct {
		line string
		err  error
	}
	readOne := func(rd interface{ ReadString(byte) (string, error) }) <-chan result {
		out := make(chan result, 1)
		go func() {
			line, err := rd.ReadString('\n')
			out <- result{line, err}
		}()
		return out
	}

	rBch := readOne(rB)
	rCch := readOne(rC)

	select {
	case r := <-rBch:
		require.NoError(t, r.err)
		require.Contains(t, r.line, "SEARCH BP 5000 foo 1")
		probed++
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case r := <-rCch:
		require.NoError(t, r.err)
		require.Contains(t, r.line, "SEARCH BP 5000 foo 1")
		probed++
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, 1, probed, "exactly one neighbor should receive the initial BP probe")

	e.mu.Lock()
	require.Equal(t, e.self.String(), e.dfsParent)
	require.Len(t, e.dfsCandidates, 1)
	e.mu.Unlock()
}

// TestForwardDepthFirstBacktracksWhenExhausted: a non-root relay with a
// single neighbor (the previous hop) has no candidates left after
// removing it, and backtracks the probe straight back.
func TestForwardDepthFirstBacktracksWhenExhausted(t *testing.T) {
	tbl := neighbor.New()
	epA := wire.Endpoint{IP: "127.0.0.1", Port: 5000}
	remoteA, rA := pairedPeer(t, tbl, epA)
	defer remoteA.Close()

	e := New(wire.Endpoint{IP: "127.0.0.1", Port: 5001}, map[string]string{}, tbl, seen.New(), stats.New(), newCounter(1), fixedTTL(5))

	s := wire.Search{From: epA, Seq: 1, TTL: 5, Mode: wire.ModeDepthFirst, LastHopPort: epA.Port, Key: "missing", HopCount: 1}
	require.NoError(t, e.HandleSearch(s, epA.IP))

	line, err := rA.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "SEARCH BP 5001 missing 2")
}

// TestForwardDepthFirstCycleBounce: a relay whose active_child differs
// from the arriving previous_peer bounces the probe straight back
// without consuming a fresh candidate.
func TestForwardDepthFirstCycleBounce(t *testing.T) {
	tbl := neighbor.New()
	epA := wire.Endpoint{IP: "127.0.0.1", Port: 5000}
	epD := wire.Endpoint{IP: "127.0.0.1", Port: 5003}
	remoteA, rA := pairedPeer(t, tbl, epA)
	remoteD, _ := pairedPeer(t, tbl, epD)
	defer remoteA.Close()
	defer remoteD.Close()

	e := New(wire.Endpoint{IP: "127.0.0.1", Port: 5001}, map[string]string{}, tbl, seen.New(), stats.New(), newCounter(1), fixedTTL(5))

	// Seed this node's scratch state as if it already has an active
	// probe out to D, arrived here via A.
	peerD, ok := tbl.Get(epD)
	require.True(t, ok)
	e.mu.Lock()
	e.dfsParent = epA.String()
	e.dfsActive = peerD
	e.dfsCandidates = nil
	e.mu.Unlock()

	s := wire.Search{From: epA, Seq: 1, TTL: 5, Mode: wire.ModeDepthFirst, LastHopPort: epA.Port, Key: "missing", HopCount: 3}
	require.NoError(t, e.HandleSearch(s, epA.IP))

	line, err := rA.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "SEARCH BP 5001 missing 4")

	e.mu.Lock()
	require.Equal(t, peerD, e.dfsActive, "cycle-bounce must not change active_child")
	e.mu.Unlock()
}

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
	"context"
	"testing"
	"time"

	"github.com/open-overlay/p2pkv/search"
	"github.com/open-overlay/p2pkv/wire"
	"github.com/stretchr/testify/require"
)

func startTestNode(t *testing.T, local map[string]string, ttl int) *Node {
	t.Helper()
	n, err := New(Config{Listen: wire.Endpoint{IP: "127.0.0.1", Port: 0}, DefaultTTL: ttl, Local: local})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return n
}

func hasNeighbor(n *Node, ep wire.Endpoint) bool {
	for _, e := range n.ListNeighbors() {
		if e == ep {
			return true
		}
	}
	return false
}

func waitForResult(t *testing.T, n *Node) search.Result {
	t.Helper()
	select {
	case r := <-n.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a search result")
		return search.Result{}
	}
}

// E1: A dials B, sends HELLO; both tables end up containing the other.
func TestE1Hello(t *testing.T) {
	b := startTestNode(t, nil, 3)
	a := startTestNode(t, nil, 3)
	a.dialNeighbor(b.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(a, b.Self()) && hasNeighbor(b, a.Self())
	}, 2*time.Second, 10*time.Millisecond)
}

// E2: line A-B-C, C holds {foo: bar}, A floods for "foo" with TTL=3.
// B forwards to C (not back to A); C replies VAL with HOP_COUNT=2.
func TestE2FloodingHit(t *testing.T) {
	a := startTestNode(t, nil, 3)
	c := startTestNode(t, map[string]string{"foo": "bar"}, 3)
	b := startTestNode(t, nil, 3)
	b.dialNeighbor(a.Self())
	b.dialNeighbor(c.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(a, b.Self()) && hasNeighbor(c, b.Self()) && b.ListNeighbors() != nil && len(b.ListNeighbors()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.StartSearch(wire.ModeFlooding, "foo"))

	r := waitForResult(t, a)
	require.Equal(t, search.ResultValueFound, r.Kind)
	require.Equal(t, "bar", r.Value)
	require.Equal(t, 2, r.HopCount)
}

// E4: A issues flooding with TTL=1; neighbors forward with decremented
// TTL=0 and discard, so no VAL returns even if the key exists two hops away.
func TestE4TTLCutoff(t *testing.T) {
	a := startTestNode(t, nil, 1)
	c := startTestNode(t, map[string]string{"foo": "bar"}, 3)
	b := startTestNode(t, nil, 3)
	b.dialNeighbor(a.Self())
	b.dialNeighbor(c.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(a, b.Self()) && hasNeighbor(c, b.Self())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.StartSearch(wire.ModeFlooding, "foo"))

	select {
	case r := <-a.Results():
		t.Fatalf("expected no VAL to return, got %+v", r)
	case <-time.After(300 * time.Millisecond):
	}
}

// E5: line A-B-C, key at C, A issues RW with TTL=5: exactly one VAL
// arrives at A with HOP_COUNT=2.
func TestE5RandomWalkSinglePath(t *testing.T) {
	a := startTestNode(t, nil, 5)
	c := startTestNode(t, map[string]string{"foo": "bar"}, 5)
	b := startTestNode(t, nil, 5)
	b.dialNeighbor(a.Self())
	b.dialNeighbor(c.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(a, b.Self()) && hasNeighbor(c, b.Self())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.StartSearch(wire.ModeRandomWalk, "foo"))

	r := waitForResult(t, a)
	require.Equal(t, search.ResultValueFound, r.Kind)
	require.Equal(t, 2, r.HopCount)
}

// E6: tree root A with children B (leaf) and C (leaf, holds the key).
// A starts BP; whichever branch is probed first either finds the key
// directly (one hop, if A picks C first) or backtracks off the
// key-less B branch and advances to C (more hops).
func TestE6DepthFirstBacktrack(t *testing.T) {
	a := startTestNode(t, nil, 8)
	b := startTestNode(t, nil, 8)
	c := startTestNode(t, map[string]string{"foo": "bar"}, 8)
	a.dialNeighbor(b.Self())
	a.dialNeighbor(c.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(b, a.Self()) && hasNeighbor(c, a.Self()) && len(a.ListNeighbors()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.StartSearch(wire.ModeDepthFirst, "foo"))

	r := waitForResult(t, a)
	require.Equal(t, search.ResultValueFound, r.Kind)
	require.Equal(t, "bar", r.Value)
	require.GreaterOrEqual(t, r.HopCount, 1)
}

// A HELLO makes both nodes neighbors; a BYE then removes the sender
// from the receiver's table.
func TestHelloByeRoundTrip(t *testing.T) {
	b := startTestNode(t, nil, 3)
	a := startTestNode(t, nil, 3)
	a.dialNeighbor(b.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(a, b.Self()) && hasNeighbor(b, a.Self())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.SendBye(0))

	require.Eventually(t, func() bool {
		return !hasNeighbor(b, a.Self())
	}, 2*time.Second, 10*time.Millisecond)
}

// Invariant 4: add then remove leaves no table or seen-filter entry.
func TestAddRemoveLeavesNoEntry(t *testing.T) {
	b := startTestNode(t, nil, 3)
	a := startTestNode(t, nil, 3)
	a.dialNeighbor(b.Self())

	require.Eventually(t, func() bool {
		return hasNeighbor(b, a.Self())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.SendBye(0))

	require.Eventually(t, func() bool {
		return !hasNeighbor(b, a.Self()) && !b.seenFilter.Contains(a.Self().String())
	}, 2*time.Second, 10*time.Millisecond)
}

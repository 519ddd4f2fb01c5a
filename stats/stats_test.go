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

package stats

import (
	"math"
	"testing"

	"github.com/open-overlay/p2pkv/wire"
	"github.com/stretchr/testify/require"
)

func TestEmptySamplesAreZero(t *testing.T) {
	a := New()
	snap := a.Snapshot()[wire.ModeFlooding]
	require.Equal(t, uint64(0), snap.MessagesSeen)
	require.Equal(t, 0, snap.Samples)
	require.Zero(t, snap.Mean)
	require.Zero(t, snap.Stddev)
}

func TestObserveSearchCounts(t *testing.T) {
	a := New()
	a.ObserveSearch(wire.ModeFlooding)
	a.ObserveSearch(wire.ModeFlooding)
	a.ObserveSearch(wire.ModeRandomWalk)

	snap := a.Snapshot()
	require.Equal(t, uint64(2), snap[wire.ModeFlooding].MessagesSeen)
	require.Equal(t, uint64(1), snap[wire.ModeRandomWalk].MessagesSeen)
	require.Equal(t, uint64(0), snap[wire.ModeDepthFirst].MessagesSeen)
}

func TestObserveValueMeanAndStddev(t *testing.T) {
	a := New()
	hops := []int{2, 4, 4, 4, 5, 5, 7, 9}
	for _, h := range hops {
		a.ObserveValue(wire.ModeFlooding, h)
	}

	snap := a.Snapshot()[wire.ModeFlooding]
	require.Equal(t, len(hops), snap.Samples)
	require.InDelta(t, 5.0, snap.Mean, 1e-9)
	require.InDelta(t, 2.0, snap.Stddev, 1e-9)
	require.False(t, math.IsNaN(snap.Stddev))
}

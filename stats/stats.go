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

// Package stats accumulates, per search mode, the count of SEARCH
// messages handled and the running mean/stddev of hop counts observed
// in returning VAL messages.
package stats

import (
	"math"
	"sync"

	"github.com/eclesh/welford"
	"github.com/open-overlay/p2pkv/wire"
)

// Snapshot is a point-in-time read of one mode's accumulators.
type Snapshot struct {
	MessagesSeen uint64
	Samples      int
	Mean         float64
	Stddev       float64
}

type modeStats struct {
	messagesSeen uint64
	samples      int
	hops         *welford.Stats
	// sumHopsSq tracks the population variance directly, since
	// welford.Stats.Variance()/Stddev() apply Bessel's correction
	// (sample variance, /(n-1)) rather than the /n population formula.
	sumHopsSq float64
}

// Accumulator holds the three per-mode accumulators, guarded by a
// single mutex, matching the small mutex-per-struct idiom used
// elsewhere for shared state.
type Accumulator struct {
	mu    sync.Mutex
	modes map[wire.Mode]*modeStats
}

// New returns an accumulator with all three modes at zero.
func New() *Accumulator {
	return &Accumulator{
		modes: map[wire.Mode]*modeStats{
			wire.ModeFlooding:   {hops: welford.New()},
			wire.ModeRandomWalk: {hops: welford.New()},
			wire.ModeDepthFirst: {hops: welford.New()},
		},
	}
}

// ObserveSearch increments the per-mode SEARCH counter. Called on every
// SEARCH handled, regardless of disposition.
func (a *Accumulator) ObserveSearch(mode wire.Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modes[mode].messagesSeen++
}

// ObserveValue appends a hop-count sample for mode. Called whenever a
// VAL for a search this node issued arrives.
func (a *Accumulator) ObserveValue(mode wire.Mode, hopCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.modes[mode]
	h := float64(hopCount)
	m.hops.Add(h)
	m.sumHopsSq += h * h
	m.samples++
}

// Snapshot returns a stable read of every mode. An empty sample series
// reports mean and stddev as zero rather than dividing by a zero sample
// count; stddev is the population standard deviation.
func (a *Accumulator) Snapshot() map[wire.Mode]Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[wire.Mode]Snapshot, len(a.modes))
	for mode, m := range a.modes {
		s := Snapshot{MessagesSeen: m.messagesSeen, Samples: m.samples}
		if m.samples > 0 {
			s.Mean = m.hops.Mean()
			n := float64(m.samples)
			variance := m.sumHopsSq/n - s.Mean*s.Mean
			if variance < 0 {
				// floating point cancellation on a near-zero population variance
				variance = 0
			}
			s.Stddev = math.Sqrt(variance)
		}
		out[mode] = s
	}
	return out
}

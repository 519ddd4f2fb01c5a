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

// Package seen tracks, per message origin, the highest sequence number
// already processed so that flooding forwards a given (origin, seqno)
// pair at most once.
package seen

import "sync"

// Filter is the per-origin high-water-mark table. Use New to construct one.
type Filter struct {
	mu      sync.Mutex
	highest map[string]uint64
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{highest: make(map[string]uint64)}
}

// AlreadySeen reports whether seqno has already been processed for
// origin, i.e. whether a stored high-water mark exists and is >= seqno.
func (f *Filter) AlreadySeen(origin string, seqno uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.highest[origin]
	return ok && stored >= seqno
}

// Record stores max(existing, seqno) for origin. Callers must not call
// this for the node's own origin or for confirmation records.
func (f *Filter) Record(origin string, seqno uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seqno > f.highest[origin] {
		f.highest[origin] = seqno
	}
}

// Forget erases any entry keyed by origin, called when a neighbor is
// removed so stale high-water marks don't outlive the peer.
func (f *Filter) Forget(origin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.highest, origin)
}

// Contains reports whether origin has any recorded high-water mark.
func (f *Filter) Contains(origin string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.highest[origin]
	return ok
}

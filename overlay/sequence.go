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
	"sync"
)

// sequenceCounter is the node's per-instance outbound sequence
// number, guarded by its own mutex -- the same small mutex-per-struct
// idiom used for every other piece of shared node state.
type sequenceCounter struct {
	mu   sync.Mutex
	next uint64
}

func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{next: 1}
}

// Next returns the current value and advances the counter, matching
// the reference's "use then increment" contract for every locally
// originated HELLO, BYE, VAL or search-initiation.
func (s *sequenceCounter) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next++
	return v
}

// ttlSetting is the mutable default TTL applied to locally-initiated
// searches, changeable at runtime via the console's menu option 6.
type ttlSetting struct {
	mu    sync.Mutex
	value int
}

func newTTLSetting(initial int) *ttlSetting {
	return &ttlSetting{value: initial}
}

// Get returns the current default TTL.
func (t *ttlSetting) Get() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Set stores a new default TTL, always as an integer -- a later
// revision of the reference stored this as a string, which this
// implementation deliberately does not reproduce.
func (t *ttlSetting) Set(v int) error {
	if v <= 0 {
		return fmt.Errorf("overlay: default ttl must be positive, got %d", v)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = v
	return nil
}

// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collection

import (
	"sync"
	"testing"
	"time"

	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/identification"
	"github.com/intel/hagent/internal/procmem"
	"github.com/intel/hagent/internal/spscring"
)

// mockSource replays a fixed list of events, then blocks until Close.
type mockSource struct {
	events chan RawEvent
	closed chan struct{}
}

func newMockSource(events []RawEvent) *mockSource {
	s := &mockSource{events: make(chan RawEvent, len(events)+1), closed: make(chan struct{})}
	for _, e := range events {
		s.events <- e
	}
	return s
}

func (s *mockSource) Next() (RawEvent, bool) {
	select {
	case e := <-s.events:
		return e, true
	case <-s.closed:
		return RawEvent{}, false
	}
}

func (s *mockSource) Close() error {
	close(s.closed)
	return nil
}

type mockIdentifier struct {
	mu        sync.Mutex
	scheduled int
}

func (m *mockIdentifier) Schedule() {
	m.mu.Lock()
	m.scheduled++
	m.mu.Unlock()
}

func (m *mockIdentifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduled
}

func TestInvalidAddressIsFilteredAndCounted(t *testing.T) {
	src := newMockSource([]RawEvent{{VA: 0xdead0000}})
	ring := spscring.New[identification.Sample](16)
	ranges := func() []procmem.Range { return []procmem.Range{{Start: 0, End: 0x1000}} }
	ident := &mockIdentifier{}

	c := New(0, src, ring, ranges, ident, nil)
	defer c.Close()
	time.Sleep(20 * time.Millisecond)

	if _, ok := ring.Recv(); ok {
		t.Fatalf("expected out-of-range sample to be filtered, not pushed")
	}
}

func TestValidSampleIsPushedWithMonotonicID(t *testing.T) {
	src := newMockSource([]RawEvent{{VA: 0x500, Weight: 7}, {VA: 0x600, Weight: 9}})
	ring := spscring.New[identification.Sample](16)
	ranges := func() []procmem.Range { return []procmem.Range{{Start: 0, End: 0x1000}} }
	ident := &mockIdentifier{}

	c := New(0, src, ring, ranges, ident, nil)
	defer c.Close()
	time.Sleep(20 * time.Millisecond)

	s, ok := ring.Recv()
	if !ok {
		t.Fatalf("expected sample to be pushed")
	}
	if s.VA != 0x500 || s.Lat != 7 {
		t.Fatalf("unexpected sample %+v", s)
	}
	s2, ok := ring.Recv()
	if !ok {
		t.Fatalf("expected second sample to be pushed")
	}
	if s2.ID <= s.ID {
		t.Fatalf("sample ids not monotonic: %d then %d", s.ID, s2.ID)
	}
}

func TestIdentificationScheduledEveryPeriod(t *testing.T) {
	events := make([]RawEvent, hconst.IdentificationPeriod)
	for i := range events {
		events[i] = RawEvent{VA: 0x500}
	}
	src := newMockSource(events)
	ring := spscring.New[identification.Sample](hconst.IdentificationPeriod + 16)
	ranges := func() []procmem.Range { return []procmem.Range{{Start: 0, End: 0x1000}} }
	ident := &mockIdentifier{}

	c := New(0, src, ring, ranges, ident, nil)
	defer c.Close()
	time.Sleep(50 * time.Millisecond)

	if ident.count() == 0 {
		t.Fatalf("expected at least one identification schedule after %d pushes", hconst.IdentificationPeriod)
	}
}

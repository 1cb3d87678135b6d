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

package identification

import (
	"testing"

	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/sdh"
	"github.com/intel/hagent/internal/spscring"
)

type mockMigrator struct{ queued int }

func (m *mockMigrator) Queue() { m.queued++ }

func TestSingleHotRegionEmitsOnePromotion(t *testing.T) {
	ring := spscring.New[Sample](4096)
	const va = 0x7f0000001000
	for i := 0; i < 2000; i++ {
		ring.Send(Sample{ID: uint64(i), VA: va})
	}

	promo := spscring.New[uint64](16)
	demo := spscring.New[uint64](16)
	migrator := &mockMigrator{}
	id := New(Config{
		Rings:       []*spscring.Ring[Sample]{ring},
		Sketch:      sdh.New(sdh.Config{W: 64, D: 3, K: 8}),
		PromotionTx: promo,
		DemotionTx:  demo,
		Migration:   migrator,
	})
	id.Drain()

	key := uint64(va) &^ uint64(hconst.HPageSize-1)
	got, ok := promo.Recv()
	if !ok {
		t.Fatalf("expected a promotion candidate")
	}
	if got != key {
		t.Fatalf("promoted key = %#x, want %#x", got, key)
	}
	if _, ok := promo.Recv(); ok {
		t.Fatalf("expected only one promotion for a single region")
	}
	if migrator.queued != 0 {
		t.Fatalf("expected migration not to be queued after one send, fewer than MIGRATION_PERIOD")
	}
}

func TestColdEvictionEmitsDemotion(t *testing.T) {
	ring := spscring.New[Sample](4096)
	// Fill K distinct regions once each, then hammer one more region hard
	// enough to evict the coldest of the original K.
	for i := 0; i < 4; i++ {
		ring.Send(Sample{VA: uint64(i) * hconst.HPageSize})
	}
	for i := 0; i < 50; i++ {
		ring.Send(Sample{VA: 4 * hconst.HPageSize})
	}

	promo := spscring.New[uint64](64)
	demo := spscring.New[uint64](64)
	id := New(Config{
		Rings:       []*spscring.Ring[Sample]{ring},
		Sketch:      sdh.New(sdh.Config{W: 64, D: 3, K: 4}),
		PromotionTx: promo,
		DemotionTx:  demo,
		Migration:   &mockMigrator{},
	})
	id.Drain()

	found := false
	for {
		_, ok := demo.Recv()
		if !ok {
			break
		}
		found = true
	}
	if !found {
		t.Fatalf("expected at least one demotion candidate once the heap is forced to evict")
	}
}

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

package iheap

import (
	"math/rand"
	"testing"
)

// checkInvariants verifies the min-heap property and that pos agrees with
// data for every entry, after every mutation in the calling test.
func checkInvariants[K comparable, V int | uint64](t *testing.T, h *Heap[K, V]) {
	t.Helper()
	for i := 0; i < h.Len(); i++ {
		left, right := 2*i+1, 2*i+2
		if left < h.Len() && h.data[left].Val < h.data[i].Val {
			t.Fatalf("heap property violated at %d/%d", i, left)
		}
		if right < h.Len() && h.data[right].Val < h.data[i].Val {
			t.Fatalf("heap property violated at %d/%d", i, right)
		}
		key := h.data[i].Key
		pos, ok := h.pos[key]
		if !ok || pos != i {
			t.Fatalf("index mismatch for key %v: pos[key]=%d (ok=%v), want %d", key, pos, ok, i)
		}
	}
	if len(h.pos) != h.Len() {
		t.Fatalf("pos map size %d != heap len %d", len(h.pos), h.Len())
	}
}

func TestRandomOpsPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	h := New[int, int]()
	present := map[int]bool{}
	nextKey := 0

	for i := 0; i < 5000; i++ {
		switch rng.Intn(4) {
		case 0: // push a fresh key
			k := nextKey
			nextKey++
			h.Push(k, rng.Intn(1000))
			present[k] = true
		case 1: // pop
			if h.Len() > 0 {
				e, ok := h.Pop()
				if !ok {
					t.Fatalf("pop reported not-ok with len=%d", h.Len())
				}
				delete(present, e.Key)
			}
		case 2: // update a random existing key
			if h.Len() > 0 {
				pos := rng.Intn(h.Len())
				h.Update(pos, rng.Intn(1000))
			}
		case 3: // remove a random existing key
			if h.Len() > 0 {
				pos := rng.Intn(h.Len())
				e, ok := h.Remove(pos)
				if !ok {
					t.Fatalf("remove reported not-ok")
				}
				delete(present, e.Key)
			}
		}
		checkInvariants(t, h)
	}
}

func TestPopReturnsNonDecreasing(t *testing.T) {
	h := New[int, int]()
	vals := []int{5, 1, 9, 3, 7, 2, 8, 0, 4, 6}
	for i, v := range vals {
		h.Push(i, v)
	}
	prev := -1
	for h.Len() > 0 {
		e, _ := h.Pop()
		if e.Val < prev {
			t.Fatalf("pop order violated: %d after %d", e.Val, prev)
		}
		prev = e.Val
	}
}

func TestUpdateSameValueIsNoop(t *testing.T) {
	h := New[int, int]()
	h.Push(1, 10)
	h.Push(2, 20)
	h.Push(3, 5)
	before := append([]Entry[int, int]{}, h.data...)
	pos, _ := h.Get(2)
	h.Update(pos, 20)
	for i := range before {
		if h.data[i] != before[i] {
			t.Fatalf("update with unchanged value reordered heap: %v != %v", h.data, before)
		}
	}
}

func TestReplaceUpdatesBothKeys(t *testing.T) {
	h := New[int, int]()
	h.Push(1, 10)
	h.Push(2, 20)
	h.Push(3, 5)
	old := h.Replace(0, 99, 50) // position 0 holds the min, key 3
	if old.Key != 3 || old.Val != 5 {
		t.Fatalf("replace returned wrong old entry: %+v", old)
	}
	if _, ok := h.Get(3); ok {
		t.Fatalf("old key 3 still indexed after replace")
	}
	pos, ok := h.Get(99)
	if !ok {
		t.Fatalf("new key 99 not indexed after replace")
	}
	if h.At(pos).Key != 99 || h.At(pos).Val != 50 {
		t.Fatalf("replace did not place new entry at indexed position")
	}
	checkInvariants(t, h)
}

func TestPushDuplicateKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate key push")
		}
	}()
	h := New[int, int]()
	h.Push(1, 10)
	h.Push(1, 20)
}

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

// Package sdh implements a streaming top-K heavy-hitter sketch: a d x w
// count-min table whose K heaviest distinct keys are materialised in an
// indexed min-heap (internal/iheap). The name mirrors the kernel agent's
// "SDH" (sketch + dynamic heap) bookkeeping structure.
package sdh

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/intel/hagent/internal/iheap"
)

// Config holds the sketch dimensions: w columns, d rows, k heavy hitters
// materialised in the heap.
type Config struct {
	W int
	D int
	K int
}

// Sketch is a single-writer structure; all methods must be called from one
// goroutine (the Identification context, per the agent's single-CPU
// confinement rule).
type Sketch struct {
	cfg     Config
	table   [][]uint64 // [row][col]
	heap    *iheap.Heap[uint64, uint64]
	dumpTop bool
}

// New creates a sketch with the given dimensions. Counters start at zero;
// the heap starts empty.
func New(cfg Config) *Sketch {
	if cfg.W <= 0 {
		cfg.W = 1
	}
	if cfg.D <= 0 {
		cfg.D = 1
	}
	if cfg.K <= 0 {
		cfg.K = 1
	}
	table := make([][]uint64, cfg.D)
	for i := range table {
		table[i] = make([]uint64, cfg.W)
	}
	return &Sketch{
		cfg:   cfg,
		table: table,
		heap:  iheap.New[uint64, uint64](),
	}
}

// SetDumpTopK records the dump_topk setting on the sketch. The sketch never
// reads it itself; the shutdown dump is done by the owning Migrator, from
// its own copy of the flag, through TopK.
func (s *Sketch) SetDumpTopK(on bool) {
	s.dumpTop = on
}

func (s *Sketch) rowHash(row int, key uint64) uint32 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], key)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(row))
	h := fnv.New32a()
	h.Write(buf[:])
	return h.Sum32() % uint32(s.cfg.W)
}

// Add records one observation of key and returns the sketch's current
// estimate for it, whether the key became "hot" on this observation (it
// was inserted into the top-K heap or replaced its root; a key already in
// the heap only has its count updated and is not reported hot again), and
// — if adding this key displaced a previous heap resident — the displaced
// key.
func (s *Sketch) Add(key uint64) (count uint64, hot bool, evicted uint64, evictedOK bool) {
	var estimate uint64
	for row := 0; row < s.cfg.D; row++ {
		col := s.rowHash(row, key)
		s.table[row][col]++
		v := s.table[row][col]
		if row == 0 || v < estimate {
			estimate = v
		}
	}

	if pos, ok := s.heap.Get(key); ok {
		s.heap.Update(pos, estimate)
		return estimate, false, 0, false
	}

	if s.heap.Len() < s.cfg.K {
		s.heap.Push(key, estimate)
		return estimate, true, 0, false
	}

	rootPos := 0 // the minimum is always stored at position 0
	root := s.heap.At(rootPos)
	if estimate > root.Val {
		old := s.heap.Replace(rootPos, key, estimate)
		return estimate, true, old.Key, true
	}
	return estimate, false, 0, false
}

// Len returns the number of distinct keys currently materialised in the
// top-K heap (always <= K).
func (s *Sketch) Len() int {
	return s.heap.Len()
}

// TopK returns a snapshot of the heap contents in heap (not sorted) order,
// used by the dump_topk diagnostic.
func (s *Sketch) TopK() []iheap.Entry[uint64, uint64] {
	out := make([]iheap.Entry[uint64, uint64], s.heap.Len())
	for i := range out {
		out[i] = s.heap.At(i)
	}
	return out
}

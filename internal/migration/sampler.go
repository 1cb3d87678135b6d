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

package migration

import (
	"math/rand"

	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/procmem"
)

// CandidateSampler is the "kernel helper that samples random resident
// huge-page candidates from the tracked task" spec.md §4.6 calls for when
// the demotion deque runs dry mid-step.
type CandidateSampler interface {
	// SampleResident returns up to n huge-page-aligned virtual addresses
	// currently mapped by pid.
	SampleResident(pid int, n int) ([]uint64, error)
}

// MmapSampler draws candidates from a process's own /proc/<pid>/maps
// footprint, rounding each pick down to its containing huge page.
type MmapSampler struct {
	rnd *rand.Rand
}

// NewMmapSampler builds a sampler seeded from the given source.
func NewMmapSampler(seed int64) *MmapSampler {
	return &MmapSampler{rnd: rand.New(rand.NewSource(seed))}
}

// SampleResident implements CandidateSampler.
func (s *MmapSampler) SampleResident(pid int, n int) ([]uint64, error) {
	ranges, err := procmem.MmapRanges(pid)
	if err != nil {
		return nil, err
	}
	var picks []uint64
	for i := 0; i < n && len(ranges) > 0; i++ {
		r := ranges[s.rnd.Intn(len(ranges))]
		if r.End <= r.Start+hconst.HPageSize {
			continue
		}
		span := (r.End - r.Start - hconst.HPageSize) / hconst.HPageSize
		offset := uint64(0)
		if span > 0 {
			offset = uint64(s.rnd.Int63n(int64(span))) * hconst.HPageSize
		}
		picks = append(picks, hconst.HPageKey(r.Start+offset))
	}
	return picks, nil
}

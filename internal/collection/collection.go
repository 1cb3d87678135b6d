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
	"sync/atomic"

	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/hmetrics"
	"github.com/intel/hagent/internal/identification"
	"github.com/intel/hagent/internal/procmem"
	"github.com/intel/hagent/internal/spscring"
)

// Identifier is the subset of the Identification context Collection needs:
// a way to schedule a drain once enough samples have landed.
type Identifier interface {
	Schedule()
}

// sampleID is the global monotonic sample counter, shared across every
// Collection context for a tracked process (spec.md §3: "id is globally
// monotonic across CPUs, assigned from an atomic counter").
var sampleID atomic.Uint64

// Ranges supplies the tracked process's mmap footprint. Collection calls it
// on every event; the Migrator's implementation returns the ranges read at
// construction or by its most recent RefreshRanges call.
type Ranges func() []procmem.Range

// Collection is one per-CPU PMU counter plus the overflow-handler logic
// that turns its raw events into ring pushes (spec.md §4.4).
type Collection struct {
	cpu     int
	source  Source
	ring    *spscring.Ring[identification.Sample]
	ranges  Ranges
	ident   Identifier
	metrics *hmetrics.Metrics

	invalid uint64
	pushed  uint64

	wg sync.WaitGroup
}

// New starts a Collection context on source, feeding ring and scheduling
// ident every IDENTIFICATION_PERIOD successful pushes.
func New(cpu int, source Source, ring *spscring.Ring[identification.Sample], ranges Ranges, ident Identifier, metrics *hmetrics.Metrics) *Collection {
	c := &Collection{
		cpu:     cpu,
		source:  source,
		ring:    ring,
		ranges:  ranges,
		ident:   ident,
		metrics: metrics,
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// run is the Go analog of the NMI/hard-IRQ overflow handler: it never
// blocks downstream, and a full ring silently drops the sample.
func (c *Collection) run() {
	defer c.wg.Done()
	for {
		ev, ok := c.source.Next()
		if !ok {
			return
		}
		c.handle(ev)
	}
}

func (c *Collection) handle(ev RawEvent) {
	ranges := c.ranges()
	if !procmem.InAnyRange(ranges, ev.VA) {
		c.invalid++
		if c.metrics != nil {
			c.metrics.SamplesInvalid.Inc()
		}
		return
	}

	s := identification.Sample{
		ID:  sampleID.Add(1),
		VA:  ev.VA,
		Lat: ev.Weight,
		PA:  0,
	}
	if !c.ring.Send(s) {
		if c.metrics != nil {
			c.metrics.RingDrops.Inc()
		}
		return
	}

	c.pushed++
	if c.metrics != nil {
		c.metrics.SamplesCollected.Inc()
	}
	if c.pushed%hconst.IdentificationPeriod == 0 {
		c.ident.Schedule()
	}
}

// Close releases the PMU counter. The kernel guarantees the overflow
// handler will not fire after this returns (spec.md §4.4).
func (c *Collection) Close() error {
	err := c.source.Close()
	c.wg.Wait()
	return err
}

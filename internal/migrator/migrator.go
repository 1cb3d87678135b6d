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

// Package migrator wires together one process's Collection, Identification
// and Migration contexts into the lifetime spec.md §4.7 describes: created
// leaf-first (Migration, then Identification, then Collection), torn down
// in the reverse order.
package migrator

import (
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/hagent/internal/collection"
	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/hlog"
	"github.com/intel/hagent/internal/hmetrics"
	"github.com/intel/hagent/internal/identification"
	"github.com/intel/hagent/internal/migration"
	"github.com/intel/hagent/internal/numa"
	"github.com/intel/hagent/internal/procmem"
	"github.com/intel/hagent/internal/sdh"
	"github.com/intel/hagent/internal/spscring"
)

// SourceFactory opens a Collection context's PMU counter for a given CPU.
// Production callers pass collection.OpenPerfSource; tests supply a mock.
type SourceFactory func(cpu int) (collection.Source, error)

// Config configures a Migrator instance.
type Config struct {
	Pid             int
	CPUs            []int
	Topo            *numa.Topology
	Mover           migration.PageMover
	Sampler         migration.CandidateSampler
	OpenSource      SourceFactory
	Sketch          sdh.Config
	ChannelCapacity int
	ThrottleMBPS    int
	Metrics         *hmetrics.Metrics
	DumpTopK        bool
}

// Migrator owns one tracked process's full pipeline.
type Migrator struct {
	pid         int
	metrics     *hmetrics.Metrics
	migration   *migration.Migration
	ident       *identification.Identification
	collections []*collection.Collection
	sketch      *sdh.Sketch
	dumpTopK    bool

	rangesMu sync.RWMutex
	ranges   []procmem.Range
}

// New constructs a Migrator for pid, following spec.md §4.7's construction
// order: rings and Migration first (leaf), Identification next, Collection
// last (so nothing can observe a partially-built downstream).
func New(cfg Config) (*Migrator, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = hmetrics.New()
	}
	channelCap := cfg.ChannelCapacity
	if channelCap <= 0 {
		channelCap = hconst.ChannelCapacityDefault
	}

	ranges, err := procmem.MmapRanges(cfg.Pid)
	if err != nil {
		return nil, err
	}

	promotionTx := spscring.New[uint64](channelCap)
	demotionTx := spscring.New[uint64](channelCap)

	mig := migration.New(migration.Config{
		Pid:          cfg.Pid,
		Topo:         cfg.Topo,
		Mover:        cfg.Mover,
		Sampler:      cfg.Sampler,
		Metrics:      cfg.Metrics,
		ThrottleMBPS: cfg.ThrottleMBPS,
	}, promotionTx, demotionTx)

	cpus := cfg.CPUs
	if len(cpus) == 0 {
		cpus = defaultCPUs()
	}
	collectionRings := make([]*spscring.Ring[identification.Sample], len(cpus))
	for i := range collectionRings {
		collectionRings[i] = spscring.New[identification.Sample](channelCap)
	}

	sketch := sdh.New(cfg.Sketch)
	sketch.SetDumpTopK(cfg.DumpTopK)

	ident := identification.New(identification.Config{
		Rings:       collectionRings,
		Sketch:      sketch,
		PromotionTx: promotionTx,
		DemotionTx:  demotionTx,
		Migration:   mig,
		Metrics:     cfg.Metrics,
	})
	go ident.Run()

	m := &Migrator{pid: cfg.Pid, metrics: cfg.Metrics, migration: mig, ident: ident, sketch: sketch, dumpTopK: cfg.DumpTopK, ranges: ranges}

	for i, cpu := range cpus {
		src, err := cfg.OpenSource(cpu)
		if err != nil {
			m.teardownPartial(i)
			mig.Stop()
			ident.Stop()
			return nil, err
		}
		m.collections = append(m.collections, collection.New(cpu, src, collectionRings[i], m.mmapRanges, ident, cfg.Metrics))
	}

	hlog.L.Infof("migrator: tracking pid %d across %d CPUs", cfg.Pid, len(cpus))
	return m, nil
}

func (m *Migrator) mmapRanges() []procmem.Range {
	m.rangesMu.RLock()
	defer m.rangesMu.RUnlock()
	return m.ranges
}

// RefreshRanges re-reads the tracked process's mmap footprint. Nothing in
// this tree calls it (the Tracker does not): unless an embedder does, the
// ranges stay as read when the Migrator was built.
func (m *Migrator) RefreshRanges() error {
	ranges, err := procmem.MmapRanges(m.pid)
	if err != nil {
		return err
	}
	m.rangesMu.Lock()
	m.ranges = ranges
	m.rangesMu.Unlock()
	return nil
}

func (m *Migrator) teardownPartial(upTo int) {
	for _, c := range m.collections[:upTo] {
		c.Close()
	}
}

// Close tears down the pipeline in reverse construction order (spec.md
// §4.7): collections release their PMU counters first, Identification
// syncs its pending IRQ-work, Migration cancels its delayed work
// synchronously.
func (m *Migrator) Close() error {
	var result *multierror.Error
	for _, c := range m.collections {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.ident.Stop()
	m.migration.Stop()
	if m.dumpTopK {
		for _, e := range m.sketch.TopK() {
			hlog.L.Infof("migrator: dump_topk pid %d key %#x count %d", m.pid, e.Key, e.Val)
		}
	}
	hlog.L.Infof("migrator: stopped tracking pid %d", m.pid)
	return result.ErrorOrNil()
}

func defaultCPUs() []int {
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}

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
	"fmt"
	"sync"
	"time"

	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/hlog"
	"github.com/intel/hagent/internal/hmetrics"
	"github.com/intel/hagent/internal/numa"
	"github.com/intel/hagent/internal/spscring"
)

// Config configures a Migration context.
type Config struct {
	Pid          int
	Topo         *numa.Topology
	Mover        PageMover
	Sampler      CandidateSampler
	Metrics      *hmetrics.Metrics
	ThrottleMBPS int
}

// Migration is the deferrable-work analog of spec.md §4.6: it drains
// promotion/demotion candidates produced by Identification and issues
// throttled move_pages batches. A single goroutine runs migrateStep;
// external callers only ever signal it via Queue.
type Migration struct {
	pid     int
	topo    *numa.Topology
	mover   PageMover
	sampler CandidateSampler
	metrics *hmetrics.Metrics

	promotionRx *spscring.Ring[uint64]
	demotionRx  *spscring.Ring[uint64]

	mu               sync.Mutex
	dram             map[uint64]struct{}
	pmem             map[uint64]struct{}
	promotionPending []uint64
	demotionPending  []uint64

	promotionBatch *PageBatch
	demotionBatch  *PageBatch

	migratedBytes uint64
	start         time.Time
	throttleMBPS  int

	work chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New builds a Migration context. promotionRx and demotionRx are the
// receiving ends of the rings Identification sends promotion/demotion
// candidates on.
func New(cfg Config, promotionRx, demotionRx *spscring.Ring[uint64]) *Migration {
	throttle := cfg.ThrottleMBPS
	if throttle <= 0 {
		throttle = hconst.ThrottleMBPS
	}
	m := &Migration{
		pid:            cfg.Pid,
		topo:           cfg.Topo,
		mover:          cfg.Mover,
		sampler:        cfg.Sampler,
		metrics:        cfg.Metrics,
		promotionRx:    promotionRx,
		demotionRx:     demotionRx,
		dram:           make(map[uint64]struct{}),
		pmem:           make(map[uint64]struct{}),
		promotionBatch: NewPageBatch(cfg.Pid, cfg.Topo.DRAMNode, cfg.Mover),
		demotionBatch:  NewPageBatch(cfg.Pid, cfg.Topo.SlowTierNode, cfg.Mover),
		start:          time.Now(),
		throttleMBPS:   throttle,
		work:           make(chan struct{}, 1),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go m.run()
	return m
}

// Queue schedules a migrate step, mirroring queue_delayed_work_on guarded by
// a work_busy == 0 check: a step already pending absorbs the signal instead
// of queuing a second one.
func (m *Migration) Queue() {
	select {
	case m.work <- struct{}{}:
	default:
	}
}

// Stop cancels pending work and waits for the run loop to exit, mirroring
// the Migrator's reverse-order teardown (spec.md §4.7): migration cancels
// its delayed work synchronously.
func (m *Migration) Stop() {
	close(m.quit)
	<-m.done
}

func (m *Migration) run() {
	defer close(m.done)
	var timer *time.Timer
	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}
		select {
		case <-m.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-m.work:
		case <-timerC:
			timer = nil
		}

		delay, rearm := m.migrateStep()
		if rearm {
			timer = time.NewTimer(delay)
			if m.metrics != nil {
				m.metrics.ThrottleEngagements.Inc()
			}
		}
	}
}

// migrateStep is the full body of one work run (spec.md §4.6's numbered
// algorithm). It returns a re-arm delay and whether the throttle cap forced
// an early return.
func (m *Migration) migrateStep() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drainRings()

	var burstBytes uint64
	for m.topo.HasSpace(m.topo.SlowTierNode) && len(m.promotionPending) > 0 {
		p := m.popPromotion()
		if _, ok := m.dram[p]; ok {
			continue
		}

		m.promotionBatch.BaseAddress(p)
		if err := m.promotionBatch.StatPages(); err != nil {
			hlog.L.Errorf("migration: stat_pages(%#x) failed: %v", p, err)
			continue
		}
		todo := m.promotionBatch.ConsolidateLeft()
		if todo == 0 {
			m.dram[p] = struct{}{}
			continue
		}

		demotionNeeded := 0
		if !m.topo.HasSpace(m.topo.DRAMNode) {
			demotionNeeded = todo
		}

		for demotionNeeded > 0 {
			d, ok := m.popDemotion()
			if !ok {
				candidates, err := m.sampler.SampleResident(m.pid, hconst.BatchSize)
				if err != nil || len(candidates) == 0 {
					panic(fmt.Sprintf("migration: random candidate refill returned none (err=%v)", err))
				}
				m.demotionPending = append(m.demotionPending, candidates...)
				d, _ = m.popDemotion()
			}
			if _, ok := m.pmem[d]; ok {
				continue
			}

			m.demotionBatch.BaseAddress(d)
			if err := m.demotionBatch.StatPages(); err != nil {
				hlog.L.Errorf("migration: stat_pages(%#x) failed: %v", d, err)
				continue
			}
			dtodo := m.demotionBatch.ConsolidateLeft()
			if err := m.demotionBatch.MovePages(dtodo); err != nil {
				panic(fmt.Sprintf("migration: move_pages to slow tier failed: %v", err))
			}
			if n := m.demotionBatch.CountNode(m.topo.SlowTierNode, dtodo); n < dtodo {
				panic(fmt.Sprintf("migration: %d/%d demoted pages not on slow tier after move_pages", dtodo-n, dtodo))
			}
			m.pmem[d] = struct{}{}
			realised := dtodo
			demotionNeeded -= realised
			moved := uint64(realised) * hconst.PageSize
			m.migratedBytes += moved
			burstBytes += moved
			if m.metrics != nil {
				m.metrics.MigratedBytes.Add(float64(moved))
			}
		}

		if err := m.promotionBatch.MovePages(todo); err != nil {
			panic(fmt.Sprintf("migration: move_pages to DRAM failed: %v", err))
		}
		if n := m.promotionBatch.CountNode(m.topo.DRAMNode, todo); n < todo {
			panic(fmt.Sprintf("migration: %d/%d promoted pages not on DRAM after move_pages", todo-n, todo))
		}
		m.dram[p] = struct{}{}
		moved := uint64(todo) * hconst.PageSize
		m.migratedBytes += moved
		burstBytes += moved

		if m.metrics != nil {
			m.metrics.MigratedBytes.Add(float64(moved))
		}

		if avg := m.averageMBPS(); avg > float64(m.throttleMBPS) {
			hlog.L.Infof("migration: burst %d bytes, average %.2f MB/s exceeds throttle %d MB/s, re-arming",
				burstBytes, avg, m.throttleMBPS)
			return time.Duration(hconst.ThrottleRearmDelay), true
		}
	}

	hlog.L.Infof("migration: burst %d bytes, average %.2f MB/s, pending promotion=%d demotion=%d",
		burstBytes, m.averageMBPS(), len(m.promotionPending), len(m.demotionPending))
	if m.metrics != nil {
		m.metrics.MigrationPending.Set(float64(len(m.promotionPending) + len(m.demotionPending)))
	}
	return 0, false
}

func (m *Migration) averageMBPS() float64 {
	elapsed := time.Since(m.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.migratedBytes) / (1024 * 1024) / elapsed
}

func (m *Migration) drainRings() {
	for {
		v, ok := m.promotionRx.Recv()
		if !ok {
			break
		}
		m.promotionPending = append(m.promotionPending, v)
	}
	for {
		v, ok := m.demotionRx.Recv()
		if !ok {
			break
		}
		m.demotionPending = append(m.demotionPending, v)
	}
}

func (m *Migration) popPromotion() uint64 {
	v := m.promotionPending[0]
	m.promotionPending = m.promotionPending[1:]
	return v
}

func (m *Migration) popDemotion() (uint64, bool) {
	if len(m.demotionPending) == 0 {
		return 0, false
	}
	v := m.demotionPending[0]
	m.demotionPending = m.demotionPending[1:]
	return v, true
}

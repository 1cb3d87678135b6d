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

// Package identification implements the Identification context (spec.md
// §4.5): the single soft-IRQ-equivalent drain loop that turns per-CPU
// samples into promotion/demotion candidates by way of the SDH sketch.
package identification

import (
	"github.com/intel/hagent/internal/hconst"
	"github.com/intel/hagent/internal/hlog"
	"github.com/intel/hagent/internal/hmetrics"
	"github.com/intel/hagent/internal/sdh"
	"github.com/intel/hagent/internal/spscring"
)

// Migrator is the subset of the Migration context Identification needs: a
// way to signal that candidates are waiting.
type Migrator interface {
	Queue()
}

// Sample is one Collection overflow event, drained from a per-CPU ring.
type Sample struct {
	ID  uint64
	VA  uint64
	Lat uint64
	PA  uint64
}

// Identification owns the sketch and the receivers that funnel samples in
// from every Collection context, plus the senders that funnel promotion and
// demotion candidates out to Migration.
type Identification struct {
	rings       []*spscring.Ring[Sample]
	sketch      *sdh.Sketch
	promotionTx *spscring.Ring[uint64]
	demotionTx  *spscring.Ring[uint64]
	migration   Migrator
	metrics     *hmetrics.Metrics

	received uint64
	sent     uint64

	work chan struct{}
	quit chan struct{}
	done chan struct{}
}

// Config configures an Identification context.
type Config struct {
	Rings       []*spscring.Ring[Sample]
	Sketch      *sdh.Sketch
	PromotionTx *spscring.Ring[uint64]
	DemotionTx  *spscring.Ring[uint64]
	Migration   Migrator
	Metrics     *hmetrics.Metrics
}

// New builds an Identification context. Run must be started separately to
// have it actually execute scheduled drains on its own goroutine.
func New(cfg Config) *Identification {
	return &Identification{
		rings:       cfg.Rings,
		sketch:      cfg.Sketch,
		promotionTx: cfg.PromotionTx,
		demotionTx:  cfg.DemotionTx,
		migration:   cfg.Migration,
		metrics:     cfg.Metrics,
		work:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run executes scheduled drains on the calling goroutine until Stop is
// called, playing the part of the single CPU_IDENTIFICATION soft-IRQ
// context spec.md §4.5 confines all sketch mutation to.
func (id *Identification) Run() {
	defer close(id.done)
	for {
		select {
		case <-id.quit:
			return
		case <-id.work:
			id.Drain()
		}
	}
}

// Schedule is Collection's IRQ-work enqueue: a pending drain absorbs the
// signal instead of queuing a second one.
func (id *Identification) Schedule() {
	select {
	case id.work <- struct{}{}:
	default:
	}
}

// Stop ends Run and waits for it to return.
func (id *Identification) Stop() {
	close(id.quit)
	<-id.done
}

// Drain runs one IRQ-work invocation: drain every collection ring fully
// into the sketch, emitting promotion/demotion candidates as they surface.
func (id *Identification) Drain() {
	alreadyQueued := false
	for _, rx := range id.rings {
		for {
			s, ok := rx.Recv()
			if !ok {
				break
			}
			key := s.VA &^ uint64(hconst.HPageSize-1)
			_, hot, evicted, evictedOK := id.sketch.Add(key)

			if hot {
				if id.promotionTx.Send(key) {
					id.sent++
					if id.metrics != nil {
						id.metrics.RingSends.Inc()
						id.metrics.Promotions.Inc()
					}
				} else if id.metrics != nil {
					id.metrics.RingDrops.Inc()
				}
			}
			if evictedOK {
				if id.demotionTx.Send(evicted) {
					id.sent++
					if id.metrics != nil {
						id.metrics.RingSends.Inc()
						id.metrics.Demotions.Inc()
					}
				} else if id.metrics != nil {
					id.metrics.RingDrops.Inc()
				}
			}

			if !alreadyQueued && id.sent%hconst.MigrationPeriod == 0 {
				id.migration.Queue()
				alreadyQueued = true
			}

			id.received++
			if id.received%hconst.DrainReportPeriod == 0 {
				hlog.L.Infof("identification: drained %d samples, %d candidates sent, sketch holds %d keys",
					id.received, id.sent, id.sketch.Len())
			}
		}
	}
}

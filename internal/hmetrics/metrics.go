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

// Package hmetrics exposes the pipeline's counters as Prometheus
// instruments. Collection increments SamplesCollected, SamplesInvalid and
// RingDrops directly from its event loop; Identification and Migration
// update the remaining instruments (and Identification also counts its own
// ring drops in RingDrops). No HTTP
// handler is registered by this package; callers that want to inspect the
// registry do so through Gather, keeping the daemon free of an exposed
// control-plane surface.
package hmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the pipeline updates.
type Metrics struct {
	Registry *prometheus.Registry

	SamplesCollected    prometheus.Counter
	SamplesInvalid      prometheus.Counter
	RingSends           prometheus.Counter
	RingDrops           prometheus.Counter
	Promotions          prometheus.Counter
	Demotions           prometheus.Counter
	MigratedBytes       prometheus.Counter
	ThrottleEngagements prometheus.Counter
	MigrationPending    prometheus.Gauge
}

// New builds a fresh, independently registered Metrics bundle — one per
// Migrator instance, so per-process counters don't bleed into each other
// across tracker switches.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		SamplesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_samples_collected_total",
			Help: "PMU overflow samples successfully enqueued by Collection.",
		}),
		SamplesInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_samples_invalid_total",
			Help: "PMU samples discarded because their address fell outside the tracked mmap region.",
		}),
		RingSends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_ring_sends_total",
			Help: "Promotion/demotion candidates successfully enqueued by Identification.",
		}),
		RingDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_ring_drops_total",
			Help: "Samples or candidates dropped because a ring was full.",
		}),
		Promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_promotions_total",
			Help: "Huge pages reported hot by the SDH sketch.",
		}),
		Demotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_demotions_total",
			Help: "Huge pages evicted from the SDH top-K heap.",
		}),
		MigratedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_migrated_bytes_total",
			Help: "Bytes moved across tiers by the Migration context.",
		}),
		ThrottleEngagements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hagent_throttle_engagements_total",
			Help: "Times the Migration context re-armed itself because THROTTLE_MBPS was exceeded.",
		}),
		MigrationPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hagent_migration_pending_depth",
			Help: "Combined depth of the promotion and demotion pending deques.",
		}),
	}
	reg.MustRegister(
		m.SamplesCollected, m.SamplesInvalid, m.RingSends, m.RingDrops,
		m.Promotions, m.Demotions, m.MigratedBytes, m.ThrottleEngagements,
		m.MigrationPending,
	)
	return m
}

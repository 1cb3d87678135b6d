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

// Package collection implements the Collection context (spec.md §4.4): one
// instance per online CPU, turning PMU overflow events into enqueued
// samples on that CPU's ring.
package collection

// RawEvent is one PMU overflow event as handed to us by a Source, before
// the mmap-region filter and monotonic id assignment Collection itself is
// responsible for.
type RawEvent struct {
	VA     uint64
	Weight uint64
}

// Source abstracts a single CPU's PMU counter. The production
// implementation (source_linux.go) wraps perf_event_open(2); tests use a
// mock that replays a fixed event list.
type Source interface {
	// Next blocks until the next overflow event is available or the
	// source is closed, in which case ok is false.
	Next() (event RawEvent, ok bool)
	// Close releases the underlying counter. After Close returns, the
	// kernel guarantees no further overflow will fire (spec.md §4.4).
	Close() error
}

// EventConfig mirrors the raw PMU event encoding spec.md §4.4 opens the
// counter with.
type EventConfig struct {
	Config    uint64 // EVENT_CONFIG: raw event encoding
	Threshold uint64 // EVENT_THRESHOLD: config1
	Period    uint64 // EVENT_PERIOD: sample_period
}

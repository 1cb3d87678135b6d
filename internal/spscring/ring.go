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

// Package spscring implements a fixed-capacity single-producer /
// single-consumer lock-free queue. It never blocks and never allocates
// once constructed: Send on a full ring stores nothing and returns false,
// leaving the element with the caller; Recv on an empty ring returns false.
package spscring

import "sync/atomic"

// Ring is a single-producer/single-consumer ring buffer of capacity cap(T).
// Exactly one goroutine may call Send, and exactly one (possibly
// different) goroutine may call Recv; concurrent Sends or concurrent Recvs
// are not safe.
type Ring[T any] struct {
	buf []T
	cap uint64

	// tx is advanced by the producer after writing a slot.
	tx atomic.Uint64
	// rx is advanced by the consumer after reading a slot.
	rx atomic.Uint64
}

// New creates a ring of the given capacity. Capacity must be > 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		buf: make([]T, capacity),
		cap: uint64(capacity),
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return int(r.cap)
}

// Len returns a snapshot of the number of queued elements. Racy by nature
// when called outside the producer/consumer, intended for diagnostics only.
func (r *Ring[T]) Len() int {
	tx := r.tx.Load()
	rx := r.rx.Load()
	return int(tx - rx)
}

// Send and Recv order their cursor updates with Go's atomic package, whose
// Load/Store give sequential consistency on all ports Go supports — a
// strictly stronger guarantee than the release/acquire pairing the ring
// actually needs, so no fence is missing.

// Send enqueues x. On success it returns true. If the ring is full, it
// returns false and leaves the ring unchanged — the caller (typically
// interrupt-context code) must silently drop x.
func (r *Ring[T]) Send(x T) (ok bool) {
	tx := r.tx.Load()
	rx := r.rx.Load()
	if tx-rx == r.cap {
		return false
	}
	r.buf[tx%r.cap] = x
	r.tx.Store(tx + 1)
	return true
}

// Recv dequeues the oldest element. ok is false if the ring is empty.
func (r *Ring[T]) Recv() (x T, ok bool) {
	rx := r.rx.Load()
	tx := r.tx.Load()
	if rx == tx {
		return x, false
	}
	x = r.buf[rx%r.cap]
	r.rx.Store(rx + 1)
	return x, true
}

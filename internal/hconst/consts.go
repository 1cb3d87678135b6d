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

// Package hconst holds the compile-time constants shared across the
// pipeline's packages (spec.md §6).
package hconst

const (
	// PageSize is the base page size.
	PageSize = 4096
	// HPageSize is the huge-page migration granularity.
	HPageSize = 2 * 1024 * 1024
	// HPagePages is the number of base pages inside one huge page.
	HPagePages = HPageSize / PageSize

	// CPUIdentification is the CPU the Identification context runs on.
	CPUIdentification = 0
	// CPUMigrationUnbound means the scheduler picks a CPU not carrying
	// Collection for the Migration context.
	CPUMigrationUnbound = -1

	// IdentificationPeriod is how many successful ring pushes Collection
	// makes before scheduling Identification.
	IdentificationPeriod = 1024
	// MigrationPeriod is how many promotion/demotion sends Identification
	// makes before scheduling Migration.
	MigrationPeriod = 128
	// DrainReportPeriod is how many samples Identification drains before
	// logging a progress line.
	DrainReportPeriod = 4096
	// BatchSize bounds one random-candidate refill request.
	BatchSize = 64
	// ThrottleMBPS is the default migration bandwidth cap.
	ThrottleMBPS = 128

	// MPOLMFMoveAll matches MPOL_MF_MOVE_ALL.
	MPOLMFMoveAll = 4
	// NumaNoNode matches NUMA_NO_NODE.
	NumaNoNode = -1

	// SignificanceRatio is declared in the upstream agent but unused in
	// the surviving revision — carried here only so a reader can see it
	// was considered and explicitly not wired into any decision (see
	// spec.md's Open Question in §9).
	SignificanceRatio = 3

	// ChannelCapacityDefault is the default SPSC ring capacity.
	ChannelCapacityDefault = 1024

	// ThrottleRearmDelay is how long Migration waits before re-arming
	// itself after exceeding THROTTLE_MBPS (spec's "200 jiffies", taken
	// here at a 250Hz tick rate).
	ThrottleRearmDelay = 800000000 // nanoseconds; callers convert with time.Duration
)

// HPageKey returns the 2 MiB-aligned huge page key for a virtual address.
func HPageKey(va uint64) uint64 {
	return va &^ uint64(HPageSize-1)
}

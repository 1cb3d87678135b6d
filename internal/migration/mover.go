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

// Package migration implements the Migration context (spec.md §4.6): a
// deferrable workqueue analog that drains promotion/demotion candidates and
// issues throttled move_pages(2) batches.
package migration

// PageMover abstracts move_pages(2) so the Migration context can be driven
// by a mock in tests instead of a live kernel and process.
type PageMover interface {
	// StatPages returns the current NUMA node of each page, or a negative
	// status for an error (matching move_pages with nodes=nil).
	StatPages(pid int, pages []uintptr) ([]int, error)
	// MovePages migrates each page to its corresponding node and returns
	// the resulting status of each page (matching move_pages with nodes
	// set).
	MovePages(pid int, pages []uintptr, nodes []int) ([]int, error)
}

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

package migrator

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/intel/hagent/internal/collection"
	"github.com/intel/hagent/internal/numa"
	"github.com/intel/hagent/internal/sdh"
)

var errSourceOpenFailed = errors.New("mock: source open failed")

type idleSource struct{ closed chan struct{} }

func newIdleSource() *idleSource { return &idleSource{closed: make(chan struct{})} }

func (s *idleSource) Next() (collection.RawEvent, bool) {
	<-s.closed
	return collection.RawEvent{}, false
}

func (s *idleSource) Close() error {
	close(s.closed)
	return nil
}

type noopMover struct{}

func (noopMover) StatPages(pid int, pages []uintptr) ([]int, error) { return make([]int, len(pages)), nil }
func (noopMover) MovePages(pid int, pages []uintptr, nodes []int) ([]int, error) {
	return append([]int{}, nodes...), nil
}

type noopSampler struct{}

func (noopSampler) SampleResident(pid int, n int) ([]uint64, error) { return nil, nil }

func fixtureTopology(t *testing.T) *numa.Topology {
	root := t.TempDir()
	for _, node := range []int{0, 1} {
		dir := filepath.Join(root, "node"+strconv.Itoa(node))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		content := "Node 0 MemTotal:       10000000 kB\nNode 0 MemFree:        5000000 kB\n"
		if err := os.WriteFile(filepath.Join(dir, "meminfo"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return numa.New(0).WithRoot(root)
}

func TestNewBuildsPipelineAndCloseTearsDownCleanly(t *testing.T) {
	m, err := New(Config{
		Pid:  os.Getpid(),
		CPUs: []int{0, 1},
		Topo: fixtureTopology(t),
		Mover: noopMover{},
		Sampler: noopSampler{},
		OpenSource: func(cpu int) (collection.Source, error) {
			return newIdleSource(), nil
		},
		Sketch:          sdh.Config{W: 64, D: 3, K: 8},
		ChannelCapacity: 64,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewPropagatesSourceOpenFailure(t *testing.T) {
	calls := 0
	_, err := New(Config{
		Pid:     os.Getpid(),
		CPUs:    []int{0, 1, 2},
		Topo:    fixtureTopology(t),
		Mover:   noopMover{},
		Sampler: noopSampler{},
		OpenSource: func(cpu int) (collection.Source, error) {
			calls++
			if cpu == 1 {
				return nil, errSourceOpenFailed
			}
			return newIdleSource(), nil
		},
		Sketch: sdh.Config{W: 64, D: 3, K: 8},
	})
	if err == nil {
		t.Fatalf("expected New to propagate the second CPU's source-open failure")
	}
}

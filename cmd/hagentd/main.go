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

// Command hagentd runs the heterogeneous-memory tiering agent as a
// standalone daemon: given a pid with -pid that the Tracker's vsize policy
// accepts, it builds the Collection/Identification/Migration pipeline and
// lets it run until interrupted.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/intel/hagent/internal/collection"
	"github.com/intel/hagent/internal/hconfig"
	"github.com/intel/hagent/internal/hlog"
	"github.com/intel/hagent/internal/hmetrics"
	"github.com/intel/hagent/internal/migration"
	"github.com/intel/hagent/internal/migrator"
	"github.com/intel/hagent/internal/numa"
	"github.com/intel/hagent/internal/sdh"
	"github.com/intel/hagent/internal/tracker"
)

func hconfigSketch(cfg hconfig.Config) sdh.Config {
	return sdh.Config{W: cfg.SDH.W, D: cfg.SDH.D, K: cfg.SDH.K}
}

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "hagentd: "+format+"\n", a...)
	os.Exit(1)
}

func main() {
	optConfig := flag.String("config", "", "path to the YAML configuration file")
	optConfigDump := flag.Bool("config-dump", false, "print the effective configuration as YAML and exit")
	optPid := flag.Int("pid", 0, "pid to offer the tracker at startup; tracked only if its vsize exceeds one-third of RAM")
	optDebug := flag.Bool("debug", false, "print debug output")
	flag.Parse()

	hlog.SetOutput(log.New(os.Stderr, "", log.LstdFlags))
	hlog.SetDebug(*optDebug)

	cfg := hconfig.Default()
	if *optConfig != "" {
		loaded, err := hconfig.Load(*optConfig)
		if err != nil {
			exit("%s", err)
		}
		cfg = loaded
	}

	if *optConfigDump {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			exit("%s", err)
		}
		fmt.Print(string(out))
		return
	}

	topo := numa.New(cfg.DRAMNode)
	if cfg.SlowTierNode >= 0 {
		topo.SlowTierNode = cfg.SlowTierNode
	}
	topo.MinFreeRatio = 0.05

	mover := migration.NewSyscallMover()
	sampler := migration.NewMmapSampler(1)

	spawn := func(pid int) (tracker.Migrator, error) {
		return migrator.New(migrator.Config{
			Pid:  pid,
			Topo: topo,
			OpenSource: func(cpu int) (collection.Source, error) {
				return collection.OpenPerfSource(cpu, collection.EventConfig{
					Config:    cfg.Collection.EventConfig,
					Threshold: cfg.Collection.EventThreshold,
					Period:    cfg.Collection.EventPeriod,
				})
			},
			Mover:           mover,
			Sampler:         sampler,
			Sketch:          hconfigSketch(cfg),
			ChannelCapacity: cfg.ChannelCapacity,
			ThrottleMBPS:    cfg.Migration.ThrottleMBPS,
			Metrics:         hmetrics.New(),
			DumpTopK:        cfg.DumpTopK,
		})
	}

	totalRAM, err := numa.SystemMemTotal()
	if err != nil {
		exit("%s", err)
	}
	trk := tracker.New(totalRAM, spawn)

	if *optPid != 0 {
		if err := trk.Track(*optPid); err != nil {
			exit("failed to track pid %d: %s", *optPid, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	hlog.L.Infof("hagentd: shutting down")
	if pid, ok := trk.Tracked(); ok {
		if err := trk.Untrack(pid); err != nil {
			hlog.L.Errorf("hagentd: error during shutdown: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond) // let the final log lines flush
}

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

// Package hconfig loads the daemon's YAML configuration file, mirroring
// the module-parameter surface spec.md §6 describes as compile-time
// constants in the original agent.
package hconfig

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/intel/hagent/internal/hconst"
)

// SDHConfig configures the streaming top-K sketch.
type SDHConfig struct {
	W int `yaml:"w"`
	D int `yaml:"d"`
	K int `yaml:"k"`
}

// CollectionConfig configures every Collection context's PMU counter.
type CollectionConfig struct {
	EventConfig    uint64 `yaml:"eventConfig"`
	EventThreshold uint64 `yaml:"eventThreshold"`
	EventPeriod    uint64 `yaml:"eventPeriod"`
}

// MigrationConfig configures the Migration context's throttle.
type MigrationConfig struct {
	ThrottleMBPS int `yaml:"throttleMBPS"`
}

// Config is the daemon's full YAML configuration.
type Config struct {
	DRAMNode        int              `yaml:"dramNode"`
	SlowTierNode    int              `yaml:"slowTierNode"`
	ChannelCapacity int              `yaml:"channelCapacity"`
	DumpTopK        bool             `yaml:"dumpTopK"`
	SDH             SDHConfig        `yaml:"sdh"`
	Collection      CollectionConfig `yaml:"collection"`
	Migration       MigrationConfig  `yaml:"migration"`
}

// Default returns a Config populated with the same defaults the original
// agent compiled in as constants.
func Default() Config {
	return Config{
		SlowTierNode:    -1, // resolved to DRAMNode+1 by the caller when unset
		ChannelCapacity: hconst.ChannelCapacityDefault,
		SDH:             SDHConfig{W: 2048, D: 4, K: 64},
		Collection: CollectionConfig{
			EventThreshold: 4,
			EventPeriod:    503,
		},
		Migration: MigrationConfig{ThrottleMBPS: hconst.ThrottleMBPS},
	}
}

// Load reads and parses a YAML config file. Fields the file omits keep
// Default's values; ChannelCapacity, the SDH dimensions and ThrottleMBPS
// also fall back to their defaults when set to zero or below, and a
// negative SlowTierNode resolves to DRAMNode+1. The collection event fields
// are taken as written, zero included.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = hconst.ChannelCapacityDefault
	}
	if cfg.SDH.W <= 0 || cfg.SDH.D <= 0 || cfg.SDH.K <= 0 {
		d := Default()
		if cfg.SDH.W <= 0 {
			cfg.SDH.W = d.SDH.W
		}
		if cfg.SDH.D <= 0 {
			cfg.SDH.D = d.SDH.D
		}
		if cfg.SDH.K <= 0 {
			cfg.SDH.K = d.SDH.K
		}
	}
	if cfg.Migration.ThrottleMBPS <= 0 {
		cfg.Migration.ThrottleMBPS = hconst.ThrottleMBPS
	}
	if cfg.SlowTierNode < 0 {
		cfg.SlowTierNode = cfg.DRAMNode + 1
	}
	return cfg, nil
}

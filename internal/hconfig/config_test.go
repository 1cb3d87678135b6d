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

package hconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hagent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "dramNode: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SDH.K != Default().SDH.K {
		t.Fatalf("expected default K, got %d", cfg.SDH.K)
	}
	if cfg.SlowTierNode != 1 {
		t.Fatalf("expected slow tier to default to dramNode+1, got %d", cfg.SlowTierNode)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, "dramNode: 0\nslowTierNode: 3\nmigration:\n  throttleMBPS: 64\nsdh:\n  w: 512\n  d: 2\n  k: 16\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SlowTierNode != 3 {
		t.Fatalf("slowTierNode = %d, want 3", cfg.SlowTierNode)
	}
	if cfg.Migration.ThrottleMBPS != 64 {
		t.Fatalf("throttleMBPS = %d, want 64", cfg.Migration.ThrottleMBPS)
	}
	if cfg.SDH.W != 512 || cfg.SDH.D != 2 || cfg.SDH.K != 16 {
		t.Fatalf("unexpected sdh config %+v", cfg.SDH)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error loading a missing config file")
	}
}

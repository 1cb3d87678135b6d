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

// Package procmem reads the /proc introspection a guest-resident agent
// would otherwise get from the kernel's own task_struct/mm_struct: a
// process's virtual memory size and its mapped address ranges.
package procmem

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Range is a half-open [Start, End) virtual address range, in bytes.
type Range struct {
	Start uint64
	End   uint64
}

// Contains reports whether va falls within the range.
func (r Range) Contains(va uint64) bool {
	return va >= r.Start && va < r.End
}

// VSize returns the virtual memory size of pid, in bytes, read from
// /proc/<pid>/statm (first field, in pages).
func VSize(pid int) (uint64, error) {
	path := "/proc/" + strconv.Itoa(pid) + "/statm"
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.Errorf("%s: unexpected empty content", path)
	}
	pages, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse vsize pages in %s", path)
	}
	return pages * uint64(os.Getpagesize()), nil
}

// MmapRanges returns the mapped virtual address ranges of pid, parsed from
// /proc/<pid>/maps.
func MmapRanges(pid int) ([]Range, error) {
	path := "/proc/" + strconv.Itoa(pid) + "/maps"
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var ranges []Range
	for _, line := range strings.Split(string(data), "\n") {
		// Example: 55d74cf13000-55d74cf14000 rw-p 00003000 fe:03 1194719 /usr/bin/foo
		dash := strings.IndexByte(line, '-')
		space := strings.IndexByte(line, ' ')
		if dash <= 0 || space <= dash {
			continue
		}
		start, err := strconv.ParseUint(line[:dash], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(line[dash+1:space], 16, 64)
		if err != nil || end < start {
			continue
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges, nil
}

// InAnyRange reports whether va lies inside one of ranges. Collection uses
// this to filter PMU samples whose address escaped the tracked process's
// mmap footprint (spec's "invalid sample" discard).
func InAnyRange(ranges []Range, va uint64) bool {
	for _, r := range ranges {
		if r.Contains(va) {
			return true
		}
	}
	return false
}

// Exists reports whether pid currently names a live process.
func Exists(pid int) bool {
	_, err := os.Stat("/proc/" + strconv.Itoa(pid))
	return err == nil
}

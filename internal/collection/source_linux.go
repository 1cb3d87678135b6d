//go:build linux
// +build linux

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

package collection

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/hagent/internal/hlog"
)

// Bit positions within perf_event_attr.sample_type that this agent asks
// for: thread id, data address, and the PMU's per-sample weight/latency
// value. golang.org/x/sys/unix does not name these (they're a C bitfield),
// so they're reproduced here from linux/perf_event.h.
const (
	sampleTID    = 1 << 1
	sampleAddr   = 1 << 3
	sampleWeight = 1 << 14

	recordSample = 9 // PERF_RECORD_SAMPLE

	precisionZeroSkid = 3 // precise_ip = 3, requested in the attr.Bits bitfield below

	// Bit offsets of the perf_event_attr bitfield this struct's Bits
	// field packs, in declaration order from linux/perf_event.h.
	bitExcludeKernel           = 1 << 5
	bitExcludeHV               = 1 << 6
	bitExcludeIdle             = 1 << 7
	bitPreciseIPShift         = 15 // 2-bit field
	bitExcludeCallchainKernel = 1 << 21
)

// PerfSource opens a raw PMU counter on one CPU via perf_event_open(2) and
// turns its mmap ring buffer into a channel of RawEvents. It is the
// production Source; tests use mockSource instead.
type PerfSource struct {
	fd   int
	ring []byte
	once sync.Once

	closed atomic.Bool
	events chan RawEvent
	done   chan struct{}
}

// OpenPerfSource opens a counter pinned to cpu with the given raw event
// encoding, per spec.md §4.4: type=raw, config1=threshold,
// sample_period=period, sample_type includes TID/ADDR/WEIGHT, excluding
// kernel/HV/idle and callchain-kernel, zero-skid IP.
func OpenPerfSource(cpu int, cfg EventConfig) (*PerfSource, error) {
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_RAW,
		Config:      cfg.Config,
		Sample:      cfg.Period, // union with sample_freq; we set a fixed period
		Sample_type: sampleTID | sampleAddr | sampleWeight,
		Bits: uint64(bitExcludeKernel|bitExcludeHV|bitExcludeIdle|bitExcludeCallchainKernel) |
			uint64(precisionZeroSkid)<<bitPreciseIPShift,
		Ext1:   cfg.Threshold, // config1
		Wakeup: 1,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "perf_event_open(cpu=%d)", cpu)
	}

	const ringPages = 1 + 8 // 1 header page + 8 data pages
	ring, err := unix.Mmap(fd, 0, ringPages*unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "mmap perf ring (cpu=%d)", cpu)
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.PERF_EVENT_IOC_ENABLE, 0); errno != 0 {
		unix.Munmap(ring)
		unix.Close(fd)
		return nil, errors.Wrapf(errno, "PERF_EVENT_IOC_ENABLE (cpu=%d)", cpu)
	}

	s := &PerfSource{
		fd:     fd,
		ring:   ring,
		events: make(chan RawEvent, 4096),
		done:   make(chan struct{}),
	}
	go s.poll(cpu)
	return s, nil
}

// poll pins itself to cpu (the Go analog of running in that CPU's hard-IRQ
// context) and drains the mmap ring into s.events until Close is called.
func (s *PerfSource) poll(cpu int) {
	// Keep this goroutine on one OS thread so the affinity below applies to
	// it; the thread is discarded when the goroutine exits.
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		// Best effort: an agent running inside a constrained guest may
		// not be allowed to repin itself. Sampling still works, just
		// without the CPU-locality guarantee the kernel gives the real
		// overflow handler for free.
	}

	pageSize := unix.Getpagesize()
	header := (*perfEventMmapPage)(unsafe.Pointer(&s.ring[0]))
	data := s.ring[pageSize:]
	dataSize := uint64(len(data))

	pollFds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-s.done:
			return
		default:
		}

		head := atomic.LoadUint64(&header.dataHead)
		tail := header.dataTail
		if head == tail {
			// Block until the PMU posts more samples or the fd closes,
			// instead of spinning the CPU waiting for dataHead to move.
			// A bounded timeout keeps the done-channel check above live.
			if _, err := unix.Poll(pollFds, 100); err != nil && err != unix.EINTR {
				hlog.L.Errorf("collection: poll(cpu=%d) failed: %v", cpu, err)
			}
			continue
		}

		for tail != head {
			off := tail % dataSize
			evType := binary.LittleEndian.Uint32(data[off:])
			size := uint64(binary.LittleEndian.Uint16(data[off+6:]))
			if evType == recordSample {
				if ev, ok := parseSample(data, off+8, dataSize); ok {
					select {
					case s.events <- ev:
					default: // ring-to-channel handoff drops like any other overrun
					}
				}
			}
			tail += size
		}
		atomic.StoreUint64(&header.dataTail, tail)
	}
}

// parseSample decodes the TID/ADDR/WEIGHT fields of one PERF_RECORD_SAMPLE,
// wrapping around the ring at dataSize.
func parseSample(data []byte, off, dataSize uint64) (RawEvent, bool) {
	read8 := func() uint64 {
		var buf [8]byte
		for i := range buf {
			buf[i] = data[(off)%dataSize]
			off++
		}
		return binary.LittleEndian.Uint64(buf[:])
	}
	_ = read8() // pid/tid pair, not needed by Collection's own bookkeeping
	va := read8()
	weight := read8()
	return RawEvent{VA: va, Weight: weight}, true
}

// perfEventMmapPage mirrors the kernel's struct perf_event_mmap_page header,
// truncated to the fields Collection reads.
type perfEventMmapPage struct {
	version     uint32
	compatVer   uint32
	lock        uint32
	index       uint32
	offset      int64
	timeEnabled uint64
	timeRunning uint64
	_           [984]byte // capabilities .. __reserved; data_head sits at offset 1024
	dataHead    uint64
	dataTail    uint64
}

// Next blocks until an overflow event is available or the source closes.
func (s *PerfSource) Next() (RawEvent, bool) {
	ev, ok := <-s.events
	return ev, ok
}

// Close disables and releases the counter. The kernel guarantees the
// overflow handler will not fire again once this returns.
func (s *PerfSource) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), unix.PERF_EVENT_IOC_DISABLE, 0)
		if errno != 0 {
			err = errno
		}
		unix.Munmap(s.ring)
		unix.Close(s.fd)
		close(s.events)
	})
	return err
}

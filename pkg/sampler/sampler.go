//go:build linux

// Package sampler runs the high-rate (default ~100 Hz) tick that records
// each tracked task's CPU-socket residency and per-NUMA-node private
// memory. It runs on a dedicated, OS-thread-locked goroutine so its kernel
// tid is stable and can itself be tracked as a target (the tracer's own
// memory sampling overhead).
package sampler

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/ja7ad/energat/pkg/numamem"
	"github.com/ja7ad/energat/pkg/procfs"
	"github.com/ja7ad/energat/pkg/status"
	"golang.org/x/sys/unix"
)

// Sampler ticks every Period, appending one residency/memory sample for
// every task tracked in Store.
type Sampler struct {
	Period      time.Duration
	Sockets     int
	Core2Socket map[int]int
	NUMA        *numamem.Reader
	Store       *status.Store

	ready chan struct{}
	tid   int
}

// New returns a Sampler ready to Run.
func New(period time.Duration, sockets int, core2socket map[int]int, numa *numamem.Reader, store *status.Store) *Sampler {
	return &Sampler{
		Period:      period,
		Sockets:     sockets,
		Core2Socket: core2socket,
		NUMA:        numa,
		Store:       store,
		ready:       make(chan struct{}),
	}
}

// WaitTID blocks until Run has started and reports the sampler's kernel tid,
// or until ctx is done (in which case it returns 0).
func (s *Sampler) WaitTID(ctx context.Context) int {
	select {
	case <-s.ready:
		return s.tid
	case <-ctx.Done():
		return 0
	}
}

// Run locks the calling goroutine to its OS thread (so its tid is stable
// and reportable via WaitTID), then samples every Period until ctx is done.
// It never blocks on anything but its own ticker and the status lock.
func (s *Sampler) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.tid = unix.Gettid()
	close(s.ready)

	ticker := time.NewTicker(s.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sampler) tick() {
	serverMem, err := s.NUMA.SystemMemoryMiB(numamem.MemUsed, s.Sockets)
	if err != nil {
		slog.Warn("sampler: system numa memory read failed", "err", err)
		return
	}

	s.Store.Lock()
	defer s.Store.Unlock()

	for socket := 0; socket < s.Sockets; socket++ {
		s.Store.ServerNumaMemSamples[socket] = append(s.Store.ServerNumaMemSamples[socket], serverMem[socket])
	}

	var disappeared []int
	for id, st := range s.Store.Targets {
		core := procfs.CurrentCore(st.Task.GroupPID, st.Task.ID)
		if core < 0 {
			disappeared = append(disappeared, id)
			continue
		}
		socket, ok := s.Core2Socket[core]
		if !ok {
			continue
		}
		st.SocketResidenceCounts[socket]++

		mem := s.NUMA.PrivateMemoryMiB(st.Task.GroupPID, s.Sockets)
		for i := 0; i < s.Sockets; i++ {
			st.NumaMemSamples[i] = append(st.NumaMemSamples[i], mem[i])
		}
	}
	for _, id := range disappeared {
		slog.Warn("sampler: task vanished between samples", "task_id", id)
		delete(s.Store.Targets, id)
	}
}

//go:build linux

// Package status holds the per-target-task state that lives for one RAPL
// interval: each tracked task's CPU-time delta, per-socket residency
// histogram, and per-socket memory samples. The store is shared between the
// high-rate sampler (which mutates it on every tick) and the attribution
// engine (which snapshots and empties it once per interval), guarded by a
// single lock held for the duration of each sampler tick and of ascription.
package status

import (
	"log/slog"
	"sync"

	"github.com/ja7ad/energat/pkg/procfs"
	"github.com/ja7ad/energat/pkg/target"
)

// TargetStatus is one tracked task's accumulated state for the current
// interval.
type TargetStatus struct {
	Task Task

	LastCPUTimeSec  float64
	CPUTimeDeltaSec float64

	SocketResidenceCounts []int
	NumaMemSamples        [][]float64 // [socket][sample]
}

// Task is a thin alias kept local to status so callers don't need to import
// pkg/target just to build one.
type Task = target.Task

func newTargetStatus(t Task, sockets int) *TargetStatus {
	return &TargetStatus{
		Task:                  t,
		LastCPUTimeSec:        procfs.TaskCPUTimeSec(t.GroupPID, t.ID),
		SocketResidenceCounts: make([]int, sockets),
		NumaMemSamples:        make([][]float64, sockets),
	}
}

// RecordCPUTime re-reads the task's CPU time and updates its delta against
// the value recorded at the start of the interval. It returns false if the
// task has disappeared, in which case the caller should drop the status.
func (s *TargetStatus) RecordCPUTime() bool {
	if !procfs.TaskExists(s.Task.GroupPID, s.Task.ID) {
		return false
	}
	cur := procfs.TaskCPUTimeSec(s.Task.GroupPID, s.Task.ID)
	delta := cur - s.LastCPUTimeSec
	if delta < 0 {
		slog.Warn("status: negative cpu time delta, clamping to 0", "task_id", s.Task.ID, "delta", delta)
		delta = 0
	}
	s.CPUTimeDeltaSec = delta
	s.LastCPUTimeSec = cur
	return true
}

// ResidenceProbs normalizes SocketResidenceCounts into probabilities. A
// single-socket server always returns [1.0]. A socket with zero ticks gets
// probability 0.0, never NaN, even for a task that only lived briefly; a
// task with no ticks at all is skipped by the engine's ascription.
func (s *TargetStatus) ResidenceProbs() []float64 {
	if len(s.SocketResidenceCounts) <= 1 {
		return []float64{1.0}
	}

	var total int
	for _, c := range s.SocketResidenceCounts {
		total += c
	}
	probs := make([]float64, len(s.SocketResidenceCounts))
	if total == 0 {
		return probs
	}
	for i, c := range s.SocketResidenceCounts {
		probs[i] = float64(c) / float64(total)
	}
	return probs
}

// Store is the shared, lock-guarded per-target status map plus the
// server-wide NUMA memory samples taken alongside it. It is owned by the
// attribution engine; the sampler only ever mutates it while holding the
// lock.
type Store struct {
	mu sync.Mutex

	Sockets              int
	Targets              map[int]*TargetStatus
	ServerNumaMemSamples [][]float64 // [socket][sample]
}

// NewStore returns an empty store sized for the given socket count.
func NewStore(sockets int) *Store {
	return &Store{
		Sockets:              sockets,
		Targets:              map[int]*TargetStatus{},
		ServerNumaMemSamples: make([][]float64, sockets),
	}
}

// Lock acquires the status lock. Callers of Lock/Unlock are expected to
// range over Targets/ServerNumaMemSamples directly while held, matching the
// "hold the lock for the duration of the tick/ascription" requirement.
func (st *Store) Lock() { st.mu.Lock() }

// Unlock releases the status lock.
func (st *Store) Unlock() { st.mu.Unlock() }

// Reset wholesale-replaces the tracked set with a fresh TargetStatus per
// live task and clears the server memory sample buffers, for the next
// interval. Tasks that have already vanished by the time Reset runs are
// silently skipped rather than seeded with a zeroed status.
func (st *Store) Reset(tasks []target.Task) {
	st.mu.Lock()
	defer st.mu.Unlock()

	fresh := make(map[int]*TargetStatus, len(tasks))
	for _, t := range tasks {
		if !procfs.TaskExists(t.GroupPID, t.ID) {
			continue
		}
		fresh[t.ID] = newTargetStatus(t, st.Sockets)
	}
	st.Targets = fresh
	st.ServerNumaMemSamples = make([][]float64, st.Sockets)
}

// RecordCPUTimes calls RecordCPUTime on every tracked status, dropping (and
// returning the ids of) any task that has disappeared since the interval
// began.
func (st *Store) RecordCPUTimes() []int {
	st.mu.Lock()
	defer st.mu.Unlock()

	var removed []int
	for id, s := range st.Targets {
		if !s.RecordCPUTime() {
			removed = append(removed, id)
			delete(st.Targets, id)
		}
	}
	return removed
}

//go:build linux

// Package target discovers and classifies the live task set rooted at a
// target pid: single-threaded descendants are tracked as whole processes,
// multi-threaded descendants are tracked per kernel thread id, and the
// tracer's own process and sampler thread are always folded in so their
// overhead is accounted for separately (spec §4.2).
package target

import (
	"fmt"
	"log/slog"

	"github.com/ja7ad/energat/pkg/procfs"
)

// Kind distinguishes a tracked task that is a whole single-threaded process
// from one that is a single thread of a multi-threaded process. Replaces
// the original tracer's two parallel id sets (process ids, thread ids) with
// one tagged variant, so dedup-by-owning-process is by construction rather
// than by convention.
type Kind int

const (
	// Process is a single-threaded process, tracked whole; Task.ID is its
	// pid and Task.GroupPID equals Task.ID.
	Process Kind = iota
	// Thread is one kernel thread of a process with more than one thread;
	// Task.ID is its tid and Task.GroupPID is its owning process's pid.
	Thread
)

// Task identifies one tracked OS task, process or thread.
type Task struct {
	ID       int
	Kind     Kind
	GroupPID int
}

// TaskSet is the outcome of one discovery pass: every task currently
// tracked, process and thread alike.
type TaskSet struct {
	Tasks []Task
}

// Manager owns discovery of the live task set rooted at a target pid. It is
// not safe for concurrent use; the attribution engine calls Discover once
// per interval from its single loop goroutine.
type Manager struct {
	rootPID    int
	tracerPID  int
	samplerTID int

	prevProcesses map[int]struct{}
	prevThreads   map[int]struct{}

	groupOf map[int]int // thread tid -> owning process pid, rebuilt each Discover
}

// NewManager returns a Manager rooted at rootPID. tracerPID and samplerTID
// are folded into every discovered set so the tracer's own CPU/memory
// footprint is trackable (and separately ascribable) from the first
// interval, including in attach mode where they may not be descendants of
// rootPID at all.
func NewManager(rootPID, tracerPID, samplerTID int) *Manager {
	return &Manager{
		rootPID:    rootPID,
		tracerPID:  tracerPID,
		samplerTID: samplerTID,
	}
}

// Discover walks the descendant tree of the root pid and returns the
// current task set plus whether any non-tracer task is still alive.
//
// If the root pid no longer exists at all, it returns (zero value, false,
// nil): a plain exit is not an error, just the end of the trace. If the
// root pid exists but is a zombie or otherwise dead, it returns a non-nil
// error (ErrGone) - the original distinguishes these two cases the same
// way, treating outright disappearance as unremarkable and zombie/dead as
// a state the target should never legitimately be in at discovery time.
func (m *Manager) Discover() (TaskSet, bool, error) {
	if !procfs.Exists(m.rootPID) {
		slog.Warn("target: root pid has exited", "pid", m.rootPID)
		return TaskSet{}, false, nil
	}

	if state, err := procfs.State(m.rootPID); err == nil && isInadmissible(state) {
		return TaskSet{}, false, fmt.Errorf("target: root pid %d state %q: %w", m.rootPID, state, ErrGone)
	}

	processes := map[int]struct{}{}
	threads := map[int]struct{}{}
	m.groupOf = map[int]int{}

	m.classify(m.rootPID, processes, threads)
	for _, pid := range m.descendants(m.rootPID) {
		m.classify(pid, processes, threads)
	}

	// Always track the tracer process and its sampler thread explicitly,
	// in case they are not descendants of the root (attach mode). A sampler
	// tid already tracked as a process is not added again as a thread.
	processes[m.tracerPID] = struct{}{}
	if _, isProc := processes[m.samplerTID]; !isProc {
		threads[m.samplerTID] = struct{}{}
		m.groupOf[m.samplerTID] = m.tracerPID
	}

	m.logDiff(processes, threads)
	m.prevProcesses, m.prevThreads = processes, threads

	tasks := make([]Task, 0, len(processes)+len(threads))
	for pid := range processes {
		tasks = append(tasks, Task{ID: pid, Kind: Process, GroupPID: pid})
	}
	for tid := range threads {
		tasks = append(tasks, Task{ID: tid, Kind: Thread, GroupPID: m.groupOf[tid]})
	}

	alive := m.hasNonTracerTask(processes, threads)
	if !alive {
		slog.Warn("target: no active targets found")
	}
	return TaskSet{Tasks: tasks}, alive, nil
}

// classify adds pid to processes (single-threaded) or all of its current
// thread ids to threads (multi-threaded), skipping pids that have gone
// zombie/dead between the tree walk and this check.
func (m *Manager) classify(pid int, processes, threads map[int]struct{}) {
	if state, err := procfs.State(pid); err == nil && isInadmissible(state) {
		slog.Warn("target: descendant in inadmissible state, skipping", "pid", pid, "state", string(state))
		return
	}

	n, err := procfs.NumThreads(pid)
	if err != nil {
		slog.Warn("target: pid has gone", "pid", pid)
		return
	}

	if n > 1 {
		tids, err := procfs.ThreadIDs(pid)
		if err != nil {
			slog.Warn("target: pid has gone", "pid", pid)
			return
		}
		for _, tid := range tids {
			threads[tid] = struct{}{}
			m.groupOf[tid] = pid
		}
		return
	}
	processes[pid] = struct{}{}
}

// descendants returns every pid in root's descendant tree, recursively,
// via repeated /proc/<pid>/task/*/children expansion (which itself is only
// one generation deep).
func (m *Manager) descendants(root int) []int {
	var out []int
	frontier := []int{root}
	seen := map[int]struct{}{root: {}}
	for len(frontier) > 0 {
		var next []int
		for _, pid := range frontier {
			children, err := procfs.Children(pid)
			if err != nil {
				continue
			}
			for _, c := range children {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				out = append(out, c)
				next = append(next, c)
			}
		}
		frontier = next
	}
	return out
}

func isInadmissible(state byte) bool {
	switch state {
	case 'Z', 'X', 'x':
		return true
	default:
		return false
	}
}

// logDiff logs additions/removals against the previous discovery pass,
// suppressing the tracer's own ids from the removed-task noise.
func (m *Manager) logDiff(processes, threads map[int]struct{}) {
	for pid := range processes {
		if _, ok := m.prevProcesses[pid]; !ok {
			slog.Info("target: added process", "pid", pid)
		}
	}
	for pid := range m.prevProcesses {
		if _, ok := processes[pid]; !ok && pid != m.tracerPID {
			slog.Info("target: removed process", "pid", pid)
		}
	}
	for tid := range threads {
		if _, ok := m.prevThreads[tid]; !ok {
			slog.Info("target: added thread", "tid", tid)
		}
	}
	for tid := range m.prevThreads {
		if _, ok := threads[tid]; !ok && tid != m.samplerTID {
			slog.Info("target: removed thread", "tid", tid)
		}
	}
}

func (m *Manager) hasNonTracerTask(processes, threads map[int]struct{}) bool {
	for pid := range processes {
		if pid != m.tracerPID {
			return true
		}
	}
	for tid := range threads {
		if tid != m.samplerTID {
			return true
		}
	}
	return false
}

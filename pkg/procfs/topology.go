//go:build linux

// Package procfs is the platform probe for core↔socket topology, per-task
// and per-socket CPU time, and process/thread liveness. It combines the
// prometheus/procfs client for system-wide CPU accounting with direct sysfs
// and /proc reads for the per-task and per-core facts procfs doesn't expose.
package procfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const sysCPUDir = "/sys/devices/system/cpu"

// ClockTicks returns the number of jiffies (clock ticks) per second, used to
// convert /proc/<pid>/task/<tid>/stat's utime/stime into seconds. It honors
// a CLK_TCK environment override (for hermetic tests), then falls back to
// the real sysconf(_SC_CLK_TCK) value, and finally to the common default of
// 100 if the syscall itself fails.
func ClockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	if v, err := unix.Sysconf(unix.SC_CLK_TCK); err == nil && v > 0 {
		return int(v)
	}
	return 100
}

// PageSize returns the system memory page size in bytes, honoring a
// PAGE_SIZE environment override for tests.
func PageSize() int {
	if v, _ := strconv.Atoi(os.Getenv("PAGE_SIZE")); v > 0 {
		return v
	}
	return os.Getpagesize()
}

// Exists reports whether pid currently has a /proc/<pid> directory.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

// TaskExists reports whether a specific kernel task id (tid) of process pid
// is still alive, by checking its inner-most task stat file directly (the
// same check the original tracer used to decide liveness per-task rather
// than per-process).
func TaskExists(pid, tid int) bool {
	_, err := os.Stat(taskStatPath(pid, tid))
	return err == nil
}

// NumThreads returns the number of kernel threads process pid currently has.
func NumThreads(pid int) (int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ThreadIDs returns every kernel thread id belonging to process pid,
// including its main thread.
func ThreadIDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		if id, err := strconv.Atoi(e.Name()); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// Children returns the direct child PIDs of process pid, deduplicated across
// all of its threads' /proc/<pid>/task/<tid>/children files (kernel 3.5+).
func Children(pid int) ([]int, error) {
	glob := fmt.Sprintf("/proc/%d/task/*/children", pid)
	paths, _ := filepath.Glob(glob)

	set := map[int]struct{}{}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, s := range strings.Fields(string(b)) {
			if id, err := strconv.Atoi(s); err == nil {
				set[id] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil, ErrNoChildren
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out, nil
}

// CoreToSocket derives the core→socket (physical package id) mapping from
// the kernel's per-core topology sysfs exposure. The mapping is considered
// stable for the process's lifetime.
func CoreToSocket() (map[int]int, error) {
	entries, err := os.ReadDir(sysCPUDir)
	if err != nil {
		return nil, fmt.Errorf("procfs: read %s: %w", sysCPUDir, err)
	}

	out := map[int]int{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		core, err := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
		if err != nil {
			continue // e.g. "cpufreq", "cpuidle"
		}
		pkgPath := filepath.Join(sysCPUDir, name, "topology", "physical_package_id")
		b, err := os.ReadFile(pkgPath)
		if err != nil {
			// Offline cores may lack a topology directory; skip them.
			continue
		}
		pkg, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("procfs: parse %s: %w", pkgPath, err)
		}
		out[core] = pkg
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("procfs: no CPU cores discovered under %s", sysCPUDir)
	}
	return out, nil
}

// NumSockets returns the number of distinct sockets in core2socket.
func NumSockets(core2socket map[int]int) int {
	set := map[int]struct{}{}
	for _, s := range core2socket {
		set[s] = struct{}{}
	}
	return len(set)
}

// ServerCPUTimePerSocket returns the summed system+user CPU seconds of every
// core, aggregated per socket, using the per-CPU lines of /proc/stat.
func ServerCPUTimePerSocket(core2socket map[int]int) ([]float64, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("procfs: open default fs: %w", err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("procfs: read /proc/stat: %w", err)
	}
	if len(stat.CPU) == 0 {
		return nil, ErrNoCPU
	}

	sockets := NumSockets(core2socket)
	out := make([]float64, sockets)
	for core, cpuStat := range stat.CPU {
		socket, ok := core2socket[int(core)]
		if !ok {
			continue
		}
		out[socket] += cpuStat.User + cpuStat.System
	}
	return out, nil
}

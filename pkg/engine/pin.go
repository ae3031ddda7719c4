//go:build linux

package engine

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// pinLeastLoaded best-effort pins each of pids to the n least-loaded cores
// (by instantaneous utilization). Failures - missing CAP_SYS_NICE, running
// under a sandboxed CI without cpuset access - are logged at warn and
// otherwise ignored: the platform probe contract never blocks indefinitely
// and pinning is an optimization, not a correctness requirement.
func pinLeastLoaded(pids []int, percents map[int]float64, n int) {
	if len(percents) == 0 || n <= 0 {
		return
	}

	cores := make([]int, 0, len(percents))
	for core := range percents {
		cores = append(cores, core)
	}
	// Simple selection of the n lowest-utilization cores.
	for i := 0; i < len(cores); i++ {
		for j := i + 1; j < len(cores); j++ {
			if percents[cores[j]] < percents[cores[i]] {
				cores[i], cores[j] = cores[j], cores[i]
			}
		}
	}
	if n > len(cores) {
		n = len(cores)
	}
	chosen := cores[:n]

	var set unix.CPUSet
	set.Zero()
	for _, c := range chosen {
		set.Set(c)
	}

	for _, pid := range pids {
		if err := unix.SchedSetaffinity(pid, &set); err != nil {
			slog.Warn("engine: pin failed", "pid", pid, "cores", chosen, "err", err)
			continue
		}
		slog.Info("engine: pinned task", "pid", pid, "cores", chosen)
	}
}

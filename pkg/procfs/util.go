//go:build linux

package procfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

type cpuTimes struct {
	total float64
	idle  float64
}

func readCPUTimes() (map[int]cpuTimes, error) {
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
	out := make(map[int]cpuTimes, len(stat.CPU))
	for core, c := range stat.CPU {
		idle := c.Idle + c.Iowait
		total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
		out[int(core)] = cpuTimes{total: total, idle: idle}
	}
	return out, nil
}

// CPUPercentTracker reports per-core CPU utilization percent since the
// previous call, mirroring psutil.cpu_percent(percpu=True)'s non-blocking,
// stateful semantics: the first call seeds the baseline (and its return
// value is meaningless), every call after that reports the percent busy
// over the elapsed time since the prior call.
type CPUPercentTracker struct {
	mu   sync.Mutex
	last map[int]cpuTimes
}

// NewCPUPercentTracker returns an unseeded tracker.
func NewCPUPercentTracker() *CPUPercentTracker {
	return &CPUPercentTracker{}
}

// CorePercents returns the per-core busy percent since the last call.
func (t *CPUPercentTracker) CorePercents() (map[int]float64, error) {
	now, err := readCPUTimes()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	prev := t.last
	t.last = now
	t.mu.Unlock()

	out := make(map[int]float64, len(now))
	for core, cur := range now {
		before, ok := prev[core]
		if !ok {
			out[core] = 0
			continue
		}
		totalDelta := cur.total - before.total
		idleDelta := cur.idle - before.idle
		if totalDelta <= 0 {
			out[core] = 0
			continue
		}
		out[core] = (1 - idleDelta/totalDelta) * 100
	}
	return out, nil
}

// SocketPercents aggregates CorePercents per socket and divides by
// cores-per-socket, assuming a uniform cores-per-socket topology.
func (t *CPUPercentTracker) SocketPercents(core2socket map[int]int) ([]float64, error) {
	percents, err := t.CorePercents()
	if err != nil {
		return nil, err
	}

	sockets := NumSockets(core2socket)
	coresPerSocket := make([]int, sockets)
	sums := make([]float64, sockets)
	for core, socket := range core2socket {
		coresPerSocket[socket]++
		sums[socket] += percents[core]
	}

	out := make([]float64, sockets)
	for s := range out {
		if coresPerSocket[s] == 0 {
			continue
		}
		out[s] = sums[s] / float64(coresPerSocket[s])
	}
	return out, nil
}

// BlockingSocketPercents seeds the tracker, sleeps for period, then returns
// the per-socket percent measured over that period. Used by the baseline
// estimator, which needs a fixed-duration measurement rather than a
// since-last-call one.
func (t *CPUPercentTracker) BlockingSocketPercents(core2socket map[int]int, period time.Duration) ([]float64, error) {
	if _, err := t.SocketPercents(core2socket); err != nil {
		return nil, err
	}
	time.Sleep(period)
	return t.SocketPercents(core2socket)
}

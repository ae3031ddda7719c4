//go:build linux

package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TaskStat holds the fields of /proc/<pid>/task/<tid>/stat that the
// attribution engine needs: CPU time (for energy ascription) and the core
// the task was last scheduled on (for socket residency).
type TaskStat struct {
	UTime      uint64 // user-mode clock ticks
	STime      uint64 // kernel-mode clock ticks
	NumThreads int
	Processor  int // CPU core the task last ran on
}

func taskStatPath(pid, tid int) string {
	return fmt.Sprintf("/proc/%d/task/%d/stat", pid, tid)
}

// ReadTaskStat parses /proc/<pid>/task/<tid>/stat for a single kernel task.
//
// Unlike a process-level stat read, this is NOT aggregated across a thread
// group: each thread has its own task directory and its own utime/stime.
// The comm field (2nd, in parens) may itself contain spaces or parentheses,
// so we locate the last ") " and parse everything after it positionally,
// same as a whole-process stat read.
func ReadTaskStat(pid, tid int) (TaskStat, error) {
	f, err := os.Open(taskStatPath(pid, tid))
	if err != nil {
		return TaskStat{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)
	if !sc.Scan() {
		return TaskStat{}, ErrNoStat
	}
	line := sc.Text()

	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return TaskStat{}, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])

	get := func(idx int) (uint64, error) {
		if idx >= len(fields) {
			return 0, ErrShortStat
		}
		return strconv.ParseUint(fields[idx], 10, 64)
	}
	getSigned := func(idx int) (int64, error) {
		if idx >= len(fields) {
			return 0, ErrShortStat
		}
		return strconv.ParseInt(fields[idx], 10, 64)
	}

	// Field offsets below are relative to `fields`, where fields[0] is the
	// 3rd column overall (process state) since pid+comm were already
	// stripped off by the ") " split above.
	utime, err := get(11) // overall field 14
	if err != nil {
		return TaskStat{}, err
	}
	stime, err := get(12) // overall field 15
	if err != nil {
		return TaskStat{}, err
	}
	numThreads, err := getSigned(17) // overall field 20
	if err != nil {
		return TaskStat{}, err
	}
	processor, err := getSigned(36) // overall field 39
	if err != nil {
		return TaskStat{}, err
	}

	return TaskStat{
		UTime:      utime,
		STime:      stime,
		NumThreads: int(numThreads),
		Processor:  int(processor),
	}, nil
}

// TaskCPUTimeSec returns the user+kernel CPU time, in seconds, for a
// specific kernel task id. It returns 0 (no error) if the task no longer
// exists, matching the platform probe's never-block, never-retry contract.
func TaskCPUTimeSec(pid, tid int) float64 {
	st, err := ReadTaskStat(pid, tid)
	if err != nil {
		return 0
	}
	ticks := st.UTime + st.STime
	return float64(ticks) / float64(ClockTicks())
}

// CurrentCore returns the CPU core a task was last scheduled on, or -1 if
// the task has since disappeared.
func CurrentCore(pid, tid int) int {
	st, err := ReadTaskStat(pid, tid)
	if err != nil {
		return -1
	}
	return st.Processor
}

package procfs

import "errors"

var (
	// ErrNoStat indicates a /proc/<pid>/task/<tid>/stat file was empty or
	// malformed.
	ErrNoStat = errors.New("procfs: malformed or empty task stat")

	// ErrShortStat indicates the task stat line had fewer fields than expected.
	ErrShortStat = errors.New("procfs: short task stat")

	// ErrNoChildren indicates /proc/<pid>/task/*/children contained no entries.
	ErrNoChildren = errors.New("procfs: no children")

	// ErrNoCPU indicates /proc/stat had no per-CPU lines.
	ErrNoCPU = errors.New("procfs: no per-cpu stat lines")
)

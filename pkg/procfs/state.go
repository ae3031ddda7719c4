//go:build linux

package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// State reads the single-character process state from /proc/<pid>/stat
// ('R' running, 'S' sleeping, 'Z' zombie, 'X'/'x' dead, ...).
func State(pid int) (byte, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, ErrNoStat
	}
	line := sc.Text()
	i := strings.LastIndex(line, ") ")
	if i < 0 || i+2 >= len(line) {
		return 0, ErrNoStat
	}
	return line[i+2], nil
}

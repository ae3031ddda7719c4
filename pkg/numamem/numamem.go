//go:build linux

// Package numamem is the platform probe for NUMA-node memory: system-wide
// per-node usage and a process's private per-node resident memory. It reads
// the sysfs node tree directly (/sys/devices/system/node/node<N>/meminfo and
// /proc/<pid>/numa_maps), the alternative this specification explicitly
// allows in place of shelling out to `numastat`.
package numamem

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ja7ad/energat/pkg/procfs"
)

// Kind selects which system NUMA memory figure to read.
type Kind string

const (
	MemUsed  Kind = "MemUsed"
	MemTotal Kind = "MemTotal"
	MemFree  Kind = "MemFree"
)

// Reader reads NUMA memory figures from a sysfs/procfs root, defaulting to
// the real filesystem. Tests point it at a fixture tree instead.
type Reader struct {
	SysNodeDir string // default "/sys/devices/system/node"
	ProcDir    string // default "/proc"
}

// NewReader returns a Reader rooted at the real system filesystem.
func NewReader() *Reader {
	return &Reader{SysNodeDir: "/sys/devices/system/node", ProcDir: "/proc"}
}

func (r *Reader) sysNodeDir() string {
	if r.SysNodeDir != "" {
		return r.SysNodeDir
	}
	return "/sys/devices/system/node"
}

func (r *Reader) procDir() string {
	if r.ProcDir != "" {
		return r.ProcDir
	}
	return "/proc"
}

// SystemMemoryMiB reads the per-node `kind` figure for every socket
// 0..sockets-1 from <SysNodeDir>/node<N>/meminfo, in MiB.
func (r *Reader) SystemMemoryMiB(kind Kind, sockets int) ([]float64, error) {
	out := make([]float64, sockets)
	for node := 0; node < sockets; node++ {
		path := fmt.Sprintf("%s/node%d/meminfo", r.sysNodeDir(), node)
		kb, err := readNodeMeminfoKB(path, node, kind)
		if err != nil {
			return nil, fmt.Errorf("numamem: node %d %s: %w", node, kind, err)
		}
		out[node] = kb / 1024.0
	}
	return out, nil
}

func readNodeMeminfoKB(path string, node int, kind Kind) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	prefix := fmt.Sprintf("Node %d %s:", node, kind)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, prefix))
		if len(fields) == 0 {
			return 0, fmt.Errorf("malformed meminfo line %q", line)
		}
		return strconv.ParseFloat(fields[0], 64)
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s not found in %s", kind, path)
}

// PrivateMemoryMiB returns the resident private memory of pid, broken down
// per NUMA node, in MiB. A VMA from /proc/<pid>/numa_maps is treated as
// private when it has no backing file (anonymous heap/stack/mmap regions);
// file-backed mappings are treated as shared and excluded, since they are
// typically attributable to more than one process. If pid has disappeared,
// it returns all zeros and logs a warning, matching the platform probe's
// never-block contract.
func (r *Reader) PrivateMemoryMiB(pid, sockets int) []float64 {
	out := make([]float64, sockets)

	path := fmt.Sprintf("%s/%d/numa_maps", r.procDir(), pid)
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("numamem: private memory probe failed, pid likely gone", "pid", pid, "err", err)
		return out
	}
	defer f.Close()

	pageKiB := float64(procfs.PageSize()) / 1024.0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		shared := false
		for _, f := range fields {
			if strings.HasPrefix(f, "file=") {
				shared = true
				break
			}
		}
		if shared {
			continue
		}
		for _, f := range fields {
			if !strings.HasPrefix(f, "N") {
				continue
			}
			rest := f[1:]
			eq := strings.IndexByte(rest, '=')
			if eq < 0 {
				continue
			}
			node, err := strconv.Atoi(rest[:eq])
			if err != nil || node < 0 || node >= sockets {
				continue
			}
			pages, err := strconv.ParseFloat(rest[eq+1:], 64)
			if err != nil {
				continue
			}
			out[node] += pages * pageKiB / 1024.0
		}
	}
	return out
}

//go:build linux

// Package baseline measures and persists the idle pkg/DRAM power and
// utilization percentages a server exhibits with no target attached, which
// the attribution engine subtracts from every subsequent RAPL reading.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ja7ad/energat/pkg/numamem"
	"github.com/ja7ad/energat/pkg/procfs"
	"github.com/ja7ad/energat/pkg/rapl"
)

// Baseline is four per-socket vectors: idle package/DRAM power (watts) and
// the package/DRAM utilization percentages observed while measuring them.
// It is immutable once produced by Estimate or Load.
type Baseline struct {
	PkgWatts     []float64 `json:"pkg_base_w"`
	DramWatts    []float64 `json:"dram_base_w"`
	PkgPercents  []float64 `json:"pkg_base_percents"`
	DramPercents []float64 `json:"dram_base_percents"`
}

// Zero returns a Baseline of all-zero vectors sized for sockets sockets.
func Zero(sockets int) Baseline {
	return Baseline{
		PkgWatts:     make([]float64, sockets),
		DramWatts:    make([]float64, sockets),
		PkgPercents:  make([]float64, sockets),
		DramPercents: make([]float64, sockets),
	}
}

// Estimator measures a Baseline from the live platform probes.
type Estimator struct {
	RAPL        *rapl.Probe
	NUMA        *numamem.Reader
	Core2Socket map[int]int
	Tracker     *procfs.CPUPercentTracker
}

// NewEstimator returns an Estimator wired to the given platform probes.
func NewEstimator(r *rapl.Probe, n *numamem.Reader, core2socket map[int]int) *Estimator {
	return &Estimator{RAPL: r, NUMA: n, Core2Socket: core2socket, Tracker: procfs.NewCPUPercentTracker()}
}

// Estimate measures idle pkg/DRAM power and utilization over one period:
// read RAPL, sleep period, read RAPL again for watts; read per-core
// utilization over the same window for pkg percent; read NUMA memory usage
// for DRAM percent.
func (e *Estimator) Estimate(sockets int, period time.Duration) (Baseline, error) {
	before, err := e.RAPL.Read(sockets)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: read rapl before: %w", err)
	}

	pkgPercents, err := e.Tracker.BlockingSocketPercents(e.Core2Socket, period)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: core percents: %w", err)
	}

	after, err := e.RAPL.Read(sockets)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: read rapl after: %w", err)
	}

	memUsed, err := e.NUMA.SystemMemoryMiB(numamem.MemUsed, sockets)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: numa used: %w", err)
	}
	memTotal, err := e.NUMA.SystemMemoryMiB(numamem.MemTotal, sockets)
	if err != nil {
		return Baseline{}, fmt.Errorf("baseline: numa total: %w", err)
	}

	b := Zero(sockets)
	copy(b.PkgPercents, pkgPercents)
	seconds := period.Seconds()
	for s := 0; s < sockets; s++ {
		b.PkgWatts[s] = (after.PkgJoules[s] - before.PkgJoules[s]) / seconds
		b.DramWatts[s] = (after.DramJoules[s] - before.DramJoules[s]) / seconds
		if memTotal[s] > 0 {
			b.DramPercents[s] = memUsed[s] / memTotal[s] * 100
		}
	}
	return b, nil
}

// Load reads a persisted Baseline from path. It returns ErrMissing if the
// file doesn't exist.
func Load(path string) (Baseline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Baseline{}, ErrMissing
		}
		return Baseline{}, fmt.Errorf("baseline: read %s: %w", path, err)
	}
	var out Baseline
	if err := json.Unmarshal(b, &out); err != nil {
		return Baseline{}, fmt.Errorf("baseline: parse %s: %w", path, err)
	}
	return out, nil
}

// Save persists a Baseline as JSON to path, creating parent directories as
// needed.
func Save(path string, b Baseline) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("baseline: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("baseline: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("baseline: write %s: %w", path, err)
	}
	return nil
}

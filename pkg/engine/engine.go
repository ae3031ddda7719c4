//go:build linux

// Package engine is the attribution engine: the main loop that, every
// interval, reads RAPL counters, subtracts the idle baseline, ascribes the
// remainder to the target task tree and to the tracer's own overhead using
// a non-linear credit model, and emits one record per socket to a sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ja7ad/energat/pkg/baseline"
	"github.com/ja7ad/energat/pkg/numamem"
	"github.com/ja7ad/energat/pkg/procfs"
	"github.com/ja7ad/energat/pkg/rapl"
	"github.com/ja7ad/energat/pkg/sampler"
	"github.com/ja7ad/energat/pkg/sink"
	"github.com/ja7ad/energat/pkg/status"
	"github.com/ja7ad/energat/pkg/target"
)

// Config holds the tunables described in spec §6.
type Config struct {
	Interval    time.Duration
	RAPLPeriod  time.Duration
	Gamma       float64
	Delta       float64
	LogInterval time.Duration
}

// Engine is the attribution engine's runtime state.
type Engine struct {
	cfg         Config
	sockets     int
	core2socket map[int]int

	raplProbe *rapl.Probe
	maxRanges rapl.Readings
	numa      *numamem.Reader
	tracker   *procfs.CPUPercentTracker
	baseline  baseline.Baseline

	targetMgr *target.Manager
	store     *status.Store
	sampler   *sampler.Sampler
	sink      sink.Sink

	tracerPID  int
	samplerTID int

	// Running per-socket totals accumulated across the whole trace, logged
	// as a summary at shutdown (spec §4.6 step 9).
	totalPkgJ, totalDramJ       []float64
	basePkgJ, baseDramJ         []float64
	ascribedPkgJ, ascribedDramJ []float64
}

// New builds an Engine. sampler must not have been started yet; Run starts
// it and waits for its tid before the first target discovery so the
// tracer's own thread is trackable from the first interval.
func New(
	cfg Config,
	sockets int,
	core2socket map[int]int,
	raplProbe *rapl.Probe,
	maxRanges rapl.Readings,
	numa *numamem.Reader,
	bl baseline.Baseline,
	store *status.Store,
	smp *sampler.Sampler,
	sk sink.Sink,
) *Engine {
	return &Engine{
		cfg:         cfg,
		sockets:     sockets,
		core2socket: core2socket,
		raplProbe:   raplProbe,
		maxRanges:   maxRanges,
		numa:        numa,
		tracker:     procfs.NewCPUPercentTracker(),
		baseline:    bl,
		store:       store,
		sampler:     smp,
		sink:        sk,
	}
}

const epsilon = 1e-5

// Run pins the engine and sampler to the least-loaded cores, starts the
// sampler, and executes the interval loop until ctx is canceled or the
// target tree dies. Once the interval loop has started it closes the sink
// before returning, and every completed interval (including the last one)
// emits its records; a RAPL read failure ends the loop without a record for
// that interval. Errors during startup (target discovery, the first CPU
// time or RAPL read) are returned before any record is written and without
// closing the sink.
func (e *Engine) Run(ctx context.Context, rootPID, selfPID int) error {
	e.tracerPID = selfPID

	smpCtx, cancelSampler := context.WithCancel(ctx)
	defer cancelSampler()
	go e.sampler.Run(smpCtx)
	e.samplerTID = e.sampler.WaitTID(ctx)

	// The tracker's first call only seeds it, so utilization for pinning is
	// read one RAPL period later.
	if _, err := e.tracker.CorePercents(); err == nil {
		time.Sleep(e.cfg.RAPLPeriod)
		if percents, err := e.tracker.CorePercents(); err == nil {
			pinLeastLoaded([]int{selfPID, e.samplerTID}, percents, 1)
		}
	}

	slog.Info("engine: started", "tracer_pid", e.tracerPID, "sampler_tid", e.samplerTID, "root_pid", rootPID)

	e.targetMgr = target.NewManager(rootPID, e.tracerPID, e.samplerTID)

	tasks, alive, err := e.targetMgr.Discover()
	if err != nil {
		return fmt.Errorf("engine: initial target discovery: %w", err)
	}
	if !alive {
		return fmt.Errorf("engine: %w", ErrTargetGone)
	}
	e.store.Reset(tasks.Tasks)

	serverCPUBefore, err := procfs.ServerCPUTimePerSocket(e.core2socket)
	if err != nil {
		return fmt.Errorf("engine: initial server cpu time: %w", err)
	}
	readingsBefore, err := e.raplProbe.Read(e.sockets)
	if err != nil {
		return fmt.Errorf("engine: initial rapl read: %w", err)
	}
	tsBefore := time.Now()
	runStart := tsBefore

	e.totalPkgJ = make([]float64, e.sockets)
	e.totalDramJ = make([]float64, e.sockets)
	e.basePkgJ = make([]float64, e.sockets)
	e.baseDramJ = make([]float64, e.sockets)
	e.ascribedPkgJ = make([]float64, e.sockets)
	e.ascribedDramJ = make([]float64, e.sockets)

	for {
		// waitForDeadline does not discard a canceled interval: SIGINT/
		// SIGTERM still finishes the in-progress interval and emits its
		// final record below (spec §5) rather than exiting at the top of
		// the loop with nothing written.
		canceled := e.waitForDeadline(ctx, tsBefore)

		readingsNow, err := e.raplProbe.Read(e.sockets)
		if err != nil {
			slog.Error("engine: rapl read failed", "err", err)
			break
		}
		tsNow := time.Now()
		duration := tsNow.Sub(tsBefore).Seconds()

		pkgDeltaE, dramDeltaE := e.computeEnergyDelta(readingsNow, readingsBefore)

		e.store.RecordCPUTimes()
		serverCPUNow, err := procfs.ServerCPUTimePerSocket(e.core2socket)
		if err != nil {
			slog.Warn("engine: server cpu time read failed", "err", err)
			serverCPUNow = serverCPUBefore
		}
		serverCPUDelta := subtract(serverCPUNow, serverCPUBefore)

		pkgPercents, dramPercents := e.checkBaselineUtilization()

		pkgBaseE, dramBaseE := e.baseEnergy(duration)
		pkgAfterBase := clampNonNeg(subtract(pkgDeltaE, pkgBaseE), "pkg")
		dramAfterBase := clampNonNeg(subtract(dramDeltaE, dramBaseE), "dram")

		ascribedPkg, ascribedDram, tracerPkg, tracerDram, pkgCredit, dramCredit, numProc, numThreads :=
			e.ascribe(pkgAfterBase, dramAfterBase, serverCPUDelta)

		tasks, alive, err = e.targetMgr.Discover()
		if err != nil {
			slog.Error("engine: target discovery failed", "err", err)
			alive = false
		}
		e.store.Reset(tasks.Tasks)
		if canceled {
			alive = false
		}

		ts := time.Now()
		for s := 0; s < e.sockets; s++ {
			rec := sink.Record{
				Time:               ts,
				Socket:             s,
				DurationSec:        duration,
				NumProc:            numProc,
				NumThreads:         numThreads,
				PkgCreditFrac:      pkgCredit[s],
				DramCreditFrac:     dramCredit[s],
				TotalPkgJoules:     pkgDeltaE[s],
				TotalDramJoules:    dramDeltaE[s],
				BasePkgJoules:      pkgBaseE[s],
				BaseDramJoules:     dramBaseE[s],
				AscribedPkgJoules:  ascribedPkg[s],
				AscribedDramJoules: ascribedDram[s],
				TracerPkgJoules:    tracerPkg[s],
				TracerDramJoules:   tracerDram[s],
				PkgPercent:         pkgPercents[s],
				DramPercent:        dramPercents[s],
			}
			e.accumulateTotals(s, pkgDeltaE[s], dramDeltaE[s], pkgBaseE[s], dramBaseE[s], ascribedPkg[s], ascribedDram[s])
			if err := e.sink.Write(rec); err != nil {
				slog.Warn("engine: sink write failed", "socket", s, "err", err)
			}
		}

		if !alive {
			break
		}
		serverCPUBefore, readingsBefore, tsBefore = serverCPUNow, readingsNow, tsNow
	}

	if err := e.sink.Close(); err != nil {
		slog.Error("engine: sink close failed", "err", err)
	}
	e.logTotals(time.Since(runStart))
	slog.Info("engine: stopped")
	return nil
}

// accumulateTotals adds one interval's per-socket energy figures to the
// running totals logged at shutdown.
func (e *Engine) accumulateTotals(socket int, totalPkg, totalDram, basePkg, baseDram, ascribedPkg, ascribedDram float64) {
	e.totalPkgJ[socket] += totalPkg
	e.totalDramJ[socket] += totalDram
	e.basePkgJ[socket] += basePkg
	e.baseDramJ[socket] += baseDram
	e.ascribedPkgJ[socket] += ascribedPkg
	e.ascribedDramJ[socket] += ascribedDram
}

// logTotals summarizes the whole trace's accumulated totals per socket,
// the same summary tracer.py prints on exit (total/baseline/ascribed
// consumption per socket plus total wall-clock duration).
func (e *Engine) logTotals(runDuration time.Duration) {
	slog.Info("engine: total duration", "duration", runDuration)
	for s := 0; s < e.sockets; s++ {
		slog.Info("engine: total energy", "socket", s, "pkg_joules", e.totalPkgJ[s], "dram_joules", e.totalDramJ[s])
		slog.Info("engine: baseline energy", "socket", s, "pkg_joules", e.basePkgJ[s], "dram_joules", e.baseDramJ[s])
		slog.Info("engine: ascribed energy", "socket", s, "pkg_joules", e.ascribedPkgJ[s], "dram_joules", e.ascribedDramJ[s])
	}
}

// waitForDeadline sleeps until tsBefore+interval, warning (and skipping the
// sleep) on overrun. It returns true if ctx was canceled first; the caller
// still runs the rest of the interval (RAPL read, ascription, record
// emission) against whatever elapsed before cancellation rather than
// discarding it, so a SIGINT/SIGTERM mid-interval still produces a final
// record (spec §5).
func (e *Engine) waitForDeadline(ctx context.Context, tsBefore time.Time) bool {
	deadline := tsBefore.Add(e.cfg.Interval)
	now := time.Now()
	if !now.Before(deadline) {
		slog.Warn("engine: interval overrun", "overrun", now.Sub(deadline))
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(deadline.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (e *Engine) computeEnergyDelta(now, before rapl.Readings) (pkg, dram []float64) {
	pkg = make([]float64, e.sockets)
	dram = make([]float64, e.sockets)
	for s := 0; s < e.sockets; s++ {
		pkg[s] = overflowAdjust(now.PkgJoules[s]-before.PkgJoules[s], e.maxRanges.PkgJoules[s], "pkg", s)
		dram[s] = overflowAdjust(now.DramJoules[s]-before.DramJoules[s], e.maxRanges.DramJoules[s], "dram", s)
	}
	return pkg, dram
}

// overflowAdjust implements the documented-imprecise overflow branch from
// spec §9: on wrap, the delta is replaced with +max_range rather than
// max_range+now-before, under-reporting by whatever was consumed before the
// wrap. Kept to match prior data; not configurable.
func overflowAdjust(delta, maxRange float64, domain string, socket int) float64 {
	if delta < 0 {
		slog.Warn("engine: rapl counter overflow, substituting max range", "domain", domain, "socket", socket)
		return maxRange
	}
	return delta
}

func (e *Engine) baseEnergy(durationSec float64) (pkg, dram []float64) {
	pkg = make([]float64, e.sockets)
	dram = make([]float64, e.sockets)
	for s := 0; s < e.sockets; s++ {
		pkg[s] = e.baseline.PkgWatts[s] * durationSec
		dram[s] = e.baseline.DramWatts[s] * durationSec
	}
	return pkg, dram
}

func clampNonNeg(vals []float64, domain string) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v < 0 {
			slog.Warn("engine: baseline exceeds total, clamping to 0", "domain", domain, "socket", i)
			out[i] = 0
			continue
		}
		out[i] = v
	}
	return out
}

func subtract(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func (e *Engine) checkBaselineUtilization() (pkgPercents, dramPercents []float64) {
	var err error
	pkgPercents, err = e.tracker.SocketPercents(e.core2socket)
	if err != nil {
		slog.Warn("engine: core percent read failed", "err", err)
		pkgPercents = make([]float64, e.sockets)
	}

	dramPercents = make([]float64, e.sockets)
	memUsed, errUsed := e.numa.SystemMemoryMiB(numamem.MemUsed, e.sockets)
	memTotal, errTotal := e.numa.SystemMemoryMiB(numamem.MemTotal, e.sockets)
	if errUsed == nil && errTotal == nil {
		for s := 0; s < e.sockets; s++ {
			if memTotal[s] > 0 {
				dramPercents[s] = memUsed[s] / memTotal[s] * 100
			}
		}
	}

	for s := 0; s < e.sockets && s < len(e.baseline.PkgPercents); s++ {
		if pkgPercents[s] < e.baseline.PkgPercents[s] {
			slog.Warn("engine: pkg utilization below baseline, measurements may be inaccurate", "socket", s)
		}
	}
	for s := 0; s < e.sockets && s < len(e.baseline.DramPercents); s++ {
		if dramPercents[s] < e.baseline.DramPercents[s] {
			slog.Warn("engine: dram utilization below baseline, measurements may be inaccurate", "socket", s)
		}
	}
	return pkgPercents, dramPercents
}

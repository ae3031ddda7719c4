//go:build linux

package engine

import (
	"log/slog"
	"math"
	"time"

	"github.com/ja7ad/energat/pkg/target"
)

// ascribe is the non-linear credit model at the heart of the engine (spec
// §4.6). It holds the status lock for its whole duration, since it both
// reads every tracked task's accumulated samples and needs a consistent
// view of the server-wide memory sample buffer they're ratioed against.
//
// Threads are deduped by owning process: once any thread of a process
// group has contributed its memory samples, the rest of that group is
// skipped - memory is shared within a process, not additive across its
// threads. This tracks process groups directly rather than re-deriving a
// process's live thread ids mid-ascription, which is simpler and
// equivalent since every thread of a group carries the same GroupPID.
func (e *Engine) ascribe(pkgDeltaE, dramDeltaE, serverCPUDelta []float64) (
	ascribedPkg, ascribedDram, tracerPkg, tracerDram, pkgCredit, dramCredit []float64,
	numProc, numThreads int,
) {
	e.store.Lock()
	defer e.store.Unlock()

	S := e.sockets
	ascribableCPU := make([]float64, S)
	tracerCPU := make([]float64, S)

	numSamples := 0
	for _, st := range e.store.Targets {
		if len(st.NumaMemSamples) > 0 {
			numSamples = len(st.NumaMemSamples[0])
		}
		break
	}

	accumMem := make([][]float64, S)
	tracerMem := make([][]float64, S)
	for s := 0; s < S; s++ {
		accumMem[s] = make([]float64, numSamples)
		tracerMem[s] = make([]float64, numSamples)
	}

	ascribedGroups := map[int]struct{}{}

	for id, st := range e.store.Targets {
		// A task the sampler never ticked this interval has no residency to
		// partition its CPU time by, so it is dropped from ascription.
		ticks := 0
		for _, c := range st.SocketResidenceCounts {
			ticks += c
		}
		if ticks == 0 {
			continue
		}

		isTracer := id == e.tracerPID || id == e.samplerTID
		if st.Task.Kind == target.Process {
			numProc++
		} else {
			numThreads++
		}

		probs := st.ResidenceProbs()
		for s := 0; s < S && s < len(probs); s++ {
			c := st.CPUTimeDeltaSec * probs[s]
			if isTracer {
				tracerCPU[s] += c
			} else {
				ascribableCPU[s] += c
			}
		}

		isThread := st.Task.Kind == target.Thread
		if isThread {
			if _, done := ascribedGroups[st.Task.GroupPID]; done {
				continue
			}
		}

		for s := 0; s < S; s++ {
			dst := accumMem[s]
			if isTracer {
				dst = tracerMem[s]
			}
			samples := st.NumaMemSamples[s]
			for i := 0; i < len(samples) && i < len(dst); i++ {
				dst[i] += samples[i]
			}
		}

		if isThread {
			ascribedGroups[st.Task.GroupPID] = struct{}{}
		}
	}

	pkgCredit = make([]float64, S)
	dramCredit = make([]float64, S)
	ascribedPkg = make([]float64, S)
	ascribedDram = make([]float64, S)
	tracerPkg = make([]float64, S)
	tracerDram = make([]float64, S)

	for s := 0; s < S; s++ {
		cpuCredit := creditFrac(ascribableCPU[s], serverCPUDelta[s])
		pkgCredit[s] = cpuCredit
		ascribedPkg[s] = pkgDeltaE[s] * math.Pow(cpuCredit, e.cfg.Gamma)

		memCredit := meanRatio(accumMem[s], e.store.ServerNumaMemSamples[s])
		dramCredit[s] = memCredit
		ascribedDram[s] = dramDeltaE[s] * math.Pow(memCredit, e.cfg.Delta)

		tracerCPUFrac := creditFrac(tracerCPU[s], serverCPUDelta[s])
		tracerPkg[s] = pkgDeltaE[s] * math.Pow(tracerCPUFrac, e.cfg.Gamma)

		tracerMemFrac := meanRatio(tracerMem[s], e.store.ServerNumaMemSamples[s])
		tracerDram[s] = dramDeltaE[s] * math.Pow(tracerMemFrac, e.cfg.Delta)

		e.logCreditFracs(s, cpuCredit, memCredit, tracerCPUFrac, tracerMemFrac)
	}

	return ascribedPkg, ascribedDram, tracerPkg, tracerDram, pkgCredit, dramCredit, numProc, numThreads
}

// logCreditFracs emits the per-socket credit-fraction debug line from
// tracer.py's ascribe_energy, gated the same way: once every LogInterval
// seconds (round(time.time()) % FLAGS.logging == 0), not on every interval.
func (e *Engine) logCreditFracs(socket int, cpuCredit, memCredit, tracerCPUFrac, tracerMemFrac float64) {
	logEverySec := int64(e.cfg.LogInterval.Seconds())
	if logEverySec <= 0 || time.Now().Unix()%logEverySec != 0 {
		return
	}
	slog.Debug("engine: credit fractions", "socket", socket, "cpu_credit_frac", cpuCredit, "mem_credit_frac", memCredit)
	slog.Debug("engine: tracer credit fractions", "socket", socket, "tracer_cpu_frac", tracerCPUFrac, "tracer_mem_frac", tracerMemFrac)
}

func creditFrac(ascribable, serverTotal float64) float64 {
	if serverTotal > 0 {
		return math.Min(1, ascribable/serverTotal)
	}
	return epsilon
}

// meanRatio is the DRAM credit fraction: the mean, over every high-rate
// sample in the interval, of ascribed/server memory at that instant. A
// server sample of exactly 0 (and its corresponding ascribed sample) is
// replaced with epsilon so the ratio at that instant is 1 - full
// attribution - rather than an undefined or artificially low 0/0.
func meanRatio(numerator, denominator []float64) float64 {
	if len(denominator) == 0 {
		return 0
	}
	var sum float64
	for i, d := range denominator {
		n := 0.0
		if i < len(numerator) {
			n = numerator[i]
		}
		if d == 0 {
			d = epsilon
			n = epsilon
		}
		sum += n / d
	}
	return math.Min(1, sum/float64(len(denominator)))
}

//go:build linux

package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ja7ad/energat/pkg/status"
	"github.com/ja7ad/energat/pkg/target"
)

func TestCreditFrac(t *testing.T) {
	assert.Equal(t, 0.5, creditFrac(5, 10))
	assert.Equal(t, 1.0, creditFrac(20, 10)) // clamped to 1
	assert.Equal(t, epsilon, creditFrac(5, 0))
}

func TestMeanRatio(t *testing.T) {
	got := meanRatio([]float64{5, 5}, []float64{10, 10})
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestMeanRatio_EmptyDenominator(t *testing.T) {
	assert.Equal(t, 0.0, meanRatio([]float64{1}, nil))
}

func TestMeanRatio_ZeroServerSample(t *testing.T) {
	// A server sample of exactly 0 is treated as fully attributed (ratio 1).
	got := meanRatio([]float64{0}, []float64{0})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestEngine_Ascribe_SingleSocketFullCredit(t *testing.T) {
	store := status.NewStore(1)
	store.Lock()
	store.Targets[100] = &status.TargetStatus{
		Task:                  target.Task{ID: 100, Kind: target.Process, GroupPID: 100},
		CPUTimeDeltaSec:       1.0,
		SocketResidenceCounts: []int{1},
		NumaMemSamples:        [][]float64{{10}},
	}
	store.ServerNumaMemSamples = [][]float64{{10}}
	store.Unlock()

	e := &Engine{
		sockets:    1,
		store:      store,
		cfg:        Config{Gamma: 0.3, Delta: 0.2},
		tracerPID:  999,
		samplerTID: 998,
	}

	ascribedPkg, ascribedDram, tracerPkg, tracerDram, pkgCredit, dramCredit, numProc, numThreads :=
		e.ascribe([]float64{100}, []float64{50}, []float64{1.0})

	assert.Equal(t, 1, numProc)
	assert.Equal(t, 0, numThreads)
	assert.InDelta(t, 1.0, pkgCredit[0], 1e-9)
	assert.InDelta(t, 1.0, dramCredit[0], 1e-9)
	assert.InDelta(t, 100.0, ascribedPkg[0], 1e-6)
	assert.InDelta(t, 50.0, ascribedDram[0], 1e-6)
	assert.Equal(t, 0.0, tracerPkg[0])
	assert.Equal(t, 0.0, tracerDram[0])
}

func TestEngine_Ascribe_DedupsThreadsByGroupPID(t *testing.T) {
	store := status.NewStore(1)
	store.Lock()
	store.Targets[201] = &status.TargetStatus{
		Task:                  target.Task{ID: 201, Kind: target.Thread, GroupPID: 200},
		CPUTimeDeltaSec:       0.5,
		SocketResidenceCounts: []int{1},
		NumaMemSamples:        [][]float64{{10}},
	}
	store.Targets[202] = &status.TargetStatus{
		Task:                  target.Task{ID: 202, Kind: target.Thread, GroupPID: 200},
		CPUTimeDeltaSec:       0.5,
		SocketResidenceCounts: []int{1},
		NumaMemSamples:        [][]float64{{10}},
	}
	store.ServerNumaMemSamples = [][]float64{{20}}
	store.Unlock()

	e := &Engine{
		sockets: 1,
		store:   store,
		cfg:     Config{Gamma: 0.3, Delta: 0.2},
	}

	_, ascribedDram, _, _, _, dramCredit, numProc, numThreads := e.ascribe([]float64{0}, []float64{20}, []float64{1.0})

	assert.Equal(t, 0, numProc)
	assert.Equal(t, 2, numThreads)
	// memory is shared across the group, so only one thread's sample counts:
	// 10 of the server's 20 MiB, not 20 of 20.
	assert.InDelta(t, 0.5, dramCredit[0], 1e-9)
	assert.InDelta(t, 20.0*math.Pow(0.5, 0.2), ascribedDram[0], 1e-6)
}

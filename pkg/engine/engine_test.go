//go:build linux

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ja7ad/energat/pkg/baseline"
)

func TestOverflowAdjust(t *testing.T) {
	assert.Equal(t, 5.0, overflowAdjust(5.0, 100.0, "pkg", 0))
	assert.Equal(t, 100.0, overflowAdjust(-3.0, 100.0, "pkg", 0))
}

func TestClampNonNeg(t *testing.T) {
	got := clampNonNeg([]float64{-1, 0, 2.5}, "pkg")
	assert.Equal(t, []float64{0, 0, 2.5}, got)
}

func TestSubtract(t *testing.T) {
	got := subtract([]float64{5, 10}, []float64{2, 3})
	assert.Equal(t, []float64{3, 7}, got)
}

func TestEngine_BaseEnergy(t *testing.T) {
	e := &Engine{
		sockets: 2,
		baseline: baseline.Baseline{
			PkgWatts:  []float64{10, 10},
			DramWatts: []float64{5, 5},
		},
	}
	pkg, dram := e.baseEnergy(2.0)
	assert.Equal(t, []float64{20, 20}, pkg)
	assert.Equal(t, []float64{10, 10}, dram)
}

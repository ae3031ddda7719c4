package baseline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZero(t *testing.T) {
	b := Zero(2)
	assert.Equal(t, []float64{0, 0}, b.PkgWatts)
	assert.Equal(t, []float64{0, 0}, b.DramWatts)
	assert.Equal(t, []float64{0, 0}, b.PkgPercents)
	assert.Equal(t, []float64{0, 0}, b.DramPercents)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "baseline.json")
	b := Baseline{
		PkgWatts:     []float64{10.5, 11.5},
		DramWatts:    []float64{2.1, 2.2},
		PkgPercents:  []float64{5, 6},
		DramPercents: []float64{1, 2},
	}

	require.NoError(t, Save(path, b))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissing))
}

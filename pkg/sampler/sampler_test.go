//go:build linux

package sampler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/energat/pkg/numamem"
	"github.com/ja7ad/energat/pkg/status"
)

func fixtureNUMA(t *testing.T) *numamem.Reader {
	t.Helper()
	root := t.TempDir()
	for node := 0; node < 2; node++ {
		dir := filepath.Join(root, "node"+string(rune('0'+node)))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		content := "Node " + string(rune('0'+node)) + " MemUsed:        1000 kB\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(content), 0o644))
	}
	return &numamem.Reader{SysNodeDir: root, ProcDir: "/proc"}
}

func TestSampler_WaitTID_ReturnsZeroOnCancel(t *testing.T) {
	s := New(10*time.Millisecond, 1, map[int]int{0: 0}, fixtureNUMA(t), status.NewStore(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, s.WaitTID(ctx))
}

func TestSampler_Tick_RecordsSelfResidencyAndMemory(t *testing.T) {
	pid := os.Getpid()
	core2socket := map[int]int{}
	for c := 0; c < 256; c++ {
		core2socket[c] = 0
	}

	store := status.NewStore(1)
	store.Reset([]status.Task{{ID: pid, GroupPID: pid}})

	s := New(time.Millisecond, 1, core2socket, fixtureNUMA(t), store)
	s.tick()

	store.Lock()
	defer store.Unlock()
	st, ok := store.Targets[pid]
	require.True(t, ok)
	assert.Equal(t, 1, st.SocketResidenceCounts[0])
	assert.Len(t, store.ServerNumaMemSamples[0], 1)
}

func TestSampler_Tick_DropsVanishedTarget(t *testing.T) {
	store := status.NewStore(1)
	store.Lock()
	store.Targets[999999999] = &status.TargetStatus{
		Task:                  status.Task{ID: 999999999, GroupPID: 999999999},
		SocketResidenceCounts: []int{0},
		NumaMemSamples:        [][]float64{{}},
	}
	store.Unlock()

	s := New(time.Millisecond, 1, map[int]int{0: 0}, fixtureNUMA(t), store)
	s.tick()

	store.Lock()
	defer store.Unlock()
	assert.Empty(t, store.Targets)
}

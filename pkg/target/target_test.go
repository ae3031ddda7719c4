//go:build linux

package target

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover_Self(t *testing.T) {
	pid := os.Getpid()
	m := NewManager(pid, pid, pid)

	set, alive, err := m.Discover()
	require.NoError(t, err)
	assert.True(t, alive)
	assert.NotEmpty(t, set.Tasks)
}

func TestDiscover_RootGone(t *testing.T) {
	m := NewManager(999999999, os.Getpid(), os.Getpid())

	set, alive, err := m.Discover()
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Empty(t, set.Tasks)
}

func TestDiscover_Idempotent(t *testing.T) {
	// A freshly-spawned single-threaded child keeps this test's task set
	// stable across two back-to-back calls, unlike the test binary's own
	// runtime threads which can fluctuate between calls.
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	m := NewManager(cmd.Process.Pid, os.Getpid(), os.Getpid())

	set1, alive1, err := m.Discover()
	require.NoError(t, err)
	set2, alive2, err := m.Discover()
	require.NoError(t, err)

	assert.Equal(t, alive1, alive2)
	ids := func(s TaskSet) map[int]Kind {
		out := make(map[int]Kind, len(s.Tasks))
		for _, tk := range s.Tasks {
			out[tk.ID] = tk.Kind
		}
		return out
	}
	assert.Equal(t, ids(set1), ids(set2))
}

func TestDiscover_AlwaysTracksTracerAndSampler(t *testing.T) {
	pid := os.Getpid()
	tracerPID, samplerTID := pid, pid+1
	m := NewManager(pid, tracerPID, samplerTID)

	set, _, err := m.Discover()
	require.NoError(t, err)

	var sawTracer, sawSampler bool
	for _, tk := range set.Tasks {
		if tk.Kind == Process && tk.ID == tracerPID {
			sawTracer = true
		}
		if tk.Kind == Thread && tk.ID == samplerTID {
			sawSampler = true
			assert.Equal(t, tracerPID, tk.GroupPID)
		}
	}
	assert.True(t, sawTracer)
	assert.True(t, sawSampler)
}

func TestDiscover_ExhaustiveClassification(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	m := NewManager(cmd.Process.Pid, os.Getpid(), os.Getpid())
	set, _, err := m.Discover()
	require.NoError(t, err)

	kinds := map[int]Kind{}
	for _, tk := range set.Tasks {
		if prev, ok := kinds[tk.ID]; ok {
			assert.Equal(t, prev, tk.Kind, "task id %d classified as both a process and a thread", tk.ID)
		}
		kinds[tk.ID] = tk.Kind
	}
}

func TestHasNonTracerTask(t *testing.T) {
	m := &Manager{tracerPID: 1, samplerTID: 2}
	assert.False(t, m.hasNonTracerTask(map[int]struct{}{1: {}}, map[int]struct{}{2: {}}))
	assert.True(t, m.hasNonTracerTask(map[int]struct{}{1: {}, 3: {}}, map[int]struct{}{2: {}}))
}

func TestIsInadmissible(t *testing.T) {
	assert.True(t, isInadmissible('Z'))
	assert.True(t, isInadmissible('X'))
	assert.True(t, isInadmissible('x'))
	assert.False(t, isInadmissible('R'))
	assert.False(t, isInadmissible('S'))
}

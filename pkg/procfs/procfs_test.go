//go:build linux

package procfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTicksAndPageSize(t *testing.T) {
	t.Setenv("CLK_TCK", "")
	t.Setenv("PAGE_SIZE", "")
	assert.Greater(t, ClockTicks(), 0)
	assert.Greater(t, PageSize(), 0)

	t.Setenv("CLK_TCK", "250")
	t.Setenv("PAGE_SIZE", "16384")
	assert.Equal(t, 250, ClockTicks())
	assert.Equal(t, 16384, PageSize())
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(os.Getpid()))
	assert.False(t, Exists(999999999))
}

func TestTaskExists_Self(t *testing.T) {
	pid := os.Getpid()
	assert.True(t, TaskExists(pid, pid))
	assert.False(t, TaskExists(pid, 999999999))
}

func TestNumThreadsAndThreadIDs_Self(t *testing.T) {
	pid := os.Getpid()
	n, err := NumThreads(pid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	ids, err := ThreadIDs(pid)
	require.NoError(t, err)
	assert.Len(t, ids, n)
}

func TestReadTaskStat_Self(t *testing.T) {
	pid := os.Getpid()
	st, err := ReadTaskStat(pid, pid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.NumThreads, 1)
	assert.GreaterOrEqual(t, st.Processor, 0)
}

func TestTaskCPUTimeSec_GoneTask(t *testing.T) {
	assert.Equal(t, 0.0, TaskCPUTimeSec(999999999, 999999999))
}

func TestCurrentCore_GoneTask(t *testing.T) {
	assert.Equal(t, -1, CurrentCore(999999999, 999999999))
}

func TestCoreToSocket(t *testing.T) {
	m, err := CoreToSocket()
	require.NoError(t, err)
	assert.NotEmpty(t, m)
	for core, sock := range m {
		assert.GreaterOrEqual(t, core, 0)
		assert.GreaterOrEqual(t, sock, 0)
	}
}

func TestNumSockets(t *testing.T) {
	m := map[int]int{0: 0, 1: 0, 2: 1, 3: 1}
	assert.Equal(t, 2, NumSockets(m))
}

func TestServerCPUTimePerSocket(t *testing.T) {
	core2sock, err := CoreToSocket()
	require.NoError(t, err)

	out, err := ServerCPUTimePerSocket(core2sock)
	require.NoError(t, err)
	assert.Equal(t, NumSockets(core2sock), len(out))
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestChildren_NoChildren(t *testing.T) {
	// The test process itself very likely has no children of its own.
	_, err := Children(os.Getpid())
	if err != nil {
		assert.ErrorIs(t, err, ErrNoChildren)
	}
}

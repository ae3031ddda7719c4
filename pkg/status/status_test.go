//go:build linux

package status

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetStatus_ResidenceProbs_SingleSocket(t *testing.T) {
	s := &TargetStatus{SocketResidenceCounts: []int{7}}
	assert.Equal(t, []float64{1.0}, s.ResidenceProbs())
}

func TestTargetStatus_ResidenceProbs_MultiSocket(t *testing.T) {
	s := &TargetStatus{SocketResidenceCounts: []int{3, 1}}
	probs := s.ResidenceProbs()
	assert.InDelta(t, 0.75, probs[0], 1e-9)
	assert.InDelta(t, 0.25, probs[1], 1e-9)
}

func TestTargetStatus_ResidenceProbs_NoSamplesYet(t *testing.T) {
	s := &TargetStatus{SocketResidenceCounts: []int{0, 0}}
	assert.Equal(t, []float64{0, 0}, s.ResidenceProbs())
}

func TestTargetStatus_RecordCPUTime_GoneTask(t *testing.T) {
	s := &TargetStatus{Task: Task{ID: 999999999, GroupPID: 999999999}}
	assert.False(t, s.RecordCPUTime())
}

func TestTargetStatus_RecordCPUTime_Self(t *testing.T) {
	pid := os.Getpid()
	s := newTargetStatus(Task{ID: pid, Kind: 0, GroupPID: pid}, 1)
	ok := s.RecordCPUTime()
	require.True(t, ok)
	assert.GreaterOrEqual(t, s.CPUTimeDeltaSec, 0.0)
}

func TestStore_ResetAndRecordCPUTimes(t *testing.T) {
	pid := os.Getpid()
	st := NewStore(1)
	st.Reset([]Task{{ID: pid, Kind: 0, GroupPID: pid}})

	assert.Len(t, st.Targets, 1)
	removed := st.RecordCPUTimes()
	assert.Empty(t, removed)
	assert.Contains(t, st.Targets, pid)
}

func TestStore_Reset_DropsGoneTasks(t *testing.T) {
	st := NewStore(1)
	st.Reset([]Task{{ID: 999999999, Kind: 0, GroupPID: 999999999}})
	assert.Empty(t, st.Targets)
}

func TestStore_RecordCPUTimes_DropsVanished(t *testing.T) {
	st := NewStore(1)
	st.Lock()
	st.Targets[123] = &TargetStatus{Task: Task{ID: 999999999, GroupPID: 999999999}}
	st.Unlock()

	removed := st.RecordCPUTimes()
	assert.Equal(t, []int{123}, removed)
	assert.Empty(t, st.Targets)
}

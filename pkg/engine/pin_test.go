//go:build linux

package engine

import (
	"os"
	"testing"
)

func TestPinLeastLoaded_NoopOnEmptyPercents(t *testing.T) {
	// Must not panic or block; pinning is best-effort only.
	pinLeastLoaded([]int{os.Getpid()}, nil, 1)
}

func TestPinLeastLoaded_Self(t *testing.T) {
	percents := map[int]float64{0: 10.0, 1: 90.0}
	// Runs against the real scheduler; failures (e.g. no CAP_SYS_NICE in a
	// sandboxed test runner) are logged and ignored, never panic.
	pinLeastLoaded([]int{os.Getpid()}, percents, 1)
}

// Package sink defines the structured per-socket trace record the
// attribution engine emits each interval, and the Sink interface records are
// written to. Concrete sinks batch writes and flush asynchronously under an
// I/O lock distinct from the engine's status lock, so a slow write never
// blocks sampling.
package sink

import "time"

// Record is one immutable per-socket, per-interval measurement.
type Record struct {
	Time        time.Time
	Socket      int
	DurationSec float64
	NumProc     int
	NumThreads  int

	PkgCreditFrac  float64
	DramCreditFrac float64

	TotalPkgJoules  float64
	TotalDramJoules float64

	BasePkgJoules  float64
	BaseDramJoules float64

	AscribedPkgJoules  float64
	AscribedDramJoules float64

	TracerPkgJoules  float64
	TracerDramJoules float64

	PkgPercent  float64
	DramPercent float64
}

// Sink is an append-only collaborator the engine writes one Record to per
// socket per interval. Write must not block on I/O; Close must flush
// whatever is buffered and only return once that flush has completed.
type Sink interface {
	Write(rec Record) error
	Close() error
}

package engine

import "errors"

var (
	// ErrTopologyMismatch is returned at startup when a RAPL zone's name
	// doesn't match its expected socket index.
	ErrTopologyMismatch = errors.New("engine: rapl topology mismatch")

	// ErrBaselineMissing is returned at startup when attach mode can't find
	// a baseline file.
	ErrBaselineMissing = errors.New("engine: baseline file missing, run basepower first")

	// ErrTargetGone is returned at startup when the root target pid does
	// not exist or leaves no live non-tracer task to trace. A root that is
	// a zombie or dead task is reported as target.ErrGone instead.
	ErrTargetGone = errors.New("engine: target is gone")
)

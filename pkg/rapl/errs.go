package rapl

import "errors"

var (
	// ErrTopologyMismatch indicates a powercap zone's name file did not read
	// "package-<index>" for its own index.
	ErrTopologyMismatch = errors.New("rapl: package name does not match its socket index")

	// ErrNoSockets indicates the probe found zero intel-rapl:<N> package zones.
	ErrNoSockets = errors.New("rapl: no intel-rapl package zones found")
)

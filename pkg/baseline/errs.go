package baseline

import "errors"

var (
	// ErrMissing indicates an attach was requested but no baseline file
	// exists yet; the caller should treat this as fatal.
	ErrMissing = errors.New("baseline: file not found, run the basepower subcommand first")
)

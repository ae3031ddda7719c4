package target

import "errors"

var (
	// ErrGone indicates the root target pid is a zombie or otherwise dead
	// process at discovery time - distinct from the pid simply having
	// exited, which is reported as alive=false rather than an error.
	ErrGone = errors.New("target: root pid is zombie or dead")
)

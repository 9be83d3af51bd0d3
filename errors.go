package quarantine

import "fmt"

// ReservedExitCode is the process exit status for any session that never
// reached the attached state, so callers can tell launcher failures apart
// from in-container exit codes. 125 matches the docker CLI's own convention
// for daemon-side failures.
const ReservedExitCode = 125

// ErrorKind classifies where in the session lifecycle an error originated.
type ErrorKind int

const (
	// ResolutionError means the host working directory could not be resolved
	// into a mountable path.
	ResolutionError ErrorKind = iota + 1
	// ValidationError means the image reference was malformed.
	ValidationError
	// CreateError means the runtime could not materialize the container.
	CreateError
	// AttachError means the interactive stream could not be connected, or the
	// exit code could not be harvested after the stream ended.
	AttachError
	// RuntimeUnavailable means the container engine itself is unreachable.
	RuntimeUnavailable
	// CleanupError means best-effort removal failed. Non-fatal: reported as a
	// warning alongside the session's primary result, never instead of it.
	CleanupError
)

func (k ErrorKind) String() string {
	switch k {
	case ResolutionError:
		return "resolution error"
	case ValidationError:
		return "validation error"
	case CreateError:
		return "create error"
	case AttachError:
		return "attach error"
	case RuntimeUnavailable:
		return "runtime unavailable"
	case CleanupError:
		return "cleanup error"
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// SessionError wraps an underlying failure with its lifecycle classification.
type SessionError struct {
	Kind ErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

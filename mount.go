package quarantine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SandboxWorkDir is the fixed path inside the container where the host
// working directory is mounted.
const SandboxWorkDir = "/quarantine"

// MountSpec describes a bind mount that should be attached to a container.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// String renders the mount specification into the container runtime format.
func (m MountSpec) String() string {
	parts := []string{
		"type=bind",
		fmt.Sprintf("source=%s", m.Source),
		fmt.Sprintf("target=%s", m.Target),
	}
	if m.ReadOnly {
		parts = append(parts, "readonly")
	}
	return strings.Join(parts, ",")
}

// ResolveMount computes the read-write bind mount of the given host directory
// at SandboxWorkDir. The path is made absolute and symlink-free, and must
// stat as a directory; otherwise resolution fails and no container is ever
// created. No side effects.
func ResolveMount(hostDir string) (MountSpec, error) {
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return MountSpec{}, &SessionError{Kind: ResolutionError, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return MountSpec{}, &SessionError{Kind: ResolutionError, Err: err}
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return MountSpec{}, &SessionError{Kind: ResolutionError, Err: err}
	}
	if !fi.IsDir() {
		return MountSpec{}, &SessionError{
			Kind: ResolutionError,
			Err:  fmt.Errorf("%s is not a directory", resolved),
		}
	}
	return MountSpec{Source: resolved, Target: SandboxWorkDir}, nil
}

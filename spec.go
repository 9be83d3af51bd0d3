package quarantine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/goombaio/namegenerator"
)

// DefaultShell is the command attached to the container when the request
// carries no entry override.
const DefaultShell = "/bin/sh"

// containerNamePrefix makes quarantine's containers recognizable in
// `docker ps` output, and lets a new session reap a stale predecessor.
const containerNamePrefix = "quarantine-"

// SessionRequest is the validated input for one sandbox session. Immutable
// once constructed; the CLI collaborator builds exactly one per invocation.
type SessionRequest struct {
	// Image is the container image reference to run.
	Image string
	// HostDir is the host directory to mount read-write at SandboxWorkDir.
	HostDir string
	// Entry optionally overrides the shell command executed in the container.
	Entry string
	// Runtime optionally names the container runtime to use (e.g. runsc).
	// Unknown runtimes fall back to the engine default with a warning.
	Runtime string
	// Persist keeps the container around after the session ends instead of
	// removing it.
	Persist bool
	// Pull forces a fresh image pull even when the image is already local.
	Pull bool
}

// SessionSpec is the full container creation request assembled from a
// SessionRequest and a resolved MountSpec.
type SessionSpec struct {
	Image       string
	Name        string
	Mount       MountSpec
	WorkDir     string
	Entry       []string
	Runtime     string
	TTY         bool
	Interactive bool
	// AutoRemove is the removal policy: when set, the lifecycle manager
	// guarantees the container is removed before the process exits.
	AutoRemove bool
}

// BuildSpec assembles the container creation request. It validates the image
// reference syntactically and fills in the fixed session shape: interactive
// TTY, working directory at the mount target, removal policy. Pure function,
// no I/O.
func BuildSpec(req SessionRequest, mount MountSpec) (SessionSpec, error) {
	if _, err := name.ParseReference(req.Image); err != nil {
		return SessionSpec{}, &SessionError{
			Kind: ValidationError,
			Err:  fmt.Errorf("invalid image reference %q: %w", req.Image, err),
		}
	}

	entry := req.Entry
	if entry == "" {
		entry = DefaultShell
	}

	return SessionSpec{
		Image:       req.Image,
		Name:        containerName(req.Image, req.Persist),
		Mount:       mount,
		WorkDir:     mount.Target,
		Entry:       []string{entry},
		Runtime:     req.Runtime,
		TTY:         true,
		Interactive: true,
		AutoRemove:  !req.Persist,
	}, nil
}

// containerName derives the container name from the image reference, e.g.
// "node:latest" becomes "quarantine-node-latest". Disposable sessions reuse
// the same name run after run, and reap any stale predecessor. Persisted
// sessions get a generated suffix so consecutive runs don't collide.
func containerName(image string, persist bool) string {
	sanitized := strings.NewReplacer(":", "-", "/", "-", "@", "-").Replace(image)
	if !persist {
		return containerNamePrefix + sanitized
	}
	gen := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
	return containerNamePrefix + sanitized + "-" + gen.Generate()
}

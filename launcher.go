// Package quarantine implements the sandbox session lifecycle: resolve the
// host working directory into a bind mount, create a container for the
// requested image, attach an interactive shell, and guarantee the container
// is removed however the session ends.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/banksean/quarantine/dockercli/options"
)

// SessionState tracks a sandbox session through its lifecycle.
type SessionState int

const (
	StatePending SessionState = iota
	StateCreated
	StateAttached
	StateExited
	StateRemoved
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateExited:
		return "exited"
	case StateRemoved:
		return "removed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state %d", int(s))
}

// Session is one end-to-end sandbox lifecycle. The launcher owns the
// container handle exclusively; nothing else reads or mutates it while the
// session runs.
type Session struct {
	// ID correlates log lines, trace spans and journal rows for one session.
	ID string
	// Spec is the container creation request the session ran with.
	Spec SessionSpec
	// Handle is the container ID, set once the runtime accepts creation.
	Handle string
	// State is the session's current lifecycle state.
	State SessionState
	// ExitCode is the in-container process's exit code, captured verbatim.
	// Until the session reaches Exited it holds ReservedExitCode.
	ExitCode int
	// Failure carries the originating error for sessions that end in
	// StateFailed.
	Failure *SessionError
	// Removed records whether the runtime confirmed container removal.
	Removed bool
	// CleanupErr records a best-effort removal failure. Informational only:
	// it never replaces ExitCode or Failure.
	CleanupErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

const (
	// DefaultGracePeriod is how long a graceful stop waits before the
	// container is killed.
	DefaultGracePeriod = 10 * time.Second

	// stopSlack bounds the stop subprocess itself, over and above the grace
	// period the engine enforces in-band.
	stopSlack = 5 * time.Second

	// opTimeout bounds runtime calls that should return promptly (kill,
	// remove, post-exit wait).
	opTimeout = 30 * time.Second

	tracerName = "github.com/banksean/quarantine"
)

// LauncherOptions configures a Launcher. Zero-valued fields get docker-backed
// defaults wired to the process's terminal.
type LauncherOptions struct {
	Containers ContainerOps
	Images     ImageOps
	System     SystemOps
	Messenger  UserMessenger
	Grace      time.Duration
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// Launcher drives sandbox sessions from request to removal.
type Launcher struct {
	containers ContainerOps
	images     ImageOps
	system     SystemOps
	messenger  UserMessenger
	grace      time.Duration
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	tracer     trace.Tracer

	// interrupts overrides the host signal source in tests.
	interrupts <-chan os.Signal
}

func NewLauncher(opts LauncherOptions) *Launcher {
	l := &Launcher{
		containers: opts.Containers,
		images:     opts.Images,
		system:     opts.System,
		messenger:  opts.Messenger,
		grace:      opts.Grace,
		stdin:      opts.Stdin,
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
		tracer:     otel.Tracer(tracerName),
	}
	if l.containers == nil {
		l.containers = NewDockerContainerOps()
	}
	if l.images == nil {
		l.images = NewDockerImageOps()
	}
	if l.system == nil {
		l.system = NewDockerSystemOps()
	}
	if l.stdin == nil {
		l.stdin = os.Stdin
	}
	if l.stdout == nil {
		l.stdout = os.Stdout
	}
	if l.stderr == nil {
		l.stderr = os.Stderr
	}
	if l.messenger == nil {
		l.messenger = NewTerminalMessenger(l.stderr)
	}
	if l.grace <= 0 {
		l.grace = DefaultGracePeriod
	}
	return l
}

// Run executes one sandbox session end to end and returns the final Session.
// The returned Session is always non-nil; on error its ExitCode is
// ReservedExitCode unless the in-container process got far enough to exit.
// Once a container handle exists, removal is guaranteed on every exit path
// (unless removal was disabled by a persist request).
func (l *Launcher) Run(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := l.tracer.Start(ctx, "quarantine.session", trace.WithAttributes(
		attribute.String("quarantine.image", req.Image),
		attribute.String("quarantine.host_dir", req.HostDir),
	))
	defer span.End()

	sess := &Session{
		ID:        uuid.NewString(),
		State:     StatePending,
		ExitCode:  ReservedExitCode,
		StartedAt: time.Now(),
	}
	defer func() { sess.FinishedAt = time.Now() }()

	slog.InfoContext(ctx, "Launcher.Run", "id", sess.ID, "image", req.Image, "hostDir", req.HostDir)

	mount, err := ResolveMount(req.HostDir)
	if err != nil {
		return l.fail(ctx, span, sess, err)
	}

	spec, err := BuildSpec(req, mount)
	if err != nil {
		return l.fail(ctx, span, sess, err)
	}

	runtimeName, err := l.resolveRuntime(ctx, req.Runtime)
	if err != nil {
		return l.fail(ctx, span, sess, err)
	}
	spec.Runtime = runtimeName
	sess.Spec = spec
	span.SetAttributes(attribute.String("quarantine.container_name", spec.Name))

	if err := l.ensureImage(ctx, spec.Image, req.Pull); err != nil {
		return l.fail(ctx, span, sess, &SessionError{Kind: CreateError, Err: err})
	}

	l.reapStale(ctx, spec.Name)

	handle, err := l.containers.Create(ctx, l.createOptions(sess.ID, spec), spec.Image, spec.Entry)
	if err != nil {
		kind := CreateError
		if errors.Is(err, exec.ErrNotFound) {
			kind = RuntimeUnavailable
		}
		return l.fail(ctx, span, sess, &SessionError{Kind: kind, Err: fmt.Errorf("creating container: %w (%s)", err, handle)})
	}
	sess.Handle = handle
	l.transition(ctx, sess, StateCreated)
	span.AddEvent("created")

	if spec.AutoRemove {
		// Teardown is registered the moment a handle exists and runs on every
		// exit path. A leaked container is a leaked sandbox with host files
		// mounted inside it.
		defer l.release(context.WithoutCancel(ctx), sess)
	} else {
		defer l.messenger.Message(ctx, fmt.Sprintf("persisting container %s", spec.Name))
	}

	wait, err := l.containers.AttachStream(ctx, handle, l.stdin, l.stdout, l.stderr)
	if err != nil {
		return l.fail(ctx, span, sess, &SessionError{Kind: AttachError, Err: fmt.Errorf("attaching to container: %w", err)})
	}
	l.transition(ctx, sess, StateAttached)
	span.AddEvent("attached")

	// Two cooperating tasks from here: the blocking wait on the attach
	// stream, and the interrupt relay. They rendezvous on streamDone; the
	// relay only ever issues stop/kill calls, so natural exit and
	// interrupt-forced exit converge on the same event.
	streamDone := make(chan error, 1)
	go func() { streamDone <- wait() }()

	sigc := l.interrupts
	if sigc == nil {
		c := make(chan os.Signal, 2)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)
		sigc = c
	}
	relayDone := make(chan struct{})
	go l.relay(ctx, sess, sigc, relayDone)

	streamErr := <-streamDone
	close(relayDone)
	slog.InfoContext(ctx, "attach stream ended", "id", sess.ID, "error", streamErr)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	code, err := l.containers.Wait(waitCtx, handle)
	if err != nil {
		return l.fail(ctx, span, sess, &SessionError{Kind: AttachError, Err: fmt.Errorf("reading exit code: %w", err)})
	}
	sess.ExitCode = code
	l.transition(ctx, sess, StateExited)
	span.AddEvent("exited")
	span.SetAttributes(attribute.Int("quarantine.exit_code", code))

	return sess, nil
}

// relay watches for host interrupts while the session is attached. The first
// interrupt requests a graceful stop bounded by the grace period; a second
// one escalates to a kill. Stop and kill run in their own goroutines with
// hard timeouts, so the relay can never hold up teardown.
func (l *Launcher) relay(ctx context.Context, sess *Session, sigc <-chan os.Signal, ended <-chan struct{}) {
	callCtx := context.WithoutCancel(ctx)
	cancelled := ctx.Done()
	interrupts := 0
	for {
		select {
		case <-ended:
			return
		case <-cancelled:
			cancelled = nil
		case <-sigc:
		}
		interrupts++

		if interrupts == 1 {
			l.messenger.Message(callCtx, fmt.Sprintf("interrupt: stopping container %s (interrupt again to kill)", sess.Spec.Name))
			go func() {
				stopCtx, cancel := context.WithTimeout(callCtx, l.grace+stopSlack)
				defer cancel()
				if _, err := l.containers.Stop(stopCtx, options.StopContainer{Time: graceSeconds(l.grace)}, sess.Handle); err != nil {
					slog.WarnContext(callCtx, "graceful stop failed, killing", "id", sess.ID, "error", err)
					l.kill(callCtx, sess)
				}
			}()
			continue
		}
		l.messenger.Message(callCtx, "interrupt: killing container "+sess.Spec.Name)
		go l.kill(callCtx, sess)
	}
}

func (l *Launcher) kill(ctx context.Context, sess *Session) {
	killCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := l.containers.Kill(killCtx, options.KillContainer{}, sess.Handle); err != nil {
		slog.WarnContext(ctx, "kill failed", "id", sess.ID, "error", err)
	}
}

// release is the unconditional teardown path. It runs on success, error and
// interrupt alike, is sequenced after exit (a still-running container is
// stopped first), and reports failure as a warning without ever masking the
// session's primary result.
func (l *Launcher) release(ctx context.Context, sess *Session) {
	if sess.Handle == "" || sess.Removed {
		return
	}
	if sess.State == StateCreated || sess.State == StateAttached {
		stopCtx, cancel := context.WithTimeout(ctx, l.grace+stopSlack)
		if _, err := l.containers.Stop(stopCtx, options.StopContainer{Time: graceSeconds(l.grace)}, sess.Handle); err != nil {
			slog.WarnContext(ctx, "teardown stop", "id", sess.ID, "error", err)
		}
		cancel()
	}

	rmCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	// Force is a backstop: removal must succeed even if the stop failed.
	if out, err := l.containers.Remove(rmCtx, options.RemoveContainer{Force: true, Volumes: true}, sess.Handle); err != nil {
		sess.CleanupErr = &SessionError{Kind: CleanupError, Err: err}
		slog.WarnContext(ctx, "container removal failed", "id", sess.ID, "handle", sess.Handle, "out", out, "error", err)
		l.messenger.Message(ctx, fmt.Sprintf("warning: could not remove container %s: %v", sess.Spec.Name, err))
		return
	}
	sess.Removed = true
	if sess.State == StateExited {
		sess.State = StateRemoved
	}
	slog.InfoContext(ctx, "container removed", "id", sess.ID, "handle", sess.Handle)
}

// resolveRuntime validates a requested runtime against the engine's
// advertised set. Empty means the engine default; an unknown name reverts to
// the default with a warning listing what is available.
func (l *Launcher) resolveRuntime(ctx context.Context, requested string) (string, error) {
	if requested == "" {
		return "", nil
	}
	info, err := l.system.Info(ctx)
	if err != nil {
		return "", &SessionError{Kind: RuntimeUnavailable, Err: fmt.Errorf("querying engine info: %w", err)}
	}
	if _, ok := info.Runtimes[requested]; ok {
		slog.InfoContext(ctx, "using runtime", "runtime", requested)
		return requested, nil
	}
	available := slices.Sorted(maps.Keys(info.Runtimes))
	l.messenger.Message(ctx, fmt.Sprintf("runtime %q not found, reverting to the default %q", requested, info.DefaultRuntime))
	l.messenger.Message(ctx, "available runtimes: "+strings.Join(available, " "))
	return info.DefaultRuntime, nil
}

// ensureImage makes sure the requested image is present locally, pulling it
// if required (or unconditionally when force is set).
func (l *Launcher) ensureImage(ctx context.Context, ref string, force bool) error {
	if !force {
		present, err := l.images.Exists(ctx, ref)
		if err != nil {
			return fmt.Errorf("checking local image store: %w", err)
		}
		if present {
			slog.InfoContext(ctx, "image already present", "image", ref)
			return nil
		}
	}

	l.messenger.Message(ctx, fmt.Sprintf("This may take a while: pulling image %s...", ref))
	start := time.Now()
	wait, err := l.images.Pull(ctx, options.PullImage{}, ref, l.stderr)
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	if err := wait(); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	l.messenger.Message(ctx, fmt.Sprintf("Done pulling image. Took %v.", time.Since(start).Round(time.Millisecond)))
	return nil
}

// reapStale stops and removes a leftover container from a previous run with
// the same deterministic name, so each invocation starts from a clean slate.
// Best effort: if the engine is unreachable, the create step fails with a
// better error anyway.
func (l *Launcher) reapStale(ctx context.Context, name string) {
	ctrs, err := l.containers.List(ctx, options.ListContainers{All: true})
	if err != nil {
		slog.WarnContext(ctx, "listing containers for stale check", "error", err)
		return
	}
	for _, ctr := range ctrs {
		if !slices.Contains(strings.Split(ctr.Names, ","), name) {
			continue
		}
		l.messenger.Message(ctx, fmt.Sprintf("removing leftover container %s from a previous run", name))
		if strings.EqualFold(ctr.State, "running") {
			if _, err := l.containers.Stop(ctx, options.StopContainer{Time: graceSeconds(l.grace)}, ctr.ID); err != nil {
				slog.WarnContext(ctx, "stopping stale container", "containerID", ctr.ID, "error", err)
			}
		}
		if _, err := l.containers.Remove(ctx, options.RemoveContainer{Force: true, Volumes: true}, ctr.ID); err != nil {
			slog.WarnContext(ctx, "removing stale container", "containerID", ctr.ID, "error", err)
		}
	}
}

func (l *Launcher) createOptions(sessionID string, spec SessionSpec) options.CreateContainer {
	return options.CreateContainer{
		Name:        spec.Name,
		Interactive: spec.Interactive,
		TTY:         spec.TTY,
		WorkDir:     spec.WorkDir,
		Runtime:     spec.Runtime,
		Mount:       []string{spec.Mount.String()},
		Label:       map[string]string{"dev.quarantine.session": sessionID},
	}
}

func (l *Launcher) transition(ctx context.Context, sess *Session, to SessionState) {
	slog.InfoContext(ctx, "session transition", "id", sess.ID, "from", sess.State.String(), "to", to.String())
	sess.State = to
}

func (l *Launcher) fail(ctx context.Context, span trace.Span, sess *Session, err error) (*Session, error) {
	serr, ok := err.(*SessionError)
	if !ok {
		serr = &SessionError{Kind: CreateError, Err: err}
	}
	sess.State = StateFailed
	sess.Failure = serr
	slog.ErrorContext(ctx, "session failed", "id", sess.ID, "kind", serr.Kind.String(), "error", serr.Err)
	span.RecordError(serr)
	span.SetStatus(codes.Error, serr.Kind.String())
	return sess, serr
}

func graceSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

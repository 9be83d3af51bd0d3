package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banksean/quarantine/dockercli/options"
	"github.com/banksean/quarantine/dockercli/types"
)

type mockContainerOps struct {
	listFunc    func(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error)
	inspectFunc func(ctx context.Context, id ...string) ([]types.Container, error)
	createFunc  func(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error)
	attachFunc  func(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error)
	waitFunc    func(ctx context.Context, id string) (int, error)
	stopFunc    func(ctx context.Context, opts options.StopContainer, id string) (string, error)
	killFunc    func(ctx context.Context, opts options.KillContainer, id string) (string, error)
	removeFunc  func(ctx context.Context, opts options.RemoveContainer, id string) (string, error)

	creates  atomic.Int64
	attaches atomic.Int64
	waits    atomic.Int64
	stops    atomic.Int64
	kills    atomic.Int64
	removes  atomic.Int64
}

func (m *mockContainerOps) List(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, opts)
	}
	return nil, nil
}

func (m *mockContainerOps) Inspect(ctx context.Context, id ...string) ([]types.Container, error) {
	if m.inspectFunc != nil {
		return m.inspectFunc(ctx, id...)
	}
	return nil, nil
}

func (m *mockContainerOps) Create(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error) {
	m.creates.Add(1)
	if m.createFunc != nil {
		return m.createFunc(ctx, opts, image, initArgs)
	}
	return "mock-container-id", nil
}

func (m *mockContainerOps) AttachStream(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
	m.attaches.Add(1)
	if m.attachFunc != nil {
		return m.attachFunc(ctx, id, stdin, stdout, stderr)
	}
	return func() error { return nil }, nil
}

func (m *mockContainerOps) Wait(ctx context.Context, id string) (int, error) {
	m.waits.Add(1)
	if m.waitFunc != nil {
		return m.waitFunc(ctx, id)
	}
	return 0, nil
}

func (m *mockContainerOps) Stop(ctx context.Context, opts options.StopContainer, id string) (string, error) {
	m.stops.Add(1)
	if m.stopFunc != nil {
		return m.stopFunc(ctx, opts, id)
	}
	return "stopped", nil
}

func (m *mockContainerOps) Kill(ctx context.Context, opts options.KillContainer, id string) (string, error) {
	m.kills.Add(1)
	if m.killFunc != nil {
		return m.killFunc(ctx, opts, id)
	}
	return "killed", nil
}

func (m *mockContainerOps) Remove(ctx context.Context, opts options.RemoveContainer, id string) (string, error) {
	m.removes.Add(1)
	if m.removeFunc != nil {
		return m.removeFunc(ctx, opts, id)
	}
	return "removed", nil
}

type mockImageOps struct {
	existsFunc func(ctx context.Context, ref string) (bool, error)
	pullFunc   func(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error)

	pulls atomic.Int64
}

func (m *mockImageOps) Exists(ctx context.Context, ref string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, ref)
	}
	return true, nil
}

func (m *mockImageOps) Pull(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error) {
	m.pulls.Add(1)
	if m.pullFunc != nil {
		return m.pullFunc(ctx, opts, ref, progress)
	}
	return func() error { return nil }, nil
}

type mockSystemOps struct {
	infoFunc func(ctx context.Context) (*types.SystemInfo, error)
}

func (m *mockSystemOps) Version(ctx context.Context) (string, error) {
	return "0.0.0-test", nil
}

func (m *mockSystemOps) Info(ctx context.Context) (*types.SystemInfo, error) {
	if m.infoFunc != nil {
		return m.infoFunc(ctx)
	}
	return &types.SystemInfo{
		DefaultRuntime: "runc",
		Runtimes: map[string]types.RuntimeConfig{
			"runc": {Path: "runc"},
		},
	}, nil
}

func newTestLauncher(ctrs *mockContainerOps, imgs *mockImageOps, sys *mockSystemOps) *Launcher {
	return NewLauncher(LauncherOptions{
		Containers: ctrs,
		Images:     imgs,
		System:     sys,
		Messenger:  NewNullMessenger(),
		Grace:      50 * time.Millisecond,
		Stdin:      strings.NewReader(""),
		Stdout:     io.Discard,
		Stderr:     io.Discard,
	})
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var serr *SessionError
	if !errors.As(err, &serr) {
		t.Fatalf("error %v is not a *SessionError", err)
	}
	return serr.Kind
}

func TestRunSuccessAlwaysRemoves(t *testing.T) {
	for _, exitCode := range []int{0, 7} {
		t.Run(fmt.Sprintf("exit %d", exitCode), func(t *testing.T) {
			ctrs := &mockContainerOps{
				waitFunc: func(ctx context.Context, id string) (int, error) {
					return exitCode, nil
				},
			}
			l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

			sess, err := l.Run(context.Background(), SessionRequest{
				Image:   "node:latest",
				HostDir: t.TempDir(),
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if sess.ExitCode != exitCode {
				t.Errorf("ExitCode = %d, want %d", sess.ExitCode, exitCode)
			}
			if sess.State != StateRemoved {
				t.Errorf("State = %s, want %s", sess.State, StateRemoved)
			}
			if !sess.Removed {
				t.Error("session container was not removed")
			}
			if got := ctrs.removes.Load(); got != 1 {
				t.Errorf("Remove called %d times, want 1", got)
			}
		})
	}
}

func TestRunBadHostDirNeverCreates(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	file := filepath.Join(t.TempDir(), "a-file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	for name, hostDir := range map[string]string{
		"missing":         missing,
		"not a directory": file,
	} {
		t.Run(name, func(t *testing.T) {
			ctrs := &mockContainerOps{}
			l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

			sess, err := l.Run(context.Background(), SessionRequest{
				Image:   "node:latest",
				HostDir: hostDir,
			})
			if kind := kindOf(t, err); kind != ResolutionError {
				t.Errorf("error kind = %s, want %s", kind, ResolutionError)
			}
			if sess.State != StateFailed {
				t.Errorf("State = %s, want %s", sess.State, StateFailed)
			}
			if sess.ExitCode != ReservedExitCode {
				t.Errorf("ExitCode = %d, want %d", sess.ExitCode, ReservedExitCode)
			}
			if got := ctrs.creates.Load(); got != 0 {
				t.Errorf("Create called %d times, want 0", got)
			}
		})
	}
}

func TestRunInvalidImage(t *testing.T) {
	ctrs := &mockContainerOps{}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "not a valid image ref",
		HostDir: t.TempDir(),
	})
	if kind := kindOf(t, err); kind != ValidationError {
		t.Errorf("error kind = %s, want %s", kind, ValidationError)
	}
	if sess.State != StateFailed {
		t.Errorf("State = %s, want %s", sess.State, StateFailed)
	}
	if got := ctrs.creates.Load(); got != 0 {
		t.Errorf("Create called %d times, want 0", got)
	}
}

func TestRunCreateFailure(t *testing.T) {
	ctrs := &mockContainerOps{
		createFunc: func(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error) {
			return "", errors.New("no such image: does-not-exist:tag")
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "does-not-exist:tag",
		HostDir: t.TempDir(),
	})
	if kind := kindOf(t, err); kind != CreateError {
		t.Errorf("error kind = %s, want %s", kind, CreateError)
	}
	if sess.Handle != "" {
		t.Errorf("Handle = %q, want empty: no handle may be stored on create failure", sess.Handle)
	}
	if sess.ExitCode != ReservedExitCode {
		t.Errorf("ExitCode = %d, want %d", sess.ExitCode, ReservedExitCode)
	}
	if ctrs.attaches.Load() != 0 || ctrs.waits.Load() != 0 || ctrs.removes.Load() != 0 {
		t.Errorf("attach/wait/remove called after create failure: %d/%d/%d",
			ctrs.attaches.Load(), ctrs.waits.Load(), ctrs.removes.Load())
	}
}

func TestRunAttachFailureStillRemoves(t *testing.T) {
	ctrs := &mockContainerOps{
		attachFunc: func(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
			return nil, errors.New("container already exited")
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	})
	if kind := kindOf(t, err); kind != AttachError {
		t.Errorf("error kind = %s, want %s", kind, AttachError)
	}
	if sess.ExitCode != ReservedExitCode {
		t.Errorf("ExitCode = %d, want %d", sess.ExitCode, ReservedExitCode)
	}
	if got := ctrs.removes.Load(); got != 1 {
		t.Errorf("Remove called %d times, want 1: teardown must run on failure paths", got)
	}
	if !sess.Removed {
		t.Error("container not removed after attach failure")
	}
}

func TestRunWaitFailureStillRemoves(t *testing.T) {
	ctrs := &mockContainerOps{
		waitFunc: func(ctx context.Context, id string) (int, error) {
			return 0, errors.New("daemon went away")
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	})
	if kind := kindOf(t, err); kind != AttachError {
		t.Errorf("error kind = %s, want %s", kind, AttachError)
	}
	if sess.ExitCode != ReservedExitCode {
		t.Errorf("ExitCode = %d, want %d", sess.ExitCode, ReservedExitCode)
	}
	if got := ctrs.removes.Load(); got != 1 {
		t.Errorf("Remove called %d times, want 1", got)
	}
}

func TestRunRemoveFailureKeepsExitCode(t *testing.T) {
	ctrs := &mockContainerOps{
		waitFunc: func(ctx context.Context, id string) (int, error) {
			return 5, nil
		},
		removeFunc: func(ctx context.Context, opts options.RemoveContainer, id string) (string, error) {
			return "", errors.New("device or resource busy")
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: cleanup failure must not become the session error, got %v", err)
	}
	if sess.ExitCode != 5 {
		t.Errorf("ExitCode = %d, want 5", sess.ExitCode)
	}
	if sess.CleanupErr == nil {
		t.Error("CleanupErr not recorded")
	} else if kind := kindOf(t, sess.CleanupErr); kind != CleanupError {
		t.Errorf("CleanupErr kind = %s, want %s", kind, CleanupError)
	}
	if sess.State != StateExited {
		t.Errorf("State = %s, want %s", sess.State, StateExited)
	}
}

func TestRunPersistSkipsRemoval(t *testing.T) {
	ctrs := &mockContainerOps{}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
		Persist: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ctrs.removes.Load(); got != 0 {
		t.Errorf("Remove called %d times, want 0 with persist", got)
	}
	if sess.State != StateExited {
		t.Errorf("State = %s, want %s", sess.State, StateExited)
	}
}

func TestRunPullsMissingImage(t *testing.T) {
	imgs := &mockImageOps{
		existsFunc: func(ctx context.Context, ref string) (bool, error) {
			return false, nil
		},
	}
	l := newTestLauncher(&mockContainerOps{}, imgs, &mockSystemOps{})

	if _, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := imgs.pulls.Load(); got != 1 {
		t.Errorf("Pull called %d times, want 1", got)
	}
}

func TestRunPullFailureIsCreateError(t *testing.T) {
	imgs := &mockImageOps{
		existsFunc: func(ctx context.Context, ref string) (bool, error) {
			return false, nil
		},
		pullFunc: func(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error) {
			return func() error { return errors.New("manifest unknown") }, nil
		},
	}
	ctrs := &mockContainerOps{}
	l := newTestLauncher(ctrs, imgs, &mockSystemOps{})

	_, err := l.Run(context.Background(), SessionRequest{
		Image:   "does-not-exist:tag",
		HostDir: t.TempDir(),
	})
	if kind := kindOf(t, err); kind != CreateError {
		t.Errorf("error kind = %s, want %s", kind, CreateError)
	}
	if got := ctrs.creates.Load(); got != 0 {
		t.Errorf("Create called %d times, want 0", got)
	}
}

func TestRunReapsStaleContainer(t *testing.T) {
	ctrs := &mockContainerOps{
		listFunc: func(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error) {
			return []types.ContainerSummary{
				{ID: "stale-id", Names: "quarantine-node-latest", State: "running"},
				{ID: "unrelated", Names: "something-else", State: "exited"},
			}, nil
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	if _, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// One stop for the running stale container, one remove for it plus the
	// session's own removal.
	if got := ctrs.stops.Load(); got != 1 {
		t.Errorf("Stop called %d times, want 1", got)
	}
	if got := ctrs.removes.Load(); got != 2 {
		t.Errorf("Remove called %d times, want 2", got)
	}
}

func TestRunUnknownRuntimeFallsBack(t *testing.T) {
	var gotRuntime string
	ctrs := &mockContainerOps{
		createFunc: func(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error) {
			gotRuntime = opts.Runtime
			return "mock-container-id", nil
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	if _, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
		Runtime: "no-such-runtime",
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotRuntime != "runc" {
		t.Errorf("runtime = %q, want fallback to %q", gotRuntime, "runc")
	}
}

func TestRunEngineInfoFailureIsRuntimeUnavailable(t *testing.T) {
	sys := &mockSystemOps{
		infoFunc: func(ctx context.Context) (*types.SystemInfo, error) {
			return nil, errors.New("cannot connect to the daemon")
		},
	}
	ctrs := &mockContainerOps{}
	l := newTestLauncher(ctrs, &mockImageOps{}, sys)

	_, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
		Runtime: "runsc",
	})
	if kind := kindOf(t, err); kind != RuntimeUnavailable {
		t.Errorf("error kind = %s, want %s", kind, RuntimeUnavailable)
	}
	if got := ctrs.creates.Load(); got != 0 {
		t.Errorf("Create called %d times, want 0", got)
	}
}

func TestRunInterruptStopsAndRemoves(t *testing.T) {
	attached := make(chan struct{})
	exited := make(chan struct{})

	ctrs := &mockContainerOps{
		attachFunc: func(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
			close(attached)
			return func() error {
				<-exited
				return errors.New("exit status 130")
			}, nil
		},
		stopFunc: func(ctx context.Context, opts options.StopContainer, id string) (string, error) {
			close(exited)
			return "stopped", nil
		},
		waitFunc: func(ctx context.Context, id string) (int, error) {
			return 130, nil
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sigc := make(chan os.Signal, 2)
	l.interrupts = sigc
	go func() {
		<-attached
		sigc <- os.Interrupt
	}()

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.ExitCode != 130 {
		t.Errorf("ExitCode = %d, want 130 (terminated by interrupt)", sess.ExitCode)
	}
	if sess.State != StateRemoved {
		t.Errorf("State = %s, want %s", sess.State, StateRemoved)
	}
	if got := ctrs.stops.Load(); got != 1 {
		t.Errorf("Stop called %d times, want 1", got)
	}
	if got := ctrs.removes.Load(); got != 1 {
		t.Errorf("Remove called %d times, want 1", got)
	}
}

func TestRunSecondInterruptKills(t *testing.T) {
	attached := make(chan struct{})
	exited := make(chan struct{})
	stopBlocked := make(chan struct{})
	testDone := make(chan struct{})
	defer close(testDone)
	var exitOnce sync.Once

	ctrs := &mockContainerOps{
		attachFunc: func(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
			close(attached)
			return func() error {
				<-exited
				return errors.New("exit status 137")
			}, nil
		},
		stopFunc: func(ctx context.Context, opts options.StopContainer, id string) (string, error) {
			// A stop that hangs: only the kill path can end this session.
			close(stopBlocked)
			<-testDone
			return "", errors.New("stop never finished")
		},
		killFunc: func(ctx context.Context, opts options.KillContainer, id string) (string, error) {
			exitOnce.Do(func() { close(exited) })
			return "killed", nil
		},
		waitFunc: func(ctx context.Context, id string) (int, error) {
			return 137, nil
		},
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	sigc := make(chan os.Signal, 2)
	l.interrupts = sigc
	go func() {
		<-attached
		sigc <- os.Interrupt
		<-stopBlocked
		sigc <- os.Interrupt
	}()

	sess, err := l.Run(context.Background(), SessionRequest{
		Image:   "node:latest",
		HostDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.ExitCode != 137 {
		t.Errorf("ExitCode = %d, want 137 (killed)", sess.ExitCode)
	}
	if got := ctrs.kills.Load(); got < 1 {
		t.Errorf("Kill called %d times, want at least 1", got)
	}
	if sess.State != StateRemoved {
		t.Errorf("State = %s, want %s", sess.State, StateRemoved)
	}
}

func TestRunTwiceLeavesNoResidue(t *testing.T) {
	// Two sequential sessions with the same image and directory: each gets
	// its own container and removes it; the second run sees no leftovers.
	var live []string
	ctrs := &mockContainerOps{}
	ctrs.createFunc = func(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error) {
		id := fmt.Sprintf("ctr-%d", ctrs.creates.Load())
		live = append(live, id)
		return id, nil
	}
	ctrs.removeFunc = func(ctx context.Context, opts options.RemoveContainer, id string) (string, error) {
		for i, l := range live {
			if l == id {
				live = append(live[:i], live[i+1:]...)
				return "removed", nil
			}
		}
		return "", errors.New("no such container")
	}
	l := newTestLauncher(ctrs, &mockImageOps{}, &mockSystemOps{})

	hostDir := t.TempDir()
	req := SessionRequest{Image: "node:latest", HostDir: hostDir}
	for i := range 2 {
		sess, err := l.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
		if sess.State != StateRemoved {
			t.Fatalf("Run #%d State = %s, want %s", i+1, sess.State, StateRemoved)
		}
		if len(live) != 0 {
			t.Fatalf("Run #%d left %d containers behind", i+1, len(live))
		}
	}
}

// Package dockercli shells out to the docker CLI. It is the only part of
// quarantine that talks to the container engine; everything above it sees
// the ContainerOps/ImageOps/SystemOps interfaces in the root package.
package dockercli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/banksean/quarantine/dockercli/options"
	"github.com/banksean/quarantine/dockercli/types"
)

type ContainerSvc struct{}

// Containers is a service interface to interact with docker containers.
var Containers ContainerSvc

// List returns container summaries, or an error. `docker ps --format json`
// emits one JSON object per line.
func (c *ContainerSvc) List(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error) {
	args := options.ToArgs(opts)
	args = append([]string{"ps", "--no-trunc", "--format", "json"}, args...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var containers []types.ContainerSummary
	dec := json.NewDecoder(bytes.NewReader(output))
	for dec.More() {
		var ctr types.ContainerSummary
		if err := dec.Decode(&ctr); err != nil {
			return nil, err
		}
		containers = append(containers, ctr)
	}
	return containers, nil
}

// Inspect returns details about the requested container IDs, or an error.
func (c *ContainerSvc) Inspect(ctx context.Context, id ...string) ([]types.Container, error) {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"inspect"}, id...)...)
	rawJSON, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	ret := []types.Container{}
	if err := json.Unmarshal(rawJSON, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// Create creates a new container with the given options, image and init args.
// It returns the ID of the new container instance.
func (c *ContainerSvc) Create(ctx context.Context, opts options.CreateContainer, imageName string, initArgs []string) (string, error) {
	args := options.ToArgs(opts)
	args = append([]string{"create"}, append(args, imageName)...)
	cmd := exec.CommandContext(ctx, "docker", append(args, initArgs...)...)
	slog.InfoContext(ctx, "ContainerSvc.Create", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), err
	}
	return strings.TrimSpace(string(output)), nil
}

// AttachStream starts the container and attaches the given streams to its
// stdio. It returns a wait func that blocks until the in-container process
// exits. When stdin is a real terminal it is switched to raw mode for the
// duration of the session, so control characters reach the container instead
// of the host; otherwise the streams are bridged through a pseudo-terminal.
func (c *ContainerSvc) AttachStream(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
	args := append([]string{"start"}, options.ToArgs(options.StartContainer{Attach: true, Interactive: true})...)
	cmd := exec.CommandContext(ctx, "docker", append(args, id)...)
	slog.InfoContext(ctx, "ContainerSvc.AttachStream", "cmd", strings.Join(cmd.Args, " "))
	// Own process group: terminal signals go to us, the relay decides what
	// the container sees.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var restore func()
	stdinFile, isFile := stdin.(*os.File)
	if isFile && term.IsTerminal(int(stdinFile.Fd())) {
		oldState, err := term.MakeRaw(int(stdinFile.Fd()))
		if err != nil {
			return nil, err
		}
		restore = func() { term.Restore(int(stdinFile.Fd()), oldState) } //nolint:errcheck
		cmd.Stdin = stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			restore()
			return nil, err
		}
	} else {
		slog.InfoContext(ctx, "ContainerSvc.AttachStream: bridging through a pseudo-terminal")
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		go io.Copy(ptmx, stdin)    //nolint:errcheck
		go io.Copy(stdout, ptmx)   //nolint:errcheck
		restore = func() { ptmx.Close() }
	}

	return func() error {
		err := cmd.Wait()
		if restore != nil {
			restore()
		}
		if err != nil {
			// The attach subprocess exits nonzero whenever the shell does;
			// the authoritative code comes from Wait on the container.
			slog.InfoContext(ctx, "ContainerSvc.AttachStream wait", "error", err)
		}
		return err
	}, nil
}

// Wait blocks until the container exits and returns its exit code verbatim.
func (c *ContainerSvc) Wait(ctx context.Context, id string) (int, error) {
	cmd := exec.CommandContext(ctx, "docker", "wait", id)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(output)))
}

// Stop stops a container instance with a given ID. It returns the stop command output, or an error.
func (c *ContainerSvc) Stop(ctx context.Context, opts options.StopContainer, id string) (string, error) {
	args := options.ToArgs(opts)
	args = append([]string{"stop"}, append(args, id)...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	slog.InfoContext(ctx, "ContainerSvc.Stop", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Kill kills a container instance with a given ID.
func (c *ContainerSvc) Kill(ctx context.Context, opts options.KillContainer, id string) (string, error) {
	args := options.ToArgs(opts)
	args = append([]string{"kill"}, append(args, id)...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	slog.InfoContext(ctx, "ContainerSvc.Kill", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Remove deletes a container instance and its writable layer.
func (c *ContainerSvc) Remove(ctx context.Context, opts options.RemoveContainer, id string) (string, error) {
	args := options.ToArgs(opts)
	args = append([]string{"rm"}, append(args, id)...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	slog.InfoContext(ctx, "ContainerSvc.Remove", "cmd", strings.Join(cmd.Args, " "))
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

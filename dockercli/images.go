package dockercli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/banksean/quarantine/dockercli/options"
)

type ImagesSvc struct{}

// Images is a service interface to interact with docker images.
var Images ImagesSvc

// Exists reports whether the image is present in the local store.
func (i *ImagesSvc) Exists(ctx context.Context, ref string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", "--format", "{{.Id}}", ref)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Nonzero exit means the image isn't in the local store.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Pull pulls an image, streaming the CLI's progress output to the given
// writer. It returns a wait func that blocks on the pull's completion.
func (i *ImagesSvc) Pull(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error) {
	args := options.ToArgs(opts)
	args = append([]string{"pull"}, append(args, ref)...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	slog.InfoContext(ctx, "ImagesSvc.Pull", "cmd", strings.Join(cmd.Args, " "))
	cmd.Stdout = progress
	cmd.Stderr = progress

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

package quarantine

import (
	"context"
	"io"

	"github.com/banksean/quarantine/dockercli"
	"github.com/banksean/quarantine/dockercli/options"
	"github.com/banksean/quarantine/dockercli/types"
)

// ContainerOps is the runtime client contract for container lifecycle
// operations. The docker-backed implementation lives in dockercli; tests
// substitute mocks.
type ContainerOps interface {
	List(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error)
	Inspect(ctx context.Context, id ...string) ([]types.Container, error)
	Create(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error)
	AttachStream(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error)
	Wait(ctx context.Context, id string) (int, error)
	Stop(ctx context.Context, opts options.StopContainer, id string) (string, error)
	Kill(ctx context.Context, opts options.KillContainer, id string) (string, error)
	Remove(ctx context.Context, opts options.RemoveContainer, id string) (string, error)
}

// ImageOps is the runtime client contract for image operations.
type ImageOps interface {
	Exists(ctx context.Context, ref string) (bool, error)
	Pull(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error)
}

// SystemOps is the runtime client contract for engine-level queries.
type SystemOps interface {
	Version(ctx context.Context) (string, error)
	Info(ctx context.Context) (*types.SystemInfo, error)
}

type dockerContainerOps struct{}

func NewDockerContainerOps() ContainerOps {
	return &dockerContainerOps{}
}

func (d *dockerContainerOps) List(ctx context.Context, opts options.ListContainers) ([]types.ContainerSummary, error) {
	return dockercli.Containers.List(ctx, opts)
}

func (d *dockerContainerOps) Inspect(ctx context.Context, id ...string) ([]types.Container, error) {
	return dockercli.Containers.Inspect(ctx, id...)
}

func (d *dockerContainerOps) Create(ctx context.Context, opts options.CreateContainer, image string, initArgs []string) (string, error) {
	return dockercli.Containers.Create(ctx, opts, image, initArgs)
}

func (d *dockerContainerOps) AttachStream(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (func() error, error) {
	return dockercli.Containers.AttachStream(ctx, id, stdin, stdout, stderr)
}

func (d *dockerContainerOps) Wait(ctx context.Context, id string) (int, error) {
	return dockercli.Containers.Wait(ctx, id)
}

func (d *dockerContainerOps) Stop(ctx context.Context, opts options.StopContainer, id string) (string, error) {
	return dockercli.Containers.Stop(ctx, opts, id)
}

func (d *dockerContainerOps) Kill(ctx context.Context, opts options.KillContainer, id string) (string, error) {
	return dockercli.Containers.Kill(ctx, opts, id)
}

func (d *dockerContainerOps) Remove(ctx context.Context, opts options.RemoveContainer, id string) (string, error) {
	return dockercli.Containers.Remove(ctx, opts, id)
}

type dockerImageOps struct{}

func NewDockerImageOps() ImageOps {
	return &dockerImageOps{}
}

func (d *dockerImageOps) Exists(ctx context.Context, ref string) (bool, error) {
	return dockercli.Images.Exists(ctx, ref)
}

func (d *dockerImageOps) Pull(ctx context.Context, opts options.PullImage, ref string, progress io.Writer) (func() error, error) {
	return dockercli.Images.Pull(ctx, opts, ref, progress)
}

type dockerSystemOps struct{}

func NewDockerSystemOps() SystemOps {
	return &dockerSystemOps{}
}

func (d *dockerSystemOps) Version(ctx context.Context) (string, error) {
	return dockercli.System.Version(ctx)
}

func (d *dockerSystemOps) Info(ctx context.Context) (*types.SystemInfo, error) {
	return dockercli.System.Info(ctx)
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/banksean/quarantine"
	"github.com/banksean/quarantine/journal"
)

type RunCmd struct {
	Image   string        `arg:"" default:"alpine:latest" placeholder:"<image>" predictor:"image" help:"container image to run, e.g. node:latest"`
	Shell   string        `short:"s" default:"/bin/sh" placeholder:"<shell-command>" help:"shell command to exec in the container"`
	Runtime string        `short:"r" placeholder:"<runtime>" help:"container runtime to use (e.g. runsc); reverts to the engine default if not found"`
	Persist bool          `short:"p" help:"keep the container after the session ends"`
	Pull    bool          `help:"pull the image even if it is already present locally"`
	Grace   time.Duration `default:"10s" help:"grace period for stopping the container on interrupt"`
}

func (c *RunCmd) Run(cctx *Context) error {
	ctx := cctx.Context
	slog.InfoContext(ctx, "RunCmd.Run", "image", c.Image)

	if err := verifyPrerequisites(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "quarantine: %v\n", err)
		cctx.ExitCode = quarantine.ReservedExitCode
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		slog.ErrorContext(ctx, "os.Getwd", "error", err)
		return err
	}

	launcher := quarantine.NewLauncher(quarantine.LauncherOptions{
		Grace: c.Grace,
	})
	sess, err := launcher.Run(ctx, quarantine.SessionRequest{
		Image:   c.Image,
		HostDir: cwd,
		Entry:   c.Shell,
		Runtime: c.Runtime,
		Persist: c.Persist,
		Pull:    c.Pull,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "quarantine: %v\n", err)
	}

	c.record(cctx, sess, cwd)

	cctx.ExitCode = sess.ExitCode
	return nil
}

// record appends the session outcome to the history journal. Best effort: the
// journal must never change a session's result.
func (c *RunCmd) record(cctx *Context, sess *quarantine.Session, cwd string) {
	ctx := cctx.Context
	j, err := journal.Open(filepath.Join(cctx.DataDir, "quarantine.db"))
	if err != nil {
		slog.WarnContext(ctx, "opening journal", "error", err)
		return
	}
	defer j.Close()

	failure := ""
	if sess.Failure != nil {
		failure = sess.Failure.Kind.String()
	}
	if err := j.Record(ctx, journal.Entry{
		ID:            sess.ID,
		Image:         c.Image,
		HostDir:       cwd,
		ContainerName: sess.Spec.Name,
		ExitCode:      sess.ExitCode,
		Failure:       failure,
		StartedAt:     sess.StartedAt,
		FinishedAt:    sess.FinishedAt,
	}); err != nil {
		slog.WarnContext(ctx, "recording session", "error", err)
	}
}

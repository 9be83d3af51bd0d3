package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/banksean/quarantine/dockercli"
)

type diagnosticCheck struct {
	Name string
	Run  func(context.Context) error
}

var diagnosticChecks = []diagnosticCheck{
	{
		Name: "docker CLI on PATH",
		Run: func(ctx context.Context) error {
			if _, err := exec.LookPath("docker"); err != nil {
				return errors.New("could not find the docker CLI; install docker or make sure it is on your PATH")
			}
			return nil
		},
	},
	{
		Name: "docker daemon reachable",
		Run: func(ctx context.Context) error {
			if _, err := dockercli.System.Info(ctx); err != nil {
				return fmt.Errorf("the docker daemon is not responding: %w", err)
			}
			return nil
		},
	},
}

// verifyPrerequisites runs the diagnostic checks concurrently and reports
// every failure, not just the first.
func verifyPrerequisites(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	failures := make([]error, len(diagnosticChecks))
	for i, check := range diagnosticChecks {
		g.Go(func() error {
			if err := check.Run(ctx); err != nil {
				slog.ErrorContext(ctx, "diagnosticCheck failed", "name", check.Name, "error", err)
				failures[i] = err
				return nil
			}
			slog.InfoContext(ctx, "diagnosticCheck passed", "name", check.Name)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // checks record failures instead of aborting each other
	return errors.Join(failures...)
}

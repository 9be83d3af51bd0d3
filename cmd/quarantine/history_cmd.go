package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banksean/quarantine/journal"
)

type HistoryCmd struct {
	Limit  int    `short:"n" default:"20" help:"maximum number of sessions to show"`
	Output string `short:"o" default:"text" enum:"text,json,yaml" help:"output format (text, json, yaml)"`
}

func (c *HistoryCmd) Run(cctx *Context) error {
	ctx := cctx.Context

	j, err := journal.Open(filepath.Join(cctx.DataDir, "quarantine.db"))
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(ctx, c.Limit)
	if err != nil {
		return err
	}

	switch c.Output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(entries)
	}

	if len(entries) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tIMAGE\tDIRECTORY\tEXIT\tRESULT\t")
	for _, e := range entries {
		result := "ok"
		if e.Failure != "" {
			result = e.Failure
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t\n",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Second),
			e.Image, e.HostDir, e.ExitCode, result)
	}
	return w.Flush()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banksean/quarantine/telemetry"
)

// Context is passed to every subcommand's Run method.
type Context struct {
	Context context.Context
	DataDir string
	// ExitCode is the process exit status. The run command sets it to the
	// in-container exit code, or the reserved failure code.
	ExitCode int
}

type CLI struct {
	LogFile  string `default:"/tmp/quarantine/log" placeholder:"<log-file-path>" help:"location of the structured log file"`
	LogLevel string `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`
	DataDir  string `default:"/tmp/quarantine/data" placeholder:"<data-dir>" help:"directory for the session history database"`

	Run     RunCmd     `cmd:"" default:"withargs" help:"run an interactive sandbox session in the current directory"`
	History HistoryCmd `cmd:"" help:"list recent sandbox sessions"`
	Version VersionCmd `cmd:"" help:"print version information about this command"`
}

func (c *CLI) initSlog() {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // Default to info if invalid
	}

	if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
		panic(err)
	}

	// JSON log to a rotated file: stdout and stderr belong to the sandbox
	// session while it is attached.
	logger := slog.New(slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Info("slog initialized")
}

const description = `Run untrusted code in a disposable container sandbox.

Mounts the current working directory read-write at /quarantine inside a fresh
container, attaches an interactive shell, and removes the container when the
session ends - however it ends.`

func main() {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Name("quarantine"),
		kong.Description(description),
		kong.Configuration(kongyaml.Loader, "/etc/quarantine/config.yaml", "~/.config/quarantine/config.yaml"),
	)
	kongcompletion.Register(parser,
		kongcompletion.WithPredictor("image", complete.PredictAnything),
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cli.initSlog()

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry setup failed: %v\n", err)
	}

	cctx := &Context{
		Context: ctx,
		DataDir: cli.DataDir,
	}
	runErr := kctx.Run(cctx)
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}
	kctx.FatalIfErrorf(runErr)
	os.Exit(cctx.ExitCode)
}

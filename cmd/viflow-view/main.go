// Command viflow-view renders the flow archives written by viflow into
// images and an HTML magnitude chart.
//
// Usage:
//
//	viflow-view [flags] [config.json]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/monitoring"
	"github.com/banshee-data/viflow/internal/version"
	"github.com/banshee-data/viflow/internal/viewer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("viflow-view", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("out", "view", "Directory for rendered images and the chart")
	mode := fs.String("mode", "", "Override view_mode: image or arrow")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn or error")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: viflow-view [flags] [config.json]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "viflow-view %s\n", version.String())
		return 0
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}
	if *mode != "" && *mode != config.ViewModeImage && *mode != config.ViewModeArrow {
		fmt.Fprintf(stderr, "unknown mode %q\n", *mode)
		return 2
	}
	cfgPath := config.DefaultConfigPath
	if fs.NArg() == 1 {
		cfgPath = fs.Arg(0)
	}

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := monitoring.NewLogger(monitoring.Options{Console: stderr, Level: level})

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "path", cfgPath, "error", err)
		return 1
	}
	cfg.Log(logger)

	opts := viewer.FromConfig(cfg, *outDir)
	opts.Logger = logger
	if *mode != "" {
		opts.Mode = *mode
	}
	res, err := viewer.New(opts).Render(ctx)
	if err != nil {
		logger.Error("render failed", "error", err)
		return 1
	}
	logger.Info("render done", "archives", len(res.Outputs), "skipped", len(res.Skipped), "chart", res.Chart)
	return 0
}

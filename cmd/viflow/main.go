// Command viflow converts the videos (or .npy frame arrays) named by a
// configuration file into dense optical flow archives.
//
// Usage:
//
//	viflow [flags] [config.json]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/ffmpeg"
	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/metrics"
	"github.com/banshee-data/viflow/internal/monitoring"
	"github.com/banshee-data/viflow/internal/pipeline"
	"github.com/banshee-data/viflow/internal/runlog"
	"github.com/banshee-data/viflow/internal/timeutil"
	"github.com/banshee-data/viflow/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit; it returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("viflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logFile := fs.String("log-file", "viflow.log", "Log file, truncated each run (empty disables)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn or error")
	dbPath := fs.String("db", "", "SQLite run ledger path (empty disables)")
	metricsFile := fs.String("metrics-textfile", "", "Write Prometheus metrics in textfile format to this path at exit")
	showVersion := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: viflow [flags] [config.json]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "viflow %s\n", version.String())
		return 0
	}
	if fs.NArg() > 1 {
		fs.Usage()
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
	opts := monitoring.Options{Console: stderr, Level: level}
	if *logFile != "" {
		f, err := os.Create(*logFile)
		if err != nil {
			fmt.Fprintf(stderr, "open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		opts.File = f
	}
	logger := monitoring.NewLogger(opts)
	logger.Info("viflow starting", "version", version.Version, "git_sha", version.GitSHA,
		"build_time", version.BuildTime, "go", runtime.Version())

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "path", cfgPath, "error", err)
		return 1
	}
	cfg.Log(logger)

	if err := convert(ctx, cfg, *dbPath, *metricsFile, logger); err != nil {
		logger.Error("run failed", "kind", pipeline.ErrorKind(err), "error", err)
		return 1
	}
	return 0
}

func convert(ctx context.Context, cfg config.Config, dbPath, metricsFile string, logger *slog.Logger) (err error) {
	clock := timeutil.RealClock{}
	collector := metrics.NewCollector()
	reporters := []pipeline.Reporter{collector}

	var (
		store *runlog.Store
		runID string
	)
	if dbPath != "" {
		store, err = runlog.Open(dbPath, logger, clock)
		if err != nil {
			return fmt.Errorf("open run ledger: %w", err)
		}
		defer store.Close()
		runID, err = store.StartRun(ctx, version.String(), cfg)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		logger.Info("run started", "run_id", runID, "db", dbPath)
		reporters = append(reporters, store.Recorder(runID))
	}

	tool := ffmpeg.New(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.FFprobePath)
	orch := pipeline.New(pipeline.Options{
		Config:    cfg,
		Decoders:  frames.FFmpegDecoders(tool),
		Logger:    logger,
		Clock:     clock,
		Reporters: reporters,
	})
	sum, runErr := orch.Run(ctx)

	collector.RunFinished(sum, runErr, clock.Now())
	if metricsFile != "" {
		if err := collector.WriteTextfile(metricsFile); err != nil {
			logger.Warn("write metrics", "path", metricsFile, "error", err)
		}
	}
	if store != nil {
		// The run itself may have been cancelled; the ledger still gets the outcome.
		if err := store.FinishRun(context.WithoutCancel(ctx), runID, sum, runErr); err != nil {
			logger.Warn("finish run", "run_id", runID, "error", err)
		}
	}
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		logger.Warn("interrupted", "written", sum.Written)
	}
	return runErr
}

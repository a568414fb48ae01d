package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/flowstore"
	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/monitoring"
	"github.com/banshee-data/viflow/internal/timeutil"
	"github.com/banshee-data/viflow/internal/transform"
)

// Options wire an Orchestrator. Zero FS, Clock and Method fall back to
// the OS filesystem, the wall clock and TV-L1 with the configured
// parameters.
type Options struct {
	Config    config.Config
	FS        fsutil.FileSystem
	Decoders  frames.DecoderOpener
	Method    flow.Method
	Logger    *slog.Logger
	Clock     timeutil.Clock
	Reporters []Reporter
}

// Orchestrator runs the conversion of one configuration.
type Orchestrator struct {
	cfg       config.Config
	fs        fsutil.FileSystem
	decoders  frames.DecoderOpener
	method    flow.Method
	logger    *slog.Logger
	clock     timeutil.Clock
	reporters []Reporter
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:       opts.Config,
		fs:        opts.FS,
		decoders:  opts.Decoders,
		method:    opts.Method,
		logger:    opts.Logger,
		clock:     opts.Clock,
		reporters: opts.Reporters,
	}
	if o.fs == nil {
		o.fs = fsutil.OSFileSystem{}
	}
	if o.clock == nil {
		o.clock = timeutil.RealClock{}
	}
	if o.method == nil {
		o.method = flow.NewTVL1(FlowParams(o.cfg.Flow))
	}
	if o.logger == nil {
		o.logger = monitoring.Discard()
	}
	return o
}

// FlowParams converts the configured flow settings.
func FlowParams(s config.FlowSettings) flow.Params {
	return flow.Params{
		Tau:        s.Tau,
		Lambda:     s.Lambda,
		Theta:      s.Theta,
		Scales:     s.Scales,
		ScaleStep:  s.ScaleStep,
		Warps:      s.Warps,
		Epsilon:    s.Epsilon,
		Iterations: s.Iterations,
		Median:     s.Median,
	}
}

// Discover lists the input files matching the configured pattern, sorted.
func (o *Orchestrator) Discover() ([]string, error) {
	return o.fs.Glob(o.cfg.InputPattern())
}

func (o *Orchestrator) open(ctx context.Context, path string) (frames.Source, error) {
	if o.cfg.IsArrayInput() {
		return frames.OpenArray(o.fs, path, o.logger)
	}
	if o.decoders == nil {
		return nil, &frames.OpenError{Path: path, Err: errors.New("no video decoder configured")}
	}
	return frames.OpenVideo(ctx, path, o.cfg.Framerate, o.decoders, o.logger)
}

// tracker follows per-input progress between the source hooks and the
// writer.
type tracker struct {
	o       *Orchestrator
	ctx     context.Context
	started map[string]time.Time
	summary Summary
}

func (t *tracker) report(r FileReport) {
	t.summary.add(r)
	for _, rep := range t.o.reporters {
		if err := rep.FileDone(t.ctx, r); err != nil {
			t.o.logger.Warn("reporting file", "source", frames.BaseName(r.Path), "error", err)
		}
	}
}

func (t *tracker) hooks() frames.Hooks {
	return frames.Hooks{
		OnOpen: func(path string) {
			t.started[path] = t.o.clock.Now()
		},
		OnOpenError: func(path string, err error) {
			t.report(FileReport{Path: path, Status: StatusOpenFailed, Err: err})
		},
		OnDone: func(path string, n int, elapsed time.Duration) {
			if n == 0 {
				t.report(FileReport{Path: path, Status: StatusEmpty, Elapsed: elapsed})
			}
		},
	}
}

// Run converts every discovered input. The returned error is fatal;
// open failures are only reported.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.clock.Now()
	paths, err := o.Discover()
	if err != nil {
		return Summary{}, err
	}
	if len(paths) == 0 {
		o.logger.Warn("no input files", "pattern", o.cfg.InputPattern())
	}

	t := &tracker{o: o, ctx: ctx, started: map[string]time.Time{}}
	t.summary.Files = len(paths)

	inputs := frames.NewInputs(ctx, paths, o.open, t.hooks(), o.logger, o.clock)
	stage := transform.NewStage(inputs, transform.Standard(o.cfg.CropWidth, o.cfg.CropHeight, o.cfg.Downsample))
	computer := flow.NewComputer(stage, o.method, o.logger)
	defer computer.Close()
	writer := flowstore.NewWriter(o.fs, filepath.Clean(o.cfg.OutDir), o.logger)

	for {
		stack, err := computer.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.summary.Elapsed = o.clock.Since(start)
			return t.summary, err
		}
		_, res, err := writer.Write(stack)
		if err != nil {
			t.summary.Elapsed = o.clock.Since(start)
			return t.summary, err
		}
		elapsed := o.clock.Since(t.started[stack.SourceID])
		o.logger.Info("file done", "source", frames.BaseName(stack.SourceID),
			"shape", res.Shape, "dtype", res.DType, "took", timeutil.FormatElapsed(elapsed))
		t.report(FileReport{
			Path:    stack.SourceID,
			Status:  StatusWritten,
			Frames:  stack.FrameCount,
			Pairs:   stack.Pairs(),
			Shape:   res.Shape,
			Output:  res.Path,
			Bytes:   res.Bytes,
			Elapsed: elapsed,
			Summary: flow.Summarize(stack),
		})
	}

	t.summary.Elapsed = o.clock.Since(start)
	o.logger.Info("processing all took", "took", timeutil.FormatElapsed(t.summary.Elapsed),
		"files", t.summary.Files, "written", t.summary.Written,
		"open_failed", t.summary.OpenFailed, "empty", t.summary.Empty,
		"pairs", t.summary.Pairs)
	return t.summary, nil
}

// Package viewer renders stored flow archives to files: an animated HSV
// GIF or arrow PNGs per source, plus an HTML magnitude chart.
package viewer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/flowstore"
	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/monitoring"
)

// ChartName is the file name of the magnitude chart.
const ChartName = "flows.html"

// Options configure a Renderer. FS and Logger default to the real
// filesystem and a discarding logger.
type Options struct {
	FS         fsutil.FileSystem
	InDir      string
	OutDir     string
	Downsample int
	Mode       string
	Pause      float64
	Logger     *slog.Logger
}

// FromConfig takes the archive directory and view settings from cfg.
func FromConfig(cfg config.Config, outDir string) Options {
	return Options{
		InDir:      cfg.OutDir,
		OutDir:     outDir,
		Downsample: cfg.ViewDownsample,
		Mode:       cfg.ViewMode,
		Pause:      cfg.ViewPause,
	}
}

// Output lists what was rendered for one archive.
type Output struct {
	Archive string
	Pairs   int
	Files   []string
}

// Result is the outcome of Render.
type Result struct {
	Outputs []Output
	Skipped []string
	Chart   string
}

// Renderer turns archives into images.
type Renderer struct {
	opts Options
}

// New returns a Renderer.
func New(opts Options) *Renderer {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Discard()
	}
	if opts.Downsample < 1 {
		opts.Downsample = 1
	}
	if opts.Mode == "" {
		opts.Mode = config.ViewModeImage
	}
	return &Renderer{opts: opts}
}

// Render processes every archive in InDir in name order. Unreadable
// archives are logged and skipped; failing to write an output is fatal.
func (r *Renderer) Render(ctx context.Context) (Result, error) {
	var res Result
	paths, err := flowstore.List(r.opts.FS, r.opts.InDir)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", r.opts.InDir, err)
	}
	if len(paths) == 0 {
		r.opts.Logger.Warn("no flow archives", "dir", r.opts.InDir)
		return res, nil
	}
	if err := r.opts.FS.MkdirAll(r.opts.OutDir, 0755); err != nil {
		return res, err
	}

	var summaries []SourceSummary
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stack, err := flowstore.Load(r.opts.FS, path)
		if err != nil {
			r.opts.Logger.Warn("skipping archive", "path", path, "error", err)
			res.Skipped = append(res.Skipped, path)
			continue
		}
		name := archiveName(path)
		summaries = append(summaries, SourceSummary{Name: name, Summary: flow.Summarize(stack)})

		out, err := r.renderStack(name, stack)
		out.Archive = path
		if err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, out)
		r.opts.Logger.Info("archive rendered", "archive", name, "pairs", out.Pairs,
			"mode", r.opts.Mode, "files", len(out.Files))
	}

	if len(summaries) > 0 {
		res.Chart = filepath.Join(r.opts.OutDir, ChartName)
		if err := r.create(res.Chart, func(f io.Writer) error { return WriteChart(f, summaries) }); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Renderer) renderStack(name string, s flow.Stack) (Output, error) {
	out := Output{Pairs: s.Pairs()}
	if s.Pairs() == 0 {
		return out, nil
	}
	if r.opts.Mode == config.ViewModeArrow {
		for i, f := range s.Fields {
			path := filepath.Join(r.opts.OutDir, fmt.Sprintf("%s_%04d.png", name, i))
			title := fmt.Sprintf("%s %d/%d", name, i+1, s.Pairs())
			field := Downsample(f, r.opts.Downsample)
			if err := r.create(path, func(w io.Writer) error { return Quiver(w, field, title) }); err != nil {
				return out, err
			}
			out.Files = append(out.Files, path)
		}
		return out, nil
	}

	anim := NewAnimation(r.opts.Pause)
	for _, f := range s.Fields {
		anim.Add(Downsample(f, r.opts.Downsample))
	}
	path := filepath.Join(r.opts.OutDir, name+".gif")
	if err := r.create(path, func(w io.Writer) error { return anim.Encode(w) }); err != nil {
		return out, err
	}
	out.Files = append(out.Files, path)
	return out, nil
}

func (r *Renderer) create(path string, fill func(io.Writer) error) error {
	f, err := r.opts.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fill(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func archiveName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), flowstore.Ext)
}

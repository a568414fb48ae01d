package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/viflow/internal/timeutil"
)

// Source yields the frames of one or more inputs in acquisition order.
type Source interface {
	// Next returns the next frame or io.EOF at the end of the sequence.
	Next() (Frame, error)
	// Close releases the underlying decoder. It is idempotent.
	Close() error
}

// OpenError reports an input that could not be opened. It is recoverable:
// the input contributes no frames and the run continues.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("could not open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// BaseName is the file name of path without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Opener opens one input path.
type Opener func(ctx context.Context, path string) (Source, error)

// Hooks observe the lifecycle of each input. Nil fields are skipped.
type Hooks struct {
	OnOpen      func(path string)
	OnOpenError func(path string, err error)
	// OnDone runs after the last frame of an input has been pulled.
	OnDone func(path string, frames int, elapsed time.Duration)
}

// Inputs concatenates the sources of several paths into one stream. Files
// are opened lazily, one at a time, and each decoder is closed before the
// next file is opened.
type Inputs struct {
	ctx    context.Context
	paths  []string
	open   Opener
	hooks  Hooks
	logger *slog.Logger
	clock  timeutil.Clock

	idx     int
	current Source
	path    string
	frames  int
	started time.Time
}

// NewInputs returns a stream over paths in order.
func NewInputs(ctx context.Context, paths []string, open Opener, hooks Hooks, logger *slog.Logger, clock timeutil.Clock) *Inputs {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	logger.Info("processing files", "count", len(paths))
	return &Inputs{ctx: ctx, paths: paths, open: open, hooks: hooks, logger: logger, clock: clock}
}

// Next returns the next frame of the current input, advancing to the next
// openable input as needed.
func (in *Inputs) Next() (Frame, error) {
	for {
		if err := in.ctx.Err(); err != nil {
			return Frame{}, err
		}
		if in.current == nil {
			if in.idx >= len(in.paths) {
				return Frame{}, io.EOF
			}
			in.advance()
			continue
		}

		f, err := in.current.Next()
		if err == nil {
			in.frames++
			return f, nil
		}
		if !errors.Is(err, io.EOF) {
			in.finish()
			return Frame{}, err
		}
		in.finish()
	}
}

func (in *Inputs) advance() {
	path := in.paths[in.idx]
	in.idx++
	in.logger.Info("processing file", "n", in.idx, "of", len(in.paths), "source", BaseName(path))

	src, err := in.open(in.ctx, path)
	if err != nil {
		in.logger.Error("could not open file", "path", path, "error", err)
		if in.hooks.OnOpenError != nil {
			in.hooks.OnOpenError(path, err)
		}
		return
	}
	if in.hooks.OnOpen != nil {
		in.hooks.OnOpen(path)
	}
	in.current = src
	in.path = path
	in.frames = 0
	in.started = in.clock.Now()
}

func (in *Inputs) finish() {
	if err := in.current.Close(); err != nil {
		in.logger.Warn("closing source", "path", in.path, "error", err)
	}
	elapsed := in.clock.Since(in.started)
	in.logger.Info("source finished", "source", BaseName(in.path), "frames", in.frames,
		"took", timeutil.FormatElapsed(elapsed))
	if in.hooks.OnDone != nil {
		in.hooks.OnDone(in.path, in.frames, elapsed)
	}
	in.current = nil
}

// Close releases the current source, if any.
func (in *Inputs) Close() error {
	if in.current == nil {
		return nil
	}
	err := in.current.Close()
	in.current = nil
	return err
}

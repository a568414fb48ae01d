package flow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/banshee-data/viflow/internal/frames"
)

// ErrSizeMismatch reports two neighbouring frames of one source with
// different sizes. It is fatal to the run.
var ErrSizeMismatch = errors.New("frame sizes differ")

// Computer turns a frame stream into one Stack per contiguous source.
type Computer struct {
	src    frames.Source
	method Method
	logger *slog.Logger

	pending    frames.Frame
	hasPending bool
	done       bool
}

// NewComputer reads frames from src and computes flow with method.
func NewComputer(src frames.Source, method Method, logger *slog.Logger) *Computer {
	return &Computer{src: src, method: method, logger: logger}
}

// Next returns the stack of the next source or io.EOF after the last one.
// A source with a single frame yields a stack without fields.
func (c *Computer) Next() (Stack, error) {
	if c.done && !c.hasPending {
		return Stack{}, io.EOF
	}

	var first frames.Frame
	if c.hasPending {
		first, c.hasPending = c.pending, false
	} else {
		f, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			c.done = true
			return Stack{}, io.EOF
		}
		if err != nil {
			return Stack{}, err
		}
		first = f
	}

	stack := Stack{
		SourceID:   first.SourceID,
		Width:      first.Image.Width,
		Height:     first.Image.Height,
		FrameCount: 1,
	}
	prev := first
	for !c.done {
		f, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			return Stack{}, err
		}
		if f.SourceID != stack.SourceID {
			c.pending, c.hasPending = f, true
			break
		}
		if f.Image.Width != prev.Image.Width || f.Image.Height != prev.Image.Height {
			return Stack{}, fmt.Errorf("%s frame %d: %w: %s then %s",
				frames.BaseName(stack.SourceID), stack.FrameCount, ErrSizeMismatch, prev.Image, f.Image)
		}
		field, err := c.method.Compute(prev.Image, f.Image)
		if err != nil {
			return Stack{}, fmt.Errorf("%s frame %d: %w", frames.BaseName(stack.SourceID), stack.FrameCount, err)
		}
		stack.Fields = append(stack.Fields, field)
		stack.FrameCount++
		prev = f
	}

	sum := Summarize(stack)
	c.logger.Info("flows computed", "source", frames.BaseName(stack.SourceID),
		"flows", stack.Pairs(), "mean_magnitude", sum.MeanMagnitude, "max_magnitude", sum.MaxMagnitude)
	return stack, nil
}

// Close closes the upstream source.
func (c *Computer) Close() error {
	return c.src.Close()
}

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/flowstore"
	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/transform"
)

// FileStatus is the outcome of one input.
type FileStatus string

const (
	StatusWritten    FileStatus = "written"
	StatusOpenFailed FileStatus = "open_failed"
	StatusEmpty      FileStatus = "empty"
)

// FileReport describes the outcome of one input.
type FileReport struct {
	Path    string
	Status  FileStatus
	Frames  int
	Pairs   int
	Shape   []int
	Output  string
	Bytes   int64
	Elapsed time.Duration
	Summary flow.Summary
	Err     error
}

// Reporter receives one report per input. Reporter failures are logged
// and do not stop the run.
type Reporter interface {
	FileDone(ctx context.Context, r FileReport) error
}

// Summary totals a run.
type Summary struct {
	Files      int
	Written    int
	OpenFailed int
	Empty      int
	Frames     int
	Pairs      int
	Bytes      int64
	Elapsed    time.Duration
}

func (s *Summary) add(r FileReport) {
	switch r.Status {
	case StatusWritten:
		s.Written++
	case StatusOpenFailed:
		s.OpenFailed++
	case StatusEmpty:
		s.Empty++
	}
	s.Frames += r.Frames
	s.Pairs += r.Pairs
	s.Bytes += r.Bytes
}

// ErrorKind names the class of a run error for logs and the run ledger.
func ErrorKind(err error) string {
	var oe *frames.OpenError
	var we *flowstore.WriteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &oe):
		return "open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, config.ErrInvalid):
		return "config"
	case errors.Is(err, transform.ErrGeometry):
		return "geometry"
	case errors.Is(err, flow.ErrSizeMismatch):
		return "geometry"
	case errors.As(err, &we):
		return "write"
	default:
		return "internal"
	}
}

// Recoverable reports whether err only affects a single input.
func Recoverable(err error) bool {
	var oe *frames.OpenError
	return errors.As(err, &oe)
}

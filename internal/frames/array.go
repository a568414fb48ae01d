package frames

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/npy"
)

// ArraySource streams the frames of a .npy file of shape (n, h, w) or
// (n, h, w, c) with c of 1 or 3. The target frame rate is not applied;
// every stored frame is emitted.
type ArraySource struct {
	path   string
	file   fs.File
	r      *npy.Reader
	width  int
	height int
	chans  int
	count  int
	logger *slog.Logger

	emitted int
	done    bool
}

// OpenArray parses the array header of path. Failures are returned as
// *OpenError.
func OpenArray(fsys fsutil.FileSystem, path string, logger *slog.Logger) (*ArraySource, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	r, err := npy.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}

	shape := r.Header.Shape
	s := &ArraySource{path: path, file: f, r: r, logger: logger}
	switch {
	case len(shape) == 3:
		s.count, s.height, s.width, s.chans = shape[0], shape[1], shape[2], 1
	case len(shape) == 4 && (shape[3] == 1 || shape[3] == 3):
		s.count, s.height, s.width, s.chans = shape[0], shape[1], shape[2], shape[3]
	default:
		f.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("frame array shape %v is not (n, h, w[, 1|3])", shape)}
	}
	if s.height <= 0 || s.width <= 0 {
		f.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("frame array shape %v has empty frames", shape)}
	}
	if err := checkArraySize(f, r.Header); err != nil {
		f.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	logger.Info("array opened", "source", BaseName(path), "shape", fmt.Sprint(shape), "dtype", r.Header.DType.String())
	return s, nil
}

// checkArraySize rejects headers whose size overflows or whose single
// frame is larger than the whole file, so a corrupt shape cannot size a
// frame buffer. A body shorter than the header claims is still read up
// to its last whole frame.
func checkArraySize(f fs.File, h npy.Header) error {
	if _, err := h.DataSize(); err != nil {
		return err
	}
	frame, err := npy.Header{DType: h.DType, Shape: h.Shape[1:]}.DataSize()
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if frame > st.Size() {
		return fmt.Errorf("%w: shape %v needs %d bytes per frame, file has %d", npy.ErrFormat, h.Shape, frame, st.Size())
	}
	return nil
}

// Len is the number of frames recorded in the header.
func (s *ArraySource) Len() int {
	return s.count
}

// Next returns the next stored frame.
func (s *ArraySource) Next() (Frame, error) {
	if s.done || s.emitted >= s.count {
		s.Close()
		return Frame{}, io.EOF
	}
	im := NewImage(s.width, s.height, s.chans)
	if err := s.r.Read(im.Pix); err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			s.logger.Warn("reading array stopped", "source", BaseName(s.path), "error", err)
		} else {
			s.logger.Warn("array truncated", "source", BaseName(s.path), "frames", s.emitted, "expected", s.count)
		}
		s.Close()
		return Frame{}, io.EOF
	}
	s.emitted++
	if s.emitted%progressEvery == 0 {
		s.logger.Debug("progress", "source", BaseName(s.path), "frames", s.emitted, "expected", s.count)
	}
	return Frame{SourceID: s.path, Image: im}, nil
}

// Close releases the file.
func (s *ArraySource) Close() error {
	s.done = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Package flowstore persists flow stacks as compressed NumPy archives.
//
// Each source becomes <outdir>/<basename>.npz holding one array, arr_0,
// of dtype <f2 and shape (pairs, height, width, 2).
package flowstore

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/npy"
)

// Ext is the archive file extension.
const Ext = ".npz"

// WriteError reports an archive that could not be written. The run
// treats it as fatal.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Result describes one written archive.
type Result struct {
	Path  string
	Shape []int
	DType string
	Bytes int64
}

// Writer writes stacks under one output directory.
type Writer struct {
	fs     fsutil.FileSystem
	outDir string
	logger *slog.Logger
}

// NewWriter returns a Writer for outDir.
func NewWriter(fs fsutil.FileSystem, outDir string, logger *slog.Logger) *Writer {
	return &Writer{fs: fs, outDir: outDir, logger: logger}
}

// PathFor is the archive path of a source.
func (w *Writer) PathFor(sourceID string) string {
	return filepath.Join(w.outDir, frames.BaseName(sourceID)+Ext)
}

// Write casts the stack to half precision and stores it. The stack is
// returned unchanged so writing can sit inside a stream.
func (w *Writer) Write(s flow.Stack) (flow.Stack, Result, error) {
	path := w.PathFor(s.SourceID)
	if err := w.fs.MkdirAll(w.outDir, 0755); err != nil {
		return s, Result{}, &WriteError{Path: path, Err: err}
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return s, Result{}, &WriteError{Path: path, Err: err}
	}
	cw := &countingWriter{w: f}
	bw := bufio.NewWriter(cw)
	err = encode(bw, s)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A partial archive would only be skipped later as unreadable.
		if rerr := w.fs.Remove(path); rerr != nil {
			w.logger.Warn("removing partial archive", "path", path, "error", rerr)
		}
		return s, Result{}, &WriteError{Path: path, Err: err}
	}

	res := Result{Path: path, Shape: s.Shape(), DType: npy.Float16.String(), Bytes: cw.n}
	w.logger.Info("flow written", "source", frames.BaseName(s.SourceID),
		"shape", fmt.Sprint(res.Shape), "dtype", res.DType, "bytes", res.Bytes)
	return s, res, nil
}

func encode(out io.Writer, s flow.Stack) error {
	a := npy.NewArchive(out)
	aw, err := a.Create(npy.DefaultArrayName, npy.Header{DType: npy.Float16, Shape: s.Shape()})
	if err != nil {
		return err
	}
	for i, f := range s.Fields {
		if f.Width != s.Width || f.Height != s.Height {
			return fmt.Errorf("field %d is %dx%d in a %dx%d stack", i, f.Width, f.Height, s.Width, s.Height)
		}
		if err := aw.Write(f.Data); err != nil {
			return err
		}
	}
	return a.Close()
}

// Load reads the arr_0 stack of an archive. The source id is the path.
func Load(fs fsutil.FileSystem, path string) (flow.Stack, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return flow.Stack{}, err
	}
	ar, err := npy.OpenArchive(data)
	if err != nil {
		return flow.Stack{}, fmt.Errorf("%s: %w", path, err)
	}
	r, closer, err := ar.Open(npy.DefaultArrayName)
	if err != nil {
		return flow.Stack{}, fmt.Errorf("%s: %w", path, err)
	}
	defer closer.Close()
	values, err := r.ReadAll()
	if err != nil {
		return flow.Stack{}, fmt.Errorf("%s: %w", path, err)
	}
	s, err := flow.StackFromData(path, r.Header.Shape, values)
	if err != nil {
		return flow.Stack{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// List returns the archives in dir, sorted.
func List(fs fsutil.FileSystem, dir string) ([]string, error) {
	return fs.Glob(filepath.Join(dir, "*"+Ext))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

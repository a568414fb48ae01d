package npy

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

// DefaultArrayName is the key np.savez gives to a positional array.
const DefaultArrayName = "arr_0"

// Archive writes a compressed .npz file.
type Archive struct {
	zw      *zip.Writer
	current *Writer
}

// NewArchive starts an archive on w.
func NewArchive(w io.Writer) *Archive {
	return &Archive{zw: zip.NewWriter(w)}
}

// Create adds the array name (without .npy) and returns its element writer.
// The previous array must be complete.
func (a *Archive) Create(name string, h Header) (*Writer, error) {
	if err := a.finishCurrent(); err != nil {
		return nil, err
	}
	entry, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:   name + ".npy",
		Method: zip.Deflate,
	})
	if err != nil {
		return nil, fmt.Errorf("npz: create entry %s: %w", name, err)
	}
	aw, err := NewWriter(entry, h)
	if err != nil {
		return nil, err
	}
	a.current = aw
	return aw, nil
}

func (a *Archive) finishCurrent() error {
	if a.current == nil {
		return nil
	}
	err := a.current.Close()
	a.current = nil
	return err
}

// Close verifies the last array and writes the ZIP directory.
func (a *Archive) Close() error {
	if err := a.finishCurrent(); err != nil {
		a.zw.Close()
		return err
	}
	return a.zw.Close()
}

// ArchiveReader gives access to the arrays of an .npz file held in memory.
type ArchiveReader struct {
	zr *zip.Reader
}

// OpenArchive parses the ZIP directory of data.
func OpenArchive(data []byte) (*ArchiveReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("npz: %w", err)
	}
	return &ArchiveReader{zr: zr}, nil
}

// Names lists the arrays in archive order.
func (a *ArchiveReader) Names() []string {
	names := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		names = append(names, strings.TrimSuffix(f.Name, ".npy"))
	}
	return names
}

// Open returns a reader for the named array. The caller must close the
// returned closer after reading.
func (a *ArchiveReader) Open(name string) (*Reader, io.Closer, error) {
	for _, f := range a.zr.File {
		if f.Name != name+".npy" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("npz: open %s: %w", name, err)
		}
		r, err := NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, nil, err
		}
		return r, rc, nil
	}
	return nil, nil, fmt.Errorf("npz: array %q not found", name)
}

package npy

import (
	"errors"
	"fmt"
	"io"
)

// Reader streams the elements of one array as float32 values.
type Reader struct {
	Header Header

	r    io.Reader
	buf  []byte
	left int
}

// NewReader parses the header from r and positions it at the first element.
func NewReader(r io.Reader) (*Reader, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.FortranOrder {
		return nil, fmt.Errorf("%w: fortran_order arrays are not supported", ErrFormat)
	}
	return &Reader{Header: h, r: r, left: h.Count()}, nil
}

// Remaining is the number of elements not yet read.
func (r *Reader) Remaining() int {
	return r.left
}

// Read fills dst with the next len(dst) elements. It returns io.EOF when
// no element remains and io.ErrUnexpectedEOF when the stream ends early
// or fewer than len(dst) elements remain.
func (r *Reader) Read(dst []float32) error {
	if r.left == 0 {
		return io.EOF
	}
	if len(dst) > r.left {
		return io.ErrUnexpectedEOF
	}
	size := r.Header.DType.Size
	need := len(dst) * size
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	for i := range dst {
		dst[i] = r.Header.DType.decode(buf[i*size:])
	}
	r.left -= len(dst)
	return nil
}

// ReadAll reads every remaining element.
func (r *Reader) ReadAll() ([]float32, error) {
	out := make([]float32, r.left)
	if len(out) == 0 {
		return out, nil
	}
	if err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Writer encodes elements after a header has been written.
type Writer struct {
	w     io.Writer
	dtype DType
	left  int
	buf   []byte
}

// NewWriter writes h to w and returns a Writer expecting h.Count()
// floating point elements.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if h.DType.Kind != 'f' {
		return nil, fmt.Errorf("npy: writing dtype %s is not supported", h.DType)
	}
	if h.FortranOrder {
		return nil, fmt.Errorf("npy: writing fortran_order arrays is not supported")
	}
	if err := WriteHeader(w, h); err != nil {
		return nil, err
	}
	return &Writer{w: w, dtype: h.DType, left: h.Count()}, nil
}

// Write encodes values, converting each to the header dtype.
func (w *Writer) Write(values []float32) error {
	if len(values) > w.left {
		return fmt.Errorf("npy: %d values exceed the %d remaining in shape", len(values), w.left)
	}
	need := len(values) * w.dtype.Size
	if cap(w.buf) < need {
		w.buf = make([]byte, need)
	}
	buf := w.buf[:need]
	for i, v := range values {
		w.dtype.encode(buf[i*w.dtype.Size:], v)
	}
	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	w.left -= len(values)
	return nil
}

// Close reports an error if fewer elements were written than the shape
// requires. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.left != 0 {
		return fmt.Errorf("npy: %d elements missing from array", w.left)
	}
	return nil
}

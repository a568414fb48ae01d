package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// magic prefixes every .npy stream.
const magic = "\x93NUMPY"

// arrayAlign is the alignment NumPy pads headers to.
const arrayAlign = 64

// ErrFormat is returned for streams that are not valid .npy data.
var ErrFormat = errors.New("npy: invalid format")

// Header is the parsed array description.
type Header struct {
	DType        DType
	FortranOrder bool
	Shape        []int
}

// Count is the number of elements described by the shape.
func (h Header) Count() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n
}

// DataSize is the byte size of the array data. Negative dimensions and
// sizes that do not fit in an int64 are reported as ErrFormat.
func (h Header) DataSize() (int64, error) {
	n := int64(h.DType.Size)
	for _, d := range h.Shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in shape %v", ErrFormat, h.Shape)
		}
		if d != 0 && n > math.MaxInt64/int64(d) {
			return 0, fmt.Errorf("%w: shape %v overflows", ErrFormat, h.Shape)
		}
		n *= int64(d)
	}
	return n, nil
}

var (
	descrRe   = regexp.MustCompile(`['"]descr['"]\s*:\s*['"]([^'"]*)['"]`)
	fortranRe = regexp.MustCompile(`['"]fortran_order['"]\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`['"]shape['"]\s*:\s*\(([^)]*)\)`)
)

// ReadHeader consumes the magic, version and header dict from r.
func ReadHeader(r io.Reader) (Header, error) {
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return Header{}, fmt.Errorf("%w: reading preamble: %v", ErrFormat, err)
	}
	if string(pre[:6]) != magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrFormat, pre[:6])
	}

	var hlen int
	switch major := pre[6]; major {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Header{}, fmt.Errorf("%w: reading header length: %v", ErrFormat, err)
		}
		hlen = int(binary.LittleEndian.Uint16(b[:]))
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Header{}, fmt.Errorf("%w: reading header length: %v", ErrFormat, err)
		}
		hlen = int(binary.LittleEndian.Uint32(b[:]))
	default:
		return Header{}, fmt.Errorf("%w: unsupported version %d.%d", ErrFormat, major, pre[7])
	}

	raw := make([]byte, hlen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	return parseHeader(string(raw))
}

func parseHeader(s string) (Header, error) {
	var h Header

	m := descrRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("%w: header has no descr: %q", ErrFormat, s)
	}
	dt, err := ParseDType(m[1])
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	h.DType = dt

	if m := fortranRe.FindStringSubmatch(s); m != nil {
		h.FortranOrder = m[1] == "True"
	}

	m = shapeRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("%w: header has no shape: %q", ErrFormat, s)
	}
	h.Shape = []int{}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// Python 2 era files may write 3L.
		part = strings.TrimSuffix(part, "L")
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return h, fmt.Errorf("%w: bad shape %q", ErrFormat, m[1])
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}

// WriteHeader writes the preamble and header dict, padded so data starts
// on a 64 byte boundary.
func WriteHeader(w io.Writer, h Header) error {
	var dict strings.Builder
	fmt.Fprintf(&dict, "{'descr': '%s', 'fortran_order': %s, 'shape': (", h.DType, pyBool(h.FortranOrder))
	for i, d := range h.Shape {
		if i > 0 {
			dict.WriteString(", ")
		}
		dict.WriteString(strconv.Itoa(d))
	}
	if len(h.Shape) == 1 {
		dict.WriteString(",")
	}
	dict.WriteString("), }")

	body := dict.String()
	major, lenSize := byte(1), 2
	if len(body)+arrayAlign+1 > 0xffff {
		major, lenSize = 2, 4
	}
	pad := arrayAlign - (len(magic)+2+lenSize+len(body)+1)%arrayAlign
	body += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(major)
	buf.WriteByte(0)
	if lenSize == 2 {
		binary.Write(&buf, binary.LittleEndian, uint16(len(body)))
	} else {
		binary.Write(&buf, binary.LittleEndian, uint32(len(body)))
	}
	buf.WriteString(body)
	_, err := w.Write(buf.Bytes())
	return err
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

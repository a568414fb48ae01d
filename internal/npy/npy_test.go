package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// rawNPY builds a version 1.0 stream by hand, as numpy would.
func rawNPY(header string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"|u1", Uint8},
		{"<f2", Float16},
		{"<f4", Float32},
		{"<f8", Float64},
		{">i4", DType{Kind: 'i', Size: 4, Order: binary.BigEndian}},
	}
	for _, tt := range tests {
		got, err := ParseDType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "<c8", "<f3", "O", "<U10", "*f4"} {
		_, err := ParseDType(bad)
		assert.Error(t, err, bad)
	}
}

func TestDTypeString(t *testing.T) {
	assert.Equal(t, "|u1", Uint8.String())
	assert.Equal(t, "<f2", Float16.String())
	assert.Equal(t, ">i2", DType{Kind: 'i', Size: 2, Order: binary.BigEndian}.String())
}

func TestHeaderRoundTrip(t *testing.T) {
	shapes := [][]int{{2, 32, 32, 2}, {5}, {}, {0, 4, 4, 2}}
	for _, shape := range shapes {
		var buf bytes.Buffer
		require.NoError(t, WriteHeader(&buf, Header{DType: Float16, Shape: shape}))
		assert.Zero(t, buf.Len()%arrayAlign, "data must start aligned for shape %v", shape)

		h, err := ReadHeader(&buf)
		require.NoError(t, err)
		assert.Equal(t, Float16, h.DType)
		assert.False(t, h.FortranOrder)
		assert.Equal(t, shape, h.Shape)
		assert.Zero(t, buf.Len(), "header must be consumed exactly")
	}
}

func TestWriteHeader_OneDimensionalTuple(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{DType: Float32, Shape: []int{7}}))
	assert.Contains(t, buf.String(), "'shape': (7,)")
	assert.Contains(t, buf.String(), "'descr': '<f4'")
}

func TestReader_Uint8Frames(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 250, 251, 252, 253, 254, 255}
	stream := rawNPY("{'descr': '|u1', 'fortran_order': False, 'shape': (2, 2, 3), }\n", data)

	r, err := NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, r.Header.Shape)

	frame := make([]float32, 6)
	require.NoError(t, r.Read(frame))
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, frame)
	require.NoError(t, r.Read(frame))
	assert.Equal(t, []float32{250, 251, 252, 253, 254, 255}, frame)
	assert.ErrorIs(t, r.Read(frame), io.EOF)
}

func TestReader_Float64BigEndian(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.BigEndian, []float64{1.5, -2})
	stream := rawNPY("{'descr': '>f8', 'fortran_order': False, 'shape': (2,), }\n", data.Bytes())

	r, err := NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, got)
}

func TestReader_Truncated(t *testing.T) {
	stream := rawNPY("{'descr': '|u1', 'fortran_order': False, 'shape': (2, 4), }\n", []byte{1, 2, 3, 4, 5})

	r, err := NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	row := make([]float32, 4)
	require.NoError(t, r.Read(row))
	assert.ErrorIs(t, r.Read(row), io.ErrUnexpectedEOF)
}

func TestNewReader_Rejects(t *testing.T) {
	tests := map[string][]byte{
		"bad magic":    []byte("PK\x03\x04 not numpy at all"),
		"short":        []byte(magic),
		"no shape":     rawNPY("{'descr': '<f4', 'fortran_order': False}\n", nil),
		"fortran":      rawNPY("{'descr': '<f4', 'fortran_order': True, 'shape': (2, 2), }\n", nil),
		"object dtype": rawNPY("{'descr': '|O', 'fortran_order': False, 'shape': (2,), }\n", nil),
	}
	for name, stream := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(stream))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), "got %v", err)
		})
	}
}

func TestWriter_CountEnforced(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{DType: Float16, Shape: []int{2, 2}})
	require.NoError(t, err)

	require.NoError(t, w.Write([]float32{1, 2, 3}))
	assert.Error(t, w.Close(), "one element short")
	assert.Error(t, w.Write([]float32{4, 5}), "more than remaining")

	_, err = NewWriter(&buf, Header{DType: Uint8, Shape: []int{1}})
	assert.Error(t, err, "integer output is not supported")
}

func TestArchive_RoundTripIsExactHalfCast(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float32Range(-70000, 70000), 1, 128).Draw(t, "values")

		var buf bytes.Buffer
		a := NewArchive(&buf)
		w, err := a.Create(DefaultArrayName, Header{DType: Float16, Shape: []int{len(values)}})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Write(values); err != nil {
			t.Fatal(err)
		}
		if err := a.Close(); err != nil {
			t.Fatal(err)
		}

		ar, err := OpenArchive(buf.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		r, closer, err := ar.Open(DefaultArrayName)
		if err != nil {
			t.Fatal(err)
		}
		defer closer.Close()
		got, err := r.ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range values {
			if math.Float32bits(got[i]) != math.Float32bits(RoundFloat16(v)) {
				t.Fatalf("element %d: got %v, want f16(%v)=%v", i, got[i], v, RoundFloat16(v))
			}
		}
	})
}

func TestArchive_Names(t *testing.T) {
	var buf bytes.Buffer
	a := NewArchive(&buf)
	w, err := a.Create("arr_0", Header{DType: Float32, Shape: []int{1}})
	require.NoError(t, err)
	require.NoError(t, w.Write([]float32{1}))
	w, err = a.Create("arr_1", Header{DType: Float32, Shape: []int{0}})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	ar, err := OpenArchive(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"arr_0", "arr_1"}, ar.Names())

	_, _, err = ar.Open("arr_9")
	assert.Error(t, err)
}

func TestArchive_IncompleteArrayFailsClose(t *testing.T) {
	var buf bytes.Buffer
	a := NewArchive(&buf)
	_, err := a.Create("arr_0", Header{DType: Float16, Shape: []int{3}})
	require.NoError(t, err)
	assert.Error(t, a.Close())
}

func TestOpenArchive_NotZip(t *testing.T) {
	_, err := OpenArchive([]byte("definitely not a zip"))
	assert.Error(t, err)
}

func TestHeader_DataSize(t *testing.T) {
	n, err := Header{DType: Float32, Shape: []int{3, 4, 5}}.DataSize()
	require.NoError(t, err)
	assert.Equal(t, int64(240), n)

	n, err = Header{DType: Float16, Shape: []int{0, 1 << 40, 1 << 40}}.DataSize()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Header{DType: Float64, Shape: []int{1 << 40, 1 << 40}}.DataSize()
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Header{DType: Uint8, Shape: []int{2, -1}}.DataSize()
	assert.ErrorIs(t, err, ErrFormat)
}

package flowstore

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/monitoring"
	"github.com/banshee-data/viflow/internal/npy"
)

func stack(source string, pairs, w, h int, fill func(i int) float32) flow.Stack {
	s := flow.Stack{SourceID: source, Width: w, Height: h, FrameCount: pairs + 1}
	k := 0
	for p := 0; p < pairs; p++ {
		f := flow.NewField(w, h)
		for i := range f.Data {
			f.Data[i] = fill(k)
			k++
		}
		s.Fields = append(s.Fields, f)
	}
	return s
}

func TestWrite_LayoutAndPassThrough(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	w := NewWriter(mem, "out/flows", monitoring.Discard())
	in := stack("videos/clip.mp4", 2, 4, 3, func(i int) float32 { return float32(i) / 8 })

	out, res, err := w.Write(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "out/flows/clip.npz", res.Path)
	assert.Equal(t, []int{2, 3, 4, 2}, res.Shape)
	assert.Equal(t, "<f2", res.DType)

	data, err := mem.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), res.Bytes)

	ar, err := npy.OpenArchive(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"arr_0"}, ar.Names())
	r, closer, err := ar.Open("arr_0")
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, npy.Float16, r.Header.DType)
	assert.Equal(t, []int{2, 3, 4, 2}, r.Header.Shape)
}

func TestWrite_SingleFrameSource(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	w := NewWriter(mem, "out", monitoring.Discard())
	_, res, err := w.Write(flow.Stack{SourceID: "one.mp4", Width: 5, Height: 4, FrameCount: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 5, 2}, res.Shape)

	back, err := Load(mem, res.Path)
	require.NoError(t, err)
	assert.Zero(t, back.Pairs())
	assert.Equal(t, 5, back.Width)
	assert.Equal(t, 4, back.Height)
}

func TestRoundTripIsHalfCast(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pairs := rapid.IntRange(0, 3).Draw(t, "pairs")
		w := rapid.IntRange(1, 6).Draw(t, "w")
		h := rapid.IntRange(1, 6).Draw(t, "h")
		values := rapid.SliceOfN(rapid.Float32Range(-300, 300), pairs*w*h*2, pairs*w*h*2).Draw(t, "values")
		in := stack("s/a.npy", pairs, w, h, func(i int) float32 { return values[i] })

		mem := fsutil.NewMemoryFileSystem()
		_, res, err := NewWriter(mem, "o", monitoring.Discard()).Write(in)
		if err != nil {
			t.Fatal(err)
		}
		back, err := Load(mem, res.Path)
		if err != nil {
			t.Fatal(err)
		}
		got := back.Flatten()
		if len(got) != len(values) {
			t.Fatalf("len %d, want %d", len(got), len(values))
		}
		for i, v := range values {
			if math.Float32bits(got[i]) != math.Float32bits(npy.RoundFloat16(v)) {
				t.Fatalf("value %d: got %v want %v", i, got[i], npy.RoundFloat16(v))
			}
		}
	})
}

// failingFS fails a chosen operation.
type failingFS struct {
	fsutil.FileSystem
	mkdir, create, close bool
}

var errDisk = errors.New("disk full")

func (f failingFS) MkdirAll(path string, perm os.FileMode) error {
	if f.mkdir {
		return errDisk
	}
	return f.FileSystem.MkdirAll(path, perm)
}

func (f failingFS) Create(name string) (io.WriteCloser, error) {
	if f.create {
		return nil, errDisk
	}
	wc, err := f.FileSystem.Create(name)
	if err != nil || !f.close {
		return wc, err
	}
	return failingClose{wc}, nil
}

type failingClose struct{ io.WriteCloser }

func (failingClose) Close() error { return errDisk }

func TestWrite_Failures(t *testing.T) {
	cases := map[string]failingFS{
		"mkdir":  {mkdir: true},
		"create": {create: true},
		"close":  {close: true},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			mem := fsutil.NewMemoryFileSystem()
			fsys.FileSystem = mem
			_, _, err := NewWriter(fsys, "out", monitoring.Discard()).Write(stack("a.mp4", 1, 2, 2, func(int) float32 { return 1 }))
			var we *WriteError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, "out/a.npz", we.Path)
			assert.ErrorIs(t, err, errDisk)
			_, err = mem.Stat("out/a.npz")
			assert.ErrorIs(t, err, fs.ErrNotExist, "no partial archive is left behind")
		})
	}
}

func TestWrite_RaggedStack(t *testing.T) {
	s := stack("a.mp4", 1, 2, 2, func(int) float32 { return 0 })
	s.Fields = append(s.Fields, flow.NewField(3, 2))
	mem := fsutil.NewMemoryFileSystem()
	_, _, err := NewWriter(mem, "out", monitoring.Discard()).Write(s)
	var we *WriteError
	assert.ErrorAs(t, err, &we)
	_, err = mem.Stat("out/a.npz")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoad_Errors(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	_, err := Load(mem, "missing.npz")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	mem.WriteFile("junk.npz", []byte("nope"))
	_, err = Load(mem, "junk.npz")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	mem.WriteFile("out/b.npz", nil)
	mem.WriteFile("out/a.npz", nil)
	mem.WriteFile("out/notes.txt", nil)
	got, err := List(mem, "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/a.npz", "out/b.npz"}, got)
}

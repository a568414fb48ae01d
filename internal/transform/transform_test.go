package transform

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/banshee-data/viflow/internal/frames"
)

func ramp(w, h, c int) frames.Frame {
	im := frames.NewImage(w, h, c)
	for i := range im.Pix {
		im.Pix[i] = float32(i % 256)
	}
	return frames.Frame{SourceID: "ramp", Image: im}
}

func genImage(t *rapid.T, c int) frames.Image {
	w := rapid.IntRange(1, 24).Draw(t, "w")
	h := rapid.IntRange(1, 24).Draw(t, "h")
	rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))
	im := frames.NewImage(w, h, c)
	for i := range im.Pix {
		im.Pix[i] = float32(rng.Intn(256))
	}
	return im
}

func TestCenterCrop_Offsets(t *testing.T) {
	in := frames.NewImage(5, 4, 1)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			in.Set(x, y, 0, float32(10*y+x))
		}
	}
	out, err := CenterCrop(2, 2)(frames.Frame{SourceID: "s", Image: in})
	require.NoError(t, err)
	// dw=3, dh=2 so the window starts at (1, 1).
	assert.Equal(t, []float32{11, 12, 21, 22}, out.Image.Pix)
	assert.Equal(t, "s", out.SourceID)
}

func TestCenterCrop_TooSmall(t *testing.T) {
	for _, size := range [][2]int{{65, 10}, {10, 49}, {0, 10}} {
		_, err := CenterCrop(size[0], size[1])(ramp(64, 48, 3))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrGeometry))
		assert.Contains(t, err.Error(), "64x48")
	}
}

func TestCenterCrop_ShapeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := rapid.SampledFrom([]int{1, 3}).Draw(t, "c")
		im := genImage(t, c)
		w := rapid.IntRange(1, 30).Draw(t, "cw")
		h := rapid.IntRange(1, 30).Draw(t, "ch")
		before := append([]float32(nil), im.Pix...)

		out, err := CenterCrop(w, h)(frames.Frame{Image: im})
		if w > im.Width || h > im.Height {
			if !errors.Is(err, ErrGeometry) {
				t.Fatalf("crop %dx%d of %v: want ErrGeometry, got %v", w, h, im, err)
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}
		if out.Image.Width != w || out.Image.Height != h || out.Image.Channels != c || len(out.Image.Pix) != w*h*c {
			t.Fatalf("crop %dx%d of %v gave %v", w, h, im, out.Image)
		}
		for i := range before {
			if before[i] != im.Pix[i] {
				t.Fatal("input modified")
			}
		}
	})
}

func TestResize_IdentityAtOrBelowOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		im := genImage(t, 3)
		factor := rapid.Float64Range(-2, 1).Draw(t, "factor")
		in := frames.Frame{SourceID: "x", Image: im}
		out, err := Resize(factor)(in)
		if err != nil {
			t.Fatal(err)
		}
		if out.SourceID != in.SourceID || len(out.Image.Pix) != len(im.Pix) {
			t.Fatalf("not identity: %v", out.Image)
		}
		for i := range im.Pix {
			if out.Image.Pix[i] != im.Pix[i] {
				t.Fatalf("pixel %d changed", i)
			}
		}
	})
}

func TestResize_IntegerFactorIsBlockMean(t *testing.T) {
	in := frames.NewImage(4, 2, 1)
	copy(in.Pix, []float32{0, 2, 4, 6, 8, 10, 12, 14})
	out, err := Resize(2)(frames.Frame{Image: in})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Image.Width)
	assert.Equal(t, 1, out.Image.Height)
	assert.Equal(t, []float32{5, 9}, out.Image.Pix)
}

func TestResize_FractionalFactor(t *testing.T) {
	// v(x, y) = 30x + 300y on a 3x3 grid.
	in := frames.NewImage(3, 3, 1)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			in.Set(x, y, 0, float32(30*x+300*y))
		}
	}
	out, err := Resize(1.5)(frames.Frame{Image: in})
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, out.Image.Shape())
	// Each output cell covers 1.5 input cells per axis: weights 2/3, 1/3
	// and 1/3, 2/3.
	want := []float32{110, 150, 510, 550}
	for i, w := range want {
		assert.InDelta(t, w, out.Image.Pix[i], 1e-3, "pixel %d", i)
	}
}

func TestResize_VanishingAxisIsGeometryError(t *testing.T) {
	in := frames.NewImage(3, 1, 1)
	_, err := Resize(1.5)(frames.Frame{Image: in})
	assert.ErrorIs(t, err, ErrGeometry)
}

func TestResize_PreservesMean(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		im := genImage(t, 1)
		factor := rapid.Float64Range(1.01, 4).Draw(t, "factor")
		out, err := Resize(factor)(frames.Frame{Image: im})
		if int(float64(im.Width)/factor) < 1 || int(float64(im.Height)/factor) < 1 {
			if !errors.Is(err, ErrGeometry) {
				t.Fatalf("want ErrGeometry, got %v", err)
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}
		if out.Image.Width != int(float64(im.Width)/factor) || out.Image.Height != int(float64(im.Height)/factor) {
			t.Fatalf("size %dx%d from %dx%d by %g", out.Image.Width, out.Image.Height, im.Width, im.Height, factor)
		}
		if d := math.Abs(mean(out.Image.Pix) - mean(im.Pix)); d > 1e-2 {
			t.Fatalf("mean drifted by %g", d)
		}
	})
}

func mean(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x)
	}
	return s / float64(len(v))
}

func TestGrayscale(t *testing.T) {
	in := frames.NewImage(2, 1, 3)
	copy(in.Pix, []float32{255, 0, 0, 0, 0, 255}) // pure blue, pure red
	out, err := Grayscale()(frames.Frame{Image: in})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Image.Channels)
	assert.InDelta(t, 0.114*255, out.Image.Pix[0], 1e-3)
	assert.InDelta(t, 0.299*255, out.Image.Pix[1], 1e-3)

	gray := ramp(3, 3, 1)
	same, err := Grayscale()(gray)
	require.NoError(t, err)
	assert.Equal(t, gray, same)

	_, err = Grayscale()(ramp(2, 2, 4))
	assert.ErrorIs(t, err, ErrGeometry)
}

type sliceSource struct {
	frames []frames.Frame
	closed bool
}

func (s *sliceSource) Next() (frames.Frame, error) {
	if len(s.frames) == 0 {
		return frames.Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func TestStage_StandardChain(t *testing.T) {
	src := &sliceSource{frames: []frames.Frame{ramp(64, 48, 3), ramp(64, 48, 3)}}
	stage := NewStage(src, Standard(32, 32, 2))

	for i := 0; i < 2; i++ {
		f, err := stage.Next()
		require.NoError(t, err)
		assert.Equal(t, 16, f.Image.Width)
		assert.Equal(t, 16, f.Image.Height)
		assert.Equal(t, 1, f.Image.Channels)
	}
	_, err := stage.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, stage.Close())
	assert.True(t, src.closed)
}

func TestStage_GeometryErrorPropagates(t *testing.T) {
	stage := NewStage(&sliceSource{frames: []frames.Frame{ramp(8, 8, 3)}}, Standard(32, 32, 1))
	_, err := stage.Next()
	assert.ErrorIs(t, err, ErrGeometry)
}

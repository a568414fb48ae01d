// Package testutil provides shared test utilities and fixtures.
//
// This package centralises synthetic frames, in-memory video decoders and
// frame arrays so the frame, flow and pipeline tests build their inputs
// the same way.
package testutil

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/npy"
)

// Blob renders a single-channel Gaussian spot of peak amp centred on
// (cx, cy) over a dark background.
func Blob(width, height int, cx, cy, sigma, amp float64) frames.Image {
	im := frames.NewImage(width, height, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			im.Set(x, y, 0, float32(10+amp*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))))
		}
	}
	return im
}

// MovingBlob returns n packed bgr24 frames of a grey spot moving dx pixels
// to the right each frame, starting in the middle of the left half.
func MovingBlob(width, height, n int, dx float64) [][]byte {
	out := make([][]byte, n)
	cx, cy := float64(width)/3, float64(height)/2
	for i := range out {
		im := Blob(width, height, cx+float64(i)*dx, cy, float64(min(width, height))/8, 180)
		buf := make([]byte, width*height*3)
		for p, v := range im.Pix {
			b := byte(math.Round(float64(v)))
			buf[3*p], buf[3*p+1], buf[3*p+2] = b, b, b
		}
		out[i] = buf
	}
	return out
}

// Decoder replays prepared bgr24 frames.
type Decoder struct {
	Frames [][]byte
	Closed int

	next int
}

// ReadFrame copies the next prepared frame into buf.
func (d *Decoder) ReadFrame(buf []byte) error {
	if d.next >= len(d.Frames) {
		return io.EOF
	}
	copy(buf, d.Frames[d.next])
	d.next++
	return nil
}

// Close counts calls.
func (d *Decoder) Close() error {
	d.Closed++
	return nil
}

// Video describes a synthetic clip served by Decoders.
type Video struct {
	Width  int
	Height int
	FPS    float64
	Frames [][]byte
}

// Decoders serves the videos keyed by path. Unknown paths fail to open,
// as a missing or corrupt file would.
func Decoders(videos map[string]Video) frames.DecoderOpener {
	return func(ctx context.Context, path string) (frames.VideoInfo, frames.Decoder, error) {
		v, ok := videos[path]
		if !ok {
			return frames.VideoInfo{}, nil, io.ErrUnexpectedEOF
		}
		info := frames.VideoInfo{FrameCount: len(v.Frames), FPS: v.FPS, Width: v.Width, Height: v.Height}
		return info, &Decoder{Frames: v.Frames}, nil
	}
}

// FrameArray encodes images of one size as a float32 .npy stream of shape
// (n, h, w) for single-channel or (n, h, w, c) otherwise.
func FrameArray(t testing.TB, images []frames.Image) []byte {
	t.Helper()
	if len(images) == 0 {
		t.Fatal("FrameArray needs at least one image")
	}
	shape := append([]int{len(images)}, images[0].Shape()...)
	var buf bytes.Buffer
	w, err := npy.NewWriter(&buf, npy.Header{DType: npy.Float32, Shape: shape})
	require.NoError(t, err)
	for _, im := range images {
		require.NoError(t, w.Write(im.Pix))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// SliceSource yields prepared frames.
type SliceSource struct {
	Frames []frames.Frame
	Closed bool
}

// Next returns the next prepared frame.
func (s *SliceSource) Next() (frames.Frame, error) {
	if len(s.Frames) == 0 {
		return frames.Frame{}, io.EOF
	}
	f := s.Frames[0]
	s.Frames = s.Frames[1:]
	return f, nil
}

// Close marks the source closed.
func (s *SliceSource) Close() error {
	s.Closed = true
	return nil
}

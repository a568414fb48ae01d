// Package transform normalizes frames before flow computation: center
// crop, area downsampling and grayscale conversion, applied in that order.
//
// Every transform is a pure function. It returns a new Frame and never
// writes to the pixel buffer of its input.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/viflow/internal/frames"
)

// ErrGeometry reports a frame whose size or channel layout cannot be
// transformed. It is fatal to the run.
var ErrGeometry = errors.New("frame geometry")

// Func transforms one frame.
type Func func(frames.Frame) (frames.Frame, error)

// CenterCrop cuts a width x height window from the middle of the frame.
// The window starts at ((W-width)/2, (H-height)/2); no padding is added.
func CenterCrop(width, height int) Func {
	return func(f frames.Frame) (frames.Frame, error) {
		src := f.Image
		dw, dh := src.Width-width, src.Height-height
		if width <= 0 || height <= 0 || dw < 0 || dh < 0 {
			return frames.Frame{}, fmt.Errorf("%w: image %dx%d too small for crop %dx%d (%s)",
				ErrGeometry, src.Width, src.Height, width, height, f.SourceID)
		}
		x0, y0 := dw/2, dh/2
		out := frames.NewImage(width, height, src.Channels)
		rowLen := width * src.Channels
		for y := 0; y < height; y++ {
			from := ((y0+y)*src.Width + x0) * src.Channels
			copy(out.Pix[y*rowLen:(y+1)*rowLen], src.Pix[from:from+rowLen])
		}
		return frames.Frame{SourceID: f.SourceID, Image: out}, nil
	}
}

// Resize downsamples by factor using pixel-area averaging. The output is
// int(W/factor) x int(H/factor). A factor of 1 or less returns the frame
// unchanged.
func Resize(factor float64) Func {
	return func(f frames.Frame) (frames.Frame, error) {
		if factor <= 1 {
			return f, nil
		}
		src := f.Image
		w := int(float64(src.Width) / factor)
		h := int(float64(src.Height) / factor)
		if w < 1 || h < 1 {
			return frames.Frame{}, fmt.Errorf("%w: image %dx%d vanishes when downsampled by %g (%s)",
				ErrGeometry, src.Width, src.Height, factor, f.SourceID)
		}
		return frames.Frame{SourceID: f.SourceID, Image: resizeArea(src, w, h)}, nil
	}
}

// span is the contribution of one source index to one output index.
type span struct {
	src    int
	weight float64
}

// areaWeights maps each of n output cells onto the srcLen input cells they
// cover. Weights of one output cell sum to 1.
func areaWeights(srcLen, n int) [][]span {
	scale := float64(srcLen) / float64(n)
	out := make([][]span, n)
	for i := range out {
		lo := float64(i) * scale
		hi := lo + scale
		for s := int(math.Floor(lo)); s < srcLen && float64(s) < hi; s++ {
			overlap := math.Min(hi, float64(s+1)) - math.Max(lo, float64(s))
			if overlap > 1e-12 {
				out[i] = append(out[i], span{src: s, weight: overlap / scale})
			}
		}
	}
	return out
}

func resizeArea(src frames.Image, w, h int) frames.Image {
	xs := areaWeights(src.Width, w)
	ys := areaWeights(src.Height, h)
	c := src.Channels
	out := frames.NewImage(w, h, c)
	acc := make([]float64, c)
	for oy, ySpans := range ys {
		for ox, xSpans := range xs {
			for k := range acc {
				acc[k] = 0
			}
			for _, sy := range ySpans {
				row := sy.src * src.Width
				for _, sx := range xSpans {
					wgt := sy.weight * sx.weight
					base := (row + sx.src) * c
					for k := 0; k < c; k++ {
						acc[k] += wgt * float64(src.Pix[base+k])
					}
				}
			}
			base := (oy*w + ox) * c
			for k := 0; k < c; k++ {
				out.Pix[base+k] = float32(acc[k])
			}
		}
	}
	return out
}

// Luma weights for BGR to intensity.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Grayscale converts a BGR frame to one intensity channel. Single-channel
// frames pass through unchanged.
func Grayscale() Func {
	return func(f frames.Frame) (frames.Frame, error) {
		src := f.Image
		switch src.Channels {
		case 1:
			return f, nil
		case 3:
		default:
			return frames.Frame{}, fmt.Errorf("%w: cannot convert %d channels to grayscale (%s)",
				ErrGeometry, src.Channels, f.SourceID)
		}
		out := frames.NewImage(src.Width, src.Height, 1)
		for i := range out.Pix {
			b, g, r := src.Pix[3*i], src.Pix[3*i+1], src.Pix[3*i+2]
			out.Pix[i] = float32(lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b))
		}
		return frames.Frame{SourceID: f.SourceID, Image: out}, nil
	}
}

// Chain applies transforms in order.
type Chain []Func

// Standard is the fixed normalization: crop, then resize, then grayscale.
func Standard(cropWidth, cropHeight int, downsample float64) Chain {
	return Chain{CenterCrop(cropWidth, cropHeight), Resize(downsample), Grayscale()}
}

// Apply runs every transform on f.
func (c Chain) Apply(f frames.Frame) (frames.Frame, error) {
	var err error
	for _, fn := range c {
		if f, err = fn(f); err != nil {
			return frames.Frame{}, err
		}
	}
	return f, nil
}

// Stage applies a Chain to every frame pulled from an upstream source.
type Stage struct {
	src   frames.Source
	chain Chain
}

// NewStage wraps src.
func NewStage(src frames.Source, chain Chain) *Stage {
	return &Stage{src: src, chain: chain}
}

// Next pulls and transforms the next frame.
func (s *Stage) Next() (frames.Frame, error) {
	f, err := s.src.Next()
	if err != nil {
		return frames.Frame{}, err
	}
	return s.chain.Apply(f)
}

// Close closes the upstream source.
func (s *Stage) Close() error {
	return s.src.Close()
}

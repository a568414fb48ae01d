package viewer

import (
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"

	"github.com/banshee-data/viflow/internal/flow"
)

// Downsample keeps every stride-th row and column of f.
func Downsample(f flow.Field, stride int) flow.Field {
	if stride <= 1 {
		return f
	}
	w := (f.Width + stride - 1) / stride
	h := (f.Height + stride - 1) / stride
	out := flow.NewField(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := f.At(x*stride, y*stride)
			i := 2 * (y*w + x)
			out.Data[i], out.Data[i+1] = dx, dy
		}
	}
	return out
}

// ColorCode renders f in HSV coding: the direction selects the hue, the
// saturation is full and the value is the magnitude scaled min-max to
// 0..255 across the field.
//
// In 8-bit HSV terms the hue byte is angle/2, so a full turn of
// direction covers the whole hue circle.
func ColorCode(f flow.Field) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	mags := f.Magnitudes()
	if len(mags) == 0 {
		return img
	}
	lo, hi := mags[0], mags[0]
	for _, m := range mags {
		lo = min(lo, m)
		hi = max(hi, m)
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			dx, dy := f.At(x, y)
			hue := angleDegrees(float64(dx), float64(dy))
			v := 0.0
			if hi > lo {
				v = 255 * (mags[y*f.Width+x] - lo) / (hi - lo)
			}
			img.SetRGBA(x, y, hsvToRGBA(hue, 255, v))
		}
	}
	return img
}

// angleDegrees is atan2(dy, dx) mapped to [0, 360).
func angleDegrees(dx, dy float64) float64 {
	a := math.Atan2(dy, dx) * 180 / math.Pi
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}

// hsvToRGBA converts hue in degrees and saturation, value in 0..255.
func hsvToRGBA(h, s, v float64) color.RGBA {
	sf := s / 255
	c := v * sf
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := v - c
	return color.RGBA{R: clampByte(r + m), G: clampByte(g + m), B: clampByte(b + m), A: 255}
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// Animation collects color coded frames for one source.
type Animation struct {
	// Delay is the per-frame delay in hundredths of a second.
	Delay  int
	frames []*image.Paletted
}

// NewAnimation returns an empty animation showing each frame for pause
// seconds.
func NewAnimation(pause float64) *Animation {
	return &Animation{Delay: int(math.Round(pause * 100))}
}

// Add appends the color coding of f.
func (a *Animation) Add(f flow.Field) {
	rgba := ColorCode(f)
	p := image.NewPaletted(rgba.Bounds(), palette.Plan9)
	draw.Draw(p, p.Bounds(), rgba, image.Point{}, draw.Src)
	a.frames = append(a.frames, p)
}

// Len is the number of frames added.
func (a *Animation) Len() int {
	return len(a.frames)
}

// Encode writes the frames as a looping GIF.
func (a *Animation) Encode(w io.Writer) error {
	g := &gif.GIF{Image: a.frames, Delay: make([]int, len(a.frames))}
	for i := range g.Delay {
		g.Delay[i] = a.Delay
	}
	return gif.EncodeAll(w, g)
}

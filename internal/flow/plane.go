package flow

import (
	"math"
	"slices"
)

// plane is a single-channel float32 grid used by the solver.
type plane struct {
	w, h int
	v    []float32
}

func newPlane(w, h int, data []float32) *plane {
	return &plane{w: w, h: h, v: append([]float32(nil), data...)}
}

func zeroPlane(w, h int) *plane {
	return &plane{w: w, h: h, v: make([]float32, w*h)}
}

func (p *plane) at(x, y int) float32 {
	return p.v[y*p.w+x]
}

func (p *plane) scale(k float32) {
	for i := range p.v {
		p.v[i] *= k
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bilinear samples p at a fractional position with clamped borders.
func (p *plane) bilinear(x, y float64) float32 {
	if x < 0 {
		x = 0
	} else if x > float64(p.w-1) {
		x = float64(p.w - 1)
	}
	if y < 0 {
		y = 0
	} else if y > float64(p.h-1) {
		y = float64(p.h - 1)
	}
	x0, y0 := int(x), int(y)
	x1, y1 := clamp(x0+1, 0, p.w-1), clamp(y0+1, 0, p.h-1)
	ax, ay := float32(x-float64(x0)), float32(y-float64(y0))
	top := p.at(x0, y0)*(1-ax) + p.at(x1, y0)*ax
	bottom := p.at(x0, y1)*(1-ax) + p.at(x1, y1)*ax
	return top*(1-ay) + bottom*ay
}

// normalizePair maps both planes to 0..255 using their joint range.
func normalizePair(a, b *plane) {
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, p := range []*plane{a, b} {
		for _, v := range p.v {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	den := hi - lo
	if den <= 0 {
		return
	}
	k := 255 / den
	for _, p := range []*plane{a, b} {
		for i, v := range p.v {
			p.v[i] = (v - lo) * k
		}
	}
}

// gaussian returns p blurred with a separable kernel of the given sigma.
func gaussian(p *plane, sigma float64) *plane {
	if sigma <= 0 {
		return newPlane(p.w, p.h, p.v)
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float32, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		k := math.Exp(-d * d / (2 * sigma * sigma))
		kernel[i] = float32(k)
		sum += k
	}
	for i := range kernel {
		kernel[i] /= float32(sum)
	}

	tmp := zeroPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var acc float32
			for k, kv := range kernel {
				acc += kv * p.at(clamp(x+k-radius, 0, p.w-1), y)
			}
			tmp.v[y*p.w+x] = acc
		}
	}
	out := zeroPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var acc float32
			for k, kv := range kernel {
				acc += kv * tmp.at(x, clamp(y+k-radius, 0, p.h-1))
			}
			out.v[y*p.w+x] = acc
		}
	}
	return out
}

// zoomSize is the size of a level scaled by factor.
func zoomSize(n int, factor float64) int {
	s := int(float64(n)*factor + 0.5)
	if s < 1 {
		s = 1
	}
	return s
}

// zoomOut downsamples p by factor after anti-alias smoothing.
func zoomOut(p *plane, factor float64) *plane {
	blurred := gaussian(p, zoomSigmaZero*math.Sqrt(1/(factor*factor)-1))
	w, h := zoomSize(p.w, factor), zoomSize(p.h, factor)
	out := zeroPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.v[y*w+x] = blurred.bilinear(float64(x)/factor, float64(y)/factor)
		}
	}
	return out
}

// zoomIn upsamples p to w x h.
func zoomIn(p *plane, w, h int) *plane {
	fx := float64(w) / float64(p.w)
	fy := float64(h) / float64(p.h)
	out := zeroPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.v[y*w+x] = p.bilinear(float64(x)/fx, float64(y)/fy)
		}
	}
	return out
}

// warpPlane samples p at x + (u1, u2).
func warpPlane(p, u1, u2 *plane) *plane {
	out := zeroPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			i := y*p.w + x
			out.v[i] = p.bilinear(float64(x)+float64(u1.v[i]), float64(y)+float64(u2.v[i]))
		}
	}
	return out
}

// centeredGradient uses central differences with clamped borders.
func centeredGradient(p *plane) (dx, dy *plane) {
	dx, dy = zeroPlane(p.w, p.h), zeroPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			i := y*p.w + x
			dx.v[i] = 0.5 * (p.at(clamp(x+1, 0, p.w-1), y) - p.at(clamp(x-1, 0, p.w-1), y))
			dy.v[i] = 0.5 * (p.at(x, clamp(y+1, 0, p.h-1)) - p.at(x, clamp(y-1, 0, p.h-1)))
		}
	}
	return dx, dy
}

// forwardGradient uses forward differences, zero on the last column/row.
func forwardGradient(p *plane) (dx, dy *plane) {
	dx, dy = zeroPlane(p.w, p.h), zeroPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			i := y*p.w + x
			if x < p.w-1 {
				dx.v[i] = p.v[i+1] - p.v[i]
			}
			if y < p.h-1 {
				dy.v[i] = p.v[i+p.w] - p.v[i]
			}
		}
	}
	return dx, dy
}

// divergence is the negative adjoint of forwardGradient.
func divergence(v1, v2 *plane) *plane {
	w, h := v1.w, v1.h
	out := zeroPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			var a, b float32
			if x < w-1 {
				a = v1.v[i]
			}
			if x > 0 {
				a -= v1.v[i-1]
			}
			if y < h-1 {
				b = v2.v[i]
			}
			if y > 0 {
				b -= v2.v[i-w]
			}
			out.v[i] = a + b
		}
	}
	return out
}

// medianInPlace applies a size x size median filter with clamped borders.
func medianInPlace(p *plane, size int) {
	r := size / 2
	src := append([]float32(nil), p.v...)
	window := make([]float32, 0, size*size)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				yy := clamp(y+dy, 0, p.h-1)
				for dx := -r; dx <= r; dx++ {
					window = append(window, src[yy*p.w+clamp(x+dx, 0, p.w-1)])
				}
			}
			slices.Sort(window)
			p.v[y*p.w+x] = window[len(window)/2]
		}
	}
}

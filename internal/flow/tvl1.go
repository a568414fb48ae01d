package flow

import (
	"fmt"
	"math"

	"github.com/banshee-data/viflow/internal/frames"
)

// Method computes the flow from prev to next.
type Method interface {
	Compute(prev, next frames.Image) (Field, error)
}

// Params configure TV-L1.
type Params struct {
	Tau        float64 // time step of the dual update
	Lambda     float64 // data term weight
	Theta      float64 // coupling between the primal and auxiliary flow
	Scales     int     // pyramid levels
	ScaleStep  float64 // downsampling factor between levels, in (0, 1)
	Warps      int     // warpings per level
	Epsilon    float64 // stopping threshold on the mean squared update
	Iterations int     // maximum iterations per warp
	Median     int     // median filter size after each warp; 0 or 1 disables
}

// DefaultParams are the usual DualTVL1 settings.
func DefaultParams() Params {
	return Params{
		Tau:        0.25,
		Lambda:     0.15,
		Theta:      0.3,
		Scales:     5,
		ScaleStep:  0.5,
		Warps:      5,
		Epsilon:    0.01,
		Iterations: 300,
		Median:     5,
	}
}

const (
	presmoothSigma = 0.8
	zoomSigmaZero  = 0.6
	gradIsZero     = 1e-10
	minLevelSize   = 16
)

// TVL1 is the TV-L1 dense flow method. It keeps no state between pairs.
type TVL1 struct {
	p Params
}

// NewTVL1 returns a TVL1 with params p.
func NewTVL1(p Params) *TVL1 {
	return &TVL1{p: p}
}

// Params returns the configured parameters.
func (m *TVL1) Params() Params {
	return m.p
}

// Compute returns the flow u with prev(x) ≈ next(x + u).
func (m *TVL1) Compute(prev, next frames.Image) (Field, error) {
	if prev.Channels != 1 || next.Channels != 1 {
		return Field{}, fmt.Errorf("tvl1 needs single-channel images, got %d and %d channels", prev.Channels, next.Channels)
	}
	if prev.Width != next.Width || prev.Height != next.Height {
		return Field{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch, prev.Width, prev.Height, next.Width, next.Height)
	}
	w, h := prev.Width, prev.Height
	if w == 0 || h == 0 {
		return NewField(w, h), nil
	}

	i0 := newPlane(w, h, prev.Pix)
	i1 := newPlane(w, h, next.Pix)
	normalizePair(i0, i1)

	scales := m.levels(w, h)
	p0 := make([]*plane, scales)
	p1 := make([]*plane, scales)
	p0[0] = gaussian(i0, presmoothSigma)
	p1[0] = gaussian(i1, presmoothSigma)
	for s := 1; s < scales; s++ {
		p0[s] = zoomOut(p0[s-1], m.p.ScaleStep)
		p1[s] = zoomOut(p1[s-1], m.p.ScaleStep)
	}

	coarse := p0[scales-1]
	u1 := zeroPlane(coarse.w, coarse.h)
	u2 := zeroPlane(coarse.w, coarse.h)
	for s := scales - 1; s >= 0; s-- {
		m.level(p0[s], p1[s], u1, u2)
		if s == 0 {
			break
		}
		fine := p0[s-1]
		u1 = zoomIn(u1, fine.w, fine.h)
		u2 = zoomIn(u2, fine.w, fine.h)
		u1.scale(float32(1 / m.p.ScaleStep))
		u2.scale(float32(1 / m.p.ScaleStep))
	}

	field := NewField(w, h)
	for i := range u1.v {
		field.Data[2*i] = u1.v[i]
		field.Data[2*i+1] = u2.v[i]
	}
	return field, nil
}

// levels is the number of pyramid levels, reduced so the coarsest level
// stays around minLevelSize pixels on the diagonal.
func (m *TVL1) levels(w, h int) int {
	n := m.p.Scales
	if n < 1 {
		n = 1
	}
	if m.p.ScaleStep <= 0 || m.p.ScaleStep >= 1 {
		return 1
	}
	limit := 1 + math.Log(math.Hypot(float64(w), float64(h))/minLevelSize)/math.Log(1/m.p.ScaleStep)
	if limit < float64(n) {
		n = int(limit)
	}
	if n < 1 {
		n = 1
	}
	return n
}

// level refines u1, u2 in place at one pyramid level.
func (m *TVL1) level(i0, i1 *plane, u1, u2 *plane) {
	w, h := i0.w, i0.h
	n := w * h
	lt := float32(m.p.Lambda * m.p.Theta)
	theta := float32(m.p.Theta)
	taut := float32(m.p.Tau / m.p.Theta)
	stop := m.p.Epsilon * m.p.Epsilon

	i1x, i1y := centeredGradient(i1)
	p11, p12 := zeroPlane(w, h), zeroPlane(w, h)
	p21, p22 := zeroPlane(w, h), zeroPlane(w, h)
	v1, v2 := zeroPlane(w, h), zeroPlane(w, h)
	grad := make([]float32, n)
	rhoC := make([]float32, n)

	for warp := 0; warp < m.p.Warps; warp++ {
		i1w := warpPlane(i1, u1, u2)
		i1wx := warpPlane(i1x, u1, u2)
		i1wy := warpPlane(i1y, u1, u2)
		for i := 0; i < n; i++ {
			gx, gy := i1wx.v[i], i1wy.v[i]
			grad[i] = gx*gx + gy*gy
			rhoC[i] = i1w.v[i] - gx*u1.v[i] - gy*u2.v[i] - i0.v[i]
		}

		errSq := math.Inf(1)
		for iter := 0; errSq > stop && iter < m.p.Iterations; iter++ {
			// Thresholding step on the data term.
			for i := 0; i < n; i++ {
				gx, gy := i1wx.v[i], i1wy.v[i]
				rho := rhoC[i] + gx*u1.v[i] + gy*u2.v[i]
				var d1, d2 float32
				switch {
				case rho < -lt*grad[i]:
					d1, d2 = lt*gx, lt*gy
				case rho > lt*grad[i]:
					d1, d2 = -lt*gx, -lt*gy
				case grad[i] < gradIsZero:
				default:
					fi := -rho / grad[i]
					d1, d2 = fi*gx, fi*gy
				}
				v1.v[i] = u1.v[i] + d1
				v2.v[i] = u2.v[i] + d2
			}

			div1 := divergence(p11, p12)
			div2 := divergence(p21, p22)
			var sum float64
			for i := 0; i < n; i++ {
				a := v1.v[i] + theta*div1.v[i]
				b := v2.v[i] + theta*div2.v[i]
				da, db := float64(a-u1.v[i]), float64(b-u2.v[i])
				sum += da*da + db*db
				u1.v[i], u2.v[i] = a, b
			}
			errSq = sum / float64(n)

			// Dual projection onto the unit ball.
			u1x, u1y := forwardGradient(u1)
			u2x, u2y := forwardGradient(u2)
			for i := 0; i < n; i++ {
				ng1 := 1 + taut*hypot32(u1x.v[i], u1y.v[i])
				ng2 := 1 + taut*hypot32(u2x.v[i], u2y.v[i])
				p11.v[i] = (p11.v[i] + taut*u1x.v[i]) / ng1
				p12.v[i] = (p12.v[i] + taut*u1y.v[i]) / ng1
				p21.v[i] = (p21.v[i] + taut*u2x.v[i]) / ng2
				p22.v[i] = (p22.v[i] + taut*u2y.v[i]) / ng2
			}
		}

		if m.p.Median > 1 {
			medianInPlace(u1, m.p.Median)
			medianInPlace(u2, m.p.Median)
		}
	}
}

func hypot32(a, b float32) float32 {
	return float32(math.Sqrt(float64(a*a + b*b)))
}

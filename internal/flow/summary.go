package flow

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PairStats summarizes one field.
type PairStats struct {
	MeanMagnitude float64
	MaxMagnitude  float64
	MeanDX        float64
	MeanDY        float64
}

// Summary summarizes a stack.
type Summary struct {
	Pairs         int
	MeanMagnitude float64
	MaxMagnitude  float64
	PerPair       []PairStats
}

// Summarize computes per-pair and overall magnitude statistics.
func Summarize(s Stack) Summary {
	sum := Summary{Pairs: len(s.Fields), PerPair: make([]PairStats, len(s.Fields))}
	if len(s.Fields) == 0 {
		return sum
	}
	means := make([]float64, len(s.Fields))
	for i, f := range s.Fields {
		ps := FieldStats(f)
		sum.PerPair[i] = ps
		means[i] = ps.MeanMagnitude
		sum.MaxMagnitude = max(sum.MaxMagnitude, ps.MaxMagnitude)
	}
	// All fields of a stack have the same size.
	sum.MeanMagnitude = stat.Mean(means, nil)
	return sum
}

// FieldStats computes the statistics of one field.
func FieldStats(f Field) PairStats {
	mags := f.Magnitudes()
	if len(mags) == 0 {
		return PairStats{}
	}
	dx := make([]float64, len(mags))
	dy := make([]float64, len(mags))
	for i := range mags {
		dx[i] = float64(f.Data[2*i])
		dy[i] = float64(f.Data[2*i+1])
	}
	return PairStats{
		MeanMagnitude: stat.Mean(mags, nil),
		MaxMagnitude:  floats.Max(mags),
		MeanDX:        stat.Mean(dx, nil),
		MeanDY:        stat.Mean(dy, nil),
	}
}

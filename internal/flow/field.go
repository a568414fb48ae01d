package flow

import (
	"fmt"
	"math"
)

// Field is one dense flow field, stored row-major with (dx, dy)
// interleaved.
type Field struct {
	Width  int
	Height int
	Data   []float32
}

// NewField allocates a zero field.
func NewField(width, height int) Field {
	return Field{Width: width, Height: height, Data: make([]float32, width*height*2)}
}

// At returns the displacement at column x, row y.
func (f Field) At(x, y int) (dx, dy float32) {
	i := 2 * (y*f.Width + x)
	return f.Data[i], f.Data[i+1]
}

// Magnitudes returns the per-pixel vector length.
func (f Field) Magnitudes() []float64 {
	out := make([]float64, f.Width*f.Height)
	for i := range out {
		out[i] = math.Hypot(float64(f.Data[2*i]), float64(f.Data[2*i+1]))
	}
	return out
}

// Stack is the ordered flow of one source.
type Stack struct {
	SourceID   string
	Width      int
	Height     int
	FrameCount int
	Fields     []Field
}

// Pairs is the number of fields, FrameCount-1 for a non-empty source.
func (s Stack) Pairs() int {
	return len(s.Fields)
}

// Shape is (pairs, height, width, 2).
func (s Stack) Shape() []int {
	return []int{len(s.Fields), s.Height, s.Width, 2}
}

// Flatten copies every field into one contiguous slice in Shape order.
func (s Stack) Flatten() []float32 {
	out := make([]float32, 0, len(s.Fields)*s.Width*s.Height*2)
	for _, f := range s.Fields {
		out = append(out, f.Data...)
	}
	return out
}

// StackFromData splits contiguous (pairs, h, w, 2) data into a Stack.
func StackFromData(sourceID string, shape []int, data []float32) (Stack, error) {
	if len(shape) != 4 || shape[3] != 2 {
		return Stack{}, fmt.Errorf("flow shape %v is not (pairs, h, w, 2)", shape)
	}
	pairs, h, w := shape[0], shape[1], shape[2]
	size := h * w * 2
	if len(data) != pairs*size {
		return Stack{}, fmt.Errorf("flow data has %d values, shape %v needs %d", len(data), shape, pairs*size)
	}
	s := Stack{SourceID: sourceID, Width: w, Height: h, FrameCount: pairs + 1, Fields: make([]Field, pairs)}
	for i := range s.Fields {
		s.Fields[i] = Field{Width: w, Height: h, Data: data[i*size : (i+1)*size]}
	}
	return s, nil
}

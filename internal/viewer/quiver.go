package viewer

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/viflow/internal/flow"
)

// fieldXY adapts a flow field to plotter.FieldXY. Rows are flipped so
// image row 0 is drawn at the top.
type fieldXY struct {
	f flow.Field
}

func (q fieldXY) Dims() (c, r int) { return q.f.Width, q.f.Height }

func (q fieldXY) Vector(c, r int) plotter.XY {
	dx, dy := q.f.At(c, r)
	// Image y grows downwards, plot y upwards.
	return plotter.XY{X: float64(dx), Y: -float64(dy)}
}

func (q fieldXY) X(c int) float64 { return float64(c) }
func (q fieldXY) Y(r int) float64 { return float64(q.f.Height - r) }

// Quiver draws f as an arrow field and writes it as PNG.
func Quiver(w io.Writer, f flow.Field, title string) error {
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("quiver of empty %dx%d field", f.Width, f.Height)
	}
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	// An all-zero field has no arrow length to scale by.
	if flow.FieldStats(f).MaxMagnitude > 0 {
		field := plotter.NewField(fieldXY{f: f})
		field.LineStyle.Color = color.NRGBA{A: 128}
		field.LineStyle.Width = vg.Points(0.5)
		p.Add(field)
	}

	height := 8 * vg.Inch
	width := height * vg.Length(f.Width) / vg.Length(f.Height)
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

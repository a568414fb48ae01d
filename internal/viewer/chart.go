package viewer

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/viflow/internal/flow"
)

// SourceSummary pairs an archive name with its statistics.
type SourceSummary struct {
	Name    string
	Summary flow.Summary
}

// magnitudeChart is the per-pair magnitude line chart of one source.
func magnitudeChart(s SourceSummary) *charts.Line {
	x := make([]int, len(s.Summary.PerPair))
	mean := make([]opts.LineData, len(s.Summary.PerPair))
	peak := make([]opts.LineData, len(s.Summary.PerPair))
	for i, ps := range s.Summary.PerPair {
		x[i] = i
		mean[i] = opts.LineData{Value: ps.MeanMagnitude}
		peak[i] = opts.LineData{Value: ps.MaxMagnitude}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Optical flow magnitude", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Name, Subtitle: fmt.Sprintf("pairs=%d mean=%.3f max=%.3f", s.Summary.Pairs, s.Summary.MeanMagnitude, s.Summary.MaxMagnitude)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "pair", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("max", peak)
	return line
}

// WriteChart renders one magnitude chart per source into a single HTML
// page.
func WriteChart(w io.Writer, sources []SourceSummary) error {
	page := components.NewPage()
	for _, s := range sources {
		page.AddCharts(magnitudeChart(s))
	}
	return page.Render(w)
}

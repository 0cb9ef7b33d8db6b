// Package report renders estimation results for review: an HTML bar
// chart with confidence whiskers via go-echarts, and a PNG points plot
// via gonum/plot for embedding in generated survey reports.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/creel-data/creel.report/internal/estimate"
)

// groupLabel flattens a result's grouping keys into one axis label.
func groupLabel(r estimate.Result) string {
	if len(r.Keys) == 0 {
		return "all"
	}
	cols := make([]string, 0, len(r.Keys))
	for c := range r.Keys {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = r.Keys[c]
	}
	return strings.Join(parts, " / ")
}

// RenderHTML writes an interactive bar chart of the estimates with CI
// whiskers drawn as a scatter overlay. Groups with an unavailable SE
// get a bar but no whiskers.
func RenderHTML(w io.Writer, title string, results []estimate.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to chart")
	}

	labels := make([]string, len(results))
	bars := make([]opts.BarData, len(results))
	var lows, highs []opts.ScatterData
	for i, r := range results {
		labels[i] = groupLabel(r)
		bars[i] = opts.BarData{Value: r.Estimate}
		if r.SEAvailable {
			lows = append(lows, opts.ScatterData{Value: []interface{}{labels[i], r.CILow}})
			highs = append(highs, opts.ScatterData{Value: []interface{}{labels[i], r.CIHigh}})
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: results[0].Method}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("estimate", bars)

	sc := charts.NewScatter()
	sc.SetXAxis(labels)
	sc.AddSeries("ci_low", lows)
	sc.AddSeries("ci_high", highs)
	bar.Overlap(sc)

	return bar.Render(w)
}

// RenderPNG writes a points-with-error-bars plot of the estimates to
// path. Groups are spread along X in result order.
func RenderPNG(path, title string, results []estimate.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = results[0].Method
	p.NominalX(labelsOf(results)...)

	pts := make(plotter.XYs, len(results))
	errs := make(plotter.YErrors, len(results))
	for i, r := range results {
		pts[i].X = float64(i)
		pts[i].Y = r.Estimate
		if r.SEAvailable {
			errs[i].Low = r.Estimate - r.CILow
			errs[i].High = r.CIHigh - r.Estimate
		}
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	p.Add(scatter)

	bars, err := plotter.NewYErrorBars(errorPoints{pts, errs})
	if err != nil {
		return fmt.Errorf("failed to build error bars: %w", err)
	}
	p.Add(bars)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

func labelsOf(results []estimate.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = groupLabel(r)
	}
	return out
}

// errorPoints adapts XYs plus YErrors to the interfaces NewYErrorBars
// needs.
type errorPoints struct {
	plotter.XYs
	errs plotter.YErrors
}

func (e errorPoints) YError(i int) (float64, float64) {
	low, high := e.errs[i].Low, e.errs[i].High
	if math.IsNaN(low) || math.IsNaN(high) {
		return 0, 0
	}
	return low, high
}

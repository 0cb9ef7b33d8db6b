// Package effort estimates angler effort from count surveys. Aerial and
// progressive (roving) counts differ only in how raw count events reduce
// to day-by-group effort-hour totals; both then inherit day weights
// through the survey design and delegate to the estimation engine for
// survey-weighted totals. Without a day-level design the package falls
// back to a non-design variance, clearly labeled as the weaker mode.
package effort

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/frame"
	"github.com/creel-data/creel.report/internal/survey"
)

// EffortColumn names the effort-hours column on aggregate tables
// produced by this package.
const EffortColumn = "effort_hours"

// minVisibility floors the visibility proportion so a near-zero
// visibility cannot explode the adjusted count.
const minVisibility = 0.1

// AerialOptions parameterizes aerial count estimation.
type AerialOptions struct {
	// Day is the day id column in the count table.
	Day string
	// Count is the raw instantaneous count column.
	Count string
	// TotalMinutes names the explicit minutes-represented column. When
	// absent the per-observation Minutes column is summed instead, with
	// a warning that this approximates the represented window.
	TotalMinutes string
	// Minutes is the per-observation minutes column used by the
	// fallback.
	Minutes string
	// Visibility is an optional visibility-proportion column.
	Visibility string
	// Calibration is an optional calibration-multiplier column.
	Calibration string
	// By are grouping columns (location, water body, ...).
	By []string

	ConfLevel    float64
	Method       estimate.VarianceMethod
	Replicates   int
	Seed         int64
	DesignEffect bool
}

// Aerial estimates total angler effort hours from aerial counts.
// Per day and group: adjusted = count / clamp(visibility, 0.1) x
// calibration; effort = mean(adjusted) x minutes represented / 60.
// With a day-level design the aggregates inherit design weights and the
// engine supplies design-based variance; with design == nil the weaker
// non-design fallback applies.
func Aerial(design *survey.Design, counts *frame.Table, opts AerialOptions) ([]estimate.Result, error) {
	agg, sds, by, warnings, err := aggregateAerial(counts, opts)
	if err != nil {
		return nil, err
	}
	if design == nil {
		return fallbackResults(agg, sds, by, opts.ConfLevel, warnings, "effort_aerial")
	}
	return designResults(design, agg, opts.Day, by, estimate.Options{
		Method:       opts.Method,
		ConfLevel:    opts.ConfLevel,
		Replicates:   opts.Replicates,
		Seed:         opts.Seed,
		DesignEffect: opts.DesignEffect,
		MethodTag:    "effort_aerial:" + EffortColumn,
	}, warnings)
}

// aggregateAerial reduces raw aerial count events to one row per
// day-by-group with effort hours, plus the per-aggregate fallback SD of
// the adjusted counts. It also returns the grouping columns actually
// used, with absent ones dropped; downstream grouping must use that
// filtered list, not the caller's request.
func aggregateAerial(counts *frame.Table, opts AerialOptions) (*frame.Table, []fallbackStats, []string, []string, error) {
	var missing []string
	for _, c := range []string{opts.Day, opts.Count} {
		if c == "" || !counts.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, nil, nil, &survey.MissingColumnError{Table: "counts", Columns: missing}
	}
	count, _ := counts.Float(opts.Count)

	var warnings []string
	vis := optionalColumn(counts, opts.Visibility)
	cal := optionalColumn(counts, opts.Calibration)

	totalMin := optionalColumn(counts, opts.TotalMinutes)
	perObsMin := optionalColumn(counts, opts.Minutes)
	if totalMin == nil {
		if perObsMin == nil {
			return nil, nil, nil, nil, &survey.MissingColumnError{Table: "counts",
				Columns: []string{opts.TotalMinutes, opts.Minutes}}
		}
		w := fmt.Sprintf("no %q column; approximating minutes represented by summing %q per day/group",
			opts.TotalMinutes, opts.Minutes)
		warnings = append(warnings, w)
		log.Printf("effort: %s", w)
	}

	by, byWarnings := presentColumns(counts, opts.By, "counts")
	warnings = append(warnings, byWarnings...)

	groupCols := append([]string{opts.Day}, by...)
	groups := counts.GroupBy(groupCols)

	n := len(groups)
	days := make([]string, n)
	labels := make([][]string, len(by))
	for i := range labels {
		labels[i] = make([]string, n)
	}
	effortHours := make([]float64, n)
	nObs := make([]float64, n)
	sds := make([]fallbackStats, n)

	for gi, g := range groups {
		parts := frame.SplitKey(g.Key)
		days[gi] = parts[0]
		for i := range by {
			labels[i][gi] = parts[i+1]
		}

		adjusted := make([]float64, len(g.Rows))
		for i, r := range g.Rows {
			a := count[r]
			if vis != nil {
				a /= math.Max(vis[r], minVisibility)
			}
			if cal != nil {
				a *= cal[r]
			}
			adjusted[i] = a
		}

		var minutes float64
		if totalMin != nil {
			// The represented window is a per-day property; rows within
			// a day/group carry the same value, so the first row wins.
			minutes = totalMin[g.Rows[0]]
		} else {
			for _, r := range g.Rows {
				minutes += perObsMin[r]
			}
		}

		meanAdj := stat.Mean(adjusted, nil)
		effortHours[gi] = meanAdj * minutes / 60
		nObs[gi] = float64(len(g.Rows))
		sds[gi] = fallbackStats{
			scale: minutes / 60,
			n:     len(g.Rows),
		}
		if len(adjusted) > 1 {
			sds[gi].sd = math.Sqrt(stat.Variance(adjusted, nil))
		}
	}

	agg := frame.New().MustString(opts.Day, days)
	for i, c := range by {
		agg.MustString(c, labels[i])
	}
	agg.MustFloat(EffortColumn, effortHours).MustFloat("n_obs", nObs)
	return agg, sds, by, warnings, nil
}

func optionalColumn(t *frame.Table, name string) []float64 {
	if name == "" {
		return nil
	}
	col, ok := t.Float(name)
	if !ok {
		return nil
	}
	return col
}

// presentColumns filters requested grouping columns to those present,
// warning on each drop.
func presentColumns(t *frame.Table, cols []string, table string) ([]string, []string) {
	var present, warnings []string
	for _, c := range cols {
		if t.HasColumn(c) {
			present = append(present, c)
		} else {
			w := fmt.Sprintf("grouping column %q not in %s; dropped", c, table)
			warnings = append(warnings, w)
			log.Printf("effort: %s", w)
		}
	}
	return present, warnings
}

// designResults attaches the aggregates to the day-level design and
// computes survey-weighted effort totals.
func designResults(day *survey.Design, agg *frame.Table, dayCol string, by []string, opts estimate.Options, warnings []string) ([]estimate.Result, error) {
	attached, err := survey.AttachGroupDesign(day, agg, dayCol)
	if err != nil {
		return nil, err
	}
	opts.Response = EffortColumn
	opts.Statistic = estimate.Total
	opts.By = by
	results, err := estimate.Estimate(attached, opts)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Warnings = append(results[i].Warnings, warnings...)
	}
	return results, nil
}

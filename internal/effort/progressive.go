package effort

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/frame"
	"github.com/creel-data/creel.report/internal/survey"
)

// ProgressiveOptions parameterizes progressive (roving) count
// estimation.
type ProgressiveOptions struct {
	// Day is the day id column in the count table.
	Day string
	// Count is the anglers-counted column.
	Count string
	// RouteMinutes is the route duration column, per pass.
	RouteMinutes string
	// Pass optionally identifies the circuit/pass; multiple rows of one
	// pass are averaged before passes are summed. Without it every row
	// is its own pass.
	Pass string
	// By are grouping columns.
	By []string

	ConfLevel    float64
	Method       estimate.VarianceMethod
	Replicates   int
	Seed         int64
	DesignEffect bool
}

// Progressive estimates total angler effort hours from roving counts:
// effort = sum over passes of count x route minutes / 60, reduced first
// within each pass and then across passes within day and group. This is
// a two-level reduction, never a flat sum over raw rows.
func Progressive(design *survey.Design, counts *frame.Table, opts ProgressiveOptions) ([]estimate.Result, error) {
	agg, sds, by, warnings, err := aggregateProgressive(counts, opts)
	if err != nil {
		return nil, err
	}
	if design == nil {
		return fallbackResults(agg, sds, by, opts.ConfLevel, warnings, "effort_progressive")
	}
	return designResults(design, agg, opts.Day, by, estimate.Options{
		Method:       opts.Method,
		ConfLevel:    opts.ConfLevel,
		Replicates:   opts.Replicates,
		Seed:         opts.Seed,
		DesignEffect: opts.DesignEffect,
		MethodTag:    "effort_progressive:" + EffortColumn,
	}, warnings)
}

func aggregateProgressive(counts *frame.Table, opts ProgressiveOptions) (*frame.Table, []fallbackStats, []string, []string, error) {
	var missing []string
	for _, c := range []string{opts.Day, opts.Count, opts.RouteMinutes} {
		if c == "" || !counts.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, nil, nil, &survey.MissingColumnError{Table: "counts", Columns: missing}
	}
	count, _ := counts.Float(opts.Count)
	routeMin, _ := counts.Float(opts.RouteMinutes)

	by, warnings := presentColumns(counts, opts.By, "counts")

	groupCols := append([]string{opts.Day}, by...)
	groups := counts.GroupBy(groupCols)

	hasPass := opts.Pass != "" && counts.HasColumn(opts.Pass)

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

		// First level: reduce rows within each pass to one pass effort.
		var passEfforts []float64
		if hasPass {
			sub := counts.Select(g.Rows)
			for _, p := range sub.GroupBy([]string{opts.Pass}) {
				var sumC, sumM float64
				for _, r := range p.Rows {
					orig := g.Rows[r]
					sumC += count[orig]
					sumM += routeMin[orig]
				}
				k := float64(len(p.Rows))
				passEfforts = append(passEfforts, (sumC/k)*(sumM/k)/60)
			}
		} else {
			for _, r := range g.Rows {
				passEfforts = append(passEfforts, count[r]*routeMin[r]/60)
			}
		}

		// Second level: sum passes within the day/group.
		var total float64
		for _, e := range passEfforts {
			total += e
		}
		effortHours[gi] = total
		nObs[gi] = float64(len(g.Rows))
		sds[gi] = fallbackStats{scale: 1, n: len(passEfforts)}
		if len(passEfforts) > 1 {
			// Fallback variance treats passes as replicate measurements
			// of the day/group total.
			sds[gi].sd = math.Sqrt(stat.Variance(passEfforts, nil)) * float64(len(passEfforts))
		}
	}

	agg := frame.New().MustString(opts.Day, days)
	for i, c := range by {
		agg.MustString(c, labels[i])
	}
	agg.MustFloat(EffortColumn, effortHours).MustFloat("n_obs", nObs)
	return agg, sds, by, warnings, nil
}

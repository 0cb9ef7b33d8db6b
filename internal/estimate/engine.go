// Package estimate implements the weighted estimation engine: totals,
// means, and combined ratios over a survey design, with grouping, a
// pluggable variance method (stratified linearization, bootstrap,
// jackknife), Wald confidence intervals, and an optional design effect.
//
// Every estimator path (ratio vs mean, grouped vs ungrouped, design vs
// replicate variance) runs through the one Estimate entry point,
// parameterized orthogonally by Options.
package estimate

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/creel-data/creel.report/internal/survey"
)

// Statistic selects the weighted statistic to compute.
type Statistic string

const (
	// Total is the weighted population total of the response.
	Total Statistic = "total"
	// Mean is the weighted mean of the response. Run over a per-record
	// ratio column this is the mean-of-ratios estimator.
	Mean Statistic = "mean"
	// Ratio is the combined ratio estimator: weighted numerator total
	// over weighted denominator total within each group (never an
	// average of per-unit ratios).
	Ratio Statistic = "ratio"
)

// VarianceMethod selects how sampling variance is estimated.
type VarianceMethod string

const (
	Linearization VarianceMethod = "linearization"
	Bootstrap     VarianceMethod = "bootstrap"
	Jackknife     VarianceMethod = "jackknife"
)

// Options parameterizes one Estimate call.
type Options struct {
	Response    string
	Statistic   Statistic
	By          []string
	Denominator string // required for Ratio
	Method      VarianceMethod
	ConfLevel   float64 // default 0.95

	// Replicates and Seed apply only when Method is Bootstrap and the
	// design has no replicate matrix yet: the engine then builds one
	// from the day-level design. An existing matrix always governs.
	Replicates int
	Seed       int64

	// DesignEffect requests deff per group.
	DesignEffect bool

	// MethodTag overrides the method tag on results; estimators use it
	// to label their output (e.g. "cpue_ratio_of_means:catch_total").
	MethodTag string
}

// Result is one estimation output row. Keys holds the grouping labels
// (empty for an ungrouped call). When SEAvailable is false the variance
// computation was degenerate for this group; the estimate itself is
// still valid.
type Result struct {
	Keys        map[string]string
	Estimate    float64
	SE          float64
	SEAvailable bool
	CILow       float64
	CIHigh      float64
	N           int
	Deff        float64
	Method      string
	Warnings    []string
}

// Estimate computes the requested statistic per group with variance and
// a Wald confidence interval. A variance failure in one group degrades
// that group's SE to not-available and never aborts its siblings.
func Estimate(d *survey.Design, opts Options) ([]Result, error) {
	if opts.Statistic == "" {
		opts.Statistic = Total
	}
	if opts.Method == "" {
		opts.Method = Linearization
	}
	if opts.ConfLevel == 0 {
		opts.ConfLevel = 0.95
	}
	if opts.ConfLevel <= 0 || opts.ConfLevel >= 1 {
		return nil, fmt.Errorf("conf_level must be in (0,1), got %g", opts.ConfLevel)
	}
	if opts.Statistic == Ratio && opts.Denominator == "" {
		return nil, fmt.Errorf("ratio statistic requires a denominator column")
	}

	records := d.Records()
	var missing []string
	resp, ok := records.Float(opts.Response)
	if !ok {
		missing = append(missing, opts.Response)
	}
	var denom []float64
	if opts.Statistic == Ratio {
		denom, ok = records.Float(opts.Denominator)
		if !ok {
			missing = append(missing, opts.Denominator)
		}
	}
	if len(missing) > 0 {
		return nil, &survey.MissingColumnError{Table: "records", Columns: missing}
	}

	var warnings []string
	var by []string
	for _, c := range opts.By {
		if records.HasColumn(c) {
			by = append(by, c)
		} else {
			w := fmt.Sprintf("grouping column %q not in records; dropped", c)
			warnings = append(warnings, w)
			log.Printf("estimate: %s", w)
		}
	}

	// Resolve the variance backend up front.
	switch opts.Method {
	case Linearization:
	case Bootstrap, Jackknife:
		if d.Replicates() == nil {
			if opts.Method == Bootstrap && opts.Replicates > 0 {
				var err error
				d, err = survey.WithBootstrap(d, opts.Replicates, opts.Seed)
				if err != nil {
					return nil, err
				}
				warnings = append(warnings,
					fmt.Sprintf("built %d bootstrap replicates (seed %d)", opts.Replicates, opts.Seed))
			} else {
				return nil, &survey.NoReplicatesError{Method: string(opts.Method)}
			}
		}
	default:
		return nil, fmt.Errorf("unknown variance method %q", opts.Method)
	}

	tag := opts.MethodTag
	if tag == "" {
		tag = fmt.Sprintf("%s:%s", opts.Statistic, opts.Response)
	}
	zq := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-opts.ConfLevel)/2)

	groups := records.GroupBy(by)
	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		res := Result{
			Keys:     groupKeys(by, g.Labels),
			N:        len(g.Rows),
			Method:   tag,
			Warnings: append([]string(nil), warnings...),
		}

		est, err := pointEstimate(d.Weights(), resp, denom, opts.Statistic, g.Rows)
		if err != nil {
			return nil, fmt.Errorf("group %v: %w", res.Keys, err)
		}
		res.Estimate = est

		v, deff, verr := groupVariance(d, opts, resp, denom, g.Rows, est)
		switch {
		case verr != nil && errors.Is(verr, survey.ErrVarianceUnavailable):
			res.SE = math.NaN()
			res.CILow = math.NaN()
			res.CIHigh = math.NaN()
			res.Warnings = append(res.Warnings, fmt.Sprintf("SE not available: %v", verr))
		case verr != nil:
			return nil, fmt.Errorf("group %v: %w", res.Keys, verr)
		default:
			res.SE = math.Sqrt(v)
			res.SEAvailable = true
			res.CILow = est - zq*res.SE
			res.CIHigh = est + zq*res.SE
			if opts.DesignEffect {
				res.Deff = deff
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func groupKeys(by, labels []string) map[string]string {
	keys := make(map[string]string, len(by))
	for i, c := range by {
		keys[c] = labels[i]
	}
	return keys
}

// pointEstimate computes the weighted statistic over the group rows.
func pointEstimate(w, y, x []float64, s Statistic, rows []int) (float64, error) {
	var sw, swy, swx float64
	for _, r := range rows {
		sw += w[r]
		swy += w[r] * y[r]
		if x != nil {
			swx += w[r] * x[r]
		}
	}
	switch s {
	case Total:
		return swy, nil
	case Mean:
		if sw == 0 {
			return math.NaN(), fmt.Errorf("weighted record count is zero")
		}
		return swy / sw, nil
	case Ratio:
		if swx == 0 {
			return math.NaN(), fmt.Errorf("weighted denominator total is zero")
		}
		return swy / swx, nil
	}
	return math.NaN(), fmt.Errorf("unknown statistic %q", s)
}

// groupVariance dispatches to the configured variance backend and also
// returns the design effect when it is cheap to derive.
func groupVariance(d *survey.Design, opts Options, y, x []float64, rows []int, est float64) (v, deff float64, err error) {
	switch opts.Method {
	case Linearization:
		return linearizedVariance(d, opts.Statistic, y, x, rows, est)
	default:
		v, err = replicateVariance(d, opts, y, x, rows, est)
		return v, 0, err
	}
}

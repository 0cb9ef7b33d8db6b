// Package catch estimates total catch, harvest, and related quantities.
// It is a direct instance of the estimation engine with the total
// statistic; it exists to fix the method tags and to fan one call out
// over several response columns.
package catch

import (
	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/survey"
)

// Options parameterizes catch total estimation.
type Options struct {
	// Responses are the numeric columns to total (catch, harvest,
	// weight, ...). Each produces its own result rows.
	Responses []string
	By        []string

	ConfLevel    float64
	Method       estimate.VarianceMethod
	Replicates   int
	Seed         int64
	DesignEffect bool
}

// Totals computes the survey-weighted total of each response column,
// tagged "catch_total:<column>". Results for all responses are returned
// in one slice, responses in input order, groups in first-appearance
// order within each.
func Totals(d *survey.Design, opts Options) ([]estimate.Result, error) {
	var out []estimate.Result
	for _, resp := range opts.Responses {
		results, err := estimate.Estimate(d, estimate.Options{
			Response:     resp,
			Statistic:    estimate.Total,
			By:           opts.By,
			Method:       opts.Method,
			ConfLevel:    opts.ConfLevel,
			Replicates:   opts.Replicates,
			Seed:         opts.Seed,
			DesignEffect: opts.DesignEffect,
			MethodTag:    "catch_total:" + resp,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

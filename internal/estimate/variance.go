package estimate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/creel-data/creel.report/internal/survey"
)

// linearizedVariance is the design's native variance estimator:
// stratified, PSU-level, with-replacement approximation on Taylor
// linearized values. Domain (group) estimation keeps every sampling
// unit in play: units without group records enter with a zero total,
// and stratum sizes come from the full design.
//
// Singleton strata are treated as certainty strata (zero contribution).
// If no stratum with group records has two or more units, the variance
// is reported unavailable rather than falsely zero.
func linearizedVariance(d *survey.Design, s Statistic, y, x []float64, rows []int, est float64) (v, deff float64, err error) {
	w := d.Weights()
	psu := d.PSU()

	// Linearize: e such that the statistic's variance is the variance
	// of the weighted total of e.
	e := make([]float64, len(rows))
	switch s {
	case Total:
		for i, r := range rows {
			e[i] = y[r]
		}
	case Mean:
		var sw float64
		for _, r := range rows {
			sw += w[r]
		}
		if sw == 0 {
			return 0, 0, fmt.Errorf("%w: zero weighted count", survey.ErrVarianceUnavailable)
		}
		for i, r := range rows {
			e[i] = (y[r] - est) / sw
		}
	case Ratio:
		var swx float64
		for _, r := range rows {
			swx += w[r] * x[r]
		}
		if swx == 0 {
			return 0, 0, fmt.Errorf("%w: zero weighted denominator", survey.ErrVarianceUnavailable)
		}
		for i, r := range rows {
			e[i] = (y[r] - est*x[r]) / swx
		}
	}

	// PSU totals of the weighted linearized values.
	totals := make(map[string]float64)
	hasRecords := make(map[string]bool) // strata containing group records
	strata := d.Strata()
	for i, r := range rows {
		totals[psu[r]] += w[r] * e[i]
		hasRecords[strata[r]] = true
	}

	sizes := d.StratumSizes()
	byStratum := d.UnitsByStratum()
	var usable bool
	for h, units := range byStratum {
		if !hasRecords[h] {
			continue
		}
		nh := sizes[h]
		if nh < 2 {
			continue // certainty stratum
		}
		usable = true
		var sum, mean float64
		for _, u := range units {
			sum += totals[u]
		}
		mean = sum / float64(nh)
		var ss float64
		for _, u := range units {
			dlt := totals[u] - mean
			ss += dlt * dlt
		}
		v += float64(nh) / float64(nh-1) * ss
	}
	if !usable {
		return 0, 0, fmt.Errorf("%w: every stratum with records has a single sampling unit",
			survey.ErrVarianceUnavailable)
	}
	if math.IsNaN(v) || v < 0 {
		return 0, 0, fmt.Errorf("%w: degenerate linearized variance", survey.ErrVarianceUnavailable)
	}

	// Design effect against a same-size SRS: v_srs = (sum w)^2 var(e)/n.
	// The linearized values are already normalized for mean and ratio,
	// so the one formula covers all three statistics.
	if n := len(rows); n > 1 {
		var sw float64
		for _, r := range rows {
			sw += w[r]
		}
		srs := sw * sw * stat.Variance(e, nil) / float64(n)
		if srs > 0 {
			deff = v / srs
		}
	}
	return v, deff, nil
}

// replicateVariance recomputes the point statistic under every column of
// the replicate-weight matrix and scales the squared deviations per the
// matrix metadata.
func replicateVariance(d *survey.Design, opts Options, y, x []float64, rows []int, est float64) (float64, error) {
	reps := d.Replicates()
	if reps == nil {
		return 0, &survey.NoReplicatesError{Method: string(opts.Method)}
	}
	nr := reps.NReps()
	repEsts := make([]float64, nr)
	for b := 0; b < nr; b++ {
		var sw, swy, swx float64
		for _, r := range rows {
			wb := reps.Weights.At(r, b)
			sw += wb
			swy += wb * y[r]
			if x != nil {
				swx += wb * x[r]
			}
		}
		switch opts.Statistic {
		case Total:
			repEsts[b] = swy
		case Mean:
			if sw == 0 {
				return 0, fmt.Errorf("%w: replicate %d has zero weighted count",
					survey.ErrVarianceUnavailable, b)
			}
			repEsts[b] = swy / sw
		case Ratio:
			if swx == 0 {
				return 0, fmt.Errorf("%w: replicate %d has zero weighted denominator",
					survey.ErrVarianceUnavailable, b)
			}
			repEsts[b] = swy / swx
		}
	}
	v := reps.Variance(est, repEsts)
	if math.IsNaN(v) || v < 0 {
		return 0, fmt.Errorf("%w: degenerate replicate variance", survey.ErrVarianceUnavailable)
	}
	return v, nil
}

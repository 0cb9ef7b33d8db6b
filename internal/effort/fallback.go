package effort

import (
	"log"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/frame"
)

// fallbackStats carries the per-aggregate inputs for the non-design
// variance: SD of the adjusted counts, observation count, and the
// effort-unit scale (minutes/60).
type fallbackStats struct {
	sd    float64
	n     int
	scale float64
}

// fallbackWarning labels every non-design result. The fallback SE is the
// standard error of the mean adjusted count scaled to effort units; it
// carries no clustering or stratification correction and understates
// design-based uncertainty. It exists for surveys with no usable
// calendar, and must never be presented as design-based precision.
const fallbackWarning = "no day-level design supplied: non-design variance " +
	"(SE of mean count scaled to effort units, no clustering/stratification correction)"

// fallbackResults sums day-by-group aggregates into per-group effort
// totals with the weaker non-design variance.
func fallbackResults(agg *frame.Table, sds []fallbackStats, by []string, confLevel float64, warnings []string, tag string) ([]estimate.Result, error) {
	if confLevel == 0 {
		confLevel = 0.95
	}
	zq := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-confLevel)/2)
	log.Printf("effort: %s", fallbackWarning)

	effort, _ := agg.Float(EffortColumn)
	nObs, _ := agg.Float("n_obs")

	groups := agg.GroupBy(by)
	results := make([]estimate.Result, 0, len(groups))
	for _, g := range groups {
		res := estimate.Result{
			Keys:     make(map[string]string, len(by)),
			Method:   tag + ":fallback",
			Warnings: append(append([]string(nil), warnings...), fallbackWarning),
		}
		for i, c := range by {
			res.Keys[c] = g.Labels[i]
		}

		var variance float64
		seOK := true
		for _, r := range g.Rows {
			res.Estimate += effort[r]
			res.N += int(nObs[r])
			s := sds[r]
			if s.n < 2 {
				seOK = false
				continue
			}
			se := s.sd / math.Sqrt(float64(s.n)) * s.scale
			variance += se * se
		}
		if seOK && variance >= 0 {
			res.SE = math.Sqrt(variance)
			res.SEAvailable = true
			res.CILow = res.Estimate - zq*res.SE
			res.CIHigh = res.Estimate + zq*res.SE
		} else {
			res.SE = math.NaN()
			res.CILow = math.NaN()
			res.CIHigh = math.NaN()
			res.Warnings = append(res.Warnings,
				"SE not available: a day/group aggregate has fewer than 2 observations")
		}
		results = append(results, res)
	}
	return results, nil
}

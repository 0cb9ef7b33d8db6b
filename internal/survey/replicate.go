package survey

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// RepType identifies the resampling scheme a replicate-weight matrix was
// built with. The scheme determines how replicate deviations are scaled
// into a variance.
type RepType string

const (
	RepBootstrap RepType = "bootstrap"
	RepJackknife RepType = "jackknife"
	RepBRR       RepType = "brr"
)

// ReplicateWeightMatrix holds per-record replicate weights: one row per
// design record, one column per replicate. The metadata travels with the
// matrix as a unit; any re-keying uses UnitIDs, never row position.
type ReplicateWeightMatrix struct {
	Type    RepType
	Weights *mat.Dense
	// UnitIDs gives the sampling unit of each matrix row. Row order is
	// an implementation detail; joins must go through these ids.
	UnitIDs []string
	// OverallScale multiplies the summed squared replicate deviations
	// (1/B for Rao-Wu bootstrap, 1 for jackknife).
	OverallScale float64
	// RepScales optionally scales each replicate's squared deviation
	// ((n_h-1)/n_h for stratified jackknife). Nil means 1 for all.
	RepScales []float64
	// CombinedWeights records whether the matrix columns are full
	// analysis weights (true) or adjustment factors to apply on top of
	// the base weights (false). This package always builds combined
	// weights; externally supplied matrices may not.
	CombinedWeights bool
}

// NReps returns the number of replicates.
func (m *ReplicateWeightMatrix) NReps() int {
	if m == nil || m.Weights == nil {
		return 0
	}
	_, c := m.Weights.Dims()
	return c
}

// RowForUnit returns the matrix row index for a sampling unit id.
func (m *ReplicateWeightMatrix) RowForUnit(id string) (int, bool) {
	for i, u := range m.UnitIDs {
		if u == id {
			return i, true
		}
	}
	return 0, false
}

// Variance turns replicate statistics into a variance estimate given the
// full-sample point estimate.
func (m *ReplicateWeightMatrix) Variance(full float64, reps []float64) float64 {
	var sum float64
	for b, r := range reps {
		d := r - full
		sq := d * d
		if m.RepScales != nil {
			sq *= m.RepScales[b]
		}
		sum += sq
	}
	return m.OverallScale * sum
}

// WithBootstrap attaches Rao-Wu-Yue bootstrap replicate weights to a
// day-level design: within each stratum of n_h units, each replicate
// resamples n_h-1 units with replacement and rescales by n_h/(n_h-1).
// Strata with a single unit keep their base weight in every replicate.
// The RNG is seeded explicitly so repeated runs are reproducible.
func WithBootstrap(d *Design, nReps int, seed int64) (*Design, error) {
	if nReps < 2 {
		return nil, fmt.Errorf("bootstrap needs at least 2 replicates, got %d", nReps)
	}
	if len(d.units) != len(d.weights) {
		return nil, fmt.Errorf("bootstrap weights must be built on a day-level design " +
			"(one record per sampling unit); attach groups afterwards")
	}

	rng := rand.New(rand.NewSource(seed))
	byStratum := make(map[string][]int) // stratum -> record row indexes
	for i, s := range d.strata {
		byStratum[s] = append(byStratum[s], i)
	}
	// Iterate strata in record order for deterministic draws.
	var strataOrder []string
	seen := make(map[string]bool)
	for _, s := range d.strata {
		if !seen[s] {
			seen[s] = true
			strataOrder = append(strataOrder, s)
		}
	}

	w := mat.NewDense(len(d.weights), nReps, nil)
	for _, s := range strataOrder {
		rows := byStratum[s]
		nh := len(rows)
		if nh < 2 {
			for b := 0; b < nReps; b++ {
				w.Set(rows[0], b, d.weights[rows[0]])
			}
			continue
		}
		scale := float64(nh) / float64(nh-1)
		for b := 0; b < nReps; b++ {
			counts := make([]int, nh)
			for k := 0; k < nh-1; k++ {
				counts[rng.Intn(nh)]++
			}
			for j, r := range rows {
				w.Set(r, b, d.weights[r]*scale*float64(counts[j]))
			}
		}
	}

	out := *d
	out.kind = ReplicateDesign
	out.reps = &ReplicateWeightMatrix{
		Type:            RepBootstrap,
		Weights:         w,
		UnitIDs:         append([]string(nil), d.psu...),
		OverallScale:    1.0 / float64(nReps),
		CombinedWeights: true,
	}
	return &out, nil
}

// WithJackknife attaches stratified delete-one-PSU jackknife weights to
// a day-level design: one replicate per unit, with the deleted unit's
// weight zeroed and its stratum mates rescaled by n_h/(n_h-1). The
// replicate scale (n_h-1)/n_h is carried in RepScales.
func WithJackknife(d *Design) (*Design, error) {
	if len(d.units) != len(d.weights) {
		return nil, fmt.Errorf("jackknife weights must be built on a day-level design " +
			"(one record per sampling unit); attach groups afterwards")
	}
	n := len(d.weights)
	if n < 2 {
		return nil, &EmptyDesignError{Reason: "jackknife needs at least 2 sampling units"}
	}

	sizes := make(map[string]int)
	for _, s := range d.strata {
		sizes[s]++
	}

	w := mat.NewDense(n, n, nil)
	scales := make([]float64, n)
	for b := 0; b < n; b++ {
		sb := d.strata[b]
		nh := sizes[sb]
		if nh < 2 {
			// Singleton stratum: the replicate changes nothing and
			// contributes zero deviation.
			for i := 0; i < n; i++ {
				w.Set(i, b, d.weights[i])
			}
			scales[b] = 0
			continue
		}
		scales[b] = float64(nh-1) / float64(nh)
		rescale := float64(nh) / float64(nh-1)
		for i := 0; i < n; i++ {
			switch {
			case i == b:
				w.Set(i, b, 0)
			case d.strata[i] == sb:
				w.Set(i, b, d.weights[i]*rescale)
			default:
				w.Set(i, b, d.weights[i])
			}
		}
	}

	out := *d
	out.kind = ReplicateDesign
	out.reps = &ReplicateWeightMatrix{
		Type:            RepJackknife,
		Weights:         w,
		UnitIDs:         append([]string(nil), d.psu...),
		OverallScale:    1,
		RepScales:       scales,
		CombinedWeights: true,
	}
	return &out, nil
}

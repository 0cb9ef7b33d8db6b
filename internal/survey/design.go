// Package survey implements the probability-sampling design layer of the
// estimation engine: sampling units with base weights, stratification,
// replicate-weight matrices, and the builder that carries weights from a
// day-level design down to day-by-group aggregates.
//
// A design is read-only after construction. Estimators never mutate it,
// so independent calls can share one design freely.
package survey

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/creel-data/creel.report/internal/frame"
)

// DesignKind tags the variant of a design, resolved once at entry
// instead of dispatching on dynamic type at every call site.
type DesignKind int

const (
	// RawDesign carries base weights only; variance comes from the
	// stratified linearization estimator.
	RawDesign DesignKind = iota
	// ReplicateDesign additionally carries a replicate-weight matrix
	// for bootstrap/jackknife/BRR variance.
	ReplicateDesign
	// LegacyContainer wraps a design recovered from an older container
	// shape; treated as RawDesign after unwrapping.
	LegacyContainer
)

func (k DesignKind) String() string {
	switch k {
	case RawDesign:
		return "raw"
	case ReplicateDesign:
		return "replicate"
	case LegacyContainer:
		return "legacy"
	}
	return fmt.Sprintf("DesignKind(%d)", int(k))
}

// SamplingUnit is one primary sampling unit: a surveyed day. Only units
// with ActualSample > 0 are eligible for a design.
type SamplingUnit struct {
	UnitID       string
	Stratum      string
	BaseWeight   float64
	TargetSample float64
	ActualSample float64
}

// Design is an immutable survey design: sampling units plus an attached
// record table (one row per unit, or per unit-by-group after
// AttachGroupDesign). Per-record weight, PSU id, and stratum slices are
// aligned with the record table rows.
type Design struct {
	kind    DesignKind
	idCol   string
	units   []SamplingUnit
	byID    map[string]int
	records *frame.Table
	weights []float64
	psu     []string
	strata  []string

	reps *ReplicateWeightMatrix // nil unless kind == ReplicateDesign

	warnings []string
}

// Kind returns the design's variant tag.
func (d *Design) Kind() DesignKind { return d.kind }

// Records returns the attached record table. Read-only.
func (d *Design) Records() *frame.Table { return d.records }

// Weights returns the per-record sampling weights, aligned with the
// record table rows. Read-only.
func (d *Design) Weights() []float64 { return d.weights }

// PSU returns the per-record primary-sampling-unit id.
func (d *Design) PSU() []string { return d.psu }

// Strata returns the per-record stratum label. A design with no strata
// uses a single "" stratum for every record.
func (d *Design) Strata() []string { return d.strata }

// Units returns the sampling units. Read-only.
func (d *Design) Units() []SamplingUnit { return d.units }

// UnitIDColumn returns the name of the unit id column used to build the
// design (day_id in the calendar input).
func (d *Design) UnitIDColumn() string { return d.idCol }

// Replicates returns the attached replicate-weight matrix, or nil for a
// raw design.
func (d *Design) Replicates() *ReplicateWeightMatrix { return d.reps }

// Warnings returns non-fatal degradations recorded while building the
// design (dropped strata columns and the like).
func (d *Design) Warnings() []string {
	out := make([]string, len(d.warnings))
	copy(out, d.warnings)
	return out
}

// Unit resolves a sampling unit by id.
func (d *Design) Unit(id string) (SamplingUnit, bool) {
	i, ok := d.byID[id]
	if !ok {
		return SamplingUnit{}, false
	}
	return d.units[i], true
}

// StratumSizes returns the number of sampling units per stratum over the
// full design. Domain (group) variance estimation needs stratum sizes
// from the whole design, not from the subset of units that happen to
// have records in the group.
func (d *Design) StratumSizes() map[string]int {
	sizes := make(map[string]int)
	for _, u := range d.units {
		sizes[u.Stratum]++
	}
	return sizes
}

// UnitsByStratum returns unit ids grouped by stratum, preserving unit
// order within each stratum.
func (d *Design) UnitsByStratum() map[string][]string {
	out := make(map[string][]string)
	for _, u := range d.units {
		out[u.Stratum] = append(out[u.Stratum], u.UnitID)
	}
	return out
}

// Subset returns a design restricted to the given record rows. Units
// and replicate metadata are retained in full: a subset is a domain of
// the same design, not a new sample.
func (d *Design) Subset(rows []int) *Design {
	sub := &Design{
		kind:    d.kind,
		idCol:   d.idCol,
		units:   d.units,
		byID:    d.byID,
		records: d.records.Select(rows),
		weights: make([]float64, len(rows)),
		psu:     make([]string, len(rows)),
		strata:  make([]string, len(rows)),
		reps:    nil,
	}
	for i, r := range rows {
		sub.weights[i] = d.weights[r]
		sub.psu[i] = d.psu[r]
		sub.strata[i] = d.strata[r]
	}
	if d.reps != nil {
		nr := d.reps.NReps()
		w := mat.NewDense(len(rows), nr, nil)
		for i, r := range rows {
			for b := 0; b < nr; b++ {
				w.Set(i, b, d.reps.Weights.At(r, b))
			}
		}
		sub.reps = &ReplicateWeightMatrix{
			Type:            d.reps.Type,
			Weights:         w,
			UnitIDs:         subsetStrings(d.reps.UnitIDs, rows),
			OverallScale:    d.reps.OverallScale,
			RepScales:       d.reps.RepScales,
			CombinedWeights: d.reps.CombinedWeights,
		}
	}
	return sub
}

// WithDerivedColumn returns a design whose record table carries an
// additional computed column (e.g. a per-record catch/effort ratio).
// Weights and replicate structure are untouched.
func (d *Design) WithDerivedColumn(name string, values []float64) (*Design, error) {
	records, err := d.records.SetFloat(name, values)
	if err != nil {
		return nil, err
	}
	out := *d
	out.records = records
	return &out, nil
}

func subsetStrings(s []string, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = s[r]
	}
	return out
}

// scaleWeights returns a copy of the design with every record weight
// multiplied by factor[i], replicate weights included. Used by
// post-stratification and calibration.
func (d *Design) scaleWeights(factor []float64) *Design {
	out := &Design{
		kind:     d.kind,
		idCol:    d.idCol,
		units:    d.units,
		byID:     d.byID,
		records:  d.records,
		weights:  make([]float64, len(d.weights)),
		psu:      d.psu,
		strata:   d.strata,
		warnings: d.warnings,
	}
	for i, w := range d.weights {
		out.weights[i] = w * factor[i]
	}
	if d.reps != nil {
		nr := d.reps.NReps()
		w := mat.NewDense(len(d.weights), nr, nil)
		for i := range d.weights {
			for b := 0; b < nr; b++ {
				w.Set(i, b, d.reps.Weights.At(i, b)*factor[i])
			}
		}
		out.reps = &ReplicateWeightMatrix{
			Type:            d.reps.Type,
			Weights:         w,
			UnitIDs:         d.reps.UnitIDs,
			OverallScale:    d.reps.OverallScale,
			RepScales:       d.reps.RepScales,
			CombinedWeights: d.reps.CombinedWeights,
		}
	}
	return out
}

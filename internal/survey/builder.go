package survey

import (
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"github.com/creel-data/creel.report/internal/frame"
)

// Calendar column names. The calendar loader (external to this module)
// is responsible for mapping legacy names onto these.
const (
	ColTargetSample = "target_sample"
	ColActualSample = "actual_sample"
)

// BuildDayDesign constructs a day-level design from calendar metadata.
// Weight per day = (stratum sum of target_sample) / max(stratum sum of
// actual_sample, 1), so sampled days stand in for the days the schedule
// intended to cover. Days with actual_sample <= 0 are ineligible.
// Requested strata columns absent from the calendar are dropped with a
// warning; with no strata the whole calendar is a single stratum.
func BuildDayDesign(calendar *frame.Table, dayID string, strataVars []string) (*Design, error) {
	var missing []string
	for _, c := range []string{dayID, ColTargetSample, ColActualSample} {
		if !calendar.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Table: "calendar", Columns: missing}
	}

	var warnings []string
	var strata []string
	for _, s := range strataVars {
		if calendar.HasColumn(s) {
			strata = append(strata, s)
		} else {
			w := fmt.Sprintf("stratum column %q not in calendar; dropped", s)
			warnings = append(warnings, w)
			log.Printf("survey: %s", w)
		}
	}

	actual, _ := calendar.Float(ColActualSample)
	target, _ := calendar.Float(ColTargetSample)

	rows := calendar.Filter(func(r int) bool { return actual[r] > 0 })
	if len(rows) == 0 {
		return nil, &EmptyDesignError{Reason: "no calendar rows with actual_sample > 0"}
	}
	sampled := calendar.Select(rows)
	sActual, _ := sampled.Float(ColActualSample)
	sTarget, _ := sampled.Float(ColTargetSample)

	// Stratum totals come from the full calendar: unsampled days still
	// contribute their target_sample to the stratum they belong to.
	targetByStratum := make(map[string]float64)
	actualByStratum := make(map[string]float64)
	for r := 0; r < calendar.Len(); r++ {
		k := calendar.Key(r, strata)
		targetByStratum[k] += target[r]
		if actual[r] > 0 {
			actualByStratum[k] += actual[r]
		}
	}

	n := sampled.Len()
	units := make([]SamplingUnit, n)
	byID := make(map[string]int, n)
	weights := make([]float64, n)
	psu := make([]string, n)
	strataOf := make([]string, n)
	for r := 0; r < n; r++ {
		id, _ := sampled.Label(dayID, r)
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("calendar has duplicate %s=%q; sampling units must be unique", dayID, id)
		}
		k := sampled.Key(r, strata)
		denom := actualByStratum[k]
		if denom < 1 {
			denom = 1
		}
		w := targetByStratum[k] / denom
		units[r] = SamplingUnit{
			UnitID:       id,
			Stratum:      k,
			BaseWeight:   w,
			TargetSample: sTarget[r],
			ActualSample: sActual[r],
		}
		byID[id] = r
		weights[r] = w
		psu[r] = id
		strataOf[r] = k
	}

	records, err := sampled.SetFloat("weight", weights)
	if err != nil {
		return nil, err
	}
	return &Design{
		kind:     RawDesign,
		idCol:    dayID,
		units:    units,
		byID:     byID,
		records:  records,
		weights:  weights,
		psu:      psu,
		strata:   strataOf,
		warnings: warnings,
	}, nil
}

// AttachGroupDesign joins the day-level design's weights onto an
// aggregate table (one row per day-by-group) by exact day id match. An
// aggregate row whose day has no design match is a hard
// WeightAlignmentError: an NA weight must never flow into estimation.
// Replicate weights, when present, are re-keyed by unit id and
// duplicated across every group row sharing a day so resampling
// variance reflects within-day clustering.
func AttachGroupDesign(day *Design, aggregate *frame.Table, dayID string) (*Design, error) {
	if !aggregate.HasColumn(dayID) {
		return nil, &MissingColumnError{Table: "aggregate", Columns: []string{dayID}}
	}

	n := aggregate.Len()
	weights := make([]float64, n)
	psu := make([]string, n)
	strataOf := make([]string, n)
	for r := 0; r < n; r++ {
		id, _ := aggregate.Label(dayID, r)
		u, ok := day.Unit(id)
		if !ok {
			return nil, &WeightAlignmentError{Column: dayID, UnitID: id}
		}
		weights[r] = u.BaseWeight
		psu[r] = id
		strataOf[r] = u.Stratum
	}

	records, err := aggregate.SetFloat("weight", weights)
	if err != nil {
		return nil, err
	}
	out := &Design{
		kind:     day.kind,
		idCol:    dayID,
		units:    day.units,
		byID:     day.byID,
		records:  records,
		weights:  weights,
		psu:      psu,
		strata:   strataOf,
		warnings: day.warnings,
	}

	if day.reps != nil {
		nr := day.reps.NReps()
		w := day.reps.Weights
		dup := mat.NewDense(n, nr, nil)
		for r := 0; r < n; r++ {
			row, ok := day.reps.RowForUnit(psu[r])
			if !ok {
				return nil, &WeightAlignmentError{Column: dayID, UnitID: psu[r]}
			}
			for b := 0; b < nr; b++ {
				dup.Set(r, b, w.At(row, b))
			}
		}
		out.kind = ReplicateDesign
		out.reps = &ReplicateWeightMatrix{
			Type:            day.reps.Type,
			Weights:         dup,
			UnitIDs:         psu,
			OverallScale:    day.reps.OverallScale,
			RepScales:       day.reps.RepScales,
			CombinedWeights: day.reps.CombinedWeights,
		}
	}
	return out, nil
}

// FromDayTable wraps an externally built day-level design: a table with
// one row per day carrying a weight column, optionally with a replicate
// matrix keyed by the same day ids. strataCol may be empty for a single
// stratum.
func FromDayTable(records *frame.Table, dayID, weightCol, strataCol string, reps *ReplicateWeightMatrix) (*Design, error) {
	var missing []string
	for _, c := range []string{dayID, weightCol} {
		if !records.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if strataCol != "" && !records.HasColumn(strataCol) {
		missing = append(missing, strataCol)
	}
	if len(missing) > 0 {
		return nil, &MissingColumnError{Table: "design", Columns: missing}
	}
	weights, ok := records.Float(weightCol)
	if !ok {
		return nil, fmt.Errorf("design weight column %q must be numeric", weightCol)
	}

	n := records.Len()
	if n == 0 {
		return nil, &EmptyDesignError{Reason: "design table has no rows"}
	}
	units := make([]SamplingUnit, n)
	byID := make(map[string]int, n)
	psu := make([]string, n)
	strataOf := make([]string, n)
	for r := 0; r < n; r++ {
		id, _ := records.Label(dayID, r)
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("design has duplicate %s=%q", dayID, id)
		}
		stratum := ""
		if strataCol != "" {
			stratum, _ = records.Label(strataCol, r)
		}
		units[r] = SamplingUnit{UnitID: id, Stratum: stratum, BaseWeight: weights[r], ActualSample: 1}
		byID[id] = r
		psu[r] = id
		strataOf[r] = stratum
	}

	kind := RawDesign
	if reps != nil {
		kind = ReplicateDesign
		if len(reps.UnitIDs) != n {
			return nil, fmt.Errorf("replicate matrix has %d rows for %d design units; "+
				"matrix rows must be keyed one-to-one by unit id", len(reps.UnitIDs), n)
		}
	}
	return &Design{
		kind:    kind,
		idCol:   dayID,
		units:   units,
		byID:    byID,
		records: records,
		weights: append([]float64(nil), weights...),
		psu:     psu,
		strata:  strataOf,
		reps:    reps,
	}, nil
}

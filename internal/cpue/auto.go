package cpue

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/survey"
)

// Mode is the auto-router's resolved state.
type Mode string

const (
	ModeAllComplete   Mode = "all_complete"
	ModeAllIncomplete Mode = "all_incomplete"
	ModeMixed         Mode = "mixed"
)

// HybridDiagnostics retains the two component estimates behind a blended
// Mixed-mode row. Only the combined row is returned as a result; these
// values exist for audit.
type HybridDiagnostics struct {
	CompleteEstimate   float64 `json:"complete_estimate"`
	CompleteSE         float64 `json:"complete_se"`
	CompleteEffort     float64 `json:"complete_effort_hours"`
	CompleteWeight     float64 `json:"complete_weight"`
	IncompleteEstimate float64 `json:"incomplete_estimate"`
	IncompleteSE       float64 `json:"incomplete_se"`
	IncompleteEffort   float64 `json:"incomplete_effort_hours"`
	IncompleteWeight   float64 `json:"incomplete_weight"`
}

// AutoDiagnostics is the structured audit record of one Auto call:
// classification counts, the chosen route, and truncation effects.
type AutoDiagnostics struct {
	Mode            Mode               `json:"mode"`
	NComplete       int                `json:"n_complete"`
	NIncomplete     int                `json:"n_incomplete"`
	NUnknown        int                `json:"n_unknown"`
	PctComplete     float64            `json:"pct_complete"`
	NTruncated      int                `json:"n_truncated"`
	ChosenEstimator string             `json:"chosen_estimator"`
	Hybrid          *HybridDiagnostics `json:"hybrid,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
}

// Auto classifies every interview as complete, incomplete, or unknown
// and routes to the appropriate CPUE estimator:
//
//   - all complete: mean-of-ratios
//   - all incomplete: truncate trips shorter than MinTripHours, then
//     ratio-of-means
//   - mixed: both estimators on their own subsets, combined by
//     effort-share weighting with a delta-method variance
//
// Unknown-completeness records are excluded and counted; a missing
// completeness column is fatal.
func Auto(d *survey.Design, opts Options) ([]estimate.Result, *AutoDiagnostics, error) {
	if opts.Complete == "" {
		return nil, nil, &survey.NoCompletenessFieldError{Column: "(unset)"}
	}
	cls, err := classify(d, opts.Complete)
	if err != nil {
		return nil, nil, err
	}

	diag := &AutoDiagnostics{}
	var completeRows, incompleteRows []int
	for r, c := range cls {
		switch c {
		case tripComplete:
			completeRows = append(completeRows, r)
		case tripIncomplete:
			incompleteRows = append(incompleteRows, r)
		default:
			diag.NUnknown++
		}
	}
	diag.NComplete = len(completeRows)
	diag.NIncomplete = len(incompleteRows)
	if diag.NUnknown > 0 {
		w := fmt.Sprintf("%d interview(s) with unknown trip completeness excluded", diag.NUnknown)
		diag.Warnings = append(diag.Warnings, w)
		log.Printf("cpue: %s", w)
	}
	classified := diag.NComplete + diag.NIncomplete
	if classified == 0 {
		return nil, diag, &EmptyAfterFilterError{Stage: "excluding unknown-completeness interviews"}
	}
	diag.PctComplete = 100 * float64(diag.NComplete) / float64(classified)

	switch {
	case diag.NIncomplete == 0:
		diag.Mode = ModeAllComplete
		diag.ChosenEstimator = "mean_of_ratios"
		log.Printf("cpue auto: %d/%d complete (%.1f%%), using mean-of-ratios",
			diag.NComplete, classified, diag.PctComplete)
		results, err := MeanOfRatios(d.Subset(completeRows), opts)
		return results, diag, err

	case diag.NComplete == 0:
		diag.Mode = ModeAllIncomplete
		diag.ChosenEstimator = "ratio_of_means"
		sub, truncated, err := truncateShortTrips(d.Subset(incompleteRows), opts)
		diag.NTruncated = truncated
		if err != nil {
			return nil, diag, err
		}
		if truncated > 0 {
			diag.Warnings = append(diag.Warnings,
				fmt.Sprintf("%d incomplete trip(s) under %.2g h truncated", truncated, opts.MinTripHours))
		}
		log.Printf("cpue auto: %d/%d incomplete (%.1f%%), using ratio-of-means",
			diag.NIncomplete, classified, 100-diag.PctComplete)
		results, err := RatioOfMeans(sub, opts)
		return results, diag, err
	}

	diag.Mode = ModeMixed
	diag.ChosenEstimator = "hybrid"
	log.Printf("cpue auto: mixed completeness (%.1f%% complete), blending both estimators",
		diag.PctComplete)
	result, err := hybrid(d, completeRows, incompleteRows, opts, diag)
	if err != nil {
		return nil, diag, err
	}
	return []estimate.Result{*result}, diag, nil
}

// truncateShortTrips removes incomplete-trip records whose effort falls
// below MinTripHours.
func truncateShortTrips(d *survey.Design, opts Options) (*survey.Design, int, error) {
	if opts.MinTripHours <= 0 {
		return d, 0, nil
	}
	effort, ok := d.Records().Float(opts.Effort)
	if !ok {
		return nil, 0, &survey.MissingColumnError{Table: "interviews", Columns: []string{opts.Effort}}
	}
	keep := d.Records().Filter(func(r int) bool { return effort[r] >= opts.MinTripHours })
	truncated := d.Records().Len() - len(keep)
	if len(keep) == 0 {
		return nil, truncated, &EmptyAfterFilterError{
			Stage: fmt.Sprintf("truncating trips shorter than %.2g h", opts.MinTripHours)}
	}
	if truncated == 0 {
		return d, 0, nil
	}
	return d.Subset(keep), truncated, nil
}

// hybrid runs both estimators on their subsets and combines them by
// effort share. The weights come from the literal summed raw effort
// hours of each subset, not the estimated effort totals; the variance is
// the delta-method combination under subset independence.
func hybrid(d *survey.Design, completeRows, incompleteRows []int, opts Options, diag *AutoDiagnostics) (*estimate.Result, error) {
	sub := opts
	if len(opts.By) > 0 {
		w := "grouped CPUE is not supported in mixed completeness mode; returning one combined row"
		diag.Warnings = append(diag.Warnings, w)
		log.Printf("cpue: %s", w)
		sub.By = nil
	}

	completeDesign := d.Subset(completeRows)
	incompleteDesign, truncated, err := truncateShortTrips(d.Subset(incompleteRows), sub)
	diag.NTruncated = truncated
	if err != nil {
		return nil, err
	}
	if truncated > 0 {
		diag.Warnings = append(diag.Warnings,
			fmt.Sprintf("%d incomplete trip(s) under %.2g h truncated", truncated, sub.MinTripHours))
	}

	mor, err := MeanOfRatios(completeDesign, sub)
	if err != nil {
		return nil, fmt.Errorf("complete-trip component: %w", err)
	}
	rom, err := RatioOfMeans(incompleteDesign, sub)
	if err != nil {
		return nil, fmt.Errorf("incomplete-trip component: %w", err)
	}
	rc, ri := mor[0], rom[0]

	ec, err := rawEffortSum(completeDesign, sub.Effort)
	if err != nil {
		return nil, err
	}
	ei, err := rawEffortSum(incompleteDesign, sub.Effort)
	if err != nil {
		return nil, err
	}
	if ec+ei == 0 {
		return nil, fmt.Errorf("hybrid combination: total raw effort is zero")
	}
	wc := ec / (ec + ei)
	wi := 1 - wc

	diag.Hybrid = &HybridDiagnostics{
		CompleteEstimate:   rc.Estimate,
		CompleteSE:         rc.SE,
		CompleteEffort:     ec,
		CompleteWeight:     wc,
		IncompleteEstimate: ri.Estimate,
		IncompleteSE:       ri.SE,
		IncompleteEffort:   ei,
		IncompleteWeight:   wi,
	}

	conf := sub.ConfLevel
	if conf == 0 {
		conf = 0.95
	}
	est, se := combineComponents(rc.Estimate, rc.SE, ri.Estimate, ri.SE, wc)
	out := estimate.Result{
		Keys:     map[string]string{},
		Estimate: est,
		N:        rc.N + ri.N,
		Method:   "cpue_hybrid:" + sub.Catch,
		Warnings: append([]string(nil), diag.Warnings...),
	}
	if rc.SEAvailable && ri.SEAvailable {
		out.SE = se
		out.SEAvailable = true
		zq := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-conf)/2)
		out.CILow = est - zq*se
		out.CIHigh = est + zq*se
	} else {
		out.SE = math.NaN()
		out.CILow = math.NaN()
		out.CIHigh = math.NaN()
		out.Warnings = append(out.Warnings,
			"SE not available for one hybrid component; combined SE not available")
	}
	return &out, nil
}

// combineComponents blends the two subset estimators by effort share wc
// (complete) and 1-wc (incomplete). The variance is the delta-method
// combination under subset independence: wc^2 Var_c + (1-wc)^2 Var_i.
func combineComponents(estC, seC, estI, seI, wc float64) (est, se float64) {
	wi := 1 - wc
	est = wc*estC + wi*estI
	se = math.Sqrt(wc*wc*seC*seC + wi*wi*seI*seI)
	return est, se
}

func rawEffortSum(d *survey.Design, effort string) (float64, error) {
	col, ok := d.Records().Float(effort)
	if !ok {
		return 0, &survey.MissingColumnError{Table: "interviews", Columns: []string{effort}}
	}
	return floats.Sum(col), nil
}

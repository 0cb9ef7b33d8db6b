// Package cpue estimates catch-per-unit-effort. Two estimators share
// the estimation engine: the combined ratio-of-means (robust when trips
// are still in progress) and the mean of per-trip ratios (preferred for
// completed trips). Auto mode classifies the interviews and routes
// between them, blending both with a delta-method variance when the
// data mixes complete and incomplete trips.
package cpue

import (
	"fmt"
	"log"
	"strings"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/survey"
)

// Options parameterizes a CPUE call.
type Options struct {
	// Catch is the numerator column (e.g. "catch_total").
	Catch string
	// Effort is the trip effort-hours denominator column.
	Effort string
	// By are optional grouping columns.
	By []string
	// Complete names the three-valued trip-completeness column,
	// required by Auto.
	Complete string
	// MinTripHours truncates incomplete trips shorter than this before
	// ratio-of-means (guards against explosive ratios from very short
	// in-progress trips). Zero disables truncation.
	MinTripHours float64

	ConfLevel    float64
	Method       estimate.VarianceMethod
	Replicates   int
	Seed         int64
	DesignEffect bool
}

// EmptyAfterFilterError is fatal: completeness filtering (or incomplete
// trip truncation) removed every interview record.
type EmptyAfterFilterError struct {
	Stage string
}

func (e *EmptyAfterFilterError) Error() string {
	return fmt.Sprintf("no interview records remain after %s", e.Stage)
}

// RatioOfMeans computes CPUE as the combined ratio estimator: weighted
// catch total over weighted effort total within each group.
func RatioOfMeans(d *survey.Design, opts Options) ([]estimate.Result, error) {
	return estimate.Estimate(d, estimate.Options{
		Response:     opts.Catch,
		Statistic:    estimate.Ratio,
		Denominator:  opts.Effort,
		By:           opts.By,
		Method:       opts.Method,
		ConfLevel:    opts.ConfLevel,
		Replicates:   opts.Replicates,
		Seed:         opts.Seed,
		DesignEffect: opts.DesignEffect,
		MethodTag:    "cpue_ratio_of_means:" + opts.Catch,
	})
}

// MeanOfRatios computes CPUE as the weighted mean of per-record
// catch/effort ratios. Records with non-positive effort have no defined
// ratio and are excluded with a warning.
func MeanOfRatios(d *survey.Design, opts Options) ([]estimate.Result, error) {
	records := d.Records()
	var missing []string
	catch, ok := records.Float(opts.Catch)
	if !ok {
		missing = append(missing, opts.Catch)
	}
	effort, ok := records.Float(opts.Effort)
	if !ok {
		missing = append(missing, opts.Effort)
	}
	if len(missing) > 0 {
		return nil, &survey.MissingColumnError{Table: "interviews", Columns: missing}
	}

	keep := records.Filter(func(r int) bool { return effort[r] > 0 })
	dropped := records.Len() - len(keep)
	if len(keep) == 0 {
		return nil, &EmptyAfterFilterError{Stage: "excluding records with non-positive effort"}
	}
	sub := d.Subset(keep)
	subCatch := make([]float64, len(keep))
	for i, r := range keep {
		subCatch[i] = catch[r] / effort[r]
	}
	ratioCol := "cpue_record_ratio"
	sub, err := sub.WithDerivedColumn(ratioCol, subCatch)
	if err != nil {
		return nil, err
	}

	results, err := estimate.Estimate(sub, estimate.Options{
		Response:     ratioCol,
		Statistic:    estimate.Mean,
		By:           opts.By,
		Method:       opts.Method,
		ConfLevel:    opts.ConfLevel,
		Replicates:   opts.Replicates,
		Seed:         opts.Seed,
		DesignEffect: opts.DesignEffect,
		MethodTag:    "cpue_mean_of_ratios:" + opts.Catch,
	})
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		w := fmt.Sprintf("%d record(s) with non-positive effort excluded from mean-of-ratios", dropped)
		log.Printf("cpue: %s", w)
		for i := range results {
			results[i].Warnings = append(results[i].Warnings, w)
		}
	}
	return results, nil
}

// completeness is the three-valued trip classification.
type completeness int

const (
	tripUnknown completeness = iota
	tripComplete
	tripIncomplete
)

// classifyTrip parses a completeness flag value. Accepted spellings
// follow the interview loaders: 1/0, true/false, yes/no,
// complete/incomplete. Anything else is unknown.
func classifyTrip(v string) completeness {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "complete", "completed":
		return tripComplete
	case "0", "false", "f", "no", "n", "incomplete":
		return tripIncomplete
	}
	return tripUnknown
}

// classify returns the completeness of every interview record, reading
// the flag either as a string column or a numeric 0/1 column.
func classify(d *survey.Design, column string) ([]completeness, error) {
	records := d.Records()
	if s, ok := records.String(column); ok {
		out := make([]completeness, len(s))
		for i, v := range s {
			out[i] = classifyTrip(v)
		}
		return out, nil
	}
	if f, ok := records.Float(column); ok {
		out := make([]completeness, len(f))
		for i, v := range f {
			switch v {
			case 1:
				out[i] = tripComplete
			case 0:
				out[i] = tripIncomplete
			default:
				out[i] = tripUnknown
			}
		}
		return out, nil
	}
	return nil, &survey.NoCompletenessFieldError{Column: column}
}

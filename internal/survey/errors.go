package survey

import (
	"errors"
	"fmt"
	"strings"
)

// MissingColumnError is fatal: a required column is absent from an input
// table. Columns lists every missing name so the caller can fix them all
// at once.
type MissingColumnError struct {
	Table   string
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s table is missing required column(s): %s",
		e.Table, strings.Join(e.Columns, ", "))
}

// EmptyDesignError is fatal: after eligibility filtering no sampled
// units remain, so no design can be built.
type EmptyDesignError struct {
	Reason string
}

func (e *EmptyDesignError) Error() string {
	return fmt.Sprintf("empty survey design: %s", e.Reason)
}

// WeightAlignmentError is fatal: an aggregate row could not be resolved
// to exactly one sampling-unit weight. A silent NA weight is never
// substituted.
type WeightAlignmentError struct {
	Column string // join column name
	UnitID string // the unmatched value
}

func (e *WeightAlignmentError) Error() string {
	return fmt.Sprintf("aggregate row with %s=%q has no matching sampling unit in the design; "+
		"every estimation record must resolve to exactly one weight", e.Column, e.UnitID)
}

// NoReplicatesError is fatal: a resampling variance method was requested
// on a design without replicate weights.
type NoReplicatesError struct {
	Method string
}

func (e *NoReplicatesError) Error() string {
	return fmt.Sprintf("%s variance requested but the design carries no replicate weights; "+
		"build them with WithBootstrap/WithJackknife or pass a replicate design", e.Method)
}

// NoCompletenessFieldError is fatal: auto-mode CPUE estimation needs a
// trip-completeness flag and the named column is absent.
type NoCompletenessFieldError struct {
	Column string
}

func (e *NoCompletenessFieldError) Error() string {
	return fmt.Sprintf("trip completeness column %q not found; auto mode cannot classify trips: "+
		"supply the column or select ratio-of-means / mean-of-ratios explicitly", e.Column)
}

// ErrVarianceUnavailable marks a degenerate variance computation. It is
// non-fatal: the engine reports the SE as not available and continues
// with the remaining groups.
var ErrVarianceUnavailable = errors.New("variance unavailable")

package survey

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creel-data/creel.report/internal/frame"
)

// testCalendar builds a two-stratum calendar: weekends target 8 over 2
// sampled days, weekdays target 20 over 4 sampled days, plus one
// unsampled day per stratum contributing target only.
func testCalendar() *frame.Table {
	return frame.New().
		MustString("day_id", []string{
			"d01", "d02", "d03", "d04", "d05", "d06", "d07", "d08",
		}).
		MustString("day_type", []string{
			"weekend", "weekend", "weekend",
			"weekday", "weekday", "weekday", "weekday", "weekday",
		}).
		MustFloat("target_sample", []float64{4, 4, 0, 4, 4, 4, 4, 4}).
		MustFloat("actual_sample", []float64{1, 1, 0, 1, 1, 1, 1, 0})
}

func TestBuildDayDesignWeights(t *testing.T) {
	d, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)

	// Weekend: target 4+4+0=8 over 2 sampled days => weight 4.
	// Weekday: target 20 over 4 sampled days => weight 5.
	require.Len(t, d.Units(), 6)
	for _, u := range d.Units() {
		switch u.Stratum {
		case "weekend":
			assert.InDelta(t, 4.0, u.BaseWeight, 1e-12, "unit %s", u.UnitID)
		case "weekday":
			assert.InDelta(t, 5.0, u.BaseWeight, 1e-12, "unit %s", u.UnitID)
		default:
			t.Fatalf("unexpected stratum %q", u.Stratum)
		}
	}
}

// Weighted actual-sample totals must reproduce the stratum target totals.
func TestBuildDayDesignWeightIdentity(t *testing.T) {
	d, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)

	sums := make(map[string]float64)
	targets := map[string]float64{"weekend": 8, "weekday": 20}
	for _, u := range d.Units() {
		sums[u.Stratum] += u.BaseWeight * u.ActualSample
	}
	for stratum, want := range targets {
		assert.InDelta(t, want, sums[stratum], 1e-9, "stratum %s", stratum)
	}
}

func TestBuildDayDesignNoStrata(t *testing.T) {
	d, err := BuildDayDesign(testCalendar(), "day_id", nil)
	require.NoError(t, err)

	// One stratum: total target 28 over 6 sampled days.
	for _, u := range d.Units() {
		assert.InDelta(t, 28.0/6.0, u.BaseWeight, 1e-12)
		assert.Equal(t, "", u.Stratum)
	}
}

func TestBuildDayDesignDropsAbsentStrataWithWarning(t *testing.T) {
	d, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type", "moon_phase"})
	require.NoError(t, err)
	require.Len(t, d.Warnings(), 1)
	assert.Contains(t, d.Warnings()[0], "moon_phase")
	// day_type stratification still applies.
	u, ok := d.Unit("d01")
	require.True(t, ok)
	assert.Equal(t, "weekend", u.Stratum)
}

func TestBuildDayDesignEmpty(t *testing.T) {
	cal := frame.New().
		MustString("day_id", []string{"d01", "d02"}).
		MustFloat("target_sample", []float64{4, 4}).
		MustFloat("actual_sample", []float64{0, 0})

	_, err := BuildDayDesign(cal, "day_id", nil)
	var ede *EmptyDesignError
	require.ErrorAs(t, err, &ede)
}

func TestBuildDayDesignMissingColumns(t *testing.T) {
	cal := frame.New().MustString("day_id", []string{"d01"})
	_, err := BuildDayDesign(cal, "day_id", nil)
	var mce *MissingColumnError
	require.ErrorAs(t, err, &mce)
	assert.ElementsMatch(t, []string{"target_sample", "actual_sample"}, mce.Columns)
}

func TestAttachGroupDesignJoinsWeightsByDay(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)

	agg := frame.New().
		MustString("day_id", []string{"d01", "d01", "d04"}).
		MustString("site", []string{"north", "south", "north"}).
		MustFloat("effort_hours", []float64{10, 12, 40})

	attached, err := AttachGroupDesign(day, agg, "day_id")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 4, 5}, attached.Weights())
	assert.Equal(t, []string{"d01", "d01", "d04"}, attached.PSU())
	assert.Equal(t, []string{"weekend", "weekend", "weekday"}, attached.Strata())
}

func TestAttachGroupDesignUnmatchedDayIsFatal(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", nil)
	require.NoError(t, err)

	agg := frame.New().
		MustString("day_id", []string{"d01", "d99"}).
		MustFloat("effort_hours", []float64{10, 12})

	_, err = AttachGroupDesign(day, agg, "day_id")
	var wae *WeightAlignmentError
	require.ErrorAs(t, err, &wae)
	assert.Equal(t, "d99", wae.UnitID)
}

func TestAttachGroupDesignDuplicatesReplicatesByUnitID(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)
	day, err = WithBootstrap(day, 10, 7)
	require.NoError(t, err)

	// Aggregate rows deliberately out of day order: replicate rows must
	// follow the day id, not the row position.
	agg := frame.New().
		MustString("day_id", []string{"d05", "d01", "d05"}).
		MustFloat("effort_hours", []float64{1, 2, 3})

	attached, err := AttachGroupDesign(day, agg, "day_id")
	require.NoError(t, err)
	reps := attached.Replicates()
	require.NotNil(t, reps)

	dayReps := day.Replicates()
	rowD05, ok := dayReps.RowForUnit("d05")
	require.True(t, ok)
	rowD01, ok := dayReps.RowForUnit("d01")
	require.True(t, ok)

	for b := 0; b < reps.NReps(); b++ {
		assert.Equal(t, dayReps.Weights.At(rowD05, b), reps.Weights.At(0, b))
		assert.Equal(t, dayReps.Weights.At(rowD01, b), reps.Weights.At(1, b))
		assert.Equal(t, reps.Weights.At(0, b), reps.Weights.At(2, b),
			"rows of the same day must share replicate weights")
	}
}

func TestWithBootstrapIsSeededAndDeterministic(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)

	a, err := WithBootstrap(day, 25, 42)
	require.NoError(t, err)
	b, err := WithBootstrap(day, 25, 42)
	require.NoError(t, err)
	c, err := WithBootstrap(day, 25, 43)
	require.NoError(t, err)

	assert.True(t, matEqual(a.Replicates(), b.Replicates()), "same seed must give identical weights")
	assert.False(t, matEqual(a.Replicates(), c.Replicates()), "different seed should differ")
}

func matEqual(a, b *ReplicateWeightMatrix) bool {
	ra, ca := a.Weights.Dims()
	rb, cb := b.Weights.Dims()
	if ra != rb || ca != cb {
		return false
	}
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			if a.Weights.At(i, j) != b.Weights.At(i, j) {
				return false
			}
		}
	}
	return true
}

// Bootstrap replicate weights preserve the stratum weight total in
// expectation; each replicate's stratum total stays finite and
// non-negative, and a fixed stratum's average over many replicates lands
// near the base total.
func TestWithBootstrapStratumTotals(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)
	boot, err := WithBootstrap(day, 400, 1)
	require.NoError(t, err)

	reps := boot.Replicates()
	var base float64 // weekday stratum base weight total
	var rows []int
	for i, u := range boot.Units() {
		if u.Stratum == "weekday" {
			base += u.BaseWeight
			rows = append(rows, i)
		}
	}
	var mean float64
	for b := 0; b < reps.NReps(); b++ {
		var tot float64
		for _, r := range rows {
			w := reps.Weights.At(r, b)
			require.False(t, math.IsNaN(w))
			require.GreaterOrEqual(t, w, 0.0)
			tot += w
		}
		mean += tot
	}
	mean /= float64(reps.NReps())
	assert.InDelta(t, base, mean, base*0.1)
}

func TestWithJackknifeScales(t *testing.T) {
	day, err := BuildDayDesign(testCalendar(), "day_id", []string{"day_type"})
	require.NoError(t, err)
	jk, err := WithJackknife(day)
	require.NoError(t, err)

	reps := jk.Replicates()
	require.Equal(t, len(day.Units()), reps.NReps())
	for b, u := range jk.Units() {
		nh := 2.0
		if u.Stratum == "weekday" {
			nh = 4.0
		}
		assert.InDelta(t, (nh-1)/nh, reps.RepScales[b], 1e-12)
		// The deleted unit's weight is zero in its own replicate.
		assert.Zero(t, reps.Weights.At(b, b))
	}
}

func TestFromDayTable(t *testing.T) {
	records := frame.New().
		MustString("day_id", []string{"d1", "d2"}).
		MustFloat("weight", []float64{3, 3}).
		MustString("period", []string{"am", "pm"})

	d, err := FromDayTable(records, "day_id", "weight", "period", nil)
	require.NoError(t, err)
	assert.Equal(t, RawDesign, d.Kind())
	assert.Equal(t, []string{"am", "pm"}, d.Strata())

	_, err = FromDayTable(records, "day_id", "nope", "", nil)
	var mce *MissingColumnError
	require.True(t, errors.As(err, &mce))
}

package catch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creel-data/creel.report/internal/estimate"
	"github.com/creel-data/creel.report/internal/frame"
	"github.com/creel-data/creel.report/internal/survey"
)

func catchDesign(t *testing.T) *survey.Design {
	t.Helper()
	cal := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3", "d4"}).
		MustFloat("target_sample", []float64{4, 4, 4, 4}).
		MustFloat("actual_sample", []float64{1, 1, 1, 1})
	day, err := survey.BuildDayDesign(cal, "day_id", nil)
	require.NoError(t, err)
	// Weight 16/4 = 4 per day.

	trips := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3", "d4"}).
		MustString("species", []string{"trout", "trout", "bass", "bass"}).
		MustFloat("kept", []float64{2, 4, 1, 3}).
		MustFloat("released", []float64{1, 0, 5, 2})
	d, err := survey.AttachGroupDesign(day, trips, "day_id")
	require.NoError(t, err)
	return d
}

func TestTotalsMultipleResponses(t *testing.T) {
	d := catchDesign(t)
	results, err := Totals(d, Options{Responses: []string{"kept", "released"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 4*(2+4+1+3) = 40 kept, 4*(1+0+5+2) = 32 released.
	assert.Equal(t, "catch_total:kept", results[0].Method)
	assert.InDelta(t, 40.0, results[0].Estimate, 1e-12)
	assert.Equal(t, "catch_total:released", results[1].Method)
	assert.InDelta(t, 32.0, results[1].Estimate, 1e-12)
}

func TestTotalsBySpecies(t *testing.T) {
	d := catchDesign(t)
	results, err := Totals(d, Options{
		Responses: []string{"kept"},
		By:        []string{"species"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "trout", results[0].Keys["species"])
	assert.InDelta(t, 24.0, results[0].Estimate, 1e-12)
	assert.Equal(t, "bass", results[1].Keys["species"])
	assert.InDelta(t, 16.0, results[1].Estimate, 1e-12)
}

// Domain totals over species partition the overall total.
func TestTotalsPartitionAcrossGroups(t *testing.T) {
	d := catchDesign(t)
	overall, err := Totals(d, Options{Responses: []string{"kept"}})
	require.NoError(t, err)
	grouped, err := Totals(d, Options{Responses: []string{"kept"}, By: []string{"species"}})
	require.NoError(t, err)

	var sum float64
	for _, r := range grouped {
		sum += r.Estimate
	}
	assert.InDelta(t, overall[0].Estimate, sum, 1e-10)
}

func TestTotalsMissingResponse(t *testing.T) {
	d := catchDesign(t)
	_, err := Totals(d, Options{Responses: []string{"kept", "absent"}})
	var mce *survey.MissingColumnError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{"absent"}, mce.Columns)
}

func TestTotalsJackknife(t *testing.T) {
	d := catchDesign(t)
	lin, err := Totals(d, Options{Responses: []string{"kept"}})
	require.NoError(t, err)

	cal := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3", "d4"}).
		MustFloat("target_sample", []float64{4, 4, 4, 4}).
		MustFloat("actual_sample", []float64{1, 1, 1, 1})
	day, err := survey.BuildDayDesign(cal, "day_id", nil)
	require.NoError(t, err)
	day, err = survey.WithJackknife(day)
	require.NoError(t, err)
	trips := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3", "d4"}).
		MustFloat("kept", []float64{2, 4, 1, 3})
	jd, err := survey.AttachGroupDesign(day, trips, "day_id")
	require.NoError(t, err)

	jk, err := Totals(jd, Options{
		Responses: []string{"kept"},
		Method:    estimate.Jackknife,
	})
	require.NoError(t, err)

	require.True(t, lin[0].SEAvailable)
	require.True(t, jk[0].SEAvailable)
	// Delete-one jackknife matches linearization for stratified totals.
	assert.InDelta(t, lin[0].SE, jk[0].SE, 1e-9)
}

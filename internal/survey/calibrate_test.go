package survey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creel-data/creel.report/internal/frame"
)

func poststratDesign(t *testing.T) *Design {
	t.Helper()
	records := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3", "d4"}).
		MustFloat("weight", []float64{2, 2, 2, 2}).
		MustString("angler_type", []string{"boat", "boat", "shore", "shore"})
	d, err := FromDayTable(records, "day_id", "weight", "", nil)
	require.NoError(t, err)
	return d
}

func TestPostStratifyMatchesPopulationTotals(t *testing.T) {
	d := poststratDesign(t)
	freq := frame.New().
		MustString("angler_type", []string{"boat", "shore"}).
		MustFloat("count", []float64{12, 4})

	out, err := PostStratify(d, "angler_type", freq, "angler_type", "count")
	require.NoError(t, err)

	// boat: current 4 -> 12 (factor 3); shore: current 4 -> 4 (factor 1).
	assert.InDeltaSlice(t, []float64{6, 6, 2, 2}, out.Weights(), 1e-12)
}

func TestPostStratifyMissingCategoryIsFatal(t *testing.T) {
	d := poststratDesign(t)
	freq := frame.New().
		MustString("angler_type", []string{"boat"}).
		MustFloat("count", []float64{12})

	_, err := PostStratify(d, "angler_type", freq, "angler_type", "count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shore")
}

func TestPostStratifyMissingColumns(t *testing.T) {
	d := poststratDesign(t)
	freq := frame.New().MustString("angler_type", []string{"boat"})

	_, err := PostStratify(d, "angler_type", freq, "angler_type", "count")
	var mce *MissingColumnError
	require.ErrorAs(t, err, &mce)

	_, err = PostStratify(d, "no_such_var", freq, "angler_type", "count")
	require.ErrorAs(t, err, &mce)
}

func calibrationDesign(t *testing.T) *Design {
	t.Helper()
	records := frame.New().
		MustString("day_id", []string{"d1", "d2", "d3"}).
		MustFloat("weight", []float64{10, 10, 10}).
		MustFloat("ones", []float64{1, 1, 1}).
		MustFloat("boats", []float64{2, 4, 6})
	d, err := FromDayTable(records, "day_id", "weight", "", nil)
	require.NoError(t, err)
	return d
}

func TestCalibrateReachesControlTotals(t *testing.T) {
	for _, method := range []CalibrationMethod{CalLinear, CalRaking, CalLogit} {
		t.Run(string(method), func(t *testing.T) {
			d := calibrationDesign(t)
			totals := map[string]float64{"ones": 33, "boats": 135}
			out, err := Calibrate(d, totals, CalibrationOptions{Method: method})
			require.NoError(t, err)

			ones, _ := out.Records().Float("ones")
			boats, _ := out.Records().Float("boats")
			var sumOnes, sumBoats float64
			for i, w := range out.Weights() {
				sumOnes += w * ones[i]
				sumBoats += w * boats[i]
			}
			assert.InDelta(t, 33, sumOnes, 1e-5)
			assert.InDelta(t, 135, sumBoats, 1e-5)
		})
	}
}

func TestCalibrateMissingAuxiliaryColumn(t *testing.T) {
	d := calibrationDesign(t)
	_, err := Calibrate(d, map[string]float64{"nope": 1}, CalibrationOptions{})
	var mce *MissingColumnError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{"nope"}, mce.Columns)
}

func TestCalibratePropagatesToReplicateWeights(t *testing.T) {
	cal := testCalendar()
	day, err := BuildDayDesign(cal, "day_id", []string{"day_type"})
	require.NoError(t, err)
	day, err = WithBootstrap(day, 5, 3)
	require.NoError(t, err)

	ones := make([]float64, len(day.Weights()))
	for i := range ones {
		ones[i] = 1
	}
	d, err := day.WithDerivedColumn("ones", ones)
	require.NoError(t, err)

	out, err := Calibrate(d, map[string]float64{"ones": 60}, CalibrationOptions{Method: CalLinear})
	require.NoError(t, err)

	// The replicate weights scale by the same per-record g-factors.
	for i := range out.Weights() {
		g := out.Weights()[i] / d.Weights()[i]
		for b := 0; b < out.Replicates().NReps(); b++ {
			before := d.Replicates().Weights.At(i, b)
			after := out.Replicates().Weights.At(i, b)
			assert.InDelta(t, before*g, after, 1e-9)
		}
	}
}

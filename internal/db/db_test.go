package db

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creel-data/creel.report/internal/estimate"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetRun(t *testing.T) {
	db := newTestDB(t)

	run := &AnalysisRun{
		Kind:        "cpue_auto",
		Parameters:  json.RawMessage(`{"catch":"kept","effort":"hours"}`),
		Diagnostics: json.RawMessage(`{"mode":"mixed","pct_complete":66.7}`),
	}
	require.NoError(t, db.CreateRun(run))
	require.NotEmpty(t, run.RunID)

	got, err := db.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "cpue_auto", got.Kind)
	assert.JSONEq(t, `{"catch":"kept","effort":"hours"}`, string(got.Parameters))
	assert.JSONEq(t, `{"mode":"mixed","pct_complete":66.7}`, string(got.Diagnostics))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetRunNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetRun("no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCreateRunDefaults(t *testing.T) {
	db := newTestDB(t)
	run := &AnalysisRun{Kind: "effort_aerial"}
	require.NoError(t, db.CreateRun(run))

	got, err := db.GetRun(run.RunID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got.Parameters))
	assert.Nil(t, got.Diagnostics)
}

func TestSaveAndLoadResults(t *testing.T) {
	db := newTestDB(t)
	run := &AnalysisRun{Kind: "catch_total"}
	require.NoError(t, db.CreateRun(run))

	in := []estimate.Result{
		{
			Keys:        map[string]string{"species": "trout"},
			Estimate:    40,
			SE:          3.5,
			SEAvailable: true,
			CILow:       33.14,
			CIHigh:      46.86,
			N:           4,
			Deff:        1.2,
			Method:      "catch_total:kept",
			Warnings:    []string{"grouping column dropped: zone"},
		},
		{
			Keys:        map[string]string{"species": "bass"},
			Estimate:    16,
			SE:          math.NaN(),
			SEAvailable: false,
			CILow:       math.NaN(),
			CIHigh:      math.NaN(),
			N:           1,
			Method:      "catch_total:kept",
		},
	}
	require.NoError(t, db.SaveResults(run.RunID, in))

	out, err := db.ResultsForRun(run.RunID)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, map[string]string{"species": "trout"}, out[0].Keys)
	assert.InDelta(t, 3.5, out[0].SE, 1e-12)
	assert.True(t, out[0].SEAvailable)
	assert.InDelta(t, 1.2, out[0].Deff, 1e-12)
	assert.Equal(t, []string{"grouping column dropped: zone"}, out[0].Warnings)

	// NaN SE persisted as NULL comes back as NaN with SEAvailable false.
	assert.True(t, math.IsNaN(out[1].SE))
	assert.True(t, math.IsNaN(out[1].CILow))
	assert.False(t, out[1].SEAvailable)
	assert.Empty(t, out[1].Warnings)
}

func TestListRunsFilterAndLimit(t *testing.T) {
	db := newTestDB(t)
	for _, kind := range []string{"cpue_auto", "catch_total", "cpue_auto"} {
		require.NoError(t, db.CreateRun(&AnalysisRun{Kind: kind}))
	}

	all, err := db.ListRuns("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cpue, err := db.ListRuns("cpue_auto", 10)
	require.NoError(t, err)
	require.Len(t, cpue, 2)
	for _, r := range cpue {
		assert.Equal(t, "cpue_auto", r.Kind)
	}

	one, err := db.ListRuns("", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

package series

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(day, hour int) time.Time {
	return time.Date(2023, 1, day, hour, 0, 0, 0, time.UTC)
}

func TestAppendRoundsAndIndexes(t *testing.T) {
	s := New([]string{"alpha#1"})
	exact := time.Date(2023, 1, 2, 10, 4, 59, 0, time.UTC)
	require.NoError(t, s.Append(Row{Time: exact, Source: "L8", Values: map[string]float64{"alpha#1": 12.5}}))

	rounded := time.Date(2023, 1, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, rounded, s.Times[0])
	assert.Equal(t, 0, s.RowAt(exact))
	assert.InDelta(t, 12.5, s.Value("alpha#1", 0), 1e-12)
}

func TestAppendRejectsDuplicateTimestamp(t *testing.T) {
	s := New([]string{"alpha#1"})
	require.NoError(t, s.Append(Row{Time: ts(2, 10), Values: map[string]float64{"alpha#1": 1}}))
	err := s.Append(Row{Time: ts(2, 10), Values: map[string]float64{"alpha#1": 2}})
	require.Error(t, err)
	assert.InDelta(t, 1, s.Value("alpha#1", 0), 1e-12, "existing row must stay untouched")
}

func TestExtendPreservesExistingRowsVerbatim(t *testing.T) {
	s := New([]string{"alpha#1"})
	require.NoError(t, s.Append(Row{Time: ts(2, 10), Values: map[string]float64{"alpha#1": 1}}))

	incoming := New([]string{"alpha#1"})
	require.NoError(t, incoming.Append(Row{Time: ts(3, 10), Values: map[string]float64{"alpha#1": 2}}))
	require.NoError(t, s.Extend(incoming))

	require.Equal(t, 2, s.Len())
	assert.InDelta(t, 1, s.Value("alpha#1", 0), 1e-12)
	assert.InDelta(t, 2, s.Value("alpha#1", 1), 1e-12)
}

func TestExtendCollisionFailsWithoutPartialEffect(t *testing.T) {
	s := New([]string{"alpha#1"})
	require.NoError(t, s.Append(Row{Time: ts(2, 10), Values: map[string]float64{"alpha#1": 1}}))

	incoming := New([]string{"alpha#1"})
	require.NoError(t, incoming.Append(Row{Time: ts(4, 10), Values: map[string]float64{"alpha#1": 3}}))
	require.NoError(t, incoming.Append(Row{Time: ts(2, 10), Values: map[string]float64{"alpha#1": 9}}))

	require.Error(t, s.Extend(incoming))
	assert.Equal(t, 1, s.Len(), "a colliding extension must not add any rows")
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site", "transect_time_series.csv")

	s := New([]string{"alpha#1", "alpha#2"})
	require.NoError(t, s.Append(Row{Time: ts(3, 12), Source: "L9", Values: map[string]float64{"alpha#1": 14.25, "alpha#2": math.NaN()}}))
	require.NoError(t, s.Append(Row{Time: ts(2, 10), Source: "L8", Values: map[string]float64{"alpha#1": 12.5, "alpha#2": 8.75}}))
	require.NoError(t, s.SaveCSV(path))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())

	// Rows come back sorted by time.
	assert.Equal(t, ts(2, 10), loaded.Times[0])
	assert.Equal(t, "L8", loaded.Sources[0])
	assert.InDelta(t, 12.5, loaded.Value("alpha#1", 0), 1e-12)
	assert.InDelta(t, 14.25, loaded.Value("alpha#1", 1), 1e-12)
	assert.True(t, math.IsNaN(loaded.Value("alpha#2", 1)))
}

func TestSortByTimeIsStable(t *testing.T) {
	s := New([]string{"c"})
	require.NoError(t, s.Append(Row{Time: ts(5, 0), Values: map[string]float64{"c": 5}}))
	require.NoError(t, s.Append(Row{Time: ts(1, 0), Values: map[string]float64{"c": 1}}))
	require.NoError(t, s.Append(Row{Time: ts(3, 0), Values: map[string]float64{"c": 3}}))
	s.SortByTime()

	assert.Equal(t, []time.Time{ts(1, 0), ts(3, 0), ts(5, 0)}, s.Times)
	assert.Equal(t, 1.0, s.Value("c", 0))
	assert.Equal(t, 2, s.RowAt(ts(5, 0)))
}

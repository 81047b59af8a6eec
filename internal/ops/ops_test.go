package ops

import (
	"archive/zip"
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/series"
)

func buildSeries(t *testing.T, column string, start time.Time, values []float64) *series.Series {
	t.Helper()
	s := series.New([]string{column})
	for i, v := range values {
		require.NoError(t, s.Append(series.Row{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Values: map[string]float64{column: v},
		}))
	}
	return s
}

func TestDespikeBlanksOutliersKeepsRows(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	s := buildSeries(t, "t1", start, []float64{100, 101, 99, 250, 102, 100, 98})

	res := Despike(s, 40)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Removed["t1"])
	// The row survives so the timestamp index still aligns with tides.
	assert.Equal(t, 7, s.Len())
	assert.True(t, math.IsNaN(s.Value("t1", 3)))
	assert.Equal(t, 102.0, s.Value("t1", 4))
}

func TestTidalCorrectShiftsAndDropsUnmatchedRows(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	raw := buildSeries(t, "t1", start, []float64{100, 110, 120})

	tides := series.New([]string{"tide"})
	require.NoError(t, tides.Append(series.Row{Time: start, Values: map[string]float64{"tide": 0.5}}))
	require.NoError(t, tides.Append(series.Row{Time: start.Add(48 * time.Hour), Values: map[string]float64{"tide": -0.5}}))

	out, err := TidalCorrect(raw, tides, 0.1)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.InDelta(t, 105.0, out.Value("t1", 0), 1e-9)
	assert.InDelta(t, 115.0, out.Value("t1", 1), 1e-9)
}

func TestTidalCorrectRejectsNonPositiveSlope(t *testing.T) {
	s := series.New([]string{"t1"})
	_, err := TidalCorrect(s, series.New([]string{"tide"}), 0)
	require.Error(t, err)
}

func TestEstimateSlopeRecoversTrueSlope(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	trueSlope := 0.08

	raw := series.New([]string{"t1"})
	tides := series.New([]string{"tide"})
	for i := 0; i < 40; i++ {
		ts := start.Add(time.Duration(i) * 24 * time.Hour)
		tide := math.Sin(float64(i) * 0.7)
		// Position is flat except for the tidal displacement.
		require.NoError(t, raw.Append(series.Row{Time: ts, Values: map[string]float64{"t1": 100 - tide/trueSlope}}))
		require.NoError(t, tides.Append(series.Row{Time: ts, Values: map[string]float64{"tide": tide}}))
	}

	est, err := EstimateSlope(raw, tides, "t1", SlopeGrid{Min: 0.01, Max: 0.2, Delta: 0.005})
	require.NoError(t, err)
	assert.InDelta(t, trueSlope, est.BeachSlope, 0.005)
	assert.LessOrEqual(t, est.CIL, est.BeachSlope)
	assert.GreaterOrEqual(t, est.CIU, est.BeachSlope)
	assert.Equal(t, 40, est.NPoints)
}

func TestEstimateSlopeRequiresEnoughPairs(t *testing.T) {
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	raw := buildSeries(t, "t1", start, []float64{1, 2, 3})
	tides := series.New([]string{"tide"})
	_, err := EstimateSlope(raw, tides, "t1", SlopeGrid{Min: 0.01, Max: 0.2, Delta: 0.005})
	require.Error(t, err)
}

func TestFitTrendExactLine(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := series.New([]string{"t1"})
	for i := 0; i < 8; i++ {
		ts := start.AddDate(0, 6*i, 0)
		years := yearsSince(start, ts)
		require.NoError(t, s.Append(series.Row{Time: ts, Values: map[string]float64{"t1": 50 + 2.5*years}}))
	}

	fit, err := FitTrend(s, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, fit.Trend, 1e-9)
	assert.InDelta(t, 50.0, fit.Intercept, 1e-9)
	assert.InDelta(t, 1.0, fit.R2, 1e-12)
	assert.InDelta(t, 0.0, fit.RMSE, 1e-9)
	assert.Equal(t, 8, fit.NPoints)
	assert.Equal(t, 8, fit.NPointsNonan)
}

func TestFitTrendCountsNaNSeparately(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := buildSeries(t, "t1", start, []float64{1, math.NaN(), 2, 3, math.NaN(), 4})

	fit, err := FitTrend(s, "t1")
	require.NoError(t, err)
	assert.Equal(t, 6, fit.NPoints)
	assert.Equal(t, 4, fit.NPointsNonan)
}

func TestFileExtractorFiltersWindowAndSatellites(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

	src := series.New([]string{"t1"})
	for i, sat := range []string{"L8", "S2", "L8", "L5"} {
		require.NoError(t, src.Append(series.Row{
			Time:   start.Add(time.Duration(i) * 24 * time.Hour),
			Source: sat,
			Values: map[string]float64{"t1": float64(i)},
		}))
	}
	require.NoError(t, src.SaveCSV(filepath.Join(dir, "siteA", "transect_time_series.csv")))

	ex := &FileExtractor{SourceDir: dir}
	window := config.Window{Start: start, End: start.Add(72 * time.Hour)}
	got, err := ex.ExtractSite(context.Background(), config.Site{ID: "siteA"}, window, []string{"L8", "S2"})
	require.NoError(t, err)
	// Row 3 is outside the window; none of the first three are filtered
	// by satellite.
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"L8", "S2", "L8"}, got.Sources)
}

func TestFileExtractorMissingSiteFails(t *testing.T) {
	ex := &FileExtractor{SourceDir: t.TempDir()}
	_, err := ex.ExtractSite(context.Background(), config.Site{ID: "ghost"}, config.Window{}, nil)
	require.Error(t, err)
}

func TestPackageReportBundlesSortedEntries(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

	s := buildSeries(t, "t1", start, []float64{1, 2})
	csvPath := filepath.Join(dir, "siteA", "transect_time_series.csv")
	require.NoError(t, s.SaveCSV(csvPath))

	out := filepath.Join(dir, "report.zip")
	summary := ReportSummary{
		RunID:     "run-1",
		StartedAt: start.Format(time.RFC3339),
		Sites:     map[string]string{"siteA": "succeeded"},
	}
	err := PackageReport(out, summary, map[string]string{
		"siteA/transect_time_series.csv": csvPath,
	})
	require.NoError(t, err)

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"summary.json", "siteA/transect_time_series.csv"}, names)
}

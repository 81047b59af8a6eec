package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/collection"
	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/series"
)

// Synthetic shoreline model the fakes share: position = base + trend*t -
// tide/slope, so the pipeline should recover trueSlope and trueTrend.
const (
	trueSlope = 0.1
	trueTrend = -5.0
)

func tideAt(t time.Time) float64 {
	return 0.8 * math.Sin(float64(t.Unix())/40000.0)
}

type fakeExtractor struct {
	columns map[string][]string
	fail    map[string]error
}

func (f *fakeExtractor) ExtractSite(_ context.Context, site config.Site, window config.Window, _ []string) (*series.Series, error) {
	if err := f.fail[site.ID]; err != nil {
		return nil, err
	}
	cols := f.columns[site.ID]
	s := series.New(cols)
	for i := 0; i < 30; i++ {
		t := window.Start.Add(time.Duration(i)*24*time.Hour + 10*time.Hour)
		years := t.Sub(window.Start).Seconds() / (365.25 * 24 * 3600)
		vals := make(map[string]float64, len(cols))
		for ci, c := range cols {
			base := 100.0 + 10.0*float64(ci)
			vals[c] = base + trueTrend*years - tideAt(t)/trueSlope
		}
		if err := s.Append(series.Row{Time: t, Source: "L8", Values: vals}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type fakeTides struct {
	calls atomic.Int32
}

func (f *fakeTides) FetchHeights(_ context.Context, _, _ float64, times []time.Time) (*series.Series, error) {
	f.calls.Add(1)
	s := series.New([]string{"tide"})
	for _, t := range times {
		if err := s.Append(series.Row{Time: t, Values: map[string]float64{"tide": tideAt(t)}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func testConfig(t *testing.T, dir string) *config.Model {
	t.Helper()
	return &config.Model{
		DataDir:       dir,
		SourceDir:     dir,
		TransectsPath: filepath.Join(dir, "transects_extended.geojson"),
		Window: config.Window{
			Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		Satellites: []string{"L8"},
		Groups: []*config.Group{{
			Name: "main",
			Sites: []config.Site{
				{ID: "siteA", Group: "main", Lat: -36.8, Lon: 174.7},
				{ID: "siteB", Group: "main", Lat: -37.0, Lon: 174.9},
			},
			SlopeMin:   0.01,
			SlopeMax:   0.2,
			DeltaSlope: 0.005,
		}},
		Execution:        config.Execution{Workers: 2, Policy: config.BestEffort},
		DespikeThreshold: 40,
	}
}

func writeBaseCollection(t *testing.T, path string, keys map[string][]string) {
	t.Helper()
	var entities []*collection.Entity
	for _, site := range []string{"siteA", "siteB"} {
		for _, sub := range keys[site] {
			entities = append(entities, &collection.Entity{
				Key:   collection.Key(site, sub),
				Site:  site,
				Attrs: map[string]cty.Value{},
			})
		}
	}
	c, err := collection.New(entities)
	require.NoError(t, err)
	require.NoError(t, collection.SaveGeoJSON(c, path))
}

func defaultExtractor() *fakeExtractor {
	return &fakeExtractor{
		columns: map[string][]string{
			"siteA": {"1", "2"},
			"siteB": {"1"},
		},
		fail: map[string]error{},
	}
}

func attrFloat(t *testing.T, c *collection.Collection, key, attr string) float64 {
	t.Helper()
	e := c.Get(key)
	require.NotNil(t, e, "entity %s", key)
	v, ok := e.Attrs[attr]
	require.True(t, ok, "entity %s attribute %s", key, attr)
	f, _ := v.AsBigFloat().Float64()
	return f
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	tides := &fakeTides{}
	p, err := New(cfg, tides, defaultExtractor())
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "succeeded", report.Sites["siteA"])
	assert.Equal(t, "succeeded", report.Sites["siteB"])
	// Base version plus one per merge stage.
	assert.Equal(t, 3, report.Collection.Version())

	for _, key := range []string{"siteA#1", "siteA#2", "siteB#1"} {
		assert.InDelta(t, trueSlope, attrFloat(t, report.Collection, key, "beach_slope"), 0.01)
		assert.InDelta(t, trueTrend, attrFloat(t, report.Collection, key, "trend"), 0.5)
		assert.Equal(t, 30.0, attrFloat(t, report.Collection, key, "n_points"))
	}

	// Artifacts persisted for a later resume.
	for _, site := range []string{"siteA", "siteB"} {
		assert.FileExists(t, filepath.Join(dir, site, "transect_time_series.csv"))
		assert.FileExists(t, filepath.Join(dir, site, "tides.csv"))
		assert.FileExists(t, filepath.Join(dir, site, "transect_time_series_tidally_corrected.csv"))
	}
	assert.FileExists(t, report.ReportPath)
	assert.Greater(t, tides.calls.Load(), int32(0))
}

func TestRunBestEffortIsolatesFailingSite(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	ex := defaultExtractor()
	ex.fail["siteB"] = errors.New("cloud cover: no usable scenes")

	p, err := New(cfg, &fakeTides{}, ex)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "succeeded", report.Sites["siteA"])
	assert.Equal(t, "failed", report.Sites["siteB"])

	// The healthy site's attributes landed; the failed site's entity is
	// untouched.
	assert.InDelta(t, trueSlope, attrFloat(t, report.Collection, "siteA#1", "beach_slope"), 0.01)
	e := report.Collection.Get("siteB#1")
	require.NotNil(t, e)
	_, hasSlope := e.Attrs["beach_slope"]
	assert.False(t, hasSlope)

	// Downstream stages recorded the site as skipped, not failed again.
	var sawSkip bool
	for _, st := range report.Stages {
		if st.Name == "fit_trends" {
			sawSkip = st.Skipped == 1
		}
	}
	assert.True(t, sawSkip)
}

func TestRunFailFastFailsTheRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Execution.Policy = config.FailFast
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	ex := defaultExtractor()
	ex.fail["siteA"] = errors.New("archive corrupted")

	p, err := New(cfg, &fakeTides{}, ex)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "siteA")
}

func TestRunAllSitesFailedFailsTheRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	ex := defaultExtractor()
	ex.fail["siteA"] = errors.New("no scenes")
	ex.fail["siteB"] = errors.New("no scenes")

	p, err := New(cfg, &fakeTides{}, ex)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every site failed")
}

func TestRerunFetchesNoTides(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	first := &fakeTides{}
	p, err := New(cfg, first, defaultExtractor())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, first.calls.Load(), int32(0))

	// The rerun finds every timestamp already persisted and plans an empty
	// fetch: no request reaches the service.
	second := &fakeTides{}
	p2, err := New(cfg, second, defaultExtractor())
	require.NoError(t, err)
	_, err = p2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestRunUnknownTransectFailsMergeAndPreservesBase(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})
	before, err := os.ReadFile(cfg.TransectsPath)
	require.NoError(t, err)

	ex := defaultExtractor()
	// Column 99 has no entity in the base collection.
	ex.columns["siteA"] = []string{"1", "99"}

	p, err := New(cfg, &fakeTides{}, ex)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	var mke *collection.MergeKeyError
	require.ErrorAs(t, err, &mke)
	assert.Equal(t, "siteA#99", mke.Key)

	// The failed merge left the base collection file untouched.
	after, err := os.ReadFile(cfg.TransectsPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunVerifyModeReportsNotFails(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	writeBaseCollection(t, cfg.TransectsPath, map[string][]string{
		"siteA": {"1", "2"},
		"siteB": {"1"},
	})

	// First run produces the reference.
	p, err := New(cfg, &fakeTides{}, defaultExtractor())
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	refPath := filepath.Join(dir, "reference.geojson")
	produced, err := os.ReadFile(cfg.TransectsPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(refPath, produced, 0o644))

	// Second run verifies against it and must agree with itself.
	cfg2 := testConfig(t, dir)
	cfg2.Verify = &config.Verify{ReferenceTransects: refPath, Tolerance: 1e-6}
	p2, err := New(cfg2, &fakeTides{}, defaultExtractor())
	require.NoError(t, err)
	report, err := p2.Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, report.Verify)
	assert.True(t, report.Verify.Match())

	// A deliberately wrong reference is reported, not fatal.
	ref, err := collection.LoadGeoJSON(refPath)
	require.NoError(t, err)
	broken, err := collection.Merge(ref, []*collection.PartialUpdate{{
		Site: "siteA",
		Entities: []*collection.Entity{{
			Key: "siteA#1", Site: "siteA",
			Attrs: map[string]cty.Value{"trend": collection.NumberAttr(999)},
		}},
	}}, nil)
	require.NoError(t, err)
	require.NoError(t, collection.SaveGeoJSON(broken, refPath))

	p3, err := New(cfg2, &fakeTides{}, defaultExtractor())
	require.NoError(t, err)
	report, err = p3.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Verify)
	assert.False(t, report.Verify.Match())
}

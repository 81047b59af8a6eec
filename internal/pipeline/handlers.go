package pipeline

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/artifact"
	"github.com/tidemark/shoregrid/internal/collection"
	"github.com/tidemark/shoregrid/internal/compare"
	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/fetchplan"
	"github.com/tidemark/shoregrid/internal/ops"
	"github.com/tidemark/shoregrid/internal/series"
	"github.com/tidemark/shoregrid/internal/task"
)

// Attribute sets each merge stage is allowed to write. Anything else an
// update carries is ignored, so one stage can never clobber another
// stage's attributes.
var (
	slopeAttrs = []string{"beach_slope", "cil", "ciu"}
	trendAttrs = []string{"trend", "intercept", "n_points", "n_points_nonan", "r2_score", "mae", "mse", "rmse"}
)

func (p *Pipeline) registerHandlers() {
	p.reg.Register(stageLoadTransects, p.loadTransects)
	p.reg.Register("extract_series", p.extractSeries)
	p.reg.Register(stageFetchTides, p.fetchTides)
	p.reg.Register("estimate_slopes", p.estimateSlopes)
	p.reg.Register(stageMergeSlopes, p.mergeSlopes)
	p.reg.Register(stageTidalCorrect, p.tidalCorrection)
	p.reg.Register(stageFitTrends, p.fitTrends)
	p.reg.Register(stageMergeTrends, p.mergeTrends)
	p.reg.Register(stagePackageReport, p.packageReport)
	p.reg.Register(stageVerify, p.verify)
}

func (p *Pipeline) loadTransects(ctx context.Context, _ *task.Input) (*task.Result, error) {
	c, err := collection.LoadGeoJSON(p.cfg.TransectsPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading base transect collection")
	}
	for _, s := range p.cfg.AllSites() {
		if len(c.SiteEntities(s.ID)) == 0 {
			ctxlog.FromContext(ctx).Warn("Site has no transects in the base collection.", "site", s.ID)
		}
	}
	p.coll = c
	ctxlog.FromContext(ctx).Info("Base collection loaded.", "entities", c.Len(), "version", c.Version())
	return &task.Result{}, nil
}

func (p *Pipeline) extractSeries(ctx context.Context, in *task.Input) (*task.Result, error) {
	site, ok := p.siteByID(in.Site)
	if !ok {
		return nil, errors.Newf("unknown site %q", in.Site)
	}

	raw, err := p.extractor.ExtractSite(ctx, site, p.cfg.Window, p.cfg.Satellites)
	if err != nil {
		return nil, err
	}
	if raw.Len() == 0 {
		return nil, errors.Newf("site %s has no observations in the run window", in.Site)
	}

	if err := p.store.EnsureSiteDir(in.Site); err != nil {
		return nil, err
	}
	h := in.Artifacts["raw_series"]
	if err := raw.SaveCSV(h.Path); err != nil {
		return nil, err
	}
	return &task.Result{Artifacts: map[string]artifact.Handle{"raw_series": h}}, nil
}

func (p *Pipeline) fetchTides(ctx context.Context, in *task.Input) (*task.Result, error) {
	logger := ctxlog.FromContext(ctx).With("site", in.Site)

	raw, err := series.LoadCSV(in.Artifacts["raw_series"].Path)
	if err != nil {
		return nil, errors.Wrap(err, "loading raw series")
	}

	h := in.Artifacts["tide_series"]
	var existing *series.Series
	if h.Exists() {
		if existing, err = series.LoadCSV(h.Path); err != nil {
			return nil, errors.Wrap(err, "loading persisted tide series")
		}
	}

	plan := fetchplan.Plan(existing, raw.Times)
	logger.Debug("Tide fetch planned.",
		"required", len(raw.Times), "covered", len(raw.Times)-len(plan), "remaining", len(plan))
	if len(plan) == 0 {
		// Fully covered by a previous run; no request is made at all.
		return &task.Result{}, nil
	}
	if p.tides == nil {
		return nil, errors.New("tide samples are missing and no tide service is configured")
	}

	lat, err := floatParam(in, "lat")
	if err != nil {
		return nil, err
	}
	lon, err := floatParam(in, "lon")
	if err != nil {
		return nil, err
	}
	fetched, err := p.tides.FetchHeights(ctx, lat, lon, plan)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		existing = fetched
	} else if err := existing.Extend(fetched); err != nil {
		return nil, errors.Wrap(err, "extending persisted tide series")
	}
	if err := existing.SaveCSV(h.Path); err != nil {
		return nil, err
	}
	return &task.Result{}, nil
}

func (p *Pipeline) estimateSlopes(ctx context.Context, in *task.Input) (*task.Result, error) {
	logger := ctxlog.FromContext(ctx).With("site", in.Site)

	raw, tides, err := p.loadRawAndTides(in)
	if err != nil {
		return nil, err
	}
	grid, err := slopeGrid(in)
	if err != nil {
		return nil, err
	}

	update := &collection.PartialUpdate{Site: in.Site}
	for _, col := range raw.Columns {
		est, err := ops.EstimateSlope(raw, tides, col, grid)
		if err != nil {
			logger.Warn("Transect excluded from slope estimation.", "transect", col, "error", err)
			continue
		}
		update.Entities = append(update.Entities, &collection.Entity{
			Key:  collection.Key(in.Site, col),
			Site: in.Site,
			Attrs: map[string]cty.Value{
				"beach_slope": collection.NumberAttr(est.BeachSlope),
				"cil":         collection.NumberAttr(est.CIL),
				"ciu":         collection.NumberAttr(est.CIU),
			},
		})
	}
	if len(update.Entities) == 0 {
		return nil, errors.Newf("no transect of site %s yielded a slope estimate", in.Site)
	}
	return &task.Result{Update: update}, nil
}

func (p *Pipeline) mergeSlopes(ctx context.Context, _ *task.Input) (*task.Result, error) {
	return p.merge(ctx, p.slopeUpdates, slopeAttrs)
}

func (p *Pipeline) tidalCorrection(ctx context.Context, in *task.Input) (*task.Result, error) {
	raw, tides, err := p.loadRawAndTides(in)
	if err != nil {
		return nil, err
	}

	slopes := make(map[string]float64, len(raw.Columns))
	for _, col := range raw.Columns {
		e := p.coll.Get(collection.Key(in.Site, col))
		if e == nil {
			continue
		}
		if v, ok := e.Attrs["beach_slope"]; ok {
			f, _ := v.AsBigFloat().Float64()
			slopes[col] = f
		}
	}
	if len(slopes) == 0 {
		return nil, errors.Newf("site %s has no merged beach slopes to correct with", in.Site)
	}

	corrected, err := ops.TidalCorrectPerColumn(raw, tides, slopes)
	if err != nil {
		return nil, err
	}
	res := ops.Despike(corrected, p.cfg.DespikeThreshold)
	ctxlog.FromContext(ctx).Debug("Corrected series despiked.",
		"site", in.Site, "removed", res.Total)

	h := in.Artifacts["corrected_series"]
	if err := corrected.SaveCSV(h.Path); err != nil {
		return nil, err
	}
	return &task.Result{}, nil
}

func (p *Pipeline) fitTrends(ctx context.Context, in *task.Input) (*task.Result, error) {
	logger := ctxlog.FromContext(ctx).With("site", in.Site)

	corrected, err := series.LoadCSV(in.Artifacts["corrected_series"].Path)
	if err != nil {
		return nil, errors.Wrap(err, "loading corrected series")
	}

	update := &collection.PartialUpdate{Site: in.Site}
	for _, col := range corrected.Columns {
		fit, err := ops.FitTrend(corrected, col)
		if err != nil {
			logger.Warn("Transect excluded from trend fitting.", "transect", col, "error", err)
			continue
		}
		update.Entities = append(update.Entities, &collection.Entity{
			Key:  collection.Key(in.Site, col),
			Site: in.Site,
			Attrs: map[string]cty.Value{
				"trend":          collection.NumberAttr(fit.Trend),
				"intercept":      collection.NumberAttr(fit.Intercept),
				"n_points":       collection.NumberAttr(float64(fit.NPoints)),
				"n_points_nonan": collection.NumberAttr(float64(fit.NPointsNonan)),
				"r2_score":       collection.NumberAttr(fit.R2),
				"mae":            collection.NumberAttr(fit.MAE),
				"mse":            collection.NumberAttr(fit.MSE),
				"rmse":           collection.NumberAttr(fit.RMSE),
			},
		})
	}
	if len(update.Entities) == 0 {
		return nil, errors.Newf("no transect of site %s yielded a trend fit", in.Site)
	}
	return &task.Result{Update: update}, nil
}

func (p *Pipeline) mergeTrends(ctx context.Context, _ *task.Input) (*task.Result, error) {
	return p.merge(ctx, p.trendUpdates, trendAttrs)
}

// merge folds gathered per-site updates into a new collection version. The
// updates arrive in site order; a single bad entity key fails the merge
// and leaves the current version untouched.
func (p *Pipeline) merge(ctx context.Context, updates []*collection.PartialUpdate, allowed []string) (*task.Result, error) {
	next, err := collection.Merge(p.coll, updates, allowed)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Collection merged.",
		"updates", len(updates), "version", next.Version())
	p.coll = next
	return &task.Result{}, nil
}

func (p *Pipeline) packageReport(ctx context.Context, _ *task.Input) (*task.Result, error) {
	if err := collection.SaveGeoJSON(p.coll, p.cfg.TransectsPath); err != nil {
		return nil, err
	}

	summary := ops.ReportSummary{
		RunID:     p.report.RunID,
		StartedAt: p.report.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Sites:     make(map[string]string),
		Stages:    p.report.Stages,
	}
	files := map[string]string{
		filepath.Base(p.cfg.TransectsPath): p.cfg.TransectsPath,
	}
	for _, s := range p.cfg.AllSites() {
		if _, failed := p.siteErr[s.ID]; failed {
			summary.Sites[s.ID] = p.report.Sites[s.ID]
			continue
		}
		summary.Sites[s.ID] = task.Succeeded.String()
		corrected := p.store.SiteSeries(s.ID, correctedSeriesFile)
		if corrected.Exists() {
			files[s.ID+"/"+correctedSeriesFile] = corrected.Path
		}
	}

	h := p.store.Report(reportFile)
	if err := ops.PackageReport(h.Path, summary, files); err != nil {
		return nil, err
	}
	p.report.ReportPath = h.Path
	ctxlog.FromContext(ctx).Info("Run report packaged.", "path", h.Path)
	return &task.Result{Artifacts: map[string]artifact.Handle{"report": h}}, nil
}

// verify compares the produced outputs against the configured reference.
// Mismatches are recorded in the run report, never returned as an error:
// verification reports, the operator decides.
func (p *Pipeline) verify(ctx context.Context, _ *task.Input) (*task.Result, error) {
	logger := ctxlog.FromContext(ctx)
	v := p.cfg.Verify

	ref, err := collection.LoadGeoJSON(v.ReferenceTransects)
	if err != nil {
		return nil, errors.Wrap(err, "loading reference collection")
	}

	report := &VerifyReport{
		Collection: compare.Collections(p.coll, ref, v.Tolerance),
		Sites:      make(map[string]*compare.Result),
	}
	if v.ReferenceDataDir != "" {
		for _, s := range p.cfg.AllSites() {
			if _, failed := p.siteErr[s.ID]; failed {
				continue
			}
			refPath := filepath.Join(v.ReferenceDataDir, s.ID, correctedSeriesFile)
			refSeries, err := series.LoadCSV(refPath)
			if err != nil {
				logger.Warn("Reference series unavailable; site not verified.", "site", s.ID, "error", err)
				continue
			}
			got, err := series.LoadCSV(p.store.SiteSeries(s.ID, correctedSeriesFile).Path)
			if err != nil {
				return nil, errors.Wrapf(err, "loading corrected series for site %s", s.ID)
			}
			report.Sites[s.ID] = compare.SeriesPair(got, refSeries, v.Tolerance)
		}
	}
	p.report.Verify = report

	if report.Match() {
		logger.Info("Verification passed.",
			"entities", report.Collection.Compared,
			"maxAbsDeviation", report.Collection.MaxAbsDeviation)
	} else {
		logger.Warn("Verification found mismatches.",
			"collectionMismatches", len(report.Collection.Mismatches),
			"missingKeys", len(report.Collection.MissingKeys),
			"extraKeys", len(report.Collection.ExtraKeys))
	}
	return &task.Result{}, nil
}

func (p *Pipeline) loadRawAndTides(in *task.Input) (*series.Series, *series.Series, error) {
	raw, err := series.LoadCSV(in.Artifacts["raw_series"].Path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading raw series")
	}
	tides, err := series.LoadCSV(in.Artifacts["tide_series"].Path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading tide series")
	}
	return raw, tides, nil
}

func (p *Pipeline) siteByID(id string) (config.Site, bool) {
	for _, s := range p.cfg.AllSites() {
		if s.ID == id {
			return s, true
		}
	}
	return config.Site{}, false
}

func slopeGrid(in *task.Input) (ops.SlopeGrid, error) {
	min, err := floatParam(in, "slope_min")
	if err != nil {
		return ops.SlopeGrid{}, err
	}
	max, err := floatParam(in, "slope_max")
	if err != nil {
		return ops.SlopeGrid{}, err
	}
	delta, err := floatParam(in, "delta_slope")
	if err != nil {
		return ops.SlopeGrid{}, err
	}
	return ops.SlopeGrid{Min: min, Max: max, Delta: delta}, nil
}

func floatParam(in *task.Input, name string) (float64, error) {
	v, ok := in.Params[name]
	if !ok {
		return 0, errors.Newf("missing required parameter %q", name)
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

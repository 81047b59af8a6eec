package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/artifact"
	"github.com/tidemark/shoregrid/internal/collection"
	"github.com/tidemark/shoregrid/internal/compare"
	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/executor"
	"github.com/tidemark/shoregrid/internal/ops"
	"github.com/tidemark/shoregrid/internal/registry"
	"github.com/tidemark/shoregrid/internal/series"
	"github.com/tidemark/shoregrid/internal/stage"
	"github.com/tidemark/shoregrid/internal/task"
)

// Per-site artifact file names, matching the layout of an archive a
// previous run (or the downloader) left behind.
const (
	rawSeriesFile       = "transect_time_series.csv"
	tideSeriesFile      = "tides.csv"
	correctedSeriesFile = "transect_time_series_tidally_corrected.csv"
	reportFile          = "report.zip"
)

// TideFetcher obtains tide heights for one site's coordinates. Satisfied
// by tide.Client; tests substitute a fake.
type TideFetcher interface {
	FetchHeights(ctx context.Context, lat, lon float64, times []time.Time) (*series.Series, error)
}

// VerifyReport is the outcome of verification mode: the produced
// collection against the reference, plus per-site corrected series when a
// reference data directory was configured. Mismatches are reported, never
// fatal.
type VerifyReport struct {
	Collection *compare.Result
	Sites      map[string]*compare.Result
}

// Match reports whether everything compared agreed within tolerance.
func (v *VerifyReport) Match() bool {
	if !v.Collection.Match() {
		return false
	}
	for _, r := range v.Sites {
		if !r.Match() {
			return false
		}
	}
	return true
}

// RunReport summarises one pipeline run.
type RunReport struct {
	RunID     string
	StartedAt time.Time
	Stages    []ops.StageOutcome

	// Sites maps each site to its final status: succeeded, failed or
	// skipped.
	Sites map[string]string

	// Collection is the final version of the canonical collection.
	Collection *collection.Collection

	// Verify is non-nil when the run executed in verification mode.
	Verify *VerifyReport

	// ReportPath is the packaged bundle on disk.
	ReportPath string
}

// Pipeline is one configured run: the stage graph, the handler registry
// and the shared state the stages thread through.
type Pipeline struct {
	cfg       *config.Model
	store     *artifact.Store
	reg       *registry.Registry
	exec      *executor.Executor
	tides     TideFetcher
	extractor ops.Extractor
	graph     *stage.Graph

	// Mutable run state. Only the runner goroutine and scalar-stage
	// handlers touch these; scattered handlers communicate through
	// artifacts and returned results.
	coll         *collection.Collection
	slopeUpdates []*collection.PartialUpdate
	trendUpdates []*collection.PartialUpdate
	siteErr      map[string]error
	report       *RunReport
}

// New assembles a pipeline for the configuration. The tide fetcher may be
// nil when every site's tide series is already persisted; a site that then
// needs a fetch fails with a configuration error.
func New(cfg *config.Model, tides TideFetcher, extractor ops.Extractor) (*Pipeline, error) {
	g, err := buildGraph(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		store:     artifact.NewStore(cfg.DataDir),
		reg:       registry.New(),
		tides:     tides,
		extractor: extractor,
		graph:     g,
		siteErr:   make(map[string]error),
	}
	p.exec = executor.New(p.reg, cfg.Execution.Workers, cfg.Execution.Policy)
	p.registerHandlers()

	if err := p.reg.ValidateAgainst(g); err != nil {
		return nil, errors.Wrap(err, "validating handler registry")
	}
	return p, nil
}

// Graph exposes the declared stage graph, for inspection and listing.
func (p *Pipeline) Graph() *stage.Graph {
	return p.graph
}

// Run executes every stage in topological order and returns the run
// report. Under the best-effort policy a site failure is recorded and its
// downstream tasks skipped; the run itself fails only when a scalar stage
// fails, when fail-fast is configured, or when no site survives to the end.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	logger := ctxlog.FromContext(ctx)

	p.report = &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Sites:     make(map[string]string),
	}
	logger = logger.With("runID", p.report.RunID)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Info("Run started.",
		"stages", p.graph.Len(), "sites", len(p.cfg.AllSites()), "policy", p.cfg.Execution.Policy.String())

	for _, st := range p.graph.TopologicalOrder() {
		if err := p.runStage(ctx, st); err != nil {
			return p.report, errors.Wrapf(err, "run %s", p.report.RunID)
		}
	}

	for _, s := range p.cfg.AllSites() {
		if _, failed := p.siteErr[s.ID]; !failed {
			p.report.Sites[s.ID] = task.Succeeded.String()
		}
	}
	if len(p.siteErr) == len(p.cfg.AllSites()) {
		return p.report, errors.Newf("run %s: every site failed", p.report.RunID)
	}
	p.report.Collection = p.coll
	logger.Info("Run finished.", "failedSites", len(p.siteErr), "collectionVersion", p.coll.Version())
	return p.report, nil
}

func (p *Pipeline) runStage(ctx context.Context, st *stage.Stage) error {
	logger := ctxlog.FromContext(ctx).With("stage", st.Name)

	if !st.Scattered {
		_, err := p.exec.RunScalar(ctx, st, &task.Input{Params: paramValues(st.Params)})
		p.recordOutcome(st, nil, err)
		return err
	}

	sites := p.stageSites(st)
	results, err := p.exec.RunScattered(ctx, st, sites, p.resolver(st))
	p.recordOutcome(st, results, err)
	if err != nil {
		return err
	}

	// Gather: results are positional against the stage's site list. Updates
	// are collected in site order, never arrival order, so later merges are
	// deterministic.
	for i := range results {
		r := &results[i]
		if r.Site != sites[i].ID {
			return errors.AssertionFailedf("slot %d holds site %s, expected %s", i, r.Site, sites[i].ID)
		}
		switch {
		case r.Status == task.Succeeded:
			if r.Result != nil && r.Result.Update != nil {
				p.appendUpdate(st, r.Result.Update)
			}
		case r.Skipped:
			// A site failed earlier keeps its original failure status; only
			// a fresh skip (run cancellation) is recorded as such.
			if _, known := p.siteErr[r.Site]; !known {
				p.siteErr[r.Site] = r.Err
				p.report.Sites[r.Site] = "skipped"
			}
		default:
			logger.Warn("Site failed; downstream stages will skip it.", "site", r.Site, "error", r.Err)
			p.siteErr[r.Site] = r.Err
			p.report.Sites[r.Site] = task.Failed.String()
		}
	}
	return nil
}

// stageSites returns the stage's site list: the full flattened list, or
// one group's sites for a group-restricted stage.
func (p *Pipeline) stageSites(st *stage.Stage) []config.Site {
	if st.Group == "" {
		return p.cfg.AllSites()
	}
	if g := p.cfg.GroupByName(st.Group); g != nil {
		return g.Sites
	}
	return nil
}

// resolver builds the per-site input for one scattered stage. Sites that
// already failed upstream resolve to a skip.
func (p *Pipeline) resolver(st *stage.Stage) executor.Resolver {
	return func(site config.Site) (*task.Input, error) {
		if upstream, failed := p.siteErr[site.ID]; failed {
			return nil, errors.WithSecondaryError(executor.ErrSkipSite, upstream)
		}

		params := paramValues(st.Params)
		params["lat"] = collection.NumberAttr(site.Lat)
		params["lon"] = collection.NumberAttr(site.Lon)

		return &task.Input{
			Site:   site.ID,
			Group:  site.Group,
			Params: params,
			Artifacts: map[string]artifact.Handle{
				"raw_series":       p.store.SiteSeries(site.ID, rawSeriesFile),
				"tide_series":      p.store.SiteSeries(site.ID, tideSeriesFile),
				"corrected_series": p.store.SiteSeries(site.ID, correctedSeriesFile),
			},
		}, nil
	}
}

func (p *Pipeline) appendUpdate(st *stage.Stage, u *collection.PartialUpdate) {
	switch st.Operation {
	case "estimate_slopes":
		p.slopeUpdates = append(p.slopeUpdates, u)
	case stageFitTrends:
		p.trendUpdates = append(p.trendUpdates, u)
	}
}

func (p *Pipeline) recordOutcome(st *stage.Stage, results []executor.SiteResult, err error) {
	out := ops.StageOutcome{Name: st.Name, Status: task.Succeeded.String()}
	if err != nil {
		out.Status = task.Failed.String()
	}
	for i := range results {
		switch {
		case results[i].Skipped:
			out.Skipped++
		case results[i].Status == task.Succeeded:
			out.Succeeded++
		default:
			out.Failed++
		}
	}
	if !st.Scattered && err == nil {
		out.Succeeded = 1
	}
	p.report.Stages = append(p.report.Stages, out)
}

func paramValues(params map[string]float64) map[string]cty.Value {
	out := make(map[string]cty.Value, len(params)+2)
	for k, v := range params {
		out[k] = cty.NumberFloatVal(v)
	}
	return out
}

package pipeline

import (
	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/stage"
)

// Stage names. The slope-estimation stage is declared once per group so
// each group runs its own search-grid variant.
const (
	stageLoadTransects  = "load_transects"
	stageProcessSite    = "process_site"
	stageFetchTides     = "fetch_tides"
	stageEstimatePrefix = "estimate_slopes_"
	stageMergeSlopes    = "merge_slopes"
	stageTidalCorrect   = "tidal_correction"
	stageFitTrends      = "fit_trends"
	stageMergeTrends    = "merge_trends"
	stagePackageReport  = "package_report"
	stageVerify         = "verify"
)

// configKeys are the run-level inputs satisfiable by configuration rather
// than by an upstream stage.
var configKeys = []string{"source_dir", "transects", "tide_api"}

// buildGraph declares the run's stage graph for the given configuration.
// Declaration order is the deterministic tie-break for execution order.
func buildGraph(cfg *config.Model) (*stage.Graph, error) {
	g := stage.NewGraph()

	add := func(s *stage.Stage) error {
		return errors.Wrapf(g.Add(s), "declaring stage %s", s.Name)
	}

	if err := add(&stage.Stage{
		Name:      stageLoadTransects,
		Operation: stageLoadTransects,
		Inputs:    []string{"transects"},
		Outputs:   []string{"base_collection"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stageProcessSite,
		Scattered: true,
		Operation: "extract_series",
		Inputs:    []string{"source_dir"},
		Outputs:   []string{"raw_series"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stageFetchTides,
		Scattered: true,
		Operation: stageFetchTides,
		DependsOn: []string{stageProcessSite},
		Inputs:    []string{"raw_series", "tide_api"},
		Outputs:   []string{"tide_series"},
	}); err != nil {
		return nil, err
	}

	var estimates []string
	for _, grp := range cfg.Groups {
		name := stageEstimatePrefix + grp.Name
		estimates = append(estimates, name)
		if err := add(&stage.Stage{
			Name:      name,
			Scattered: true,
			Operation: "estimate_slopes",
			Group:     grp.Name,
			DependsOn: []string{stageFetchTides},
			Inputs:    []string{"raw_series", "tide_series"},
			Outputs:   []string{"slope_update"},
			Params: map[string]float64{
				"slope_min":   grp.SlopeMin,
				"slope_max":   grp.SlopeMax,
				"delta_slope": grp.DeltaSlope,
			},
		}); err != nil {
			return nil, err
		}
	}

	if err := add(&stage.Stage{
		Name:      stageMergeSlopes,
		Operation: stageMergeSlopes,
		DependsOn: append([]string{stageLoadTransects}, estimates...),
		Inputs:    []string{"base_collection", "slope_update"},
		Outputs:   []string{"slope_collection"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stageTidalCorrect,
		Scattered: true,
		Operation: stageTidalCorrect,
		DependsOn: []string{stageMergeSlopes},
		Inputs:    []string{"raw_series", "tide_series", "slope_collection"},
		Outputs:   []string{"corrected_series"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stageFitTrends,
		Scattered: true,
		Operation: stageFitTrends,
		DependsOn: []string{stageTidalCorrect},
		Inputs:    []string{"corrected_series"},
		Outputs:   []string{"trend_update"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stageMergeTrends,
		Operation: stageMergeTrends,
		DependsOn: []string{stageFitTrends},
		Inputs:    []string{"slope_collection", "trend_update"},
		Outputs:   []string{"trend_collection"},
	}); err != nil {
		return nil, err
	}
	if err := add(&stage.Stage{
		Name:      stagePackageReport,
		Operation: stagePackageReport,
		DependsOn: []string{stageMergeTrends},
		Inputs:    []string{"trend_collection"},
		Outputs:   []string{"report"},
	}); err != nil {
		return nil, err
	}
	if cfg.Verify != nil {
		if err := add(&stage.Stage{
			Name:      stageVerify,
			Operation: stageVerify,
			DependsOn: []string{stagePackageReport},
			Inputs:    []string{"trend_collection"},
			Outputs:   []string{"verification"},
		}); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(configKeys); err != nil {
		return nil, errors.Wrap(err, "validating stage graph")
	}
	return g, nil
}

// Package hclconf loads shoregrid run files written in HCL and translates
// them into the format-agnostic config model.
package hclconf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/schema"
)

const dateLayout = "2006-01-02"

// Loader reads .hcl run files.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates an HCL loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load parses the run file (or every .hcl file in a directory, merged in
// lexical order) and returns the translated config model.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.resolveFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf("no .hcl files found at %q", path)
	}
	logger.Debug("Resolved configuration files.", "count", len(files))

	merged := &schema.RunFile{}
	for _, fn := range files {
		f, diags := l.parser.ParseHCLFile(fn)
		if diags.HasErrors() {
			return nil, errors.Wrapf(diags, "parsing %s", fn)
		}
		var rf schema.RunFile
		if diags := gohcl.DecodeBody(f.Body, nil, &rf); diags.HasErrors() {
			return nil, errors.Wrapf(diags, "decoding %s", fn)
		}
		mergeRunFile(merged, &rf)
	}

	model, err := translate(merged)
	if err != nil {
		return nil, err
	}
	logger.Debug("Configuration translated into unified model.",
		"groups", len(model.Groups), "sites", len(model.AllSites()))
	return model, nil
}

func (l *Loader) resolveFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat configuration path")
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "read configuration directory")
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".hcl") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}

func mergeRunFile(dst, src *schema.RunFile) {
	if src.Run != nil {
		dst.Run = src.Run
	}
	if src.TideAPI != nil {
		dst.TideAPI = src.TideAPI
	}
	if src.Verify != nil {
		dst.Verify = src.Verify
	}
	dst.Groups = append(dst.Groups, src.Groups...)
}

func translate(rf *schema.RunFile) (*config.Model, error) {
	if rf.Run == nil {
		return nil, errors.New("configuration is missing the required 'run' block")
	}
	if rf.Run.Window == nil {
		return nil, errors.New("'run' block is missing the required 'window' block")
	}
	start, err := time.Parse(dateLayout, rf.Run.Window.Start)
	if err != nil {
		return nil, errors.Wrap(err, "parsing window start date")
	}
	end, err := time.Parse(dateLayout, rf.Run.Window.End)
	if err != nil {
		return nil, errors.Wrap(err, "parsing window end date")
	}
	if !end.After(start) {
		return nil, errors.Newf("window end %s must be after start %s", rf.Run.Window.End, rf.Run.Window.Start)
	}

	policy := config.BestEffort
	switch rf.Run.FailurePolicy {
	case "", "best_effort":
	case "fail_fast":
		policy = config.FailFast
	default:
		return nil, errors.Newf("invalid failure_policy %q: must be 'best_effort' or 'fail_fast'", rf.Run.FailurePolicy)
	}

	workers := rf.Run.Workers
	if workers <= 0 {
		workers = 4
	}
	despike := rf.Run.DespikeThreshold
	if despike <= 0 {
		despike = 40
	}

	sourceDir := rf.Run.SourceDir
	if sourceDir == "" {
		sourceDir = rf.Run.DataDir
	}
	transects := rf.Run.Transects
	if transects == "" {
		transects = filepath.Join(rf.Run.DataDir, "transects_extended.geojson")
	}

	m := &config.Model{
		DataDir:          rf.Run.DataDir,
		SourceDir:        sourceDir,
		TransectsPath:    transects,
		Window:           config.Window{Start: start, End: end},
		Satellites:       rf.Run.Satellites,
		Execution:        config.Execution{Workers: workers, Policy: policy},
		DespikeThreshold: despike,
	}

	seen := make(map[string]string)
	for _, gb := range rf.Groups {
		g := &config.Group{
			Name:       gb.Name,
			SlopeMin:   gb.SlopeMin,
			SlopeMax:   gb.SlopeMax,
			DeltaSlope: gb.DeltaSlope,
		}
		if g.SlopeMin == 0 {
			g.SlopeMin = 0.01
		}
		if g.SlopeMax == 0 {
			g.SlopeMax = 0.2
		}
		if g.DeltaSlope == 0 {
			g.DeltaSlope = 0.005
		}
		for _, sb := range gb.Sites {
			if prev, dup := seen[sb.ID]; dup {
				return nil, errors.Newf("site %q declared in both group %q and group %q", sb.ID, prev, gb.Name)
			}
			seen[sb.ID] = gb.Name
			g.Sites = append(g.Sites, config.Site{
				ID:    sb.ID,
				Group: gb.Name,
				Lat:   sb.Lat,
				Lon:   sb.Lon,
			})
		}
		m.Groups = append(m.Groups, g)
	}
	if len(m.AllSites()) == 0 {
		return nil, errors.New("configuration declares no sites")
	}

	if rf.TideAPI != nil {
		rate := rf.TideAPI.RatePerMinute
		if rate <= 0 {
			rate = 30
		}
		m.TideAPI = config.TideAPI{
			BaseURL:       rf.TideAPI.BaseURL,
			APIKeyEnv:     rf.TideAPI.APIKeyEnv,
			RatePerMinute: rate,
		}
	}

	if rf.Verify != nil {
		tol := rf.Verify.Tolerance
		if tol == 0 {
			tol = 1e-6
		}
		m.Verify = &config.Verify{
			ReferenceTransects: rf.Verify.ReferenceTransects,
			ReferenceDataDir:   rf.Verify.ReferenceDataDir,
			Tolerance:          tol,
		}
	}

	return m, nil
}

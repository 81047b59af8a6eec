package ops

import (
	"context"
	"math"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/series"
)

// Extractor produces a site's raw cross-shore series for a date window.
// The production implementation replays a pre-downloaded imagery archive;
// tests substitute an in-memory one.
type Extractor interface {
	ExtractSite(ctx context.Context, site config.Site, window config.Window, satellites []string) (*series.Series, error)
}

// FileExtractor replays raw series from an archive directory laid out one
// subdirectory per site, the layout a downloader run leaves behind.
type FileExtractor struct {
	SourceDir string
	// FileName is the per-site series file, transect_time_series.csv by
	// default.
	FileName string
}

func (e *FileExtractor) fileName() string {
	if e.FileName == "" {
		return "transect_time_series.csv"
	}
	return e.FileName
}

// ExtractSite loads the site's raw series and filters it to the window and
// the accepted satellite sources. Rows outside the window or from an
// unlisted satellite are dropped; an empty satellite list accepts all.
func (e *FileExtractor) ExtractSite(ctx context.Context, site config.Site, window config.Window, satellites []string) (*series.Series, error) {
	path := filepath.Join(e.SourceDir, site.ID, e.fileName())
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "no archived series for site %s", site.ID)
	}

	raw, err := series.LoadCSV(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading archived series for site %s", site.ID)
	}

	accepted := make(map[string]bool, len(satellites))
	for _, s := range satellites {
		accepted[s] = true
	}

	out := series.New(raw.Columns)
	dropped := 0
	for i, t := range raw.Times {
		if !window.Start.IsZero() && t.Before(window.Start) {
			dropped++
			continue
		}
		if !window.End.IsZero() && !t.Before(window.End) {
			dropped++
			continue
		}
		if len(accepted) > 0 && raw.HasSources() && !accepted[raw.Sources[i]] {
			dropped++
			continue
		}
		row := series.Row{Time: t, Values: make(map[string]float64, len(raw.Columns))}
		if raw.HasSources() {
			row.Source = raw.Sources[i]
		}
		for _, c := range raw.Columns {
			v := raw.Value(c, i)
			if math.IsInf(v, 0) {
				v = math.NaN()
			}
			row.Values[c] = v
		}
		if err := out.Append(row); err != nil {
			return nil, errors.Wrapf(err, "site %s", site.ID)
		}
	}

	ctxlog.FromContext(ctx).Debug("Site series extracted.",
		"site", site.ID, "rows", out.Len(), "dropped", dropped)
	return out, nil
}

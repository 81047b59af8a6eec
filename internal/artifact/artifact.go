// Package artifact passes data between stages as opaque on-disk handles.
// The orchestrator never interprets an artifact's content; it only knows
// the path and the declared shape.
package artifact

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Shape declares the coarse structure of an artifact so consumers can pick
// the right codec without the orchestrator inspecting the file.
type Shape int

const (
	// Tabular is a timestamp-indexed CSV table.
	Tabular Shape = iota
	// Geometric is a GeoJSON feature collection.
	Geometric
	// Packaged is a multi-section bundle (the final report).
	Packaged
)

func (s Shape) String() string {
	switch s {
	case Tabular:
		return "tabular"
	case Geometric:
		return "geometric"
	case Packaged:
		return "packaged"
	}
	return "unknown"
}

// Handle is an opaque reference to one artifact.
type Handle struct {
	Path  string
	Shape Shape
}

// Exists reports whether the artifact is present on disk.
func (h Handle) Exists() bool {
	info, err := os.Stat(h.Path)
	return err == nil && !info.IsDir()
}

// Store lays out artifacts under a data directory, one subdirectory per
// site, matching the layout a previous run left behind so reruns can
// resume from partial output.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// SiteSeries returns the handle for a site's named tabular series, e.g.
// transect_time_series.csv or tides.csv.
func (s *Store) SiteSeries(siteID, name string) Handle {
	return Handle{
		Path:  filepath.Join(s.root, siteID, name),
		Shape: Tabular,
	}
}

// Collection returns the handle for a canonical collection snapshot.
func (s *Store) Collection(name string) Handle {
	return Handle{
		Path:  filepath.Join(s.root, name),
		Shape: Geometric,
	}
}

// Report returns the handle for the packaged run report.
func (s *Store) Report(name string) Handle {
	return Handle{
		Path:  filepath.Join(s.root, name),
		Shape: Packaged,
	}
}

// EnsureSiteDir creates the site's directory if needed.
func (s *Store) EnsureSiteDir(siteID string) error {
	if err := os.MkdirAll(filepath.Join(s.root, siteID), 0o755); err != nil {
		return errors.Wrapf(err, "creating site directory for %s", siteID)
	}
	return nil
}

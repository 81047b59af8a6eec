package config

import "time"

// Model is the unified, format-agnostic representation of an entire run
// configuration. Loaders translate their on-disk format into this model so
// the rest of the application never touches raw configuration syntax.
type Model struct {
	// DataDir is the root of the on-disk artifact store. Per-site outputs
	// live under DataDir/<site_id>/ so a later run can resume from them.
	DataDir string

	// SourceDir is the archive of downloaded raw imagery series the run
	// extracts from. Defaults to DataDir.
	SourceDir string

	// TransectsPath is the base canonical collection file. Defaults to
	// DataDir/transects_extended.geojson.
	TransectsPath string

	// Window is the date range the run must ultimately cover.
	Window Window

	// Satellites lists the acceptable data sources, in priority order.
	Satellites []string

	// Groups holds the ordered site groups. Group order and the site order
	// within each group are both significant: scattered stages collect
	// results positionally against the flattened site list.
	Groups []*Group

	// TideAPI describes the external rate-limited tide service.
	TideAPI TideAPI

	// Execution holds the concurrency and failure-policy settings.
	Execution Execution

	// DespikeThreshold is the outlier cutoff, in metres, applied when
	// cleaning corrected time series.
	DespikeThreshold float64

	// Verify is non-nil when the run should compare its outputs against a
	// reference dataset.
	Verify *Verify
}

// Window is a half-open [Start, End) date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Group is an ordered family of sites that share stage parameters. Two
// groups may run different variants of the same stage (for example a
// different slope-search grid).
type Group struct {
	Name  string
	Sites []Site

	// Slope-search grid for this group's slope estimation stage variant.
	SlopeMin   float64
	SlopeMax   float64
	DeltaSlope float64
}

// Site is one independent geographic unit. Immutable for the run.
type Site struct {
	ID    string
	Group string

	// Lat and Lon locate the site centroid for the tide service.
	Lat float64
	Lon float64
}

// TideAPI describes the external tide service. The credential is an opaque
// reference to an environment variable, never the secret itself.
type TideAPI struct {
	BaseURL       string
	APIKeyEnv     string
	RatePerMinute int
}

// FailurePolicy selects how a scattered stage treats a failed site task.
type FailurePolicy int

const (
	// BestEffort isolates a site failure: sibling sites keep running and
	// downstream stages skip the failed site.
	BestEffort FailurePolicy = iota
	// FailFast cancels the remaining site tasks of the stage and fails the
	// run on the first site failure.
	FailFast
)

func (p FailurePolicy) String() string {
	if p == FailFast {
		return "fail_fast"
	}
	return "best_effort"
}

// Execution holds run-level execution settings.
type Execution struct {
	// Workers is the scatter concurrency bound W. Always >= 1.
	Workers int
	Policy  FailurePolicy
}

// Verify configures verification mode.
type Verify struct {
	// ReferenceTransects is the reference canonical collection to compare
	// the produced collection against.
	ReferenceTransects string
	// ReferenceDataDir holds reference per-site series files.
	ReferenceDataDir string
	Tolerance        float64
}

// AllSites returns the run's site list: groups in declaration order, sites
// in declaration order within each group. This ordering is the positional
// contract every scattered stage collects against.
func (m *Model) AllSites() []Site {
	var sites []Site
	for _, g := range m.Groups {
		sites = append(sites, g.Sites...)
	}
	return sites
}

// GroupByName returns the named group, or nil.
func (m *Model) GroupByName(name string) *Group {
	for _, g := range m.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

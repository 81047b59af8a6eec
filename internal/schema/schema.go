// Package schema declares the HCL shapes of a shoregrid run file. These
// structs are decode targets only; internal/hclconf translates them into
// the format-agnostic config.Model.
package schema

import "github.com/hashicorp/hcl/v2"

// RunFile is the top-level structure of a run configuration file.
type RunFile struct {
	Run     *RunBlock     `hcl:"run,block"`
	Groups  []*GroupBlock `hcl:"group,block"`
	TideAPI *TideAPIBlock `hcl:"tide_api,block"`
	Verify  *VerifyBlock  `hcl:"verify,block"`
	Body    hcl.Body      `hcl:",remain"`
}

// RunBlock holds run-wide settings.
type RunBlock struct {
	DataDir          string   `hcl:"data_dir"`
	SourceDir        string   `hcl:"source_dir,optional"`
	Transects        string   `hcl:"transects,optional"`
	Satellites       []string `hcl:"satellites"`
	Workers          int      `hcl:"workers,optional"`
	FailurePolicy    string   `hcl:"failure_policy,optional"`
	DespikeThreshold float64  `hcl:"despike_threshold,optional"`
	Window           *Window  `hcl:"window,block"`
}

// Window is the run's date range, as RFC 3339 dates.
type Window struct {
	Start string `hcl:"start"`
	End   string `hcl:"end"`
}

// GroupBlock declares one ordered site family and its stage parameters.
type GroupBlock struct {
	Name       string       `hcl:"name,label"`
	Sites      []*SiteBlock `hcl:"site,block"`
	SlopeMin   float64      `hcl:"slope_min,optional"`
	SlopeMax   float64      `hcl:"slope_max,optional"`
	DeltaSlope float64      `hcl:"delta_slope,optional"`
}

// SiteBlock declares one site and its centroid coordinates.
type SiteBlock struct {
	ID  string  `hcl:"id,label"`
	Lat float64 `hcl:"lat"`
	Lon float64 `hcl:"lon"`
}

// TideAPIBlock describes the external tide service. The API key is passed
// as the name of an environment variable, never inline.
type TideAPIBlock struct {
	BaseURL       string `hcl:"base_url"`
	APIKeyEnv     string `hcl:"api_key_env"`
	RatePerMinute int    `hcl:"rate_per_minute,optional"`
}

// VerifyBlock enables verification mode.
type VerifyBlock struct {
	ReferenceTransects string  `hcl:"reference_transects"`
	ReferenceDataDir   string  `hcl:"reference_data_dir,optional"`
	Tolerance          float64 `hcl:"tolerance,optional"`
}

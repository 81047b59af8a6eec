// Package ops implements the domain operations the pipeline stages invoke:
// extracting raw shoreline series, outlier removal, tidal correction, beach
// slope estimation, long-term trend fitting, and report packaging. Each
// operation is a pure function over series and collections; stage handlers
// wire them to artifacts.
package ops

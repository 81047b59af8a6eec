// Package series models the pipeline's tabular time-series artifacts: a
// timestamp index, an optional satellite-name column, and one numeric
// column per transect. Rows are append-only so incremental fetches extend
// persisted output without ever rewriting it.
package series

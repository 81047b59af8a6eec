// Package pipeline assembles the shoreline-monitoring run: it declares
// the stage graph, registers the operation handlers that bind domain
// operations to artifacts, and drives execution in topological order.
// Scattered stages fan out over the site list through the executor;
// merge stages fold the gathered per-site updates into new versions of
// the canonical transect collection.
package pipeline

// Package fetchplan decides, per site, what subset of remote data remains
// to be fetched given previously persisted partial output. Combined with
// the append-only series contract this makes every fetch stage resumable:
// a rerun only requests what earlier runs did not already obtain.
package fetchplan

import (
	"time"

	"github.com/tidemark/shoregrid/internal/series"
)

// Plan computes the minimal remaining request: the required timestamps not
// already covered by the persisted output, in required order. A nil
// existing series means nothing is covered yet and the full requirement is
// returned. Timestamps compare at series resolution.
func Plan(existing *series.Series, required []time.Time) []time.Time {
	var remaining []time.Time
	seen := make(map[time.Time]bool, len(required))
	for _, t := range required {
		rt := series.Round(t)
		if seen[rt] {
			continue
		}
		seen[rt] = true
		if existing == nil || existing.RowAt(rt) < 0 {
			remaining = append(remaining, rt)
		}
	}
	return remaining
}

// ForceRefetch returns the full required set regardless of persisted
// output, for callers explicitly instructed to re-request everything. The
// caller is then responsible for replacing, not extending, the persisted
// series.
func ForceRefetch(required []time.Time) []time.Time {
	return Plan(nil, required)
}

package ops

import (
	"math"

	"github.com/tidemark/shoregrid/internal/series"
)

// DespikeResult summarises an outlier-removal pass.
type DespikeResult struct {
	// Removed counts values blanked per column.
	Removed map[string]int
	// Total is the sum over all columns.
	Total int
}

// Despike blanks outliers in every column of s, in place. A value is an
// outlier when its distance from the column median exceeds the threshold
// (metres). Cross-shore positions drift slowly, so a jump of tens of
// metres from the column's bulk is cloud or georeferencing noise, not
// shoreline change. Blanked values become NaN; rows are never removed, so
// the timestamp index stays aligned with the tide series.
func Despike(s *series.Series, threshold float64) DespikeResult {
	res := DespikeResult{Removed: make(map[string]int, len(s.Columns))}
	for _, c := range s.Columns {
		col := s.Column(c)
		med := median(nonNaN(col))
		if math.IsNaN(med) {
			continue
		}
		for i, v := range col {
			if math.IsNaN(v) {
				continue
			}
			if math.Abs(v-med) > threshold {
				col[i] = math.NaN()
				res.Removed[c]++
				res.Total++
			}
		}
	}
	return res
}

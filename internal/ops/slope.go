package ops

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/series"
)

// SlopeGrid is the candidate search range for one group's slope
// estimation, inclusive of both ends.
type SlopeGrid struct {
	Min   float64
	Max   float64
	Delta float64
}

// Candidates enumerates the grid.
func (g SlopeGrid) Candidates() []float64 {
	var out []float64
	for v := g.Min; v <= g.Max+g.Delta/2; v += g.Delta {
		out = append(out, v)
	}
	return out
}

// SlopeEstimate is the outcome of a per-transect slope search.
type SlopeEstimate struct {
	// BeachSlope is the grid candidate minimising tidal residual.
	BeachSlope float64
	// CIL and CIU bound the flat region of the objective: candidates
	// whose residual is within 5% of the minimum.
	CIL float64
	CIU float64
	// NPoints is the number of observations the search used.
	NPoints int
}

// EstimateSlope searches the grid for the beach slope that best removes
// tidal signal from one transect's raw positions. For each candidate the
// series is tide-corrected and the variance of the corrected positions
// computed; the true slope minimises that variance because any residual
// tidal signal inflates it. At least ten paired observations are required
// for the objective to be meaningful.
func EstimateSlope(raw, tides *series.Series, column string, grid SlopeGrid) (SlopeEstimate, error) {
	if grid.Delta <= 0 || grid.Max < grid.Min {
		return SlopeEstimate{}, errors.Newf("invalid slope grid [%g, %g] step %g", grid.Min, grid.Max, grid.Delta)
	}

	var positions, heights []float64
	for i, t := range raw.Times {
		tideRow := tides.RowAt(t)
		if tideRow < 0 {
			continue
		}
		p := raw.Value(column, i)
		h := tides.Value("tide", tideRow)
		if math.IsNaN(p) || math.IsNaN(h) {
			continue
		}
		positions = append(positions, p)
		heights = append(heights, h)
	}
	if len(positions) < 10 {
		return SlopeEstimate{}, errors.Newf("transect %s has %d paired observations, need at least 10", column, len(positions))
	}

	candidates := grid.Candidates()
	objective := make([]float64, len(candidates))
	best, bestVar := 0, math.Inf(1)
	corrected := make([]float64, len(positions))
	for ci, slope := range candidates {
		for i := range positions {
			corrected[i] = positions[i] + heights[i]/slope
		}
		v := variance(corrected)
		objective[ci] = v
		if v < bestVar {
			best, bestVar = ci, v
		}
	}

	est := SlopeEstimate{
		BeachSlope: candidates[best],
		CIL:        candidates[best],
		CIU:        candidates[best],
		NPoints:    len(positions),
	}
	bound := bestVar * 1.05
	for ci := best; ci >= 0 && objective[ci] <= bound; ci-- {
		est.CIL = candidates[ci]
	}
	for ci := best; ci < len(candidates) && objective[ci] <= bound; ci++ {
		est.CIU = candidates[ci]
	}
	return est, nil
}

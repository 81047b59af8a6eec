package ops

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/series"
)

const yearSeconds = 365.25 * 24 * 3600

// TrendFit is an ordinary-least-squares fit of cross-shore position
// against time, with the goodness-of-fit statistics reported alongside the
// merged collection attributes.
type TrendFit struct {
	// Trend is the slope in metres per year.
	Trend     float64
	Intercept float64

	NPoints      int
	NPointsNonan int

	R2   float64
	MAE  float64
	MSE  float64
	RMSE float64
}

// FitTrend fits position = intercept + trend*t over one transect column,
// with t in years since the first observation. NaN positions are excluded
// from the fit but still counted in NPoints. At least three non-NaN
// observations are required.
func FitTrend(s *series.Series, column string) (TrendFit, error) {
	col := s.Column(column)
	if col == nil {
		return TrendFit{}, errors.Newf("series has no column %q", column)
	}
	if len(col) == 0 {
		return TrendFit{}, errors.Newf("column %q is empty", column)
	}

	t0 := s.Times[0]
	var xs, ys []float64
	for i, v := range col {
		if math.IsNaN(v) {
			continue
		}
		xs = append(xs, yearsSince(t0, s.Times[i]))
		ys = append(ys, v)
	}
	if len(ys) < 3 {
		return TrendFit{}, errors.Newf("column %q has %d usable observations, need at least 3", column, len(ys))
	}

	mx, my := mean(xs), mean(ys)
	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - mx
		sxx += dx * dx
		sxy += dx * (ys[i] - my)
	}
	if sxx == 0 {
		return TrendFit{}, errors.Newf("column %q has no time spread", column)
	}

	fit := TrendFit{
		Trend:        sxy / sxx,
		NPoints:      len(col),
		NPointsNonan: len(ys),
	}
	fit.Intercept = my - fit.Trend*mx

	var ssRes, ssTot, absSum float64
	for i := range xs {
		pred := fit.Intercept + fit.Trend*xs[i]
		r := ys[i] - pred
		ssRes += r * r
		absSum += math.Abs(r)
		d := ys[i] - my
		ssTot += d * d
	}
	n := float64(len(ys))
	fit.MAE = absSum / n
	fit.MSE = ssRes / n
	fit.RMSE = math.Sqrt(fit.MSE)
	if ssTot > 0 {
		fit.R2 = 1 - ssRes/ssTot
	}
	return fit, nil
}

func yearsSince(t0, t time.Time) float64 {
	return t.Sub(t0).Seconds() / yearSeconds
}

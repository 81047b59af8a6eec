package ops

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/series"
)

// TidalCorrectPerColumn applies TidalCorrect with a separate beach slope
// per transect column, the usual case once slopes have been estimated per
// transect. A column without a slope entry is carried through as NaN so
// the output keeps the full column set.
func TidalCorrectPerColumn(raw, tides *series.Series, slopes map[string]float64) (*series.Series, error) {
	for c, s := range slopes {
		if s <= 0 {
			return nil, errors.Newf("beach slope for %s must be positive, got %g", c, s)
		}
	}

	out := series.New(raw.Columns)
	for i, t := range raw.Times {
		tideRow := tides.RowAt(t)
		if tideRow < 0 {
			continue
		}
		tide := tides.Value("tide", tideRow)
		if math.IsNaN(tide) {
			continue
		}
		row := series.Row{Time: t, Values: make(map[string]float64, len(raw.Columns))}
		if raw.HasSources() {
			row.Source = raw.Sources[i]
		}
		for _, c := range raw.Columns {
			slope, ok := slopes[c]
			if !ok {
				row.Values[c] = math.NaN()
				continue
			}
			row.Values[c] = raw.Value(c, i) + tide/slope
		}
		if err := out.Append(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TidalCorrect shifts raw cross-shore positions to a common tidal datum:
// corrected = raw + tide/slope, with a horizontal translation proportional
// to the water level over the beach slope. Rows are aligned on the rounded
// timestamp; rows without a tide sample are dropped, since an uncorrected
// position cannot be compared against corrected ones.
func TidalCorrect(raw, tides *series.Series, slope float64) (*series.Series, error) {
	if slope <= 0 {
		return nil, errors.Newf("beach slope must be positive, got %g", slope)
	}

	out := series.New(raw.Columns)
	for i, t := range raw.Times {
		tideRow := tides.RowAt(t)
		if tideRow < 0 {
			continue
		}
		tide := tides.Value("tide", tideRow)
		if math.IsNaN(tide) {
			continue
		}
		row := series.Row{Time: t, Values: make(map[string]float64, len(raw.Columns))}
		if raw.HasSources() {
			row.Source = raw.Sources[i]
		}
		for _, c := range raw.Columns {
			row.Values[c] = raw.Value(c, i) + tide/slope
		}
		if err := out.Append(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

package compare

import (
	"math"

	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/collection"
	"github.com/tidemark/shoregrid/internal/series"
)

// Mismatch is one attribute whose deviation exceeds the tolerance, or a
// non-numeric attribute that differs. Reportable, never fatal: the caller
// decides whether mismatches fail the run.
type Mismatch struct {
	Key       string
	Attribute string
	Actual    string
	Expected  string
	Deviation float64
}

// Result is the outcome of comparing one artifact pair. The maximum
// deviations are recorded even when every attribute is within tolerance,
// for diagnostics.
type Result struct {
	Compared    int
	MissingKeys []string // present in expected only
	ExtraKeys   []string // present in actual only
	Mismatches  []Mismatch

	MaxAbsDeviation float64
	MaxRelDeviation float64
}

// Match reports whether the artifacts agree: same key set and every
// attribute within tolerance.
func (r *Result) Match() bool {
	return len(r.MissingKeys) == 0 && len(r.ExtraKeys) == 0 && len(r.Mismatches) == 0
}

// Collections key-aligns two canonical collections and compares each
// shared entity attribute by attribute. Numeric attributes compare with
// abs(a-b) <= tolerance; everything else compares exactly. Neither
// collection is mutated.
func Collections(actual, expected *collection.Collection, tolerance float64) *Result {
	res := &Result{}

	for _, e := range expected.Entities() {
		a := actual.Get(e.Key)
		if a == nil {
			res.MissingKeys = append(res.MissingKeys, e.Key)
			continue
		}
		res.Compared++
		compareAttrs(res, e.Key, a.Attrs, e.Attrs, tolerance)
	}
	for _, a := range actual.Entities() {
		if expected.Get(a.Key) == nil {
			res.ExtraKeys = append(res.ExtraKeys, a.Key)
		}
	}
	return res
}

func compareAttrs(res *Result, key string, actual, expected map[string]cty.Value, tolerance float64) {
	for _, name := range sortedNames(expected) {
		ev := expected[name]
		av, ok := actual[name]
		if !ok {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Key: key, Attribute: name, Actual: "<absent>", Expected: renderValue(ev),
			})
			continue
		}
		if ev.Type() == cty.Number && av.Type() == cty.Number {
			ef, _ := ev.AsBigFloat().Float64()
			af, _ := av.AsBigFloat().Float64()
			recordNumeric(res, key, name, af, ef, tolerance)
			continue
		}
		if !av.RawEquals(ev) {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Key: key, Attribute: name, Actual: renderValue(av), Expected: renderValue(ev),
			})
		}
	}
}

// SeriesPair key-aligns two tabular series on their timestamp index and
// compares each shared column value under the tolerance.
func SeriesPair(actual, expected *series.Series, tolerance float64) *Result {
	res := &Result{}

	for i, t := range expected.Times {
		row := actual.RowAt(t)
		if row < 0 {
			res.MissingKeys = append(res.MissingKeys, t.Format("2006-01-02 15:04:05"))
			continue
		}
		res.Compared++
		key := t.Format("2006-01-02 15:04:05")
		for _, c := range expected.Columns {
			ef := expected.Value(c, i)
			af := actual.Value(c, row)
			if math.IsNaN(ef) && math.IsNaN(af) {
				continue
			}
			recordNumeric(res, key, c, af, ef, tolerance)
		}
		if expected.HasSources() && actual.HasSources() && expected.Sources[i] != actual.Sources[row] {
			res.Mismatches = append(res.Mismatches, Mismatch{
				Key: key, Attribute: "satname", Actual: actual.Sources[row], Expected: expected.Sources[i],
			})
		}
	}
	for _, t := range actual.Times {
		if expected.RowAt(t) < 0 {
			res.ExtraKeys = append(res.ExtraKeys, t.Format("2006-01-02 15:04:05"))
		}
	}
	return res
}

func recordNumeric(res *Result, key, attr string, actual, expected, tolerance float64) {
	if math.IsNaN(expected) != math.IsNaN(actual) {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Key: key, Attribute: attr,
			Actual: renderFloat(actual), Expected: renderFloat(expected),
			Deviation: math.Inf(1),
		})
		return
	}
	if math.IsNaN(expected) {
		return
	}

	dev := math.Abs(actual - expected)
	if dev > res.MaxAbsDeviation {
		res.MaxAbsDeviation = dev
	}
	if expected != 0 {
		if rel := dev / math.Abs(expected); rel > res.MaxRelDeviation {
			res.MaxRelDeviation = rel
		}
	}
	if dev > tolerance {
		res.Mismatches = append(res.Mismatches, Mismatch{
			Key: key, Attribute: attr,
			Actual: renderFloat(actual), Expected: renderFloat(expected),
			Deviation: dev,
		})
	}
}

package series

import (
	"math"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// Resolution is the timestamp rounding applied to every series, matching
// the tide service's 10-minute sampling interval. Rounding happens once,
// at construction, so timestamps from different sources key-align.
const Resolution = 10 * time.Minute

// Round snaps a timestamp to the series resolution.
func Round(t time.Time) time.Time {
	return t.Round(Resolution).UTC()
}

// Series is a tabular time-series artifact: a timestamp index, an optional
// per-row source (satellite) name, and one float64 column per tracked
// entity. Missing values are NaN.
type Series struct {
	Times    []time.Time
	Sources  []string // empty when the series carries no source column
	Columns  []string
	values   map[string][]float64
	rowIndex map[time.Time]int
}

// New creates an empty series with the given columns.
func New(columns []string) *Series {
	s := &Series{
		Columns:  append([]string(nil), columns...),
		values:   make(map[string][]float64, len(columns)),
		rowIndex: make(map[time.Time]int),
	}
	for _, c := range s.Columns {
		s.values[c] = nil
	}
	return s
}

// Len returns the number of rows.
func (s *Series) Len() int {
	return len(s.Times)
}

// HasSources reports whether the series carries a source column.
func (s *Series) HasSources() bool {
	return len(s.Sources) > 0
}

// Value returns the value at (column, row).
func (s *Series) Value(column string, row int) float64 {
	col, ok := s.values[column]
	if !ok {
		return math.NaN()
	}
	return col[row]
}

// Column returns the full column, or nil. The slice aliases the series
// storage; writes through it update the series.
func (s *Series) Column(column string) []float64 {
	return s.values[column]
}

// RowAt returns the row index for a timestamp, or -1.
func (s *Series) RowAt(t time.Time) int {
	i, ok := s.rowIndex[Round(t)]
	if !ok {
		return -1
	}
	return i
}

// Row is one timestamped observation across all columns.
type Row struct {
	Time   time.Time
	Source string
	Values map[string]float64
}

// Append adds a row. The timestamp is rounded to the series resolution;
// appending a timestamp already present is an error — previously persisted
// rows are never overwritten (the incremental-fetch contract).
func (s *Series) Append(r Row) error {
	t := Round(r.Time)
	if _, dup := s.rowIndex[t]; dup {
		return errors.Newf("row for %s already present; series rows are append-only", t.Format(time.RFC3339))
	}
	s.rowIndex[t] = len(s.Times)
	s.Times = append(s.Times, t)
	if r.Source != "" || s.HasSources() {
		// Backfill empty sources if the column appears late.
		for len(s.Sources) < len(s.Times)-1 {
			s.Sources = append(s.Sources, "")
		}
		s.Sources = append(s.Sources, r.Source)
	}
	for _, c := range s.Columns {
		v, ok := r.Values[c]
		if !ok {
			v = math.NaN()
		}
		s.values[c] = append(s.values[c], v)
	}
	return nil
}

// Extend appends every row of other to s, preserving existing rows
// verbatim. A timestamp collision fails the whole extension before any row
// is added. Column sets must match.
func (s *Series) Extend(other *Series) error {
	if len(other.Columns) != len(s.Columns) {
		return errors.Newf("column mismatch: have %d columns, incoming has %d", len(s.Columns), len(other.Columns))
	}
	for i, c := range s.Columns {
		if other.Columns[i] != c {
			return errors.Newf("column mismatch at position %d: %q vs %q", i, c, other.Columns[i])
		}
	}
	for i := range other.Times {
		if _, dup := s.rowIndex[Round(other.Times[i])]; dup {
			return errors.Newf("incoming row %s collides with a persisted row", other.Times[i].Format(time.RFC3339))
		}
	}
	for i := range other.Times {
		row := Row{Time: other.Times[i], Values: make(map[string]float64, len(s.Columns))}
		if other.HasSources() {
			row.Source = other.Sources[i]
		}
		for _, c := range s.Columns {
			row.Values[c] = other.values[c][i]
		}
		if err := s.Append(row); err != nil {
			return err
		}
	}
	return nil
}

// SortByTime reorders rows chronologically. Persisted series are always
// written sorted.
func (s *Series) SortByTime() {
	order := make([]int, len(s.Times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Times[order[a]].Before(s.Times[order[b]])
	})

	times := make([]time.Time, len(order))
	var sources []string
	if s.HasSources() {
		sources = make([]string, len(order))
	}
	vals := make(map[string][]float64, len(s.Columns))
	for _, c := range s.Columns {
		vals[c] = make([]float64, len(order))
	}
	for newI, oldI := range order {
		times[newI] = s.Times[oldI]
		if sources != nil {
			sources[newI] = s.Sources[oldI]
		}
		for _, c := range s.Columns {
			vals[c][newI] = s.values[c][oldI]
		}
	}
	s.Times = times
	s.Sources = sources
	s.values = vals
	s.rowIndex = make(map[time.Time]int, len(times))
	for i, t := range times {
		s.rowIndex[t] = i
	}
}

package series

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	timeColumn   = "dates"
	sourceColumn = "satname"
	timeLayout   = "2006-01-02 15:04:05"
)

// LoadCSV reads a series from a CSV file with a 'dates' column, an
// optional 'satname' column, and one numeric column per entity.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening series file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading series file")
	}
	if len(records) == 0 {
		return nil, errors.Newf("series file %s has no header", path)
	}

	header := records[0]
	timeIdx, sourceIdx := -1, -1
	var columns []string
	colIdx := make(map[string]int)
	for i, name := range header {
		switch name {
		case timeColumn:
			timeIdx = i
		case sourceColumn:
			sourceIdx = i
		default:
			columns = append(columns, name)
			colIdx[name] = i
		}
	}
	if timeIdx < 0 {
		return nil, errors.Newf("series file %s has no %q column", path, timeColumn)
	}

	s := New(columns)
	for line, rec := range records[1:] {
		t, err := parseTime(rec[timeIdx])
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line+2)
		}
		row := Row{Time: t, Values: make(map[string]float64, len(columns))}
		if sourceIdx >= 0 {
			row.Source = rec[sourceIdx]
		}
		for _, c := range columns {
			cell := rec[colIdx[c]]
			if cell == "" {
				row.Values[c] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %s", line+2, c)
			}
			row.Values[c] = v
		}
		if err := s.Append(row); err != nil {
			return nil, errors.Wrapf(err, "line %d", line+2)
		}
	}
	return s, nil
}

// SaveCSV writes the series sorted by time. Values are rendered with
// enough precision to round-trip exactly; NaN renders as an empty cell.
func (s *Series) SaveCSV(path string) error {
	s.SortByTime()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating series directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating series file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{timeColumn}
	if s.HasSources() {
		header = append(header, sourceColumn)
	}
	header = append(header, s.Columns...)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "writing series header")
	}

	for i := range s.Times {
		rec := []string{s.Times[i].Format(timeLayout)}
		if s.HasSources() {
			rec = append(rec, s.Sources[i])
		}
		for _, c := range s.Columns {
			v := s.values[c][i]
			if math.IsNaN(v) {
				rec = append(rec, "")
			} else {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, "writing series row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flushing series file")
}

func parseTime(cell string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unparseable timestamp %q", cell)
}

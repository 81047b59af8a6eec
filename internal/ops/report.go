package ops

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
)

// ReportSummary is the machine-readable section of the packaged report.
type ReportSummary struct {
	RunID     string            `json:"run_id"`
	StartedAt string            `json:"started_at"`
	Sites     map[string]string `json:"sites"` // site -> final status
	Stages    []StageOutcome    `json:"stages"`
}

// StageOutcome records how one stage finished.
type StageOutcome struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// PackageReport writes the final run bundle: a summary.json plus a copy of
// every listed artifact, as a single zip. Entries are written in sorted
// path order so identical runs produce identical archives.
func PackageReport(path string, summary ReportSummary, files map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating report directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report archive")
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	sw, err := zw.Create("summary.json")
	if err != nil {
		return errors.Wrap(err, "creating summary entry")
	}
	enc := json.NewEncoder(sw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return errors.Wrap(err, "encoding summary")
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := addFile(zw, name, files[name]); err != nil {
			return err
		}
	}

	return errors.Wrap(zw.Close(), "finalizing report archive")
}

func addFile(zw *zip.Writer, name, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening report input %s", src)
	}
	defer in.Close()

	out, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "creating report entry %s", name)
	}
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copying report entry %s", name)
	}
	return nil
}

package determinism

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"

	"github.com/sells-group/exofeat/internal/partition"
)

// DiffSummary describes how two runs diverged.
type DiffSummary struct {
	RunIDA        string         `json:"run_id_a"`
	RunIDB        string         `json:"run_id_b"`
	FirstMismatch string         `json:"first_mismatch"`
	Artifacts     []ArtifactDiff `json:"artifacts"`
}

// ArtifactDiff is one artifact that differs between runs. Row and Column
// locate the first differing cell of a tabular artifact.
type ArtifactDiff struct {
	Path        string `json:"path"`
	DigestA     string `json:"digest_a,omitempty"`
	DigestB     string `json:"digest_b,omitempty"`
	Description string `json:"description"`
	Row         *int   `json:"row,omitempty"`
	Column      string `json:"column,omitempty"`
	ValueA      string `json:"value_a,omitempty"`
	ValueB      string `json:"value_b,omitempty"`
}

func diffRuns(dirA string, a map[string]digest.Digest, dirB string, b map[string]digest.Digest) *DiffSummary {
	paths := make([]string, 0, len(a)+len(b))
	for p := range a {
		paths = append(paths, p)
	}
	for p := range b {
		if _, ok := a[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	s := &DiffSummary{Artifacts: []ArtifactDiff{}}
	for _, p := range paths {
		da, inA := a[p]
		db, inB := b[p]
		d := ArtifactDiff{Path: p}
		switch {
		case !inB:
			d.DigestA = da.String()
			d.Description = "missing from run b"
		case !inA:
			d.DigestB = db.String()
			d.Description = "missing from run a"
		case da == db:
			continue
		default:
			d.DigestA, d.DigestB = da.String(), db.String()
			describe(&d, filepath.Join(dirA, filepath.FromSlash(p)), filepath.Join(dirB, filepath.FromSlash(p)))
		}
		if s.FirstMismatch == "" {
			s.FirstMismatch = p
		}
		s.Artifacts = append(s.Artifacts, d)
	}
	return s
}

// describe fills in where two versions of an artifact differ.
func describe(d *ArtifactDiff, pathA, pathB string) {
	dataA, errA := os.ReadFile(pathA)
	dataB, errB := os.ReadFile(pathB)
	if errA != nil || errB != nil {
		d.Description = "content differs (unreadable)"
		return
	}

	if path.Base(d.Path) == partition.ManifestFile {
		ma, errA := partition.ParseManifest(dataA)
		mb, errB := partition.ParseManifest(dataB)
		if errA == nil && errB == nil {
			d.Description = "manifest differs:\n" + cmp.Diff(ma, mb)
			return
		}
	}

	switch strings.ToLower(path.Ext(d.Path)) {
	case ".csv":
		ta, errA := partition.DecodeCSV(dataA)
		tb, errB := partition.DecodeCSV(dataB)
		if errA == nil && errB == nil && firstCell(d, ta, tb) {
			return
		}
	case ".json":
		ta, errA := partition.DecodeJSON(dataA)
		tb, errB := partition.DecodeJSON(dataB)
		if errA == nil && errB == nil && len(ta.Columns) > 0 && firstCell(d, ta, tb) {
			return
		}
	}
	d.Description = fmt.Sprintf("content differs (%d bytes vs %d bytes)", len(dataA), len(dataB))
}

// firstCell locates the first differing header or cell. Row is zero-based over
// data rows. It reports false when the decoded tables are identical.
func firstCell(d *ArtifactDiff, a, b partition.Table) bool {
	for j := 0; j < max(len(a.Columns), len(b.Columns)); j++ {
		ca, cb := at(a.Columns, j), at(b.Columns, j)
		if ca != cb {
			d.Description = fmt.Sprintf("header differs at column %d", j)
			d.Column, d.ValueA, d.ValueB = fmt.Sprintf("#%d", j), ca, cb
			return true
		}
	}
	for i := 0; i < max(len(a.Rows), len(b.Rows)); i++ {
		if i >= len(a.Rows) || i >= len(b.Rows) {
			row := i
			d.Row = &row
			d.Description = fmt.Sprintf("row count differs (%d vs %d)", len(a.Rows), len(b.Rows))
			return true
		}
		ra, rb := a.Rows[i], b.Rows[i]
		for j := 0; j < max(len(ra), len(rb)); j++ {
			va, vb := at(ra, j), at(rb, j)
			if va == vb {
				continue
			}
			row := i
			d.Row = &row
			d.Column = at(a.Columns, j)
			d.ValueA, d.ValueB = va, vb
			d.Description = fmt.Sprintf("first difference at row %d column %s", i, d.Column)
			return true
		}
	}
	return false
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

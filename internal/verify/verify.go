// Package verify re-derives a partitioned directory's structure from disk and
// checks it against the directory's manifest, without writing anything.
package verify

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/exofeat/internal/partition"
)

const readConcurrency = 8

// IntegrityError reports every way a directory disagrees with its manifest.
type IntegrityError struct {
	Dir    string
	Issues []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("verify: %s failed integrity check: %s", e.Dir, strings.Join(e.Issues, "; "))
}

// Check is VerifyCache returning an *IntegrityError when the directory does not verify.
func Check(ctx context.Context, dir string) error {
	ok, issues, err := VerifyCache(ctx, dir)
	if err != nil {
		return err
	}
	if !ok {
		return &IntegrityError{Dir: dir, Issues: issues}
	}
	return nil
}

// VerifyCache compares the partitions under dir with dir/manifest.json. A
// mismatch is reported through ok and issues; err is reserved for cancellation.
func VerifyCache(ctx context.Context, dir string) (bool, []string, error) {
	log := zap.L().With(zap.String("component", "verify"), zap.String("dir", dir))

	issues, err := verify(ctx, dir)
	if err != nil {
		return false, nil, err
	}
	if len(issues) > 0 {
		log.Warn("integrity check failed", zap.Strings("issues", issues))
		return false, issues, nil
	}
	log.Info("integrity check passed")
	return true, nil, nil
}

func verify(ctx context.Context, dir string) ([]string, error) {
	r, err := partition.NewReader(dir)
	if err != nil {
		return []string{fmt.Sprintf("cannot open %s: %v", dir, err)}, nil
	}

	m, err := r.Manifest()
	if err != nil {
		if eris.Is(err, partition.ErrNoManifest) {
			return []string{partition.ManifestFile + " missing"}, nil
		}
		return []string{fmt.Sprintf("unreadable manifest: %v", err)}, nil
	}
	if err := partition.CheckSchemaVersion(m.SchemaVersion); err != nil {
		return []string{err.Error()}, nil
	}

	var issues []string
	if h, err := partition.ContentHash(m); err != nil || h != m.ContentHash {
		issues = append(issues, fmt.Sprintf("content hash mismatch: manifest records %s but its own content hashes to %s", m.ContentHash, h))
	}

	onDisk, strays, err := r.Days()
	if err != nil {
		return append(issues, fmt.Sprintf("cannot list partitions: %v", err)), nil
	}
	for _, s := range strays {
		issues = append(issues, fmt.Sprintf("unexpected directory %s", s))
	}

	expected := make([]string, 0, len(m.RowCounts.RowsPerDay))
	for d := range m.RowCounts.RowsPerDay {
		expected = append(expected, d)
	}
	sort.Strings(expected)
	for _, d := range expected {
		if _, found := slices.BinarySearch(onDisk, d); !found {
			issues = append(issues, fmt.Sprintf("missing partition for day %s", d))
		}
	}
	for _, d := range onDisk {
		if _, found := slices.BinarySearch(expected, d); !found {
			issues = append(issues, fmt.Sprintf("unexpected partition for day %s", d))
		}
	}

	tables, readIssues, err := readDays(ctx, r, onDisk)
	if err != nil {
		return nil, err
	}
	issues = append(issues, readIssues...)

	summary := partition.NewSummary()
	consistent := true
	for i, d := range onDisk {
		t, ok := tables[i]
		if !ok {
			consistent = false
			continue
		}
		if !slices.Equal(t.Columns, m.Schema.Columns) {
			consistent = false
			issues = append(issues, fmt.Sprintf("schema drift on day %s: columns %v, manifest %v", d, t.Columns, m.Schema.Columns))
			continue
		}
		if want, listed := m.RowCounts.RowsPerDay[d]; listed && want != len(t.Rows) {
			issues = append(issues, fmt.Sprintf("row count drift on day %s: manifest %d, found %d", d, want, len(t.Rows)))
		}
		if err := summary.Observe(d, t); err != nil {
			consistent = false
		}
	}
	if !consistent {
		return issues, nil
	}

	derived, err := summary.Manifest(m.Kind, m.FileType, m.Format)
	if err != nil {
		return append(issues, fmt.Sprintf("cannot derive manifest: %v", err)), nil
	}
	if len(onDisk) > 0 {
		for _, col := range m.Schema.Columns {
			if got, want := derived.Schema.Dtypes[col], m.Schema.Dtypes[col]; got != want {
				issues = append(issues, fmt.Sprintf("dtype drift on column %s: manifest %s, found %s", col, want, got))
			}
		}
	}
	if derived.Coverage != m.Coverage {
		issues = append(issues, fmt.Sprintf("coverage drift: manifest %s..%s (%d days), found %s..%s (%d days)",
			m.Coverage.MinDay, m.Coverage.MaxDay, m.Coverage.NDays,
			derived.Coverage.MinDay, derived.Coverage.MaxDay, derived.Coverage.NDays))
	}
	if derived.RowCounts.TotalRows != m.RowCounts.TotalRows {
		issues = append(issues, fmt.Sprintf("total row drift: manifest %d, found %d", m.RowCounts.TotalRows, derived.RowCounts.TotalRows))
	}
	if derived.ContentHash != m.ContentHash {
		issues = append(issues, fmt.Sprintf("content hash mismatch: partitions hash to %s, manifest records %s", derived.ContentHash, m.ContentHash))
	}
	return issues, nil
}

// readDays reads partitions concurrently; results are keyed by position in days
// so the merge order never depends on scheduling.
func readDays(ctx context.Context, r *partition.Reader, days []string) (map[int]partition.Table, []string, error) {
	tables := make([]partition.Table, len(days))
	errs := make([]error, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, d := range days {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tables[i], errs[i] = r.ReadDay(d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "verify: read partitions")
	}

	out := make(map[int]partition.Table, len(days))
	var issues []string
	for i, d := range days {
		if errs[i] != nil {
			issues = append(issues, fmt.Sprintf("unreadable partition for day %s: %v", d, errs[i]))
			continue
		}
		out[i] = tables[i]
	}
	return out, issues, nil
}

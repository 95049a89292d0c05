// Package partition stores day-partitioned tables (day=YYYY-MM-DD/part-00000.ext)
// with a content-hashed manifest, writing each directory all-or-nothing.
package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/corpus"
)

const (
	dayPrefix  = "day="
	partPrefix = "part-"
)

// ErrNoManifest is returned when a partitioned directory has no manifest.json.
var ErrNoManifest = eris.New("partition: manifest not found")

// DayDir is the directory name of a day's partition.
func DayDir(day string) string { return dayPrefix + day }

// PartName is the name of the i-th part file of a partition.
func PartName(i int, format string) string { return fmt.Sprintf("%s%05d.%s", partPrefix, i, format) }

// ValidDay reports whether day is an ISO calendar day.
func ValidDay(day string) bool {
	d, ok := corpus.ParseDay(day)
	return ok && d == day
}

// Writer builds a partitioned directory in a hidden staging sibling and swaps it
// into place on Commit. Until Commit succeeds the previous directory, if any, is untouched.
type Writer struct {
	fs        billy.Filesystem
	name      string
	staging   string
	format    string
	summary   *Summary
	written   map[string]bool
	committed bool
	log       *zap.Logger
}

// NewWriter prepares a staging directory for outDir.
func NewWriter(outDir, format string) (*Writer, error) {
	format, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(outDir)
	if err != nil {
		return nil, eris.Wrapf(err, "partition: resolve %s", outDir)
	}

	name := filepath.Base(abs)
	w := &Writer{
		fs:      osfs.New(filepath.Dir(abs)),
		name:    name,
		staging: "." + name + ".staging",
		format:  format,
		summary: NewSummary(),
		written: make(map[string]bool),
		log:     zap.L().With(zap.String("component", "partition"), zap.String("dir", abs)),
	}

	if err := util.RemoveAll(w.fs, w.staging); err != nil {
		return nil, eris.Wrap(err, "partition: clear stale staging")
	}
	if err := w.fs.MkdirAll(w.staging, 0o755); err != nil {
		return nil, eris.Wrap(err, "partition: create staging")
	}
	return w, nil
}

// Format returns the part file format.
func (w *Writer) Format() string { return w.format }

// WritePartition writes the single part file of day's partition.
func (w *Writer) WritePartition(day string, t Table) error {
	if !ValidDay(day) {
		return eris.Errorf("partition: invalid day %q", day)
	}
	if w.written[day] {
		return eris.Errorf("partition: day %s written twice", day)
	}
	if err := w.summary.Observe(day, t); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if w.format == FormatJSON {
		local := NewSummary()
		if err := local.Observe(day, t); err != nil {
			return err
		}
		data, err = EncodeJSON(t, local.Dtypes())
	} else {
		data, err = EncodeCSV(t)
	}
	if err != nil {
		return err
	}

	path := filepath.Join(w.staging, DayDir(day), PartName(0, w.format))
	if err := util.WriteFile(w.fs, path, data, 0o644); err != nil {
		return eris.Wrapf(err, "partition: write %s", path)
	}
	w.written[day] = true
	return nil
}

// WriteArtifact writes an auxiliary top-level file next to the partitions.
func (w *Writer) WriteArtifact(name string, data []byte) error {
	if name == ManifestFile || strings.ContainsRune(name, filepath.Separator) {
		return eris.Errorf("partition: invalid artifact name %q", name)
	}
	if err := util.WriteFile(w.fs, filepath.Join(w.staging, name), data, 0o644); err != nil {
		return eris.Wrapf(err, "partition: write artifact %s", name)
	}
	return nil
}

// Manifest builds the manifest for everything written so far.
func (w *Writer) Manifest(kind, fileType string) (*Manifest, error) {
	return w.summary.Manifest(kind, fileType, w.format)
}

// Commit writes the manifest as the last file of the staging directory, then
// renames staging into place, replacing any previous directory.
func (w *Writer) Commit(m *Manifest) error {
	if w.committed {
		return eris.New("partition: already committed")
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := util.WriteFile(w.fs, filepath.Join(w.staging, ManifestFile), data, 0o644); err != nil {
		return eris.Wrap(err, "partition: write manifest")
	}

	old := "." + w.name + ".old"
	if err := util.RemoveAll(w.fs, old); err != nil {
		return eris.Wrap(err, "partition: clear previous backup")
	}
	_, err = w.fs.Stat(w.name)
	hadPrevious := err == nil
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "partition: stat output")
	}
	if hadPrevious {
		if err := w.fs.Rename(w.name, old); err != nil {
			return eris.Wrap(err, "partition: move previous output aside")
		}
	}
	if err := w.fs.Rename(w.staging, w.name); err != nil {
		if hadPrevious {
			_ = w.fs.Rename(old, w.name)
		}
		return eris.Wrap(err, "partition: swap staging into place")
	}
	w.committed = true

	if err := util.RemoveAll(w.fs, old); err != nil {
		w.log.Warn("failed to remove previous output", zap.Error(err))
	}
	w.log.Info("partitions committed",
		zap.Int("days", m.Coverage.NDays),
		zap.Int("rows", m.RowCounts.TotalRows),
		zap.String("content_hash", m.ContentHash),
	)
	return nil
}

// Abort discards the staging directory. It is a no-op after Commit.
func (w *Writer) Abort() error {
	if w.committed {
		return nil
	}
	if err := util.RemoveAll(w.fs, w.staging); err != nil {
		return eris.Wrap(err, "partition: remove staging")
	}
	return nil
}

// Reader reads a partitioned directory.
type Reader struct {
	fs  billy.Filesystem
	dir string
}

// NewReader opens dir for reading.
func NewReader(dir string) (*Reader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "partition: open %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("partition: %s is not a directory", dir)
	}
	return &Reader{fs: osfs.New(dir), dir: dir}, nil
}

// Dir returns the directory being read.
func (r *Reader) Dir() string { return r.dir }

// Manifest reads manifest.json. A missing manifest wraps ErrNoManifest.
func (r *Reader) Manifest() (*Manifest, error) {
	data, err := util.ReadFile(r.fs, ManifestFile)
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNoManifest, "in %s", r.dir)
	}
	if err != nil {
		return nil, eris.Wrap(err, "partition: read manifest")
	}
	return ParseManifest(data)
}

// Days lists the partition days on disk in order. Directories that look like
// partitions but do not name a valid day are returned as strays.
func (r *Reader) Days() (days []string, strays []string, err error) {
	entries, err := r.fs.ReadDir(".")
	if err != nil {
		return nil, nil, eris.Wrapf(err, "partition: list %s", r.dir)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dayPrefix) {
			continue
		}
		day := strings.TrimPrefix(e.Name(), dayPrefix)
		if ValidDay(day) {
			days = append(days, day)
		} else {
			strays = append(strays, e.Name())
		}
	}
	sort.Strings(days)
	sort.Strings(strays)
	return days, strays, nil
}

// ReadDay reads and concatenates every part file of day's partition.
func (r *Reader) ReadDay(day string) (Table, error) {
	dir := DayDir(day)
	entries, err := r.fs.ReadDir(dir)
	if err != nil {
		return Table{}, eris.Wrapf(err, "partition: list %s", dir)
	}

	var parts []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), partPrefix) {
			parts = append(parts, e.Name())
		}
	}
	if len(parts) == 0 {
		return Table{}, eris.Errorf("partition: no part files in %s", dir)
	}
	sort.Strings(parts)

	var out Table
	for i, name := range parts {
		t, err := r.readPart(filepath.Join(dir, name))
		if err != nil {
			return Table{}, err
		}
		if i == 0 {
			out.Columns = t.Columns
		} else if !slices.Equal(t.Columns, out.Columns) {
			return Table{}, eris.Errorf("partition: %s/%s columns differ from %s", dir, name, parts[0])
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

func (r *Reader) readPart(path string) (Table, error) {
	data, err := util.ReadFile(r.fs, path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "partition: read %s", path)
	}
	return decodeByExt(path, data)
}

// ReadAll concatenates every partition in day order.
func (r *Reader) ReadAll() (Table, error) {
	days, _, err := r.Days()
	if err != nil {
		return Table{}, err
	}
	var out Table
	for i, day := range days {
		t, err := r.ReadDay(day)
		if err != nil {
			return Table{}, err
		}
		if i == 0 {
			out.Columns = t.Columns
		} else if !slices.Equal(t.Columns, out.Columns) {
			return Table{}, eris.Errorf("partition: day %s columns differ from day %s", day, days[0])
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

// ReadArtifact reads an auxiliary top-level file.
func (r *Reader) ReadArtifact(name string) ([]byte, error) {
	data, err := util.ReadFile(r.fs, name)
	if err != nil {
		return nil, eris.Wrapf(err, "partition: read artifact %s", name)
	}
	return data, nil
}

// ReadTableFile reads a single CSV or JSON table file.
func ReadTableFile(path string) (Table, error) {
	fs := osfs.New(filepath.Dir(path))
	data, err := util.ReadFile(fs, filepath.Base(path))
	if err != nil {
		return Table{}, eris.Wrapf(err, "partition: read %s", path)
	}
	return decodeByExt(path, data)
}

func decodeByExt(path string, data []byte) (Table, error) {
	if strings.EqualFold(filepath.Ext(path), "."+FormatJSON) {
		return DecodeJSON(data)
	}
	return DecodeCSV(data)
}

// Package normalize converts audited raw corpora into canonical day partitions.
package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/fetcher"
	"github.com/sells-group/exofeat/internal/partition"
)

// DayColumn is the canonical day key, always the first output column.
const DayColumn = "day"

// GroupCountsFile holds the per-day event tallies of an events corpus.
const GroupCountsFile = "group_counts.csv"

// Settings are the tuning knobs of a Normalizer.
type Settings struct {
	StreamingThresholdBytes int64
	StreamingChunkRows      int
	GroupingKeys            []string
	SumColumns              []string
	AuditSampleRows         int
}

// Options select the corpus to normalize and where to write it.
type Options struct {
	RawDir      string
	OutDir      string
	Glob        string
	FormatHint  corpus.Hint
	WriteFormat string
}

// Normalizer converts EVENTS_RAW or DAILY_FEATURES_PRECOMPUTED corpora into
// canonical partitions with a manifest.
type Normalizer struct {
	settings Settings
	reader   fetcher.TableReader
	auditor  *corpus.Auditor
	log      *zap.Logger
}

// New creates a Normalizer. Data rows are read through reader; a nil reader reads the local filesystem.
func New(s Settings, reader fetcher.TableReader) *Normalizer {
	if reader == nil {
		reader = fetcher.FileReader{}
	}
	if s.StreamingChunkRows <= 0 {
		s.StreamingChunkRows = 100000
	}
	return &Normalizer{
		settings: s,
		reader:   reader,
		auditor:  corpus.NewAuditor(corpus.NewClassifier(nil, s.AuditSampleRows)),
		log:      zap.L().With(zap.String("component", "normalize")),
	}
}

// Normalize audits opts.RawDir and normalizes it into opts.OutDir.
func (n *Normalizer) Normalize(ctx context.Context, opts Options) (*partition.Manifest, error) {
	report, err := n.auditor.Audit(opts.RawDir, opts.Glob, opts.FormatHint)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: audit")
	}
	return n.FromReport(ctx, report, opts)
}

// FromReport normalizes the files of an existing audit report. Unsupported or
// mixed inputs are rejected before anything is written.
func (n *Normalizer) FromReport(ctx context.Context, report *corpus.CorpusReport, opts Options) (*partition.Manifest, error) {
	if len(report.Files) == 0 {
		return nil, eris.Errorf("normalize: no files match %q in %s", report.FileGlob, report.RawDir)
	}

	var kind corpus.FileType
	for _, a := range report.Files {
		if err := unsupported(a, kind); err != nil {
			return nil, eris.Wrap(err, "normalize: check inputs")
		}
		if kind == "" {
			kind = a.FileType
		}
	}

	var acc accumulator
	if kind == corpus.EventsRaw {
		acc = newEventAccumulator(report.Files, n.settings.GroupingKeys)
	} else {
		acc = newDailyAccumulator(report.Files, n.settings.SumColumns)
	}

	alias := dayAlias(report.Files)
	stats := &partition.IngestStats{Files: []string{}, ChunkedFiles: []string{}}
	for _, a := range report.Files {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "normalize: canceled")
		}
		if err := n.readFile(a, acc, alias, stats); err != nil {
			return nil, err
		}
	}
	acc.finish(stats)

	w, err := partition.NewWriter(opts.OutDir, opts.WriteFormat)
	if err != nil {
		return nil, err
	}
	m, err := n.write(w, acc, kind, stats)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			n.log.Warn("failed to remove staging", zap.Error(abortErr))
		}
		return nil, err
	}

	n.log.Info("corpus normalized",
		zap.String("file_type", string(kind)),
		zap.String("out_dir", opts.OutDir),
		zap.Int("files", len(stats.Files)),
		zap.Int("days", m.Coverage.NDays),
		zap.Int("rows", m.RowCounts.TotalRows),
		zap.Int("dropped_dates", stats.DroppedUnparseableDates),
		zap.Int("malformed_rows", stats.MalformedRows),
		zap.Int("duplicates_removed", stats.DuplicatesRemoved),
		zap.String("content_hash", m.ContentHash),
	)
	return m, nil
}

func (n *Normalizer) write(w *partition.Writer, acc accumulator, kind corpus.FileType, stats *partition.IngestStats) (*partition.Manifest, error) {
	days := acc.days()
	sort.Strings(days)
	for _, day := range days {
		if err := w.WritePartition(day, acc.table(day)); err != nil {
			return nil, err
		}
	}
	if extra, ok := acc.(artifactWriter); ok {
		if err := extra.writeArtifacts(w, days); err != nil {
			return nil, err
		}
	}

	m, err := w.Manifest(partition.KindCorpus, string(kind))
	if err != nil {
		return nil, err
	}
	m.Ingest = stats
	if err := w.Commit(m); err != nil {
		return nil, err
	}
	return m, nil
}

// readFile streams one file into acc. Files above the streaming threshold are
// read in bounded chunks; smaller ones in a single chunk.
func (n *Normalizer) readFile(a corpus.RawFileAudit, acc accumulator, alias string, stats *partition.IngestStats) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		return eris.Wrapf(err, "normalize: stat %s", a.Path)
	}

	chunk := 0
	name := filepath.Base(a.Path)
	stats.Files = append(stats.Files, name)
	if info.Size() > n.settings.StreamingThresholdBytes {
		chunk = n.settings.StreamingChunkRows
		stats.ChunkedFiles = append(stats.ChunkedFiles, name)
	}

	var src *source
	err = n.reader.ReadChunks(a.Path, a.Dialect, chunk, func(header []string, rows [][]string) error {
		if src == nil {
			src = newSource(a, corpus.ResolveHeader(header, a.Dialect), acc.columns(), alias)
			if src.dateIdx < 0 {
				return eris.Errorf("normalize: %s has no column %q", a.Path, a.DateColumn)
			}
		}
		for _, row := range rows {
			stats.RowsRead++
			if len(row) != src.width {
				stats.MalformedRows++
				continue
			}
			day, ok := corpus.ParseDay(row[src.dateIdx])
			if !ok {
				stats.DroppedUnparseableDates++
				continue
			}
			acc.add(src, day, row, stats)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "normalize: read %s", a.Path)
	}

	n.log.Debug("file read",
		zap.String("path", a.Path),
		zap.Int64("bytes", info.Size()),
		zap.Int("chunk_rows", chunk),
	)
	return nil
}

// source maps one file's columns onto the output columns.
type source struct {
	audit   corpus.RawFileAudit
	width   int
	dateIdx int
	idIdx   int
	outIdx  []int // output position of each source column, -1 if not carried
}

func newSource(a corpus.RawFileAudit, header, cols []string, alias string) *source {
	s := &source{audit: a, width: len(header), dateIdx: -1, idIdx: -1}
	for i, col := range header {
		if col == a.DateColumn && s.dateIdx < 0 {
			s.dateIdx = i
		}
		if a.IDColumn != "" && col == a.IDColumn && s.idIdx < 0 {
			s.idIdx = i
		}
	}

	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		pos[c] = i
	}
	s.outIdx = make([]int, len(header))
	for i, c := range header {
		s.outIdx[i] = -1
		if c == DayColumn {
			c = alias
		}
		if p, ok := pos[c]; ok && p > 0 && i != s.dateIdx {
			s.outIdx[i] = p
		}
	}
	return s
}

// outputColumns is day followed by the union of source columns in first-seen order.
// Each file's date column is consumed into day and not carried; any other column
// named day is carried under dayAlias.
func outputColumns(files []corpus.RawFileAudit) []string {
	alias := dayAlias(files)
	cols := []string{DayColumn}
	seen := map[string]bool{DayColumn: true}
	for _, a := range files {
		for _, c := range a.Columns {
			if c == a.DateColumn {
				continue
			}
			if c == DayColumn {
				c = alias
			}
			if seen[c] {
				continue
			}
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return cols
}

// dayAlias is the first day_N that no file uses as a column name.
func dayAlias(files []corpus.RawFileAudit) string {
	taken := make(map[string]bool)
	for _, a := range files {
		for _, c := range a.Columns {
			taken[c] = true
		}
	}
	for i := 1; ; i++ {
		if name := fmt.Sprintf("%s_%d", DayColumn, i); !taken[name] {
			return name
		}
	}
}

// accumulator merges rows from every file of a run, keyed by day.
type accumulator interface {
	columns() []string
	add(s *source, day string, row []string, stats *partition.IngestStats)
	finish(stats *partition.IngestStats)
	days() []string
	table(day string) partition.Table
}

type artifactWriter interface {
	writeArtifacts(w *partition.Writer, days []string) error
}

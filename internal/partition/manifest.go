package partition

import (
	_ "crypto/sha256" // registers the digest algorithm
	"encoding/json"
	"slices"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/opencontainers/go-digest"
	"github.com/rotisserie/eris"
)

// SchemaVersion is the manifest layout version written by this package.
const SchemaVersion = "1.0.0"

// SupportedSchema is the schema_version range readers of this build accept.
const SupportedSchema = "^1.0.0"

// ManifestFile is the manifest's name inside a partitioned directory.
const ManifestFile = "manifest.json"

// Manifest kinds.
const (
	KindCorpus = "corpus"
	KindJoined = "joined"
)

// Coverage is the day range a partitioned directory spans.
type Coverage struct {
	MinDay string `json:"min_day"`
	MaxDay string `json:"max_day"`
	NDays  int    `json:"n_days"`
}

// RowCounts are the total and per-day row counts.
type RowCounts struct {
	TotalRows  int            `json:"total_rows"`
	RowsPerDay map[string]int `json:"rows_per_day"`
}

// Schema is the ordered column list and each column's dtype.
type Schema struct {
	Columns []string          `json:"columns"`
	Dtypes  map[string]string `json:"dtypes"`
}

// IngestStats records what normalization read and dropped. Not covered by the content hash.
type IngestStats struct {
	Files                   []string `json:"files"`
	ChunkedFiles            []string `json:"chunked_files"`
	RowsRead                int      `json:"rows_read"`
	DroppedUnparseableDates int      `json:"dropped_unparseable_dates"`
	MalformedRows           int      `json:"malformed_rows"`
	DuplicatesRemoved       int      `json:"duplicates_removed"`
	InvalidValues           int      `json:"invalid_values"`
}

// Manifest describes a partitioned directory. It carries no wall-clock fields,
// so equal content yields byte-identical manifests.
type Manifest struct {
	SchemaVersion string            `json:"schema_version"`
	Kind          string            `json:"kind"`
	FileType      string            `json:"file_type,omitempty"`
	Format        string            `json:"format"`
	Coverage      Coverage          `json:"coverage"`
	RowCounts     RowCounts         `json:"row_counts"`
	Schema        Schema            `json:"schema"`
	Params        map[string]string `json:"params,omitempty"`
	Ingest        *IngestStats      `json:"ingest,omitempty"`
	ContentHash   string            `json:"content_hash"`
}

// ContentHash digests the sorted-key JSON of the schema, coverage and row counts.
func ContentHash(m *Manifest) (string, error) {
	payload := struct {
		Columns   []string          `json:"columns"`
		Dtypes    map[string]string `json:"dtypes"`
		Coverage  Coverage          `json:"coverage"`
		RowCounts RowCounts         `json:"row_counts"`
	}{m.Schema.Columns, m.Schema.Dtypes, m.Coverage, m.RowCounts}

	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return digest.FromBytes(canon).String(), nil
}

// canonicalJSON re-encodes v through generic maps so every object's keys are sorted.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "partition: marshal hash payload")
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, eris.Wrap(err, "partition: canonicalize hash payload")
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, eris.Wrap(err, "partition: marshal canonical payload")
	}
	return out, nil
}

// Marshal renders the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "partition: marshal manifest")
	}
	return append(data, '\n'), nil
}

// ParseManifest decodes a manifest.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "partition: parse manifest")
	}
	return &m, nil
}

// CheckSchemaVersion returns an error unless v satisfies SupportedSchema.
func CheckSchemaVersion(v string) error {
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return eris.Wrap(err, "partition: schema constraint")
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return eris.Errorf("unparseable schema_version %q", v)
	}
	if !c.Check(ver) {
		return eris.Errorf("unsupported schema_version %s (supported %s)", v, SupportedSchema)
	}
	return nil
}

// Summary accumulates the structural metadata of a partitioned table as
// partitions are observed, in any order.
type Summary struct {
	columns    []string
	kinds      map[string]string
	rowsPerDay map[string]int
}

// NewSummary creates an empty Summary.
func NewSummary() *Summary {
	return &Summary{kinds: make(map[string]string), rowsPerDay: make(map[string]int)}
}

// Observe folds one day's partition into the summary. Every partition must have
// the same columns in the same order.
func (s *Summary) Observe(day string, t Table) error {
	if s.columns == nil {
		s.columns = append([]string{}, t.Columns...)
	} else if !slices.Equal(s.columns, t.Columns) {
		return eris.Errorf("partition: day %s columns %v differ from %v", day, t.Columns, s.columns)
	}
	for _, row := range t.Rows {
		for j, v := range row {
			if v == "" || j >= len(t.Columns) {
				continue
			}
			col := t.Columns[j]
			if s.kinds[col] != DtypeString {
				s.kinds[col] = mergeKind(s.kinds[col], kindOf(v))
			}
		}
	}
	s.rowsPerDay[day] += len(t.Rows)
	return nil
}

// Columns returns the observed column order.
func (s *Summary) Columns() []string { return s.columns }

// Dtypes returns the dtype of every observed column.
func (s *Summary) Dtypes() map[string]string {
	out := make(map[string]string, len(s.columns))
	for _, c := range s.columns {
		k := s.kinds[c]
		if k == "" {
			k = DtypeString
		}
		out[c] = k
	}
	return out
}

// Manifest builds a manifest (with content hash) from everything observed.
func (s *Summary) Manifest(kind, fileType, format string) (*Manifest, error) {
	days := make([]string, 0, len(s.rowsPerDay))
	total := 0
	for d, n := range s.rowsPerDay {
		days = append(days, d)
		total += n
	}
	sort.Strings(days)

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		Kind:          kind,
		FileType:      fileType,
		Format:        format,
		RowCounts:     RowCounts{TotalRows: total, RowsPerDay: make(map[string]int, len(days))},
		Schema:        Schema{Columns: append([]string{}, s.columns...), Dtypes: s.Dtypes()},
	}
	for _, d := range days {
		m.RowCounts.RowsPerDay[d] = s.rowsPerDay[d]
	}
	if len(days) > 0 {
		m.Coverage = Coverage{MinDay: days[0], MaxDay: days[len(days)-1], NDays: len(days)}
	}

	hash, err := ContentHash(m)
	if err != nil {
		return nil, err
	}
	m.ContentHash = hash
	return m, nil
}

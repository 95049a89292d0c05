package normalize

import (
	"bytes"
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/partition"
)

// EventCountColumn holds the number of distinct events on a day.
const EventCountColumn = "event_count"

// DailyCounts turns a normalized EVENTS_RAW directory into a market-wide daily
// feature table: one row per day with event_count followed by a {key}_{value}
// count column for every grouping value seen anywhere in the corpus. Days where
// a value never occurred get "0".
func DailyCounts(dir string) (partition.Table, error) {
	r, err := partition.NewReader(dir)
	if err != nil {
		return partition.Table{}, err
	}
	m, err := r.Manifest()
	if err != nil {
		return partition.Table{}, err
	}
	if m.FileType != string(corpus.EventsRaw) {
		return partition.Table{}, eris.Errorf("normalize: daily counts need an %s corpus, %s holds %s", corpus.EventsRaw, dir, m.FileType)
	}

	data, err := r.ReadArtifact(GroupCountsFile)
	if err != nil {
		return partition.Table{}, err
	}
	cr := csv.NewReader(bytes.NewReader(data))
	if _, err := cr.Read(); err != nil {
		return partition.Table{}, eris.Wrap(err, "normalize: read group counts header")
	}

	var cols []string
	seen := make(map[string]bool)
	counts := make(map[string]map[string]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return partition.Table{}, eris.Wrap(err, "normalize: read group counts")
		}
		if len(rec) != 4 {
			return partition.Table{}, eris.Errorf("normalize: group counts row has %d fields, want 4", len(rec))
		}
		col := rec[1] + "_" + rec[2]
		if !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
		if counts[rec[0]] == nil {
			counts[rec[0]] = make(map[string]string)
		}
		counts[rec[0]][col] = rec[3]
	}
	sort.Strings(cols)

	days := make([]string, 0, len(m.RowCounts.RowsPerDay))
	for d := range m.RowCounts.RowsPerDay {
		days = append(days, d)
	}
	sort.Strings(days)

	t := partition.Table{Columns: append([]string{DayColumn, EventCountColumn}, cols...)}
	for _, d := range days {
		row := make([]string, 0, len(t.Columns))
		row = append(row, d, strconv.Itoa(m.RowCounts.RowsPerDay[d]))
		for _, c := range cols {
			v, ok := counts[d][c]
			if !ok {
				v = "0"
			}
			row = append(row, v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

package normalize

import (
	"bytes"
	"encoding/csv"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/partition"
)

// eventAccumulator keeps every distinct event of a day. Identity is the event id
// when the source file has one, otherwise the full canonical row.
type eventAccumulator struct {
	cols      []string
	idOut     int
	groupKeys []string
	groupIdx  []int
	byDay     map[string]*eventDay
}

type eventDay struct {
	seen map[string]struct{}
	rows [][]string
}

func newEventAccumulator(files []corpus.RawFileAudit, groupingKeys []string) *eventAccumulator {
	e := &eventAccumulator{cols: outputColumns(files), idOut: -1, byDay: make(map[string]*eventDay)}
	for _, a := range files {
		if a.IDColumn != "" {
			e.idOut = slices.Index(e.cols, a.IDColumn)
			break
		}
	}
	for _, k := range groupingKeys {
		if i := slices.Index(e.cols, k); i > 0 {
			e.groupKeys = append(e.groupKeys, k)
			e.groupIdx = append(e.groupIdx, i)
		}
	}
	return e
}

func (e *eventAccumulator) columns() []string { return e.cols }

func (e *eventAccumulator) add(s *source, day string, row []string, stats *partition.IngestStats) {
	out := make([]string, len(e.cols))
	out[0] = day
	for i, v := range row {
		if p := s.outIdx[i]; p >= 0 {
			out[p] = v
		}
	}

	key := corpus.EventKey(out, -1)
	if s.idIdx >= 0 {
		if id := strings.TrimSpace(row[s.idIdx]); id != "" {
			key = "id:" + id
		}
	}

	d, ok := e.byDay[day]
	if !ok {
		d = &eventDay{seen: make(map[string]struct{})}
		e.byDay[day] = d
	}
	if _, dup := d.seen[key]; dup {
		stats.DuplicatesRemoved++
		return
	}
	d.seen[key] = struct{}{}
	d.rows = append(d.rows, out)
}

func (e *eventAccumulator) finish(*partition.IngestStats) {}

func (e *eventAccumulator) days() []string {
	out := make([]string, 0, len(e.byDay))
	for d := range e.byDay {
		out = append(out, d)
	}
	return out
}

func (e *eventAccumulator) table(day string) partition.Table {
	rows := e.byDay[day].rows
	slices.SortFunc(rows, func(a, b []string) int {
		if e.idOut >= 0 {
			if c := compareIDs(a[e.idOut], b[e.idOut]); c != 0 {
				return c
			}
		}
		return slices.Compare(a, b)
	})
	return partition.Table{Columns: e.cols, Rows: rows}
}

// compareIDs orders numeric ids numerically and everything else lexically.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// writeArtifacts writes group_counts.csv: one (day, key, value, count) row per
// distinct value of each grouping key, ordered by day, key, value.
func (e *eventAccumulator) writeArtifacts(w *partition.Writer, days []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write([]string{DayColumn, "key", "value", "count"}); err != nil {
		return eris.Wrap(err, "normalize: write group counts header")
	}
	for _, day := range days {
		rows := e.byDay[day].rows
		for k, key := range e.groupKeys {
			counts := make(map[string]int)
			for _, row := range rows {
				counts[row[e.groupIdx[k]]]++
			}
			values := make([]string, 0, len(counts))
			for v := range counts {
				values = append(values, v)
			}
			sort.Strings(values)
			for _, v := range values {
				if err := cw.Write([]string{day, key, v, strconv.Itoa(counts[v])}); err != nil {
					return eris.Wrap(err, "normalize: write group counts")
				}
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "normalize: flush group counts")
	}
	return w.WriteArtifact(GroupCountsFile, buf.Bytes())
}

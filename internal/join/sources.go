package join

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/partition"
)

// Panel key columns.
const (
	DayColumn    = "day"
	SymbolColumn = "symbol"
)

// observation is one exogenous value: the raw text and its numeric value.
type observation struct {
	raw   string
	value decimal.Decimal
}

// exogenous is a market-wide daily series per feature.
type exogenous struct {
	features []string
	byDay    map[string][]*observation // nil entry means missing
	hash     string
}

// loadTable reads a partitioned directory (checking its manifest version when
// present) or a single table file.
func loadTable(path string) (partition.Table, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return partition.Table{}, "", eris.Wrapf(err, "join: open %s", path)
	}
	if !info.IsDir() {
		t, err := partition.ReadTableFile(path)
		return t, "", err
	}

	r, err := partition.NewReader(path)
	if err != nil {
		return partition.Table{}, "", err
	}
	hash := ""
	m, err := r.Manifest()
	switch {
	case err == nil:
		if err := partition.CheckSchemaVersion(m.SchemaVersion); err != nil {
			return partition.Table{}, "", eris.Wrapf(err, "join: %s", path)
		}
		hash = m.ContentHash
	case !eris.Is(err, partition.ErrNoManifest):
		return partition.Table{}, "", err
	}
	t, err := r.ReadAll()
	return t, hash, err
}

func loadExogenous(path, asOf string) (*exogenous, error) {
	t, hash, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	dayIdx := t.Index(DayColumn)
	if dayIdx < 0 {
		return nil, eris.Errorf("join: exogenous source %s has no %q column", path, DayColumn)
	}

	ex := &exogenous{byDay: make(map[string][]*observation), hash: hash}
	var featIdx []int
	for i, c := range t.Columns {
		if i != dayIdx {
			ex.features = append(ex.features, c)
			featIdx = append(featIdx, i)
		}
	}
	if len(ex.features) == 0 {
		return nil, eris.Errorf("join: exogenous source %s has no feature columns", path)
	}

	for _, row := range t.Rows {
		day, ok := corpus.ParseDay(row[dayIdx])
		if !ok {
			return nil, eris.Errorf("join: exogenous source %s has unparseable day %q", path, row[dayIdx])
		}
		if asOf != "" && day > asOf {
			continue
		}
		if _, dup := ex.byDay[day]; dup {
			return nil, eris.Errorf("join: exogenous source %s must have one row per day; %s repeats", path, day)
		}
		obs := make([]*observation, len(featIdx))
		for k, i := range featIdx {
			raw := row[i]
			if raw == "" {
				continue
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, eris.Errorf("join: exogenous feature %s on %s is not numeric: %q", ex.features[k], day, raw)
			}
			obs[k] = &observation{raw: raw, value: v}
		}
		ex.byDay[day] = obs
	}
	return ex, nil
}

// panel is the primary (day, symbol, ...) table.
type panel struct {
	columns []string
	dayIdx  int
	symIdx  int
	rows    [][]string
}

func loadPanel(path, asOf string) (*panel, error) {
	t, _, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	p := &panel{columns: t.Columns, dayIdx: t.Index(DayColumn), symIdx: t.Index(SymbolColumn)}
	if p.dayIdx < 0 || p.symIdx < 0 {
		return nil, eris.Errorf("join: panel %s needs %q and %q columns", path, DayColumn, SymbolColumn)
	}

	seen := make(map[[2]string]bool, len(t.Rows))
	for _, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, eris.Errorf("join: panel %s has a row with %d fields, want %d", path, len(row), len(t.Columns))
		}
		day, ok := corpus.ParseDay(row[p.dayIdx])
		if !ok {
			return nil, eris.Errorf("join: panel %s has unparseable day %q", path, row[p.dayIdx])
		}
		if asOf != "" && day > asOf {
			continue
		}
		key := [2]string{day, row[p.symIdx]}
		if seen[key] {
			return nil, eris.Errorf("join: panel %s has more than one row for %s on %s", path, key[1], day)
		}
		seen[key] = true

		out := append([]string(nil), row...)
		out[p.dayIdx] = day
		p.rows = append(p.rows, out)
	}
	return p, nil
}

package normalize

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/partition"
)

// dailyAccumulator reduces every day to a single row. Duplicate rows for a day
// collapse column-wise to the mean of their non-missing values, except columns
// configured as sums, which are added. Exact decimals keep the result
// independent of row and file order.
type dailyAccumulator struct {
	cols  []string
	sum   []bool
	byDay map[string]*dailyDay
}

type dailyDay struct {
	rows   int
	sums   []decimal.Decimal
	counts []int
}

func newDailyAccumulator(files []corpus.RawFileAudit, sumColumns []string) *dailyAccumulator {
	cols := outputColumns(files)
	sum := make([]bool, len(cols))
	for i, c := range cols {
		sum[i] = slices.Contains(sumColumns, c)
	}
	return &dailyAccumulator{cols: cols, sum: sum, byDay: make(map[string]*dailyDay)}
}

func (a *dailyAccumulator) columns() []string { return a.cols }

func (a *dailyAccumulator) add(s *source, day string, row []string, stats *partition.IngestStats) {
	d, ok := a.byDay[day]
	if !ok {
		d = &dailyDay{sums: make([]decimal.Decimal, len(a.cols)), counts: make([]int, len(a.cols))}
		a.byDay[day] = d
	}
	d.rows++
	for i, v := range row {
		p := s.outIdx[i]
		if p <= 0 {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dec, err := decimal.NewFromString(v)
		if err != nil {
			stats.InvalidValues++
			continue
		}
		d.sums[p] = d.sums[p].Add(dec)
		d.counts[p]++
	}
}

func (a *dailyAccumulator) finish(stats *partition.IngestStats) {
	for _, d := range a.byDay {
		stats.DuplicatesRemoved += d.rows - 1
	}
}

func (a *dailyAccumulator) days() []string {
	out := make([]string, 0, len(a.byDay))
	for d := range a.byDay {
		out = append(out, d)
	}
	return out
}

func (a *dailyAccumulator) table(day string) partition.Table {
	d := a.byDay[day]
	row := make([]string, len(a.cols))
	row[0] = day
	for p := 1; p < len(a.cols); p++ {
		switch {
		case d.counts[p] == 0:
		case a.sum[p]:
			row[p] = d.sums[p].String()
		default:
			row[p] = d.sums[p].Div(decimal.NewFromInt(int64(d.counts[p]))).String()
		}
	}
	return partition.Table{Columns: a.cols, Rows: [][]string{row}}
}

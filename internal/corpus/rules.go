package corpus

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Hint constrains classification to one file-type branch.
type Hint string

// Format hints.
const (
	HintAuto          Hint = "auto"
	HintEvents        Hint = "events"
	HintDailyFeatures Hint = "daily_features"
)

// ParseHint validates a format_hint value.
func ParseHint(s string) (Hint, error) {
	switch h := Hint(strings.ToLower(strings.TrimSpace(s))); h {
	case HintAuto, HintEvents, HintDailyFeatures:
		return h, nil
	case "":
		return HintAuto, nil
	default:
		return "", eris.Errorf("corpus: unknown format_hint %q (valid: auto, events, daily_features)", s)
	}
}

// profile is what the rules see of a file: its columns and a sample of its values.
type profile struct {
	columns    []string
	norm       []string
	rows       [][]string
	candidates []string
	dateIdx    int
	idIdx      int
	yearIdx    int
	eventCode  bool
	geoActor   bool
	hasGrain   bool
}

func newProfile(header []string, rows [][]string) *profile {
	p := &profile{columns: header, rows: rows, dateIdx: -1, idIdx: -1, yearIdx: -1}
	p.norm = make([]string, len(header))
	for i, col := range header {
		n := normalizeCol(col)
		p.norm[i] = n
		switch {
		case idColumns[n] && p.idIdx < 0:
			p.idIdx = i
		case eventCodeColumns[n]:
			p.eventCode = true
		case n == "year" && p.yearIdx < 0:
			p.yearIdx = i
		}
		if granularityColumns[n] {
			p.hasGrain = true
		}
		if isGeoActorColumn(n) {
			p.geoActor = true
		}
	}

	for _, cand := range dateCandidates {
		if i := slices.Index(p.norm, cand); i >= 0 {
			p.candidates = append(p.candidates, header[i])
		}
	}
	for i, n := range p.norm {
		if strings.Contains(n, "date") && !slices.Contains(dateCandidates, n) {
			p.candidates = append(p.candidates, header[i])
		}
	}
	if len(p.candidates) == 0 {
		// Headerless or oddly named: fall back to columns whose values are all dates.
		for i := range header {
			if p.dateShare(i) == 1 {
				p.candidates = append(p.candidates, header[i])
			}
		}
	}

	for _, cand := range p.candidates {
		i := slices.Index(header, cand)
		if len(rows) == 0 || p.dateShare(i) >= 0.5 {
			p.dateIdx = i
			break
		}
	}
	return p
}

// dateShare is the fraction of non-empty sampled values in col that parse as days.
func (p *profile) dateShare(col int) float64 {
	var n, ok int
	for _, row := range p.rows {
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		n++
		if _, parsed := ParseDay(row[col]); parsed {
			ok++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(ok) / float64(n)
}

func (p *profile) numeric(col int) bool {
	for _, row := range p.rows {
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return false
		}
	}
	return true
}

func (p *profile) dateColumn() string {
	if p.dateIdx < 0 {
		return ""
	}
	return p.columns[p.dateIdx]
}

// rule is one entry of the ordered classification list. The first rule whose
// hint set admits the caller's hint and whose match succeeds decides the type.
type rule struct {
	name     string
	fileType FileType
	hints    []Hint // nil admits every hint
	match    func(p *profile) bool
}

func (r rule) admits(h Hint) bool {
	return r.hints == nil || slices.Contains(r.hints, h)
}

var rules = []rule{
	{
		name:     "annual",
		fileType: AnnualAggregates,
		match: func(p *profile) bool {
			return p.yearIdx >= 0 && len(p.candidates) == 0 && !p.hasGrain
		},
	},
	{
		name:     "daily_features",
		fileType: DailyFeatures,
		hints:    []Hint{HintAuto, HintDailyFeatures},
		match: func(p *profile) bool {
			if p.dateIdx < 0 || p.idIdx >= 0 || p.eventCode || len(p.columns) < 2 {
				return false
			}
			for i := range p.columns {
				if i != p.dateIdx && !p.numeric(i) {
					return false
				}
			}
			return true
		},
	},
	{
		name:     "events",
		fileType: EventsRaw,
		hints:    []Hint{HintAuto, HintEvents},
		match: func(p *profile) bool {
			return p.dateIdx >= 0 && p.eventCode && p.geoActor
		},
	},
}

// classify runs the ordered rule list and returns the first matching rule.
func classify(p *profile, hint Hint) (rule, bool) {
	for _, r := range rules {
		if r.admits(hint) && r.match(p) {
			return r, true
		}
	}
	return rule{}, false
}

// missingSignal names what kept a file from matching any rule.
func missingSignal(p *profile, hint Hint) string {
	if p.dateIdx < 0 {
		return fmt.Sprintf("no recognizable date column (looked for %s or any *date* column)", strings.Join(dateCandidates, ", "))
	}
	msg := "no recognizable metric/event columns"
	switch hint {
	case HintEvents:
		msg += " (events need an event code column and a geo or actor column)"
	case HintDailyFeatures:
		msg += " (daily features need numeric columns and no event identifiers)"
	}
	return msg
}

package corpus

import (
	"strings"
	"time"
)

// DayLayout is the canonical calendar-day format.
const DayLayout = "2006-01-02"

// dayLayouts are tried in order when coercing a raw date value to a calendar day.
var dayLayouts = []string{
	DayLayout,
	"20060102",
	"2006/01/02",
	"01/02/2006",
	"20060102150405",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDay coerces a raw date value to its ISO calendar day (YYYY-MM-DD).
// Timestamps are truncated to the day they name, without time zone conversion.
func ParseDay(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dayLayouts {
		if len(layout) != len(s) && layout != time.RFC3339 {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DayLayout), true
		}
	}
	return "", false
}

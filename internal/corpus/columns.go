package corpus

import (
	"strings"

	"github.com/sells-group/exofeat/internal/fetcher"
)

// dateCandidates is the fixed, ordered list of column names tried as the date column.
var dateCandidates = []string{
	"day", "date", "sqldate", "event_date", "eventdate", "dateadded", "datetime", "timestamp",
}

var idColumns = map[string]bool{
	"globaleventid": true,
	"event_id":      true,
	"eventid":       true,
	"id":            true,
	"event_uid":     true,
}

var eventCodeColumns = map[string]bool{
	"eventcode":       true,
	"event_code":      true,
	"eventrootcode":   true,
	"event_root_code": true,
	"root_code":       true,
	"cameo_code":      true,
	"cameocode":       true,
	"eventbasecode":   true,
}

var granularityColumns = map[string]bool{
	"month":     true,
	"monthyear": true,
	"week":      true,
	"day":       true,
}

// normalizeCol lowercases and trims a header name for matching.
func normalizeCol(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}

func isGeoActorColumn(norm string) bool {
	switch norm {
	case "country", "country_code", "countrycode", "location":
		return true
	}
	return strings.Contains(norm, "actor") || strings.Contains(norm, "geo")
}

// gdeltExportColumns names the columns of a headerless GDELT 1.0 daily event export.
var gdeltExportColumns = func() []string {
	cols := []string{"GLOBALEVENTID", "SQLDATE", "MonthYear", "Year", "FractionDate"}
	for _, actor := range []string{"Actor1", "Actor2"} {
		for _, suffix := range []string{
			"Code", "Name", "CountryCode", "KnownGroupCode", "EthnicCode",
			"Religion1Code", "Religion2Code", "Type1Code", "Type2Code", "Type3Code",
		} {
			cols = append(cols, actor+suffix)
		}
	}
	cols = append(cols,
		"IsRootEvent", "EventCode", "EventBaseCode", "EventRootCode", "QuadClass",
		"GoldsteinScale", "NumMentions", "NumSources", "NumArticles", "AvgTone",
	)
	for _, geo := range []string{"Actor1Geo_", "Actor2Geo_", "ActionGeo_"} {
		for _, suffix := range []string{"Type", "FullName", "CountryCode", "ADM1Code", "Lat", "Long", "FeatureID"} {
			cols = append(cols, geo+suffix)
		}
	}
	return append(cols, "DATEADDED", "SOURCEURL")
}()

// ResolveHeader returns the column names to use for a file. Headerless files whose
// width matches the GDELT 1.0 export layout (with or without SOURCEURL) get the
// GDELT names; any other header is returned unchanged.
func ResolveHeader(header []string, d fetcher.Dialect) []string {
	if d.HasHeader {
		return header
	}
	switch len(header) {
	case len(gdeltExportColumns), len(gdeltExportColumns) - 1:
		out := make([]string, len(header))
		copy(out, gdeltExportColumns)
		return out
	}
	return header
}

package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const eventsHeader = "GLOBALEVENTID,SQLDATE,EventCode,EventRootCode,ActionGeo_CountryCode"

func TestClassify_Annual(t *testing.T) {
	dir := t.TempDir()
	for _, content := range []string{
		"Year,conflicts,protests\n2019,10,3\n2020,12,4\n",
		"year,value\n2021,1.5\n",
	} {
		path := writeFile(t, dir, "annual.csv", content)
		for _, hint := range []Hint{HintAuto, HintEvents, HintDailyFeatures} {
			a := NewClassifier(nil, 0).Classify(path, hint)
			assert.Equal(t, AnnualAggregates, a.FileType, hint)
			assert.Equal(t, VerdictUnusable, a.Readiness)
			assert.Equal(t, Annual, a.InferredFrequency)
			require.NotEmpty(t, a.Issues)
			assert.Contains(t, a.Issues[0], "annual")
		}
	}
}

func TestClassify_DailyFeatures(t *testing.T) {
	dir := t.TempDir()

	ready := writeFile(t, dir, "ready.csv", "day,tone,events\n2024-01-01,1.5,10\n2024-01-02,-0.5,12\n")
	a := NewClassifier(nil, 0).Classify(ready, HintAuto)
	assert.Equal(t, DailyFeatures, a.FileType)
	assert.Equal(t, ReadyStable, a.Readiness)
	assert.Equal(t, Daily, a.InferredFrequency)
	assert.Equal(t, "day", a.DateColumn)
	assert.Equal(t, []string{"day"}, a.CandidateDateColumns)
	assert.Empty(t, a.Issues)

	dup := writeFile(t, dir, "dup.csv", "day,metric\n2024-01-01,10\n2024-01-01,20\n2024-01-02,5\n")
	a = NewClassifier(nil, 0).Classify(dup, HintAuto)
	assert.Equal(t, DailyFeatures, a.FileType)
	assert.Equal(t, NeedsNormalization, a.Readiness)
	require.Len(t, a.Issues, 1)
	assert.Contains(t, a.Issues[0], "1 duplicate rows across 1 days")
}

func TestClassify_UnnamedIndexColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "indexed.csv", ",day,metric\n0,2024-01-01,1\n1,2024-01-02,2\n")

	a := NewClassifier(nil, 0).Classify(path, HintAuto)
	assert.Equal(t, DailyFeatures, a.FileType)
	assert.NotEqual(t, VerdictUnusable, a.Readiness)
	assert.True(t, a.Dialect.HasHeader)
	assert.Equal(t, []string{"column_1", "day", "metric"}, a.Columns)
	assert.Equal(t, "day", a.DateColumn)
}

func TestClassify_Events(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "events.csv", eventsHeader+"\n1,20240101,010,01,US\n2,20240101,020,02,FR\n")

	a := NewClassifier(nil, 0).Classify(path, HintAuto)
	assert.Equal(t, EventsRaw, a.FileType)
	assert.Equal(t, ReadyStable, a.Readiness)
	assert.Equal(t, "SQLDATE", a.DateColumn)
	assert.Equal(t, "GLOBALEVENTID", a.IDColumn)

	a = NewClassifier(nil, 0).Classify(path, HintDailyFeatures)
	assert.Equal(t, Unusable, a.FileType)
	require.Len(t, a.Issues, 1)
	assert.Contains(t, a.Issues[0], "no recognizable metric/event columns")
}

func TestClassify_EventsDuplicatesAndBadRows(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "events.csv", eventsHeader+"\n"+
		"1,20240101,010,01,US\n"+
		"1,20240101,010,01,US\n"+
		"2,not-a-date,010,01,US\n"+
		"3,20240102,010\n")

	a := NewClassifier(nil, 0).Classify(path, HintEvents)
	assert.Equal(t, EventsRaw, a.FileType)
	assert.Equal(t, NeedsNormalization, a.Readiness)
	assert.Equal(t, []string{
		"1 malformed rows (field count differs from header)",
		"1 rows with unparseable SQLDATE values",
		"1 duplicate events within a day",
	}, a.Issues)
}

func TestClassify_Unusable(t *testing.T) {
	dir := t.TempDir()

	a := NewClassifier(nil, 0).Classify(writeFile(t, dir, "names.csv", "name,city\nann,paris\n"), HintAuto)
	assert.Equal(t, Unusable, a.FileType)
	assert.Equal(t, VerdictUnusable, a.Readiness)
	require.Len(t, a.Issues, 1)
	assert.Contains(t, a.Issues[0], "no recognizable date column")

	a = NewClassifier(nil, 0).Classify(writeFile(t, dir, "mixed.csv", "date,label\n2024-01-01,hello\n"), HintAuto)
	assert.Equal(t, Unusable, a.FileType)
	assert.Contains(t, a.Issues[0], "no recognizable metric/event columns")

	a = NewClassifier(nil, 0).Classify(writeFile(t, dir, "empty.csv", ""), HintAuto)
	assert.Equal(t, Unusable, a.FileType)
	assert.Equal(t, []string{"empty file"}, a.Issues)

	a = NewClassifier(nil, 0).Classify(filepath.Join(dir, "missing.csv"), HintAuto)
	assert.Equal(t, Unusable, a.FileType)
	assert.Contains(t, a.Issues[0], "unreadable")
}

func TestClassify_HeaderlessGDELTExport(t *testing.T) {
	row := make([]string, len(gdeltExportColumns))
	for i := range row {
		row[i] = "x"
	}
	set := func(name, v string) {
		for i, c := range gdeltExportColumns {
			if c == name {
				row[i] = v
			}
		}
	}
	set("GLOBALEVENTID", "410412347")
	set("SQLDATE", "20240101")
	set("MonthYear", "202401")
	set("Year", "2024")
	set("DATEADDED", "20240102")

	path := writeFile(t, t.TempDir(), "20240101.export.CSV", strings.Join(row, "\t")+"\n")
	a := NewClassifier(nil, 0).Classify(path, HintAuto)
	assert.Equal(t, EventsRaw, a.FileType)
	assert.Equal(t, NeedsNormalization, a.Readiness)
	assert.Equal(t, "SQLDATE", a.DateColumn)
	assert.Equal(t, "GLOBALEVENTID", a.IDColumn)
	assert.Equal(t, []string{"SQLDATE", "DATEADDED", "FractionDate"}, a.CandidateDateColumns)
}

func TestAudit_ThreeEventFilesWorstVerdict(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", eventsHeader+"\n1,20240101,010,01,US\n2,20240102,020,02,FR\n")
	writeFile(t, dir, "b.csv", eventsHeader+"\n3,20240102,010,01,US\n4,20240103,020,02,DE\n")
	writeFile(t, dir, "c.csv", strings.ReplaceAll(eventsHeader, ",", "\t")+"\n5\t20240104\t010\t01\tUS\n6\t20240101\t030\t03\tGB\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	report, err := NewAuditor(nil).Audit(dir, "*.csv", HintAuto)
	require.NoError(t, err)
	require.Len(t, report.Files, 3)

	assert.Equal(t, filepath.Join(dir, "a.csv"), report.Files[0].Path)
	assert.Equal(t, ReadyStable, report.Files[0].Readiness)
	assert.Equal(t, ReadyStable, report.Files[1].Readiness)
	assert.Equal(t, NeedsNormalization, report.Files[2].Readiness)
	assert.Contains(t, report.Files[2].Issues[0], "delimiter")
	for _, f := range report.Files {
		assert.Equal(t, EventsRaw, f.FileType)
	}
	assert.Equal(t, NeedsNormalization, report.OverallVerdict)
}

func TestAudit_Errors(t *testing.T) {
	_, err := NewAuditor(nil).Audit(t.TempDir(), "*", Hint("weekly"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format_hint")

	_, err = NewAuditor(nil).Audit(filepath.Join(t.TempDir(), "nope"), "*", HintAuto)
	require.Error(t, err)

	_, err = NewAuditor(nil).Audit(t.TempDir(), "[", HintAuto)
	require.Error(t, err)
}

func TestAudit_EmptyDirIsReady(t *testing.T) {
	report, err := NewAuditor(nil).Audit(t.TempDir(), "*", HintAuto)
	require.NoError(t, err)
	assert.Empty(t, report.Files)
	assert.Equal(t, ReadyStable, report.OverallVerdict)
}

func TestReport_Serialization(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.tsv", "day\tmetric\n2024-01-01\t1\n")
	writeFile(t, dir, "b.csv", "Year,value\n2020,1\n")

	report, err := NewAuditor(nil).Audit(dir, "*", HintAuto)
	require.NoError(t, err)
	assert.Equal(t, VerdictUnusable, report.OverallVerdict)

	js, err := report.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"readiness_verdict": "NEEDS_NORMALIZATION"`)
	assert.Contains(t, string(js), `"file_type": "ANNUAL_AGGREGATES"`)

	fromJSON, err := ParseReport(js)
	require.NoError(t, err)
	assert.Equal(t, report, fromJSON)

	y, err := report.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(y), "overall_verdict: UNUSABLE")

	fromYAML, err := ParseReport(y)
	require.NoError(t, err)
	assert.Equal(t, report, fromYAML)
}

func TestWorse(t *testing.T) {
	assert.Equal(t, NeedsNormalization, Worse(ReadyStable, NeedsNormalization))
	assert.Equal(t, VerdictUnusable, Worse(VerdictUnusable, NeedsNormalization))
	assert.Equal(t, ReadyStable, Worse(ReadyStable, ReadyStable))
}

func TestParseHint(t *testing.T) {
	h, err := ParseHint("")
	require.NoError(t, err)
	assert.Equal(t, HintAuto, h)

	h, err = ParseHint("Daily_Features")
	require.NoError(t, err)
	assert.Equal(t, HintDailyFeatures, h)
}

func TestParseDay(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-05", "2024-03-05", true},
		{"20240305", "2024-03-05", true},
		{"2024/03/05", "2024-03-05", true},
		{"03/05/2024", "2024-03-05", true},
		{"20240305235959", "2024-03-05", true},
		{"2024-03-05 23:59:59", "2024-03-05", true},
		{"2024-03-05T23:59:59Z", "2024-03-05", true},
		{" 2024-03-05 ", "2024-03-05", true},
		{"2024", "", false},
		{"202403", "", false},
		{"2024-13-01", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDay(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// Package corpus audits raw exogenous corpora: it classifies each file of unknown
// schema and dialect and rolls the per-file verdicts up into a CorpusReport.
package corpus

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/exofeat/internal/fetcher"
)

// FileType is the kind of corpus a raw file holds.
type FileType string

// File types.
const (
	EventsRaw        FileType = "EVENTS_RAW"
	DailyFeatures    FileType = "DAILY_FEATURES_PRECOMPUTED"
	AnnualAggregates FileType = "ANNUAL_AGGREGATES"
	Unusable         FileType = "UNUSABLE"
)

// Normalizable reports whether files of this type can be normalized.
func (t FileType) Normalizable() bool {
	return t == EventsRaw || t == DailyFeatures
}

// Verdict is the readiness of a file or corpus for the join stage.
type Verdict string

// Readiness verdicts, from best to worst.
const (
	ReadyStable        Verdict = "READY_STABLE"
	NeedsNormalization Verdict = "NEEDS_NORMALIZATION"
	VerdictUnusable    Verdict = "UNUSABLE"
)

func (v Verdict) severity() int {
	switch v {
	case ReadyStable:
		return 0
	case NeedsNormalization:
		return 1
	default:
		return 2
	}
}

// Worse returns the worse of two verdicts.
func Worse(a, b Verdict) Verdict {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Frequency is the inferred temporal grain of a file.
type Frequency string

// Frequencies.
const (
	Daily   Frequency = "daily"
	Annual  Frequency = "annual"
	Unknown Frequency = "unknown"
)

// RawFileAudit is the result of classifying one raw file.
type RawFileAudit struct {
	Path                 string          `json:"path" yaml:"path"`
	FileType             FileType        `json:"file_type" yaml:"file_type"`
	Readiness            Verdict         `json:"readiness_verdict" yaml:"readiness_verdict"`
	CandidateDateColumns []string        `json:"candidate_date_columns" yaml:"candidate_date_columns"`
	InferredFrequency    Frequency       `json:"inferred_frequency" yaml:"inferred_frequency"`
	Issues               []string        `json:"issues" yaml:"issues"`
	Dialect              fetcher.Dialect `json:"dialect" yaml:"dialect"`
	Columns              []string        `json:"columns" yaml:"columns"`
	DateColumn           string          `json:"date_column,omitempty" yaml:"date_column,omitempty"`
	IDColumn             string          `json:"id_column,omitempty" yaml:"id_column,omitempty"`
}

// CorpusReport aggregates the audits of every file matched in one corpus.
type CorpusReport struct {
	RawDir         string         `json:"raw_dir" yaml:"raw_dir"`
	FileGlob       string         `json:"file_glob" yaml:"file_glob"`
	FormatHint     Hint           `json:"format_hint" yaml:"format_hint"`
	Files          []RawFileAudit `json:"files" yaml:"files"`
	OverallVerdict Verdict        `json:"overall_verdict" yaml:"overall_verdict"`
}

// Add appends an audit and folds its verdict into the overall verdict.
func (r *CorpusReport) Add(a RawFileAudit) {
	if r.OverallVerdict == "" {
		r.OverallVerdict = ReadyStable
	}
	r.Files = append(r.Files, a)
	r.OverallVerdict = Worse(r.OverallVerdict, a.Readiness)
}

// JSON renders the report as indented JSON.
func (r *CorpusReport) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "corpus: marshal report json")
	}
	return append(data, '\n'), nil
}

// YAML renders the report as YAML.
func (r *CorpusReport) YAML() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "corpus: marshal report yaml")
	}
	return data, nil
}

// ParseReport decodes a report previously rendered by JSON or YAML.
func ParseReport(data []byte) (*CorpusReport, error) {
	var r CorpusReport
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "corpus: parse report")
	}
	return &r, nil
}

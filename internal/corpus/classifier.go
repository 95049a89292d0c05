package corpus

import (
	_ "crypto/sha256" // registers the digest algorithm
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/fetcher"
)

// DefaultSampleRows is the number of data rows inspected to type columns.
const DefaultSampleRows = 200

const scanChunkRows = 50000

// Classifier assigns a FileType and readiness verdict to one raw file.
type Classifier struct {
	reader     fetcher.TableReader
	sampleRows int
	log        *zap.Logger
}

// NewClassifier creates a Classifier that samples sampleRows data rows per file.
func NewClassifier(reader fetcher.TableReader, sampleRows int) *Classifier {
	if reader == nil {
		reader = fetcher.FileReader{}
	}
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return &Classifier{
		reader:     reader,
		sampleRows: sampleRows,
		log:        zap.L().With(zap.String("component", "corpus.classifier")),
	}
}

// Classify inspects path and returns its audit. It never fails: a file that
// cannot be read or recognized is reported UNUSABLE with the reason as an issue.
func (c *Classifier) Classify(path string, hint Hint) RawFileAudit {
	audit := RawFileAudit{
		Path:              path,
		FileType:          Unusable,
		Readiness:         VerdictUnusable,
		InferredFrequency: Unknown,
	}

	d, err := fetcher.SniffDialect(path)
	if err != nil {
		audit.Issues = append(audit.Issues, fmt.Sprintf("unreadable: %v", err))
		return audit
	}
	audit.Dialect = d

	header, sample, err := fetcher.Sample(c.reader, path, d, c.sampleRows)
	if err != nil {
		audit.Issues = append(audit.Issues, fmt.Sprintf("unreadable: %v", err))
		return audit
	}
	if len(header) == 0 {
		audit.Issues = append(audit.Issues, "empty file")
		return audit
	}
	header = ResolveHeader(header, d)
	audit.Columns = header

	p := newProfile(header, sample)
	audit.CandidateDateColumns = p.candidates
	audit.DateColumn = p.dateColumn()

	r, ok := classify(p, hint)
	if !ok {
		audit.Issues = append(audit.Issues, missingSignal(p, hint))
		c.log.Debug("file unusable", zap.String("path", path), zap.Strings("issues", audit.Issues))
		return audit
	}

	audit.FileType = r.fileType
	if r.fileType == AnnualAggregates {
		audit.InferredFrequency = Annual
		audit.Issues = append(audit.Issues,
			fmt.Sprintf("annual aggregates keyed by %q cannot satisfy daily join granularity", header[p.yearIdx]))
		return audit
	}

	audit.InferredFrequency = Daily
	if r.fileType == EventsRaw && p.idIdx >= 0 {
		audit.IDColumn = header[p.idIdx]
	}

	for _, dev := range d.Deviations() {
		audit.Issues = append(audit.Issues, "dialect: "+dev)
	}

	st, err := c.scan(path, d, len(header), p, r.fileType)
	if err != nil {
		audit.FileType = Unusable
		audit.InferredFrequency = Unknown
		audit.Issues = append(audit.Issues, fmt.Sprintf("unreadable: %v", err))
		return audit
	}
	audit.Issues = append(audit.Issues, st.issues(audit.DateColumn, r.fileType)...)

	audit.Readiness = ReadyStable
	if len(audit.Issues) > 0 {
		audit.Readiness = NeedsNormalization
	}

	c.log.Debug("file classified",
		zap.String("path", path),
		zap.String("rule", r.name),
		zap.String("readiness", string(audit.Readiness)),
		zap.Int("rows", st.rows),
	)
	return audit
}

type scanStats struct {
	rows      int
	malformed int
	badDates  int
	dupRows   int
	dupDays   int
}

func (s scanStats) issues(dateCol string, ft FileType) []string {
	var out []string
	if s.malformed > 0 {
		out = append(out, fmt.Sprintf("%d malformed rows (field count differs from header)", s.malformed))
	}
	if s.badDates > 0 {
		out = append(out, fmt.Sprintf("%d rows with unparseable %s values", s.badDates, dateCol))
	}
	if s.dupRows > 0 {
		if ft == DailyFeatures {
			out = append(out, fmt.Sprintf("%d duplicate rows across %d days (expected one row per day)", s.dupRows, s.dupDays))
		} else {
			out = append(out, fmt.Sprintf("%d duplicate events within a day", s.dupRows))
		}
	}
	return out
}

// scan reads the whole file once to count duplicates, malformed rows and bad dates.
func (c *Classifier) scan(path string, d fetcher.Dialect, width int, p *profile, ft FileType) (scanStats, error) {
	var st scanStats
	perDay := make(map[string]int)
	seen := make(map[string]struct{})

	err := c.reader.ReadChunks(path, d, scanChunkRows, func(_ []string, rows [][]string) error {
		for _, row := range rows {
			st.rows++
			if len(row) != width {
				st.malformed++
				continue
			}
			day, ok := ParseDay(row[p.dateIdx])
			if !ok {
				st.badDates++
				continue
			}
			if ft == DailyFeatures {
				perDay[day]++
				continue
			}
			key := day + "\x00" + EventKey(row, p.idIdx)
			if _, dup := seen[key]; dup {
				st.dupRows++
				continue
			}
			seen[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return st, err
	}

	for _, n := range perDay {
		if n > 1 {
			st.dupDays++
			st.dupRows += n - 1
		}
	}
	return st, nil
}

// EventKey is the identity of an event row within its day: the id column when
// present, otherwise a hash of the full row.
func EventKey(row []string, idIdx int) string {
	if idIdx >= 0 && idIdx < len(row) && strings.TrimSpace(row[idIdx]) != "" {
		return "id:" + strings.TrimSpace(row[idIdx])
	}
	return "row:" + digest.FromString(strings.Join(row, "\x1f")).Encoded()
}

package corpus

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Auditor classifies every file of a corpus directory.
type Auditor struct {
	classifier *Classifier
	log        *zap.Logger
}

// NewAuditor creates an Auditor backed by the given classifier.
func NewAuditor(c *Classifier) *Auditor {
	if c == nil {
		c = NewClassifier(nil, 0)
	}
	return &Auditor{
		classifier: c,
		log:        zap.L().With(zap.String("component", "corpus.auditor")),
	}
}

// Audit classifies every regular file in rawDir matching glob, in lexicographic
// order, and returns the report with the worst per-file verdict as overall verdict.
func (a *Auditor) Audit(rawDir, glob string, hint Hint) (*CorpusReport, error) {
	hint, err := ParseHint(string(hint))
	if err != nil {
		return nil, err
	}
	if glob == "" {
		glob = "*"
	}

	info, err := os.Stat(rawDir)
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: stat raw dir %s", rawDir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("corpus: raw dir %s is not a directory", rawDir)
	}

	paths, err := MatchFiles(rawDir, glob)
	if err != nil {
		return nil, err
	}

	report := &CorpusReport{
		RawDir:         rawDir,
		FileGlob:       glob,
		FormatHint:     hint,
		Files:          []RawFileAudit{},
		OverallVerdict: ReadyStable,
	}
	for _, path := range paths {
		report.Add(a.classifier.Classify(path, hint))
	}

	a.log.Info("corpus audited",
		zap.String("raw_dir", rawDir),
		zap.String("glob", glob),
		zap.Int("files", len(report.Files)),
		zap.String("overall_verdict", string(report.OverallVerdict)),
	)
	return report, nil
}

// MatchFiles returns the regular, non-hidden files in dir matching glob, sorted.
func MatchFiles(dir, glob string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, eris.Wrapf(err, "corpus: bad glob %q", glob)
	}

	var files []string
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			return nil, eris.Wrapf(err, "corpus: stat %s", m)
		}
		if info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Package pipeline wires audit, normalization, the feature join and downstream
// hooks into one reproducible run.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/exofeat/internal/config"
	"github.com/sells-group/exofeat/internal/corpus"
	"github.com/sells-group/exofeat/internal/determinism"
	"github.com/sells-group/exofeat/internal/join"
	"github.com/sells-group/exofeat/internal/normalize"
	"github.com/sells-group/exofeat/internal/partition"
	"github.com/sells-group/exofeat/internal/runlog"
)

// Artifact names below a run's output directory.
const (
	AuditFile     = "audit.json"
	CorpusDir     = "corpus"
	ExogenousFile = "exogenous_daily.csv"
	JoinedDir     = "joined"
)

// Hook is a downstream stage (scoring, gating, reporting) run after the join.
// It may write further artifacts below Result.OutDir.
type Hook struct {
	Name string
	Run  func(ctx context.Context, res *Result) error
}

// Result is everything one run produced.
type Result struct {
	OutDir    string
	AsOf      string
	Report    *corpus.CorpusReport
	Corpus    *partition.Manifest
	Exogenous string       // daily source handed to the join
	Joined    *join.Result // nil when no market panel is configured
}

// Pipeline runs audit, normalize, join and hooks in order.
type Pipeline struct {
	cfg        *config.Config
	auditor    *corpus.Auditor
	normalizer *normalize.Normalizer
	joiner     *join.Engine
	ledger     runlog.Ledger
	hooks      []Hook
}

// New creates a Pipeline. A nil ledger records nothing.
func New(cfg *config.Config, ledger runlog.Ledger, hooks ...Hook) *Pipeline {
	if ledger == nil {
		ledger = runlog.Nop{}
	}
	return &Pipeline{
		cfg:     cfg,
		auditor: corpus.NewAuditor(corpus.NewClassifier(nil, cfg.Corpus.AuditSampleRows)),
		normalizer: normalize.New(normalize.Settings{
			StreamingThresholdBytes: cfg.Corpus.StreamingThresholdBytes,
			StreamingChunkRows:      cfg.Corpus.StreamingChunkRows,
			GroupingKeys:            cfg.Corpus.GroupingKeys,
			SumColumns:              cfg.Corpus.SumColumns,
			AuditSampleRows:         cfg.Corpus.AuditSampleRows,
		}, nil),
		joiner: join.NewEngine(),
		ledger: ledger,
		hooks:  hooks,
	}
}

// RunFunc adapts the pipeline to a determinism check.
func (p *Pipeline) RunFunc() determinism.RunFunc {
	return func(ctx context.Context, spec determinism.RunSpec) error {
		_, err := p.Run(ctx, spec.OutDir, spec.AsOf)
		return err
	}
}

// Run executes one full run into outDir. Every artifact of the run lands below outDir.
func (p *Pipeline) Run(ctx context.Context, outDir, asOf string) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("out_dir", outDir))
	start := time.Now()

	runID, err := p.ledger.Start(ctx, "pipeline", map[string]string{
		"raw_dir":     p.cfg.Corpus.RawDir,
		"market_path": p.cfg.Join.MarketPath,
		"as_of":       asOf,
	})
	if err != nil {
		log.Warn("pipeline: failed to record run start", zap.Error(err))
	}

	res, err := p.run(ctx, outDir, asOf, log)
	if err != nil {
		if runID != "" {
			if lerr := p.ledger.Fail(ctx, runID, err.Error()); lerr != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(lerr))
			}
		}
		return nil, err
	}

	if runID != "" {
		if lerr := p.ledger.Complete(ctx, runID, ledgerResult(res)); lerr != nil {
			log.Warn("pipeline: failed to record run completion", zap.Error(lerr))
		}
	}
	log.Info("pipeline: run complete",
		zap.String("run_id", runID),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, outDir, asOf string, log *zap.Logger) (*Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", outDir)
	}
	res := &Result{OutDir: outDir, AsOf: asOf}

	hint, err := corpus.ParseHint(p.cfg.Corpus.FormatHint)
	if err != nil {
		return nil, err
	}
	report, err := p.auditor.Audit(p.cfg.Corpus.RawDir, p.cfg.Corpus.FileGlob, hint)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: audit")
	}
	res.Report = report
	data, err := report.JSON()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(outDir, AuditFile), data, 0o644); err != nil {
		return nil, eris.Wrap(err, "pipeline: write audit")
	}
	log.Info("pipeline: audit complete", zap.String("verdict", string(report.OverallVerdict)), zap.Int("files", len(report.Files)))

	corpusDir := filepath.Join(outDir, CorpusDir)
	m, err := p.normalizer.FromReport(ctx, report, normalize.Options{
		RawDir:      p.cfg.Corpus.RawDir,
		OutDir:      corpusDir,
		Glob:        p.cfg.Corpus.FileGlob,
		FormatHint:  hint,
		WriteFormat: p.cfg.Corpus.WriteFormat,
	})
	if err != nil {
		return nil, err
	}
	res.Corpus = m

	res.Exogenous = corpusDir
	if m.FileType == string(corpus.EventsRaw) {
		t, err := normalize.DailyCounts(corpusDir)
		if err != nil {
			return nil, err
		}
		data, err := partition.EncodeCSV(t)
		if err != nil {
			return nil, err
		}
		res.Exogenous = filepath.Join(outDir, ExogenousFile)
		if err := os.WriteFile(res.Exogenous, data, 0o644); err != nil {
			return nil, eris.Wrap(err, "pipeline: write daily counts")
		}
	}

	if p.cfg.Join.MarketPath != "" {
		jr, err := p.joiner.BuildJoinedFeatures(ctx, join.Options{
			MarketPath:        p.cfg.Join.MarketPath,
			ExogenousPath:     res.Exogenous,
			OutDir:            filepath.Join(outDir, JoinedDir),
			Lags:              p.cfg.Join.Lags,
			RollingWindow:     p.cfg.Join.RollingWindow,
			RollingMean:       p.cfg.Join.RollingMean,
			RollingSum:        p.cfg.Join.RollingSum,
			RollingMinPeriods: p.cfg.Join.RollingMinPeriods,
			OutputFormat:      p.cfg.Join.OutputFormat,
			AsOf:              asOf,
		})
		if err != nil {
			return nil, err
		}
		res.Joined = jr
	} else {
		log.Info("pipeline: no market panel configured, skipping join")
	}

	for _, h := range p.hooks {
		if err := h.Run(ctx, res); err != nil {
			return nil, eris.Wrapf(err, "pipeline: hook %s", h.Name)
		}
	}
	return res, nil
}

// ledgerResult summarizes a run for the ledger; the joined output wins over the corpus.
func ledgerResult(res *Result) *runlog.Result {
	out := &runlog.Result{Rows: int64(res.Corpus.RowCounts.TotalRows), ContentHash: res.Corpus.ContentHash}
	if res.Joined != nil {
		out.Rows = int64(res.Joined.Rows)
		out.ContentHash = res.Joined.Manifest.ContentHash
	}
	if artifacts, err := determinism.Artifacts(res.OutDir); err == nil {
		out.Artifacts = make(map[string]string, len(artifacts))
		for p, d := range artifacts {
			out.Artifacts[p] = d.String()
		}
	}
	return out
}

// SummaryFile is written by SummaryHook.
const SummaryFile = "summary.json"

// Summary is the run report written by SummaryHook.
type Summary struct {
	AsOf              string `json:"as_of,omitempty"`
	OverallVerdict    string `json:"overall_verdict"`
	CorpusFileType    string `json:"corpus_file_type"`
	CorpusDays        int    `json:"corpus_days"`
	CorpusContentHash string `json:"corpus_content_hash"`
	JoinedPartitions  int    `json:"joined_partitions"`
	JoinedRows        int    `json:"joined_rows"`
	JoinedContentHash string `json:"joined_content_hash,omitempty"`
}

// SummaryHook writes summary.json next to the run's other artifacts.
func SummaryHook() Hook {
	return Hook{Name: "summary", Run: func(_ context.Context, res *Result) error {
		s := Summary{
			AsOf:              res.AsOf,
			OverallVerdict:    string(res.Report.OverallVerdict),
			CorpusFileType:    res.Corpus.FileType,
			CorpusDays:        res.Corpus.Coverage.NDays,
			CorpusContentHash: res.Corpus.ContentHash,
		}
		if res.Joined != nil {
			s.JoinedPartitions = res.Joined.Partitions
			s.JoinedRows = res.Joined.Rows
			s.JoinedContentHash = res.Joined.Manifest.ContentHash
		}
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return eris.Wrap(err, "pipeline: marshal summary")
		}
		return eris.Wrap(os.WriteFile(filepath.Join(res.OutDir, SummaryFile), append(data, '\n'), 0o644), "pipeline: write summary")
	}}
}

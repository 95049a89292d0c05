// Package determinism runs a pipeline twice under distinct run ids and proves
// the two runs produced byte-identical artifacts.
package determinism

import (
	"context"
	_ "crypto/sha256" // registers the digest algorithm
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Exit codes of a determinism check.
const (
	ExitMatch    = 0
	ExitMismatch = 2
)

// Files written under {WorkDir}/determinism_check.
const (
	CheckDir        = "determinism_check"
	ArtifactsDir    = "artifacts"
	ReportFile      = "determinism_report.json"
	DiffSummaryFile = "diff_summary.json"
)

// Args configure a check. Both runs see the same AsOf.
type Args struct {
	WorkDir string
	AsOf    string
}

// RunSpec is handed to each invocation of a RunFunc.
type RunSpec struct {
	RunID  string
	AsOf   string
	OutDir string // every artifact of the run goes below this directory
}

// RunFunc executes one full pipeline run.
type RunFunc func(ctx context.Context, spec RunSpec) error

// Report is the outcome of a check, persisted as determinism_report.json.
type Report struct {
	RunIDA       string `json:"run_id_a"`
	RunIDB       string `json:"run_id_b"`
	AsOf         string `json:"as_of,omitempty"`
	FingerprintA string `json:"fingerprint_a"`
	FingerprintB string `json:"fingerprint_b"`
	ArtifactsA   int    `json:"artifacts_a"`
	ArtifactsB   int    `json:"artifacts_b"`
	Matches      bool   `json:"matches"`

	// DiffSummary maps each differing artifact path to a description of the difference.
	DiffSummary     map[string]string `json:"diff_summary,omitempty"`
	DiffSummaryPath string            `json:"diff_summary_path,omitempty"`
}

// RunDeterminismCheck runs runFn twice and compares their fingerprints. It
// returns ExitMatch or ExitMismatch; a failing run is returned as an error.
func RunDeterminismCheck(ctx context.Context, args Args, runFn RunFunc) (int, *Report, error) {
	if runFn == nil {
		return 0, nil, eris.New("determinism: nil run function")
	}
	if args.WorkDir == "" {
		return 0, nil, eris.New("determinism: work dir is required")
	}
	log := zap.L().With(zap.String("component", "determinism"))
	root := filepath.Join(args.WorkDir, CheckDir)

	rep := &Report{RunIDA: uuid.NewString(), RunIDB: uuid.NewString(), AsOf: args.AsOf}
	runs := []struct {
		id          string
		fingerprint *string
		count       *int
		artifacts   map[string]digest.Digest
	}{
		{id: rep.RunIDA, fingerprint: &rep.FingerprintA, count: &rep.ArtifactsA},
		{id: rep.RunIDB, fingerprint: &rep.FingerprintB, count: &rep.ArtifactsB},
	}

	for i := range runs {
		r := &runs[i]
		out := filepath.Join(root, r.id, ArtifactsDir)
		if err := os.MkdirAll(out, 0o755); err != nil {
			return 0, nil, eris.Wrapf(err, "determinism: create %s", out)
		}

		log.Info("starting run", zap.String("run_id", r.id), zap.String("as_of", args.AsOf))
		if err := runFn(ctx, RunSpec{RunID: r.id, AsOf: args.AsOf, OutDir: out}); err != nil {
			return 0, nil, eris.Wrapf(err, "determinism: run %s", r.id)
		}

		artifacts, err := Artifacts(out)
		if err != nil {
			return 0, nil, err
		}
		r.artifacts = artifacts
		*r.fingerprint = Fingerprint(artifacts).String()
		*r.count = len(artifacts)
	}

	rep.Matches = rep.FingerprintA == rep.FingerprintB
	code := ExitMatch
	if !rep.Matches {
		code = ExitMismatch
		summary := diffRuns(
			filepath.Join(root, rep.RunIDA, ArtifactsDir), runs[0].artifacts,
			filepath.Join(root, rep.RunIDB, ArtifactsDir), runs[1].artifacts,
		)
		summary.RunIDA, summary.RunIDB = rep.RunIDA, rep.RunIDB
		path := filepath.Join(root, rep.RunIDB, DiffSummaryFile)
		if err := writeJSON(path, summary); err != nil {
			return 0, nil, err
		}
		rep.DiffSummaryPath = path
		rep.DiffSummary = make(map[string]string, len(summary.Artifacts))
		for _, d := range summary.Artifacts {
			rep.DiffSummary[d.Path] = d.Description
		}
		log.Warn("runs diverged",
			zap.String("first_mismatch", summary.FirstMismatch),
			zap.Int("artifacts_differing", len(summary.Artifacts)),
		)
	}

	if err := writeJSON(filepath.Join(root, ReportFile), rep); err != nil {
		return 0, nil, err
	}
	log.Info("determinism check complete",
		zap.Bool("matches", rep.Matches),
		zap.String("fingerprint_a", rep.FingerprintA),
		zap.String("fingerprint_b", rep.FingerprintB),
	)
	return code, rep, nil
}

// Artifacts digests every regular file below dir, keyed by slash-separated relative path.
func Artifacts(dir string) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck
		dg, err := digest.Canonical.FromReader(f)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = dg
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "determinism: digest artifacts in %s", dir)
	}
	return out, nil
}

// Fingerprint hashes the sorted "path\tdigest" lines of an artifact set.
func Fingerprint(artifacts map[string]digest.Digest) digest.Digest {
	paths := make([]string, 0, len(artifacts))
	for p := range artifacts {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\t')
		b.WriteString(artifacts[p].String())
		b.WriteByte('\n')
	}
	return digest.FromString(b.String())
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "determinism: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "determinism: write %s", path)
	}
	return nil
}

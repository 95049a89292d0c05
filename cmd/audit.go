package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/exofeat/internal/corpus"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Classify raw corpus files and report their quality",
	Long: "Samples every file under the raw directory, classifies it as events, daily features or " +
		"unsupported, and prints a corpus report. Nothing is written unless --out is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		applyCorpusFlags(cmd)

		hint, err := corpus.ParseHint(cfg.Corpus.FormatHint)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		out, _ := cmd.Flags().GetString("out")

		auditor := corpus.NewAuditor(corpus.NewClassifier(nil, cfg.Corpus.AuditSampleRows))
		report, err := auditor.Audit(cfg.Corpus.RawDir, cfg.Corpus.FileGlob, hint)
		if err != nil {
			return eris.Wrap(err, "audit")
		}

		var data []byte
		switch format {
		case "json":
			data, err = report.JSON()
		case "yaml":
			data, err = report.YAML()
		default:
			return eris.Errorf("audit: unknown output format %q (valid: json, yaml)", format)
		}
		if err != nil {
			return err
		}

		if out != "" {
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return eris.Wrap(err, "audit: write report")
			}
			fmt.Fprintf(os.Stderr, "Report written to %s (%d files, verdict %s)\n", out, len(report.Files), report.OverallVerdict)
			return nil
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

// addCorpusFlags registers the flags shared by commands that read a raw corpus.
func addCorpusFlags(cmd *cobra.Command) {
	cmd.Flags().String("raw-dir", "", "directory of raw corpus files (overrides corpus.raw_dir)")
	cmd.Flags().String("glob", "", "file glob inside the raw directory (overrides corpus.file_glob)")
	cmd.Flags().String("hint", "", "format hint: auto, events, daily_features (overrides corpus.format_hint)")
}

// applyCorpusFlags copies explicitly set corpus flags over the loaded config.
func applyCorpusFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("raw-dir") {
		cfg.Corpus.RawDir, _ = cmd.Flags().GetString("raw-dir")
	}
	if cmd.Flags().Changed("glob") {
		cfg.Corpus.FileGlob, _ = cmd.Flags().GetString("glob")
	}
	if cmd.Flags().Changed("hint") {
		cfg.Corpus.FormatHint, _ = cmd.Flags().GetString("hint")
	}
}

func init() {
	addCorpusFlags(auditCmd)
	auditCmd.Flags().String("output", "json", "report format: json or yaml")
	auditCmd.Flags().String("out", "", "write the report to this file instead of stdout")
	rootCmd.AddCommand(auditCmd)
}

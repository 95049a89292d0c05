package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/exofeat/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Check a partitioned directory against its manifest",
	Long:  "Re-derives coverage, row counts and schema from the partitions on disk and compares them with manifest.json.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := verify.Check(cmd.Context(), args[0])
		var ie *verify.IntegrityError
		if errors.As(err, &ie) {
			formatIssues(os.Stdout, ie)
			return &exitError{code: 1, msg: fmt.Sprintf("verify: %d issues in %s", len(ie.Issues), ie.Dir)}
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: ok\n", args[0])
		return nil
	},
}

// formatIssues writes one line per integrity issue to w.
func formatIssues(w io.Writer, ie *verify.IntegrityError) {
	_, _ = fmt.Fprintf(w, "%s: FAILED (%d issues)\n", ie.Dir, len(ie.Issues))
	for _, issue := range ie.Issues {
		_, _ = fmt.Fprintf(w, "  - %s\n", issue)
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

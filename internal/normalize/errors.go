package normalize

import (
	"fmt"
	"strings"

	"github.com/sells-group/exofeat/internal/corpus"
)

// UnsupportedInputError is returned, before anything is written, when a selected
// file cannot be normalized.
type UnsupportedInputError struct {
	Path     string
	FileType corpus.FileType
	Reason   string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("normalize: unsupported input %s (%s): %s", e.Path, e.FileType, e.Reason)
}

func unsupported(a corpus.RawFileAudit, first corpus.FileType) error {
	switch {
	case a.FileType == corpus.AnnualAggregates:
		return &UnsupportedInputError{
			Path:     a.Path,
			FileType: a.FileType,
			Reason:   "annual aggregates cannot be normalized to daily partitions",
		}
	case !a.FileType.Normalizable():
		return &UnsupportedInputError{
			Path:     a.Path,
			FileType: a.FileType,
			Reason:   strings.Join(a.Issues, "; "),
		}
	case first != "" && a.FileType != first:
		return &UnsupportedInputError{
			Path:     a.Path,
			FileType: a.FileType,
			Reason:   fmt.Sprintf("cannot be merged with %s files in the same run", first),
		}
	}
	return nil
}

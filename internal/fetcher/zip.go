package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// tabularExts are the archive members worth extracting into a raw corpus.
var tabularExts = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".xlsx": true,
}

// IsArchive reports whether path names a ZIP archive.
func IsArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}

// ExtractTabular extracts every tabular member of a ZIP archive flat into destDir,
// skipping directories and non-tabular members. Returns the extracted paths in archive order.
func ExtractTabular(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrap(err, "zip: create destination")
	}

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !tabularExts[strings.ToLower(filepath.Ext(f.Name))] {
			continue
		}
		path, err := extractMember(f, destDir)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}

	if len(extracted) == 0 {
		return nil, eris.Errorf("zip: no tabular files in %s", zipPath)
	}
	return extracted, nil
}

func extractMember(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, filepath.Base(f.Name))
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	if _, err := writeFile(destPath, rc); err != nil {
		return "", eris.Wrapf(err, "zip: extract %s", f.Name)
	}
	return destPath, nil
}

// Package fetcher reads raw tabular corpora (CSV, TSV, XLSX) and downloads them from HTTP, FTP, and ZIP sources.
package fetcher

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// Supported raw file formats and encodings.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "latin-1"
)

const sniffBytes = 64 << 10

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// delimiterCandidates are tried in order; ties go to the earlier entry.
var delimiterCandidates = []string{",", "\t", "|", ";"}

// Dialect describes how a raw tabular file is laid out on disk.
type Dialect struct {
	Format    string `json:"format" yaml:"format"`
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	HasHeader bool   `json:"has_header" yaml:"has_header"`
	QuoteAll  bool   `json:"quote_all" yaml:"quote_all"`
	Encoding  string `json:"encoding" yaml:"encoding"`
}

// CanonicalDialect is the layout every canonical partition file is written in:
// comma-delimited UTF-8 CSV with a header row and minimal quoting.
func CanonicalDialect() Dialect {
	return Dialect{
		Format:    FormatCSV,
		Delimiter: ",",
		HasHeader: true,
		Encoding:  EncodingUTF8,
	}
}

// IsCanonical reports whether d matches CanonicalDialect exactly.
func (d Dialect) IsCanonical() bool {
	return d == CanonicalDialect()
}

// Deviations lists every way d differs from the canonical dialect.
func (d Dialect) Deviations() []string {
	c := CanonicalDialect()
	var out []string
	if d.Format != c.Format {
		out = append(out, fmt.Sprintf("format %s (canonical %s)", d.Format, c.Format))
	}
	if d.Format == FormatCSV && d.Delimiter != c.Delimiter {
		out = append(out, fmt.Sprintf("delimiter %q (canonical %q)", d.Delimiter, c.Delimiter))
	}
	if !d.HasHeader {
		out = append(out, "header row missing")
	}
	if d.QuoteAll {
		out = append(out, "all fields quoted (canonical uses minimal quoting)")
	}
	if d.Encoding != c.Encoding {
		out = append(out, fmt.Sprintf("encoding %s (canonical %s)", d.Encoding, c.Encoding))
	}
	return out
}

func (d Dialect) comma() rune {
	if d.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(d.Delimiter)
	return r
}

// SniffDialect inspects the head of a file and infers its dialect.
func SniffDialect(path string) (Dialect, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return Dialect{}, err
		}
		d := Dialect{Format: FormatXLSX, HasHeader: true, Encoding: EncodingUTF8}
		if len(rows) > 0 {
			d.HasHeader = LooksLikeHeader(rows[0])
		}
		return d, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Dialect{}, eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, sniffBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return Dialect{}, eris.Wrapf(err, "csv: sniff %s", path)
	}
	return sniffText(buf[:n], n == sniffBytes), nil
}

func sniffText(buf []byte, truncated bool) Dialect {
	d := CanonicalDialect()
	buf = bytes.TrimPrefix(buf, utf8BOM)

	check := buf
	if truncated {
		// The last line may be cut mid-rune.
		if i := bytes.LastIndexByte(check, '\n'); i >= 0 {
			check = check[:i]
		}
	}
	if !utf8.Valid(check) {
		d.Encoding = EncodingLatin1
	}

	first := string(buf)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimSuffix(first, "\r")
	if first == "" {
		return d
	}

	d.Delimiter = sniffDelimiter(first)
	d.QuoteAll = allQuoted(first, d.Delimiter[0])

	r := csv.NewReader(strings.NewReader(first))
	r.Comma = d.comma()
	r.LazyQuotes = true
	if rec, err := r.Read(); err == nil {
		d.HasHeader = LooksLikeHeader(rec)
	}
	return d
}

func sniffDelimiter(line string) string {
	best, bestN := ",", 0
	for _, c := range delimiterCandidates {
		if n := len(splitOutsideQuotes(line, c[0])) - 1; n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

// splitOutsideQuotes splits line on delim, ignoring delimiters inside double quotes.
func splitOutsideQuotes(line string, delim byte) []string {
	var fields []string
	inQuotes := false
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case delim:
			if !inQuotes {
				fields = append(fields, line[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, line[start:])
}

func allQuoted(line string, delim byte) bool {
	for _, f := range splitOutsideQuotes(line, delim) {
		f = strings.TrimSpace(f)
		if len(f) < 2 || f[0] != '"' || f[len(f)-1] != '"' {
			return false
		}
	}
	return true
}

// LooksLikeHeader reports whether a first row reads as column names rather than data:
// at least one field is named and none is numeric or date-shaped. Blank names are
// allowed, as written for an unnamed index column.
func LooksLikeHeader(record []string) bool {
	named := false
	for _, field := range record {
		field = strings.TrimSpace(strings.TrimPrefix(field, "\ufeff"))
		if field == "" {
			continue
		}
		if looksLikeData(field) {
			return false
		}
		named = true
	}
	return named
}

func looksLikeData(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if s[0] < '0' || s[0] > '9' {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789-/:.TZ+ ", r) {
			return false
		}
	}
	return true
}

// ChunkFunc receives the header and the next batch of data rows, in file order.
type ChunkFunc func(header []string, rows [][]string) error

// ErrStop may be returned from a ChunkFunc to end a read early without error.
var ErrStop = eris.New("fetcher: stop reading")

// TableReader reads a raw tabular file in bounded row chunks.
// A chunkRows of zero or less reads the whole file in a single chunk.
type TableReader interface {
	ReadChunks(path string, d Dialect, chunkRows int, fn ChunkFunc) error
}

// FileReader is the TableReader backed by the local filesystem.
type FileReader struct{}

// ReadChunks implements TableReader.
func (FileReader) ReadChunks(path string, d Dialect, chunkRows int, fn ChunkFunc) error {
	return ReadChunks(path, d, chunkRows, fn)
}

// ReadChunks reads path according to d and hands rows to fn in chunks of at most
// chunkRows rows. Files without a header row get synthesized column_N names.
// fn is always called at least once, so an empty file still yields its header.
func ReadChunks(path string, d Dialect, chunkRows int, fn ChunkFunc) error {
	var err error
	if d.Format == FormatXLSX {
		err = readXLSXChunks(path, d, chunkRows, fn)
	} else {
		err = readCSVChunks(path, d, chunkRows, fn)
	}
	if err != nil && eris.Is(err, ErrStop) {
		return nil
	}
	return err
}

func readCSVChunks(path string, d Dialect, chunkRows int, fn ChunkFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "csv: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var src io.Reader = f
	if d.Encoding == EncodingLatin1 {
		src = charmap.ISO8859_1.NewDecoder().Reader(f)
	}

	reader := csv.NewReader(src)
	reader.Comma = d.comma()
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // ragged rows are counted as malformed by callers

	var (
		header  []string
		chunk   [][]string
		emitted bool
	)
	flush := func() error {
		emitted = true
		rows := chunk
		chunk = nil
		return fn(header, rows)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eris.Wrapf(err, "csv: read %s", path)
		}

		if header == nil {
			header = headerFor(record, d.HasHeader)
			if d.HasHeader {
				continue
			}
		}

		chunk = append(chunk, record)
		if chunkRows > 0 && len(chunk) >= chunkRows {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if len(chunk) > 0 || !emitted {
		return flush()
	}
	return nil
}

func readXLSXChunks(path string, d Dialect, chunkRows int, fn ChunkFunc) error {
	rows, err := ReadXLSX(path, XLSXOptions{})
	if err != nil {
		return err
	}

	var header []string
	if len(rows) > 0 {
		header = headerFor(rows[0], d.HasHeader)
		if d.HasHeader {
			rows = rows[1:]
		}
	}

	if chunkRows <= 0 || len(rows) == 0 {
		return fn(header, rows)
	}
	for start := 0; start < len(rows); start += chunkRows {
		end := min(start+chunkRows, len(rows))
		if err := fn(header, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func headerFor(record []string, hasHeader bool) []string {
	header := make([]string, len(record))
	for i, col := range record {
		if hasHeader {
			header[i] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		}
		if header[i] == "" {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	return header
}

// Sample returns the header and up to n leading data rows of a file.
func Sample(reader TableReader, path string, d Dialect, n int) ([]string, [][]string, error) {
	var (
		header []string
		rows   [][]string
	)
	err := reader.ReadChunks(path, d, n, func(h []string, chunk [][]string) error {
		header = h
		rows = chunk
		return ErrStop
	})
	if err != nil && !eris.Is(err, ErrStop) {
		return nil, nil, err
	}
	return header, rows, nil
}

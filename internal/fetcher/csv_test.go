package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRaw(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSniffDialect_Canonical(t *testing.T) {
	path := writeRaw(t, "a.csv", "day,value\n2024-01-01,1\n")

	d, err := SniffDialect(path)
	require.NoError(t, err)
	assert.True(t, d.IsCanonical())
	assert.Empty(t, d.Deviations())
}

func TestSniffDialect_Variants(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		delimiter string
		header    bool
		quoteAll  bool
		encoding  string
	}{
		{"tab", "day\tvalue\n2024-01-01\t1\n", "\t", true, false, EncodingUTF8},
		{"pipe", "day|value|other\n2024-01-01|1|2\n", "|", true, false, EncodingUTF8},
		{"headerless", "2024-01-01,1\n2024-01-02,2\n", ",", false, false, EncodingUTF8},
		{"quote all", "\"day\",\"value\"\n\"2024-01-01\",\"1\"\n", ",", true, true, EncodingUTF8},
		{"latin-1", "day,name\n2024-01-01,caf\xe9\n", ",", true, false, EncodingLatin1},
		{"bom", "\xef\xbb\xbfday,value\n2024-01-01,1\n", ",", true, false, EncodingUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := SniffDialect(writeRaw(t, "f.csv", tt.content))
			require.NoError(t, err)
			assert.Equal(t, FormatCSV, d.Format)
			assert.Equal(t, tt.delimiter, d.Delimiter)
			assert.Equal(t, tt.header, d.HasHeader)
			assert.Equal(t, tt.quoteAll, d.QuoteAll)
			assert.Equal(t, tt.encoding, d.Encoding)
		})
	}
}

func TestDeviations(t *testing.T) {
	d := Dialect{Format: FormatCSV, Delimiter: "\t", HasHeader: false, Encoding: EncodingUTF8}
	dev := d.Deviations()
	require.Len(t, dev, 2)
	assert.Contains(t, dev[0], "delimiter")
	assert.Equal(t, "header row missing", dev[1])
	assert.False(t, d.IsCanonical())
}

func TestLooksLikeHeader(t *testing.T) {
	assert.True(t, LooksLikeHeader([]string{"day", "value"}))
	assert.True(t, LooksLikeHeader([]string{"\ufeffSQLDATE", "EventCode"}))
	assert.False(t, LooksLikeHeader([]string{"2024-01-01", "1"}))
	assert.True(t, LooksLikeHeader([]string{"day", ""}))
	assert.True(t, LooksLikeHeader([]string{"", "day", "metric"}))
	assert.False(t, LooksLikeHeader([]string{"", ""}))
	assert.False(t, LooksLikeHeader([]string{"20240101", "x"}))
	assert.False(t, LooksLikeHeader(nil))
}

func TestReadChunks_Sizes(t *testing.T) {
	path := writeRaw(t, "a.csv", "day,v\n2024-01-01,1\n2024-01-02,2\n2024-01-03,3\n2024-01-04,4\n2024-01-05,5\n")

	var sizes []int
	err := ReadChunks(path, CanonicalDialect(), 2, func(header []string, rows [][]string) error {
		assert.Equal(t, []string{"day", "v"}, header)
		sizes = append(sizes, len(rows))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)

	sizes = nil
	err = ReadChunks(path, CanonicalDialect(), 0, func(_ []string, rows [][]string) error {
		sizes = append(sizes, len(rows))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, sizes)
}

func TestReadChunks_HeaderOnly(t *testing.T) {
	path := writeRaw(t, "a.csv", "day,v\n")

	calls := 0
	err := ReadChunks(path, CanonicalDialect(), 10, func(header []string, rows [][]string) error {
		calls++
		assert.Equal(t, []string{"day", "v"}, header)
		assert.Empty(t, rows)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReadChunks_HeaderlessAndLatin1(t *testing.T) {
	path := writeRaw(t, "a.csv", "2024-01-01,caf\xe9\n")
	d := Dialect{Format: FormatCSV, Delimiter: ",", HasHeader: false, Encoding: EncodingLatin1}

	var got [][]string
	var hdr []string
	err := ReadChunks(path, d, 0, func(header []string, rows [][]string) error {
		hdr = header
		got = rows
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"column_1", "column_2"}, hdr)
	assert.Equal(t, [][]string{{"2024-01-01", "café"}}, got)
}

func TestReadChunks_StopEarly(t *testing.T) {
	path := writeRaw(t, "a.csv", "day,v\n2024-01-01,1\n2024-01-02,2\n2024-01-03,3\n")

	calls := 0
	err := ReadChunks(path, CanonicalDialect(), 1, func(_ []string, _ [][]string) error {
		calls++
		return ErrStop
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReadChunks_MissingFile(t *testing.T) {
	err := ReadChunks(filepath.Join(t.TempDir(), "nope.csv"), CanonicalDialect(), 0, func([]string, [][]string) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: open")
}

func TestSample(t *testing.T) {
	path := writeRaw(t, "a.tsv", "day\tv\n2024-01-01\t1\n2024-01-02\t2\n2024-01-03\t3\n")
	d, err := SniffDialect(path)
	require.NoError(t, err)

	header, rows, err := Sample(FileReader{}, path, d, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"day", "v"}, header)
	assert.Equal(t, [][]string{{"2024-01-01", "1"}, {"2024-01-02", "2"}}, rows)
}

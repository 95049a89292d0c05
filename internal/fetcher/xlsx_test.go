package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "corpus.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"day", "tone"},
			{"", ""},
			{"2024-01-01", "1.5"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"day", "tone"}, {"2024-01-01", "1.5"}}, rows)

	rows, err = ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"2024-01-01", "1.5"}}, rows)
}

func TestReadXLSX_Sheets(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Data": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Data"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, rows)
}

func TestXLSX_DialectAndChunks(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"day", "tone"},
			{"2024-01-01", "1"},
			{"2024-01-02", "2"},
			{"2024-01-03", "3"},
		},
	})

	d, err := SniffDialect(path)
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, d.Format)
	assert.True(t, d.HasHeader)
	assert.False(t, d.IsCanonical())

	var sizes []int
	err = ReadChunks(path, d, 2, func(header []string, rows [][]string) error {
		assert.Equal(t, []string{"day", "tone"}, header)
		sizes = append(sizes, len(rows))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)
}

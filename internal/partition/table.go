package partition

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/exofeat/internal/corpus"
)

// Part file formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// ParseFormat validates a partition write format.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", eris.Errorf("partition: unknown format %q (valid: csv, json)", s)
	}
}

// Table is a rectangular block of rows. The empty string is a missing value.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of col, or -1.
func (t Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Column data types recorded in manifests.
const (
	DtypeInt64   = "int64"
	DtypeFloat64 = "float64"
	DtypeDate    = "date"
	DtypeString  = "string"
)

// kindOf is the narrowest dtype that holds v. Integers with leading zeros are
// codes (CAMEO, FIPS) and stay strings.
func kindOf(v string) string {
	if len(v) > 1 && v[0] == '0' && v[1] != '.' {
		return DtypeString
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return DtypeInt64
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return DtypeFloat64
	}
	if len(v) == len(corpus.DayLayout) {
		if d, ok := corpus.ParseDay(v); ok && d == v {
			return DtypeDate
		}
	}
	return DtypeString
}

// mergeKind widens a to also hold b. The empty kind means no value seen yet.
func mergeKind(a, b string) string {
	switch {
	case a == "" || a == b:
		return b
	case b == "":
		return a
	case (a == DtypeInt64 && b == DtypeFloat64) || (a == DtypeFloat64 && b == DtypeInt64):
		return DtypeFloat64
	default:
		return DtypeString
	}
}

// EncodeCSV renders t as comma-delimited UTF-8 CSV with a header row and minimal quoting.
func EncodeCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return nil, eris.Wrap(err, "partition: write csv header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, eris.Wrap(err, "partition: write csv rows")
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses data written by EncodeCSV.
func DecodeCSV(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return Table{}, eris.New("partition: empty csv")
	}
	if err != nil {
		return Table{}, eris.Wrap(err, "partition: read csv header")
	}
	rows, err := r.ReadAll()
	if err != nil {
		return Table{}, eris.Wrap(err, "partition: read csv rows")
	}
	return Table{Columns: header, Rows: rows}, nil
}

type jsonTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// EncodeJSON renders t as {"columns": [...], "rows": [[...], ...]}. Numeric cells
// of int64/float64 columns are written as JSON numbers, missing cells as null.
func EncodeJSON(t Table, dtypes map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	cols, err := json.Marshal(t.Columns)
	if err != nil {
		return nil, eris.Wrap(err, "partition: marshal columns")
	}
	buf.WriteString(`{"columns":`)
	buf.Write(cols)
	buf.WriteString(`,"rows":[`)
	for i, row := range t.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n[")
		for j, v := range row {
			if j > 0 {
				buf.WriteByte(',')
			}
			numeric := j < len(t.Columns) && (dtypes[t.Columns[j]] == DtypeInt64 || dtypes[t.Columns[j]] == DtypeFloat64)
			switch {
			case v == "":
				buf.WriteString("null")
			case numeric && isJSONNumber(v):
				buf.WriteString(v)
			default:
				s, err := json.Marshal(v)
				if err != nil {
					return nil, eris.Wrap(err, "partition: marshal cell")
				}
				buf.Write(s)
			}
		}
		buf.WriteByte(']')
	}
	buf.WriteString("]}\n")
	return buf.Bytes(), nil
}

func isJSONNumber(v string) bool {
	if v[0] != '-' && (v[0] < '0' || v[0] > '9') {
		return false
	}
	return json.Valid([]byte(v))
}

// DecodeJSON parses data written by EncodeJSON. Nulls become missing values.
func DecodeJSON(data []byte) (Table, error) {
	var jt jsonTable
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&jt); err != nil {
		return Table{}, eris.Wrap(err, "partition: decode json")
	}
	t := Table{Columns: jt.Columns, Rows: make([][]string, len(jt.Rows))}
	for i, row := range jt.Rows {
		out := make([]string, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case nil:
			case json.Number:
				out[j] = x.String()
			case string:
				out[j] = x
			case bool:
				out[j] = strconv.FormatBool(x)
			default:
				return Table{}, eris.Errorf("partition: unexpected json cell %v", v)
			}
		}
		t.Rows[i] = out
	}
	return t, nil
}

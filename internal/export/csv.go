package export

import (
	"bufio"
	"database/sql"
	"io"
	"strings"
)

// quoteField wraps a value in double quotes, doubling embedded quotes.
// Newlines are written as they are.
func quoteField(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func writeRecord(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quoteField(f)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// WriteCSV writes a quoted header followed by one quoted line per row.
// NULL values are written as empty quoted fields. It returns the number
// of data rows written.
func WriteCSV(out io.Writer, columns []string, rows *sql.Rows) (int64, error) {
	w := bufio.NewWriter(out)

	if err := writeRecord(w, columns); err != nil {
		return 0, err
	}

	values := make([]sql.RawBytes, len(columns))
	dest := make([]interface{}, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	fields := make([]string, len(columns))

	var count int64
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return count, err
		}
		for i, v := range values {
			fields[i] = string(v)
		}
		if err := writeRecord(w, fields); err != nil {
			return count, err
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return count, err
	}

	return count, w.Flush()
}

package csvfile

// The tokenizer is hand-rolled rather than encoding/csv because uploads in
// the wild are lenient: quotes appear mid-field, rows vary in width, and
// line endings mix CRLF, LF, and bare CR within one file. encoding/csv
// rejects several of these shapes outright; here every line must either
// tokenize or surface as a row-scoped error downstream.

// parseRows tokenizes raw CSV bytes into rows of fields. It handles
// double-quoted fields, doubled-quote escapes inside quotes, and CRLF, LF,
// and CR line endings. Fully-blank rows are discarded.
func parseRows(data []byte) [][]string {
	var (
		rows    [][]string
		row     []string
		field   []byte
		inQuote bool
	)

	endField := func() {
		row = append(row, string(field))
		field = field[:0]
	}

	endRow := func() {
		endField()
		if !blankRow(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(data); i++ {
		c := data[i]

		if inQuote {
			if c == '"' {
				if i+1 < len(data) && data[i+1] == '"' {
					// Doubled quote inside a quoted field is a literal quote
					field = append(field, '"')
					i++
					continue
				}
				inQuote = false
				continue
			}
			field = append(field, c)
			continue
		}

		switch c {
		case '"':
			if len(field) == 0 {
				inQuote = true
			} else {
				// Quote mid-field: keep it literal, tolerating sloppy input
				field = append(field, c)
			}
		case ',':
			endField()
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			endRow()
		case '\n':
			endRow()
		default:
			field = append(field, c)
		}
	}

	// Flush a final row without a trailing newline
	if len(field) > 0 || len(row) > 0 {
		endRow()
	}

	return rows
}

// blankRow reports whether every field in the row is empty.
func blankRow(row []string) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}

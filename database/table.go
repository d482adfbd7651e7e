package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// rowSource is the iteration surface of *sqlx.Rows.
type rowSource interface {
	Columns() ([]string, error)
	Next() bool
	SliceScan() ([]any, error)
	Err() error
}

// renderRows reads at most maxRows rows and renders them as a psql-style
// aligned table with a row count footer.
func renderRows(rows rowSource, maxRows int) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var data [][]string
	more := false
	for rows.Next() {
		if len(data) == maxRows {
			more = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return "", err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = cell(v)
		}
		data = append(data, cells)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return formatTable(cols, data, more), nil
}

// psqlStyle draws the header separator and column bars of psql's aligned
// format without an outer border.
func psqlStyle() table.Style {
	style := table.StyleDefault
	style.Format.Header = text.FormatDefault
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = true
	style.Options.SeparateHeader = true
	style.Options.SeparateRows = false
	return style
}

func formatTable(cols []string, data [][]string, truncated bool) string {
	t := table.NewWriter()
	t.SetStyle(psqlStyle())
	t.SuppressTrailingSpaces()

	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, cells := range data {
		row := make(table.Row, len(cells))
		for i, v := range cells {
			row[i] = v
		}
		t.AppendRow(row)
	}

	var b strings.Builder
	if rendered := t.Render(); rendered != "" {
		b.WriteString(rendered)
		b.WriteString("\n")
	}
	switch {
	case truncated:
		fmt.Fprintf(&b, "(first %d rows shown)", len(data))
	case len(data) == 1:
		b.WriteString("(1 row)")
	default:
		fmt.Fprintf(&b, "(%d rows)", len(data))
	}
	return b.String()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

package sqldb

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// result is a bounded query result with every cell already formatted.
type result struct {
	columns   []string
	types     []string
	rows      [][]string
	truncated bool
}

// readRows reads up to limit rows; truncated reports that more were available.
func readRows(rows *sql.Rows, limit int) (*result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &result{columns: cols, types: make([]string, len(cols))}
	if cts, err := rows.ColumnTypes(); err == nil {
		for i, ct := range cts {
			res.types[i] = ct.DatabaseTypeName()
		}
	}

	for rows.Next() {
		if len(res.rows) == limit {
			res.truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = formatValue(v)
		}
		res.rows = append(res.rows, row)
	}
	return res, rows.Err()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// render formats the result as a Markdown table.
func (r *result) render() string {
	if len(r.rows) == 0 {
		return "No rows returned.\n"
	}
	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(r.columns...).
		Rows(r.rows...)

	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\n")
	if r.truncated {
		fmt.Fprintf(&sb, "(showing first %d rows)\n", len(r.rows))
	}
	return sb.String()
}

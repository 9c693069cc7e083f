package duckdb

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/store"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func readerFor(f engine.Format) (string, error) {
	switch f {
	case engine.FormatParquet:
		return "read_parquet", nil
	case engine.FormatCSV:
		return "read_csv_auto", nil
	case engine.FormatJSON:
		return "read_json_auto", nil
	}
	return "", fmt.Errorf("unsupported file format %q", f)
}

// location converts a URI into a path DuckDB can read. file:// URIs become
// local paths; s3 and http(s) URIs pass through.
func location(uri string) (string, error) {
	if strings.HasPrefix(uri, "/") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", uri, err)
	}
	switch strings.ToLower(u.Scheme) {
	case store.SchemeFile:
		return u.Path, nil
	case store.SchemeS3, "http", "https":
		return uri, nil
	}
	return "", fmt.Errorf("%w: %q", engine.ErrUnsupportedLocation, uri)
}

// tableView builds the CREATE VIEW statement for a table handle whose data
// files are readable at paths. A table without files yields a typed, empty
// relation.
func tableView(alias string, h *table.Handle, paths []string) (string, error) {
	if len(paths) == 0 {
		if h.Schema.Len() == 0 {
			return "", fmt.Errorf("table %s has no files and no schema", h.Name)
		}
		cols := make([]string, len(h.Schema.Fields))
		for i, f := range h.Schema.Fields {
			cols[i] = fmt.Sprintf("CAST(NULL AS %s) AS %s", record.NormalizeType(f.Type), quoteIdent(f.Name))
		}
		return fmt.Sprintf("CREATE VIEW %s AS SELECT %s WHERE false", quoteIdent(alias), strings.Join(cols, ", ")), nil
	}

	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = quoteLiteral(p)
	}
	return fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_parquet([%s])",
		quoteIdent(alias), strings.Join(quoted, ", ")), nil
}

// trimStatement strips surrounding whitespace and trailing semicolons.
func trimStatement(sqlText string) (string, error) {
	text := strings.TrimSpace(sqlText)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	if text == "" {
		return "", errors.New("empty sql statement")
	}
	return text, nil
}

// limited wraps a statement so at most n rows are produced. Newlines keep a
// trailing line comment in the statement from swallowing the wrapper.
func limited(text string, n int) string {
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS lakejobs_q LIMIT %d", text, n)
}

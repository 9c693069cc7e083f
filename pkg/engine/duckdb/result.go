package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/record"
)

// Result is a planned statement; rows are read on Preview or Materialize.
type Result struct {
	session *Session
	sql     string
	schema  record.Schema
}

// Schema returns the result columns.
func (r *Result) Schema() record.Schema {
	return r.schema
}

// Preview reads at most n rows.
func (r *Result) Preview(ctx context.Context, n int) (record.Batch, error) {
	if n < 0 {
		n = 0
	}
	batches, err := r.read(ctx, limited(r.sql, n), n+1)
	if err != nil {
		return record.Batch{}, err
	}
	return record.Concat(r.schema, batches), nil
}

// Materialize reads all rows into batches.
func (r *Result) Materialize(ctx context.Context) ([]record.Batch, error) {
	return r.read(ctx, r.sql, r.session.batchSize)
}

func (r *Result) read(ctx context.Context, query string, batchSize int) ([]record.Batch, error) {
	rows, err := r.session.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	width := r.schema.Len()
	jsonCols := make([]bool, width)
	for i, f := range r.schema.Fields {
		jsonCols[i] = strings.EqualFold(f.Type, "JSON")
	}
	batches := make([]record.Batch, 0, 1)
	cur := record.Batch{Schema: r.schema}
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if jsonCols[i] {
				if vals[i], err = jsonText(v); err != nil {
					return nil, fmt.Errorf("column %q: %w", r.schema.Fields[i].Name, err)
				}
				continue
			}
			vals[i] = normalizeValue(v)
		}
		cur.Rows = append(cur.Rows, vals)
		if len(cur.Rows) >= batchSize {
			batches = append(batches, cur)
			cur = record.Batch{Schema: r.schema}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if len(cur.Rows) > 0 || len(batches) == 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}

// schemaOf derives a record schema from the column metadata of rows.
func schemaOf(rows *sql.Rows) (record.Schema, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return record.Schema{}, fmt.Errorf("reading result columns: %w", err)
	}
	fields := make([]record.Field, len(cols))
	for i, c := range cols {
		nullable, ok := c.Nullable()
		if !ok {
			nullable = true
		}
		typ := c.DatabaseTypeName()
		if typ == "" {
			typ = record.TypeVarchar
		}
		fields[i] = record.Field{Name: c.Name(), Type: typ, Nullable: nullable}
	}
	return record.NewSchema(fields...), nil
}

// normalizeValue folds driver-specific values onto plain Go types. Nested
// values (lists, structs, maps) keep their shape with normalized leaves.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int64, uint64, float64, time.Time:
		return x
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return new(big.Int).Set(x)
	case duckdb.Decimal:
		if x.Value == nil {
			return nil
		}
		return record.Decimal{Unscaled: new(big.Int).Set(x.Value), Scale: int(x.Scale)}
	case duckdb.UUID:
		return x.String()
	case *duckdb.UUID:
		return x.String()
	case duckdb.Interval:
		return map[string]any{"months": int64(x.Months), "days": int64(x.Days), "micros": x.Micros}
	case duckdb.Union:
		return map[string]any{"tag": x.Tag, "value": normalizeValue(x.Value)}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case duckdb.Map:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[record.FormatValue(normalizeValue(k))] = normalizeValue(e)
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}

// jsonText re-encodes a decoded JSON column value as JSON text.
func jsonText(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json value: %w", err)
	}
	return string(b), nil
}

// Verify interface compliance.
var _ engine.Result = (*Result)(nil)

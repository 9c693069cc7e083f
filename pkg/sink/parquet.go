package sink

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/types"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/txn2/mcp-lakejobs/pkg/record"
)

const (
	parquetParallelism = 2

	// Decimals up to this precision fit an INT64 unscaled value.
	maxInt64DecimalPrecision = 18

	// Wider decimals use 16-byte fixed-length values, enough for 38 digits.
	wideDecimalBytes = 16
)

// parquetMetadata renders the column metadata understood by parquet-go's
// CSV writer. Every column is OPTIONAL so NULLs round-trip. Columns that a
// data file cannot hold exactly fail with ErrUnsupportedColumn.
func parquetMetadata(schema record.Schema) ([]string, error) {
	if schema.Len() == 0 {
		return nil, fmt.Errorf("%w: schema has no columns", ErrUnsupportedColumn)
	}
	md := make([]string, len(schema.Fields))
	seen := make(map[string]bool, len(schema.Fields))
	for i, f := range schema.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrUnsupportedColumn, i)
		}
		if strings.ContainsAny(f.Name, ",=") {
			return nil, fmt.Errorf("%w: column name %q contains ',' or '='", ErrUnsupportedColumn, f.Name)
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: duplicate column name %q", ErrUnsupportedColumn, f.Name)
		}
		seen[key] = true

		typ, err := parquetType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrUnsupportedColumn, f.Name, err)
		}
		md[i] = fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, typ)
	}
	return md, nil
}

// parquetType returns the physical and converted type tags for a column.
func parquetType(t string) (string, error) {
	n := record.NormalizeType(t)
	switch n {
	case record.TypeBoolean:
		return "type=BOOLEAN", nil
	case record.TypeInteger:
		return "type=INT32", nil
	case record.TypeBigInt:
		return "type=INT64", nil
	case record.TypeUBigInt:
		return "type=INT64, convertedtype=UINT_64", nil
	case record.TypeFloat:
		return "type=FLOAT", nil
	case record.TypeDouble:
		return "type=DOUBLE", nil
	case record.TypeDate:
		return "type=INT32, convertedtype=DATE", nil
	case record.TypeTime:
		return "type=INT64, convertedtype=TIME_MICROS", nil
	case record.TypeTimestamp:
		return "type=INT64, convertedtype=TIMESTAMP_MICROS", nil
	case record.TypeBlob:
		return "type=BYTE_ARRAY", nil
	case record.TypeVarchar:
		return "type=BYTE_ARRAY, convertedtype=UTF8", nil
	}
	if p, sc, ok := record.DecimalParams(n); ok {
		if p <= maxInt64DecimalPrecision {
			return fmt.Sprintf("type=INT64, convertedtype=DECIMAL, scale=%d, precision=%d", sc, p), nil
		}
		return fmt.Sprintf("type=FIXED_LEN_BYTE_ARRAY, length=%d, convertedtype=DECIMAL, scale=%d, precision=%d",
			wideDecimalBytes, sc, p), nil
	}
	return "", fmt.Errorf("type %s cannot be stored in a data file", t)
}

// encodeParquet writes rows into one in-memory parquet file.
func encodeParquet(schema record.Schema, rows [][]any) ([]byte, error) {
	md, err := parquetMetadata(schema)
	if err != nil {
		return nil, err
	}
	colTypes := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		colTypes[i] = record.NormalizeType(f.Type)
	}

	var buf bytes.Buffer
	pw, err := writer.NewCSVWriter(md, writerfile.NewWriterFile(&buf), parquetParallelism)
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for r, row := range rows {
		if len(row) != len(colTypes) {
			return nil, fmt.Errorf("row %d has %d values, schema has %d columns", r, len(row), len(colTypes))
		}
		rec := make([]any, len(row))
		for i, v := range row {
			cv, err := parquetValue(v, colTypes[i])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %q: %w", ErrUnsupportedColumn, r, schema.Fields[i].Name, err)
			}
			rec[i] = cv
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("writing parquet row %d: %w", r, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finishing parquet file: %w", err)
	}
	return buf.Bytes(), nil
}

// parquetValue converts a row value to the Go type parquet-go expects for a
// column of the given logical type.
func parquetValue(v any, typ string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case record.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case record.TypeInteger:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("value %d overflows INTEGER", n)
		}
		return int32(n), nil
	case record.TypeBigInt:
		return toInt64(v)
	case record.TypeUBigInt:
		u, err := toUint64(v)
		if err != nil {
			return nil, err
		}
		// UINT_64 columns carry the bit pattern in an INT64.
		return int64(u), nil //nolint:gosec // reinterpreted, not narrowed
	case record.TypeFloat:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case record.TypeDouble:
		return toFloat64(v)
	case record.TypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected date, got %T", v)
		}
		y, m, d := t.Date()
		return int32(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400), nil
	case record.TypeTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time, got %T", v)
		}
		if t.Nanosecond()%1000 != 0 {
			return nil, fmt.Errorf("time %s has sub-microsecond precision", t.Format("15:04:05.999999999"))
		}
		return types.TimeToTIME_MICROS(t, false), nil
	case record.TypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected timestamp, got %T", v)
		}
		if t.Nanosecond()%1000 != 0 {
			return nil, fmt.Errorf("timestamp %s has sub-microsecond precision", t.Format(time.RFC3339Nano))
		}
		return t.UnixMicro(), nil
	case record.TypeBlob:
		switch b := v.(type) {
		case []byte:
			return string(b), nil
		case string:
			return b, nil
		}
		return nil, fmt.Errorf("expected blob, got %T", v)
	case record.TypeVarchar:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		case bool, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64,
			time.Time, *big.Int, record.Decimal:
			return record.FormatValue(s), nil
		}
		return nil, fmt.Errorf("expected text, got %T", v)
	}
	if p, sc, ok := record.DecimalParams(typ); ok {
		return decimalValue(v, p, sc)
	}
	return nil, fmt.Errorf("type %s cannot be stored in a data file", typ)
}

// decimalValue encodes v as the unscaled integer of a DECIMAL(p,s) column:
// an int64 up to 18 digits, a big-endian two's complement string beyond.
func decimalValue(v any, precision, scale int) (any, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	d, err = d.Rescale(scale)
	if err != nil {
		return nil, err
	}
	if d.Digits() > precision {
		return nil, fmt.Errorf("value %s overflows %s", d, record.DecimalType(precision, scale))
	}
	if precision <= maxInt64DecimalPrecision {
		return d.Unscaled.Int64(), nil
	}
	return types.StrIntToBinary(d.Unscaled.String(), "BigEndian", wideDecimalBytes, true), nil
}

func toDecimal(v any) (record.Decimal, error) {
	switch n := v.(type) {
	case record.Decimal:
		if n.Unscaled == nil {
			return record.Decimal{}, errors.New("decimal has no value")
		}
		return n, nil
	case *big.Int:
		return record.Decimal{Unscaled: new(big.Int).Set(n)}, nil
	case uint64:
		return record.Decimal{Unscaled: new(big.Int).SetUint64(n)}, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return record.Decimal{}, fmt.Errorf("value %v is not a decimal", n)
		}
		return record.DecimalFromFloat(n)
	case float32:
		return toDecimal(float64(n))
	case string:
		return record.ParseDecimal(n)
	}
	i, err := toInt64(v)
	if err != nil {
		return record.Decimal{}, fmt.Errorf("expected decimal, got %T", v)
	}
	return record.NewDecimal(i, 0), nil
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case *big.Int:
		if n.Sign() < 0 || !n.IsUint64() {
			return 0, fmt.Errorf("value %s overflows UBIGINT", n)
		}
		return n.Uint64(), nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("value %d overflows UBIGINT", i)
	}
	return uint64(i), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case *big.Int:
		if !n.IsInt64() {
			return 0, fmt.Errorf("value %s overflows BIGINT", n)
		}
		return n.Int64(), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return float64(i), nil
}

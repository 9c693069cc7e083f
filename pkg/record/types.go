package record

import (
	"fmt"
	"strconv"
	"strings"
)

// Logical column types. Engine-specific type names are folded onto these by
// NormalizeType so schemas from different producers compare equal. Decimals
// keep their parameters, e.g. "DECIMAL(10,2)".
const (
	TypeBoolean   = "BOOLEAN"
	TypeInteger   = "INTEGER"
	TypeBigInt    = "BIGINT"
	TypeUBigInt   = "UBIGINT"
	TypeFloat     = "FLOAT"
	TypeDouble    = "DOUBLE"
	TypeDecimal   = "DECIMAL"
	TypeVarchar   = "VARCHAR"
	TypeDate      = "DATE"
	TypeTime      = "TIME"
	TypeTimestamp = "TIMESTAMP"
	TypeBlob      = "BLOB"
)

// Decimal limits. Unparameterized decimals use the defaults.
const (
	MaxDecimalPrecision     = 38
	DefaultDecimalPrecision = 18
	DefaultDecimalScale     = 3
)

// DecimalType renders a decimal type name.
func DecimalType(precision, scale int) string {
	return fmt.Sprintf("%s(%d,%d)", TypeDecimal, precision, scale)
}

// NormalizeType maps an engine type name (e.g. "INT4", "NUMERIC(18, 3)",
// "TIMESTAMP WITH TIME ZONE") onto one of the logical types. Types without a
// logical counterpart (lists, structs, maps, intervals) come back upper-cased
// and fail Storable.
func NormalizeType(t string) string {
	orig := strings.ToUpper(strings.TrimSpace(t))
	if strings.HasSuffix(orig, "]") {
		return orig
	}
	u, params := orig, ""
	if i := strings.IndexByte(orig, '('); i >= 0 {
		u = strings.TrimSpace(orig[:i])
		params = strings.TrimSuffix(strings.TrimSpace(orig[i+1:]), ")")
	}

	switch u {
	case "BOOLEAN", "BOOL", "LOGICAL":
		return TypeBoolean
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "INT1", "INT2", "INT4", "SIGNED", "SHORT",
		"UTINYINT", "USMALLINT":
		return TypeInteger
	case "BIGINT", "INT8", "LONG", "UINTEGER":
		return TypeBigInt
	case "UBIGINT":
		return TypeUBigInt
	case "HUGEINT", "UHUGEINT", "INT128", "UINT128":
		return DecimalType(MaxDecimalPrecision, 0)
	case "FLOAT", "FLOAT4", "REAL":
		return TypeFloat
	case "DOUBLE", "FLOAT8":
		return TypeDouble
	case "DECIMAL", "NUMERIC":
		p, s, ok := parseDecimalParams(params)
		if !ok {
			return orig
		}
		return DecimalType(p, s)
	case "DATE":
		return TypeDate
	case "TIME", "TIME WITHOUT TIME ZONE":
		return TypeTime
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return TypeBlob
	case "VARCHAR", "CHAR", "BPCHAR", "TEXT", "STRING", "NVARCHAR", "UUID", "JSON", "ENUM", "NULL", "SQLNULL", "":
		return TypeVarchar
	case "DATETIME":
		return TypeTimestamp
	}
	if strings.HasPrefix(u, "TIMESTAMP") {
		return TypeTimestamp
	}
	return orig
}

// parseDecimalParams parses "p,s", "p" or "" into a precision and scale.
func parseDecimalParams(params string) (int, int, bool) {
	if params == "" {
		return DefaultDecimalPrecision, DefaultDecimalScale, true
	}
	ps, ss, _ := strings.Cut(params, ",")
	p, err := strconv.Atoi(strings.TrimSpace(ps))
	if err != nil {
		return 0, 0, false
	}
	s := 0
	if ss != "" {
		if s, err = strconv.Atoi(strings.TrimSpace(ss)); err != nil {
			return 0, 0, false
		}
	}
	if p < 1 || p > MaxDecimalPrecision || s < 0 || s > p {
		return 0, 0, false
	}
	return p, s, true
}

// DecimalParams returns the precision and scale of a decimal type.
func DecimalParams(t string) (precision, scale int, ok bool) {
	n := NormalizeType(t)
	if !strings.HasPrefix(n, TypeDecimal+"(") {
		return 0, 0, false
	}
	return parseDecimalParams(strings.TrimSuffix(strings.TrimPrefix(n, TypeDecimal+"("), ")"))
}

// Storable reports whether t normalizes onto a logical type that data files
// can hold exactly.
func Storable(t string) bool {
	switch n := NormalizeType(t); n {
	case TypeBoolean, TypeInteger, TypeBigInt, TypeUBigInt, TypeFloat, TypeDouble,
		TypeVarchar, TypeDate, TypeTime, TypeTimestamp, TypeBlob:
		return true
	default:
		_, _, ok := DecimalParams(n)
		return ok
	}
}

// NormalizeSchema returns a copy of s with every field type normalized.
func NormalizeSchema(s Schema) Schema {
	out := Schema{Fields: make([]Field, len(s.Fields))}
	for i, f := range s.Fields {
		f.Type = NormalizeType(f.Type)
		out.Fields[i] = f
	}
	return out
}

// typeAccepts reports whether a column of type dst can hold values of type
// src. Decimals widen in precision at equal scale.
func typeAccepts(dst, src string) bool {
	dst, src = NormalizeType(dst), NormalizeType(src)
	if dst == src {
		return true
	}
	dp, ds, ok := DecimalParams(dst)
	if !ok {
		return false
	}
	sp, ss, ok := DecimalParams(src)
	return ok && ss == ds && sp <= dp
}

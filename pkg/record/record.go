// Package record defines the in-memory row batches exchanged between the
// query engine, the sink writer and the job transports.
package record

import (
	"fmt"
	"strings"
)

// Field is a named, typed column.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field `json:"fields" yaml:"fields"`
}

// NewSchema builds a schema from fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of columns.
func (s Schema) Len() int {
	return len(s.Fields)
}

// String renders the schema as "name TYPE, ...".
func (s Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + " " + f.Type
	}
	return strings.Join(parts, ", ")
}

// Compatible reports whether rows of other can be stored in a table with
// schema s. Column names (case-insensitive), order and normalized types must
// match, except that a decimal column accepts decimals of lower precision at
// the same scale. Nullability is not compared.
func (s Schema) Compatible(other Schema) error {
	if len(s.Fields) != len(other.Fields) {
		return fmt.Errorf("expected %d columns, got %d", len(s.Fields), len(other.Fields))
	}
	for i, f := range s.Fields {
		o := other.Fields[i]
		if !strings.EqualFold(f.Name, o.Name) {
			return fmt.Errorf("column %d: expected %q, got %q", i, f.Name, o.Name)
		}
		if !typeAccepts(f.Type, o.Type) {
			return fmt.Errorf("column %q: expected type %s, got %s", f.Name, f.Type, o.Type)
		}
	}
	return nil
}

// Batch is a set of rows sharing one schema. Each row holds one value per
// schema field; nil is SQL NULL.
type Batch struct {
	Schema Schema  `json:"schema"`
	Rows   [][]any `json:"rows"`
}

// NumRows returns the number of rows in the batch.
func (b Batch) NumRows() int {
	return len(b.Rows)
}

// Validate checks that every row has one value per field.
func (b Batch) Validate() error {
	for i, row := range b.Rows {
		if len(row) != len(b.Schema.Fields) {
			return fmt.Errorf("row %d has %d values, schema has %d columns", i, len(row), len(b.Schema.Fields))
		}
	}
	return nil
}

// TotalRows sums row counts across batches.
func TotalRows(batches []Batch) int64 {
	var n int64
	for _, b := range batches {
		n += int64(len(b.Rows))
	}
	return n
}

// Concat merges batches into a single batch carrying schema. An empty input
// yields an empty batch.
func Concat(schema Schema, batches []Batch) Batch {
	out := Batch{Schema: schema}
	for _, b := range batches {
		out.Rows = append(out.Rows, b.Rows...)
	}
	return out
}

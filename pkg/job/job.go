// Package job implements the lakehouse job orchestrator.
//
// A job reads one or more sources from a single store, runs one SQL
// statement over them in a private engine session and either previews the
// result (dry run) or writes it into a versioned sink table under a save
// mode. RunJob is the only entry point; transports embed it.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/sink"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// Format tags a source declaration.
type Format string

// Source formats.
const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatDelta   Format = "delta"
)

// Table is a source declaration registered under an alias. The set of
// implementations is closed: ParquetTable, CSVTable, JSONTable and
// DeltaTable.
type Table interface {
	// Alias is the relation name the source is registered under.
	Alias() string

	// Format returns the variant tag.
	Format() Format

	sealed()
}

// ParquetTable is a Parquet file.
type ParquetTable struct {
	Name string
	Path string
}

// CSVTable is a delimited text file with a header row.
type CSVTable struct {
	Name string
	Path string
}

// JSONTable is a newline-delimited JSON file.
type JSONTable struct {
	Name string
	Path string
}

// DeltaTable is a versioned table in the job's source store, optionally
// pinned to a version or a point in time.
type DeltaTable struct {
	Name     string
	Table    string
	Selector table.Selector
}

func (t ParquetTable) Alias() string { return t.Name }
func (t CSVTable) Alias() string     { return t.Name }
func (t JSONTable) Alias() string    { return t.Name }
func (t DeltaTable) Alias() string   { return t.Name }

func (ParquetTable) Format() Format { return FormatParquet }
func (CSVTable) Format() Format     { return FormatCSV }
func (JSONTable) Format() Format    { return FormatJSON }
func (DeltaTable) Format() Format   { return FormatDelta }

func (ParquetTable) sealed() {}
func (CSVTable) sealed()     {}
func (JSONTable) sealed()    {}
func (DeltaTable) sealed()   {}

// tableSpec is the wire form of a Table.
type tableSpec struct {
	Format    string     `json:"format" yaml:"format"`
	Name      string     `json:"name" yaml:"name"`
	Path      string     `json:"path,omitempty" yaml:"path,omitempty"`
	Table     string     `json:"table,omitempty" yaml:"table,omitempty"`
	Version   *int64     `json:"version,omitempty" yaml:"version,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

func (s tableSpec) toTable() (Table, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s.Format))) {
	case FormatParquet:
		return ParquetTable{Name: s.Name, Path: s.Path}, nil
	case FormatCSV:
		return CSVTable{Name: s.Name, Path: s.Path}, nil
	case FormatJSON, "ndjson", "jsonl":
		return JSONTable{Name: s.Name, Path: s.Path}, nil
	case FormatDelta, "table":
		return DeltaTable{
			Name:     s.Name,
			Table:    s.Table,
			Selector: table.Selector{Version: s.Version, Timestamp: s.Timestamp},
		}, nil
	}
	return nil, fmt.Errorf("source %q: unknown format %q", s.Name, s.Format)
}

func specOf(t Table) tableSpec {
	spec := tableSpec{Format: string(t.Format()), Name: t.Alias()}
	switch v := t.(type) {
	case ParquetTable:
		spec.Path = v.Path
	case CSVTable:
		spec.Path = v.Path
	case JSONTable:
		spec.Path = v.Path
	case DeltaTable:
		spec.Table = v.Table
		spec.Version = v.Selector.Version
		spec.Timestamp = v.Selector.Timestamp
	}
	return spec
}

// Source declares the sources of a job. Every table is read from Store.
type Source struct {
	Store  string
	Tables []Table
}

type sourceSpec struct {
	Store  string      `json:"store" yaml:"store"`
	Tables []tableSpec `json:"tables" yaml:"tables"`
}

func (s sourceSpec) toSource() (Source, error) {
	out := Source{Store: s.Store, Tables: make([]Table, 0, len(s.Tables))}
	for _, ts := range s.Tables {
		t, err := ts.toTable()
		if err != nil {
			return Source{}, err
		}
		out.Tables = append(out.Tables, t)
	}
	return out, nil
}

func (s Source) spec() sourceSpec {
	out := sourceSpec{Store: s.Store, Tables: make([]tableSpec, len(s.Tables))}
	for i, t := range s.Tables {
		out.Tables[i] = specOf(t)
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.spec())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Source) UnmarshalJSON(data []byte) error {
	var spec sourceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	out, err := spec.toSource()
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Source) MarshalYAML() (any, error) {
	return s.spec(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Source) UnmarshalYAML(value *yaml.Node) error {
	var spec sourceSpec
	if err := value.Decode(&spec); err != nil {
		return err
	}
	out, err := spec.toSource()
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// Sink is the job's output table.
type Sink struct {
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Store    string        `json:"store" yaml:"store"`
	Table    string        `json:"table" yaml:"table"`
	SaveMode sink.SaveMode `json:"save_mode" yaml:"save_mode"`
}

// Request is a job submission.
type Request struct {
	Source Source `json:"source" yaml:"source"`
	SQL    string `json:"sql" yaml:"sql"`
	Sink   Sink   `json:"sink" yaml:"sink"`
	DryRun *bool  `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// IsDryRun reports whether the job previews instead of writing.
func (r *Request) IsDryRun() bool {
	return r.DryRun != nil && *r.DryRun
}

// Validate checks the request before any resource is acquired. Duplicate
// aliases fail with ErrDuplicateAlias; every other problem with
// ErrInvalidRequest.
func (r *Request) Validate() error {
	var errs []string
	if strings.TrimSpace(r.Source.Store) == "" {
		errs = append(errs, "source.store is required")
	}
	if strings.TrimSpace(r.SQL) == "" {
		errs = append(errs, "sql is required")
	}
	if _, err := sink.ParseSaveMode(string(r.Sink.SaveMode)); err != nil {
		errs = append(errs, "sink."+err.Error())
	}
	if !r.IsDryRun() {
		if r.Sink.Store == "" {
			errs = append(errs, "sink.store is required")
		}
		if r.Sink.Table == "" {
			errs = append(errs, "sink.table is required")
		}
	}

	seen := make(map[string]int, len(r.Source.Tables))
	for i, t := range r.Source.Tables {
		if t == nil {
			errs = append(errs, fmt.Sprintf("source.tables[%d] is empty", i))
			continue
		}
		alias := t.Alias()
		if alias == "" {
			errs = append(errs, fmt.Sprintf("source.tables[%d]: name is required", i))
			continue
		}
		key := strings.ToLower(alias)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %q (source.tables[%d] and [%d])", ErrDuplicateAlias, alias, prev, i)
		}
		seen[key] = i
		if msg := validateTable(t); msg != "" {
			errs = append(errs, fmt.Sprintf("source.tables[%d] (%s): %s", i, alias, msg))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(errs, "; "))
	}
	return nil
}

func validateTable(t Table) string {
	switch v := t.(type) {
	case ParquetTable:
		return requirePath(v.Path)
	case CSVTable:
		return requirePath(v.Path)
	case JSONTable:
		return requirePath(v.Path)
	case DeltaTable:
		if v.Table == "" {
			return "table is required"
		}
		if err := v.Selector.Validate(); err != nil {
			return err.Error()
		}
	}
	return ""
}

func requirePath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "path is required"
	}
	if escapesStore(p) {
		return fmt.Sprintf("path %q escapes the source store", p)
	}
	return ""
}

// escapesStore reports whether a store-relative path climbs above the store
// root. URIs and absolute paths are not store-relative.
func escapesStore(p string) bool {
	if strings.Contains(p, "://") || path.IsAbs(p) {
		return false
	}
	c := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return c == ".." || strings.HasPrefix(c, "../")
}

// Response is the result of a successful job.
type Response struct {
	Success     bool          `json:"success"`
	JobID       string        `json:"job_id"`
	DryRun      bool          `json:"dry_run"`
	Schema      record.Schema `json:"schema"`
	Preview     *record.Batch `json:"preview,omitempty"`
	RowsWritten int64         `json:"rows_written"`
	SinkVersion *int64        `json:"sink_version,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
}

// ParseRequest decodes a JSON request.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &req, nil
}

// ParseRequestYAML decodes a YAML request.
func ParseRequestYAML(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &req, nil
}

// LoadRequestFile reads a request from a .json, .yaml or .yml file.
func LoadRequestFile(name string) (*Request, error) {
	// #nosec G304 -- name is from CLI args, controlled by the operator
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return ParseRequestYAML(data)
	case ".json":
		return ParseRequest(data)
	}
	return nil, errors.New("job file must be .json, .yaml or .yml")
}

package job

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-lakejobs/pkg/sink"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

const jsonRequest = `{
  "source": {
    "store": "raw",
    "tables": [
      {"format": "parquet", "name": "orders", "path": "orders/2026.parquet"},
      {"format": "csv", "name": "people", "path": "people.csv"},
      {"format": "ndjson", "name": "events", "path": "events.ndjson"},
      {"format": "delta", "name": "dim", "table": "customers", "version": 4}
    ]
  },
  "sql": "SELECT * FROM orders",
  "sink": {"name": "daily", "store": "lake", "table": "daily_orders", "save_mode": "Overwrite"},
  "dry_run": true
}`

const yamlRequest = `
source:
  store: raw
  tables:
    - format: delta
      name: snap
      table: customers
      timestamp: 2026-03-01T12:00:00Z
    - format: json
      name: events
      path: s3://bucket/events.json
sql: SELECT count(*) FROM snap
sink:
  store: lake
  table: counts
  save_mode: append
`

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(jsonRequest))
	require.NoError(t, err)

	assert.Equal(t, "raw", req.Source.Store)
	require.Len(t, req.Source.Tables, 4)
	assert.Equal(t, ParquetTable{Name: "orders", Path: "orders/2026.parquet"}, req.Source.Tables[0])
	assert.Equal(t, CSVTable{Name: "people", Path: "people.csv"}, req.Source.Tables[1])
	assert.Equal(t, JSONTable{Name: "events", Path: "events.ndjson"}, req.Source.Tables[2])
	assert.Equal(t, DeltaTable{Name: "dim", Table: "customers", Selector: table.AtVersion(4)}, req.Source.Tables[3])
	assert.True(t, req.IsDryRun())
	assert.Equal(t, sink.SaveMode("Overwrite"), req.Sink.SaveMode)
	assert.NoError(t, req.Validate())

	// Round trip keeps the tagged wire form.
	data, err := json.Marshal(req)
	require.NoError(t, err)
	again, err := ParseRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, again)

	_, err = ParseRequest([]byte(`{"source": {"store": "raw", "tables": [{"format": "avro", "name": "x"}]}}`))
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = ParseRequest([]byte(`{`))
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestParseRequestYAML(t *testing.T) {
	req, err := ParseRequestYAML([]byte(yamlRequest))
	require.NoError(t, err)

	require.Len(t, req.Source.Tables, 2)
	snap, ok := req.Source.Tables[0].(DeltaTable)
	require.True(t, ok)
	require.NotNil(t, snap.Selector.Timestamp)
	assert.True(t, snap.Selector.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, FormatJSON, req.Source.Tables[1].Format())
	assert.False(t, req.IsDryRun())
	assert.NoError(t, req.Validate())
}

func TestLoadRequestFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "job.yaml")
	jsonPath := filepath.Join(dir, "job.json")
	txtPath := filepath.Join(dir, "job.txt")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlRequest), 0o600))
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonRequest), 0o600))
	require.NoError(t, os.WriteFile(txtPath, []byte(jsonRequest), 0o600))

	req, err := LoadRequestFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "counts", req.Sink.Table)

	req, err = LoadRequestFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "daily_orders", req.Sink.Table)

	_, err = LoadRequestFile(txtPath)
	assert.Error(t, err)

	_, err = LoadRequestFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRequestValidate(t *testing.T) {
	valid := func() Request {
		return Request{
			Source: Source{Store: "raw", Tables: []Table{ParquetTable{Name: "t", Path: "t.parquet"}}},
			SQL:    "SELECT 1",
			Sink:   Sink{Store: "lake", Table: "out", SaveMode: sink.ModeAppend},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr error
		wantMsg string
	}{
		{name: "valid", mutate: func(*Request) {}},
		{name: "no sources", mutate: func(r *Request) { r.Source.Tables = nil }},
		{name: "missing store", mutate: func(r *Request) { r.Source.Store = "" }, wantErr: ErrInvalidRequest, wantMsg: "source.store"},
		{name: "missing sql", mutate: func(r *Request) { r.SQL = "" }, wantErr: ErrInvalidRequest, wantMsg: "sql is required"},
		{name: "missing sink table", mutate: func(r *Request) { r.Sink.Table = "" }, wantErr: ErrInvalidRequest, wantMsg: "sink.table"},
		{
			name:   "dry run without sink",
			mutate: func(r *Request) { r.Sink = Sink{}; r.DryRun = boolPtr(true) },
		},
		{name: "bad save mode", mutate: func(r *Request) { r.Sink.SaveMode = "upsert" }, wantErr: ErrInvalidRequest, wantMsg: "save mode"},
		{
			name:    "missing alias",
			mutate:  func(r *Request) { r.Source.Tables = []Table{CSVTable{Path: "x.csv"}} },
			wantErr: ErrInvalidRequest, wantMsg: "name is required",
		},
		{
			name:    "missing path",
			mutate:  func(r *Request) { r.Source.Tables = []Table{JSONTable{Name: "j"}} },
			wantErr: ErrInvalidRequest, wantMsg: "path is required",
		},
		{
			name:    "missing table",
			mutate:  func(r *Request) { r.Source.Tables = []Table{DeltaTable{Name: "d"}} },
			wantErr: ErrInvalidRequest, wantMsg: "table is required",
		},
		{
			name: "version and timestamp",
			mutate: func(r *Request) {
				ts := time.Now()
				r.Source.Tables = []Table{DeltaTable{Name: "d", Table: "x", Selector: table.Selector{Version: table.AtVersion(1).Version, Timestamp: &ts}}}
			},
			wantErr: ErrInvalidRequest,
		},
		{
			name: "relative path above the store",
			mutate: func(r *Request) {
				r.Source.Tables = []Table{ParquetTable{Name: "t", Path: "../../etc/passwd"}}
			},
			wantErr: ErrInvalidRequest,
			wantMsg: "escapes the source store",
		},
		{
			name: "relative path climbing back inside",
			mutate: func(r *Request) {
				r.Source.Tables = []Table{CSVTable{Name: "t", Path: "a/../b.csv"}}
			},
		},
		{
			name: "duplicate alias ignores case",
			mutate: func(r *Request) {
				r.Source.Tables = append(r.Source.Tables, DeltaTable{Name: "T", Table: "x"})
			},
			wantErr: ErrDuplicateAlias,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindRegistration, Stage: StageRegister, Alias: "t", Err: errors.New("boom")}
	assert.Equal(t, `RegistrationError (register, source "t"): boom`, err.Error())

	err = &Error{Kind: KindQuery, Stage: StageQuery, Err: errors.New("syntax")}
	assert.Equal(t, "QueryError (query): syntax", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestLocate(t *testing.T) {
	r := &registrar{}
	r.store.Name = "raw"
	r.store.Path = "s3://bucket/raw/"
	for in, want := range map[string]string{
		"a/b.parquet":               "s3://bucket/raw/a/b.parquet",
		"a/../b.parquet":            "s3://bucket/raw/b.parquet",
		"/abs/x.csv":                "/abs/x.csv",
		"https://example.com/x.csv": "https://example.com/x.csv",
	} {
		got, err := r.locate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"../../etc/passwd", "..", "a/../../b.parquet", `..\secrets.csv`} {
		_, err := r.locate(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidRequest), in)
	}
}

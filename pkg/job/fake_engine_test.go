package job

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/txn2/mcp-lakejobs/pkg/engine"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

// fakeEngine serves registered files from an in-memory map and answers a
// small SQL subset: SELECT * | count(*) FROM <alias> [LIMIT n].
type fakeEngine struct {
	mu       sync.Mutex
	files    map[string]record.Batch
	sessions []*fakeSession
	newErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{files: make(map[string]record.Batch)}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) NewSession(_ context.Context, opts engine.SessionOptions) (engine.Session, error) {
	if e.newErr != nil {
		return nil, e.newErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSession{engine: e, opts: opts, relations: make(map[string]relation)}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) lastSession() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

type relation struct {
	data   record.Batch
	handle *table.Handle
}

func (r relation) count() int64 {
	if r.handle != nil {
		return r.handle.NumRows()
	}
	return int64(r.data.NumRows())
}

type fakeSession struct {
	engine    *fakeEngine
	opts      engine.SessionOptions
	aliases   engine.AliasSet
	relations map[string]relation
	uris      []string
	queries   []string
	closed    bool
}

func (s *fakeSession) RegisterFile(_ context.Context, alias string, _ engine.Format, uri string) error {
	if err := s.aliases.Check(alias); err != nil {
		return err
	}
	s.engine.mu.Lock()
	data, ok := s.engine.files[uri]
	s.engine.mu.Unlock()
	if !ok {
		return fmt.Errorf("IO Error: No files found that match the pattern %q", uri)
	}
	s.relations[strings.ToLower(alias)] = relation{data: data}
	s.aliases.Add(alias)
	s.uris = append(s.uris, uri)
	return nil
}

func (s *fakeSession) RegisterTable(_ context.Context, alias string, h *table.Handle) error {
	if err := s.aliases.Check(alias); err != nil {
		return err
	}
	s.relations[strings.ToLower(alias)] = relation{data: record.Batch{Schema: h.Schema}, handle: h}
	s.aliases.Add(alias)
	return nil
}

var fakeSQL = regexp.MustCompile(`(?i)^SELECT\s+(\*|count\(\*\))\s+FROM\s+(\w+)(?:\s+LIMIT\s+(\d+))?$`)

func (s *fakeSession) Query(_ context.Context, sql string) (engine.Result, error) {
	s.queries = append(s.queries, sql)
	m := fakeSQL.FindStringSubmatch(strings.TrimSpace(sql))
	if m == nil {
		return nil, fmt.Errorf("Parser Error: syntax error at or near %q", sql)
	}
	rel, ok := s.relations[strings.ToLower(m[2])]
	if !ok {
		return nil, fmt.Errorf("Catalog Error: Table with name %s does not exist", m[2])
	}

	var out record.Batch
	if strings.EqualFold(m[1], "count(*)") {
		out = record.Batch{
			Schema: record.NewSchema(record.Field{Name: "count_star()", Type: "BIGINT"}),
			Rows:   [][]any{{rel.count()}},
		}
	} else {
		out = record.Batch{Schema: rel.data.Schema, Rows: rel.data.Rows}
	}
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		if n < len(out.Rows) {
			out.Rows = out.Rows[:n]
		}
	}
	return &fakeResult{batch: out}, nil
}

func (s *fakeSession) Aliases() []string { return s.aliases.List() }

func (s *fakeSession) Close() error {
	if s.closed {
		return errors.New("session closed twice")
	}
	s.closed = true
	return nil
}

type fakeResult struct {
	batch record.Batch
}

func (r *fakeResult) Schema() record.Schema { return r.batch.Schema }

func (r *fakeResult) Preview(_ context.Context, n int) (record.Batch, error) {
	out := record.Batch{Schema: r.batch.Schema, Rows: r.batch.Rows}
	if n < len(out.Rows) {
		out.Rows = out.Rows[:n]
	}
	return out, nil
}

func (r *fakeResult) Materialize(context.Context) ([]record.Batch, error) {
	return []record.Batch{r.batch}, nil
}

var (
	_ engine.Engine  = (*fakeEngine)(nil)
	_ engine.Session = (*fakeSession)(nil)
	_ engine.Result  = (*fakeResult)(nil)
)

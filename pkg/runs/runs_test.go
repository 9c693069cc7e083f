package runs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-lakejobs/pkg/job"
	"github.com/txn2/mcp-lakejobs/pkg/sink"
)

var runsTestTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func testRequest() *job.Request {
	return &job.Request{
		Source: job.Source{Store: "raw", Tables: []job.Table{
			job.ParquetTable{Name: "a", Path: "a.parquet"},
			job.CSVTable{Name: "b", Path: "b.csv"},
		}},
		SQL:  "SELECT * FROM a",
		Sink: job.Sink{Store: "lake", Table: "out", SaveMode: sink.ModeAppend},
	}
}

func TestFromReport_Success(t *testing.T) {
	version := int64(3)
	run := FromReport(&job.Report{
		JobID:     "job-1",
		StartedAt: runsTestTime,
		Duration:  1500 * time.Millisecond,
		Request:   testRequest(),
		Mode:      sink.ModeAppend,
		Response:  &job.Response{Success: true, JobID: "job-1", RowsWritten: 42, SinkVersion: &version},
	})

	assert.Equal(t, "job-1", run.ID)
	assert.Equal(t, int64(1500), run.DurationMS)
	assert.Equal(t, "raw", run.SourceStore)
	assert.Equal(t, 2, run.SourceCount)
	assert.Equal(t, "lake", run.SinkStore)
	assert.Equal(t, "out", run.SinkTable)
	assert.Equal(t, "append", run.SaveMode)
	assert.True(t, run.Success)
	assert.False(t, run.DryRun)
	assert.Equal(t, int64(42), run.RowsWritten)
	require.NotNil(t, run.SinkVersion)
	assert.Equal(t, int64(3), *run.SinkVersion)
	assert.Empty(t, run.ErrorKind)
}

func TestFromReport_Failure(t *testing.T) {
	run := FromReport(&job.Report{
		JobID:     "job-2",
		StartedAt: runsTestTime,
		Request:   testRequest(),
		Err:       &job.Error{Kind: job.KindQuery, Stage: job.StageQuery, Err: errors.New("syntax error")},
	})
	assert.False(t, run.Success)
	assert.Equal(t, "QueryError", run.ErrorKind)
	assert.Contains(t, run.ErrorMessage, "syntax error")
	assert.Nil(t, run.SinkVersion)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for i := range 4 {
		require.NoError(t, store.Record(ctx, Run{
			ID:        fmt.Sprintf("job-%d", i),
			StartedAt: runsTestTime.Add(time.Duration(i) * time.Minute),
			SinkStore: "lake",
			SinkTable: "out",
			Success:   i%2 == 0,
		}))
	}

	// Oldest run was evicted.
	_, err := store.Get(ctx, "job-0")
	assert.True(t, errors.Is(err, ErrNotFound))

	got, err := store.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.ID)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-3", all[0].ID)
	assert.Equal(t, "job-1", all[2].ID)

	ok := true
	succeeded, err := store.List(ctx, Filter{Success: &ok})
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, "job-2", succeeded[0].ID)

	start := runsTestTime.Add(2 * time.Minute)
	recent, err := store.List(ctx, Filter{StartTime: &start, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "job-3", recent[0].ID)

	paged, err := store.List(ctx, Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "job-2", paged[0].ID)

	none, err := store.List(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := store.Count(ctx, Filter{Success: &ok, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, err := store.List(ctx, Filter{SinkTable: "other"})
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.NoError(t, store.Close())
}

type failingStore struct {
	MemoryStore
}

func (*failingStore) Record(context.Context, Run) error {
	return errors.New("database is locked")
}

func TestRecorder(t *testing.T) {
	store := NewMemoryStore(0)
	rec := NewRecorder(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A canceled request context still records.
	rec.ObserveJob(ctx, &job.Report{JobID: "job-9", StartedAt: runsTestTime, Request: testRequest()})

	got, err := store.Get(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, "raw", got.SourceStore)

	// Storage errors are swallowed.
	NewRecorder(&failingStore{}).ObserveJob(context.Background(), &job.Report{JobID: "job-10"})
}

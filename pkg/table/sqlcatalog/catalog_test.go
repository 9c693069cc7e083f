package sqlcatalog

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-lakejobs/pkg/database"
	"github.com/txn2/mcp-lakejobs/pkg/database/migrate"
	"github.com/txn2/mcp-lakejobs/pkg/record"
	"github.com/txn2/mcp-lakejobs/pkg/table"
)

const catalogTestSchemaJSON = `{"fields":[{"name":"id","type":"BIGINT","nullable":false}]}`

var (
	catalogTestID     = table.Ident{Store: "lake", Name: "orders"}
	catalogTestSchema = record.NewSchema(record.Field{Name: "id", Type: record.TypeBigInt})
	catalogTestTime   = time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC)
)

func fixedClock() time.Time { return catalogTestTime }

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, database.DriverPostgres, WithClock(fixedClock)), mock
}

func versionRows() *sqlmock.Rows {
	return sqlmock.NewRows(versionColumns)
}

func TestSnapshot_TableNotFound(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, current_version FROM lake_tables WHERE store = $1 AND name = $2")).
		WithArgs("lake", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}))

	_, err := c.Snapshot(context.Background(), catalogTestID, table.Latest())
	assert.True(t, errors.Is(err, table.ErrTableNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_Latest(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectQuery("SELECT id, current_version FROM lake_tables").
		WithArgs("lake", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}).AddRow(int64(3), int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM lake_table_versions WHERE table_id = $1 ORDER BY version DESC LIMIT 1")).
		WithArgs(int64(3)).
		WillReturnRows(versionRows().AddRow(int64(1), catalogTestTime.UnixMicro(), "append", catalogTestSchemaJSON, 1, 0, int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, row_count, size_bytes FROM lake_table_files WHERE table_id = $1 AND added_version <= $2 AND (removed_version IS NULL OR removed_version > $3)")).
		WithArgs(int64(3), int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"path", "row_count", "size_bytes"}).
			AddRow("orders/data/a.parquet", int64(2), int64(100)).
			AddRow("orders/data/b.parquet", int64(5), int64(200)))

	snap, err := c.Snapshot(context.Background(), catalogTestID, table.Latest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, catalogTestTime, snap.Timestamp)
	assert.Equal(t, catalogTestSchema, snap.Schema)
	assert.Equal(t, int64(7), snap.NumRows())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot_VersionNotFound(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectQuery("SELECT id, current_version FROM lake_tables").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}).AddRow(int64(3), int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM lake_table_versions WHERE table_id = $1 AND version = $2")).
		WithArgs(int64(3), int64(9)).
		WillReturnRows(versionRows())

	_, err := c.Snapshot(context.Background(), catalogTestID, table.AtVersion(9))
	assert.True(t, errors.Is(err, table.ErrVersionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_Create(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO lake_tables (store,name,current_version,created_at) VALUES ($1,$2,$3,$4) RETURNING id")).
		WithArgs("lake", "orders", int64(0), catalogTestTime.UnixMicro()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lake_table_files (table_id,path,row_count,size_bytes,added_version) VALUES ($1,$2,$3,$4,$5)")).
		WithArgs(int64(11), "orders/data/a.parquet", int64(4), int64(64), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO lake_table_versions").
		WithArgs(int64(11), int64(0), catalogTestTime.UnixMicro(), "create", catalogTestSchemaJSON, 1, 0, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	info, err := c.Commit(context.Background(), table.CommitRequest{
		Table:       catalogTestID,
		ReadVersion: table.NoVersion,
		Operation:   table.OpCreate,
		Schema:      catalogTestSchema,
		AddFiles:    []table.DataFile{{Path: "orders/data/a.parquet", Rows: 4, Size: 64}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Version)
	assert.Equal(t, int64(4), info.RowsAdded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_StaleReadVersion(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, current_version FROM lake_tables").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}).AddRow(int64(11), int64(4)))
	mock.ExpectRollback()

	_, err := c.Commit(context.Background(), table.CommitRequest{
		Table: catalogTestID, ReadVersion: 3, Operation: table.OpAppend, Schema: catalogTestSchema,
	})
	assert.True(t, errors.Is(err, table.ErrWriteConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_LostRace(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, current_version FROM lake_tables").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}).AddRow(int64(11), int64(3)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lake_tables SET current_version = $1 WHERE id = $2 AND current_version = $3")).
		WithArgs(int64(4), int64(11), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := c.Commit(context.Background(), table.CommitRequest{
		Table: catalogTestID, ReadVersion: 3, Operation: table.OpAppend, Schema: catalogTestSchema,
	})
	assert.True(t, errors.Is(err, table.ErrWriteConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_Overwrite(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, current_version FROM lake_tables").
		WillReturnRows(sqlmock.NewRows([]string{"id", "current_version"}).AddRow(int64(11), int64(0)))
	mock.ExpectExec("UPDATE lake_tables SET current_version").
		WithArgs(int64(1), int64(11), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE lake_table_files SET removed_version = $1 WHERE table_id = $2 AND removed_version IS NULL")).
		WithArgs(int64(1), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO lake_table_files").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO lake_table_versions").
		WithArgs(int64(11), int64(1), catalogTestTime.UnixMicro(), "overwrite", catalogTestSchemaJSON, 1, 2, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	info, err := c.Commit(context.Background(), table.CommitRequest{
		Table:       catalogTestID,
		ReadVersion: 0,
		Operation:   table.OpOverwrite,
		Schema:      catalogTestSchema,
		AddFiles:    []table.DataFile{{Path: "orders/data/c.parquet", Rows: 9}},
		ReplaceAll:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Version)
	assert.Equal(t, 2, info.FilesRemoved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_DatabaseError(t *testing.T) {
	c, mock := newMockCatalog(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO lake_tables").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := c.Commit(context.Background(), table.CommitRequest{
		Table: catalogTestID, ReadVersion: table.NoVersion, Operation: table.OpCreate, Schema: catalogTestSchema,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// newSQLiteCatalog opens a migrated SQLite catalog in a temp directory.
func newSQLiteCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.Run(db, database.DriverSQLite))
	return New(db, database.DriverSQLite, opts...)
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func TestSQLiteCatalog_VersionLog(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteCatalog(t, WithClock(steppingClock(catalogTestTime)))

	commit := func(read int64, op table.Operation, replace bool, files ...table.DataFile) *table.VersionInfo {
		t.Helper()
		info, err := c.Commit(ctx, table.CommitRequest{
			Table: catalogTestID, ReadVersion: read, Operation: op, Schema: catalogTestSchema,
			AddFiles: files, ReplaceAll: replace,
		})
		require.NoError(t, err)
		return info
	}

	commit(table.NoVersion, table.OpCreate, false, table.DataFile{Path: "orders/data/a.parquet", Rows: 3})
	commit(0, table.OpAppend, false, table.DataFile{Path: "orders/data/b.parquet", Rows: 3})
	v2 := commit(1, table.OpOverwrite, true, table.DataFile{Path: "orders/data/c.parquet", Rows: 1})
	assert.Equal(t, 2, v2.FilesRemoved)

	latest, err := c.Snapshot(ctx, catalogTestID, table.Latest())
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, []table.DataFile{{Path: "orders/data/c.parquet", Rows: 1}}, latest.Files)

	v1, err := c.Snapshot(ctx, catalogTestID, table.AtVersion(1))
	require.NoError(t, err)
	assert.Equal(t, int64(6), v1.NumRows())

	asOf, err := c.Snapshot(ctx, catalogTestID, table.AsOf(catalogTestTime.Add(90*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), asOf.Version)

	_, err = c.Snapshot(ctx, catalogTestID, table.AsOf(catalogTestTime.Add(-time.Second)))
	assert.True(t, errors.Is(err, table.ErrVersionNotFound))

	history, err := c.History(ctx, catalogTestID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, table.OpOverwrite, history[0].Operation)
	assert.Equal(t, catalogTestTime, history[2].Timestamp)

	_, err = c.Commit(ctx, table.CommitRequest{
		Table: catalogTestID, ReadVersion: table.NoVersion, Operation: table.OpCreate, Schema: catalogTestSchema,
	})
	assert.True(t, errors.Is(err, table.ErrTableExists))

	_, err = c.Commit(ctx, table.CommitRequest{
		Table: catalogTestID, ReadVersion: 1, Operation: table.OpAppend, Schema: catalogTestSchema,
	})
	assert.True(t, errors.Is(err, table.ErrWriteConflict))

	_, err = c.History(ctx, table.Ident{Store: "lake", Name: "missing"})
	assert.True(t, errors.Is(err, table.ErrTableNotFound))
}

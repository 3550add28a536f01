package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcru/winematch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateIngestion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ingestion_runs`).
		WithArgs(pgxmock.AnyArg(), "running", 3, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	in, err := s.CreateIngestion(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.Equal(t, model.IngestionRunning, in.Status)
	assert.NotEmpty(t, in.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestion_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs SET status = \$1, merged_rows`).
		WithArgs("success", 5, "ok", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteIngestion(context.Background(), "missing", 5, "ok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailIngestion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs SET status = \$1, details`).
		WithArgs("failed", "Import failed: boom", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailIngestion(context.Background(), "run-1", "Import failed: boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIngestion_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM ingestion_runs WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetIngestion(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_ReplaceDeals(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM deals`).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`INSERT INTO deals`).
		WithArgs(append([]any{"A"}, anyArgs(14)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO deal_snapshots`).
		WithArgs(append([]any{"run-1", pgxmock.AnyArg(), "A"}, anyArgs(14)...)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.ReplaceDeals(context.Background(), "run-1", []model.Deal{{WineName: "A"}}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceDeals_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM deals`).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	err := s.ReplaceDeals(context.Background(), "run-1", []model.Deal{{WineName: "A"}}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear deals")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PruneSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM deal_snapshots WHERE captured_at < \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PruneSnapshots(context.Background(), time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestIngestion_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM ingestion_runs ORDER BY started_at DESC LIMIT 1`).
		WillReturnError(pgx.ErrNoRows)

	in, err := s.LatestIngestion(context.Background())
	require.NoError(t, err)
	assert.Nil(t, in)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT \(SELECT COUNT\(\*\) FROM deals\)`).
		WillReturnRows(pgxmock.NewRows([]string{"deals", "snapshots"}).AddRow(int64(5), int64(12)))

	deals, snapshots, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deals)
	assert.Equal(t, int64(12), snapshots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

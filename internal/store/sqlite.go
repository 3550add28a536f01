package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/grandcru/winematch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	comparison_rows INTEGER NOT NULL DEFAULT 0,
	vivino_rows     INTEGER NOT NULL DEFAULT 0,
	merged_rows     INTEGER NOT NULL DEFAULT 0,
	details         TEXT,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME
);

CREATE TABLE IF NOT EXISTS deals (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	wine_name          TEXT NOT NULL,
	vintage            INTEGER,
	quantity           INTEGER,
	volume             TEXT,
	price_platinum     REAL,
	price_grand_cru    REAL,
	price_diff         REAL,
	price_diff_pct     REAL,
	cheaper_side       TEXT,
	platinum_url       TEXT,
	grand_cru_url      TEXT,
	vivino_url         TEXT,
	vivino_rating      REAL,
	vivino_num_ratings INTEGER,
	deal_score         REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deal_snapshots (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	ingestion_run_id   TEXT NOT NULL REFERENCES ingestion_runs(id),
	captured_at        DATETIME NOT NULL,
	wine_name          TEXT NOT NULL,
	vintage            INTEGER,
	quantity           INTEGER,
	volume             TEXT,
	price_platinum     REAL,
	price_grand_cru    REAL,
	price_diff         REAL,
	price_diff_pct     REAL,
	cheaper_side       TEXT,
	platinum_url       TEXT,
	grand_cru_url      TEXT,
	vivino_url         TEXT,
	vivino_rating      REAL,
	vivino_num_ratings INTEGER,
	deal_score         REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_status ON ingestion_runs(status);
CREATE INDEX IF NOT EXISTS idx_deals_wine_name ON deals(wine_name);
CREATE INDEX IF NOT EXISTS idx_deals_deal_score ON deals(deal_score);
CREATE INDEX IF NOT EXISTS idx_deal_snapshots_captured_at ON deal_snapshots(captured_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateIngestion(ctx context.Context, comparisonRows, vivinoRows int) (*model.Ingestion, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, status, comparison_rows, vivino_rows, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.IngestionRunning), comparisonRows, vivinoRows, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert ingestion")
	}

	return &model.Ingestion{
		ID:             id,
		Status:         model.IngestionRunning,
		ComparisonRows: comparisonRows,
		VivinoRows:     vivinoRows,
		StartedAt:      now,
	}, nil
}

func (s *SQLiteStore) CompleteIngestion(ctx context.Context, id string, mergedRows int, details string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, merged_rows = ?, details = ?, finished_at = ? WHERE id = ?`,
		string(model.IngestionSuccess), mergedRows, details, time.Now().UTC().Truncate(time.Second), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingestion %s", id)
	}
	return checkRowsAffected(res, "ingestion", id)
}

func (s *SQLiteStore) FailIngestion(ctx context.Context, id string, details string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET status = ?, details = ?, finished_at = ? WHERE id = ?`,
		string(model.IngestionFailed), details, time.Now().UTC().Truncate(time.Second), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail ingestion %s", id)
	}
	return checkRowsAffected(res, "ingestion", id)
}

func (s *SQLiteStore) GetIngestion(ctx context.Context, id string) (*model.Ingestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ingestionColumns+` FROM ingestion_runs WHERE id = ?`, id)
	in, err := scanSQLiteIngestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: ingestion not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ingestion %s", id)
	}
	return in, nil
}

func (s *SQLiteStore) LatestIngestion(ctx context.Context) (*model.Ingestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ingestionColumns+` FROM ingestion_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	in, err := scanSQLiteIngestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest ingestion")
	}
	return in, nil
}

func scanSQLiteIngestion(row *sql.Row) (*model.Ingestion, error) {
	var in model.Ingestion
	var details sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&in.ID, &in.Status, &in.ComparisonRows, &in.VivinoRows, &in.MergedRows, &details, &in.StartedAt, &finished); err != nil {
		return nil, err
	}
	in.Details = details.String
	if finished.Valid {
		t := finished.Time
		in.FinishedAt = &t
	}
	return &in, nil
}

func (s *SQLiteStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dealColumns+` FROM deals ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: list deals iterate")
}

func (s *SQLiteStore) ReplaceDeals(ctx context.Context, ingestionID string, deals []model.Deal, capturedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace deals")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM deals`); err != nil {
		return eris.Wrap(err, "sqlite: clear deals")
	}

	insertDeal, err := tx.PrepareContext(ctx,
		`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert deal")
	}
	defer insertDeal.Close()

	insertSnap, err := tx.PrepareContext(ctx,
		`INSERT INTO deal_snapshots (ingestion_run_id, captured_at, `+dealColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert snapshot")
	}
	defer insertSnap.Close()

	captured := capturedAt.UTC().Truncate(time.Second)
	for _, d := range deals {
		args := dealArgs(d)
		if _, err := insertDeal.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert deal %s", d.WineName)
		}
		if _, err := insertSnap.ExecContext(ctx, append([]any{ingestionID, captured}, args...)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot %s", d.WineName)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace deals")
}

func (s *SQLiteStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deal_snapshots WHERE captured_at < ?`, cutoff.UTC().Truncate(time.Second),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune snapshots")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) Counts(ctx context.Context) (int64, int64, error) {
	var deals, snapshots int64
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM deals), (SELECT COUNT(*) FROM deal_snapshots)`,
	).Scan(&deals, &snapshots)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: counts")
	}
	return deals, snapshots, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

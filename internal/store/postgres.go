package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/grandcru/winematch/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	comparison_rows INTEGER NOT NULL DEFAULT 0,
	vivino_rows     INTEGER NOT NULL DEFAULT 0,
	merged_rows     INTEGER NOT NULL DEFAULT 0,
	details         TEXT,
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS deals (
	id                 BIGSERIAL PRIMARY KEY,
	wine_name          TEXT NOT NULL,
	vintage            INTEGER,
	quantity           INTEGER,
	volume             TEXT,
	price_platinum     DOUBLE PRECISION,
	price_grand_cru    DOUBLE PRECISION,
	price_diff         DOUBLE PRECISION,
	price_diff_pct     DOUBLE PRECISION,
	cheaper_side       TEXT,
	platinum_url       TEXT,
	grand_cru_url      TEXT,
	vivino_url         TEXT,
	vivino_rating      DOUBLE PRECISION,
	vivino_num_ratings INTEGER,
	deal_score         DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deal_snapshots (
	id                 BIGSERIAL PRIMARY KEY,
	ingestion_run_id   TEXT NOT NULL REFERENCES ingestion_runs(id),
	captured_at        TIMESTAMPTZ NOT NULL,
	wine_name          TEXT NOT NULL,
	vintage            INTEGER,
	quantity           INTEGER,
	volume             TEXT,
	price_platinum     DOUBLE PRECISION,
	price_grand_cru    DOUBLE PRECISION,
	price_diff         DOUBLE PRECISION,
	price_diff_pct     DOUBLE PRECISION,
	cheaper_side       TEXT,
	platinum_url       TEXT,
	grand_cru_url      TEXT,
	vivino_url         TEXT,
	vivino_rating      DOUBLE PRECISION,
	vivino_num_ratings INTEGER,
	deal_score         DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_status ON ingestion_runs(status);
CREATE INDEX IF NOT EXISTS idx_deals_wine_name ON deals(wine_name);
CREATE INDEX IF NOT EXISTS idx_deals_deal_score ON deals(deal_score DESC);
CREATE INDEX IF NOT EXISTS idx_deal_snapshots_captured_at ON deal_snapshots(captured_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateIngestion(ctx context.Context, comparisonRows, vivinoRows int) (*model.Ingestion, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, status, comparison_rows, vivino_rows, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.IngestionRunning), comparisonRows, vivinoRows, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert ingestion")
	}

	return &model.Ingestion{
		ID:             id,
		Status:         model.IngestionRunning,
		ComparisonRows: comparisonRows,
		VivinoRows:     vivinoRows,
		StartedAt:      now,
	}, nil
}

func (s *PostgresStore) CompleteIngestion(ctx context.Context, id string, mergedRows int, details string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, merged_rows = $2, details = $3, finished_at = now() WHERE id = $4`,
		string(model.IngestionSuccess), mergedRows, details, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingestion %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: ingestion not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailIngestion(ctx context.Context, id string, details string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET status = $1, details = $2, finished_at = now() WHERE id = $3`,
		string(model.IngestionFailed), details, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail ingestion %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: ingestion not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetIngestion(ctx context.Context, id string) (*model.Ingestion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ingestionColumns+` FROM ingestion_runs WHERE id = $1`, id)
	in, err := scanPostgresIngestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: ingestion not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ingestion %s", id)
	}
	return in, nil
}

func (s *PostgresStore) LatestIngestion(ctx context.Context) (*model.Ingestion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ingestionColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT 1`)
	in, err := scanPostgresIngestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest ingestion")
	}
	return in, nil
}

func scanPostgresIngestion(row pgx.Row) (*model.Ingestion, error) {
	var in model.Ingestion
	var status string
	var details *string
	if err := row.Scan(&in.ID, &status, &in.ComparisonRows, &in.VivinoRows, &in.MergedRows, &details, &in.StartedAt, &in.FinishedAt); err != nil {
		return nil, err
	}
	in.Status = model.IngestionStatus(status)
	in.Details = deref(details)
	return &in, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+dealColumns+` FROM deals ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		deals = append(deals, d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: list deals iterate")
}

func (s *PostgresStore) ReplaceDeals(ctx context.Context, ingestionID string, deals []model.Deal, capturedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace deals")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM deals`); err != nil {
		return eris.Wrap(err, "postgres: clear deals")
	}

	captured := capturedAt.UTC()
	for _, d := range deals {
		args := dealArgs(d)
		if _, err := tx.Exec(ctx,
			`INSERT INTO deals (`+dealColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			args...); err != nil {
			return eris.Wrapf(err, "postgres: insert deal %s", d.WineName)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO deal_snapshots (ingestion_run_id, captured_at, `+dealColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			append([]any{ingestionID, captured}, args...)...); err != nil {
			return eris.Wrapf(err, "postgres: insert snapshot %s", d.WineName)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace deals")
}

func (s *PostgresStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM deal_snapshots WHERE captured_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune snapshots")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Counts(ctx context.Context) (int64, int64, error) {
	var deals, snapshots int64
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM deals), (SELECT COUNT(*) FROM deal_snapshots)`,
	).Scan(&deals, &snapshots)
	if err != nil {
		return 0, 0, eris.Wrap(err, "postgres: counts")
	}
	return deals, snapshots, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/betslip-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. Odds and volume are
// NUMERIC for exact decimal precision; fees are NUMERIC to hold any u64.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id          TEXT PRIMARY KEY,
	home_team   TEXT NOT NULL,
	away_team   TEXT NOT NULL,
	odds_home   NUMERIC NOT NULL,
	odds_draw   NUMERIC NOT NULL,
	odds_away   NUMERIC NOT NULL,
	volume      NUMERIC NOT NULL DEFAULT 0,
	kickoff_in  BIGINT NOT NULL DEFAULT 0,
	round       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	operation   TEXT NOT NULL,
	status      TEXT NOT NULL,
	program     TEXT NOT NULL,
	inputs      TEXT[] NOT NULL,
	fee         NUMERIC NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS transactions_session_idx ON transactions (session_id, created_at);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMarkets(ctx context.Context, markets []model.Market) error {
	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(
			`INSERT INTO markets (id, home_team, away_team, odds_home, odds_draw, odds_away, volume, kickoff_in, round)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			     home_team = EXCLUDED.home_team, away_team = EXCLUDED.away_team,
			     odds_home = EXCLUDED.odds_home, odds_draw = EXCLUDED.odds_draw, odds_away = EXCLUDED.odds_away,
			     volume = EXCLUDED.volume, kickoff_in = EXCLUDED.kickoff_in, round = EXCLUDED.round`,
			m.ID, m.HomeTeam, m.AwayTeam,
			m.Odds.Home.String(), m.Odds.Draw.String(), m.Odds.Away.String(),
			m.Volume.String(), m.KickoffIn, m.Round,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

const marketColumns = `id, home_team, away_team,
	odds_home::TEXT, odds_draw::TEXT, odds_away::TEXT,
	volume::TEXT, kickoff_in, round`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 ORDER BY round, length(id), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, rec *model.TransactionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, session_id, operation, status, program, inputs, fee, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10)`,
		rec.ID, rec.SessionID, rec.Operation, string(rec.Status), rec.Program,
		rec.Inputs, strconv.FormatUint(rec.Fee, 10), rec.Error,
		rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TxStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, string(status), errMsg, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return nil
}

const txColumns = `id, session_id, operation, status, program, inputs, fee::TEXT, error, created_at, updated_at`

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*model.TransactionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id)
	rec, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListTransactionsBySession(ctx context.Context, sessionID string) ([]model.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var home, draw, away, volume string
	if err := row.Scan(&m.ID, &m.HomeTeam, &m.AwayTeam,
		&home, &draw, &away,
		&volume, &m.KickoffIn, &m.Round); err != nil {
		return nil, err
	}
	m.Odds.Home, _ = decimal.NewFromString(home)
	m.Odds.Draw, _ = decimal.NewFromString(draw)
	m.Odds.Away, _ = decimal.NewFromString(away)
	m.Volume, _ = decimal.NewFromString(volume)
	return &m, nil
}

func scanTransaction(row pgx.Row) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	var status, fee string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Operation, &status, &rec.Program,
		&rec.Inputs, &fee, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = model.TxStatus(status)
	rec.Fee, _ = strconv.ParseUint(fee, 10, 64)
	return &rec, nil
}

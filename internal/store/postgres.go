package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polyagent/arb-engine/internal/model"
)

// portfolioRowID is the primary key of the singleton portfolio row.
const portfolioRowID = "default"

// Schema creates the portfolio tables. All monetary values are stored as
// NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id               TEXT PRIMARY KEY,
	cash             NUMERIC NOT NULL,
	starting_balance NUMERIC NOT NULL,
	trade_count      INTEGER NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS portfolio_positions (
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	position_id  TEXT NOT NULL,
	pair_id      TEXT NOT NULL,
	market_id    TEXT NOT NULL,
	market_title TEXT NOT NULL,
	outcome      TEXT NOT NULL CHECK (outcome IN ('YES', 'NO')),
	shares       NUMERIC NOT NULL CHECK (shares >= 0),
	avg_price    NUMERIC NOT NULL,
	cost_basis   NUMERIC NOT NULL CHECK (cost_basis >= 0),
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (portfolio_id, seq)
);`

// PostgresStore implements PortfolioStore using PostgreSQL. Save rewrites
// the portfolio row and its positions inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate portfolio schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Portfolio, error) {
	var p model.Portfolio
	var cashS, startS string

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, starting_balance::TEXT, trade_count
		 FROM portfolios WHERE id = $1`, portfolioRowID).
		Scan(&cashS, &startS, &p.TradeCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	if p.Cash, err = decimal.NewFromString(cashS); err != nil {
		return nil, fmt.Errorf("parse cash %q: %w", cashS, err)
	}
	if p.StartingBalance, err = decimal.NewFromString(startS); err != nil {
		return nil, fmt.Errorf("parse starting balance %q: %w", startS, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT position_id, pair_id, market_id, market_title, outcome,
		        shares::TEXT, avg_price::TEXT, cost_basis::TEXT, created_at
		 FROM portfolio_positions WHERE portfolio_id = $1 ORDER BY seq`, portfolioRowID)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer rows.Close()

	p.Positions, err = scanPositions(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *model.Portfolio) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO portfolios (id, cash, starting_balance, trade_count, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, now())
		 ON CONFLICT (id) DO UPDATE
		 SET cash = EXCLUDED.cash,
		     starting_balance = EXCLUDED.starting_balance,
		     trade_count = EXCLUDED.trade_count,
		     updated_at = EXCLUDED.updated_at`,
		portfolioRowID, p.Cash.String(), p.StartingBalance.String(), p.TradeCount,
	); err != nil {
		return fmt.Errorf("upsert portfolio: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM portfolio_positions WHERE portfolio_id = $1`, portfolioRowID); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	if len(p.Positions) > 0 {
		batch := &pgx.Batch{}
		for i, pos := range p.Positions {
			batch.Queue(
				`INSERT INTO portfolio_positions
				 (portfolio_id, seq, position_id, pair_id, market_id, market_title, outcome,
				  shares, avg_price, cost_basis, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
				portfolioRowID, i, pos.ID, pos.PairID, pos.MarketID, pos.MarketTitle, string(pos.Outcome),
				pos.Shares.String(), pos.AvgPrice.String(), pos.CostBasis.String(), pos.CreatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert positions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit portfolio: %w", err)
	}
	return nil
}

// pgxRows is the subset of pgx.Rows used by scanPositions.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanPositions(rows pgxRows) ([]model.Position, error) {
	positions := []model.Position{}
	for rows.Next() {
		var pos model.Position
		var outcome, sharesS, priceS, costS string

		if err := rows.Scan(&pos.ID, &pos.PairID, &pos.MarketID, &pos.MarketTitle, &outcome,
			&sharesS, &priceS, &costS, &pos.CreatedAt); err != nil {
			return nil, err
		}

		pos.Outcome = model.Outcome(outcome)
		pos.Shares, _ = decimal.NewFromString(sharesS)
		pos.AvgPrice, _ = decimal.NewFromString(priceS)
		pos.CostBasis, _ = decimal.NewFromString(costS)

		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

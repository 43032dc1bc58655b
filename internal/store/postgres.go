package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/model"
)

// Schema creates the tables PostgresStore writes to. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id              TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	trader          TEXT NOT NULL,
	side            TEXT NOT NULL CHECK (side IN ('YES', 'NO')),
	notional_amount NUMERIC NOT NULL,
	execution_price NUMERIC NOT NULL,
	fee_amount      NUMERIC NOT NULL,
	shares_out      NUMERIC NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_market_ts ON trades (market_id, timestamp);
CREATE INDEX IF NOT EXISTS trades_trader_ts ON trades (trader, timestamp);

CREATE TABLE IF NOT EXISTS liquidity_events (
	id         TEXT PRIMARY KEY,
	market_id  TEXT NOT NULL,
	trader     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	lp_tokens  NUMERIC NOT NULL,
	yes_amount NUMERIC NOT NULL,
	no_amount  NUMERIC NOT NULL,
	reward     NUMERIC NOT NULL DEFAULT 0,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS liquidity_events_market_ts ON liquidity_events (market_id, timestamp);

CREATE TABLE IF NOT EXISTS price_snapshots (
	market_id   TEXT NOT NULL,
	yes_price   NUMERIC NOT NULL,
	no_price    NUMERIC NOT NULL,
	yes_reserve NUMERIC NOT NULL,
	no_reserve  NUMERIC NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_snapshots_market_ts ON price_snapshots (market_id, timestamp);
`

// PostgresStore implements Store on PostgreSQL. All monetary values are
// stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies Schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, trader, side, notional_amount, execution_price, fee_amount, shares_out, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.MarketID, t.Trader, t.Side.String(),
		t.NotionalAmount.String(), t.ExecutionPrice.String(),
		t.FeeAmount.String(), t.SharesOut.String(),
		t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
		     SELECT id, market_id, trader, side,
		            notional_amount::TEXT, execution_price::TEXT, fee_amount::TEXT, shares_out::TEXT, timestamp
		     FROM trades WHERE market_id = $1 ORDER BY timestamp DESC LIMIT $2
		 ) recent ORDER BY timestamp`, marketID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, trader string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, trader, side,
		        notional_amount::TEXT, execution_price::TEXT, fee_amount::TEXT, shares_out::TEXT, timestamp
		 FROM trades WHERE trader = $1 ORDER BY timestamp`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) InsertLiquidityEvent(ctx context.Context, e *model.LiquidityEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidity_events (id, market_id, trader, kind, lp_tokens, yes_amount, no_amount, reward, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		e.ID, e.MarketID, e.Trader, string(e.Kind),
		e.LpTokens.String(), e.YesAmount.String(), e.NoAmount.String(), e.Reward.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListLiquidityEvents(ctx context.Context, marketID string) ([]model.LiquidityEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, trader, kind,
		        lp_tokens::TEXT, yes_amount::TEXT, no_amount::TEXT, reward::TEXT, timestamp
		 FROM liquidity_events WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.LiquidityEvent
	for rows.Next() {
		var e model.LiquidityEvent
		var kind string
		var nums [4]string
		if err := rows.Scan(&e.ID, &e.MarketID, &e.Trader, &kind,
			&nums[0], &nums[1], &nums[2], &nums[3], &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.LiquidityEventKind(kind)
		if err := parseDecimals(nums[:], &e.LpTokens, &e.YesAmount, &e.NoAmount, &e.Reward); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) SavePriceSnapshot(ctx context.Context, p *model.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_snapshots (market_id, yes_price, no_price, yes_reserve, no_reserve, timestamp)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.MarketID, p.YesPrice.String(), p.NoPrice.String(),
		p.YesReserve.String(), p.NoReserve.String(), p.Timestamp,
	)
	return err
}

func (s *PostgresStore) LatestPrice(ctx context.Context, marketID string) (*model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_price::TEXT, no_price::TEXT, yes_reserve::TEXT, no_reserve::TEXT, timestamp
		 FROM price_snapshots WHERE market_id = $1 ORDER BY timestamp DESC LIMIT 1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: price for %s", ErrNotFound, marketID)
	}
	return &snaps[0], nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, marketID string, since time.Time) ([]model.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_price::TEXT, no_price::TEXT, yes_reserve::TEXT, no_reserve::TEXT, timestamp
		 FROM price_snapshots WHERE market_id = $1 AND timestamp >= $2 ORDER BY timestamp`, marketID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanTrades reads pgx rows into Trade slices.
func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var nums [4]string

		if err := rows.Scan(&t.ID, &t.MarketID, &t.Trader, &side,
			&nums[0], &nums[1], &nums[2], &nums[3], &t.Timestamp); err != nil {
			return nil, err
		}
		parsed, err := model.ParseSide(side)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		t.Side = parsed
		if err := parseDecimals(nums[:], &t.NotionalAmount, &t.ExecutionPrice, &t.FeeAmount, &t.SharesOut); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanSnapshots(rows pgx.Rows) ([]model.PriceSnapshot, error) {
	var snaps []model.PriceSnapshot
	for rows.Next() {
		var p model.PriceSnapshot
		var nums [4]string
		if err := rows.Scan(&p.MarketID, &nums[0], &nums[1], &nums[2], &nums[3], &p.Timestamp); err != nil {
			return nil, err
		}
		if err := parseDecimals(nums[:], &p.YesPrice, &p.NoPrice, &p.YesReserve, &p.NoReserve); err != nil {
			return nil, err
		}
		snaps = append(snaps, p)
	}
	return snaps, rows.Err()
}

var errColumnCount = errors.New("store: column count mismatch")

// parseDecimals parses NUMERIC columns scanned as text into dst in order.
func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	if len(src) != len(dst) {
		return errColumnCount
	}
	for i, s := range src {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", s, err)
		}
		*dst[i] = v
	}
	return nil
}

// Package pool owns every market's liquidity pool and applies provide,
// withdraw and trade requests to it.
//
// Each pool has its own lock: mutations on one market are serialized while
// different markets proceed in parallel. Every mutation validates and prices
// against the current state first and only then writes, so it either commits
// as a whole or leaves the pool untouched. Reads take the pool's read lock
// and therefore only ever see committed state.
package pool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/fees"
	"github.com/outcomeamm/market-engine/internal/ledger"
	"github.com/outcomeamm/market-engine/internal/model"
)

// ProtocolProvider holds the seed LP tokens of a pool created without a
// seeding trader.
const ProtocolProvider = "protocol"

// DefaultTradeLogCapacity is the number of trades retained per pool.
const DefaultTradeLogCapacity = 100

// Config is supplied at construction time and never changes afterwards.
type Config struct {
	Fees             fees.Schedule
	Rewards          fees.RewardCurve
	TradeLogCapacity int
	// ProbeNotional is the trade size used to quote current prices.
	ProbeNotional decimal.Decimal
	// VolumeWindow and VolumeBucket shape the rolling volume statistic.
	VolumeWindow time.Duration
	VolumeBucket time.Duration
}

// DefaultConfig returns the default schedule, a 7-day reward ramp, a
// 100-trade log and a 24h volume window in hourly buckets.
func DefaultConfig() Config {
	return Config{
		Fees:             fees.DefaultSchedule(),
		Rewards:          fees.DefaultRewardCurve(),
		TradeLogCapacity: DefaultTradeLogCapacity,
		ProbeNotional:    decimal.NewFromInt(1),
		VolumeWindow:     24 * time.Hour,
		VolumeBucket:     time.Hour,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for commit traces.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithLedger shares an existing position ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

// Store is the sole owner of pool and LP position state.
type Store struct {
	cfg    Config
	ledger *ledger.Ledger
	now    func() time.Time
	log    *slog.Logger

	mu    sync.RWMutex
	pools map[string]*poolState
}

// poolState is the mutable pool behind its own lock.
type poolState struct {
	mu sync.RWMutex

	marketID           string
	yes                decimal.Decimal
	no                 decimal.Decimal
	lpSupply           decimal.Decimal
	providers          map[string]*model.LpPosition
	feeAccumulator     decimal.Decimal
	rewardsDistributed decimal.Decimal
	totalVolume        decimal.Decimal
	volume             *volumeWindow
	trades             *tradeLog
	resolved           bool
	outcome            model.Side
	createdAt          time.Time
}

// New creates a Store. A non-positive TradeLogCapacity, ProbeNotional,
// VolumeWindow or VolumeBucket falls back to DefaultConfig. Fees and
// Rewards are used as given: a zero Schedule charges no fees and a zero
// RewardCurve vests immediately.
func New(cfg Config, opts ...Option) (*Store, error) {
	def := DefaultConfig()
	if cfg.TradeLogCapacity <= 0 {
		cfg.TradeLogCapacity = def.TradeLogCapacity
	}
	if !cfg.ProbeNotional.IsPositive() {
		cfg.ProbeNotional = def.ProbeNotional
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = def.VolumeWindow
	}
	if cfg.VolumeBucket <= 0 || cfg.VolumeBucket > cfg.VolumeWindow {
		cfg.VolumeBucket = def.VolumeBucket
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:   cfg,
		now:   time.Now,
		log:   slog.Default(),
		pools: make(map[string]*poolState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	return s, nil
}

// Ledger returns the position ledger credited by trades.
func (s *Store) Ledger() *ledger.Ledger {
	return s.ledger
}

// Config returns the store's effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) lookup(marketID string) (*poolState, error) {
	s.mu.RLock()
	p, ok := s.pools[marketID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrPoolNotFound, marketID)
	}
	return p, nil
}

func (s *Store) newPool(marketID, seeder string, m cpmm.Mint, now time.Time) *poolState {
	p := &poolState{
		marketID:  marketID,
		yes:       m.YesUsed,
		no:        m.NoUsed,
		lpSupply:  m.LpTokens,
		providers: make(map[string]*model.LpPosition),
		volume:    newVolumeWindow(s.cfg.VolumeWindow, s.cfg.VolumeBucket),
		trades:    newTradeLog(s.cfg.TradeLogCapacity),
		createdAt: now,
	}
	if m.LpTokens.IsPositive() {
		p.providers[seeder] = &model.LpPosition{
			Trader:         seeder,
			LpTokens:       m.LpTokens,
			ContributedYes: m.YesUsed,
			ContributedNo:  m.NoUsed,
			JoinedAt:       now,
		}
	}
	return p
}

// CreatePool opens a market's pool. A non-zero seed mints
// sqrt(seedYes*seedNo) LP tokens, all held by seeder, or by ProtocolProvider
// when seeder is empty. A zero seed opens an empty pool whose first
// ProvideLiquidity call seeds it. A second call for the same market fails
// with ErrPoolAlreadyExists.
func (s *Store) CreatePool(marketID, seeder string, seedYes, seedNo decimal.Decimal) (model.LiquidityReceipt, error) {
	receipt, created, err := s.create(marketID, seeder, seedYes, seedNo)
	if err != nil {
		return model.LiquidityReceipt{}, err
	}
	if !created {
		return model.LiquidityReceipt{}, fmt.Errorf("%w: %s", model.ErrPoolAlreadyExists, marketID)
	}
	return receipt, nil
}

// EnsurePool creates the pool on first reference and is a no-op afterwards.
// created reports whether this call seeded it.
func (s *Store) EnsurePool(marketID, seeder string, seedYes, seedNo decimal.Decimal) (receipt model.LiquidityReceipt, created bool, err error) {
	return s.create(marketID, seeder, seedYes, seedNo)
}

func (s *Store) create(marketID, seeder string, seedYes, seedNo decimal.Decimal) (model.LiquidityReceipt, bool, error) {
	if marketID == "" {
		return model.LiquidityReceipt{}, false, fmt.Errorf("%w: empty market id", model.ErrInvalidIdentity)
	}
	if seeder == "" {
		seeder = ProtocolProvider
	}
	var m cpmm.Mint
	if !seedYes.IsZero() || !seedNo.IsZero() {
		var err error
		m, err = cpmm.MintLiquidity(decimal.Zero, decimal.Zero, decimal.Zero, seedYes, seedNo)
		if err != nil {
			return model.LiquidityReceipt{}, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[marketID]; ok {
		return model.LiquidityReceipt{}, false, nil
	}
	now := s.now().UTC()
	s.pools[marketID] = s.newPool(marketID, seeder, m, now)

	s.log.Debug("pool created",
		"market", marketID,
		"seeder", seeder,
		"yes", m.YesUsed.String(),
		"no", m.NoUsed.String(),
		"lp_supply", m.LpTokens.String(),
	)

	return model.LiquidityReceipt{
		MarketID:       marketID,
		Trader:         seeder,
		LpTokensMinted: m.LpTokens,
		YesDeposited:   m.YesUsed,
		NoDeposited:    m.NoUsed,
		RefundYes:      m.RefundYes,
		RefundNo:       m.RefundNo,
		LpSupply:       m.LpTokens,
		Timestamp:      now,
	}, true, nil
}

// ResolveMarket closes a market. All later mutations of its pool fail with
// ErrMarketResolved; reads keep working.
func (s *Store) ResolveMarket(marketID string, outcome model.Side) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %s", model.ErrUnknownSide, outcome)
	}
	p, err := s.lookup(marketID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolved {
		return fmt.Errorf("%w: %s", model.ErrMarketResolved, marketID)
	}
	p.resolved = true
	p.outcome = outcome

	s.log.Debug("market resolved", "market", marketID, "outcome", outcome.String())
	return nil
}

// Snapshot returns a committed copy of a market's pool.
func (s *Store) Snapshot(marketID string) (model.LiquidityPool, bool) {
	p, err := s.lookup(marketID)
	if err != nil {
		return model.LiquidityPool{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot(s.now()), true
}

// Snapshots returns committed copies of every pool ordered by market id.
func (s *Store) Snapshots() []model.LiquidityPool {
	s.mu.RLock()
	pools := make([]*poolState, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.mu.RUnlock()

	now := s.now()
	out := make([]model.LiquidityPool, 0, len(pools))
	for _, p := range pools {
		p.mu.RLock()
		out = append(out, p.snapshot(now))
		p.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// snapshot must be called with p.mu held.
func (p *poolState) snapshot(now time.Time) model.LiquidityPool {
	providers := make(map[string]model.LpPosition, len(p.providers))
	for id, pos := range p.providers {
		providers[id] = *pos
	}
	return model.LiquidityPool{
		MarketID:           p.marketID,
		YesReserve:         p.yes,
		NoReserve:          p.no,
		InvariantK:         cpmm.K(p.yes, p.no),
		LpSupply:           p.lpSupply,
		Providers:          providers,
		FeeAccumulator:     p.feeAccumulator,
		RewardsDistributed: p.rewardsDistributed,
		Volume24h:          p.volume.total(now),
		TotalVolume:        p.totalVolume,
		TradeLog:           p.trades.snapshot(),
		Resolved:           p.resolved,
		Outcome:            p.outcome,
		CreatedAt:          p.createdAt,
	}
}

func requireMutable(p *poolState) error {
	if p.resolved {
		return fmt.Errorf("%w: %s", model.ErrMarketResolved, p.marketID)
	}
	return nil
}

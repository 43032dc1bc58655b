package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/outcomeamm/market-engine/internal/cpmm"
	"github.com/outcomeamm/market-engine/internal/fees"
	"github.com/outcomeamm/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func zeroFeeConfig() Config {
	cfg := DefaultConfig()
	cfg.Fees = fees.Schedule{}
	return cfg
}

func buy(market, trader string, side model.Side, notional float64) model.TradeRequest {
	return model.TradeRequest{
		MarketID:       market,
		Trader:         trader,
		Side:           side,
		NotionalAmount: d(notional),
	}
}

func sumLpTokens(p model.LiquidityPool) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Providers {
		total = total.Add(pos.LpTokens)
	}
	return total
}

// --- Pool lifecycle ---

func TestCreatePool_SeedMint(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	r, err := s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)
	assert.True(t, r.LpTokensMinted.Equal(d(10000)), "minted %s", r.LpTokensMinted)
	assert.True(t, r.LpSupply.Equal(d(10000)))

	p, ok := s.Snapshot("m1")
	require.True(t, ok)
	assert.True(t, p.InvariantK.Equal(d(100_000_000)))
	assert.True(t, p.Providers["alice"].LpTokens.Equal(d(10000)))

	_, err = s.CreatePool("m1", "bob", d(1), d(1))
	assert.ErrorIs(t, err, model.ErrPoolAlreadyExists)

	_, created, err := s.EnsurePool("m1", "bob", d(1), d(1))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreatePool_DefaultsToProtocolSeeder(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	r, created, err := s.EnsurePool("m1", "", d(500), d(500))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ProtocolProvider, r.Trader)

	p, _ := s.Snapshot("m1")
	assert.Contains(t, p.Providers, ProtocolProvider)
}

func TestCreatePool_RejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	_, err := s.CreatePool("", "alice", d(1), d(1))
	assert.ErrorIs(t, err, model.ErrInvalidIdentity)
	_, err = s.CreatePool("m1", "alice", d(-1), d(1))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, ok := s.Snapshot("m1")
	assert.False(t, ok)
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fees = fees.Schedule{BaseFeeBps: 10, MakerFeeBps: 50}
	_, err := New(cfg)
	assert.ErrorIs(t, err, fees.ErrInvalidSchedule)
}

func TestNew_ZeroConfig(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.TradeLogCapacity, s.cfg.TradeLogCapacity)
	assert.True(t, def.ProbeNotional.Equal(s.cfg.ProbeNotional))
	assert.Equal(t, def.VolumeWindow, s.cfg.VolumeWindow)
	assert.Equal(t, def.VolumeBucket, s.cfg.VolumeBucket)
	assert.Zero(t, s.cfg.Rewards.Vesting)

	_, err = s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)
	tr, err := s.ExecuteTrade(buy("m1", "carol", model.SideYes, 1000))
	require.NoError(t, err)
	assert.True(t, tr.FeeAmount.IsZero(), "a zero schedule charges no fee, got %s", tr.FeeAmount)
}

// --- Liquidity ---

func TestProvideLiquidity_SeedsEmptyPool(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "", decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	r, err := s.ProvideLiquidity("m1", "alice", d(100), d(200))
	require.NoError(t, err)
	// floor(sqrt(20000)) at 8 decimal places
	assert.Equal(t, "141.42135623", r.LpTokensMinted.String())
	assert.True(t, r.RefundYes.IsZero())
	assert.True(t, r.RefundNo.IsZero())

	p, _ := s.Snapshot("m1")
	assert.True(t, p.YesReserve.Equal(d(100)))
	assert.True(t, p.NoReserve.Equal(d(200)))
	assert.True(t, sumLpTokens(p).Equal(p.LpSupply))
}

func TestProvideLiquidity_EqualProvidersEqualShares(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "", decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	a, err := s.ProvideLiquidity("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	b, err := s.ProvideLiquidity("m1", "bob", d(1000), d(1000))
	require.NoError(t, err)
	assert.True(t, a.LpTokensMinted.Equal(b.LpTokensMinted))

	for _, trader := range []string{"alice", "bob"} {
		st, ok := s.GetProviderStats("m1", trader)
		require.True(t, ok)
		assert.True(t, st.ShareOfPool.Equal(d(0.5)), "%s share %s", trader, st.ShareOfPool)
		assert.True(t, st.YesValue.Equal(d(1000)))
	}
}

func TestProvideLiquidity_RefundsUnmatchedExcess(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)

	r, err := s.ProvideLiquidity("m1", "bob", d(100), d(300))
	require.NoError(t, err)
	assert.True(t, r.YesDeposited.Equal(d(100)))
	assert.True(t, r.NoDeposited.Equal(d(100)))
	assert.True(t, r.RefundNo.Equal(d(200)), "refund %s", r.RefundNo)
	assert.True(t, r.LpTokensMinted.Equal(d(100)))

	p, _ := s.Snapshot("m1")
	// Price is unchanged by a ratio-matched deposit.
	assert.True(t, p.YesReserve.Equal(p.NoReserve))
	assert.True(t, p.InvariantK.Equal(d(1100*1100)))
}

func TestRemoveLiquidity_Proportional(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	_, err = s.ProvideLiquidity("m1", "bob", d(500), d(500))
	require.NoError(t, err)
	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 100))
	require.NoError(t, err)

	before, _ := s.Snapshot("m1")
	r, err := s.RemoveLiquidity("m1", "bob", d(250))
	require.NoError(t, err)

	share := d(250).Div(before.LpSupply)
	tol := d(0.0000001)
	assert.True(t, r.YesReturned.Div(before.YesReserve).Sub(share).Abs().LessThan(tol))
	assert.True(t, r.NoReturned.Div(before.NoReserve).Sub(share).Abs().LessThan(tol))

	after, _ := s.Snapshot("m1")
	assert.True(t, after.YesReserve.Equal(before.YesReserve.Sub(r.YesReturned)))
	assert.True(t, after.NoReserve.Equal(before.NoReserve.Sub(r.NoReturned)))
	assert.True(t, after.LpSupply.Equal(before.LpSupply.Sub(d(250))))
	assert.True(t, after.Providers["bob"].LpTokens.Equal(d(250)))
	assert.True(t, sumLpTokens(after).Equal(after.LpSupply))
}

func TestRemoveLiquidity_Rejects(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	_, err = s.ProvideLiquidity("m1", "bob", d(100), d(100))
	require.NoError(t, err)

	_, err = s.RemoveLiquidity("m1", "bob", d(100.5))
	assert.ErrorIs(t, err, model.ErrInsufficientLpTokens)
	_, err = s.RemoveLiquidity("m1", "nobody", d(1))
	assert.ErrorIs(t, err, model.ErrInsufficientLpTokens)
	_, err = s.RemoveLiquidity("m1", "bob", decimal.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	// Bob leaves, then the last provider cannot drain the pool.
	_, err = s.RemoveLiquidity("m1", "bob", d(100))
	require.NoError(t, err)
	_, err = s.RemoveLiquidity("m1", "alice", d(1000))
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)

	p, _ := s.Snapshot("m1")
	assert.True(t, p.LpSupply.Equal(d(1000)))
}

func TestRemoveLiquidity_RealizesVestedReward(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)

	// 30bps on 1000 is a fee of 3.
	tr, err := s.ExecuteTrade(buy("m1", "carol", model.SideNo, 1000))
	require.NoError(t, err)
	require.True(t, tr.FeeAmount.Equal(d(3)), "fee %s", tr.FeeAmount)

	st, ok := s.GetProviderStats("m1", "alice")
	require.True(t, ok)
	assert.True(t, st.PendingReward.IsZero(), "nothing vests at t=0, got %s", st.PendingReward)

	clock.Advance(7 * 24 * time.Hour)
	r, err := s.RemoveLiquidity("m1", "alice", d(5000))
	require.NoError(t, err)
	assert.True(t, r.RewardRealized.Equal(d(1.5)), "reward %s", r.RewardRealized)

	p, _ := s.Snapshot("m1")
	assert.True(t, p.RewardsDistributed.Equal(d(1.5)))
	assert.True(t, p.Providers["alice"].ClaimedRewards.Equal(d(1.5)))

	st, _ = s.GetProviderStats("m1", "alice")
	assert.True(t, st.PendingReward.Equal(d(1.5)), "pending %s", st.PendingReward)
	assert.True(t, st.ClaimedRewards.Equal(d(1.5)))
	assert.Greater(t, st.AprPercent, 0.0)
}

func TestProvideLiquidity_RestartsVestingAfterExit(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	_, err = s.ProvideLiquidity("m1", "bob", d(100), d(100))
	require.NoError(t, err)
	first, _ := s.GetProviderStats("m1", "bob")

	clock.Advance(time.Hour)
	_, err = s.RemoveLiquidity("m1", "bob", d(100))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = s.ProvideLiquidity("m1", "bob", d(10), d(10))
	require.NoError(t, err)

	second, _ := s.GetProviderStats("m1", "bob")
	assert.Equal(t, first.JoinedAt.Add(2*time.Hour), second.JoinedAt)
	assert.True(t, second.ContributedYes.Equal(d(110)))
}

func TestProvideLiquidity_TopUpBlendsJoinTime(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	_, err = s.ProvideLiquidity("m1", "bob", d(100), d(100))
	require.NoError(t, err)
	joined := clock.Now()

	// Fully vested, then doubles the position.
	clock.Advance(8 * 24 * time.Hour)
	r, err := s.ProvideLiquidity("m1", "bob", d(100), d(100))
	require.NoError(t, err)
	require.True(t, r.LpTokensMinted.Equal(d(100)))

	st, ok := s.GetProviderStats("m1", "bob")
	require.True(t, ok)
	assert.Equal(t, joined.Add(4*24*time.Hour), st.JoinedAt)
	assert.Equal(t, 4*24*time.Hour, st.TimeProvided)

	tr, err := s.ExecuteTrade(buy("m1", "carol", model.SideNo, 1000))
	require.NoError(t, err)
	require.True(t, tr.FeeAmount.Equal(d(3)))

	// 200 of 1200 LP on a fee pool of 3 at a 4/7 weight, not the full 0.5.
	want := fees.DefaultRewardCurve().LpReward(d(3), d(200), d(1200), 4*24*time.Hour)
	w, err := s.RemoveLiquidity("m1", "bob", d(200))
	require.NoError(t, err)
	assert.True(t, w.RewardRealized.Equal(want), "reward %s, want %s", w.RewardRealized, want)
	assert.True(t, w.RewardRealized.LessThan(d(0.5)))
}

func TestBlendJoinedAt(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := t0.Add(10 * time.Hour)

	assert.Equal(t, t0.Add(2*time.Hour), blendJoinedAt(t0, d(400), now, d(100)))
	assert.Equal(t, t0.Add(5*time.Hour), blendJoinedAt(t0, d(100), now, d(100)))
	assert.Equal(t, t0, blendJoinedAt(t0, d(100), now, decimal.Zero))
	assert.Equal(t, now, blendJoinedAt(now, d(100), t0, d(100)), "clock going backwards keeps the join time")
}

// --- Trading ---

func TestExecuteTrade_ReferenceScenario(t *testing.T) {
	s, _ := newTestStore(t, zeroFeeConfig())
	_, err := s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)

	r, err := s.ExecuteTrade(buy("m1", "carol", model.SideYes, 100))
	require.NoError(t, err)
	assert.True(t, r.FeeAmount.IsZero())

	// Complete-set curve: 100 notional mints 100 of each side, the pool
	// keeps the NO and releases YES until the product is restored.
	k := d(100_000_000)
	swapOut := r.SharesOut.Sub(d(100))
	product := d(10000).Sub(swapOut).Mul(d(10100))
	assert.True(t, product.GreaterThanOrEqual(k))
	assert.True(t, product.Sub(k).LessThan(d(0.0002)), "product drift %s", product.Sub(k))
	assert.True(t, r.YesReserve.Mul(r.NoReserve).Equal(product))

	assert.True(t, r.ExecutionPrice.GreaterThan(d(0.5)), "exec %s", r.ExecutionPrice)
	assert.True(t, r.ExecutionPrice.LessThan(r.YesPrice), "exec %s post %s", r.ExecutionPrice, r.YesPrice)

	pos := s.Ledger().GetPosition("m1", "carol")
	assert.True(t, pos.YesShares.Equal(r.SharesOut))
	assert.True(t, pos.TotalInvested.Equal(d(100)))
}

func TestExecuteTrade_FeesStrictlyIncreaseK(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(5000), d(5000))
	require.NoError(t, err)

	prev, _ := s.Snapshot("m1")
	for i := 0; i < 20; i++ {
		side := model.SideYes
		if i%3 == 0 {
			side = model.SideNo
		}
		_, err := s.ExecuteTrade(buy("m1", "carol", side, float64(10+i*7)))
		require.NoError(t, err)

		cur, _ := s.Snapshot("m1")
		assert.True(t, cur.InvariantK.GreaterThan(prev.InvariantK), "trade %d: k %s -> %s", i, prev.InvariantK, cur.InvariantK)
		prev = cur
	}
	assert.True(t, prev.FeeAccumulator.IsPositive())
}

func TestExecuteTrade_TradeLogBounded(t *testing.T) {
	cfg := zeroFeeConfig()
	cfg.TradeLogCapacity = 5
	s, _ := newTestStore(t, cfg)
	_, err := s.CreatePool("m1", "alice", d(100000), d(100000))
	require.NoError(t, err)

	for i := 1; i <= 8; i++ {
		_, err := s.ExecuteTrade(buy("m1", "carol", model.SideYes, float64(i)))
		require.NoError(t, err)
	}

	p, _ := s.Snapshot("m1")
	require.Len(t, p.TradeLog, 5)
	for i, tr := range p.TradeLog {
		assert.True(t, tr.NotionalAmount.Equal(d(float64(i+4))), "entry %d: %s", i, tr.NotionalAmount)
		assert.NotEmpty(t, tr.ID)
	}
}

func TestExecuteTrade_PriceBoundLeavesStateUntouched(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(100), d(100))
	require.NoError(t, err)
	before, _ := s.Snapshot("m1")

	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 1_000_000))
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)

	after, _ := s.Snapshot("m1")
	assert.True(t, after.YesReserve.Equal(before.YesReserve))
	assert.True(t, after.NoReserve.Equal(before.NoReserve))
	assert.True(t, after.FeeAccumulator.IsZero())
	assert.Empty(t, after.TradeLog)
	assert.True(t, s.Ledger().GetPosition("m1", "carol").YesShares.IsZero())
}

func TestExecuteTrade_RejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)

	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 0))
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = s.ExecuteTrade(buy("m1", "carol", model.Side(0), 10))
	assert.ErrorIs(t, err, model.ErrUnknownSide)
	_, err = s.ExecuteTrade(buy("m1", "", model.SideYes, 10))
	assert.ErrorIs(t, err, model.ErrInvalidIdentity)
	_, err = s.ExecuteTrade(buy("missing", "carol", model.SideYes, 10))
	assert.ErrorIs(t, err, model.ErrPoolNotFound)
}

func TestExecuteTrade_EmptyPoolHasNoLiquidity(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "", decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 10))
	assert.ErrorIs(t, err, model.ErrInsufficientLiquidity)
}

func TestQuoteTrade_MatchesExecution(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(2000), d(3000))
	require.NoError(t, err)

	req := buy("m1", "carol", model.SideNo, 250)
	req.TrailingVolume = d(30000)

	q, err := s.QuoteTrade(req)
	require.NoError(t, err)
	snap, _ := s.Snapshot("m1")
	assert.Empty(t, snap.TradeLog, "quote must not commit")

	r, err := s.ExecuteTrade(req)
	require.NoError(t, err)
	assert.True(t, q.SharesOut.Equal(r.SharesOut))
	assert.True(t, q.FeeAmount.Equal(r.FeeAmount))
	assert.True(t, q.NoPrice.Equal(r.NoPrice))
	assert.Equal(t, int64(10), r.RebateBps)
}

// --- Resolution ---

func TestResolveMarket_BlocksMutations(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(1000), d(1000))
	require.NoError(t, err)
	require.NoError(t, s.ResolveMarket("m1", model.SideYes))

	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 10))
	assert.ErrorIs(t, err, model.ErrMarketResolved)
	_, err = s.QuoteTrade(buy("m1", "carol", model.SideYes, 10))
	assert.ErrorIs(t, err, model.ErrMarketResolved)
	_, err = s.ProvideLiquidity("m1", "bob", d(10), d(10))
	assert.ErrorIs(t, err, model.ErrMarketResolved)
	_, err = s.RemoveLiquidity("m1", "alice", d(10))
	assert.ErrorIs(t, err, model.ErrMarketResolved)
	assert.ErrorIs(t, s.ResolveMarket("m1", model.SideNo), model.ErrMarketResolved)

	p, ok := s.Snapshot("m1")
	require.True(t, ok)
	assert.True(t, p.Resolved)
	assert.Equal(t, model.SideYes, p.Outcome)
	assert.True(t, s.GetCurrentPrice("m1").Exists)
}

func TestResolveMarket_Rejects(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	assert.ErrorIs(t, s.ResolveMarket("missing", model.SideYes), model.ErrPoolNotFound)
	assert.ErrorIs(t, s.ResolveMarket("missing", model.Side(7)), model.ErrUnknownSide)
}

// --- Reads ---

func TestGetCurrentPrice_NeutralWithoutPool(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())

	q := s.GetCurrentPrice("nope")
	assert.False(t, q.Exists)
	assert.True(t, q.YesPrice.Equal(d(0.5)))
	assert.True(t, q.NoPrice.Equal(d(0.5)))
	assert.True(t, q.Liquidity.IsZero())

	st, ok := s.GetProviderStats("nope", "alice")
	assert.False(t, ok)
	assert.Equal(t, "alice", st.Trader)
	assert.True(t, st.LpTokens.IsZero())
	assert.True(t, st.PendingReward.IsZero())
}

func TestGetCurrentPrice_BalancedPool(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)

	q := s.GetCurrentPrice("m1")
	assert.True(t, q.Exists)
	assert.True(t, q.YesPrice.Equal(q.NoPrice))
	assert.True(t, q.YesPrice.GreaterThan(d(0.5)))
	assert.True(t, q.Spread.IsPositive())
	assert.True(t, q.Spread.LessThan(d(0.001)))
	assert.True(t, q.Liquidity.Equal(d(10000)), "liquidity %s", q.Liquidity)
}

func TestReads_DoNotMutate(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(3000), d(7000))
	require.NoError(t, err)
	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 40))
	require.NoError(t, err)

	before, _ := s.Snapshot("m1")
	for i := 0; i < 10; i++ {
		s.GetCurrentPrice("m1")
		s.GetProviderStats("m1", "alice")
		_, err := s.QuoteTrade(buy("m1", "carol", model.SideNo, 100))
		require.NoError(t, err)
	}
	after, _ := s.Snapshot("m1")
	assert.True(t, after.YesReserve.Equal(before.YesReserve))
	assert.True(t, after.NoReserve.Equal(before.NoReserve))
	assert.True(t, after.LpSupply.Equal(before.LpSupply))
	assert.True(t, after.FeeAccumulator.Equal(before.FeeAccumulator))
	assert.Len(t, after.TradeLog, len(before.TradeLog))
	assert.True(t, s.Ledger().GetPosition("m1", "carol").NoShares.IsZero())
}

func TestVolume24h_RollsOff(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "alice", d(10000), d(10000))
	require.NoError(t, err)

	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 100))
	require.NoError(t, err)
	clock.Advance(25 * time.Hour)
	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideNo, 50))
	require.NoError(t, err)

	p, _ := s.Snapshot("m1")
	assert.True(t, p.Volume24h.Equal(d(50)), "24h volume %s", p.Volume24h)
	assert.True(t, p.TotalVolume.Equal(d(150)))
	assert.True(t, s.GetCurrentPrice("m1").Volume24h.Equal(d(50)))
}

func TestMarkPrices(t *testing.T) {
	s, _ := newTestStore(t, zeroFeeConfig())

	yes, no := s.MarkPrices("missing")
	assert.True(t, yes.Equal(d(0.5)) && no.Equal(d(0.5)))

	_, err := s.CreatePool("m1", "", d(300), d(100))
	require.NoError(t, err)
	yes, no = s.MarkPrices("m1")
	assert.True(t, yes.Equal(d(0.25)), "yes %s", yes)
	assert.True(t, no.Equal(d(0.75)), "no %s", no)

	require.NoError(t, s.ResolveMarket("m1", model.SideNo))
	yes, no = s.MarkPrices("m1")
	assert.True(t, yes.IsZero())
	assert.True(t, no.Equal(d(1)))
}

func TestPriceSnapshot(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	_, ok := s.PriceSnapshot("m1")
	assert.False(t, ok)

	_, err := s.CreatePool("m1", "", d(40), d(60))
	require.NoError(t, err)
	_, err = s.ExecuteTrade(buy("m1", "carol", model.SideYes, 5))
	require.NoError(t, err)

	snap, ok := s.PriceSnapshot("m1")
	require.True(t, ok)
	p, _ := s.Snapshot("m1")
	q := s.GetCurrentPrice("m1")
	assert.Equal(t, "m1", snap.MarketID)
	assert.True(t, snap.YesReserve.Equal(p.YesReserve))
	assert.True(t, snap.NoReserve.Equal(p.NoReserve))
	assert.True(t, snap.YesPrice.Equal(q.YesPrice))
	assert.True(t, snap.NoPrice.Equal(q.NoPrice))
	assert.Equal(t, clock.Now(), snap.Timestamp)
}

func TestPriceSnapshot_ConsistentUnderTrading(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	_, err := s.CreatePool("m1", "", d(10000), d(10000))
	require.NoError(t, err)
	probe := DefaultConfig().ProbeNotional

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		side := model.SideYes
		if w%2 == 1 {
			side = model.SideNo
		}
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				if _, err := s.ExecuteTrade(buy("m1", fmt.Sprintf("t%d", i), side, 7)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			snap, ok := s.PriceSnapshot("m1")
			if !ok {
				return fmt.Errorf("snapshot %d: pool missing", i)
			}
			q, err := cpmm.Swap(snap.YesReserve, snap.NoReserve, model.SideYes, probe)
			if err != nil {
				return err
			}
			if want := q.ExecutionPrice.Round(cpmm.Scale); !snap.YesPrice.Equal(want) {
				return fmt.Errorf("snapshot %d: price %s does not match reserves %s/%s (want %s)",
					i, snap.YesPrice, snap.YesReserve, snap.NoReserve, want)
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
}

func TestMarkets_Sorted(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	for _, id := range []string{"b", "c", "a"} {
		_, err := s.CreatePool(id, "alice", d(10), d(10))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Markets())
}

// --- Concurrency ---

func TestStore_ConcurrentMutations(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	markets := []string{"m0", "m1", "m2"}
	for _, id := range markets {
		_, err := s.CreatePool(id, "alice", d(10000), d(10000))
		require.NoError(t, err)
	}

	var g errgroup.Group
	for i := 0; i < 30; i++ {
		i := i
		market := markets[i%len(markets)]
		trader := fmt.Sprintf("lp%d", i)
		g.Go(func() error {
			r, err := s.ProvideLiquidity(market, trader, d(100), d(100))
			if err != nil {
				return err
			}
			_, err = s.RemoveLiquidity(market, trader, r.LpTokensMinted.Div(d(2)).RoundFloor(cpmm.Scale))
			return err
		})
		g.Go(func() error {
			side := model.SideYes
			if i%2 == 0 {
				side = model.SideNo
			}
			_, err := s.ExecuteTrade(buy(market, "trader"+trader, side, 10))
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, p := range s.Snapshots() {
		assert.True(t, sumLpTokens(p).Equal(p.LpSupply), "%s: providers %s supply %s", p.MarketID, sumLpTokens(p), p.LpSupply)
		assert.Len(t, p.TradeLog, 10)
		for _, pos := range p.Providers {
			assert.False(t, pos.LpTokens.IsNegative())
		}
	}
}

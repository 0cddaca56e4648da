package gate_test

import (
	"testing"

	"MarginHealth/internal/gate"
	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
	"MarginHealth/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type world struct {
	group   uuid.UUID
	account *state.Account
	tokens  []testutil.Token
	perps   []testutil.Perp
}

// newWorld has tokens A and B (unit price, init 0.2, maint 0.1) and a perp
// settling in A, priced at 2 with init 0.25 and maint 0.125.
func newWorld(t *testing.T) *world {
	t.Helper()
	group := uuid.New()
	return &world{
		group:   group,
		account: &state.Account{ID: uuid.New(), Group: group},
		tokens: []testutil.Token{
			testutil.MockBankAndOracle(group, 0, "1", "0.2", "0.1"),
			testutil.MockBankAndOracle(group, 1, "1", "0.2", "0.1"),
		},
		perps: []testutil.Perp{
			testutil.MockPerpMarket(group, 0, 0, "2", "0.25", "0.125"),
		},
	}
}

func (w *world) retriever(t *testing.T, nowSlot uint64) health.AccountRetriever {
	t.Helper()
	var recs []health.Record
	for _, tok := range w.tokens {
		recs = append(recs, tok.Bank, tok.Oracle)
	}
	for _, p := range w.perps {
		recs = append(recs, p.Market, p.Oracle)
	}
	r, err := health.NewScanningRetriever(w.group, recs, nowSlot)
	require.NoError(t, err)
	return r
}

func (w *world) balance(t *testing.T, i int) fpmath.I80F48 {
	t.Helper()
	pos, _, err := w.account.TokenPosition(w.tokens[i].Bank.TokenIndex)
	require.NoError(t, err)
	native, err := pos.Native(w.tokens[i].Bank)
	require.NoError(t, err)
	return native
}

func (w *world) initHealth(t *testing.T) fpmath.I80F48 {
	t.Helper()
	h, err := health.ComputeHealth(w.account, health.Init, w.retriever(t, 0))
	require.NoError(t, err)
	return h
}

func requireNear(t *testing.T, want string, got fpmath.I80F48) {
	t.Helper()
	diff, err := got.Sub(fpmath.MustParse(want))
	require.NoError(t, err)
	abs, err := diff.Abs()
	require.NoError(t, err)
	require.True(t, abs.LessThan(fpmath.MustParse("0.000001")), "want ~%s, got %s", want, got)
}

// ============================================================================
// Test: token withdraw
// ============================================================================

func TestTokenWithdraw_Healthy(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")

	out, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.FromInt(100))
	require.NoError(t, err)
	requireNear(t, "800", out.PreInitHealth)
	requireNear(t, "720", out.PostInitHealth)
	require.False(t, out.Lenient)
	require.Equal(t, "900", w.balance(t, 0).String())
	require.Equal(t, int64(1), w.account.Version)
}

func TestTokenWithdraw_RejectedBorrowLeavesNoTrace(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	before := w.account.Clone()

	// 800 of weighted assets cannot carry 700 * 1.2 of liabilities
	_, err := gate.TokenWithdraw(w.account, w.tokens[1].Bank, w.retriever(t, 0), fpmath.FromInt(700))
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)

	require.Equal(t, before, w.account)
	require.True(t, w.tokens[1].Bank.IndexedBorrows.IsZero())

	_, err = gate.TokenWithdraw(w.account, w.tokens[1].Bank, w.retriever(t, 0), fpmath.FromInt(600))
	require.NoError(t, err)
	require.Equal(t, "-600", w.balance(t, 1).String())
	require.Equal(t, "600", w.tokens[1].Bank.IndexedBorrows.String())
}

func TestTokenWithdraw_FullWithdrawClosesPosition(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")

	out, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.FromInt(1000))
	require.NoError(t, err)
	require.True(t, out.PostInitHealth.IsZero())
	require.Empty(t, w.account.Tokens)
}

func TestTokenWithdraw_BeingLiquidated(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-700")
	w.account.Liquidation = state.LiquidationStateBeingLiquidated

	// liquidation end health 800 - 840 is still negative
	_, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.One)
	require.ErrorIs(t, err, gate.ErrBeingLiquidated)
	require.True(t, w.account.BeingLiquidated())

	// with the borrow reduced the account recovers and may withdraw
	w.account.Tokens[1].IndexedPosition = fpmath.FromInt(-100)
	out, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.One)
	require.NoError(t, err)
	require.False(t, out.BeingLiquidated)
	require.False(t, w.account.BeingLiquidated())
}

func TestTokenWithdraw_NegativeHealthMustImprove(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "100")
	testutil.SetBalance(w.account, w.tokens[1], "-200")

	_, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.One)
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)
	require.Equal(t, "100", w.balance(t, 0).String())
}

func TestTokenWithdraw_StaleOracleFallsBackToLenient(t *testing.T) {
	w := newWorld(t)
	stale := testutil.MockBankAndOracle(w.group, 2, "1", "0.2", "0.1")
	stale.Bank.OracleConfig.MaxStalenessSlots = 10
	w.tokens = append(w.tokens, stale)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, stale, "5000")

	out, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 100), fpmath.FromInt(100))
	require.NoError(t, err)
	require.True(t, out.Lenient)
	// the stale token counts for nothing
	requireNear(t, "720", out.PostInitHealth)

	// without a pre check the post health has to be non-negative
	_, err = gate.TokenWithdraw(w.account, w.tokens[1].Bank, w.retriever(t, 100), fpmath.FromInt(700))
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)
	require.Len(t, w.account.Tokens, 2)
}

func TestTokenWithdraw_StaleLiabilityBlocksLenient(t *testing.T) {
	w := newWorld(t)
	stale := testutil.MockBankAndOracle(w.group, 2, "1", "0.2", "0.1")
	stale.Bank.OracleConfig.MaxStalenessSlots = 10
	w.tokens = append(w.tokens, stale)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, stale, "-5000")
	before := w.account.Clone()

	// a lenient cache would value the 5000 borrow at zero
	_, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 100), fpmath.FromInt(900))
	require.ErrorIs(t, err, health.ErrStaleOracle)
	require.Equal(t, before, w.account)
	require.Equal(t, "1000", w.balance(t, 0).String())

	// borrowing the stale token itself is refused the same way
	w = newWorld(t)
	stale = testutil.MockBankAndOracle(w.group, 2, "1", "0.2", "0.1")
	stale.Bank.OracleConfig.MaxStalenessSlots = 10
	w.tokens = append(w.tokens, stale)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, stale, "10")

	_, err = gate.TokenWithdraw(w.account, stale.Bank, w.retriever(t, 100), fpmath.FromInt(100))
	require.ErrorIs(t, err, health.ErrStaleOracle)
	require.Equal(t, "10", w.balance(t, 2).String())
	require.True(t, stale.Bank.IndexedBorrows.IsZero())
}

func TestTokenWithdraw_InvalidAmount(t *testing.T) {
	w := newWorld(t)
	_, err := gate.TokenWithdraw(w.account, w.tokens[0].Bank, w.retriever(t, 0), fpmath.Zero)
	require.ErrorIs(t, err, gate.ErrInvalidAmount)
}

// ============================================================================
// Test: token deposit
// ============================================================================

func TestTokenDeposit_EndsLiquidation(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-900")
	w.account.Liquidation = state.LiquidationStateBeingLiquidated

	// 800 - 1020 is still negative
	out, err := gate.TokenDeposit(w.account, w.tokens[1].Bank, w.retriever(t, 0), fpmath.FromInt(50))
	require.NoError(t, err)
	require.True(t, out.BeingLiquidated)

	// 800 - 600
	out, err = gate.TokenDeposit(w.account, w.tokens[1].Bank, w.retriever(t, 0), fpmath.FromInt(350))
	require.NoError(t, err)
	require.False(t, out.BeingLiquidated)
	require.Equal(t, state.LiquidationStateHealthy, w.account.Liquidation)
	require.Equal(t, int64(2), w.account.Version)
}

func TestTokenDeposit_StaleLiabilityKeepsLiquidation(t *testing.T) {
	w := newWorld(t)
	stale := testutil.MockBankAndOracle(w.group, 2, "1", "0.2", "0.1")
	stale.Bank.OracleConfig.MaxStalenessSlots = 10
	w.tokens = append(w.tokens, stale)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, stale, "-5000")
	w.account.Liquidation = state.LiquidationStateBeingLiquidated

	out, err := gate.TokenDeposit(w.account, w.tokens[1].Bank, w.retriever(t, 100), fpmath.One)
	require.NoError(t, err)
	require.True(t, out.Lenient)
	require.True(t, out.BeingLiquidated)
	require.Equal(t, state.LiquidationStateBeingLiquidated, w.account.Liquidation)
	require.Equal(t, "1", w.balance(t, 1).Floor().String())

	// a stale asset only lowers the lenient health, so recovery still works
	pos, _, err := w.account.TokenPosition(2)
	require.NoError(t, err)
	pos.IndexedPosition = fpmath.FromInt(5000)
	out, err = gate.TokenDeposit(w.account, w.tokens[1].Bank, w.retriever(t, 100), fpmath.One)
	require.NoError(t, err)
	require.False(t, out.BeingLiquidated)
	require.Equal(t, state.LiquidationStateHealthy, w.account.Liquidation)
}

func TestTokenDeposit_CreatesPosition(t *testing.T) {
	w := newWorld(t)
	out, err := gate.TokenDeposit(w.account, w.tokens[1].Bank, w.retriever(t, 0), fpmath.FromInt(10))
	require.NoError(t, err)
	require.False(t, out.Lenient)
	require.Equal(t, "10", w.balance(t, 1).Floor().String())
}

// ============================================================================
// Test: perp orders and fills
// ============================================================================

func TestPerpPlaceOrder(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "100")
	market := w.perps[0].Market

	// bid for 10 base: 10 * 0.75 * 2 - 20 = -5, leaving 95 * 0.8
	out, err := gate.PerpPlaceOrder(w.account, market, w.retriever(t, 0), state.SideBid, 1)
	require.NoError(t, err)
	requireNear(t, "76", out.PostInitHealth)

	// bid for 1000 base: 1000 * 0.75 * 2 - 2000 = -500
	_, err = gate.PerpPlaceOrder(w.account, market, w.retriever(t, 0), state.SideBid, 100)
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)

	pos, err := w.account.PerpPosition(market.PerpMarketIndex)
	require.NoError(t, err)
	require.Equal(t, int64(1), pos.BidsBaseLots)

	_, err = gate.PerpPlaceOrder(w.account, market, w.retriever(t, 0), state.SideAsk, 0)
	require.ErrorIs(t, err, gate.ErrInvalidAmount)
}

func TestPerpFill(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "100")
	market := w.perps[0].Market
	two := fpmath.FromInt(2)

	_, err := gate.PerpPlaceOrder(w.account, market, w.retriever(t, 0), state.SideBid, 2)
	require.NoError(t, err)

	out, err := gate.PerpFill(w.account, market, w.retriever(t, 0), gate.Fill{Side: state.SideBid, BaseLots: 2, Price: two, Maker: true})
	require.NoError(t, err)
	pos, err := w.account.PerpPosition(market.PerpMarketIndex)
	require.NoError(t, err)
	require.Equal(t, int64(2), pos.BasePositionLots)
	require.Zero(t, pos.BidsBaseLots)
	require.Equal(t, "-40", pos.QuotePositionNative.String())
	require.Equal(t, int64(2), market.OpenInterestLots)
	require.True(t, out.PostInitHealth.Equal(w.initHealth(t)))

	// closing the position restores the open interest
	_, err = gate.PerpFill(w.account, market, w.retriever(t, 0), gate.Fill{Side: state.SideAsk, BaseLots: 2, Price: two})
	require.NoError(t, err)
	require.Zero(t, pos.BasePositionLots)
	require.True(t, pos.QuotePositionNative.IsZero())
	require.Zero(t, market.OpenInterestLots)

	_, err = gate.PerpFill(w.account, market, w.retriever(t, 0), gate.Fill{Side: state.SideBid, BaseLots: 100, Price: two})
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)
	require.Zero(t, market.OpenInterestLots)
	pos, err = w.account.PerpPosition(market.PerpMarketIndex)
	require.NoError(t, err)
	require.Zero(t, pos.BasePositionLots)
}

// ============================================================================
// Test: liquidation
// ============================================================================

func TestLiquidationCheck_Hysteresis(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-700")

	res, _, err := gate.LiquidationCheck(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.Equal(t, gate.NotLiquidatable, res)

	// maint 900 - 990
	w.account.Tokens[1].IndexedPosition = fpmath.FromInt(-900)
	res, hc, err := gate.LiquidationCheck(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.Equal(t, gate.Liquidatable, res)
	require.True(t, hc.BeingLiquidated)
	require.Equal(t, state.LiquidationStateBeingLiquidated, w.account.Liquidation)

	// maint is positive again but liquidation end health is not
	w.account.Tokens[1].IndexedPosition = fpmath.FromInt(-750)
	res, _, err = gate.LiquidationCheck(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.Equal(t, gate.Liquidatable, res)

	w.account.Tokens[1].IndexedPosition = fpmath.FromInt(-600)
	res, _, err = gate.LiquidationCheck(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.Equal(t, gate.BecameNotLiquidatable, res)
	require.Equal(t, state.LiquidationStateHealthy, w.account.Liquidation)
}

func TestLiquidationCheck_StrictOnly(t *testing.T) {
	w := newWorld(t)
	w.tokens[1].Bank.OracleConfig.MaxStalenessSlots = 10
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-900")

	_, _, err := gate.LiquidationCheck(w.account, w.retriever(t, 100))
	require.ErrorIs(t, err, health.ErrStaleOracle)
	require.False(t, w.account.BeingLiquidated())
}

func TestBankruptcy(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[1], "-100")

	_, err := gate.Bankruptcy(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.Equal(t, state.LiquidationStateBankrupt, w.account.Liquidation)
}

func TestBankruptcy_AssetsLeft(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-900")

	_, err := gate.Bankruptcy(w.account, w.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrNotBankrupt)
	require.ErrorIs(t, err, health.ErrHasLiquidatableTokenPosition)
	require.Equal(t, state.LiquidationStateBeingLiquidated, w.account.Liquidation)

	healthy := newWorld(t)
	testutil.SetBalance(healthy.account, healthy.tokens[0], "1000")
	_, err = gate.Bankruptcy(healthy.account, healthy.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrNotBankrupt)
}

// ============================================================================
// Test: pre and post checks
// ============================================================================

func TestCheckHealthPost_AllowsImprovement(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "100")
	testutil.SetBalance(w.account, w.tokens[1], "-200")

	hc, err := health.NewHealthCache(w.account, w.retriever(t, 0), health.Strict)
	require.NoError(t, err)
	pre, err := gate.CheckHealthPre(hc, w.account)
	require.NoError(t, err)
	require.True(t, pre.IsNegative())

	require.NoError(t, hc.AdjustTokenBalance(w.tokens[1].Bank, fpmath.FromInt(50)))
	post, err := gate.CheckHealthPost(hc, w.account, pre)
	require.NoError(t, err)
	require.True(t, post.IsNegative())
	require.True(t, post.GreaterThan(pre))

	_, err = gate.CheckHealthPost(hc, w.account, fpmath.Zero)
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)
}

// ============================================================================
// Test: health region
// ============================================================================

func TestHealthRegion_ChecksOnlyAtEnd(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")

	region, err := gate.BeginHealthRegion(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	requireNear(t, "800", region.PreInitHealth())

	// 700 of B alone would leave Init health at -40
	require.NoError(t, region.TokenWithdraw(w.tokens[1].Bank, fpmath.FromInt(700)))
	require.NoError(t, region.TokenDeposit(w.tokens[0].Bank, fpmath.FromInt(100)))

	out, err := region.End(w.retriever(t, 0))
	require.NoError(t, err)
	requireNear(t, "800", out.PreInitHealth)
	requireNear(t, "40", out.PostInitHealth)
	require.Equal(t, "1100", w.balance(t, 0).String())
	require.Equal(t, "-700", w.balance(t, 1).String())
	require.Equal(t, int64(1), w.account.Version)

	_, err = region.End(w.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrHealthRegionClosed)
	require.ErrorIs(t, region.TokenDeposit(w.tokens[0].Bank, fpmath.One), gate.ErrHealthRegionClosed)
	require.Equal(t, int64(1), w.account.Version)
}

func TestHealthRegion_FailedEndRestoresEverything(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	before := w.account.Clone()
	market := w.perps[0].Market

	region, err := gate.BeginHealthRegion(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.NoError(t, region.TokenWithdraw(w.tokens[1].Bank, fpmath.FromInt(900)))
	require.NoError(t, region.PerpFill(market, gate.Fill{Side: state.SideBid, BaseLots: 5, Price: fpmath.FromInt(2)}))
	require.Equal(t, int64(5), market.OpenInterestLots)

	_, err = region.End(w.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrHealthMustBePositiveOrIncrease)
	require.Equal(t, before, w.account)
	require.True(t, w.tokens[1].Bank.IndexedBorrows.IsZero())
	require.Zero(t, market.OpenInterestLots)
}

func TestHealthRegion_PerpRoundTrip(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "100")
	market := w.perps[0].Market
	two := fpmath.FromInt(2)

	region, err := gate.BeginHealthRegion(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	// the open leg alone fails a per-fill check
	require.NoError(t, region.PerpFill(market, gate.Fill{Side: state.SideBid, BaseLots: 100, Price: two}))
	require.NoError(t, region.PerpFill(market, gate.Fill{Side: state.SideAsk, BaseLots: 100, Price: two}))

	out, err := region.End(w.retriever(t, 0))
	require.NoError(t, err)
	requireNear(t, "80", out.PostInitHealth)
	pos, err := w.account.PerpPosition(market.PerpMarketIndex)
	require.NoError(t, err)
	require.Zero(t, pos.BasePositionLots)
	require.Zero(t, market.OpenInterestLots)
	require.Equal(t, int64(1), w.account.Version)
}

func TestHealthRegion_BeginAndAbort(t *testing.T) {
	w := newWorld(t)
	testutil.SetBalance(w.account, w.tokens[0], "1000")
	testutil.SetBalance(w.account, w.tokens[1], "-700")
	w.account.Liquidation = state.LiquidationStateBeingLiquidated

	_, err := gate.BeginHealthRegion(w.account, w.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrBeingLiquidated)

	w.account.Liquidation = state.LiquidationStateHealthy
	before := w.account.Clone()
	region, err := gate.BeginHealthRegion(w.account, w.retriever(t, 0))
	require.NoError(t, err)
	require.NoError(t, region.TokenDeposit(w.tokens[1].Bank, fpmath.FromInt(700)))
	require.ErrorIs(t, region.TokenWithdraw(w.tokens[0].Bank, fpmath.Zero), gate.ErrInvalidAmount)
	region.Abort()
	require.Equal(t, before, w.account)

	_, err = region.End(w.retriever(t, 0))
	require.ErrorIs(t, err, gate.ErrHealthRegionClosed)
}

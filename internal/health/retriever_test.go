package health_test

import (
	"math/rand"
	"testing"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"
	"MarginHealth/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type bogusRecord struct{}

func (bogusRecord) RecordKey() uuid.UUID { return uuid.Nil }

// richAccount has three tokens, one spot open orders account and two perps,
// one of which settles into a token the account holds no position in.
func richAccount(t *testing.T) (*state.Account, []health.Record) {
	t.Helper()
	group := uuid.New()
	usdc := testutil.MockBankAndOracle(group, 0, "1", "0.1", "0.05")
	sol := testutil.MockBankAndOracle(group, 1, "20", "0.3", "0.15")
	btc := testutil.MockBankAndOracle(group, 2, "30000", "0.2", "0.1")
	usdt := testutil.MockBankAndOracle(group, 3, "1", "0.1", "0.05")
	solPerp := testutil.MockPerpMarket(group, 0, 0, "20", "0.3", "0.15")
	btcPerp := testutil.MockPerpMarket(group, 1, 3, "30000", "0.2", "0.1")

	acct := newAccount(group)
	testutil.SetBalance(acct, usdc, "5000")
	testutil.SetBalance(acct, sol, "-40")
	testutil.SetBalance(acct, btc, "0.5")

	oo := &state.OpenOrders{Key: uuid.New(), MarketIndex: 4, BaseTotal: 12, BaseFree: 2, QuoteTotal: 300}
	acct.CreateSerum3Orders(state.Serum3Orders{MarketIndex: 4, OpenOrders: oo.Key, BaseTokenIndex: 1, QuoteTokenIndex: 0})

	p0 := acct.EnsurePerpPosition(solPerp.Market)
	p0.BasePositionLots = -7
	p0.QuotePositionNative = fpmath.FromInt(1500)
	p0.BidsBaseLots = 2
	p1 := acct.EnsurePerpPosition(btcPerp.Market)
	p1.QuotePositionNative = fpmath.FromInt(-120)

	return acct, records([]testutil.Token{usdc, sol, btc, usdt}, []testutil.Perp{solPerp, btcPerp}, oo)
}

// ============================================================================
// Test: retriever equivalence
// ============================================================================

func TestRetrievers_ProduceIdenticalCaches(t *testing.T) {
	acct, recs := richAccount(t)

	fromFixed, err := health.NewHealthCache(acct, fixed(t, acct, recs), health.Strict)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]health.Record(nil), recs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		fromScan, err := health.NewHealthCache(acct, scanning(t, acct, shuffled), health.Strict)
		require.NoError(t, err)
		require.Equal(t, fromFixed, fromScan)
	}

	require.Len(t, fromFixed.TokenInfos, 4, "usdt is fetched for the btc perp")
	require.Equal(t, state.TokenIndex(3), fromFixed.TokenInfos[3].TokenIndex)
}

func TestRetrievers_LenientCachesMatch(t *testing.T) {
	cases := []struct {
		name     string
		stale    func(r health.Record)
		excluded []string
	}{
		{
			name: "token and perp oracles",
			stale: func(r health.Record) {
				switch v := r.(type) {
				case *state.Bank:
					if v.TokenIndex == 1 {
						v.OracleConfig.MaxStalenessSlots = 10
					}
				case *state.PerpMarket:
					if v.PerpMarketIndex == 0 {
						v.OracleConfig.MaxStalenessSlots = 10
					}
				}
			},
			excluded: []string{"token:1", "perp:0"},
		},
		{
			name: "settle token fetched only for a perp",
			stale: func(r health.Record) {
				if v, ok := r.(*state.Bank); ok && v.TokenIndex == 3 {
					v.OracleConfig.MaxStalenessSlots = 10
				}
			},
			excluded: []string{"token:3"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acct, recs := richAccount(t)
			for _, r := range recs {
				tc.stale(r)
			}

			fixedRetriever, err := health.NewFixedOrderRetrieverForAccount(acct, recs, 100)
			require.NoError(t, err)
			_, err = health.NewHealthCache(acct, fixedRetriever, health.Strict)
			require.ErrorIs(t, err, health.ErrStaleOracle)
			var ie *health.InstrumentError
			require.ErrorAs(t, err, &ie)
			require.Equal(t, health.KindToken, ie.Kind)

			fromFixed, err := health.NewHealthCache(acct, fixedRetriever, health.Lenient)
			require.NoError(t, err)
			require.Equal(t, tc.excluded, fromFixed.Excluded())

			rng := rand.New(rand.NewSource(11))
			for i := 0; i < 3; i++ {
				shuffled := append([]health.Record(nil), recs...)
				rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
				scan, err := health.NewScanningRetriever(acct.Group, shuffled, 100)
				require.NoError(t, err)

				fromScan, err := health.NewHealthCache(acct, scan, health.Lenient)
				require.NoError(t, err)
				require.Equal(t, fromFixed, fromScan)
				for _, ht := range allHealthTypes {
					require.True(t, mustHealth(t, fromFixed, ht).Equal(mustHealth(t, fromScan, ht)), ht.String())
				}
			}
		})
	}
}

func TestFixedOrder_Layout(t *testing.T) {
	acct, recs := richAccount(t)
	r := fixed(t, acct, recs)
	layout := r.Records()

	// 3 banks, 3 oracles, 2 perps, 2 perp oracles, 1 open orders, 1 extra pair
	require.Len(t, layout, 13)
	require.IsType(t, &state.Bank{}, layout[0])
	require.IsType(t, &oracle.Account{}, layout[3])
	require.IsType(t, &state.PerpMarket{}, layout[6])
	require.IsType(t, &oracle.Account{}, layout[8])
	require.IsType(t, &state.OpenOrders{}, layout[10])
	require.Equal(t, state.TokenIndex(3), layout[11].(*state.Bank).TokenIndex)
	require.IsType(t, &oracle.Account{}, layout[12])
}

// ============================================================================
// Test: retriever errors
// ============================================================================

func TestFixedOrder_WrongPositionFails(t *testing.T) {
	group := uuid.New()
	a := testutil.MockBankAndOracle(group, 0, "1", "0", "0")
	b := testutil.MockBankAndOracle(group, 1, "1", "0", "0")
	acct := newAccount(group)
	testutil.SetBalance(acct, a, "1")
	testutil.SetBalance(acct, b, "1")

	// banks swapped relative to the account's positions
	swapped := []health.Record{b.Bank, a.Bank, b.Oracle, a.Oracle}
	r, err := health.NewFixedOrderRetriever(group, swapped, 2, 0, 0, 0)
	require.NoError(t, err)
	_, err = health.NewHealthCache(acct, r, health.Strict)
	require.ErrorIs(t, err, health.ErrMissingInstrumentRecord)

	// oracle where a bank belongs
	misplaced := []health.Record{a.Oracle, b.Bank, a.Bank, b.Oracle}
	r, err = health.NewFixedOrderRetriever(group, misplaced, 2, 0, 0, 0)
	require.NoError(t, err)
	_, err = health.NewHealthCache(acct, r, health.Strict)
	require.ErrorIs(t, err, health.ErrMissingInstrumentRecord)

	// oracles in the wrong order do not match the bank's oracle key
	crossed := []health.Record{a.Bank, b.Bank, b.Oracle, a.Oracle}
	r, err = health.NewFixedOrderRetriever(group, crossed, 2, 0, 0, 0)
	require.NoError(t, err)
	_, err = health.NewHealthCache(acct, r, health.Strict)
	require.ErrorIs(t, err, health.ErrMissingInstrumentRecord)

	_, err = health.NewFixedOrderRetriever(group, swapped[:3], 2, 0, 0, 0)
	require.ErrorIs(t, err, health.ErrMissingInstrumentRecord)
}

func TestFixedOrder_GroupMismatch(t *testing.T) {
	group := uuid.New()
	other := testutil.MockBankAndOracle(uuid.New(), 0, "1", "0", "0")
	acct := newAccount(group)
	testutil.SetBalance(acct, other, "1")

	r, err := health.NewFixedOrderRetriever(group, []health.Record{other.Bank, other.Oracle}, 1, 0, 0, 0)
	require.NoError(t, err)
	_, err = health.NewHealthCache(acct, r, health.Strict)
	require.ErrorIs(t, err, health.ErrGroupMismatch)
}

func TestScanning_RejectsBadRecords(t *testing.T) {
	group := uuid.New()
	a := testutil.MockBankAndOracle(group, 0, "1", "0", "0")
	dup := testutil.MockBankAndOracle(group, 0, "1", "0", "0")
	foreign := testutil.MockBankAndOracle(uuid.New(), 1, "1", "0", "0")

	_, err := health.NewScanningRetriever(group, []health.Record{a.Bank, a.Oracle, dup.Bank}, 0)
	require.ErrorIs(t, err, health.ErrDuplicateInstrumentRecord)

	_, err = health.NewScanningRetriever(group, []health.Record{a.Bank, foreign.Bank}, 0)
	require.ErrorIs(t, err, health.ErrGroupMismatch)

	_, err = health.NewScanningRetriever(group, []health.Record{a.Bank, bogusRecord{}}, 0)
	require.ErrorIs(t, err, health.ErrUnknownRecordKind)

	// the same record twice is not a duplicate
	_, err = health.NewScanningRetriever(group, []health.Record{a.Bank, a.Oracle, a.Bank}, 0)
	require.NoError(t, err)
}

func TestScanning_MissingRecords(t *testing.T) {
	acct, recs := richAccount(t)

	for i := range recs {
		without := append(append([]health.Record(nil), recs[:i]...), recs[i+1:]...)
		r, err := health.NewScanningRetriever(acct.Group, without, 0)
		require.NoError(t, err)
		_, err = health.NewHealthCache(acct, r, health.Strict)
		require.ErrorIs(t, err, health.ErrMissingInstrumentRecord, "record %d (%T)", i, recs[i])
	}
}

func TestComputeHealth_Convenience(t *testing.T) {
	acct, recs := richAccount(t)
	r := scanning(t, acct, recs)

	h, err := health.ComputeHealth(acct, health.Maint, r)
	require.NoError(t, err)

	hc, err := health.NewHealthCache(acct, r, health.Strict)
	require.NoError(t, err)
	require.True(t, h.Equal(mustHealth(t, hc, health.Maint)))
}

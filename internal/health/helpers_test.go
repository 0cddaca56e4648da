package health_test

import (
	"testing"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
	"MarginHealth/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func records(tokens []testutil.Token, perps []testutil.Perp, openOrders ...*state.OpenOrders) []health.Record {
	var out []health.Record
	for _, t := range tokens {
		out = append(out, t.Bank, t.Oracle)
	}
	for _, p := range perps {
		out = append(out, p.Market, p.Oracle)
	}
	for _, oo := range openOrders {
		out = append(out, oo)
	}
	return out
}

func scanning(t *testing.T, acct *state.Account, recs []health.Record) *health.ScanningRetriever {
	t.Helper()
	r, err := health.NewScanningRetriever(acct.Group, recs, 0)
	require.NoError(t, err)
	return r
}

func fixed(t *testing.T, acct *state.Account, recs []health.Record) *health.FixedOrderRetriever {
	t.Helper()
	r, err := health.NewFixedOrderRetrieverForAccount(acct, recs, 0)
	require.NoError(t, err)
	return r
}

func strictCache(t *testing.T, acct *state.Account, recs []health.Record) *health.HealthCache {
	t.Helper()
	hc, err := health.NewHealthCache(acct, scanning(t, acct, recs), health.Strict)
	require.NoError(t, err)
	return hc
}

func mustHealth(t *testing.T, hc *health.HealthCache, ht health.HealthType) fpmath.I80F48 {
	t.Helper()
	h, err := hc.Health(ht)
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

func newAccount(group uuid.UUID) *state.Account {
	return &state.Account{ID: uuid.New(), Group: group}
}

var allHealthTypes = []health.HealthType{health.Init, health.Maint, health.LiquidationEnd}

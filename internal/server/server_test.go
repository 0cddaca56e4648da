package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/observability"
	"MarginHealth/internal/persistence"
	"MarginHealth/internal/server"
	"MarginHealth/internal/service"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type stubQuerier struct {
	known    uuid.UUID
	err      error
	leniency health.Leniency
	minRatio fpmath.I80F48
	token    state.TokenIndex
	perp     state.PerpMarketIndex
	side     state.Side
	price    fpmath.I80F48
}

func (s *stubQuerier) Evaluate(id uuid.UUID, leniency health.Leniency) (*service.Evaluation, error) {
	s.leniency = leniency
	if s.err != nil {
		return nil, s.err
	}
	if id != s.known {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownAccount, id)
	}
	return &service.Evaluation{
		AccountID: id,
		Slot:      7,
		Leniency:  leniency.String(),
		Status: health.Status{
			Margin:      health.MarginStatusHealthy,
			MaintHealth: fpmath.MustParse("12.5"),
		},
	}, nil
}

func (s *stubQuerier) MaxBorrow(id uuid.UUID, token state.TokenIndex, minRatio fpmath.I80F48) (fpmath.I80F48, error) {
	s.token, s.minRatio = token, minRatio
	if s.err != nil {
		return fpmath.Zero, s.err
	}
	return fpmath.MustParse("666.5"), nil
}

func (s *stubQuerier) MaxPerp(id uuid.UUID, perp state.PerpMarketIndex, price fpmath.I80F48, side state.Side, minRatio fpmath.I80F48) (int64, error) {
	s.perp, s.price, s.side, s.minRatio = perp, price, side, minRatio
	if s.err != nil {
		return 0, s.err
	}
	return 250, nil
}

func newHandler(t *testing.T, q server.HealthQuerier) (http.Handler, *observability.Metrics, *observability.HealthChecker) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	checker := observability.NewHealthChecker("postgres")
	h, err := server.NewHTTPHandler(&server.ServerDeps{Health: q, Metrics: metrics, HealthChecker: checker})
	require.NoError(t, err)
	return h, metrics, checker
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ============================================================================
// Test: health route
// ============================================================================

func TestAccountHealth(t *testing.T) {
	q := &stubQuerier{known: uuid.New()}
	h, metrics, _ := newHandler(t, q)

	rec := get(h, "/v1/accounts/"+q.known.String()+"/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, health.Strict, q.leniency)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, q.known.String(), body["account_id"])
	require.Equal(t, "12.5", body["maint_health"])
	require.Equal(t, "strict", body["leniency"])

	rec = get(h, "/v1/accounts/"+q.known.String()+"/health?lenient=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, health.Lenient, q.leniency)

	require.Equal(t, 2.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("account_health", "200")))
}

func TestAccountHealth_Errors(t *testing.T) {
	q := &stubQuerier{known: uuid.New()}
	h, metrics, _ := newHandler(t, q)

	require.Equal(t, http.StatusBadRequest, get(h, "/v1/accounts/not-a-uuid/health").Code)
	require.Equal(t, http.StatusBadRequest, get(h, "/v1/accounts/"+q.known.String()+"/health?lenient=maybe").Code)
	require.Equal(t, http.StatusNotFound, get(h, "/v1/accounts/"+uuid.NewString()+"/health").Code)

	q.err = fmt.Errorf("token 3: %w", health.ErrStaleOracle)
	require.Equal(t, http.StatusConflict, get(h, "/v1/accounts/"+q.known.String()+"/health").Code)

	q.err = service.ErrNotLoaded
	require.Equal(t, http.StatusServiceUnavailable, get(h, "/v1/accounts/"+q.known.String()+"/health").Code)

	q.err = fpmath.ErrArithmeticOverflow
	require.Equal(t, http.StatusUnprocessableEntity, get(h, "/v1/accounts/"+q.known.String()+"/health").Code)

	require.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("account_health", "404")))
}

// ============================================================================
// Test: max-borrow route
// ============================================================================

func TestMaxBorrow(t *testing.T) {
	q := &stubQuerier{known: uuid.New()}
	h, _, _ := newHandler(t, q)

	rec := get(h, "/v1/accounts/"+q.known.String()+"/max-borrow/3?min_ratio=12.5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, state.TokenIndex(3), q.token)
	require.Equal(t, "12.5", q.minRatio.String())

	var body server.MaxBorrowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "666.5", body.Amount.String())

	get(h, "/v1/accounts/"+q.known.String()+"/max-borrow/3")
	require.True(t, q.minRatio.IsZero(), "min_ratio defaults to zero")

	require.Equal(t, http.StatusBadRequest, get(h, "/v1/accounts/"+q.known.String()+"/max-borrow/70000").Code)
	require.Equal(t, http.StatusBadRequest, get(h, "/v1/accounts/"+q.known.String()+"/max-borrow/1?min_ratio=abc").Code)

	q.err = fmt.Errorf("%w: 9", service.ErrUnknownToken)
	require.Equal(t, http.StatusNotFound, get(h, "/v1/accounts/"+q.known.String()+"/max-borrow/9").Code)
}

// ============================================================================
// Test: max-perp route
// ============================================================================

func TestMaxPerp(t *testing.T) {
	q := &stubQuerier{known: uuid.New()}
	h, metrics, _ := newHandler(t, q)
	base := "/v1/accounts/" + q.known.String() + "/max-perp/"

	rec := get(h, base+"2?side=ask&price=31.5&min_ratio=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, state.PerpMarketIndex(2), q.perp)
	require.Equal(t, state.SideAsk, q.side)
	require.Equal(t, "31.5", q.price.String())
	require.Equal(t, "10", q.minRatio.String())

	var body server.MaxPerpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(250), body.BaseLots)
	require.Equal(t, "ask", body.Side)

	get(h, base+"2?side=bid&price=1")
	require.Equal(t, state.SideBid, q.side)
	require.True(t, q.minRatio.IsZero())

	for _, path := range []string{
		base + "2?price=1",
		base + "2?side=long&price=1",
		base + "2?side=bid",
		base + "2?side=bid&price=-3",
		base + "2?side=bid&price=1&min_ratio=x",
		base + "70000?side=bid&price=1",
	} {
		require.Equal(t, http.StatusBadRequest, get(h, path).Code, path)
	}

	q.err = fmt.Errorf("%w: 2", service.ErrUnknownPerp)
	require.Equal(t, http.StatusNotFound, get(h, base+"2?side=bid&price=1").Code)
	require.Equal(t, 2.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("max_perp", "200")))
}

type reportStore map[uuid.UUID]persistence.HealthReport

func (s reportStore) LatestReport(_ context.Context, id uuid.UUID) (persistence.HealthReport, error) {
	r, ok := s[id]
	if !ok {
		return persistence.HealthReport{}, fmt.Errorf("%w: %s", persistence.ErrNoReport, id)
	}
	return r, nil
}

// ============================================================================
// Test: report route
// ============================================================================

func TestLatestReport(t *testing.T) {
	id := uuid.New()
	store := reportStore{id: {AccountID: id, AccountVersion: 4, Slot: 99, Status: "Liquidatable", MaintHealth: fpmath.FromInt(-3)}}
	h, err := server.NewHTTPHandler(&server.ServerDeps{Health: &stubQuerier{}, Reports: store})
	require.NoError(t, err)

	rec := get(h, "/v1/accounts/"+id.String()+"/report")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Liquidatable", body["margin_status"])
	require.Equal(t, "-3", body["maint_health"])

	require.Equal(t, http.StatusNotFound, get(h, "/v1/accounts/"+uuid.NewString()+"/report").Code)

	// without a reader the route is not served
	h, _, _ = newHandler(t, &stubQuerier{})
	require.Equal(t, http.StatusNotFound, get(h, "/v1/accounts/"+id.String()+"/report").Code)
}

// ============================================================================
// Test: probes
// ============================================================================

func TestProbes(t *testing.T) {
	h, _, checker := newHandler(t, &stubQuerier{})

	require.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(h, "/readyz").Code)

	checker.SetDependency("postgres", true)
	require.Equal(t, http.StatusOK, get(h, "/readyz").Code)
}

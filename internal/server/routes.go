package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/observability"
	"MarginHealth/internal/persistence"
	"MarginHealth/internal/service"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// HealthQuerier answers the account health routes.
type HealthQuerier interface {
	Evaluate(accountID uuid.UUID, leniency health.Leniency) (*service.Evaluation, error)
	MaxBorrow(accountID uuid.UUID, tokenIndex state.TokenIndex, minRatio fpmath.I80F48) (fpmath.I80F48, error)
	MaxPerp(accountID uuid.UUID, perpIndex state.PerpMarketIndex, price fpmath.I80F48, side state.Side, minRatio fpmath.I80F48) (int64, error)
}

// ReportReader returns the latest persisted sweep report of an account.
type ReportReader interface {
	LatestReport(ctx context.Context, accountID uuid.UUID) (persistence.HealthReport, error)
}

// MaxBorrowResponse is the body of the max-borrow route.
type MaxBorrowResponse struct {
	AccountID  uuid.UUID        `json:"account_id"`
	TokenIndex state.TokenIndex `json:"token_index"`
	MinRatio   fpmath.I80F48    `json:"min_ratio"`
	Amount     fpmath.I80F48    `json:"amount"`
}

// MaxPerpResponse is the body of the max-perp route.
type MaxPerpResponse struct {
	AccountID uuid.UUID             `json:"account_id"`
	PerpIndex state.PerpMarketIndex `json:"perp_market_index"`
	Side      string                `json:"side"`
	Price     fpmath.I80F48         `json:"price"`
	MinRatio  fpmath.I80F48         `json:"min_ratio"`
	BaseLots  int64                 `json:"base_lots"`
}

type healthAPI struct {
	svc     HealthQuerier
	reports ReportReader
	metrics *observability.Metrics
}

// instrument records the request count and latency of a route. Handlers
// return the status they wrote.
func (a *healthAPI) instrument(endpoint string, h func(http.ResponseWriter, *http.Request, map[string]string) int) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		code := h(w, r, params)
		if a.metrics != nil {
			a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (a *healthAPI) accountHealth(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	id, err := uuid.Parse(params["account_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account_id")
	}
	leniency := health.Strict
	if v := r.URL.Query().Get("lenient"); v != "" {
		lenient, err := strconv.ParseBool(v)
		if err != nil {
			return writeError(w, http.StatusBadRequest, "invalid lenient flag")
		}
		if lenient {
			leniency = health.Lenient
		}
	}

	ev, err := a.svc.Evaluate(id, leniency)
	if err != nil {
		return writeServiceError(w, err)
	}
	return writeJSON(w, http.StatusOK, ev)
}

func (a *healthAPI) maxBorrow(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	id, err := uuid.Parse(params["account_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account_id")
	}
	idx, err := strconv.ParseUint(params["token_index"], 10, 16)
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid token_index")
	}
	minRatio := fpmath.Zero
	if v := r.URL.Query().Get("min_ratio"); v != "" {
		if minRatio, err = fpmath.ParseI80F48(v); err != nil {
			return writeError(w, http.StatusBadRequest, "invalid min_ratio")
		}
	}

	amount, err := a.svc.MaxBorrow(id, state.TokenIndex(idx), minRatio)
	if err != nil {
		return writeServiceError(w, err)
	}
	return writeJSON(w, http.StatusOK, MaxBorrowResponse{
		AccountID:  id,
		TokenIndex: state.TokenIndex(idx),
		MinRatio:   minRatio,
		Amount:     amount,
	})
}

func (a *healthAPI) maxPerp(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	id, err := uuid.Parse(params["account_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account_id")
	}
	idx, err := strconv.ParseUint(params["perp_index"], 10, 16)
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid perp_index")
	}
	q := r.URL.Query()
	var side state.Side
	switch q.Get("side") {
	case "bid":
		side = state.SideBid
	case "ask":
		side = state.SideAsk
	default:
		return writeError(w, http.StatusBadRequest, "side must be bid or ask")
	}
	price, err := fpmath.ParseI80F48(q.Get("price"))
	if err != nil || !price.IsPositive() {
		return writeError(w, http.StatusBadRequest, "invalid price")
	}
	minRatio := fpmath.Zero
	if v := q.Get("min_ratio"); v != "" {
		if minRatio, err = fpmath.ParseI80F48(v); err != nil {
			return writeError(w, http.StatusBadRequest, "invalid min_ratio")
		}
	}

	lots, err := a.svc.MaxPerp(id, state.PerpMarketIndex(idx), price, side, minRatio)
	if err != nil {
		return writeServiceError(w, err)
	}
	return writeJSON(w, http.StatusOK, MaxPerpResponse{
		AccountID: id,
		PerpIndex: state.PerpMarketIndex(idx),
		Side:      side.String(),
		Price:     price,
		MinRatio:  minRatio,
		BaseLots:  lots,
	})
}

func (a *healthAPI) latestReport(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	id, err := uuid.Parse(params["account_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account_id")
	}
	report, err := a.reports.LatestReport(r.Context(), id)
	if err != nil {
		return writeServiceError(w, err)
	}
	return writeJSON(w, http.StatusOK, report)
}

func writeServiceError(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownAccount), errors.Is(err, service.ErrUnknownToken),
		errors.Is(err, service.ErrUnknownPerp), errors.Is(err, persistence.ErrNoReport):
		return writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotLoaded):
		return writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, health.ErrStaleOracle), errors.Is(err, health.ErrBadOracleConfidence):
		// retry with lenient=true to exclude the unpriced instruments
		return writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fpmath.ErrArithmeticOverflow):
		return writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		return writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) int {
	return writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, body any) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
	return code
}

// Package service evaluates account health against the records loaded from
// Postgres and the live oracle price book.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/observability"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/persistence"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotLoaded      = errors.New("group records not loaded")
	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownToken   = errors.New("unknown token")
	ErrUnknownPerp    = errors.New("unknown perp market")
)

// RecordSource loads the records of a group.
type RecordSource interface {
	LoadGroup(ctx context.Context, group uuid.UUID) (*persistence.GroupRecords, error)
}

// Evaluation is the health of one account at one slot.
type Evaluation struct {
	AccountID      uuid.UUID `json:"account_id"`
	AccountVersion int64     `json:"account_version"`
	Slot           uint64    `json:"slot"`
	Leniency       string    `json:"leniency"`
	// Instruments left out of a lenient evaluation
	Excluded []string `json:"excluded_instruments,omitempty"`
	// HidesLiabilities is set when an excluded instrument may carry a
	// liability, so the health figures are not even lower bounds.
	HidesLiabilities bool `json:"hides_liabilities,omitempty"`

	health.Status
}

// HealthService answers health queries for one group.
// Records are replaced wholesale by Refresh; prices come from the book.
type HealthService struct {
	group   uuid.UUID
	source  RecordSource
	book    *oracle.Book
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu       sync.RWMutex
	records  *persistence.GroupRecords
	accounts map[uuid.UUID]*state.Account
}

func NewHealthService(group uuid.UUID, source RecordSource, book *oracle.Book, metrics *observability.Metrics, logger zerolog.Logger) *HealthService {
	return &HealthService{
		group:    group,
		source:   source,
		book:     book,
		metrics:  metrics,
		logger:   logger,
		accounts: make(map[uuid.UUID]*state.Account),
	}
}

func (s *HealthService) Group() uuid.UUID { return s.group }

// Refresh reloads every record of the group.
func (s *HealthService) Refresh(ctx context.Context) error {
	g, err := s.source.LoadGroup(ctx, s.group)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("load_group").Inc()
		return fmt.Errorf("load group %s: %w", s.group, err)
	}
	for _, v := range g.Violations {
		s.logger.Warn().Err(v).Msg("risk parameters break weight conventions")
	}

	accounts := make(map[uuid.UUID]*state.Account, len(g.Accounts))
	for _, a := range g.Accounts {
		accounts[a.ID] = a
	}

	s.metrics.RecordsLoaded.WithLabelValues("bank").Set(float64(len(g.Banks)))
	s.metrics.RecordsLoaded.WithLabelValues("perp_market").Set(float64(len(g.PerpMarkets)))
	s.metrics.RecordsLoaded.WithLabelValues("oracle").Set(float64(len(g.Oracles)))
	s.metrics.RecordsLoaded.WithLabelValues("open_orders").Set(float64(len(g.OpenOrders)))
	s.metrics.RecordsLoaded.WithLabelValues("account").Set(float64(len(g.Accounts)))

	s.mu.Lock()
	s.records = g
	s.accounts = accounts
	s.mu.Unlock()

	s.logger.Debug().Int("accounts", len(accounts)).Msg("group records loaded")
	return nil
}

// view is a consistent set of records with live prices overlaid.
type view struct {
	records  *persistence.GroupRecords
	shared   []health.Record
	accounts map[uuid.UUID]*state.Account
	slot     uint64
}

func (s *HealthService) view() (*view, error) {
	s.mu.RLock()
	g, accounts := s.records, s.accounts
	s.mu.RUnlock()
	if g == nil {
		return nil, ErrNotLoaded
	}

	base := make([]oracle.Account, len(g.Oracles))
	var slot uint64
	for i, o := range g.Oracles {
		base[i] = *o
		if o.LastUpdateSlot > slot {
			slot = o.LastUpdateSlot
		}
	}
	live := s.book.Overlay(base)
	if ls := s.book.LatestSlot(); ls > slot {
		slot = ls
	}

	shared := make([]health.Record, 0, len(g.Banks)+len(g.PerpMarkets)+len(live)+len(g.OpenOrders))
	for _, b := range g.Banks {
		shared = append(shared, b)
	}
	for _, m := range g.PerpMarkets {
		shared = append(shared, m)
	}
	for i := range live {
		shared = append(shared, &live[i])
	}
	for _, oo := range g.OpenOrders {
		shared = append(shared, oo)
	}
	return &view{records: g, shared: shared, accounts: accounts, slot: slot}, nil
}

func (v *view) account(id uuid.UUID) (*state.Account, error) {
	a, ok := v.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return a, nil
}

func (v *view) bank(tokenIndex state.TokenIndex) (*state.Bank, error) {
	for _, b := range v.records.Banks {
		if b.TokenIndex == tokenIndex {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownToken, tokenIndex)
}

func (v *view) perpMarket(perpIndex state.PerpMarketIndex) (*state.PerpMarket, error) {
	for _, m := range v.records.PerpMarkets {
		if m.PerpMarketIndex == perpIndex {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownPerp, perpIndex)
}

func (v *view) retriever() (*health.ScanningRetriever, error) {
	return health.NewScanningRetriever(v.records.Group, v.shared, v.slot)
}

// Evaluate computes every health figure of an account. Lenient evaluation
// tolerates stale or unconfident oracles by excluding those instruments.
func (s *HealthService) Evaluate(accountID uuid.UUID, leniency health.Leniency) (*Evaluation, error) {
	start := time.Now()
	v, err := s.view()
	if err != nil {
		return nil, err
	}
	account, err := v.account(accountID)
	if err != nil {
		return nil, err
	}
	retriever, err := v.retriever()
	if err != nil {
		return nil, err
	}

	hc, err := health.NewHealthCache(account, retriever, leniency)
	if err != nil {
		s.buildFailed("all", err)
		return nil, err
	}
	st, err := health.Classify(hc)
	if err != nil {
		s.buildFailed("all", err)
		return nil, err
	}

	excluded := hc.Excluded()
	var hidden bool
	if len(excluded) > 0 {
		if hidden, err = hc.HidesLiabilities(); err != nil {
			s.buildFailed("all", err)
			return nil, err
		}
		st = st.LowerBound(hidden)
	}
	for _, inst := range excluded {
		s.metrics.ExcludedInstruments.WithLabelValues(inst).Inc()
	}
	s.metrics.Evaluations.WithLabelValues("all", outcome(st)).Inc()
	s.metrics.EvaluationDuration.WithLabelValues(leniency.String()).Observe(time.Since(start).Seconds())

	return &Evaluation{
		AccountID:        account.ID,
		AccountVersion:   account.Version,
		Slot:             v.slot,
		Leniency:         leniency.String(),
		Excluded:         excluded,
		HidesLiabilities: hidden,
		Status:           st,
	}, nil
}

// MaxBorrow returns the largest native amount of tokenIndex the account can
// borrow or withdraw while its Init health ratio stays at or above minRatio.
func (s *HealthService) MaxBorrow(accountID uuid.UUID, tokenIndex state.TokenIndex, minRatio fpmath.I80F48) (fpmath.I80F48, error) {
	start := time.Now()
	v, err := s.view()
	if err != nil {
		return fpmath.Zero, err
	}
	account, err := v.account(accountID)
	if err != nil {
		return fpmath.Zero, err
	}
	bank, err := v.bank(tokenIndex)
	if err != nil {
		return fpmath.Zero, err
	}
	retriever, err := v.retriever()
	if err != nil {
		return fpmath.Zero, err
	}

	// the token must be part of the cache even without a position
	work := account
	if _, _, err := account.TokenPosition(tokenIndex); err != nil {
		work = account.Clone()
		work.EnsureTokenPosition(tokenIndex)
	}

	hc, err := health.NewHealthCache(work, retriever, health.Strict)
	if err != nil {
		s.buildFailed("init", err)
		return fpmath.Zero, err
	}
	amount, err := hc.MaxBorrowForHealthRatio(work, bank, minRatio)
	if err != nil {
		s.metrics.Evaluations.WithLabelValues("init", "error").Inc()
		return fpmath.Zero, err
	}
	s.metrics.Evaluations.WithLabelValues("init", "max_borrow").Inc()
	s.metrics.EvaluationDuration.WithLabelValues(health.Strict.String()).Observe(time.Since(start).Seconds())
	return amount, nil
}

// MaxPerp returns how many base lots the account can trade on side of
// perpIndex at price while its Init health ratio stays at or above minRatio.
func (s *HealthService) MaxPerp(accountID uuid.UUID, perpIndex state.PerpMarketIndex, price fpmath.I80F48, side state.Side, minRatio fpmath.I80F48) (int64, error) {
	start := time.Now()
	v, err := s.view()
	if err != nil {
		return 0, err
	}
	account, err := v.account(accountID)
	if err != nil {
		return 0, err
	}
	market, err := v.perpMarket(perpIndex)
	if err != nil {
		return 0, err
	}
	retriever, err := v.retriever()
	if err != nil {
		return 0, err
	}

	work := account
	if _, err := account.PerpPosition(perpIndex); err != nil {
		work = account.Clone()
		work.EnsurePerpPosition(market)
	}

	hc, err := health.NewHealthCache(work, retriever, health.Strict)
	if err != nil {
		s.buildFailed("init", err)
		return 0, err
	}
	lots, err := hc.MaxPerpForHealthRatio(perpIndex, price, side, minRatio)
	if err != nil {
		s.metrics.Evaluations.WithLabelValues("init", "error").Inc()
		return 0, err
	}
	s.metrics.Evaluations.WithLabelValues("init", "max_perp").Inc()
	s.metrics.EvaluationDuration.WithLabelValues(health.Strict.String()).Observe(time.Since(start).Seconds())
	return lots, nil
}

func (s *HealthService) buildFailed(healthType string, err error) {
	s.metrics.BuildErrors.WithLabelValues(health.ErrorKind(err)).Inc()
	s.metrics.Evaluations.WithLabelValues(healthType, "error").Inc()
}

func outcome(st health.Status) string {
	switch st.Margin {
	case health.MarginStatusHealthy:
		return "healthy"
	case health.MarginStatusAtRisk:
		return "at_risk"
	case health.MarginStatusLiquidatable:
		return "liquidatable"
	case health.MarginStatusBankrupt:
		return "bankrupt"
	case health.MarginStatusUnverified:
		return "unverified"
	default:
		return "unknown"
	}
}

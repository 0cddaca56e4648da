package service

import (
	"context"
	"sync"
	"time"

	"MarginHealth/internal/event"
	"MarginHealth/internal/gate"
	"MarginHealth/internal/health"
	"MarginHealth/internal/persistence"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

// AlertQueue accepts alerts without blocking.
type AlertQueue interface {
	Enqueue(alert *event.HealthAlert) bool
}

// SweepResult counts the outcome of one sweep.
type SweepResult struct {
	Slot         uint64
	Evaluated    int
	Failed       int
	Liquidatable int
	Bankrupt     int
	Recovered    int
}

// Sweeper evaluates every account of the group strictly, records a report
// per account and raises alerts for liquidatable, bankrupt and recovered
// accounts.
//
// It keeps its own liquidation flags so an account flagged by Maint health
// stays liquidatable until its LiquidationEnd health recovers, even when the
// stored account has not been flagged by a liquidator yet.
type Sweeper struct {
	svc     *HealthService
	reports chan<- persistence.HealthReport
	alerts  AlertQueue
	now     func() time.Time

	mu      sync.Mutex
	flagged map[uuid.UUID]bool
}

// NewSweeper wires a sweeper; reports and alerts may be nil.
func NewSweeper(svc *HealthService, reports chan<- persistence.HealthReport, alerts AlertQueue) *Sweeper {
	return &Sweeper{
		svc:     svc,
		reports: reports,
		alerts:  alerts,
		now:     time.Now,
		flagged: make(map[uuid.UUID]bool),
	}
}

// Run sweeps every interval until ctx is done. Records are refreshed before
// each sweep; a failed refresh keeps the previous records.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sw.svc.Refresh(ctx); err != nil {
				sw.svc.logger.Warn().Err(err).Msg("refresh before sweep failed")
			}
			res, err := sw.Sweep(ctx)
			if err != nil {
				sw.svc.logger.Warn().Err(err).Msg("sweep failed")
				continue
			}
			sw.svc.logger.Info().
				Uint64("slot", res.Slot).
				Int("evaluated", res.Evaluated).
				Int("failed", res.Failed).
				Int("liquidatable", res.Liquidatable).
				Int("bankrupt", res.Bankrupt).
				Int("recovered", res.Recovered).
				Msg("sweep complete")
		}
	}
}

// Sweep runs one pass over all accounts.
func (sw *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	v, err := sw.svc.view()
	if err != nil {
		return SweepResult{}, err
	}
	retriever, err := v.retriever()
	if err != nil {
		return SweepResult{}, err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	res := SweepResult{Slot: v.slot}
	now := sw.now().UTC()
	seen := make(map[uuid.UUID]bool, len(v.records.Accounts))

	for _, account := range v.records.Accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		seen[account.ID] = true

		work := account.Clone()
		if sw.flagged[account.ID] && !work.BeingLiquidated() {
			work.Liquidation = state.LiquidationStateBeingLiquidated
		}

		check, hc, err := gate.LiquidationCheck(work, retriever)
		var st health.Status
		if err == nil {
			st, err = health.Classify(hc)
		}
		if err != nil {
			res.Failed++
			sw.svc.buildFailed("maint", err)
			sw.svc.logger.Debug().Err(err).Str("account", account.ID.String()).Msg("sweep evaluation failed")
			continue
		}
		res.Evaluated++
		sw.svc.metrics.Evaluations.WithLabelValues("maint", outcome(st)).Inc()

		var kind event.EventType
		switch check {
		case gate.Liquidatable:
			sw.flagged[account.ID] = true
			res.Liquidatable++
			kind = event.EventTypeAccountLiquidatable
			if st.Margin == health.MarginStatusBankrupt {
				res.Bankrupt++
				kind = event.EventTypeAccountBankrupt
			}
		case gate.BecameNotLiquidatable:
			delete(sw.flagged, account.ID)
			res.Recovered++
			kind = event.EventTypeAccountRecovered
		default:
			delete(sw.flagged, account.ID)
		}

		if sw.reports != nil {
			select {
			case sw.reports <- persistence.NewHealthReport(account, st, v.slot, now):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
		if kind != event.EventTypeUnknown && sw.alerts != nil {
			sw.alerts.Enqueue(&event.HealthAlert{
				Kind:                 kind,
				AccountID:            account.ID,
				GroupID:              account.Group,
				MaintHealth:          st.MaintHealth,
				InitHealth:           st.InitHealth,
				LiquidationEndHealth: st.LiquidationEndHealth,
				Phase:                st.Phase,
				AccountVersion:       account.Version,
				Slot:                 v.slot,
				Timestamp:            now,
			})
		}
	}

	// accounts that disappeared from the group
	for id := range sw.flagged {
		if !seen[id] {
			delete(sw.flagged, id)
		}
	}

	sw.svc.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	sw.svc.metrics.SweepAccounts.Set(float64(res.Evaluated))
	sw.svc.metrics.LiquidatableAccounts.Set(float64(res.Liquidatable))
	sw.svc.metrics.BankruptAccounts.Set(float64(res.Bankrupt))
	return res, nil
}

package gate

import (
	"fmt"

	"MarginHealth/internal/health"
	"MarginHealth/internal/state"
)

// CheckLiquidatable is the result of LiquidationCheck.
type CheckLiquidatable int

const (
	NotLiquidatable CheckLiquidatable = iota
	Liquidatable
	// BecameNotLiquidatable: the account was being liquidated and its
	// liquidation end health has recovered.
	BecameNotLiquidatable
)

func (c CheckLiquidatable) String() string {
	switch c {
	case NotLiquidatable:
		return "NotLiquidatable"
	case Liquidatable:
		return "Liquidatable"
	case BecameNotLiquidatable:
		return "BecameNotLiquidatable"
	default:
		return "Unknown"
	}
}

// LiquidationCheck decides whether a liquidator may act on the account.
// Liquidation starts when Maint health is negative and continues until
// LiquidationEnd health is non-negative, so the account does not flip
// between states around a single threshold. Only strict caches are
// accepted here.
func LiquidationCheck(account *state.Account, retriever health.AccountRetriever) (CheckLiquidatable, *health.HealthCache, error) {
	hc, err := health.NewHealthCache(account, retriever, health.Strict)
	if err != nil {
		return NotLiquidatable, nil, err
	}
	res, err := checkLiquidatable(hc, account)
	return res, hc, err
}

func checkLiquidatable(hc *health.HealthCache, account *state.Account) (CheckLiquidatable, error) {
	if account.BeingLiquidated() {
		liqEnd, err := hc.Health(health.LiquidationEnd)
		if err != nil {
			return NotLiquidatable, err
		}
		if !account.MaybeRecoverFromBeingLiquidated(liqEnd) {
			account.Version++
			return BecameNotLiquidatable, nil
		}
		return Liquidatable, nil
	}

	maint, err := hc.Health(health.Maint)
	if err != nil {
		return NotLiquidatable, err
	}
	if !maint.IsNegative() {
		return NotLiquidatable, nil
	}
	if err := account.SetLiquidationState(state.LiquidationStateBeingLiquidated); err != nil {
		return NotLiquidatable, err
	}
	hc.BeingLiquidated = true
	account.Version++
	return Liquidatable, nil
}

// Bankruptcy marks the account bankrupt when it is liquidatable, phases 1
// and 2 are exhausted and no liquidatable spot assets remain, leaving only
// borrows or negative perp pnl that must be socialized. The liquidation
// flag set on the way is kept when the account turns out not to be bankrupt.
func Bankruptcy(account *state.Account, retriever health.AccountRetriever) (*health.HealthCache, error) {
	hc, err := health.NewHealthCache(account, retriever, health.Strict)
	if err != nil {
		return nil, err
	}
	res, err := checkLiquidatable(hc, account)
	if err != nil {
		return hc, err
	}
	if res != Liquidatable {
		return hc, fmt.Errorf("account %s is %s: %w", account.ID, res, ErrNotBankrupt)
	}
	if err := hc.RequireAfterPhase2Liquidation(); err != nil {
		return hc, fmt.Errorf("%w: %w", ErrNotBankrupt, err)
	}
	bankrupt, err := hc.IsBankrupt()
	if err != nil {
		return hc, err
	}
	if !bankrupt {
		return hc, fmt.Errorf("account %s holds liquidatable assets: %w", account.ID, ErrNotBankrupt)
	}
	if err := account.SetLiquidationState(state.LiquidationStateBankrupt); err != nil {
		return hc, err
	}
	account.Version++
	return hc, nil
}

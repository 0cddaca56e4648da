// Package gate runs account operations behind health checks. Every operation
// mutates the account and records in place and restores them when a check
// fails, so a rejected operation leaves no trace.
package gate

import (
	"errors"
	"fmt"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

var (
	ErrBeingLiquidated                = errors.New("account is being liquidated")
	ErrHealthMustBePositiveOrIncrease = errors.New("health must be positive or increase")
	ErrNotBankrupt                    = errors.New("account is not bankrupt")
	ErrInvalidAmount                  = errors.New("amount must be positive")
)

// Outcome reports the health figures an operation was checked against.
type Outcome struct {
	PreInitHealth  fpmath.I80F48
	PostInitHealth fpmath.I80F48
	// Lenient is set when the pre check was skipped because an oracle was
	// unusable and the post check ran on a lenient cache.
	Lenient         bool
	BeingLiquidated bool
}

// CheckHealthPre returns the Init health an operation starts from. An
// account being liquidated may only continue once its liquidation end
// health has recovered.
func CheckHealthPre(hc *health.HealthCache, account *state.Account) (fpmath.I80F48, error) {
	pre, err := hc.Health(health.Init)
	if err != nil {
		return fpmath.Zero, err
	}
	if err := checkNotLiquidated(hc, account); err != nil {
		return fpmath.Zero, err
	}
	return pre, nil
}

// CheckHealthPost accepts an operation that leaves Init health non-negative
// or strictly improves it.
func CheckHealthPost(hc *health.HealthCache, account *state.Account, pre fpmath.I80F48) (fpmath.I80F48, error) {
	post, err := hc.Health(health.Init)
	if err != nil {
		return fpmath.Zero, err
	}
	if err := requirePositiveOrIncrease(pre, post); err != nil {
		return post, err
	}
	liqEnd, err := hc.Health(health.LiquidationEnd)
	if err != nil {
		return post, err
	}
	account.MaybeRecoverFromBeingLiquidated(liqEnd)
	return post, nil
}

func checkNotLiquidated(hc *health.HealthCache, account *state.Account) error {
	liqEnd, err := hc.Health(health.LiquidationEnd)
	if err != nil {
		return err
	}
	if account.MaybeRecoverFromBeingLiquidated(liqEnd) {
		return fmt.Errorf("account %s (%s): %w", account.ID, account.Liquidation, ErrBeingLiquidated)
	}
	return nil
}

func requirePositiveOrIncrease(pre, post fpmath.I80F48) error {
	if post.IsNegative() && !post.GreaterThan(pre) {
		return fmt.Errorf("init health %s -> %s: %w", pre, post, ErrHealthMustBePositiveOrIncrease)
	}
	return nil
}

// snapshot holds copies of everything an operation may touch.
type snapshot struct {
	account     *state.Account
	accountCopy *state.Account
	bank        *state.Bank
	bankCopy    state.Bank
	market      *state.PerpMarket
	marketCopy  state.PerpMarket
}

func takeSnapshot(account *state.Account, bank *state.Bank, market *state.PerpMarket) *snapshot {
	s := &snapshot{account: account, accountCopy: account.Clone(), bank: bank, market: market}
	if bank != nil {
		s.bankCopy = *bank
	}
	if market != nil {
		s.marketCopy = *market
	}
	return s
}

func (s *snapshot) restore() {
	*s.account = *s.accountCopy
	if s.bank != nil {
		*s.bank = s.bankCopy
	}
	if s.market != nil {
		*s.market = s.marketCopy
	}
}

// guard restores the snapshot when *errp is set and bumps the account
// version otherwise.
func (s *snapshot) guard(errp *error) {
	if *errp != nil {
		s.restore()
		return
	}
	s.account.Version++
}

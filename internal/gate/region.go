package gate

import (
	"errors"
	"fmt"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

var ErrHealthRegionClosed = errors.New("health region already ended")

// HealthRegion checks a batch of operations once. Init health is taken when
// the region begins and the operations inside it run without their own
// checks; End builds a strict cache and accepts the batch when Init health
// is non-negative or above the starting value. A failed operation or End
// restores the account and every bank and market the region touched.
//
// A region is not safe for concurrent use.
type HealthRegion struct {
	account     *state.Account
	accountCopy *state.Account
	pre         fpmath.I80F48
	banks       map[*state.Bank]state.Bank
	markets     map[*state.PerpMarket]state.PerpMarket
	closed      bool
}

// BeginHealthRegion runs the pre check on a strict cache.
func BeginHealthRegion(account *state.Account, retriever health.AccountRetriever) (*HealthRegion, error) {
	hc, err := health.NewHealthCache(account, retriever, health.Strict)
	if err != nil {
		return nil, err
	}
	pre, err := CheckHealthPre(hc, account)
	if err != nil {
		return nil, err
	}
	return &HealthRegion{
		account:     account,
		accountCopy: account.Clone(),
		pre:         pre,
		banks:       make(map[*state.Bank]state.Bank),
		markets:     make(map[*state.PerpMarket]state.PerpMarket),
	}, nil
}

func (r *HealthRegion) PreInitHealth() fpmath.I80F48 { return r.pre }

func (r *HealthRegion) TokenWithdraw(bank *state.Bank, amount fpmath.I80F48) error {
	if !amount.IsPositive() {
		return fmt.Errorf("withdraw %s: %w", amount, ErrInvalidAmount)
	}
	return r.apply(bank, nil, func() error {
		position, _, _ := r.account.EnsureTokenPosition(bank.TokenIndex)
		_, err := bank.Withdraw(position, amount)
		return err
	})
}

func (r *HealthRegion) TokenDeposit(bank *state.Bank, amount fpmath.I80F48) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit %s: %w", amount, ErrInvalidAmount)
	}
	return r.apply(bank, nil, func() error {
		position, _, _ := r.account.EnsureTokenPosition(bank.TokenIndex)
		_, err := bank.Deposit(position, amount)
		return err
	})
}

func (r *HealthRegion) PerpFill(market *state.PerpMarket, fill Fill) error {
	if fill.BaseLots <= 0 || !fill.Price.IsPositive() {
		return fmt.Errorf("fill of %d lots at %s: %w", fill.BaseLots, fill.Price, ErrInvalidAmount)
	}
	return r.apply(nil, market, func() error {
		quote, err := fill.quoteChange(market)
		if err != nil {
			return err
		}
		return applyFill(r.account.EnsurePerpPosition(market), market, fill, quote)
	})
}

// End runs the post check and closes the region.
func (r *HealthRegion) End(retriever health.AccountRetriever) (out Outcome, err error) {
	if r.closed {
		return Outcome{}, ErrHealthRegionClosed
	}
	r.closed = true
	defer func() {
		if err != nil {
			r.restore()
			return
		}
		r.account.Version++
	}()

	hc, err := health.NewHealthCache(r.account, retriever, health.Strict)
	if err != nil {
		return out, err
	}
	out.PreInitHealth = r.pre
	if out.PostInitHealth, err = CheckHealthPost(hc, r.account, r.pre); err != nil {
		return out, err
	}
	out.BeingLiquidated = r.account.BeingLiquidated()
	return out, nil
}

// Abort restores everything the region changed.
func (r *HealthRegion) Abort() {
	if r.closed {
		return
	}
	r.closed = true
	r.restore()
}

func (r *HealthRegion) apply(bank *state.Bank, market *state.PerpMarket, mutate func() error) error {
	if r.closed {
		return ErrHealthRegionClosed
	}
	if bank != nil {
		if _, ok := r.banks[bank]; !ok {
			r.banks[bank] = *bank
		}
	}
	if market != nil {
		if _, ok := r.markets[market]; !ok {
			r.markets[market] = *market
		}
	}
	if err := mutate(); err != nil {
		r.closed = true
		r.restore()
		return err
	}
	return nil
}

func (r *HealthRegion) restore() {
	*r.account = *r.accountCopy
	for b, saved := range r.banks {
		*b = saved
	}
	for m, saved := range r.markets {
		*m = saved
	}
}

package gate

import (
	"errors"
	"fmt"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"
)

// TokenWithdraw withdraws amount native units of bank's token, borrowing
// whatever exceeds the deposits.
//
// The pre check needs a strict cache. When an oracle is unusable the
// withdraw may still go through if a lenient cache built after the
// withdraw shows non-negative Init health and leaves out no liability. An
// unpriced liability fails the withdraw with the strict build's oracle error.
func TokenWithdraw(account *state.Account, bank *state.Bank, retriever health.AccountRetriever, amount fpmath.I80F48) (out Outcome, err error) {
	if !amount.IsPositive() {
		return Outcome{}, fmt.Errorf("withdraw %s: %w", amount, ErrInvalidAmount)
	}
	snap := takeSnapshot(account, bank, nil)
	defer snap.guard(&err)

	// the position must exist before the cache is built
	account.EnsureTokenPosition(bank.TokenIndex)

	hc, strictErr := health.NewHealthCache(account, retriever, health.Strict)
	switch {
	case strictErr == nil:
		if out.PreInitHealth, err = CheckHealthPre(hc, account); err != nil {
			return out, err
		}
	case oracle.IsOracleError(strictErr):
		hc = nil
		out.Lenient = true
	default:
		return out, strictErr
	}

	position, _, err := account.TokenPosition(bank.TokenIndex)
	if err != nil {
		return out, err
	}
	before, err := position.Native(bank)
	if err != nil {
		return out, err
	}
	active, err := bank.Withdraw(position, amount)
	if err != nil {
		return out, err
	}
	after, err := position.Native(bank)
	if err != nil {
		return out, err
	}

	if hc != nil {
		change, err := after.Sub(before)
		if err != nil {
			return out, err
		}
		if err := hc.AdjustTokenBalance(bank, change); err != nil {
			return out, err
		}
		if out.PostInitHealth, err = CheckHealthPost(hc, account, out.PreInitHealth); err != nil {
			return out, err
		}
	} else {
		lenient, err := health.NewHealthCache(account, retriever, health.Lenient)
		if err != nil {
			return out, err
		}
		hidden, err := lenient.HidesLiabilities()
		if err != nil {
			return out, err
		}
		if hidden {
			return out, strictErr
		}
		if out.PostInitHealth, err = lenient.Health(health.Init); err != nil {
			return out, err
		}
		if err := checkNotLiquidated(lenient, account); err != nil {
			return out, err
		}
		out.PreInitHealth = fpmath.MaxI80F48
		if err := requirePositiveOrIncrease(out.PreInitHealth, out.PostInitHealth); err != nil {
			return out, err
		}
	}

	if !active {
		if err := account.DeactivateTokenPosition(bank.TokenIndex); err != nil && !errors.Is(err, state.ErrPositionInUse) {
			return out, err
		}
	}
	out.BeingLiquidated = account.BeingLiquidated()
	return out, nil
}

// TokenDeposit deposits amount native units. Deposits only raise health, so
// there is no pre check and deposits are allowed while being liquidated. A
// lenient cache decides whether the deposit ends the liquidation, and only
// when it leaves out no liability.
func TokenDeposit(account *state.Account, bank *state.Bank, retriever health.AccountRetriever, amount fpmath.I80F48) (out Outcome, err error) {
	if !amount.IsPositive() {
		return Outcome{}, fmt.Errorf("deposit %s: %w", amount, ErrInvalidAmount)
	}
	snap := takeSnapshot(account, bank, nil)
	defer snap.guard(&err)

	position, _, _ := account.EnsureTokenPosition(bank.TokenIndex)
	if _, err = bank.Deposit(position, amount); err != nil {
		return out, err
	}

	if account.BeingLiquidated() {
		hc, err := health.NewHealthCache(account, retriever, health.Lenient)
		if err != nil {
			return out, err
		}
		hidden, err := hc.HidesLiabilities()
		if err != nil {
			return out, err
		}
		if !hidden {
			liqEnd, err := hc.Health(health.LiquidationEnd)
			if err != nil {
				return out, err
			}
			account.MaybeRecoverFromBeingLiquidated(liqEnd)
		}
		out.Lenient = true
	}
	out.BeingLiquidated = account.BeingLiquidated()
	return out, nil
}

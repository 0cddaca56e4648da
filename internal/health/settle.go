package health

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

// SpotAmountTakenForHealthZero returns how much of a token can be removed
// from a balance of startingSpot before health reaches zero. Deposits are
// removed at assetWeightedPrice, then borrows are added at liabWeightedPrice.
func SpotAmountTakenForHealthZero(health, startingSpot, assetWeightedPrice, liabWeightedPrice fpmath.I80F48) (fpmath.I80F48, error) {
	if !health.IsPositive() {
		return fpmath.Zero, nil
	}

	var c fpmath.Calc
	taken := fpmath.Zero
	if startingSpot.IsPositive() {
		if assetWeightedPrice.IsPositive() {
			assetMax := c.Div(health, assetWeightedPrice)
			if err := c.Err(); err != nil {
				return fpmath.Zero, err
			}
			if assetMax.Cmp(startingSpot) <= 0 {
				return assetMax, nil
			}
		}
		taken = startingSpot
		health = c.Sub(health, c.Mul(startingSpot, assetWeightedPrice))
	}
	if health.IsPositive() {
		if !liabWeightedPrice.IsPositive() {
			return fpmath.Zero, fmt.Errorf("liab weighted price %s must be > 0: %w", liabWeightedPrice, fpmath.ErrDivisionByZero)
		}
		taken = c.Add(taken, c.Div(health, liabWeightedPrice))
	}
	return taken, c.Err()
}

// SpotAmountGivenForHealthZero is the amount that must be added to bring a
// negative health to zero.
func SpotAmountGivenForHealthZero(health, startingSpot, assetWeightedPrice, liabWeightedPrice fpmath.I80F48) (fpmath.I80F48, error) {
	negHealth, err := health.Neg()
	if err != nil {
		return fpmath.Zero, err
	}
	negSpot, err := startingSpot.Neg()
	if err != nil {
		return fpmath.Zero, err
	}
	return SpotAmountTakenForHealthZero(negHealth, negSpot, liabWeightedPrice, assetWeightedPrice)
}

// PerpSettleHealth is Maint health with negative perp contributions left
// out, so settling one perp's profit is not blocked by another perp's loss.
func (hc *HealthCache) PerpSettleHealth() (fpmath.I80F48, error) {
	balances, err := hc.effectiveTokenBalances(Maint, true)
	if err != nil {
		return fpmath.Zero, err
	}
	assets, liabs, err := hc.sumContributions(Maint, balances)
	if err != nil {
		return fpmath.Zero, err
	}
	return assets.Sub(liabs)
}

// PerpMaxSettle returns the most settle token that may be taken from the
// account while settling perp pnl without dropping settle health below zero.
func (hc *HealthCache) PerpMaxSettle(settleTokenIndex state.TokenIndex) (fpmath.I80F48, error) {
	ti, err := hc.TokenInfo(settleTokenIndex)
	if err != nil {
		return fpmath.Zero, err
	}
	settleHealth, err := hc.PerpSettleHealth()
	if err != nil {
		return fpmath.Zero, err
	}
	assetPrice, err := ti.AssetWeightedPrice(Maint)
	if err != nil {
		return fpmath.Zero, err
	}
	liabPrice, err := ti.LiabWeightedPrice(Maint)
	if err != nil {
		return fpmath.Zero, err
	}
	return SpotAmountTakenForHealthZero(settleHealth, ti.BalanceSpot, assetPrice, liabPrice)
}

package health

import (
	"fmt"
	stdmath "math"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

const (
	scanMaxIterations   = 20
	searchMaxIterations = 50
)

var searchTargetError = fpmath.MustParse("0.1")

// MaxBorrowForHealthRatio returns the largest native amount of bank's token
// the account can withdraw while keeping the Init health ratio at or above
// minRatio. The cache must be a strict build of account; it is not modified.
func (hc *HealthCache) MaxBorrowForHealthRatio(account *state.Account, bank *state.Bank, minRatio fpmath.I80F48) (fpmath.I80F48, error) {
	initialRatio, err := hc.HealthRatio(Init)
	if err != nil {
		return fpmath.Zero, err
	}
	if initialRatio.LessThan(minRatio) {
		return fpmath.Zero, nil
	}
	if _, err := hc.TokenInfoIndex(bank.TokenIndex); err != nil {
		return fpmath.Zero, err
	}

	position := state.TokenPosition{TokenIndex: bank.TokenIndex, IndexedPosition: fpmath.Zero}
	if p, _, err := account.TokenPosition(bank.TokenIndex); err == nil {
		position = *p
	}

	ratioAfterBorrow := func(amount fpmath.I80F48) (fpmath.I80F48, error) {
		b := *bank
		p := position
		if _, err := b.Withdraw(&p, amount); err != nil {
			return fpmath.Zero, err
		}
		change, err := amount.Neg()
		if err != nil {
			return fpmath.Zero, err
		}
		after := hc.Clone()
		if err := after.AdjustTokenBalance(&b, change); err != nil {
			return fpmath.Zero, err
		}
		return after.HealthRatio(Init)
	}

	upper, err := scanRightUntilLessThan(fpmath.One, minRatio, ratioAfterBorrow)
	if err != nil {
		return fpmath.Zero, err
	}
	return binarySearch(fpmath.Zero, initialRatio, upper, minRatio, fpmath.One, ratioAfterBorrow)
}

// MaxPerpForHealthRatio returns how many base lots of perpIndex the account
// can trade on side at price while keeping the Init health ratio at or above
// minRatio. A trade that raises health at any size returns math.MaxInt64.
// The cache is not modified.
func (hc *HealthCache) MaxPerpForHealthRatio(perpIndex state.PerpMarketIndex, price fpmath.I80F48, side state.Side, minRatio fpmath.I80F48) (int64, error) {
	initialRatio, err := hc.HealthRatio(Init)
	if err != nil {
		return 0, err
	}
	if initialRatio.IsNegative() {
		return 0, nil
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("perp price %s must be positive", price)
	}

	perpIdx, err := hc.PerpInfoIndex(perpIndex)
	if err != nil {
		return 0, err
	}
	perp := &hc.PerpInfos[perpIdx]
	if perp.Excluded {
		return 0, fmt.Errorf("perp market %d has no price: %w", perpIndex, ErrStaleOracle)
	}
	settleIdx, err := hc.TokenInfoIndex(perp.SettleTokenIndex)
	if err != nil {
		return 0, err
	}
	direction := fpmath.One
	if side == state.SideAsk {
		direction = fpmath.FromInt(-1)
	}
	lotSize := fpmath.FromInt(perp.BaseLotSize)

	// Health per traded lot once the position grows. Weights that only
	// shrink a positive slope are left out.
	var c fpmath.Calc
	var slope fpmath.I80F48
	if side == state.SideBid {
		slope = c.Sub(c.Mul(perp.InitBaseAssetWeight, perp.BasePrices.Asset(Init)), price)
	} else {
		slope = c.Sub(price, c.Mul(perp.InitBaseLiabWeight, perp.BasePrices.Liab(Init)))
	}
	if err := c.Err(); err != nil {
		return 0, err
	}
	if !slope.IsNegative() {
		return stdmath.MaxInt64, nil
	}
	settleLiabPrice, err := hc.TokenInfos[settleIdx].LiabWeightedPrice(Init)
	if err != nil {
		return 0, err
	}
	if slope, err = slope.Mul(settleLiabPrice); err != nil {
		return 0, err
	}

	cacheAfterTrade := func(lots fpmath.I80F48) (*HealthCache, error) {
		var c fpmath.Calc
		after := hc.Clone()
		pi := &after.PerpInfos[perpIdx]
		pi.BaseLots = c.Add(pi.BaseLots, c.Mul(direction, lots))
		pi.Quote = c.Sub(pi.Quote, c.Mul(c.Mul3(direction, lots, lotSize), price))
		return after, c.Err()
	}
	ratioAfterTrade := func(lots fpmath.I80F48) (fpmath.I80F48, error) {
		after, err := cacheAfterTrade(lots.Floor())
		if err != nil {
			return fpmath.Zero, err
		}
		return after.HealthRatio(Init)
	}

	// Reducing an existing position first walks it back to zero, after
	// which every further lot grows the opposite position.
	case1Start, case1StartRatio := fpmath.Zero, initialRatio
	if (perp.BaseLots.IsPositive() && side == state.SideAsk) || (perp.BaseLots.IsNegative() && side == state.SideBid) {
		if case1Start, err = perp.BaseLots.Abs(); err != nil {
			return 0, err
		}
		if case1StartRatio, err = ratioAfterTrade(case1Start); err != nil {
			return 0, err
		}
	}

	var lots fpmath.I80F48
	switch {
	case !initialRatio.GreaterThan(minRatio) && case1StartRatio.LessThan(minRatio):
		lots = fpmath.Zero
		if !case1StartRatio.LessThan(initialRatio) {
			lots = case1Start
		}
	case !case1StartRatio.LessThan(minRatio):
		// Uncapped health with the settle token valued at its liab weight
		// everywhere, so the slope holds from case1Start on.
		start, err := cacheAfterTrade(case1Start)
		if err != nil {
			return 0, err
		}
		start.PerpInfos[perpIdx].InitOverallAssetWeight = fpmath.One
		settle := &start.TokenInfos[settleIdx]
		settle.InitAssetWeight = settle.InitLiabWeight
		settle.InitScaledAssetWeight = settle.InitScaledLiabWeight
		startHealth, err := start.Health(Init)
		if err != nil {
			return 0, err
		}
		if !startHealth.IsPositive() {
			return 0, nil
		}
		// overshoot by a lot and a percent of slope so the bound is at or
		// below zero health
		zeroHealth := c.Add(c.Sub(case1Start, c.Div(startHealth, c.Mul3(slope, lotSize, fpmath.MustParse("0.99")))), fpmath.One)
		if err := c.Err(); err != nil {
			return 0, err
		}
		if lots, err = binarySearch(case1Start, case1StartRatio, zeroHealth, minRatio, fpmath.One, ratioAfterTrade); err != nil {
			return 0, err
		}
	default:
		if lots, err = binarySearch(fpmath.Zero, initialRatio, case1Start, minRatio, fpmath.One, ratioAfterTrade); err != nil {
			return 0, err
		}
	}
	return lots.Int64Floor()
}

// scanRightUntilLessThan doubles x from start until fn(x) < target.
func scanRightUntilLessThan(start, target fpmath.I80F48, fn func(fpmath.I80F48) (fpmath.I80F48, error)) (fpmath.I80F48, error) {
	two := fpmath.FromInt(2)
	current := start
	for i := 0; i < scanMaxIterations; i++ {
		v, err := fn(current)
		if err != nil {
			return fpmath.Zero, err
		}
		if v.LessThan(target) {
			return current, nil
		}
		if current, err = fpmath.Max(current, fpmath.One).Mul(two); err != nil {
			return fpmath.Zero, err
		}
	}
	return fpmath.Zero, fmt.Errorf("no amount below target %s after %d doublings: %w", target, scanMaxIterations, ErrSearchExhausted)
}

// binarySearch finds x in [left, right] with fn(x) just above target.
// fn(left) and fn(right) must lie on different sides of target.
func binarySearch(left, leftValue, right, target, minStep fpmath.I80F48, fn func(fpmath.I80F48) (fpmath.I80F48, error)) (fpmath.I80F48, error) {
	rightValue, err := fn(right)
	if err != nil {
		return fpmath.Zero, err
	}
	if leftValue.Cmp(target)*rightValue.Cmp(target) == 1 {
		return fpmath.Zero, fmt.Errorf("values at %s (%s) and %s (%s) do not bracket %s: %w",
			left, leftValue, right, rightValue, target, ErrSearchExhausted)
	}
	rightAbove := rightValue.GreaterThan(target)

	var c fpmath.Calc
	half := fpmath.MustParse("0.5")
	for i := 0; i < searchMaxIterations; i++ {
		if c.Abs(c.Sub(right, left)).LessThan(minStep) {
			return left, c.Err()
		}
		mid := c.Mul(half, c.Add(left, right))
		if err := c.Err(); err != nil {
			return fpmath.Zero, err
		}
		midValue, err := fn(mid)
		if err != nil {
			return fpmath.Zero, err
		}
		if diff, err := midValue.Sub(target); err == nil && diff.IsPositive() && diff.LessThan(searchTargetError) {
			return mid, nil
		}
		if midValue.GreaterThan(target) != rightAbove {
			left = mid
		} else {
			right = mid
		}
	}
	return fpmath.Zero, fmt.Errorf("binary search for %s: %w", target, ErrSearchExhausted)
}

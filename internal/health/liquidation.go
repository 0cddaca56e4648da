package health

import (
	"errors"

	fpmath "MarginHealth/internal/math"
)

var (
	ErrHasOpenSerum3Orders          = errors.New("has open or unsettled spot orders")
	ErrHasOpenPerpOrders            = errors.New("has open perp orders")
	ErrHasLiquidatableTokenPosition = errors.New("has liquidatable token position")
	ErrHasLiquidatablePerpBase      = errors.New("has liquidatable perp base position")
	ErrHasOpenPerpTakerFills        = errors.New("has open perp taker fills")
	ErrHasPositivePerpPnlNoBase     = errors.New("has liquidatable positive perp pnl")
)

// IsLiquidatable uses LiquidationEnd health for accounts already being
// liquidated and Maint health otherwise.
func (hc *HealthCache) IsLiquidatable() (bool, error) {
	ht := Maint
	if hc.BeingLiquidated {
		ht = LiquidationEnd
	}
	h, err := hc.Health(ht)
	if err != nil {
		return false, err
	}
	return h.IsNegative(), nil
}

func (hc *HealthCache) HasSerum3OpenOrdersFunds() bool {
	for i := range hc.Serum3Infos {
		if !hc.Serum3Infos[i].HasZeroFunds {
			return true
		}
	}
	return false
}

func (hc *HealthCache) HasPerpOpenOrders() bool {
	for i := range hc.PerpInfos {
		if hc.PerpInfos[i].HasOpenOrders {
			return true
		}
	}
	return false
}

func (hc *HealthCache) HasPerpBasePositions() bool {
	for i := range hc.PerpInfos {
		if !hc.PerpInfos[i].BaseLots.IsZero() {
			return true
		}
	}
	return false
}

func (hc *HealthCache) HasPerpOpenFills() bool {
	for i := range hc.PerpInfos {
		if hc.PerpInfos[i].HasOpenFills {
			return true
		}
	}
	return false
}

func (hc *HealthCache) HasPerpPositivePnlNoBase() bool {
	for i := range hc.PerpInfos {
		if hc.PerpInfos[i].BaseLots.IsZero() && hc.PerpInfos[i].Quote.IsPositive() {
			return true
		}
	}
	return false
}

func (hc *HealthCache) HasPerpNegativePnl() bool {
	for i := range hc.PerpInfos {
		if hc.PerpInfos[i].BaseLots.IsZero() && hc.PerpInfos[i].Quote.IsNegative() {
			return true
		}
	}
	return false
}

// liqSpot reports whether any token is a liquidatable spot asset and whether
// any is a liquidatable spot borrow, judged on LiquidationEnd balances.
func (hc *HealthCache) liqSpot() (assets, borrows bool, err error) {
	balances, err := hc.effectiveTokenBalances(LiquidationEnd, false)
	if err != nil {
		return false, false, err
	}
	for i := range hc.TokenInfos {
		ti := &hc.TokenInfos[i]
		if !ti.BalanceSpot.LessThan(fpmath.One) && !balances[i].LessThan(fpmath.One) && ti.AllowAssetLiquidation {
			assets = true
		}
		if ti.BalanceSpot.IsNegative() && balances[i].IsNegative() {
			borrows = true
		}
	}
	return assets, borrows, nil
}

// HasLiqSpotAssets reports a token with at least one native unit both on the
// spot side and after perp pnl.
func (hc *HealthCache) HasLiqSpotAssets() (bool, error) {
	assets, _, err := hc.liqSpot()
	return assets, err
}

// HasLiqSpotBorrows reports a token that is borrowed both on the spot side
// and after perp pnl.
func (hc *HealthCache) HasLiqSpotBorrows() (bool, error) {
	_, borrows, err := hc.liqSpot()
	return borrows, err
}

// HasPossibleSpotLiquidations requires both a liquidatable asset and a
// liquidatable borrow.
func (hc *HealthCache) HasPossibleSpotLiquidations() (bool, error) {
	assets, borrows, err := hc.liqSpot()
	return assets && borrows, err
}

// HasPhase1Liquidatable: open orders must be cancelled first.
func (hc *HealthCache) HasPhase1Liquidatable() bool {
	return hc.HasSerum3OpenOrdersFunds() || hc.HasPerpOpenOrders()
}

// HasPhase2Liquidatable: spot swaps, perp base positions and positive pnl.
func (hc *HealthCache) HasPhase2Liquidatable() (bool, error) {
	spot, err := hc.HasPossibleSpotLiquidations()
	if err != nil {
		return false, err
	}
	return spot || hc.HasPerpBasePositions() || hc.HasPerpOpenFills() || hc.HasPerpPositivePnlNoBase(), nil
}

// HasPhase3Liquidatable: remaining borrows and negative pnl, the bankruptcy
// candidates.
func (hc *HealthCache) HasPhase3Liquidatable() (bool, error) {
	borrows, err := hc.HasLiqSpotBorrows()
	if err != nil {
		return false, err
	}
	return borrows || hc.HasPerpNegativePnl(), nil
}

func (hc *HealthCache) InPhase1Liquidation() bool {
	return hc.HasPhase1Liquidatable()
}

func (hc *HealthCache) InPhase2Liquidation() (bool, error) {
	if hc.HasPhase1Liquidatable() {
		return false, nil
	}
	return hc.HasPhase2Liquidatable()
}

func (hc *HealthCache) InPhase3Liquidation() (bool, error) {
	in2, err := hc.HasPhase2Liquidatable()
	if err != nil || hc.HasPhase1Liquidatable() || in2 {
		return false, err
	}
	return hc.HasPhase3Liquidatable()
}

// LiquidationPhase returns 1, 2 or 3 for the first phase with work left, or
// 0 when nothing is liquidatable.
func (hc *HealthCache) LiquidationPhase() (int, error) {
	if hc.InPhase1Liquidation() {
		return 1, nil
	}
	in2, err := hc.InPhase2Liquidation()
	if err != nil {
		return 0, err
	}
	if in2 {
		return 2, nil
	}
	in3, err := hc.InPhase3Liquidation()
	if err != nil {
		return 0, err
	}
	if in3 {
		return 3, nil
	}
	return 0, nil
}

func (hc *HealthCache) RequireAfterPhase1Liquidation() error {
	if hc.HasSerum3OpenOrdersFunds() {
		return ErrHasOpenSerum3Orders
	}
	if hc.HasPerpOpenOrders() {
		return ErrHasOpenPerpOrders
	}
	return nil
}

func (hc *HealthCache) RequireAfterPhase2Liquidation() error {
	if err := hc.RequireAfterPhase1Liquidation(); err != nil {
		return err
	}
	spot, err := hc.HasPossibleSpotLiquidations()
	if err != nil {
		return err
	}
	switch {
	case spot:
		return ErrHasLiquidatableTokenPosition
	case hc.HasPerpBasePositions():
		return ErrHasLiquidatablePerpBase
	case hc.HasPerpOpenFills():
		return ErrHasOpenPerpTakerFills
	case hc.HasPerpPositivePnlNoBase():
		return ErrHasPositivePerpPnlNoBase
	}
	return nil
}

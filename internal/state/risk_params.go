package state

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
)

// ValidateTokenWeights checks the weight convention for a bank:
// 0 <= init asset <= maint asset <= 1 <= maint liab <= init liab.
// The health engine does not enforce this; loaders report violations.
func ValidateTokenWeights(b *Bank) error {
	if err := validateWeightLadder(b.InitAssetWeight, b.MaintAssetWeight, b.MaintLiabWeight, b.InitLiabWeight); err != nil {
		return fmt.Errorf("bank %d (%s): %w", b.TokenIndex, b.Name, err)
	}
	if b.DepositIndex.Sign() <= 0 || b.BorrowIndex.Sign() <= 0 {
		return fmt.Errorf("bank %d (%s): indexes must be > 0: %w", b.TokenIndex, b.Name, ErrInvalidRiskParams)
	}
	if b.DepositWeightScaleStartQuote.IsNegative() || b.BorrowWeightScaleStartQuote.IsNegative() {
		return fmt.Errorf("bank %d (%s): weight scale start must be >= 0: %w", b.TokenIndex, b.Name, ErrInvalidRiskParams)
	}
	return nil
}

// ValidatePerpWeights checks the base weight ladder, the overall asset
// weights and the lot sizes of a perp market.
func ValidatePerpWeights(m *PerpMarket) error {
	if err := validateWeightLadder(m.InitBaseAssetWeight, m.MaintBaseAssetWeight, m.MaintBaseLiabWeight, m.InitBaseLiabWeight); err != nil {
		return fmt.Errorf("perp market %d (%s): %w", m.PerpMarketIndex, m.Name, err)
	}
	if m.InitOverallAssetWeight.IsNegative() || m.InitOverallAssetWeight.GreaterThan(m.MaintOverallAssetWeight) ||
		m.MaintOverallAssetWeight.GreaterThan(fpmath.One) {
		return fmt.Errorf("perp market %d (%s): overall asset weights must satisfy 0 <= init (%s) <= maint (%s) <= 1: %w",
			m.PerpMarketIndex, m.Name, m.InitOverallAssetWeight, m.MaintOverallAssetWeight, ErrInvalidRiskParams)
	}
	if m.BaseLotSize <= 0 {
		return fmt.Errorf("perp market %d (%s): base_lot_size must be > 0, got %d: %w",
			m.PerpMarketIndex, m.Name, m.BaseLotSize, ErrInvalidRiskParams)
	}
	if m.QuoteLotSize <= 0 {
		return fmt.Errorf("perp market %d (%s): quote_lot_size must be > 0, got %d: %w",
			m.PerpMarketIndex, m.Name, m.QuoteLotSize, ErrInvalidRiskParams)
	}
	return nil
}

func validateWeightLadder(initAsset, maintAsset, maintLiab, initLiab fpmath.I80F48) error {
	if initAsset.IsNegative() {
		return fmt.Errorf("init asset weight must be >= 0, got %s: %w", initAsset, ErrInvalidRiskParams)
	}
	if initAsset.GreaterThan(maintAsset) {
		return fmt.Errorf("init asset weight (%s) must be <= maint asset weight (%s): %w", initAsset, maintAsset, ErrInvalidRiskParams)
	}
	if maintAsset.GreaterThan(fpmath.One) {
		return fmt.Errorf("maint asset weight must be <= 1, got %s: %w", maintAsset, ErrInvalidRiskParams)
	}
	if maintLiab.LessThan(fpmath.One) {
		return fmt.Errorf("maint liab weight must be >= 1, got %s: %w", maintLiab, ErrInvalidRiskParams)
	}
	if initLiab.LessThan(maintLiab) {
		return fmt.Errorf("init liab weight (%s) must be >= maint liab weight (%s): %w", initLiab, maintLiab, ErrInvalidRiskParams)
	}
	return nil
}

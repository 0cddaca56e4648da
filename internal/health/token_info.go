package health

import (
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

// TokenInfo is the valuation input for one token.
type TokenInfo struct {
	TokenIndex state.TokenIndex `json:"token_index"`

	MaintAssetWeight      fpmath.I80F48 `json:"maint_asset_weight"`
	InitAssetWeight       fpmath.I80F48 `json:"init_asset_weight"`
	InitScaledAssetWeight fpmath.I80F48 `json:"init_scaled_asset_weight"`
	MaintLiabWeight       fpmath.I80F48 `json:"maint_liab_weight"`
	InitLiabWeight        fpmath.I80F48 `json:"init_liab_weight"`
	InitScaledLiabWeight  fpmath.I80F48 `json:"init_scaled_liab_weight"`

	Prices Prices `json:"prices"`

	// BalanceSpot is the native token balance including funds held in spot
	// open orders, excluding perp pnl.
	BalanceSpot fpmath.I80F48 `json:"balance_spot"`

	AllowAssetLiquidation bool `json:"allow_asset_liquidation"`

	// Excluded tokens had no readable price in a lenient build and
	// contribute zero.
	Excluded bool `json:"excluded"`
}

func (t *TokenInfo) AssetWeight(ht HealthType) fpmath.I80F48 {
	switch ht {
	case Init:
		return t.InitScaledAssetWeight
	case LiquidationEnd:
		return t.InitAssetWeight
	default:
		return t.MaintAssetWeight
	}
}

func (t *TokenInfo) LiabWeight(ht HealthType) fpmath.I80F48 {
	switch ht {
	case Init:
		return t.InitScaledLiabWeight
	case LiquidationEnd:
		return t.InitLiabWeight
	default:
		return t.MaintLiabWeight
	}
}

func (t *TokenInfo) AssetWeightedPrice(ht HealthType) (fpmath.I80F48, error) {
	return t.AssetWeight(ht).Mul(t.Prices.Asset(ht))
}

func (t *TokenInfo) LiabWeightedPrice(ht HealthType) (fpmath.I80F48, error) {
	return t.LiabWeight(ht).Mul(t.Prices.Liab(ht))
}

// HealthContribution values balance at the asset or liab weight and price
// depending on its sign.
func (t *TokenInfo) HealthContribution(ht HealthType, balance fpmath.I80F48) (fpmath.I80F48, error) {
	if t.Excluded {
		return fpmath.Zero, nil
	}
	var c fpmath.Calc
	var v fpmath.I80F48
	if balance.IsNegative() {
		v = c.Mul3(balance, t.Prices.Liab(ht), t.LiabWeight(ht))
	} else {
		v = c.Mul3(balance, t.Prices.Asset(ht), t.AssetWeight(ht))
	}
	return v, c.Err()
}

// newTokenInfo builds the entry for a bank. The Init weights are scaled at
// the Init liab price, the least favorable of the two prices.
func newTokenInfo(bank *state.Bank, prices Prices, balance fpmath.I80F48) (TokenInfo, error) {
	liabPrice := prices.Liab(Init)
	scaledAsset, err := bank.ScaledInitAssetWeight(liabPrice)
	if err != nil {
		return TokenInfo{}, err
	}
	scaledLiab, err := bank.ScaledInitLiabWeight(liabPrice)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{
		TokenIndex:            bank.TokenIndex,
		MaintAssetWeight:      bank.MaintAssetWeight,
		InitAssetWeight:       bank.InitAssetWeight,
		InitScaledAssetWeight: scaledAsset,
		MaintLiabWeight:       bank.MaintLiabWeight,
		InitLiabWeight:        bank.InitLiabWeight,
		InitScaledLiabWeight:  scaledLiab,
		Prices:                prices,
		BalanceSpot:           balance,
		AllowAssetLiquidation: bank.AllowsAssetLiquidation(),
	}, nil
}

// excludedTokenInfo keeps the slot of a token whose price could not be read.
func excludedTokenInfo(bank *state.Bank, balance fpmath.I80F48) TokenInfo {
	return TokenInfo{
		TokenIndex:            bank.TokenIndex,
		MaintAssetWeight:      bank.MaintAssetWeight,
		InitAssetWeight:       bank.InitAssetWeight,
		InitScaledAssetWeight: bank.InitAssetWeight,
		MaintLiabWeight:       bank.MaintLiabWeight,
		InitLiabWeight:        bank.InitLiabWeight,
		InitScaledLiabWeight:  bank.InitLiabWeight,
		Prices:                Prices{Oracle: fpmath.Zero, Stable: bank.StablePrice},
		BalanceSpot:           balance,
		AllowAssetLiquidation: bank.AllowsAssetLiquidation(),
		Excluded:              true,
	}
}

// Serum3Info records the spot open orders folded into the token balances.
type Serum3Info struct {
	MarketIndex    state.Serum3MarketIndex `json:"market_index"`
	BaseInfoIndex  int                     `json:"base_info_index"`
	QuoteInfoIndex int                     `json:"quote_info_index"`
	ReservedBase   fpmath.I80F48           `json:"reserved_base"`
	ReservedQuote  fpmath.I80F48           `json:"reserved_quote"`
	HasZeroFunds   bool                    `json:"has_zero_funds"`
}

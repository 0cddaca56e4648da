package health

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

// HealthCache holds the valuation inputs of one account, built for a single
// evaluation. It is not safe for concurrent use.
//
// After mutating a position the caller must update the cache through
// AdjustTokenBalance or RecomputePerpInfo, or rebuild it, before reading it
// again.
type HealthCache struct {
	TokenInfos      []TokenInfo  `json:"token_infos"`
	Serum3Infos     []Serum3Info `json:"serum3_infos"`
	PerpInfos       []PerpInfo   `json:"perp_infos"`
	BeingLiquidated bool         `json:"being_liquidated"`
}

// Clone returns an independent copy.
func (hc *HealthCache) Clone() *HealthCache {
	return &HealthCache{
		TokenInfos:      append([]TokenInfo(nil), hc.TokenInfos...),
		Serum3Infos:     append([]Serum3Info(nil), hc.Serum3Infos...),
		PerpInfos:       append([]PerpInfo(nil), hc.PerpInfos...),
		BeingLiquidated: hc.BeingLiquidated,
	}
}

// Excluded names the instruments a lenient build left out, as
// "token:{index}" and "perp:{index}".
func (hc *HealthCache) Excluded() []string {
	var out []string
	for _, ti := range hc.TokenInfos {
		if ti.Excluded {
			out = append(out, fmt.Sprintf("token:%d", ti.TokenIndex))
		}
	}
	for _, pi := range hc.PerpInfos {
		if pi.Excluded {
			out = append(out, fmt.Sprintf("perp:%d", pi.PerpMarketIndex))
		}
	}
	return out
}

// HidesLiabilities reports whether a lenient build dropped a value that may
// be negative: an excluded token with a negative balance, an excluded perp
// with base exposure or negative quote, or negative perp pnl credited to an
// excluded settle token. When it returns false every health figure of the
// cache is a lower bound of the true one.
func (hc *HealthCache) HidesLiabilities() (bool, error) {
	for i := range hc.TokenInfos {
		if hc.TokenInfos[i].Excluded && hc.TokenInfos[i].BalanceSpot.IsNegative() {
			return true, nil
		}
	}
	for i := range hc.PerpInfos {
		pi := &hc.PerpInfos[i]
		if pi.Excluded {
			if !pi.BaseLots.IsZero() || pi.BidsBaseLots != 0 || pi.AsksBaseLots != 0 || pi.Quote.IsNegative() {
				return true, nil
			}
			continue
		}
		settle, err := hc.TokenInfo(pi.SettleTokenIndex)
		if err != nil {
			return false, err
		}
		if !settle.Excluded {
			continue
		}
		for _, ht := range []HealthType{Init, LiquidationEnd, Maint} {
			contrib, err := pi.HealthContribution(ht)
			if err != nil {
				return false, err
			}
			if contrib.IsNegative() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (hc *HealthCache) TokenInfoIndex(tokenIndex state.TokenIndex) (int, error) {
	for i := range hc.TokenInfos {
		if hc.TokenInfos[i].TokenIndex == tokenIndex {
			return i, nil
		}
	}
	return -1, fmt.Errorf("token %d: %w", tokenIndex, ErrTokenInfoNotFound)
}

func (hc *HealthCache) TokenInfo(tokenIndex state.TokenIndex) (*TokenInfo, error) {
	i, err := hc.TokenInfoIndex(tokenIndex)
	if err != nil {
		return nil, err
	}
	return &hc.TokenInfos[i], nil
}

func (hc *HealthCache) PerpInfoIndex(perpIndex state.PerpMarketIndex) (int, error) {
	for i := range hc.PerpInfos {
		if hc.PerpInfos[i].PerpMarketIndex == perpIndex {
			return i, nil
		}
	}
	return -1, fmt.Errorf("perp market %d: %w", perpIndex, ErrPerpInfoNotFound)
}

func (hc *HealthCache) PerpInfo(perpIndex state.PerpMarketIndex) (*PerpInfo, error) {
	i, err := hc.PerpInfoIndex(perpIndex)
	if err != nil {
		return nil, err
	}
	return &hc.PerpInfos[i], nil
}

// effectiveTokenBalances returns, per token info, the spot balance plus the
// health contributions of perps settling in that token.
func (hc *HealthCache) effectiveTokenBalances(ht HealthType, skipNegativePerps bool) ([]fpmath.I80F48, error) {
	balances := make([]fpmath.I80F48, len(hc.TokenInfos))
	for i := range hc.TokenInfos {
		balances[i] = hc.TokenInfos[i].BalanceSpot
	}
	for i := range hc.PerpInfos {
		perp := &hc.PerpInfos[i]
		contrib, err := perp.HealthContribution(ht)
		if err != nil {
			return nil, fmt.Errorf("perp market %d: %w", perp.PerpMarketIndex, err)
		}
		if skipNegativePerps && contrib.IsNegative() {
			continue
		}
		ti, err := hc.TokenInfoIndex(perp.SettleTokenIndex)
		if err != nil {
			return nil, err
		}
		if balances[ti], err = balances[ti].Add(contrib); err != nil {
			return nil, err
		}
	}
	return balances, nil
}

func (hc *HealthCache) sumContributions(ht HealthType, balances []fpmath.I80F48) (assets, liabs fpmath.I80F48, err error) {
	assets, liabs = fpmath.Zero, fpmath.Zero
	var c fpmath.Calc
	for i := range hc.TokenInfos {
		contrib, err := hc.TokenInfos[i].HealthContribution(ht, balances[i])
		if err != nil {
			return fpmath.Zero, fpmath.Zero, fmt.Errorf("token %d: %w", hc.TokenInfos[i].TokenIndex, err)
		}
		if contrib.IsPositive() {
			assets = c.Add(assets, contrib)
		} else {
			liabs = c.Sub(liabs, contrib)
		}
	}
	return assets, liabs, c.Err()
}

// Health returns the weighted sum of all token contributions, with perp pnl
// credited to the settle tokens.
func (hc *HealthCache) Health(ht HealthType) (fpmath.I80F48, error) {
	assets, liabs, err := hc.HealthAssetsAndLiabs(ht)
	if err != nil {
		return fpmath.Zero, err
	}
	return assets.Sub(liabs)
}

// HealthAssetsAndLiabs splits health into the sum of positive contributions
// and the magnitude of the negative ones.
func (hc *HealthCache) HealthAssetsAndLiabs(ht HealthType) (assets, liabs fpmath.I80F48, err error) {
	balances, err := hc.effectiveTokenBalances(ht, false)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return hc.sumContributions(ht, balances)
}

// HealthRatio is 100 * health / max(weighted assets, 1). Without liabilities
// it returns MaxI80F48.
func (hc *HealthCache) HealthRatio(ht HealthType) (fpmath.I80F48, error) {
	assets, liabs, err := hc.HealthAssetsAndLiabs(ht)
	if err != nil {
		return fpmath.Zero, err
	}
	if !liabs.IsPositive() {
		return fpmath.MaxI80F48, nil
	}
	var c fpmath.Calc
	health := c.Sub(assets, liabs)
	ratio := c.Div(c.Mul(fpmath.FromInt(100), health), fpmath.Max(assets, fpmath.One))
	return ratio, c.Err()
}

// AssetsAndLiabs returns unweighted values at oracle prices: token spot
// balances, perp quote and perp base positions.
func (hc *HealthCache) AssetsAndLiabs() (assets, liabs fpmath.I80F48, err error) {
	var c fpmath.Calc
	assets, liabs = fpmath.Zero, fpmath.Zero
	add := func(v fpmath.I80F48) {
		if v.IsNegative() {
			liabs = c.Sub(liabs, v)
		} else {
			assets = c.Add(assets, v)
		}
	}
	for i := range hc.TokenInfos {
		ti := &hc.TokenInfos[i]
		if ti.Excluded {
			continue
		}
		add(c.Mul(ti.BalanceSpot, ti.Prices.Oracle))
	}
	for i := range hc.PerpInfos {
		pi := &hc.PerpInfos[i]
		if pi.Excluded {
			continue
		}
		add(pi.Quote)
		add(c.Mul3(pi.BaseLots, fpmath.FromInt(pi.BaseLotSize), pi.BasePrices.Oracle))
	}
	return assets, liabs, c.Err()
}

// Leverage is liabs / max(equity, 0.001) over unweighted values.
func (hc *HealthCache) Leverage() (fpmath.I80F48, error) {
	assets, liabs, err := hc.AssetsAndLiabs()
	if err != nil {
		return fpmath.Zero, err
	}
	var c fpmath.Calc
	equity := c.Sub(assets, liabs)
	lev := c.Div(liabs, fpmath.Max(equity, fpmath.MustParse("0.001")))
	return lev, c.Err()
}

// AdjustTokenBalance applies a native balance change for bank's token. The
// change must already be applied to bank so the scaled weights follow the
// new totals.
func (hc *HealthCache) AdjustTokenBalance(bank *state.Bank, change fpmath.I80F48) error {
	ti, err := hc.TokenInfo(bank.TokenIndex)
	if err != nil {
		return err
	}
	if !ti.Excluded {
		liabPrice := ti.Prices.Liab(Init)
		if ti.InitScaledAssetWeight, err = bank.ScaledInitAssetWeight(liabPrice); err != nil {
			return err
		}
		if ti.InitScaledLiabWeight, err = bank.ScaledInitLiabWeight(liabPrice); err != nil {
			return err
		}
	}
	balance, err := ti.BalanceSpot.Add(change)
	if err != nil {
		return err
	}
	ti.BalanceSpot = balance
	return nil
}

// RecomputePerpInfo replaces the entry for market after position changed.
// The cached base prices are kept.
func (hc *HealthCache) RecomputePerpInfo(position *state.PerpPosition, market *state.PerpMarket) error {
	pi, err := hc.PerpInfo(market.PerpMarketIndex)
	if err != nil {
		return err
	}
	if pi.Excluded {
		excluded, err := excludedPerpInfo(position, market)
		if err != nil {
			return err
		}
		*pi = excluded
		return nil
	}
	updated, err := newPerpInfo(position, market, pi.BasePrices)
	if err != nil {
		return err
	}
	*pi = updated
	return nil
}

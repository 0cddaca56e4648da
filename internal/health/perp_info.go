package health

import (
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

// PerpInfo is the valuation input for one perp position.
type PerpInfo struct {
	PerpMarketIndex  state.PerpMarketIndex `json:"perp_market_index"`
	SettleTokenIndex state.TokenIndex      `json:"settle_token_index"`

	MaintBaseAssetWeight      fpmath.I80F48 `json:"maint_base_asset_weight"`
	InitBaseAssetWeight       fpmath.I80F48 `json:"init_base_asset_weight"`
	InitScaledBaseAssetWeight fpmath.I80F48 `json:"init_scaled_base_asset_weight"`
	MaintBaseLiabWeight       fpmath.I80F48 `json:"maint_base_liab_weight"`
	InitBaseLiabWeight        fpmath.I80F48 `json:"init_base_liab_weight"`
	InitScaledBaseLiabWeight  fpmath.I80F48 `json:"init_scaled_base_liab_weight"`
	MaintOverallAssetWeight   fpmath.I80F48 `json:"maint_overall_asset_weight"`
	InitOverallAssetWeight    fpmath.I80F48 `json:"init_overall_asset_weight"`

	BaseLotSize int64 `json:"base_lot_size"`
	// BaseLots includes unprocessed taker fills.
	BaseLots     fpmath.I80F48 `json:"base_lots"`
	BidsBaseLots int64 `json:"bids_base_lots"`
	AsksBaseLots int64 `json:"asks_base_lots"`
	// Quote is settled quote minus unsettled funding plus unprocessed taker
	// quote, in settle token native units.
	Quote fpmath.I80F48 `json:"quote"`

	BasePrices    Prices `json:"base_prices"`
	HasOpenOrders bool   `json:"has_open_orders"`
	HasOpenFills  bool   `json:"has_open_fills"`
	Excluded      bool   `json:"excluded"`
}

func (p *PerpInfo) baseWeight(ht HealthType, negative bool) fpmath.I80F48 {
	switch {
	case ht == Init && negative:
		return p.InitScaledBaseLiabWeight
	case ht == Init:
		return p.InitScaledBaseAssetWeight
	case ht == LiquidationEnd && negative:
		return p.InitBaseLiabWeight
	case ht == LiquidationEnd:
		return p.InitBaseAssetWeight
	case negative:
		return p.MaintBaseLiabWeight
	default:
		return p.MaintBaseAssetWeight
	}
}

func (p *PerpInfo) overallAssetWeight(ht HealthType) fpmath.I80F48 {
	if ht == Maint {
		return p.MaintOverallAssetWeight
	}
	return p.InitOverallAssetWeight
}

// orderExecutionCase values the position as if ordersBaseLots more lots were
// traded at orderPrice.
func (p *PerpInfo) orderExecutionCase(c *fpmath.Calc, ht HealthType, ordersBaseLots, orderPrice fpmath.I80F48) fpmath.I80F48 {
	lotSize := fpmath.FromInt(p.BaseLotSize)
	netBase := c.Mul(c.Add(p.BaseLots, ordersBaseLots), lotSize)
	negative := netBase.IsNegative()

	basePrice := p.BasePrices.Asset(ht)
	if negative {
		basePrice = p.BasePrices.Liab(ht)
	}
	baseHealth := c.Mul3(netBase, p.baseWeight(ht, negative), basePrice)

	ordersBase := c.Mul(ordersBaseLots, lotSize)
	orderQuote := c.Neg(c.Mul(ordersBase, orderPrice))
	return c.Add(baseHealth, orderQuote)
}

// UnweightedHealthUnsettledPnl is quote plus the weighted base position under
// the worse of two cases: all bids fill at the liab price, or all asks fill
// at the asset price. Resting orders never improve it.
func (p *PerpInfo) UnweightedHealthUnsettledPnl(ht HealthType) (fpmath.I80F48, error) {
	var c fpmath.Calc
	bidsCase := p.orderExecutionCase(&c, ht, fpmath.FromInt(p.BidsBaseLots), p.BasePrices.Liab(ht))
	asksCase := p.orderExecutionCase(&c, ht, c.Neg(fpmath.FromInt(p.AsksBaseLots)), p.BasePrices.Asset(ht))
	v := c.Add(p.Quote, fpmath.Min(bidsCase, asksCase))
	return v, c.Err()
}

// HealthContribution is the unsettled pnl with the overall asset weight
// applied to positive values. It is credited to the settle token.
func (p *PerpInfo) HealthContribution(ht HealthType) (fpmath.I80F48, error) {
	if p.Excluded {
		return fpmath.Zero, nil
	}
	v, err := p.UnweightedHealthUnsettledPnl(ht)
	if err != nil {
		return fpmath.Zero, err
	}
	if v.IsPositive() {
		return p.overallAssetWeight(ht).Mul(v)
	}
	return v, nil
}

// newPerpInfo values position in market at basePrices.
func newPerpInfo(position *state.PerpPosition, market *state.PerpMarket, basePrices Prices) (PerpInfo, error) {
	var c fpmath.Calc

	unsettled, err := position.UnsettledFunding(market)
	if err != nil {
		return PerpInfo{}, err
	}
	takerQuote, err := fpmath.LotsToNative(position.TakerQuoteLots, market.QuoteLotSize)
	if err != nil {
		return PerpInfo{}, err
	}
	quote := c.Add(c.Sub(position.QuotePositionNative, unsettled), takerQuote)

	scaledAsset, scaledLiab := market.InitBaseAssetWeight, market.InitBaseLiabWeight
	limit := market.InitBaseExposureLimitQuote
	if limit.IsPositive() && market.OpenInterestLots > 0 {
		oi := c.Mul3(fpmath.FromInt(market.OpenInterestLots), fpmath.FromInt(market.BaseLotSize), basePrices.Liab(Init))
		if c.Err() == nil && oi.GreaterThan(limit) {
			scaledAsset = c.Div(c.Mul(market.InitBaseAssetWeight, limit), oi)
			scaledLiab = c.Div(c.Mul(market.InitBaseLiabWeight, oi), limit)
		}
	}

	baseLots := c.Add(fpmath.FromInt(position.BasePositionLots), fpmath.FromInt(position.TakerBaseLots))

	if err := c.Err(); err != nil {
		return PerpInfo{}, err
	}

	return PerpInfo{
		PerpMarketIndex:           market.PerpMarketIndex,
		SettleTokenIndex:          market.SettleTokenIndex,
		MaintBaseAssetWeight:      market.MaintBaseAssetWeight,
		InitBaseAssetWeight:       market.InitBaseAssetWeight,
		InitScaledBaseAssetWeight: scaledAsset,
		MaintBaseLiabWeight:       market.MaintBaseLiabWeight,
		InitBaseLiabWeight:        market.InitBaseLiabWeight,
		InitScaledBaseLiabWeight:  scaledLiab,
		MaintOverallAssetWeight:   market.MaintOverallAssetWeight,
		InitOverallAssetWeight:    market.InitOverallAssetWeight,
		BaseLotSize:               market.BaseLotSize,
		BaseLots:                  baseLots,
		BidsBaseLots:              position.BidsBaseLots,
		AsksBaseLots:              position.AsksBaseLots,
		Quote:                     quote,
		BasePrices:                basePrices,
		HasOpenOrders:             position.HasOpenOrders(),
		HasOpenFills:              position.HasOpenTakerFills(),
	}, nil
}

func excludedPerpInfo(position *state.PerpPosition, market *state.PerpMarket) (PerpInfo, error) {
	baseLots, err := fpmath.FromInt(position.BasePositionLots).Add(fpmath.FromInt(position.TakerBaseLots))
	if err != nil {
		return PerpInfo{}, err
	}
	return PerpInfo{
		PerpMarketIndex:  market.PerpMarketIndex,
		SettleTokenIndex: market.SettleTokenIndex,
		BaseLotSize:      market.BaseLotSize,
		BaseLots:         baseLots,
		BidsBaseLots:     position.BidsBaseLots,
		AsksBaseLots:     position.AsksBaseLots,
		Quote:            position.QuotePositionNative,
		BasePrices:       Prices{Oracle: fpmath.Zero, Stable: market.StablePrice},
		HasOpenOrders:    position.HasOpenOrders(),
		HasOpenFills:     position.HasOpenTakerFills(),
		Excluded:         true,
	}, nil
}

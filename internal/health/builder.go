package health

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"
)

// NewHealthCache walks the account's active positions through retriever.
//
// In Strict mode any retriever error aborts the build. In Lenient mode an
// instrument whose oracle is stale or too uncertain keeps its slot with a
// zero contribution; every other error still aborts.
func NewHealthCache(account *state.Account, retriever AccountRetriever, leniency Leniency) (*HealthCache, error) {
	tolerate := func(err error) bool {
		return leniency == Lenient && oracle.IsOracleError(err)
	}

	tokens := account.ActiveTokenPositions()
	hc := &HealthCache{
		TokenInfos:      make([]TokenInfo, 0, len(tokens)),
		Serum3Infos:     make([]Serum3Info, 0, len(account.ActiveSerum3Orders())),
		PerpInfos:       make([]PerpInfo, 0, len(account.ActivePerpPositions())),
		BeingLiquidated: account.BeingLiquidated(),
	}

	for i := range tokens {
		position := &tokens[i]
		bank, price, err := retriever.BankAndOracle(i, position.TokenIndex)
		if err != nil && !(bank != nil && tolerate(err)) {
			return nil, err
		}
		native, nerr := position.Native(bank)
		if nerr != nil {
			return nil, instrumentErr(KindToken, uint16(position.TokenIndex), bank.Key, nerr)
		}
		if err != nil {
			hc.TokenInfos = append(hc.TokenInfos, excludedTokenInfo(bank, native))
			continue
		}
		info, err := newTokenInfo(bank, Prices{Oracle: price, Stable: bank.StablePrice}, native)
		if err != nil {
			return nil, instrumentErr(KindToken, uint16(position.TokenIndex), bank.Key, err)
		}
		hc.TokenInfos = append(hc.TokenInfos, info)
	}

	for i, orders := range account.ActiveSerum3Orders() {
		if err := hc.addSerum3(retriever, i, orders); err != nil {
			return nil, err
		}
	}

	perps := account.ActivePerpPositions()
	for i := range perps {
		position := &perps[i]
		market, price, err := retriever.PerpMarketAndOracle(i, position.MarketIndex)
		if err != nil && !(market != nil && tolerate(err)) {
			return nil, err
		}
		if err != nil {
			info, err := excludedPerpInfo(position, market)
			if err != nil {
				return nil, instrumentErr(KindPerpMarket, uint16(position.MarketIndex), market.Key, err)
			}
			hc.PerpInfos = append(hc.PerpInfos, info)
		} else {
			info, err := newPerpInfo(position, market, Prices{Oracle: price, Stable: market.StablePrice})
			if err != nil {
				return nil, instrumentErr(KindPerpMarket, uint16(position.MarketIndex), market.Key, err)
			}
			hc.PerpInfos = append(hc.PerpInfos, info)
		}

		// Settle tokens without a position still need a price for the pnl.
		if _, err := hc.TokenInfoIndex(market.SettleTokenIndex); err == nil {
			continue
		}
		bank, settlePrice, err := retriever.BankAndOracle(NotActive, market.SettleTokenIndex)
		if err != nil && !(bank != nil && tolerate(err)) {
			return nil, err
		}
		if err != nil {
			hc.TokenInfos = append(hc.TokenInfos, excludedTokenInfo(bank, fpmath.Zero))
			continue
		}
		info, err := newTokenInfo(bank, Prices{Oracle: settlePrice, Stable: bank.StablePrice}, fpmath.Zero)
		if err != nil {
			return nil, instrumentErr(KindToken, uint16(bank.TokenIndex), bank.Key, err)
		}
		hc.TokenInfos = append(hc.TokenInfos, info)
	}

	return hc, nil
}

// addSerum3 folds the funds of one open orders account into its base and
// quote token balances.
func (hc *HealthCache) addSerum3(retriever AccountRetriever, activeIndex int, orders state.Serum3Orders) error {
	oo, err := retriever.OpenOrders(activeIndex, orders.OpenOrders)
	if err != nil {
		return err
	}
	if oo.MarketIndex != orders.MarketIndex {
		return instrumentErr(KindOpenOrders, uint16(orders.MarketIndex), oo.Key,
			fmt.Errorf("open orders belong to market %d: %w", oo.MarketIndex, ErrMissingInstrumentRecord))
	}

	baseIdx, err := hc.TokenInfoIndex(orders.BaseTokenIndex)
	if err != nil {
		return instrumentErr(KindOpenOrders, uint16(orders.MarketIndex), oo.Key, err)
	}
	quoteIdx, err := hc.TokenInfoIndex(orders.QuoteTokenIndex)
	if err != nil {
		return instrumentErr(KindOpenOrders, uint16(orders.MarketIndex), oo.Key, err)
	}

	var c fpmath.Calc
	base := &hc.TokenInfos[baseIdx]
	quote := &hc.TokenInfos[quoteIdx]
	base.BalanceSpot = c.Add(base.BalanceSpot, fpmath.FromUint64(oo.BaseTotal))
	quote.BalanceSpot = c.Sum(quote.BalanceSpot, fpmath.FromUint64(oo.QuoteTotal), fpmath.FromUint64(oo.ReferrerRebatesAccrued))
	if err := c.Err(); err != nil {
		return instrumentErr(KindOpenOrders, uint16(orders.MarketIndex), oo.Key, err)
	}

	hc.Serum3Infos = append(hc.Serum3Infos, Serum3Info{
		MarketIndex:    orders.MarketIndex,
		BaseInfoIndex:  baseIdx,
		QuoteInfoIndex: quoteIdx,
		ReservedBase:   fpmath.FromUint64(oo.BaseReserved()),
		ReservedQuote:  fpmath.FromUint64(oo.QuoteReserved()),
		HasZeroFunds:   !oo.HasFunds(),
	})
	return nil
}

// ComputeHealth builds a strict cache and returns one health figure.
func ComputeHealth(account *state.Account, ht HealthType, retriever AccountRetriever) (fpmath.I80F48, error) {
	hc, err := NewHealthCache(account, retriever, Strict)
	if err != nil {
		return fpmath.Zero, err
	}
	return hc.Health(ht)
}

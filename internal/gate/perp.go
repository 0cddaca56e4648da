package gate

import (
	"fmt"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"
)

// Fill is a matched perp trade from the account's point of view.
type Fill struct {
	Side     state.Side
	BaseLots int64
	// Price is native quote per native base.
	Price fpmath.I80F48
	// Maker fills consume a resting order of the same side.
	Maker bool
}

func (f Fill) baseChange() int64 {
	if f.Side == state.SideAsk {
		return -f.BaseLots
	}
	return f.BaseLots
}

// quoteChange is the signed quote flow: buying base pays quote.
func (f Fill) quoteChange(market *state.PerpMarket) (fpmath.I80F48, error) {
	q, err := market.BaseLotsToQuote(f.BaseLots, f.Price)
	if err != nil || f.Side == state.SideAsk {
		return q, err
	}
	return q.Neg()
}

// PerpPlaceOrder rests an order of lots base lots on side.
func PerpPlaceOrder(account *state.Account, market *state.PerpMarket, retriever health.AccountRetriever, side state.Side, lots int64) (out Outcome, err error) {
	if lots <= 0 {
		return Outcome{}, fmt.Errorf("order of %d lots: %w", lots, ErrInvalidAmount)
	}
	return perpOperation(account, market, retriever, func(pos *state.PerpPosition) error {
		pos.AddOrder(side, lots)
		return nil
	})
}

// PerpFill applies a fill to the account's position in market.
func PerpFill(account *state.Account, market *state.PerpMarket, retriever health.AccountRetriever, fill Fill) (out Outcome, err error) {
	if fill.BaseLots <= 0 || !fill.Price.IsPositive() {
		return Outcome{}, fmt.Errorf("fill of %d lots at %s: %w", fill.BaseLots, fill.Price, ErrInvalidAmount)
	}
	quote, err := fill.quoteChange(market)
	if err != nil {
		return Outcome{}, err
	}
	return perpOperation(account, market, retriever, func(pos *state.PerpPosition) error {
		return applyFill(pos, market, fill, quote)
	})
}

func applyFill(pos *state.PerpPosition, market *state.PerpMarket, fill Fill, quote fpmath.I80F48) error {
	if fill.Maker {
		pos.RemoveOrder(fill.Side, fill.BaseLots)
	}
	if err := pos.RecordTrade(market, fill.baseChange(), quote); err != nil {
		return err
	}
	market.OpenInterestLots += openInterestChange(pos.BasePositionLots-fill.baseChange(), pos.BasePositionLots)
	return nil
}

// openInterestChange tracks the sum of absolute base positions.
func openInterestChange(before, after int64) int64 {
	return abs(after) - abs(before)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// perpOperation wraps mutate in a strict pre check, a perp info refresh and
// the post check.
func perpOperation(account *state.Account, market *state.PerpMarket, retriever health.AccountRetriever, mutate func(*state.PerpPosition) error) (out Outcome, err error) {
	snap := takeSnapshot(account, nil, market)
	defer snap.guard(&err)

	account.EnsurePerpPosition(market)

	hc, err := health.NewHealthCache(account, retriever, health.Strict)
	if err != nil {
		return out, err
	}
	if out.PreInitHealth, err = CheckHealthPre(hc, account); err != nil {
		return out, err
	}

	pos, err := account.PerpPosition(market.PerpMarketIndex)
	if err != nil {
		return out, err
	}
	if err = mutate(pos); err != nil {
		return out, err
	}
	if err = hc.RecomputePerpInfo(pos, market); err != nil {
		return out, err
	}
	if out.PostInitHealth, err = CheckHealthPost(hc, account, out.PreInitHealth); err != nil {
		return out, err
	}
	out.BeingLiquidated = account.BeingLiquidated()
	return out, nil
}

package state

import (
	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
)

// Side of an order or fill.
type Side int8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// TokenPosition is an account's indexed balance in one bank.
type TokenPosition struct {
	TokenIndex      TokenIndex    `json:"token_index"`
	IndexedPosition fpmath.I80F48 `json:"indexed_position"`
	// InUseCount counts spot open orders referencing this token.
	InUseCount uint16 `json:"in_use_count"`
}

// Native returns the balance in native units at the bank's indexes.
func (p *TokenPosition) Native(bank *Bank) (fpmath.I80F48, error) {
	return bank.Native(p.IndexedPosition)
}

// Serum3Orders links an account to its open orders account on a spot market.
type Serum3Orders struct {
	MarketIndex     Serum3MarketIndex `json:"market_index"`
	OpenOrders      uuid.UUID         `json:"open_orders"`
	BaseTokenIndex  TokenIndex        `json:"base_token_index"`
	QuoteTokenIndex TokenIndex        `json:"quote_token_index"`
}

// PerpPosition is an account's position in one perp market.
type PerpPosition struct {
	MarketIndex PerpMarketIndex `json:"market_index"`

	BasePositionLots    int64         `json:"base_position_lots"`
	QuotePositionNative fpmath.I80F48 `json:"quote_position_native"`

	// Resting order quantities.
	BidsBaseLots int64 `json:"bids_base_lots"`
	AsksBaseLots int64 `json:"asks_base_lots"`

	// Fills matched as taker but not yet processed by the event queue.
	TakerBaseLots  int64 `json:"taker_base_lots"`
	TakerQuoteLots int64 `json:"taker_quote_lots"`

	LongSettledFunding  fpmath.I80F48 `json:"long_settled_funding"`
	ShortSettledFunding fpmath.I80F48 `json:"short_settled_funding"`
}

// UnsettledFunding returns funding owed since the last settlement.
// Positive means the account pays.
func (p *PerpPosition) UnsettledFunding(market *PerpMarket) (fpmath.I80F48, error) {
	return fpmath.ComputeUnsettledFunding(
		p.BasePositionLots,
		market.LongFunding, market.ShortFunding,
		p.LongSettledFunding, p.ShortSettledFunding,
	)
}

// SettleFunding moves unsettled funding into the quote position.
func (p *PerpPosition) SettleFunding(market *PerpMarket) error {
	owed, err := p.UnsettledFunding(market)
	if err != nil {
		return err
	}
	quote, err := p.QuotePositionNative.Sub(owed)
	if err != nil {
		return err
	}
	p.QuotePositionNative = quote
	p.LongSettledFunding = market.LongFunding
	p.ShortSettledFunding = market.ShortFunding
	return nil
}

// RecordTrade applies a processed fill: baseChangeLots is signed,
// quoteChangeNative is the signed quote flow into the position.
func (p *PerpPosition) RecordTrade(market *PerpMarket, baseChangeLots int64, quoteChangeNative fpmath.I80F48) error {
	if err := p.SettleFunding(market); err != nil {
		return err
	}
	quote, err := p.QuotePositionNative.Add(quoteChangeNative)
	if err != nil {
		return err
	}
	p.QuotePositionNative = quote
	p.BasePositionLots += baseChangeLots
	return nil
}

func (p *PerpPosition) AddOrder(side Side, lots int64) {
	switch side {
	case SideBid:
		p.BidsBaseLots += lots
	case SideAsk:
		p.AsksBaseLots += lots
	}
}

func (p *PerpPosition) RemoveOrder(side Side, lots int64) {
	switch side {
	case SideBid:
		p.BidsBaseLots -= lots
	case SideAsk:
		p.AsksBaseLots -= lots
	}
}

// AddTakerTrade records a taker fill that the event queue has not yet processed.
func (p *PerpPosition) AddTakerTrade(side Side, baseLots, quoteLots int64) {
	switch side {
	case SideBid:
		p.TakerBaseLots += baseLots
		p.TakerQuoteLots -= quoteLots
	case SideAsk:
		p.TakerBaseLots -= baseLots
		p.TakerQuoteLots += quoteLots
	}
}

// ClearTakerTrade undoes AddTakerTrade once the fill is processed.
func (p *PerpPosition) ClearTakerTrade(side Side, baseLots, quoteLots int64) {
	switch side {
	case SideBid:
		p.TakerBaseLots -= baseLots
		p.TakerQuoteLots += quoteLots
	case SideAsk:
		p.TakerBaseLots += baseLots
		p.TakerQuoteLots -= quoteLots
	}
}

func (p *PerpPosition) HasOpenOrders() bool {
	return p.BidsBaseLots != 0 || p.AsksBaseLots != 0
}

func (p *PerpPosition) HasOpenTakerFills() bool {
	return p.TakerBaseLots != 0 || p.TakerQuoteLots != 0
}

// IsFlat reports whether the position has no exposure, orders or quote.
func (p *PerpPosition) IsFlat() bool {
	return p.BasePositionLots == 0 && p.QuotePositionNative.IsZero() &&
		!p.HasOpenOrders() && !p.HasOpenTakerFills()
}

// LiquidationState tracks an account's liquidation progress.
type LiquidationState int32

const (
	LiquidationStateHealthy LiquidationState = iota
	LiquidationStateBeingLiquidated
	LiquidationStateBankrupt
)

func (ls LiquidationState) String() string {
	switch ls {
	case LiquidationStateHealthy:
		return "Healthy"
	case LiquidationStateBeingLiquidated:
		return "BeingLiquidated"
	case LiquidationStateBankrupt:
		return "Bankrupt"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (ls LiquidationState) CanTransitionTo(next LiquidationState) bool {
	validTransitions := map[LiquidationState][]LiquidationState{
		LiquidationStateHealthy: {
			LiquidationStateBeingLiquidated,
		},
		LiquidationStateBeingLiquidated: {
			LiquidationStateHealthy, // liquidation end health recovered
			LiquidationStateBankrupt,
		},
		LiquidationStateBankrupt: {
			LiquidationStateHealthy, // after loss socialization
		},
	}

	allowed, ok := validTransitions[ls]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}

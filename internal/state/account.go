package state

import (
	"fmt"

	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
)

// Account holds a trader's positions within one group.
// Position slices keep insertion order; the active accessors return them in
// that order.
type Account struct {
	ID          uuid.UUID        `json:"id"`
	Group       uuid.UUID        `json:"group"`
	Owner       string           `json:"owner"`
	Liquidation LiquidationState `json:"liquidation_state"`

	Tokens []TokenPosition `json:"tokens"`
	Serum3 []Serum3Orders  `json:"serum3"`
	Perps  []PerpPosition  `json:"perps"`

	Version int64 `json:"version"` // Optimistic concurrency control
}

func (a *Account) ActiveTokenPositions() []TokenPosition { return a.Tokens }
func (a *Account) ActiveSerum3Orders() []Serum3Orders    { return a.Serum3 }
func (a *Account) ActivePerpPositions() []PerpPosition   { return a.Perps }

// BeingLiquidated reports whether a liquidation is in progress. Bankrupt
// accounts are still being liquidated.
func (a *Account) BeingLiquidated() bool {
	return a.Liquidation != LiquidationStateHealthy
}

// SetLiquidationState moves the account to next if the transition is allowed.
func (a *Account) SetLiquidationState(next LiquidationState) error {
	if a.Liquidation == next {
		return nil
	}
	if !a.Liquidation.CanTransitionTo(next) {
		return fmt.Errorf("account %s: %s -> %s: %w", a.ID, a.Liquidation, next, ErrInvalidTransition)
	}
	a.Liquidation = next
	return nil
}

// MaybeRecoverFromBeingLiquidated clears the liquidation flag once the
// liquidation end health is non-negative. It reports whether the account is
// still being liquidated.
func (a *Account) MaybeRecoverFromBeingLiquidated(liqEndHealth fpmath.I80F48) bool {
	if a.BeingLiquidated() && !liqEndHealth.IsNegative() {
		a.Liquidation = LiquidationStateHealthy
	}
	return a.BeingLiquidated()
}

// TokenPosition returns the position for tokenIndex and its slot.
func (a *Account) TokenPosition(tokenIndex TokenIndex) (*TokenPosition, int, error) {
	for i := range a.Tokens {
		if a.Tokens[i].TokenIndex == tokenIndex {
			return &a.Tokens[i], i, nil
		}
	}
	return nil, -1, fmt.Errorf("token %d: %w", tokenIndex, ErrPositionNotFound)
}

// EnsureTokenPosition returns the position for tokenIndex, appending an empty
// one if the account has none. The bool reports whether it was created.
func (a *Account) EnsureTokenPosition(tokenIndex TokenIndex) (*TokenPosition, int, bool) {
	if p, i, err := a.TokenPosition(tokenIndex); err == nil {
		return p, i, false
	}
	a.Tokens = append(a.Tokens, TokenPosition{TokenIndex: tokenIndex, IndexedPosition: fpmath.Zero})
	i := len(a.Tokens) - 1
	return &a.Tokens[i], i, true
}

// DeactivateTokenPosition removes an empty, unused token position.
func (a *Account) DeactivateTokenPosition(tokenIndex TokenIndex) error {
	p, i, err := a.TokenPosition(tokenIndex)
	if err != nil {
		return err
	}
	if p.InUseCount > 0 {
		return fmt.Errorf("token %d used by %d open orders: %w", tokenIndex, p.InUseCount, ErrPositionInUse)
	}
	a.Tokens = append(a.Tokens[:i], a.Tokens[i+1:]...)
	return nil
}

func (a *Account) PerpPosition(marketIndex PerpMarketIndex) (*PerpPosition, error) {
	for i := range a.Perps {
		if a.Perps[i].MarketIndex == marketIndex {
			return &a.Perps[i], nil
		}
	}
	return nil, fmt.Errorf("perp market %d: %w", marketIndex, ErrPositionNotFound)
}

// EnsurePerpPosition returns the position for the market, creating a flat one
// whose settled funding starts at the market's current funding indexes.
func (a *Account) EnsurePerpPosition(market *PerpMarket) *PerpPosition {
	if p, err := a.PerpPosition(market.PerpMarketIndex); err == nil {
		return p
	}
	a.Perps = append(a.Perps, PerpPosition{
		MarketIndex:         market.PerpMarketIndex,
		QuotePositionNative: fpmath.Zero,
		LongSettledFunding:  market.LongFunding,
		ShortSettledFunding: market.ShortFunding,
	})
	return &a.Perps[len(a.Perps)-1]
}

func (a *Account) Serum3Orders(marketIndex Serum3MarketIndex) (*Serum3Orders, error) {
	for i := range a.Serum3 {
		if a.Serum3[i].MarketIndex == marketIndex {
			return &a.Serum3[i], nil
		}
	}
	return nil, fmt.Errorf("serum3 market %d: %w", marketIndex, ErrSerum3OrdersNotFound)
}

// CreateSerum3Orders registers an open orders account and marks both its
// tokens as in use.
func (a *Account) CreateSerum3Orders(orders Serum3Orders) *Serum3Orders {
	if existing, err := a.Serum3Orders(orders.MarketIndex); err == nil {
		return existing
	}
	base, _, _ := a.EnsureTokenPosition(orders.BaseTokenIndex)
	base.InUseCount++
	quote, _, _ := a.EnsureTokenPosition(orders.QuoteTokenIndex)
	quote.InUseCount++
	a.Serum3 = append(a.Serum3, orders)
	return &a.Serum3[len(a.Serum3)-1]
}

// Clone returns a deep copy, for what-if evaluations.
func (a *Account) Clone() *Account {
	out := *a
	out.Tokens = append([]TokenPosition(nil), a.Tokens...)
	out.Serum3 = append([]Serum3Orders(nil), a.Serum3...)
	out.Perps = append([]PerpPosition(nil), a.Perps...)
	return &out
}

// CanonicalBytes returns deterministic serialization for hashing
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+len(a.Tokens)*40+len(a.Perps)*96+len(a.Serum3)*24)

	buf = append(buf, a.ID[:]...)
	buf = append(buf, a.Group[:]...)
	buf = append(buf, byte(a.Liquidation))

	for _, t := range a.Tokens {
		buf = appendUint16LE(buf, uint16(t.TokenIndex))
		buf = appendFixed(buf, t.IndexedPosition)
		buf = appendUint16LE(buf, t.InUseCount)
	}
	for _, s := range a.Serum3 {
		buf = appendUint16LE(buf, uint16(s.MarketIndex))
		buf = append(buf, s.OpenOrders[:]...)
	}
	for _, p := range a.Perps {
		buf = appendUint16LE(buf, uint16(p.MarketIndex))
		buf = appendInt64LE(buf, p.BasePositionLots)
		buf = appendFixed(buf, p.QuotePositionNative)
		buf = appendInt64LE(buf, p.BidsBaseLots)
		buf = appendInt64LE(buf, p.AsksBaseLots)
		buf = appendInt64LE(buf, p.TakerBaseLots)
		buf = appendInt64LE(buf, p.TakerQuoteLots)
		buf = appendFixed(buf, p.LongSettledFunding)
		buf = appendFixed(buf, p.ShortSettledFunding)
	}
	return buf
}

// appendFixed writes the length-prefixed decimal rendering, which is exact.
func appendFixed(buf []byte, v fpmath.I80F48) []byte {
	s := v.String()
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendUint16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

package state

import "github.com/google/uuid"

// OpenOrders is the external spot-book account that holds funds for an
// account's resting spot orders on one market.
type OpenOrders struct {
	Key         uuid.UUID         `json:"key"`
	MarketIndex Serum3MarketIndex `json:"market_index"`

	BaseFree   uint64 `json:"base_free"`
	BaseTotal  uint64 `json:"base_total"`
	QuoteFree  uint64 `json:"quote_free"`
	QuoteTotal uint64 `json:"quote_total"`

	ReferrerRebatesAccrued uint64 `json:"referrer_rebates_accrued"`
}

func (o *OpenOrders) RecordKey() uuid.UUID { return o.Key }

func (o *OpenOrders) BaseReserved() uint64 {
	if o.BaseTotal < o.BaseFree {
		return 0
	}
	return o.BaseTotal - o.BaseFree
}

func (o *OpenOrders) QuoteReserved() uint64 {
	if o.QuoteTotal < o.QuoteFree {
		return 0
	}
	return o.QuoteTotal - o.QuoteFree
}

// HasFunds reports whether any base, quote or rebates are held.
func (o *OpenOrders) HasFunds() bool {
	return o.BaseTotal != 0 || o.QuoteTotal != 0 || o.ReferrerRebatesAccrued != 0
}

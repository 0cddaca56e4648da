package state

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"

	"github.com/google/uuid"
)

// PerpMarket is the configuration and funding state of one perpetual market.
// Positions are in base lots; pnl settles into SettleTokenIndex.
type PerpMarket struct {
	Group            uuid.UUID       `json:"group"`
	Key              uuid.UUID       `json:"key"`
	Name             string          `json:"name"`
	PerpMarketIndex  PerpMarketIndex `json:"perp_market_index"`
	SettleTokenIndex TokenIndex      `json:"settle_token_index"`
	Oracle           uuid.UUID       `json:"oracle"`
	OracleConfig     oracle.Config   `json:"oracle_config"`
	StablePrice      fpmath.I80F48   `json:"stable_price"`

	BaseLotSize  int64 `json:"base_lot_size"`
	QuoteLotSize int64 `json:"quote_lot_size"`

	MaintBaseAssetWeight fpmath.I80F48 `json:"maint_base_asset_weight"`
	InitBaseAssetWeight  fpmath.I80F48 `json:"init_base_asset_weight"`
	MaintBaseLiabWeight  fpmath.I80F48 `json:"maint_base_liab_weight"`
	InitBaseLiabWeight   fpmath.I80F48 `json:"init_base_liab_weight"`

	// Applied to positive unsettled pnl only.
	MaintOverallAssetWeight fpmath.I80F48 `json:"maint_overall_asset_weight"`
	InitOverallAssetWeight  fpmath.I80F48 `json:"init_overall_asset_weight"`

	// Cumulative funding per base lot.
	LongFunding  fpmath.I80F48 `json:"long_funding"`
	ShortFunding fpmath.I80F48 `json:"short_funding"`

	// Init base weights are scaled down once the open interest exceeds this
	// quote value. Zero disables scaling.
	InitBaseExposureLimitQuote fpmath.I80F48 `json:"init_base_exposure_limit_quote"`
	OpenInterestLots           int64         `json:"open_interest_lots"`
}

func (m *PerpMarket) RecordKey() uuid.UUID { return m.Key }

func (m *PerpMarket) OraclePrice(acc *oracle.Account, nowSlot uint64) (fpmath.I80F48, error) {
	if acc.Key != m.Oracle {
		return fpmath.Zero, fmt.Errorf("perp market %d expects oracle %s, got %s: %w",
			m.PerpMarketIndex, m.Oracle, acc.Key, ErrOracleMismatch)
	}
	return acc.CheckedPrice(m.OracleConfig, nowSlot)
}

// BaseLotsToQuote values lots at a native price.
func (m *PerpMarket) BaseLotsToQuote(lots int64, price fpmath.I80F48) (fpmath.I80F48, error) {
	var c fpmath.Calc
	v := c.Mul3(fpmath.FromInt(lots), fpmath.FromInt(m.BaseLotSize), price)
	return v, c.Err()
}

package health

import (
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

// ScanningRetriever accepts records in any order. It classifies them once
// and serves lookups from maps; the active index is ignored.
type ScanningRetriever struct {
	idx     *recordIndex
	nowSlot uint64
}

// NewScanningRetriever rejects records of unknown kind, records of another
// group and duplicate instruments.
func NewScanningRetriever(group uuid.UUID, records []Record, nowSlot uint64) (*ScanningRetriever, error) {
	idx, err := indexRecords(group, records)
	if err != nil {
		return nil, err
	}
	return &ScanningRetriever{idx: idx, nowSlot: nowSlot}, nil
}

func (r *ScanningRetriever) BankAndOracle(_ int, tokenIndex state.TokenIndex) (*state.Bank, fpmath.I80F48, error) {
	bank, ok := r.idx.banks[tokenIndex]
	if !ok {
		return nil, fpmath.Zero, instrumentErr(KindToken, uint16(tokenIndex), uuid.Nil, ErrMissingInstrumentRecord)
	}
	acc, ok := r.idx.oracles[bank.Oracle]
	if !ok {
		return nil, fpmath.Zero, instrumentErr(KindToken, uint16(tokenIndex), bank.Oracle, ErrMissingInstrumentRecord)
	}
	price, err := checkedOraclePrice(KindToken, uint16(tokenIndex), func() (fpmath.I80F48, error) {
		return bank.OraclePrice(acc, r.nowSlot)
	})
	return bank, price, err
}

func (r *ScanningRetriever) PerpMarketAndOracle(_ int, perpIndex state.PerpMarketIndex) (*state.PerpMarket, fpmath.I80F48, error) {
	market, ok := r.idx.perps[perpIndex]
	if !ok {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), uuid.Nil, ErrMissingInstrumentRecord)
	}
	acc, ok := r.idx.oracles[market.Oracle]
	if !ok {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), market.Oracle, ErrMissingInstrumentRecord)
	}
	price, err := checkedOraclePrice(KindPerpMarket, uint16(perpIndex), func() (fpmath.I80F48, error) {
		return market.OraclePrice(acc, r.nowSlot)
	})
	return market, price, err
}

func (r *ScanningRetriever) OpenOrders(_ int, key uuid.UUID) (*state.OpenOrders, error) {
	oo, ok := r.idx.openOrders[key]
	if !ok {
		return nil, instrumentErr(KindOpenOrders, 0, key, ErrMissingInstrumentRecord)
	}
	return oo, nil
}

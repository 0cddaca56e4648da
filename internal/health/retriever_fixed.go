package health

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

// FixedOrderRetriever looks records up by position. The expected layout is
//
//	[n banks][n bank oracles][m perp markets][m perp oracles][k open orders][extra (bank, oracle) pairs]
//
// where the first three groups follow the account's active token, perp and
// open orders positions, and the extra pairs cover tokens the account has no
// position in. A record of the wrong kind or instrument at any position is an
// error.
type FixedOrderRetriever struct {
	group   uuid.UUID
	records []Record
	nBanks  int
	nPerps  int
	nSerum3 int
	nowSlot uint64
}

func NewFixedOrderRetriever(group uuid.UUID, records []Record, nBanks, nPerps, nSerum3 int, nowSlot uint64) (*FixedOrderRetriever, error) {
	need := 2*nBanks + 2*nPerps + nSerum3
	if len(records) < need || (len(records)-need)%2 != 0 {
		return nil, fmt.Errorf("fixed order layout needs %d records plus bank/oracle pairs, got %d: %w",
			need, len(records), ErrMissingInstrumentRecord)
	}
	return &FixedOrderRetriever{
		group:   group,
		records: records,
		nBanks:  nBanks,
		nPerps:  nPerps,
		nSerum3: nSerum3,
		nowSlot: nowSlot,
	}, nil
}

// NewFixedOrderRetrieverForAccount arranges an unordered bag of records into
// the fixed layout for account. Settle tokens of active perp positions and
// extraTokens that have no token position go into the extra pairs.
func NewFixedOrderRetrieverForAccount(account *state.Account, records []Record, nowSlot uint64, extraTokens ...state.TokenIndex) (*FixedOrderRetriever, error) {
	idx, err := indexRecords(account.Group, records)
	if err != nil {
		return nil, err
	}

	tokens := account.ActiveTokenPositions()
	perps := account.ActivePerpPositions()
	serum3 := account.ActiveSerum3Orders()

	banks := make([]Record, 0, len(tokens))
	bankOracles := make([]Record, 0, len(tokens))
	held := make(map[state.TokenIndex]bool, len(tokens))
	for _, tp := range tokens {
		bank, acc, err := idx.bankAndOracle(tp.TokenIndex)
		if err != nil {
			return nil, err
		}
		banks = append(banks, bank)
		bankOracles = append(bankOracles, acc)
		held[tp.TokenIndex] = true
	}

	markets := make([]Record, 0, len(perps))
	marketOracles := make([]Record, 0, len(perps))
	var extra []Record
	for _, pp := range perps {
		market, ok := idx.perps[pp.MarketIndex]
		if !ok {
			return nil, instrumentErr(KindPerpMarket, uint16(pp.MarketIndex), uuid.Nil, ErrMissingInstrumentRecord)
		}
		acc, ok := idx.oracles[market.Oracle]
		if !ok {
			return nil, instrumentErr(KindPerpMarket, uint16(pp.MarketIndex), market.Oracle, ErrMissingInstrumentRecord)
		}
		markets = append(markets, market)
		marketOracles = append(marketOracles, acc)

		if !held[market.SettleTokenIndex] {
			bank, bankOracle, err := idx.bankAndOracle(market.SettleTokenIndex)
			if err != nil {
				return nil, err
			}
			extra = append(extra, bank, bankOracle)
			held[market.SettleTokenIndex] = true
		}
	}

	for _, ti := range extraTokens {
		if held[ti] {
			continue
		}
		bank, bankOracle, err := idx.bankAndOracle(ti)
		if err != nil {
			return nil, err
		}
		extra = append(extra, bank, bankOracle)
		held[ti] = true
	}

	openOrders := make([]Record, 0, len(serum3))
	for _, s := range serum3 {
		oo, ok := idx.openOrders[s.OpenOrders]
		if !ok {
			return nil, instrumentErr(KindOpenOrders, uint16(s.MarketIndex), s.OpenOrders, ErrMissingInstrumentRecord)
		}
		openOrders = append(openOrders, oo)
	}

	ordered := make([]Record, 0, 2*len(banks)+2*len(markets)+len(openOrders)+len(extra))
	ordered = append(ordered, banks...)
	ordered = append(ordered, bankOracles...)
	ordered = append(ordered, markets...)
	ordered = append(ordered, marketOracles...)
	ordered = append(ordered, openOrders...)
	ordered = append(ordered, extra...)

	return NewFixedOrderRetriever(account.Group, ordered, len(banks), len(markets), len(openOrders), nowSlot)
}

// Records returns the arranged layout.
func (r *FixedOrderRetriever) Records() []Record {
	return r.records
}

func (idx *recordIndex) bankAndOracle(tokenIndex state.TokenIndex) (*state.Bank, *oracle.Account, error) {
	bank, ok := idx.banks[tokenIndex]
	if !ok {
		return nil, nil, instrumentErr(KindToken, uint16(tokenIndex), uuid.Nil, ErrMissingInstrumentRecord)
	}
	acc, ok := idx.oracles[bank.Oracle]
	if !ok {
		return nil, nil, instrumentErr(KindToken, uint16(tokenIndex), bank.Oracle, ErrMissingInstrumentRecord)
	}
	return bank, acc, nil
}

func (r *FixedOrderRetriever) extraBegin() int {
	return 2*r.nBanks + 2*r.nPerps + r.nSerum3
}

func (r *FixedOrderRetriever) bankAt(pos int, tokenIndex state.TokenIndex) (*state.Bank, error) {
	bank, ok := r.records[pos].(*state.Bank)
	if !ok {
		return nil, instrumentErr(KindToken, uint16(tokenIndex), uuid.Nil,
			fmt.Errorf("position %d holds %T: %w", pos, r.records[pos], ErrMissingInstrumentRecord))
	}
	if bank.Group != r.group {
		return nil, instrumentErr(KindToken, uint16(tokenIndex), bank.Key, ErrGroupMismatch)
	}
	return bank, nil
}

func (r *FixedOrderRetriever) oracleAt(pos int, kind InstrumentKind, index uint16) (*oracle.Account, error) {
	acc, ok := r.records[pos].(*oracle.Account)
	if !ok {
		return nil, instrumentErr(kind, index, uuid.Nil,
			fmt.Errorf("position %d holds %T: %w", pos, r.records[pos], ErrMissingInstrumentRecord))
	}
	return acc, nil
}

func (r *FixedOrderRetriever) BankAndOracle(activeIndex int, tokenIndex state.TokenIndex) (*state.Bank, fpmath.I80F48, error) {
	bankPos, oraclePos := -1, -1
	if activeIndex >= 0 && activeIndex < r.nBanks {
		bankPos, oraclePos = activeIndex, r.nBanks+activeIndex
	} else {
		for pos := r.extraBegin(); pos+1 < len(r.records); pos += 2 {
			if b, ok := r.records[pos].(*state.Bank); ok && b.TokenIndex == tokenIndex {
				bankPos, oraclePos = pos, pos+1
				break
			}
		}
		if bankPos < 0 {
			return nil, fpmath.Zero, instrumentErr(KindToken, uint16(tokenIndex), uuid.Nil, ErrMissingInstrumentRecord)
		}
	}

	bank, err := r.bankAt(bankPos, tokenIndex)
	if err != nil {
		return nil, fpmath.Zero, err
	}
	if bank.TokenIndex != tokenIndex {
		return nil, fpmath.Zero, instrumentErr(KindToken, uint16(tokenIndex), bank.Key,
			fmt.Errorf("position %d holds token %d: %w", bankPos, bank.TokenIndex, ErrMissingInstrumentRecord))
	}
	acc, err := r.oracleAt(oraclePos, KindToken, uint16(tokenIndex))
	if err != nil {
		return nil, fpmath.Zero, err
	}
	price, err := checkedOraclePrice(KindToken, uint16(tokenIndex), func() (fpmath.I80F48, error) {
		return bank.OraclePrice(acc, r.nowSlot)
	})
	return bank, price, err
}

func (r *FixedOrderRetriever) PerpMarketAndOracle(activeIndex int, perpIndex state.PerpMarketIndex) (*state.PerpMarket, fpmath.I80F48, error) {
	if activeIndex < 0 || activeIndex >= r.nPerps {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), uuid.Nil, ErrMissingInstrumentRecord)
	}
	pos := 2*r.nBanks + activeIndex
	market, ok := r.records[pos].(*state.PerpMarket)
	if !ok {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), uuid.Nil,
			fmt.Errorf("position %d holds %T: %w", pos, r.records[pos], ErrMissingInstrumentRecord))
	}
	if market.Group != r.group {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), market.Key, ErrGroupMismatch)
	}
	if market.PerpMarketIndex != perpIndex {
		return nil, fpmath.Zero, instrumentErr(KindPerpMarket, uint16(perpIndex), market.Key,
			fmt.Errorf("position %d holds perp market %d: %w", pos, market.PerpMarketIndex, ErrMissingInstrumentRecord))
	}
	acc, err := r.oracleAt(pos+r.nPerps, KindPerpMarket, uint16(perpIndex))
	if err != nil {
		return nil, fpmath.Zero, err
	}
	price, err := checkedOraclePrice(KindPerpMarket, uint16(perpIndex), func() (fpmath.I80F48, error) {
		return market.OraclePrice(acc, r.nowSlot)
	})
	return market, price, err
}

func (r *FixedOrderRetriever) OpenOrders(activeIndex int, key uuid.UUID) (*state.OpenOrders, error) {
	if activeIndex < 0 || activeIndex >= r.nSerum3 {
		return nil, instrumentErr(KindOpenOrders, 0, key, ErrMissingInstrumentRecord)
	}
	pos := 2*r.nBanks + 2*r.nPerps + activeIndex
	oo, ok := r.records[pos].(*state.OpenOrders)
	if !ok || oo.Key != key {
		return nil, instrumentErr(KindOpenOrders, 0, key,
			fmt.Errorf("position %d holds %T: %w", pos, r.records[pos], ErrMissingInstrumentRecord))
	}
	return oo, nil
}

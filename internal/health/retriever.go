package health

import (
	"errors"
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

// NotActive is passed as the active position index when the builder needs a
// bank for a token the account holds no position in, such as a perp settle
// token.
const NotActive = -1

// Record is any materialized account that can back a health computation:
// *state.Bank, *state.PerpMarket, *oracle.Account or *state.OpenOrders.
type Record interface {
	RecordKey() uuid.UUID
}

// AccountRetriever supplies the records a HealthCache is built from.
//
// The active index is the slot of the position in the account's active
// position list, or NotActive. Implementations may use it for positional
// lookup.
//
// On oracle failures BankAndOracle and PerpMarketAndOracle still return the
// record together with the error, so lenient builds can keep its slot.
type AccountRetriever interface {
	BankAndOracle(activeIndex int, tokenIndex state.TokenIndex) (*state.Bank, fpmath.I80F48, error)
	PerpMarketAndOracle(activeIndex int, perpIndex state.PerpMarketIndex) (*state.PerpMarket, fpmath.I80F48, error)
	OpenOrders(activeIndex int, key uuid.UUID) (*state.OpenOrders, error)
}

// recordIndex classifies an unordered bag of records by kind.
type recordIndex struct {
	banks      map[state.TokenIndex]*state.Bank
	perps      map[state.PerpMarketIndex]*state.PerpMarket
	oracles    map[uuid.UUID]*oracle.Account
	openOrders map[uuid.UUID]*state.OpenOrders
}

func indexRecords(group uuid.UUID, records []Record) (*recordIndex, error) {
	idx := &recordIndex{
		banks:      make(map[state.TokenIndex]*state.Bank),
		perps:      make(map[state.PerpMarketIndex]*state.PerpMarket),
		oracles:    make(map[uuid.UUID]*oracle.Account),
		openOrders: make(map[uuid.UUID]*state.OpenOrders),
	}

	for i, rec := range records {
		switch r := rec.(type) {
		case *state.Bank:
			if r.Group != group {
				return nil, instrumentErr(KindToken, uint16(r.TokenIndex), r.Key, ErrGroupMismatch)
			}
			if prev, ok := idx.banks[r.TokenIndex]; ok && prev != r {
				return nil, instrumentErr(KindToken, uint16(r.TokenIndex), r.Key, ErrDuplicateInstrumentRecord)
			}
			idx.banks[r.TokenIndex] = r
		case *state.PerpMarket:
			if r.Group != group {
				return nil, instrumentErr(KindPerpMarket, uint16(r.PerpMarketIndex), r.Key, ErrGroupMismatch)
			}
			if prev, ok := idx.perps[r.PerpMarketIndex]; ok && prev != r {
				return nil, instrumentErr(KindPerpMarket, uint16(r.PerpMarketIndex), r.Key, ErrDuplicateInstrumentRecord)
			}
			idx.perps[r.PerpMarketIndex] = r
		case *oracle.Account:
			if prev, ok := idx.oracles[r.Key]; ok && prev != r {
				return nil, fmt.Errorf("oracle %s: %w", r.Key, ErrDuplicateInstrumentRecord)
			}
			idx.oracles[r.Key] = r
		case *state.OpenOrders:
			if prev, ok := idx.openOrders[r.Key]; ok && prev != r {
				return nil, instrumentErr(KindOpenOrders, uint16(r.MarketIndex), r.Key, ErrDuplicateInstrumentRecord)
			}
			idx.openOrders[r.Key] = r
		default:
			return nil, fmt.Errorf("record %d (%T): %w", i, rec, ErrUnknownRecordKind)
		}
	}
	return idx, nil
}

// checkedOraclePrice reads a price and classifies key mismatches as a
// missing record. Oracle quality errors are passed through unchanged.
func checkedOraclePrice(kind InstrumentKind, index uint16, read func() (fpmath.I80F48, error)) (fpmath.I80F48, error) {
	price, err := read()
	if err == nil {
		return price, nil
	}
	if errors.Is(err, state.ErrOracleMismatch) {
		return fpmath.Zero, instrumentErr(kind, index, uuid.Nil, fmt.Errorf("%w: %w", ErrMissingInstrumentRecord, err))
	}
	return fpmath.Zero, instrumentErr(kind, index, uuid.Nil, err)
}

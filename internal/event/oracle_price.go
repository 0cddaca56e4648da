package event

import (
	"fmt"
	"time"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"

	"github.com/google/uuid"
)

// OraclePriceUpdate is one reading of a price feed.
type OraclePriceUpdate struct {
	OracleKey  uuid.UUID     `json:"oracle_key"`
	Price      fpmath.I80F48 `json:"price"`
	Confidence fpmath.I80F48 `json:"confidence"`
	Slot       uint64        `json:"slot"`
	Sequence   int64         `json:"sequence"` // monotonic per oracle
	Timestamp  time.Time     `json:"timestamp"`
}

func (u *OraclePriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", u.OracleKey, u.Sequence)
}

func (u *OraclePriceUpdate) EventType() EventType {
	return EventTypeOraclePriceUpdate
}

func (u *OraclePriceUpdate) SourceSequence() int64 {
	return u.Sequence
}

// Account converts the update into the oracle record it replaces.
func (u *OraclePriceUpdate) Account() oracle.Account {
	return oracle.Account{
		Key:            u.OracleKey,
		Price:          u.Price,
		Confidence:     u.Confidence,
		LastUpdateSlot: u.Slot,
		Sequence:       u.Sequence,
	}
}

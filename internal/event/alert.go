package event

import (
	"fmt"
	"time"

	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
)

// HealthAlert is emitted when a sweep finds an account liquidatable or
// bankrupt, or sees a previously flagged account recover.
type HealthAlert struct {
	Kind      EventType `json:"kind"`
	AccountID uuid.UUID `json:"account_id"`
	GroupID   uuid.UUID `json:"group_id"`

	MaintHealth          fpmath.I80F48 `json:"maint_health"`
	InitHealth           fpmath.I80F48 `json:"init_health"`
	LiquidationEndHealth fpmath.I80F48 `json:"liquidation_end_health"`
	Phase                int           `json:"liquidation_phase"`

	// Account version the alert was computed from
	AccountVersion int64     `json:"account_version"`
	Slot           uint64    `json:"slot"`
	Timestamp      time.Time `json:"timestamp"`
}

// IdempotencyKey is stable per account state, so repeated sweeps over an
// unchanged account produce duplicates the stream can drop.
func (a *HealthAlert) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%d", a.AccountID, a.Kind.Subject(), a.AccountVersion)
}

func (a *HealthAlert) EventType() EventType {
	return a.Kind
}

func (a *HealthAlert) SourceSequence() int64 {
	return a.AccountVersion
}

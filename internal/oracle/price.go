package oracle

import (
	"errors"
	"fmt"

	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
)

var (
	ErrStaleOracle         = errors.New("stale oracle")
	ErrBadOracleConfidence = errors.New("oracle confidence too wide")
)

// IsOracleError reports whether err is a price-quality failure that lenient
// health computations may tolerate.
func IsOracleError(err error) bool {
	return errors.Is(err, ErrStaleOracle) || errors.Is(err, ErrBadOracleConfidence)
}

// Config is the per-instrument acceptance policy for oracle readings.
type Config struct {
	// ConfFilter is the max confidence interval as a fraction of the price.
	ConfFilter fpmath.I80F48 `json:"conf_filter"`
	// MaxStalenessSlots < 0 disables the staleness check.
	MaxStalenessSlots int64 `json:"max_staleness_slots"`
}

// Account is the latest reading of one price feed.
type Account struct {
	Key            uuid.UUID     `json:"key"`
	Price          fpmath.I80F48 `json:"price"`
	Confidence     fpmath.I80F48 `json:"confidence"`
	LastUpdateSlot uint64        `json:"last_update_slot"`
	Sequence       int64         `json:"sequence"`
}

func (a *Account) RecordKey() uuid.UUID { return a.Key }

// CheckedPrice returns the price if the reading passes the confidence and
// staleness checks of cfg at nowSlot.
func (a *Account) CheckedPrice(cfg Config, nowSlot uint64) (fpmath.I80F48, error) {
	maxConf, err := cfg.ConfFilter.Mul(a.Price)
	if err != nil {
		return fpmath.Zero, fmt.Errorf("oracle %s confidence bound: %w", a.Key, err)
	}
	if a.Confidence.GreaterThan(maxConf) {
		return fpmath.Zero, fmt.Errorf("oracle %s: conf %s > %s: %w",
			a.Key, a.Confidence, maxConf, ErrBadOracleConfidence)
	}

	if cfg.MaxStalenessSlots >= 0 && nowSlot > a.LastUpdateSlot && nowSlot-a.LastUpdateSlot > uint64(cfg.MaxStalenessSlots) {
		return fpmath.Zero, fmt.Errorf("oracle %s: last update slot %d, now %d, max staleness %d: %w",
			a.Key, a.LastUpdateSlot, nowSlot, cfg.MaxStalenessSlots, ErrStaleOracle)
	}

	return a.Price, nil
}

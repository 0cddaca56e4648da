package health

import (
	fpmath "MarginHealth/internal/math"
)

// HealthType selects the weights and prices used for a health figure.
type HealthType int

const (
	// Init gates opening new risk and withdrawals.
	Init HealthType = iota
	// Maint below zero makes an account liquidatable.
	Maint
	// LiquidationEnd decides when an in-progress liquidation may stop.
	// It uses the unscaled init weights and oracle prices.
	LiquidationEnd
)

func (ht HealthType) String() string {
	switch ht {
	case Init:
		return "init"
	case Maint:
		return "maint"
	case LiquidationEnd:
		return "liquidation_end"
	default:
		return "unknown"
	}
}

// ParseHealthType is the inverse of HealthType.String.
func ParseHealthType(s string) (HealthType, bool) {
	switch s {
	case "init":
		return Init, true
	case "maint":
		return Maint, true
	case "liquidation_end":
		return LiquidationEnd, true
	default:
		return 0, false
	}
}

// Leniency controls how the builder treats unreadable oracle prices.
type Leniency int

const (
	// Strict aborts the build on any oracle failure.
	Strict Leniency = iota
	// Lenient keeps the instrument with a zero contribution. Only for
	// call sites that restrict account actions; never for liquidation.
	Lenient
)

func (l Leniency) String() string {
	if l == Lenient {
		return "lenient"
	}
	return "strict"
}

// Prices holds the oracle and stable price of an instrument.
// Init health uses the less favorable of the two; the other types use the
// oracle price.
type Prices struct {
	Oracle fpmath.I80F48 `json:"oracle"`
	Stable fpmath.I80F48 `json:"stable"`
}

func (p Prices) Liab(ht HealthType) fpmath.I80F48 {
	if ht == Init {
		return fpmath.Max(p.Oracle, p.Stable)
	}
	return p.Oracle
}

func (p Prices) Asset(ht HealthType) fpmath.I80F48 {
	if ht == Init {
		return fpmath.Min(p.Oracle, p.Stable)
	}
	return p.Oracle
}

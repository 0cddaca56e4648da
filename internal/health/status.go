package health

import (
	fpmath "MarginHealth/internal/math"
)

// MarginStatus represents an account's health band
type MarginStatus int

const (
	MarginStatusHealthy MarginStatus = iota
	// MarginStatusAtRisk: Init health negative, no new risk allowed.
	MarginStatusAtRisk
	MarginStatusLiquidatable
	// MarginStatusBankrupt: liquidatable with only phase 3 work and no
	// spot assets left.
	MarginStatusBankrupt
	// MarginStatusUnverified: classified from a lenient cache whose figures
	// cannot back a verdict.
	MarginStatusUnverified
)

func (ms MarginStatus) String() string {
	switch ms {
	case MarginStatusHealthy:
		return "Healthy"
	case MarginStatusAtRisk:
		return "AtRisk"
	case MarginStatusLiquidatable:
		return "Liquidatable"
	case MarginStatusBankrupt:
		return "Bankrupt"
	case MarginStatusUnverified:
		return "Unverified"
	default:
		return "Unknown"
	}
}

func (ms MarginStatus) MarshalText() ([]byte, error) {
	return []byte(ms.String()), nil
}

// Status summarizes a HealthCache.
type Status struct {
	Margin          MarginStatus `json:"margin_status"`
	Phase           int          `json:"liquidation_phase"`
	BeingLiquidated bool         `json:"being_liquidated"`

	InitHealth           fpmath.I80F48 `json:"init_health"`
	MaintHealth          fpmath.I80F48 `json:"maint_health"`
	LiquidationEndHealth fpmath.I80F48 `json:"liquidation_end_health"`
	InitRatio            fpmath.I80F48 `json:"init_health_ratio"`
	MaintRatio           fpmath.I80F48 `json:"maint_health_ratio"`

	Assets   fpmath.I80F48 `json:"assets"`
	Liabs    fpmath.I80F48 `json:"liabs"`
	Leverage fpmath.I80F48 `json:"leverage"`
}

// IsBankrupt reports a liquidatable account whose only remaining
// liquidation work is phase 3 and that holds no liquidatable spot assets.
func (hc *HealthCache) IsBankrupt() (bool, error) {
	liquidatable, err := hc.IsLiquidatable()
	if err != nil || !liquidatable {
		return false, err
	}
	in3, err := hc.InPhase3Liquidation()
	if err != nil || !in3 {
		return false, err
	}
	assets, err := hc.HasLiqSpotAssets()
	if err != nil {
		return false, err
	}
	return !assets, nil
}

// Classify computes every health figure of hc and its margin band. Phase
// is only set for liquidatable accounts.
func Classify(hc *HealthCache) (Status, error) {
	var st Status
	var err error
	st.BeingLiquidated = hc.BeingLiquidated

	if st.InitHealth, err = hc.Health(Init); err != nil {
		return Status{}, err
	}
	if st.MaintHealth, err = hc.Health(Maint); err != nil {
		return Status{}, err
	}
	if st.LiquidationEndHealth, err = hc.Health(LiquidationEnd); err != nil {
		return Status{}, err
	}
	if st.InitRatio, err = hc.HealthRatio(Init); err != nil {
		return Status{}, err
	}
	if st.MaintRatio, err = hc.HealthRatio(Maint); err != nil {
		return Status{}, err
	}
	if st.Assets, st.Liabs, err = hc.AssetsAndLiabs(); err != nil {
		return Status{}, err
	}
	if st.Leverage, err = hc.Leverage(); err != nil {
		return Status{}, err
	}

	liquidatable, err := hc.IsLiquidatable()
	if err != nil {
		return Status{}, err
	}
	if liquidatable {
		if st.Phase, err = hc.LiquidationPhase(); err != nil {
			return Status{}, err
		}
	}
	bankrupt, err := hc.IsBankrupt()
	if err != nil {
		return Status{}, err
	}

	switch {
	case bankrupt:
		st.Margin = MarginStatusBankrupt
	case liquidatable:
		st.Margin = MarginStatusLiquidatable
	case st.InitHealth.IsNegative():
		st.Margin = MarginStatusAtRisk
	default:
		st.Margin = MarginStatusHealthy
	}
	return st, nil
}

// LowerBound adjusts a status classified from a lenient cache that left out
// instruments. Its figures are at best lower bounds, so only a Healthy
// verdict with no hidden liability is kept. Anything else becomes
// MarginStatusUnverified without a liquidation phase.
func (s Status) LowerBound(hidesLiabilities bool) Status {
	if s.Margin == MarginStatusHealthy && !hidesLiabilities {
		return s
	}
	s.Margin = MarginStatusUnverified
	s.Phase = 0
	return s
}

package health

import (
	"errors"
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"

	"github.com/google/uuid"
)

var (
	ErrMissingInstrumentRecord   = errors.New("missing instrument record")
	ErrDuplicateInstrumentRecord = errors.New("duplicate instrument record")
	ErrGroupMismatch             = errors.New("record belongs to another group")
	ErrUnknownRecordKind         = errors.New("unknown record kind")
	ErrTokenInfoNotFound         = errors.New("token not in health cache")
	ErrPerpInfoNotFound          = errors.New("perp market not in health cache")
	ErrSearchExhausted           = errors.New("search did not converge")

	// Re-exported so callers match every engine failure against this package.
	ErrStaleOracle         = oracle.ErrStaleOracle
	ErrBadOracleConfidence = oracle.ErrBadOracleConfidence
	ErrArithmeticOverflow  = fpmath.ErrArithmeticOverflow
)

// InstrumentKind names the record family an InstrumentError refers to.
type InstrumentKind int

const (
	KindToken InstrumentKind = iota
	KindPerpMarket
	KindOpenOrders
)

func (k InstrumentKind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindPerpMarket:
		return "perp_market"
	case KindOpenOrders:
		return "open_orders"
	default:
		return "unknown"
	}
}

// InstrumentError attaches the failing instrument to an engine error.
type InstrumentError struct {
	Kind  InstrumentKind
	Index uint16
	Key   uuid.UUID
	Err   error
}

func (e *InstrumentError) Error() string {
	if e.Key != uuid.Nil {
		return fmt.Sprintf("%s %d (%s): %v", e.Kind, e.Index, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %d: %v", e.Kind, e.Index, e.Err)
}

func (e *InstrumentError) Unwrap() error { return e.Err }

func instrumentErr(kind InstrumentKind, index uint16, key uuid.UUID, err error) error {
	return &InstrumentError{Kind: kind, Index: index, Key: key, Err: err}
}

// ErrorKind returns a short label for metrics and reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrStaleOracle):
		return "stale_oracle"
	case errors.Is(err, ErrBadOracleConfidence):
		return "bad_oracle_confidence"
	case errors.Is(err, ErrMissingInstrumentRecord):
		return "missing_record"
	case errors.Is(err, ErrDuplicateInstrumentRecord):
		return "duplicate_record"
	case errors.Is(err, ErrGroupMismatch):
		return "group_mismatch"
	case errors.Is(err, ErrUnknownRecordKind):
		return "unknown_record"
	case errors.Is(err, ErrArithmeticOverflow), errors.Is(err, fpmath.ErrDivisionByZero):
		return "arithmetic"
	default:
		return "other"
	}
}

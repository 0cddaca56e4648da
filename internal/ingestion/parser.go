package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarginHealth/internal/event"
	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrMalformedPayload = errors.New("malformed payload")

// --- JSON wire formats ---
// Prices travel as decimal strings so no precision is lost in float
// decoding. Field names use snake_case to match upstream producers.

type oraclePriceJSON struct {
	OracleKey   string          `json:"oracle_key"`
	Price       decimal.Decimal `json:"price"`
	Confidence  decimal.Decimal `json:"confidence"`
	Slot        uint64          `json:"slot"`
	Sequence    int64           `json:"sequence"`
	TimestampUs int64           `json:"timestamp_us"`
}

// ParseOraclePrice decodes an oracle price message.
// The subject's last token, when it is a UUID, must agree with the payload key.
func ParseOraclePrice(raw RawEvent) (*event.OraclePriceUpdate, error) {
	var j oraclePriceJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return nil, fmt.Errorf("%w: OraclePriceUpdate: %v", ErrMalformedPayload, err)
	}

	key, err := uuid.Parse(j.OracleKey)
	if err != nil {
		return nil, fmt.Errorf("%w: oracle_key: %v", ErrMalformedPayload, err)
	}
	if subjectKey, ok := subjectUUID(raw.Subject); ok && subjectKey != key {
		return nil, fmt.Errorf("%w: subject %s carries oracle %s", ErrMalformedPayload, raw.Subject, key)
	}

	if !j.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price %s must be positive", ErrMalformedPayload, j.Price)
	}
	if j.Confidence.IsNegative() {
		return nil, fmt.Errorf("%w: confidence %s is negative", ErrMalformedPayload, j.Confidence)
	}
	if j.Sequence <= 0 {
		return nil, fmt.Errorf("%w: sequence %d", ErrMalformedPayload, j.Sequence)
	}

	price, err := fpmath.FromDecimal(j.Price, fpmath.RoundHalfEven)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrMalformedPayload, err)
	}
	// round confidence up so a borderline reading is never accepted by rounding
	conf, err := fpmath.FromDecimal(j.Confidence, fpmath.RoundUp)
	if err != nil {
		return nil, fmt.Errorf("%w: confidence: %v", ErrMalformedPayload, err)
	}

	return &event.OraclePriceUpdate{
		OracleKey:  key,
		Price:      price,
		Confidence: conf,
		Slot:       j.Slot,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func subjectUUID(subject string) (uuid.UUID, bool) {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return uuid.Nil, false
	}
	key, err := uuid.Parse(subject[i+1:])
	return key, err == nil
}

package persistence

import (
	"database/sql"
	"fmt"
	"strconv"

	fpmath "MarginHealth/internal/math"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// fixedColumn scans a NUMERIC column into an I80F48.
// Values are written from the exact decimal rendering, so reading them back
// with round-down is lossless.
type fixedColumn struct{ dst *fpmath.I80F48 }

func fixed(dst *fpmath.I80F48) sql.Scanner { return fixedColumn{dst} }

func (c fixedColumn) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	v, err := fpmath.FromDecimal(d, fpmath.RoundDown)
	if err != nil {
		return fmt.Errorf("numeric %s: %w", d, err)
	}
	*c.dst = v
	return nil
}

// uint64Column scans a NUMERIC(20, 0) column.
type uint64Column struct{ dst *uint64 }

func unsigned(dst *uint64) sql.Scanner { return uint64Column{dst} }

func (c uint64Column) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	b := d.BigInt()
	if b.Sign() < 0 || !b.IsUint64() {
		return fmt.Errorf("numeric %s out of uint64 range", d)
	}
	*c.dst = b.Uint64()
	return nil
}

func numeric(v fpmath.I80F48) string { return v.String() }

func numericUint(v uint64) string { return strconv.FormatUint(v, 10) }

func uuidArray(ids []uuid.UUID) any {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

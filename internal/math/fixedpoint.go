package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FracBits is the number of fractional bits of an I80F48.
const FracBits = 48

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
)

// I80F48 is a signed fixed-point number with 80 integer and 48 fractional bits.
// The raw value is a signed 128-bit integer held in two's complement inside a
// 256-bit word, which leaves room for exact intermediate products.
//
// Every operation that can leave the 128-bit range returns ErrArithmeticOverflow.
// Multiplication and division round toward negative infinity.
type I80F48 struct {
	raw uint256.Int
}

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // toward negative infinity
	RoundUp                           // toward positive infinity
	RoundHalfEven                     // banker's rounding
)

var (
	Zero = I80F48{}
	One  = FromInt(1)
	// Delta is the smallest positive value, 2^-48.
	Delta = I80F48{raw: *uint256.NewInt(1)}

	MaxI80F48 = func() I80F48 {
		var x I80F48
		x.raw.Lsh(uint256.NewInt(1), 127)
		x.raw.Sub(&x.raw, uint256.NewInt(1))
		return x
	}()
	MinI80F48 = func() I80F48 {
		var x I80F48
		x.raw.Lsh(uint256.NewInt(1), 127)
		x.raw.Neg(&x.raw)
		return x
	}()

	fracMask = func() uint256.Int {
		var m uint256.Int
		m.Lsh(uint256.NewInt(1), FracBits)
		m.Sub(&m, uint256.NewInt(1))
		return m
	}()

	twoPow48  = new(big.Int).Lsh(big.NewInt(1), FracBits)
	fivePow48 = new(big.Int).Exp(big.NewInt(5), big.NewInt(FracBits), nil)
	scaleDec  = decimal.NewFromBigInt(twoPow48, 0)
	limit127  = new(uint256.Int).Lsh(uint256.NewInt(1), 127)
)

// FromInt converts an integer exactly.
func FromInt(v int64) I80F48 {
	var x I80F48
	if v < 0 {
		// -(v) overflows for MinInt64, uint64 conversion does not
		x.raw.SetUint64(uint64(-(v + 1)) + 1)
		x.raw.Lsh(&x.raw, FracBits)
		x.raw.Neg(&x.raw)
		return x
	}
	x.raw.SetUint64(uint64(v))
	x.raw.Lsh(&x.raw, FracBits)
	return x
}

// FromUint64 converts an unsigned integer exactly.
func FromUint64(v uint64) I80F48 {
	var x I80F48
	x.raw.SetUint64(v)
	x.raw.Lsh(&x.raw, FracBits)
	return x
}

// FromDecimal converts a decimal, rounding the bits below 2^-48 with mode.
func FromDecimal(d decimal.Decimal, mode RoundingMode) (I80F48, error) {
	scaled := d.Mul(scaleDec)
	switch mode {
	case RoundUp:
		scaled = scaled.Ceil()
	case RoundHalfEven:
		scaled = scaled.RoundBank(0)
	default:
		scaled = scaled.Floor()
	}
	return fromBig(scaled.BigInt())
}

// ParseI80F48 parses a decimal string such as "1.25" or "-3", rounding down.
func ParseI80F48(s string) (I80F48, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	return FromDecimal(d, RoundDown)
}

// MustParse is ParseI80F48 for constants and tests.
func MustParse(s string) I80F48 {
	x, err := ParseI80F48(s)
	if err != nil {
		panic(err)
	}
	return x
}

func fromBig(b *big.Int) (I80F48, error) {
	abs := new(big.Int).Abs(b)
	if abs.BitLen() > 128 {
		return Zero, ErrArithmeticOverflow
	}
	var x I80F48
	x.raw.SetFromBig(abs)
	if b.Sign() < 0 {
		x.raw.Neg(&x.raw)
	}
	if !fits(&x.raw) {
		return Zero, ErrArithmeticOverflow
	}
	return x, nil
}

// fits reports whether a two's complement word lies in [-2^127, 2^127).
func fits(v *uint256.Int) bool {
	if v.Sign() >= 0 {
		return v.BitLen() <= 127
	}
	var mag uint256.Int
	mag.Neg(v)
	return mag.BitLen() <= 127 || mag.Eq(limit127)
}

func magnitude(v *uint256.Int) (uint256.Int, bool) {
	var mag uint256.Int
	if v.Sign() < 0 {
		mag.Neg(v)
		return mag, true
	}
	mag.Set(v)
	return mag, false
}

func signed(mag *uint256.Int, negative bool) (I80F48, error) {
	var x I80F48
	x.raw.Set(mag)
	if negative {
		x.raw.Neg(&x.raw)
	}
	if !fits(&x.raw) {
		return Zero, ErrArithmeticOverflow
	}
	return x, nil
}

func (x I80F48) Add(y I80F48) (I80F48, error) {
	var r I80F48
	r.raw.Add(&x.raw, &y.raw)
	// operands are within 128 bits, so the 256-bit sum is exact
	if !fits(&r.raw) {
		return Zero, ErrArithmeticOverflow
	}
	return r, nil
}

func (x I80F48) Sub(y I80F48) (I80F48, error) {
	var r I80F48
	r.raw.Sub(&x.raw, &y.raw)
	if !fits(&r.raw) {
		return Zero, ErrArithmeticOverflow
	}
	return r, nil
}

func (x I80F48) Neg() (I80F48, error) {
	var r I80F48
	r.raw.Neg(&x.raw)
	if !fits(&r.raw) {
		return Zero, ErrArithmeticOverflow
	}
	return r, nil
}

// Mul returns x*y rounded toward negative infinity.
func (x I80F48) Mul(y I80F48) (I80F48, error) {
	a, an := magnitude(&x.raw)
	b, bn := magnitude(&y.raw)
	negative := an != bn

	var p, q, rem uint256.Int
	p.Mul(&a, &b) // both magnitudes <= 2^127, product fits in 255 bits
	q.Rsh(&p, FracBits)
	rem.And(&p, &fracMask)
	if negative && !rem.IsZero() {
		q.AddUint64(&q, 1)
	}
	return signed(&q, negative && !q.IsZero())
}

// Div returns x/y rounded toward negative infinity.
func (x I80F48) Div(y I80F48) (I80F48, error) {
	if y.raw.IsZero() {
		return Zero, ErrDivisionByZero
	}
	a, an := magnitude(&x.raw)
	b, bn := magnitude(&y.raw)
	negative := an != bn

	var n, q, rem uint256.Int
	n.Lsh(&a, FracBits)
	q.Div(&n, &b)
	rem.Mod(&n, &b)
	if negative && !rem.IsZero() {
		q.AddUint64(&q, 1)
	}
	return signed(&q, negative && !q.IsZero())
}

// Abs returns |x|. Abs(MinI80F48) overflows.
func (x I80F48) Abs() (I80F48, error) {
	if x.IsNegative() {
		return x.Neg()
	}
	return x, nil
}

// Floor drops the fractional bits, rounding toward negative infinity.
func (x I80F48) Floor() I80F48 {
	var r I80F48
	var keep uint256.Int
	keep.Not(&fracMask)
	r.raw.And(&x.raw, &keep)
	return r
}

func (x I80F48) Cmp(y I80F48) int {
	switch {
	case x.raw.Slt(&y.raw):
		return -1
	case x.raw.Sgt(&y.raw):
		return 1
	default:
		return 0
	}
}

func (x I80F48) Sign() int                 { return x.raw.Sign() }
func (x I80F48) IsZero() bool              { return x.raw.IsZero() }
func (x I80F48) IsNegative() bool          { return x.raw.Sign() < 0 }
func (x I80F48) IsPositive() bool          { return x.raw.Sign() > 0 }
func (x I80F48) Equal(y I80F48) bool       { return x.raw.Eq(&y.raw) }
func (x I80F48) LessThan(y I80F48) bool    { return x.Cmp(y) < 0 }
func (x I80F48) GreaterThan(y I80F48) bool { return x.Cmp(y) > 0 }

func Min(a, b I80F48) I80F48 {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func Max(a, b I80F48) I80F48 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Raw returns the raw signed value (x * 2^48).
func (x I80F48) Raw() *big.Int {
	mag, negative := magnitude(&x.raw)
	b := mag.ToBig()
	if negative {
		b.Neg(b)
	}
	return b
}

// Decimal renders x exactly: raw/2^48 == raw*5^48/10^48.
func (x I80F48) Decimal() decimal.Decimal {
	n := new(big.Int).Mul(x.Raw(), fivePow48)
	return decimal.NewFromBigInt(n, -FracBits)
}

func (x I80F48) String() string {
	return x.Decimal().String()
}

// Float64 is for display and metrics only.
func (x I80F48) Float64() float64 {
	f, _ := x.Decimal().Float64()
	return f
}

// Int64Floor returns the integer part rounded toward negative infinity.
func (x I80F48) Int64Floor() (int64, error) {
	b := new(big.Int).Rsh(x.Raw(), FracBits) // arithmetic shift floors
	if !b.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return b.Int64(), nil
}

func (x I80F48) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.String() + `"`), nil
}

func (x *I80F48) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := ParseI80F48(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

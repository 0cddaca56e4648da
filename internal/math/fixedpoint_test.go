package math_test

import (
	"errors"
	"testing"

	fpmath "MarginHealth/internal/math"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: conversions
// ============================================================================

func TestFromInt_RoundTripsThroughString(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -1_000_000, 1 << 40} {
		x := fpmath.FromInt(v)
		got, err := x.Int64Floor()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	require.Equal(t, "-7", fpmath.FromInt(-7).String())
}

func TestParse_Fractions(t *testing.T) {
	require.Equal(t, "0.5", fpmath.MustParse("0.5").String())
	require.Equal(t, "-2.25", fpmath.MustParse("-2.25").String())

	// 2^-48 is representable, 2^-49 rounds down to zero
	require.True(t, fpmath.Delta.IsPositive())
	half, err := fpmath.Delta.Div(fpmath.FromInt(2))
	require.NoError(t, err)
	require.True(t, half.IsZero())
}

func TestParse_FourteenDecimalDigits(t *testing.T) {
	require.False(t, fpmath.MustParse("0.00000000000001").IsZero())
	require.True(t, fpmath.MustParse("0.000000000000001").IsZero())
}

func TestFromDecimal_RoundingModes(t *testing.T) {
	third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3))

	down, err := fpmath.FromDecimal(third, fpmath.RoundDown)
	require.NoError(t, err)
	up, err := fpmath.FromDecimal(third, fpmath.RoundUp)
	require.NoError(t, err)

	diff, err := up.Sub(down)
	require.NoError(t, err)
	require.True(t, diff.Equal(fpmath.Delta))
}

func TestParse_Invalid(t *testing.T) {
	_, err := fpmath.ParseI80F48("not-a-number")
	require.Error(t, err)
}

// ============================================================================
// Test: arithmetic
// ============================================================================

func TestMul_Exact(t *testing.T) {
	got, err := fpmath.MustParse("1.5").Mul(fpmath.FromInt(-4))
	require.NoError(t, err)
	require.Equal(t, "-6", got.String())
}

func TestMul_FloorsNegativeResults(t *testing.T) {
	// Delta * 0.5 is 2^-49: positive floors to 0, negative floors to -Delta
	half := fpmath.MustParse("0.5")

	pos, err := fpmath.Delta.Mul(half)
	require.NoError(t, err)
	require.True(t, pos.IsZero())

	negDelta, err := fpmath.Delta.Neg()
	require.NoError(t, err)
	neg, err := negDelta.Mul(half)
	require.NoError(t, err)
	require.True(t, neg.Equal(negDelta))
}

func TestDiv_FloorsTowardNegativeInfinity(t *testing.T) {
	one := fpmath.One
	three := fpmath.FromInt(3)

	pos, err := one.Div(three)
	require.NoError(t, err)
	negOne, _ := one.Neg()
	neg, err := negOne.Div(three)
	require.NoError(t, err)

	// floor(-x) == -floor(x) - Delta when x is not representable
	negPos, _ := pos.Neg()
	want, err := negPos.Sub(fpmath.Delta)
	require.NoError(t, err)
	require.True(t, neg.Equal(want), "got %s want %s", neg, want)
}

func TestDiv_ByZero(t *testing.T) {
	_, err := fpmath.One.Div(fpmath.Zero)
	require.True(t, errors.Is(err, fpmath.ErrDivisionByZero))
}

func TestOverflow_IsReportedNotClamped(t *testing.T) {
	_, err := fpmath.MaxI80F48.Add(fpmath.Delta)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.MinI80F48.Sub(fpmath.Delta)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.MinI80F48.Neg()
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	big := fpmath.FromInt(1 << 60)
	_, err = big.Mul(big)
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)

	_, err = fpmath.MaxI80F48.Div(fpmath.MustParse("0.5"))
	require.ErrorIs(t, err, fpmath.ErrArithmeticOverflow)
}

func TestCmp_Signed(t *testing.T) {
	a := fpmath.FromInt(-3)
	b := fpmath.FromInt(2)
	require.Equal(t, -1, a.Cmp(b))
	require.Equal(t, 1, b.Cmp(a))
	require.Equal(t, 0, a.Cmp(fpmath.FromInt(-3)))
	require.True(t, fpmath.Min(a, b).Equal(a))
	require.True(t, fpmath.Max(a, b).Equal(b))
	require.True(t, fpmath.MinI80F48.LessThan(fpmath.MaxI80F48))
}

func TestFloor(t *testing.T) {
	require.Equal(t, "2", fpmath.MustParse("2.75").Floor().String())
	require.Equal(t, "-3", fpmath.MustParse("-2.25").Floor().String())
}

func TestJSON(t *testing.T) {
	x := fpmath.MustParse("-12.5")
	data, err := x.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"-12.5"`, string(data))

	var y fpmath.I80F48
	require.NoError(t, y.UnmarshalJSON([]byte(`3.25`)))
	require.Equal(t, "3.25", y.String())
}

// ============================================================================
// Test: Calc
// ============================================================================

func TestCalc_KeepsFirstError(t *testing.T) {
	var c fpmath.Calc
	v := c.Mul(fpmath.MaxI80F48, fpmath.FromInt(2))
	require.True(t, v.IsZero())
	_ = c.Div(fpmath.One, fpmath.Zero)
	require.ErrorIs(t, c.Err(), fpmath.ErrArithmeticOverflow)
}

func TestCalc_Sum(t *testing.T) {
	var c fpmath.Calc
	got := c.Sum(fpmath.FromInt(1), fpmath.FromInt(-5), fpmath.MustParse("0.5"))
	require.NoError(t, c.Err())
	require.Equal(t, "-3.5", got.String())
}

// ============================================================================
// Test: funding
// ============================================================================

func TestComputeUnsettledFunding(t *testing.T) {
	longIdx := fpmath.FromInt(12)
	shortIdx := fpmath.FromInt(12)
	settled := fpmath.FromInt(10)

	owed, err := fpmath.ComputeUnsettledFunding(5, longIdx, shortIdx, settled, settled)
	require.NoError(t, err)
	require.Equal(t, "10", owed.String(), "long pays when the index rises")

	owed, err = fpmath.ComputeUnsettledFunding(-5, longIdx, shortIdx, settled, settled)
	require.NoError(t, err)
	require.Equal(t, "-10", owed.String(), "short receives when the index rises")

	owed, err = fpmath.ComputeUnsettledFunding(0, longIdx, shortIdx, settled, settled)
	require.NoError(t, err)
	require.True(t, owed.IsZero())
}

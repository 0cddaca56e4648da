package math

// ComputeUnsettledFunding returns the funding a perp position owes since it
// last settled, in quote native units.
// Returns: positive = account pays, negative = account receives.
//
// Funding indexes are cumulative per base lot. Longs accrue against the long
// index and shorts against the short index, so baseLots carries the side sign.
func ComputeUnsettledFunding(
	baseLots int64,
	longFunding I80F48,
	shortFunding I80F48,
	longSettled I80F48,
	shortSettled I80F48,
) (I80F48, error) {
	var c Calc
	lots := FromInt(baseLots)

	var owed I80F48
	switch {
	case baseLots > 0:
		owed = c.Mul(c.Sub(longFunding, longSettled), lots)
	case baseLots < 0:
		owed = c.Mul(c.Sub(shortFunding, shortSettled), lots)
	default:
		return Zero, nil
	}

	if err := c.Err(); err != nil {
		return Zero, err
	}
	return owed, nil
}

// LotsToNative converts a lot count to native units.
func LotsToNative(lots, lotSize int64) (I80F48, error) {
	return FromInt(lots).Mul(FromInt(lotSize))
}

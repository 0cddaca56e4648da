package state

import (
	"fmt"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"

	"github.com/google/uuid"
)

type TokenIndex uint16
type PerpMarketIndex uint16
type Serum3MarketIndex uint16

// Bank is the lending pool record for one token.
// Balances are stored indexed: native = indexed * index, where the deposit
// index applies to positive and the borrow index to negative positions.
type Bank struct {
	Group        uuid.UUID     `json:"group"`
	Key          uuid.UUID     `json:"key"`
	Name         string        `json:"name"`
	TokenIndex   TokenIndex    `json:"token_index"`
	MintDecimals uint8         `json:"mint_decimals"`
	Oracle       uuid.UUID     `json:"oracle"`
	OracleConfig oracle.Config `json:"oracle_config"`
	StablePrice  fpmath.I80F48 `json:"stable_price"`

	DepositIndex    fpmath.I80F48 `json:"deposit_index"`
	BorrowIndex     fpmath.I80F48 `json:"borrow_index"`
	IndexedDeposits fpmath.I80F48 `json:"indexed_deposits"`
	IndexedBorrows  fpmath.I80F48 `json:"indexed_borrows"`

	MaintAssetWeight fpmath.I80F48 `json:"maint_asset_weight"`
	InitAssetWeight  fpmath.I80F48 `json:"init_asset_weight"`
	MaintLiabWeight  fpmath.I80F48 `json:"maint_liab_weight"`
	InitLiabWeight   fpmath.I80F48 `json:"init_liab_weight"`

	// Init weights are scaled once total deposits/borrows exceed these
	// quote values. Zero disables scaling.
	DepositWeightScaleStartQuote fpmath.I80F48 `json:"deposit_weight_scale_start_quote"`
	BorrowWeightScaleStartQuote  fpmath.I80F48 `json:"borrow_weight_scale_start_quote"`

	DisableAssetLiquidation bool `json:"disable_asset_liquidation"`
}

func (b *Bank) RecordKey() uuid.UUID { return b.Key }

// Native converts an indexed position to native token units.
func (b *Bank) Native(indexed fpmath.I80F48) (fpmath.I80F48, error) {
	if indexed.IsPositive() {
		return indexed.Mul(b.DepositIndex)
	}
	return indexed.Mul(b.BorrowIndex)
}

func (b *Bank) NativeDeposits() (fpmath.I80F48, error) {
	return b.IndexedDeposits.Mul(b.DepositIndex)
}

func (b *Bank) NativeBorrows() (fpmath.I80F48, error) {
	return b.IndexedBorrows.Mul(b.BorrowIndex)
}

func (b *Bank) AllowsAssetLiquidation() bool {
	return !b.DisableAssetLiquidation
}

// ScaledInitAssetWeight lowers the init asset weight once the bank's total
// deposits are worth more than DepositWeightScaleStartQuote at price.
func (b *Bank) ScaledInitAssetWeight(price fpmath.I80F48) (fpmath.I80F48, error) {
	if b.DepositWeightScaleStartQuote.IsZero() {
		return b.InitAssetWeight, nil
	}
	var c fpmath.Calc
	deposits, err := b.NativeDeposits()
	if err != nil {
		return fpmath.Zero, err
	}
	depositsQuote := c.Mul(deposits, price)
	if err := c.Err(); err != nil {
		return fpmath.Zero, err
	}
	if depositsQuote.Cmp(b.DepositWeightScaleStartQuote) <= 0 {
		return b.InitAssetWeight, nil
	}
	w := c.Div(c.Mul(b.InitAssetWeight, b.DepositWeightScaleStartQuote), depositsQuote)
	return w, c.Err()
}

// ScaledInitLiabWeight raises the init liab weight once the bank's total
// borrows are worth more than BorrowWeightScaleStartQuote at price.
func (b *Bank) ScaledInitLiabWeight(price fpmath.I80F48) (fpmath.I80F48, error) {
	if b.BorrowWeightScaleStartQuote.IsZero() {
		return b.InitLiabWeight, nil
	}
	var c fpmath.Calc
	borrows, err := b.NativeBorrows()
	if err != nil {
		return fpmath.Zero, err
	}
	borrowsQuote := c.Mul(borrows, price)
	if err := c.Err(); err != nil {
		return fpmath.Zero, err
	}
	if borrowsQuote.Cmp(b.BorrowWeightScaleStartQuote) <= 0 {
		return b.InitLiabWeight, nil
	}
	w := c.Div(c.Mul(b.InitLiabWeight, borrowsQuote), b.BorrowWeightScaleStartQuote)
	return w, c.Err()
}

// OraclePrice reads the bank's oracle through its acceptance policy.
func (b *Bank) OraclePrice(acc *oracle.Account, nowSlot uint64) (fpmath.I80F48, error) {
	if acc.Key != b.Oracle {
		return fpmath.Zero, fmt.Errorf("bank %d expects oracle %s, got %s: %w",
			b.TokenIndex, b.Oracle, acc.Key, ErrOracleMismatch)
	}
	return acc.CheckedPrice(b.OracleConfig, nowSlot)
}

// Deposit adds nativeAmount to position. It returns whether the position is
// still active.
//
// The indexed change is rounded up by Delta so that withdrawing the deposited
// amount right away always succeeds.
func (b *Bank) Deposit(position *TokenPosition, nativeAmount fpmath.I80F48) (bool, error) {
	if nativeAmount.IsNegative() {
		return false, fmt.Errorf("deposit amount %s: %w", nativeAmount, ErrNegativeAmount)
	}
	var c fpmath.Calc
	amount := nativeAmount

	nativePosition, err := b.Native(position.IndexedPosition)
	if err != nil {
		return false, err
	}

	if nativePosition.IsNegative() {
		newNative := c.Add(nativePosition, amount)
		if err := c.Err(); err != nil {
			return false, err
		}
		if newNative.IsNegative() {
			// pay back borrows only
			change := c.Add(c.Div(amount, b.BorrowIndex), fpmath.Delta)
			b.IndexedBorrows = c.Sub(b.IndexedBorrows, change)
			position.IndexedPosition = c.Add(position.IndexedPosition, change)
			return true, c.Err()
		}

		// pay back all borrows, deposit the rest
		b.IndexedBorrows = c.Add(b.IndexedBorrows, position.IndexedPosition)
		position.IndexedPosition = fpmath.Zero
		amount = newNative
	}

	change := c.Add(c.Div(amount, b.DepositIndex), fpmath.Delta)
	b.IndexedDeposits = c.Add(b.IndexedDeposits, change)
	position.IndexedPosition = c.Add(position.IndexedPosition, change)
	return true, c.Err()
}

// Withdraw removes nativeAmount from position, borrowing what the deposits
// don't cover. It returns whether the position is still active.
func (b *Bank) Withdraw(position *TokenPosition, nativeAmount fpmath.I80F48) (bool, error) {
	if nativeAmount.IsNegative() {
		return false, fmt.Errorf("withdraw amount %s: %w", nativeAmount, ErrNegativeAmount)
	}
	var c fpmath.Calc
	amount := nativeAmount

	nativePosition, err := b.Native(position.IndexedPosition)
	if err != nil {
		return false, err
	}

	if nativePosition.IsPositive() {
		newNative := c.Sub(nativePosition, amount)
		if err := c.Err(); err != nil {
			return false, err
		}
		if !newNative.IsNegative() {
			if newNative.LessThan(fpmath.One) && position.InUseCount == 0 {
				// less than one native token left: close the position
				b.IndexedDeposits = c.Sub(b.IndexedDeposits, position.IndexedPosition)
				position.IndexedPosition = fpmath.Zero
				return false, c.Err()
			}
			change := c.Div(amount, b.DepositIndex)
			b.IndexedDeposits = c.Sub(b.IndexedDeposits, change)
			position.IndexedPosition = c.Sub(position.IndexedPosition, change)
			return true, c.Err()
		}

		// withdraw all deposits, borrow the rest
		b.IndexedDeposits = c.Sub(b.IndexedDeposits, position.IndexedPosition)
		position.IndexedPosition = fpmath.Zero
		amount = c.Neg(newNative)
	}

	change := c.Div(amount, b.BorrowIndex)
	b.IndexedBorrows = c.Add(b.IndexedBorrows, change)
	position.IndexedPosition = c.Sub(position.IndexedPosition, change)
	return true, c.Err()
}

// Change deposits positive and withdraws negative amounts.
func (b *Bank) Change(position *TokenPosition, nativeAmount fpmath.I80F48) (bool, error) {
	if nativeAmount.IsNegative() {
		abs, err := nativeAmount.Neg()
		if err != nil {
			return false, err
		}
		return b.Withdraw(position, abs)
	}
	return b.Deposit(position, nativeAmount)
}

package testutil

import (
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

// Token pairs a bank with its oracle.
type Token struct {
	Bank   *state.Bank
	Oracle *oracle.Account
}

// Perp pairs a perp market with its oracle.
type Perp struct {
	Market *state.PerpMarket
	Oracle *oracle.Account
}

// MockBankAndOracle returns a bank with unit indexes and weight pairs
// 1 -/+ initWeight and 1 -/+ maintWeight, priced at price. Staleness checks
// are disabled and the stable price equals the oracle price.
func MockBankAndOracle(group uuid.UUID, tokenIndex state.TokenIndex, price, initWeight, maintWeight string) Token {
	p := fpmath.MustParse(price)
	acc := &oracle.Account{
		Key:        uuid.New(),
		Price:      p,
		Confidence: fpmath.Zero,
		Sequence:   1,
	}
	initW := fpmath.MustParse(initWeight)
	maintW := fpmath.MustParse(maintWeight)
	bank := &state.Bank{
		Group:            group,
		Key:              uuid.New(),
		Name:             "token",
		TokenIndex:       tokenIndex,
		Oracle:           acc.Key,
		OracleConfig:     oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: -1},
		StablePrice:      p,
		DepositIndex:     fpmath.One,
		BorrowIndex:      fpmath.One,
		IndexedDeposits:  fpmath.Zero,
		IndexedBorrows:   fpmath.Zero,
		MaintAssetWeight: mustSub(fpmath.One, maintW),
		InitAssetWeight:  mustSub(fpmath.One, initW),
		MaintLiabWeight:  mustAdd(fpmath.One, maintW),
		InitLiabWeight:   mustAdd(fpmath.One, initW),
	}
	return Token{Bank: bank, Oracle: acc}
}

// MockPerpMarket returns a market with base lot size 10, quote lot size 100
// and overall asset weights of 1, settling in settleToken.
func MockPerpMarket(group uuid.UUID, perpIndex state.PerpMarketIndex, settleToken state.TokenIndex, price, initWeight, maintWeight string) Perp {
	p := fpmath.MustParse(price)
	acc := &oracle.Account{
		Key:        uuid.New(),
		Price:      p,
		Confidence: fpmath.Zero,
		Sequence:   1,
	}
	initW := fpmath.MustParse(initWeight)
	maintW := fpmath.MustParse(maintWeight)
	market := &state.PerpMarket{
		Group:                   group,
		Key:                     uuid.New(),
		Name:                    "perp",
		PerpMarketIndex:         perpIndex,
		SettleTokenIndex:        settleToken,
		Oracle:                  acc.Key,
		OracleConfig:            oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: -1},
		StablePrice:             p,
		BaseLotSize:             10,
		QuoteLotSize:            100,
		MaintBaseAssetWeight:    mustSub(fpmath.One, maintW),
		InitBaseAssetWeight:     mustSub(fpmath.One, initW),
		MaintBaseLiabWeight:     mustAdd(fpmath.One, maintW),
		InitBaseLiabWeight:      mustAdd(fpmath.One, initW),
		MaintOverallAssetWeight: fpmath.One,
		InitOverallAssetWeight:  fpmath.One,
		LongFunding:             fpmath.Zero,
		ShortFunding:            fpmath.Zero,
	}
	return Perp{Market: market, Oracle: acc}
}

// SetBalance sets the account's balance in t's bank to native, updating the
// bank totals at unit indexes.
func SetBalance(account *state.Account, t Token, native string) {
	pos, _, _ := account.EnsureTokenPosition(t.Bank.TokenIndex)
	v := fpmath.MustParse(native)
	pos.IndexedPosition = v
	if v.IsNegative() {
		t.Bank.IndexedBorrows = mustSub(t.Bank.IndexedBorrows, v)
	} else {
		t.Bank.IndexedDeposits = mustAdd(t.Bank.IndexedDeposits, v)
	}
}

func mustAdd(a, b fpmath.I80F48) fpmath.I80F48 {
	v, err := a.Add(b)
	if err != nil {
		panic(err)
	}
	return v
}

func mustSub(a, b fpmath.I80F48) fpmath.I80F48 {
	v, err := a.Sub(b)
	if err != nil {
		panic(err)
	}
	return v
}

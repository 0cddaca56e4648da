package oracle_test

import (
	"errors"
	stdmath "math"
	"sync"
	"testing"

	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/oracle"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func reading(price, conf string, slot uint64) *oracle.Account {
	return &oracle.Account{
		Key:            uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Price:          fpmath.MustParse(price),
		Confidence:     fpmath.MustParse(conf),
		LastUpdateSlot: slot,
	}
}

// === Test: CheckedPrice ===

func TestCheckedPrice_OK(t *testing.T) {
	cfg := oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: 10}
	price, err := reading("20", "1", 100).CheckedPrice(cfg, 105)
	require.NoError(t, err)
	require.Equal(t, "20", price.String())
}

func TestCheckedPrice_BadConfidence(t *testing.T) {
	cfg := oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: -1}
	_, err := reading("20", "2.5", 100).CheckedPrice(cfg, 100)
	require.ErrorIs(t, err, oracle.ErrBadOracleConfidence)
	require.True(t, oracle.IsOracleError(err))
}

func TestCheckedPrice_Stale(t *testing.T) {
	cfg := oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: 10}

	_, err := reading("20", "0", 100).CheckedPrice(cfg, 110)
	require.NoError(t, err, "exactly at the staleness bound is still fresh")

	_, err = reading("20", "0", 100).CheckedPrice(cfg, 111)
	require.ErrorIs(t, err, oracle.ErrStaleOracle)
}

func TestCheckedPrice_LargeStalenessBound(t *testing.T) {
	cfg := oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: stdmath.MaxInt64}

	_, err := reading("20", "0", 1<<63+5).CheckedPrice(cfg, 1<<63+6)
	require.NoError(t, err)

	// readings from a slot ahead of now are never stale
	cfg.MaxStalenessSlots = 0
	_, err = reading("20", "0", 200).CheckedPrice(cfg, 100)
	require.NoError(t, err)
}

func TestCheckedPrice_StalenessDisabled(t *testing.T) {
	cfg := oracle.Config{ConfFilter: fpmath.MustParse("0.1"), MaxStalenessSlots: -1}
	_, err := reading("20", "0", 1).CheckedPrice(cfg, 1_000_000)
	require.NoError(t, err)
}

func TestIsOracleError_OtherErrors(t *testing.T) {
	require.False(t, oracle.IsOracleError(errors.New("boom")))
	require.False(t, oracle.IsOracleError(nil))
}

// === Test: Book ===

func TestBook_SequenceOrdering(t *testing.T) {
	book := oracle.NewBook()
	key := uuid.New()

	require.Equal(t, oracle.Applied, book.Apply(oracle.Account{Key: key, Price: fpmath.FromInt(1), Sequence: 1}))
	require.Equal(t, oracle.IgnoredStale, book.Apply(oracle.Account{Key: key, Price: fpmath.FromInt(9), Sequence: 1}))
	require.Equal(t, oracle.AppliedAfterGap, book.Apply(oracle.Account{Key: key, Price: fpmath.FromInt(3), Sequence: 5}))
	require.Equal(t, oracle.IgnoredStale, book.Apply(oracle.Account{Key: key, Price: fpmath.FromInt(2), Sequence: 4}))

	got, ok := book.Get(key)
	require.True(t, ok)
	require.Equal(t, "3", got.Price.String())
	require.Equal(t, int64(1), book.Gaps(key))
}

func TestBook_Overlay(t *testing.T) {
	book := oracle.NewBook()
	a, b := uuid.New(), uuid.New()
	book.Apply(oracle.Account{Key: a, Price: fpmath.FromInt(7), Sequence: 10})

	out := book.Overlay([]oracle.Account{
		{Key: a, Price: fpmath.FromInt(1), Sequence: 3},
		{Key: b, Price: fpmath.FromInt(2), Sequence: 3},
	})
	require.Equal(t, "7", out[0].Price.String())
	require.Equal(t, "2", out[1].Price.String())
}

func TestBook_LatestSlot(t *testing.T) {
	book := oracle.NewBook()
	a, b := uuid.New(), uuid.New()
	require.Equal(t, uint64(0), book.LatestSlot())

	book.Apply(oracle.Account{Key: a, LastUpdateSlot: 120, Sequence: 1})
	book.Apply(oracle.Account{Key: b, LastUpdateSlot: 90, Sequence: 1})
	require.Equal(t, uint64(120), book.LatestSlot())

	// ignored updates do not move the clock
	book.Apply(oracle.Account{Key: a, LastUpdateSlot: 500, Sequence: 1})
	require.Equal(t, uint64(120), book.LatestSlot())
}

func TestBook_ConcurrentApply(t *testing.T) {
	book := oracle.NewBook()
	key := uuid.New()

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			book.Apply(oracle.Account{Key: key, Price: fpmath.FromInt(seq), Sequence: seq})
		}(i)
	}
	wg.Wait()

	got, ok := book.Get(key)
	require.True(t, ok)
	require.Equal(t, int64(50), got.Sequence)
	require.Equal(t, 1, book.Len())
}

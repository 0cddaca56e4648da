package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

var ErrVersionConflict = errors.New("account version conflict")

// RecordWriter upserts margin records. Group setup tooling and tests use it to
// seed state; SaveAccount persists accounts mutated by gated operations.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

func (w *RecordWriter) UpsertGroup(ctx context.Context, id uuid.UUID, name string) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO margin.groups (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, id, name)
	return err
}

func (w *RecordWriter) UpsertOracle(ctx context.Context, groupID uuid.UUID, o *oracle.Account) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO margin.oracles (key, group_id, price, confidence, last_update_slot, sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			price = EXCLUDED.price,
			confidence = EXCLUDED.confidence,
			last_update_slot = EXCLUDED.last_update_slot,
			sequence = EXCLUDED.sequence,
			updated_at = NOW()
		WHERE margin.oracles.sequence < EXCLUDED.sequence`,
		o.Key, groupID, numeric(o.Price), numeric(o.Confidence), int64(o.LastUpdateSlot), o.Sequence)
	return err
}

func (w *RecordWriter) UpsertBank(ctx context.Context, b *state.Bank) error {
	if err := state.ValidateTokenWeights(b); err != nil {
		return err
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO margin.banks (
			key, group_id, name, token_index, mint_decimals, oracle_key,
			oracle_conf_filter, oracle_max_staleness, stable_price,
			deposit_index, borrow_index, indexed_deposits, indexed_borrows,
			maint_asset_weight, init_asset_weight, maint_liab_weight, init_liab_weight,
			deposit_weight_scale_start_quote, borrow_weight_scale_start_quote,
			disable_asset_liquidation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			oracle_conf_filter = EXCLUDED.oracle_conf_filter,
			oracle_max_staleness = EXCLUDED.oracle_max_staleness,
			stable_price = EXCLUDED.stable_price,
			deposit_index = EXCLUDED.deposit_index,
			borrow_index = EXCLUDED.borrow_index,
			indexed_deposits = EXCLUDED.indexed_deposits,
			indexed_borrows = EXCLUDED.indexed_borrows,
			maint_asset_weight = EXCLUDED.maint_asset_weight,
			init_asset_weight = EXCLUDED.init_asset_weight,
			maint_liab_weight = EXCLUDED.maint_liab_weight,
			init_liab_weight = EXCLUDED.init_liab_weight,
			deposit_weight_scale_start_quote = EXCLUDED.deposit_weight_scale_start_quote,
			borrow_weight_scale_start_quote = EXCLUDED.borrow_weight_scale_start_quote,
			disable_asset_liquidation = EXCLUDED.disable_asset_liquidation`,
		b.Key, b.Group, b.Name, int32(b.TokenIndex), int16(b.MintDecimals), b.Oracle,
		numeric(b.OracleConfig.ConfFilter), b.OracleConfig.MaxStalenessSlots, numeric(b.StablePrice),
		numeric(b.DepositIndex), numeric(b.BorrowIndex), numeric(b.IndexedDeposits), numeric(b.IndexedBorrows),
		numeric(b.MaintAssetWeight), numeric(b.InitAssetWeight), numeric(b.MaintLiabWeight), numeric(b.InitLiabWeight),
		numeric(b.DepositWeightScaleStartQuote), numeric(b.BorrowWeightScaleStartQuote),
		b.DisableAssetLiquidation)
	return err
}

func (w *RecordWriter) UpsertPerpMarket(ctx context.Context, m *state.PerpMarket) error {
	if err := state.ValidatePerpWeights(m); err != nil {
		return err
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO margin.perp_markets (
			key, group_id, name, perp_market_index, settle_token_index, oracle_key,
			oracle_conf_filter, oracle_max_staleness, stable_price,
			base_lot_size, quote_lot_size,
			maint_base_asset_weight, init_base_asset_weight, maint_base_liab_weight, init_base_liab_weight,
			maint_overall_asset_weight, init_overall_asset_weight,
			long_funding, short_funding, init_base_exposure_limit_quote, open_interest_lots)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			oracle_conf_filter = EXCLUDED.oracle_conf_filter,
			oracle_max_staleness = EXCLUDED.oracle_max_staleness,
			stable_price = EXCLUDED.stable_price,
			maint_base_asset_weight = EXCLUDED.maint_base_asset_weight,
			init_base_asset_weight = EXCLUDED.init_base_asset_weight,
			maint_base_liab_weight = EXCLUDED.maint_base_liab_weight,
			init_base_liab_weight = EXCLUDED.init_base_liab_weight,
			maint_overall_asset_weight = EXCLUDED.maint_overall_asset_weight,
			init_overall_asset_weight = EXCLUDED.init_overall_asset_weight,
			long_funding = EXCLUDED.long_funding,
			short_funding = EXCLUDED.short_funding,
			init_base_exposure_limit_quote = EXCLUDED.init_base_exposure_limit_quote,
			open_interest_lots = EXCLUDED.open_interest_lots`,
		m.Key, m.Group, m.Name, int32(m.PerpMarketIndex), int32(m.SettleTokenIndex), m.Oracle,
		numeric(m.OracleConfig.ConfFilter), m.OracleConfig.MaxStalenessSlots, numeric(m.StablePrice),
		m.BaseLotSize, m.QuoteLotSize,
		numeric(m.MaintBaseAssetWeight), numeric(m.InitBaseAssetWeight), numeric(m.MaintBaseLiabWeight), numeric(m.InitBaseLiabWeight),
		numeric(m.MaintOverallAssetWeight), numeric(m.InitOverallAssetWeight),
		numeric(m.LongFunding), numeric(m.ShortFunding), numeric(m.InitBaseExposureLimitQuote), m.OpenInterestLots)
	return err
}

func (w *RecordWriter) UpsertOpenOrders(ctx context.Context, groupID uuid.UUID, oo *state.OpenOrders) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO margin.open_orders (key, group_id, market_index, base_free, base_total, quote_free, quote_total, referrer_rebates_accrued)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			base_free = EXCLUDED.base_free,
			base_total = EXCLUDED.base_total,
			quote_free = EXCLUDED.quote_free,
			quote_total = EXCLUDED.quote_total,
			referrer_rebates_accrued = EXCLUDED.referrer_rebates_accrued`,
		oo.Key, groupID, int32(oo.MarketIndex),
		numericUint(oo.BaseFree), numericUint(oo.BaseTotal),
		numericUint(oo.QuoteFree), numericUint(oo.QuoteTotal),
		numericUint(oo.ReferrerRebatesAccrued))
	return err
}

// SaveAccount writes account and replaces its positions.
// The stored row must still be at loadedVersion; a new account is saved with
// loadedVersion 0. Returns ErrVersionConflict when another writer got there
// first.
func (w *RecordWriter) SaveAccount(ctx context.Context, account *state.Account, loadedVersion int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if loadedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO margin.accounts (id, group_id, owner, liquidation_state, version)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			account.ID, account.Group, account.Owner, int16(account.Liquidation), account.Version)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE margin.accounts
			SET owner = $2, liquidation_state = $3, version = $4, updated_at = NOW()
			WHERE id = $1 AND version = $5`,
			account.ID, account.Owner, int16(account.Liquidation), account.Version, loadedVersion)
	}
	if err != nil {
		return fmt.Errorf("save account %s: %w", account.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, account.ID, loadedVersion)
	}

	for _, table := range []string{"margin.token_positions", "margin.serum3_orders", "margin.perp_positions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE account_id = $1`, account.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for slot, p := range account.Tokens {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.token_positions (account_id, slot, token_index, indexed_position, in_use_count)
			VALUES ($1, $2, $3, $4, $5)`,
			account.ID, slot, int32(p.TokenIndex), numeric(p.IndexedPosition), int32(p.InUseCount)); err != nil {
			return fmt.Errorf("insert token position: %w", err)
		}
	}
	for slot, s := range account.Serum3 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.serum3_orders (account_id, slot, market_index, open_orders_key, base_token_index, quote_token_index)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			account.ID, slot, int32(s.MarketIndex), s.OpenOrders, int32(s.BaseTokenIndex), int32(s.QuoteTokenIndex)); err != nil {
			return fmt.Errorf("insert serum3 orders: %w", err)
		}
	}
	for slot, p := range account.Perps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.perp_positions (
				account_id, slot, market_index, base_position_lots, quote_position_native,
				bids_base_lots, asks_base_lots, taker_base_lots, taker_quote_lots,
				long_settled_funding, short_settled_funding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			account.ID, slot, int32(p.MarketIndex), p.BasePositionLots, numeric(p.QuotePositionNative),
			p.BidsBaseLots, p.AsksBaseLots, p.TakerBaseLots, p.TakerQuoteLots,
			numeric(p.LongSettledFunding), numeric(p.ShortSettledFunding)); err != nil {
			return fmt.Errorf("insert perp position: %w", err)
		}
	}

	return tx.Commit()
}

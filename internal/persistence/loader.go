package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"MarginHealth/internal/health"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("account not found")

// GroupRecords is every record of one group, read in a single snapshot.
type GroupRecords struct {
	Group       uuid.UUID
	Banks       []*state.Bank
	PerpMarkets []*state.PerpMarket
	Oracles     []*oracle.Account
	OpenOrders  []*state.OpenOrders
	Accounts    []*state.Account

	// Banks and markets that break the weight conventions. They are still
	// loaded; the engine does not depend on the conventions.
	Violations []error
}

// Records returns the shared records a retriever resolves against.
// Oracles are returned in load order; callers overlay live prices.
func (g *GroupRecords) Records() []health.Record {
	out := make([]health.Record, 0, len(g.Banks)+len(g.PerpMarkets)+len(g.Oracles)+len(g.OpenOrders))
	for _, b := range g.Banks {
		out = append(out, b)
	}
	for _, m := range g.PerpMarkets {
		out = append(out, m)
	}
	for _, o := range g.Oracles {
		out = append(out, o)
	}
	for _, oo := range g.OpenOrders {
		out = append(out, oo)
	}
	return out
}

// Loader reads margin records from Postgres.
type Loader struct {
	db *sql.DB
}

func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db}
}

// LoadGroup reads all records of groupID inside one read-only
// repeatable-read transaction, so accounts and banks are mutually consistent.
func (l *Loader) LoadGroup(ctx context.Context, groupID uuid.UUID) (*GroupRecords, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback()

	g := &GroupRecords{Group: groupID}
	if g.Oracles, err = loadOracles(ctx, tx, groupID); err != nil {
		return nil, err
	}
	if g.Banks, err = loadBanks(ctx, tx, groupID); err != nil {
		return nil, err
	}
	if g.PerpMarkets, err = loadPerpMarkets(ctx, tx, groupID); err != nil {
		return nil, err
	}
	for _, b := range g.Banks {
		if err := state.ValidateTokenWeights(b); err != nil {
			g.Violations = append(g.Violations, err)
		}
	}
	for _, m := range g.PerpMarkets {
		if err := state.ValidatePerpWeights(m); err != nil {
			g.Violations = append(g.Violations, err)
		}
	}
	if g.OpenOrders, err = loadOpenOrders(ctx, tx, groupID); err != nil {
		return nil, err
	}
	if g.Accounts, err = loadAccounts(ctx, tx, `WHERE group_id = $1`, groupID); err != nil {
		return nil, err
	}
	return g, tx.Commit()
}

// LoadAccount reads one account with its positions.
func (l *Loader) LoadAccount(ctx context.Context, id uuid.UUID) (*state.Account, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin load tx: %w", err)
	}
	defer tx.Rollback()

	accounts, err := loadAccounts(ctx, tx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return accounts[0], tx.Commit()
}

func loadOracles(ctx context.Context, tx *sql.Tx, groupID uuid.UUID) ([]*oracle.Account, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT key, price, confidence, last_update_slot, sequence
		FROM margin.oracles WHERE group_id = $1 ORDER BY key`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query oracles: %w", err)
	}
	defer rows.Close()

	var out []*oracle.Account
	for rows.Next() {
		o := &oracle.Account{}
		var slot int64
		if err := rows.Scan(&o.Key, fixed(&o.Price), fixed(&o.Confidence), &slot, &o.Sequence); err != nil {
			return nil, fmt.Errorf("scan oracle: %w", err)
		}
		o.LastUpdateSlot = uint64(slot)
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadBanks(ctx context.Context, tx *sql.Tx, groupID uuid.UUID) ([]*state.Bank, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT key, group_id, name, token_index, mint_decimals, oracle_key,
		       oracle_conf_filter, oracle_max_staleness, stable_price,
		       deposit_index, borrow_index, indexed_deposits, indexed_borrows,
		       maint_asset_weight, init_asset_weight, maint_liab_weight, init_liab_weight,
		       deposit_weight_scale_start_quote, borrow_weight_scale_start_quote,
		       disable_asset_liquidation
		FROM margin.banks WHERE group_id = $1 ORDER BY token_index`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query banks: %w", err)
	}
	defer rows.Close()

	var out []*state.Bank
	for rows.Next() {
		b := &state.Bank{}
		var tokenIndex int32
		var decimals int16
		if err := rows.Scan(
			&b.Key, &b.Group, &b.Name, &tokenIndex, &decimals, &b.Oracle,
			fixed(&b.OracleConfig.ConfFilter), &b.OracleConfig.MaxStalenessSlots, fixed(&b.StablePrice),
			fixed(&b.DepositIndex), fixed(&b.BorrowIndex), fixed(&b.IndexedDeposits), fixed(&b.IndexedBorrows),
			fixed(&b.MaintAssetWeight), fixed(&b.InitAssetWeight), fixed(&b.MaintLiabWeight), fixed(&b.InitLiabWeight),
			fixed(&b.DepositWeightScaleStartQuote), fixed(&b.BorrowWeightScaleStartQuote),
			&b.DisableAssetLiquidation,
		); err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		b.TokenIndex = state.TokenIndex(tokenIndex)
		b.MintDecimals = uint8(decimals)
		out = append(out, b)
	}
	return out, rows.Err()
}

func loadPerpMarkets(ctx context.Context, tx *sql.Tx, groupID uuid.UUID) ([]*state.PerpMarket, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT key, group_id, name, perp_market_index, settle_token_index, oracle_key,
		       oracle_conf_filter, oracle_max_staleness, stable_price,
		       base_lot_size, quote_lot_size,
		       maint_base_asset_weight, init_base_asset_weight, maint_base_liab_weight, init_base_liab_weight,
		       maint_overall_asset_weight, init_overall_asset_weight,
		       long_funding, short_funding, init_base_exposure_limit_quote, open_interest_lots
		FROM margin.perp_markets WHERE group_id = $1 ORDER BY perp_market_index`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query perp markets: %w", err)
	}
	defer rows.Close()

	var out []*state.PerpMarket
	for rows.Next() {
		m := &state.PerpMarket{}
		var perpIndex, settleIndex int32
		if err := rows.Scan(
			&m.Key, &m.Group, &m.Name, &perpIndex, &settleIndex, &m.Oracle,
			fixed(&m.OracleConfig.ConfFilter), &m.OracleConfig.MaxStalenessSlots, fixed(&m.StablePrice),
			&m.BaseLotSize, &m.QuoteLotSize,
			fixed(&m.MaintBaseAssetWeight), fixed(&m.InitBaseAssetWeight), fixed(&m.MaintBaseLiabWeight), fixed(&m.InitBaseLiabWeight),
			fixed(&m.MaintOverallAssetWeight), fixed(&m.InitOverallAssetWeight),
			fixed(&m.LongFunding), fixed(&m.ShortFunding), fixed(&m.InitBaseExposureLimitQuote), &m.OpenInterestLots,
		); err != nil {
			return nil, fmt.Errorf("scan perp market: %w", err)
		}
		m.PerpMarketIndex = state.PerpMarketIndex(perpIndex)
		m.SettleTokenIndex = state.TokenIndex(settleIndex)
		out = append(out, m)
	}
	return out, rows.Err()
}

func loadOpenOrders(ctx context.Context, tx *sql.Tx, groupID uuid.UUID) ([]*state.OpenOrders, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT key, market_index, base_free, base_total, quote_free, quote_total, referrer_rebates_accrued
		FROM margin.open_orders WHERE group_id = $1 ORDER BY key`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []*state.OpenOrders
	for rows.Next() {
		oo := &state.OpenOrders{}
		var marketIndex int32
		if err := rows.Scan(&oo.Key, &marketIndex,
			unsigned(&oo.BaseFree), unsigned(&oo.BaseTotal),
			unsigned(&oo.QuoteFree), unsigned(&oo.QuoteTotal),
			unsigned(&oo.ReferrerRebatesAccrued),
		); err != nil {
			return nil, fmt.Errorf("scan open orders: %w", err)
		}
		oo.MarketIndex = state.Serum3MarketIndex(marketIndex)
		out = append(out, oo)
	}
	return out, rows.Err()
}

// loadAccounts reads accounts matching where, then attaches positions in
// slot order.
func loadAccounts(ctx context.Context, tx *sql.Tx, where string, arg any) ([]*state.Account, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, group_id, owner, liquidation_state, version
		FROM margin.accounts `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}

	var out []*state.Account
	byID := make(map[uuid.UUID]*state.Account)
	for rows.Next() {
		a := &state.Account{}
		var liq int16
		if err := rows.Scan(&a.ID, &a.Group, &a.Owner, &liq, &a.Version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Liquidation = state.LiquidationState(liq)
		out = append(out, a)
		byID[a.ID] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(out))
	for _, a := range out {
		ids = append(ids, a.ID)
	}
	if err := attachTokenPositions(ctx, tx, ids, byID); err != nil {
		return nil, err
	}
	if err := attachSerum3Orders(ctx, tx, ids, byID); err != nil {
		return nil, err
	}
	if err := attachPerpPositions(ctx, tx, ids, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func attachTokenPositions(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, byID map[uuid.UUID]*state.Account) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT account_id, token_index, indexed_position, in_use_count
		FROM margin.token_positions WHERE account_id = ANY($1::uuid[])
		ORDER BY account_id, slot`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("query token positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID uuid.UUID
		var tokenIndex, inUse int32
		var p state.TokenPosition
		if err := rows.Scan(&accountID, &tokenIndex, fixed(&p.IndexedPosition), &inUse); err != nil {
			return fmt.Errorf("scan token position: %w", err)
		}
		p.TokenIndex = state.TokenIndex(tokenIndex)
		p.InUseCount = uint16(inUse)
		if a := byID[accountID]; a != nil {
			a.Tokens = append(a.Tokens, p)
		}
	}
	return rows.Err()
}

func attachSerum3Orders(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, byID map[uuid.UUID]*state.Account) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT account_id, market_index, open_orders_key, base_token_index, quote_token_index
		FROM margin.serum3_orders WHERE account_id = ANY($1::uuid[])
		ORDER BY account_id, slot`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("query serum3 orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID uuid.UUID
		var market, base, quote int32
		var s state.Serum3Orders
		if err := rows.Scan(&accountID, &market, &s.OpenOrders, &base, &quote); err != nil {
			return fmt.Errorf("scan serum3 orders: %w", err)
		}
		s.MarketIndex = state.Serum3MarketIndex(market)
		s.BaseTokenIndex = state.TokenIndex(base)
		s.QuoteTokenIndex = state.TokenIndex(quote)
		if a := byID[accountID]; a != nil {
			a.Serum3 = append(a.Serum3, s)
		}
	}
	return rows.Err()
}

func attachPerpPositions(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, byID map[uuid.UUID]*state.Account) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT account_id, market_index, base_position_lots, quote_position_native,
		       bids_base_lots, asks_base_lots, taker_base_lots, taker_quote_lots,
		       long_settled_funding, short_settled_funding
		FROM margin.perp_positions WHERE account_id = ANY($1::uuid[])
		ORDER BY account_id, slot`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("query perp positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID uuid.UUID
		var market int32
		var p state.PerpPosition
		if err := rows.Scan(&accountID, &market, &p.BasePositionLots, fixed(&p.QuotePositionNative),
			&p.BidsBaseLots, &p.AsksBaseLots, &p.TakerBaseLots, &p.TakerQuoteLots,
			fixed(&p.LongSettledFunding), fixed(&p.ShortSettledFunding),
		); err != nil {
			return fmt.Errorf("scan perp position: %w", err)
		}
		p.MarketIndex = state.PerpMarketIndex(market)
		if a := byID[accountID]; a != nil {
			a.Perps = append(a.Perps, p)
		}
	}
	return rows.Err()
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarginHealth/internal/health"
	fpmath "MarginHealth/internal/math"
	"MarginHealth/internal/state"

	"github.com/google/uuid"
)

var ErrNoReport = errors.New("no health report")

// HealthReport is one row of margin.health_reports.
type HealthReport struct {
	AccountID      uuid.UUID `json:"account_id"`
	GroupID        uuid.UUID `json:"group_id"`
	AccountVersion int64     `json:"account_version"`
	Slot           uint64    `json:"slot"`

	InitHealth   fpmath.I80F48 `json:"init_health"`
	MaintHealth  fpmath.I80F48 `json:"maint_health"`
	LiqEndHealth fpmath.I80F48 `json:"liquidation_end_health"`
	MaintRatio   fpmath.I80F48 `json:"maint_health_ratio"`
	Status       string        `json:"margin_status"`
	Phase        int           `json:"liquidation_phase"`

	StateHash   []byte    `json:"state_hash"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// NewHealthReport captures st for account as evaluated at slot.
func NewHealthReport(account *state.Account, st health.Status, slot uint64, at time.Time) HealthReport {
	hash := StateHash(account)
	return HealthReport{
		AccountID:      account.ID,
		GroupID:        account.Group,
		AccountVersion: account.Version,
		Slot:           slot,
		InitHealth:     st.InitHealth,
		MaintHealth:    st.MaintHealth,
		LiqEndHealth:   st.LiquidationEndHealth,
		MaintRatio:     st.MaintRatio,
		Status:         st.Margin.String(),
		Phase:          st.Phase,
		StateHash:      hash[:],
		EvaluatedAt:    at,
	}
}

// ReportWriter writes health reports using multi-row INSERT.
type ReportWriter struct {
	db *sql.DB
}

func NewReportWriter(db *sql.DB) *ReportWriter {
	return &ReportWriter{db: db}
}

const reportColumns = 12

// WriteReports inserts reports; rows already present for the same account
// version and slot are skipped.
func (w *ReportWriter) WriteReports(ctx context.Context, reports []HealthReport) error {
	if len(reports) == 0 {
		return nil
	}

	query := `INSERT INTO margin.health_reports
		(account_id, group_id, account_version, slot, init_health, maint_health, liq_end_health,
		 maint_ratio, status, liquidation_phase, state_hash, evaluated_at)
		VALUES `

	values := make([]string, 0, len(reports))
	args := make([]any, 0, len(reports)*reportColumns)

	for i, r := range reports {
		base := i * reportColumns
		ph := make([]string, reportColumns)
		for c := range ph {
			ph[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			r.AccountID, r.GroupID, r.AccountVersion, int64(r.Slot),
			numeric(r.InitHealth), numeric(r.MaintHealth), numeric(r.LiqEndHealth),
			numeric(r.MaintRatio), r.Status, r.Phase, r.StateHash, r.EvaluatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (account_id, account_version, slot) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// LatestReport returns the most recent report of an account.
func (w *ReportWriter) LatestReport(ctx context.Context, accountID uuid.UUID) (HealthReport, error) {
	var r HealthReport
	var slot int64
	err := w.db.QueryRowContext(ctx, `
		SELECT account_id, group_id, account_version, slot, init_health, maint_health, liq_end_health,
		       maint_ratio, status, liquidation_phase, state_hash, evaluated_at
		FROM margin.health_reports
		WHERE account_id = $1
		ORDER BY evaluated_at DESC
		LIMIT 1`, accountID,
	).Scan(&r.AccountID, &r.GroupID, &r.AccountVersion, &slot,
		fixed(&r.InitHealth), fixed(&r.MaintHealth), fixed(&r.LiqEndHealth),
		fixed(&r.MaintRatio), &r.Status, &r.Phase, &r.StateHash, &r.EvaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HealthReport{}, fmt.Errorf("%w: %s", ErrNoReport, accountID)
	}
	if err != nil {
		return HealthReport{}, err
	}
	r.Slot = uint64(slot)
	return r, nil
}

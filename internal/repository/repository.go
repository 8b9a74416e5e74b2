// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/domain"
)

const dateLayout = "2006-01-02"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Monetary values are stored
// as exact decimal strings, never as floats.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// --- trigger rules ---

// SaveRule inserts or updates a rule. A zero ID allocates the next one.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.TriggerRule) error {
	expr, err := json.Marshal(rule.Expression)
	if err != nil {
		return fmt.Errorf("marshal expression: %w", err)
	}
	msg, _ := json.Marshal(rule.Message)

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if rule.ID == 0 {
		if err := r.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM trigger_rules`,
		).Scan(&rule.ID); err != nil {
			return fmt.Errorf("allocate rule id: %w", err)
		}
		query := `
			INSERT INTO trigger_rules (
				id, report_type, name, priority, is_active, branch_id,
				expression, allow_continue, message, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = r.db.ExecContext(ctx, r.rebind(query),
			rule.ID, rule.ReportType, rule.Name, rule.Priority,
			boolInt(rule.IsActive), rule.BranchID,
			string(expr), boolInt(rule.AllowContinue), string(msg),
			rule.CreatedAt, rule.UpdatedAt,
		)
		return err
	}

	query := `
		UPDATE trigger_rules SET
			report_type = ?, name = ?, priority = ?, is_active = ?,
			branch_id = ?, expression = ?, allow_continue = ?, message = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ReportType, rule.Name, rule.Priority, boolInt(rule.IsActive),
		rule.BranchID, string(expr), boolInt(rule.AllowContinue), string(msg),
		rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("trigger rule")
	}
	return nil
}

const ruleColumns = `
	id, report_type, name, priority, is_active, branch_id,
	expression, allow_continue, message, created_at, updated_at
`

func (r *SQLRepository) scanRule(row interface{ Scan(...any) error }) (*domain.TriggerRule, error) {
	var rule domain.TriggerRule
	var isActive, allowContinue int
	var branchID sql.NullString
	var expr, msg string

	err := row.Scan(
		&rule.ID, &rule.ReportType, &rule.Name, &rule.Priority,
		&isActive, &branchID, &expr, &allowContinue, &msg,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.IsActive = isActive != 0
	rule.AllowContinue = allowContinue != 0
	if branchID.Valid {
		rule.BranchID = &branchID.String
	}
	if err := json.Unmarshal([]byte(expr), &rule.Expression); err != nil {
		return nil, fmt.Errorf("rule %d: unmarshal expression: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(msg), &rule.Message); err != nil {
		return nil, fmt.Errorf("rule %d: unmarshal message: %w", rule.ID, err)
	}
	return &rule, nil
}

func (r *SQLRepository) GetRule(ctx context.Context, id int64) (*domain.TriggerRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM trigger_rules WHERE id = ?`
	rule, err := r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("trigger rule")
	}
	return rule, err
}

func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.TriggerRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM trigger_rules ORDER BY report_type, priority DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TriggerRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListActiveRules returns active rules for a family, global rows plus rows
// scoped to the branch, in winning order.
func (r *SQLRepository) ListActiveRules(ctx context.Context, family domain.ReportType, branchID string) ([]*domain.TriggerRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM trigger_rules
		WHERE report_type = ? AND is_active = 1
		  AND (branch_id IS NULL OR branch_id = ?)
		ORDER BY priority DESC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), family, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TriggerRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *SQLRepository) DeactivateRule(ctx context.Context, id int64) error {
	query := `UPDATE trigger_rules SET is_active = 0, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("trigger rule")
	}
	return nil
}

// --- ledger ---

func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.ExchangeTransaction) error {
	query := `
		INSERT INTO exchange_transactions (
			id, branch_id, seqno, customer_id, customer_country, customer_age,
			currency, direction, payment_method, exchange_type, use_fcd,
			amount_foreign, rate, amount_local, status,
			bot_flag, fcd_flag, amlo_flag, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.BranchID, tx.SeqNo, tx.CustomerID, tx.CustomerCountry, tx.CustomerAge,
		tx.Currency, tx.Direction, tx.PaymentMethod, tx.ExchangeType, boolInt(tx.UseFCD),
		tx.AmountForeign.String(), tx.Rate.String(), tx.AmountLocal.String(), tx.Status,
		boolInt(tx.BOTFlag), boolInt(tx.FCDFlag), boolInt(tx.AMLOFlag), tx.CreatedAt,
	)
	return err
}

func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.ExchangeTransaction, error) {
	query := `
		SELECT id, branch_id, seqno, customer_id, customer_country, customer_age,
			   currency, direction, payment_method, exchange_type, use_fcd,
			   amount_foreign, rate, amount_local, status,
			   bot_flag, fcd_flag, amlo_flag, created_at
		FROM exchange_transactions WHERE id = ?
	`
	var tx domain.ExchangeTransaction
	var age sql.NullInt64
	var useFCD, botFlag, fcdFlag, amloFlag int
	var amountForeign, rate, amountLocal string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&tx.ID, &tx.BranchID, &tx.SeqNo, &tx.CustomerID, &tx.CustomerCountry, &age,
		&tx.Currency, &tx.Direction, &tx.PaymentMethod, &tx.ExchangeType, &useFCD,
		&amountForeign, &rate, &amountLocal, &tx.Status,
		&botFlag, &fcdFlag, &amloFlag, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("transaction")
	}
	if err != nil {
		return nil, err
	}

	if age.Valid {
		v := int(age.Int64)
		tx.CustomerAge = &v
	}
	tx.UseFCD = useFCD != 0
	tx.BOTFlag = botFlag != 0
	tx.FCDFlag = fcdFlag != 0
	tx.AMLOFlag = amloFlag != 0
	if tx.AmountForeign, err = decimal.NewFromString(amountForeign); err != nil {
		return nil, fmt.Errorf("transaction %s: bad amount_foreign: %w", id, err)
	}
	if tx.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("transaction %s: bad rate: %w", id, err)
	}
	if tx.AmountLocal, err = decimal.NewFromString(amountLocal); err != nil {
		return nil, fmt.Errorf("transaction %s: bad amount_local: %w", id, err)
	}
	return &tx, nil
}

func (r *SQLRepository) SetTransactionFlags(ctx context.Context, id string, flags domain.TransactionFlags) error {
	query := `
		UPDATE exchange_transactions
		SET bot_flag = ?, fcd_flag = ?, use_fcd = ?, amlo_flag = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query),
		boolInt(flags.BOT), boolInt(flags.FCD), boolInt(flags.UseF), boolInt(flags.AMLO), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("transaction")
	}
	return nil
}

// CustomerStats aggregates completed transactions per branch in one query.
// Amounts are summed as REAL in SQL and normalized back to 2dp decimals;
// THB figures carry at most two fractional digits so the float round-trip
// is exact within the regulator's magnitudes.
func (r *SQLRepository) CustomerStats(ctx context.Context, customerID string, since, until time.Time) (*domain.CustomerStats, error) {
	query := `
		SELECT branch_id, COUNT(*), COALESCE(SUM(CAST(amount_local AS REAL)), 0)
		FROM exchange_transactions
		WHERE customer_id = ? AND status = 'completed'
		  AND created_at >= ? AND created_at < ?
		GROUP BY branch_id
		ORDER BY branch_id
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.CustomerStats{CumulativeAmountTHB: decimal.Zero}
	for rows.Next() {
		var bs domain.BranchStats
		var amount float64
		if err := rows.Scan(&bs.BranchID, &bs.Count, &amount); err != nil {
			return nil, err
		}
		bs.Amount = decimal.NewFromFloat(amount).RoundBank(2)
		stats.PerBranch = append(stats.PerBranch, bs)
		stats.TransactionCount += bs.Count
		stats.CumulativeAmountTHB = stats.CumulativeAmountTHB.Add(bs.Amount)
	}
	return stats, rows.Err()
}

// --- rates and branches ---

func (r *SQLRepository) SaveRate(ctx context.Context, rate *domain.ExchangeRate) error {
	query := `
		INSERT INTO exchange_rates (branch_id, currency, rate_date, buy, sell)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (branch_id, currency, rate_date)
		DO UPDATE SET buy = excluded.buy, sell = excluded.sell
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rate.BranchID, rate.Currency, rate.Date.Format(dateLayout),
		rate.Buy.String(), rate.Sell.String(),
	)
	return err
}

func (r *SQLRepository) GetRate(ctx context.Context, branchID, currency string, date time.Time) (*domain.ExchangeRate, error) {
	query := `
		SELECT buy, sell FROM exchange_rates
		WHERE branch_id = ? AND currency = ? AND rate_date = ?
	`
	var buy, sell string
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		branchID, currency, date.Format(dateLayout)).Scan(&buy, &sell)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("exchange rate")
	}
	if err != nil {
		return nil, err
	}

	rate := &domain.ExchangeRate{BranchID: branchID, Currency: currency, Date: date}
	if rate.Buy, err = decimal.NewFromString(buy); err != nil {
		return nil, fmt.Errorf("rate %s/%s: bad buy: %w", branchID, currency, err)
	}
	if rate.Sell, err = decimal.NewFromString(sell); err != nil {
		return nil, fmt.Errorf("rate %s/%s: bad sell: %w", branchID, currency, err)
	}
	return rate, nil
}

func (r *SQLRepository) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	query := `SELECT id, code, name FROM branches WHERE id = ?`
	var b domain.Branch
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&b.ID, &b.Code, &b.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("branch")
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *SQLRepository) SaveBranch(ctx context.Context, b *domain.Branch) error {
	query := `
		INSERT INTO branches (id, code, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET code = excluded.code, name = excluded.name
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), b.ID, b.Code, b.Name)
	return err
}

// --- reservations ---

func (r *SQLRepository) SaveReservation(ctx context.Context, res *domain.Reservation) error {
	formData, signatures, sigTimes, err := marshalReservationJSON(res)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO reserved_transactions (
			id, reservation_no, report_type, branch_id, operator_id, customer_ref,
			form_data, direction, amount, local_amount, status,
			audit_note, rejection_reason, signatures, signature_times,
			transaction_ref, created_at, audited_at, audited_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		res.ID, res.ReservationNo, res.ReportType, res.BranchID, res.OperatorID, res.CustomerRef,
		formData, res.Direction, res.Amount.String(), res.LocalAmount.String(), res.Status,
		res.AuditNote, res.RejectionReason, signatures, sigTimes,
		res.TransactionRef, res.CreatedAt, res.AuditedAt, res.AuditedBy,
	)
	return err
}

func (r *SQLRepository) UpdateReservation(ctx context.Context, res *domain.Reservation) error {
	formData, signatures, sigTimes, err := marshalReservationJSON(res)
	if err != nil {
		return err
	}
	query := `
		UPDATE reserved_transactions SET
			form_data = ?, status = ?, audit_note = ?, rejection_reason = ?,
			signatures = ?, signature_times = ?, transaction_ref = ?,
			audited_at = ?, audited_by = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		formData, res.Status, res.AuditNote, res.RejectionReason,
		signatures, sigTimes, res.TransactionRef,
		res.AuditedAt, res.AuditedBy, res.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound("reservation")
	}
	return nil
}

const reservationColumns = `
	id, reservation_no, report_type, branch_id, operator_id, customer_ref,
	form_data, direction, amount, local_amount, status,
	audit_note, rejection_reason, signatures, signature_times,
	transaction_ref, created_at, audited_at, audited_by
`

func scanReservation(row interface{ Scan(...any) error }) (*domain.Reservation, error) {
	var res domain.Reservation
	var formData string
	var amount, localAmount string
	var auditNote, rejectionReason, signatures, sigTimes, txRef, auditedBy sql.NullString
	var auditedAt sql.NullTime

	err := row.Scan(
		&res.ID, &res.ReservationNo, &res.ReportType, &res.BranchID, &res.OperatorID, &res.CustomerRef,
		&formData, &res.Direction, &amount, &localAmount, &res.Status,
		&auditNote, &rejectionReason, &signatures, &sigTimes,
		&txRef, &res.CreatedAt, &auditedAt, &auditedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(formData), &res.FormData); err != nil {
		return nil, fmt.Errorf("reservation %s: unmarshal form data: %w", res.ID, err)
	}
	if res.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("reservation %s: bad amount: %w", res.ID, err)
	}
	if res.LocalAmount, err = decimal.NewFromString(localAmount); err != nil {
		return nil, fmt.Errorf("reservation %s: bad local amount: %w", res.ID, err)
	}
	res.AuditNote = auditNote.String
	res.RejectionReason = rejectionReason.String
	res.TransactionRef = txRef.String
	res.AuditedBy = auditedBy.String
	if auditedAt.Valid {
		t := auditedAt.Time
		res.AuditedAt = &t
	}
	if signatures.Valid && signatures.String != "" {
		if err := json.Unmarshal([]byte(signatures.String), &res.Signatures); err != nil {
			return nil, fmt.Errorf("reservation %s: unmarshal signatures: %w", res.ID, err)
		}
	}
	if sigTimes.Valid && sigTimes.String != "" {
		if err := json.Unmarshal([]byte(sigTimes.String), &res.SignatureTimes); err != nil {
			return nil, fmt.Errorf("reservation %s: unmarshal signature times: %w", res.ID, err)
		}
	}
	return &res, nil
}

func (r *SQLRepository) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reserved_transactions WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (r *SQLRepository) ListReservations(ctx context.Context, f domain.ReservationFilter, page, pageSize int) (*domain.ReservationPage, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.BranchID != "" {
		where += ` AND branch_id = ?`
		args = append(args, f.BranchID)
	}
	if f.ReportType != "" {
		where += ` AND report_type = ?`
		args = append(args, f.ReportType)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.CustomerRef != "" {
		where += ` AND customer_ref = ?`
		args = append(args, f.CustomerRef)
	}

	pg := &domain.ReservationPage{Page: page, PageSize: pageSize}
	countQuery := `SELECT COUNT(*) FROM reserved_transactions` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&pg.Total); err != nil {
		return nil, err
	}

	query := `SELECT ` + reservationColumns + ` FROM reserved_transactions` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		pg.Items = append(pg.Items, res)
	}
	return pg, rows.Err()
}

func (r *SQLRepository) FindApprovedReservation(ctx context.Context, customerRef string, family domain.ReportType, since time.Time) (*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reserved_transactions
		WHERE customer_ref = ? AND report_type = ? AND status = 'approved'
		  AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1
	`
	res, err := scanReservation(r.db.QueryRowContext(ctx, r.rebind(query), customerRef, family, since))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

// --- reports ---

func (r *SQLRepository) SaveReport(ctx context.Context, rec *domain.ReportRecord) error {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	query := `
		INSERT INTO amlo_reports (
			id, report_no, reservation_id, report_type, branch_id,
			transaction_ref, content, pdf_path, is_reported, reported_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.ReportNo, rec.ReservationID, rec.ReportType, rec.BranchID,
		rec.TransactionRef, string(content), nullString(rec.PDFPath),
		boolInt(rec.IsReported), rec.ReportedAt, rec.CreatedAt,
	)
	return err
}

const reportColumns = `
	id, report_no, reservation_id, report_type, branch_id,
	transaction_ref, content, pdf_path, is_reported, reported_at, created_at
`

func scanReport(row interface{ Scan(...any) error }) (*domain.ReportRecord, error) {
	var rec domain.ReportRecord
	var reservationID, pdfPath sql.NullString
	var content string
	var isReported int
	var reportedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.ReportNo, &reservationID, &rec.ReportType, &rec.BranchID,
		&rec.TransactionRef, &content, &pdfPath, &isReported, &reportedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ReservationID = reservationID.String
	rec.PDFPath = pdfPath.String
	rec.IsReported = isReported != 0
	if reportedAt.Valid {
		t := reportedAt.Time
		rec.ReportedAt = &t
	}
	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return nil, fmt.Errorf("report %s: unmarshal content: %w", rec.ID, err)
	}
	return &rec, nil
}

func (r *SQLRepository) GetReport(ctx context.Context, id string) (*domain.ReportRecord, error) {
	query := `SELECT ` + reportColumns + ` FROM amlo_reports WHERE id = ?`
	rec, err := scanReport(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("report")
	}
	return rec, err
}

func (r *SQLRepository) ListReports(ctx context.Context, f domain.ReportFilter) ([]*domain.ReportRecord, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.BranchID != "" {
		where += ` AND branch_id = ?`
		args = append(args, f.BranchID)
	}
	if f.ReportType != "" {
		where += ` AND report_type = ?`
		args = append(args, f.ReportType)
	}
	if f.Unreported {
		where += ` AND is_reported = 0`
	}

	query := `SELECT ` + reportColumns + ` FROM amlo_reports` + where + ` ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *SQLRepository) SetReportPDF(ctx context.Context, id, path string) error {
	query := `UPDATE amlo_reports SET pdf_path = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), path, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("report")
	}
	return nil
}

func (r *SQLRepository) MarkReported(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE amlo_reports SET is_reported = 1, reported_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("report")
	}
	return nil
}

func (r *SQLRepository) SaveBOTReport(ctx context.Context, rec *domain.BOTReport) error {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	query := `
		INSERT INTO bot_reports (
			id, report_no, variant, branch_id, transaction_ref,
			content, report_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.ReportNo, rec.Variant, rec.BranchID, nullString(rec.TransactionRef),
		string(content), rec.ReportDate.Format(dateLayout), rec.CreatedAt,
	)
	return err
}

func (r *SQLRepository) ListBOTReports(ctx context.Context, variant domain.BOTVariant, date time.Time, branchID string) ([]*domain.BOTReport, error) {
	query := `
		SELECT id, report_no, variant, branch_id, transaction_ref, content, report_date, created_at
		FROM bot_reports
		WHERE variant = ? AND report_date = ?
	`
	args := []any{variant, date.Format(dateLayout)}
	if branchID != "" {
		query += ` AND branch_id = ?`
		args = append(args, branchID)
	}
	query += ` ORDER BY report_no`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.BOTReport
	for rows.Next() {
		var rec domain.BOTReport
		var txRef sql.NullString
		var content, reportDate string
		if err := rows.Scan(
			&rec.ID, &rec.ReportNo, &rec.Variant, &rec.BranchID, &txRef,
			&content, &reportDate, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.TransactionRef = txRef.String
		if rec.ReportDate, err = time.Parse(dateLayout, reportDate); err != nil {
			return nil, fmt.Errorf("BOT report %s: bad date: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
			return nil, fmt.Errorf("BOT report %s: unmarshal content: %w", rec.ID, err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// --- sequences ---

// NextSequence bumps the (branch, date, kind) counter atomically and
// returns the new value. The upsert RETURNING form holds the row lock for
// the duration of the statement on both drivers, so allocations are gapless
// under concurrency.
func (r *SQLRepository) NextSequence(ctx context.Context, branchID string, date time.Time, kind string) (int64, error) {
	query := `
		INSERT INTO sequence_counters (branch_id, seq_date, kind, next_seq)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (branch_id, seq_date, kind)
		DO UPDATE SET next_seq = sequence_counters.next_seq + 1
		RETURNING next_seq
	`
	var seq int64
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		branchID, date.Format(dateLayout), kind).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// --- helpers ---

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalReservationJSON(res *domain.Reservation) (formData, signatures, sigTimes string, err error) {
	fd, err := json.Marshal(res.FormData)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal form data: %w", err)
	}
	sig, err := json.Marshal(res.Signatures)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal signatures: %w", err)
	}
	st, err := json.Marshal(res.SignatureTimes)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal signature times: %w", err)
	}
	return string(fd), string(sig), string(st), nil
}

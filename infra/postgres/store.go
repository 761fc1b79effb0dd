// Package postgres persists payments, payment links and the append-only
// audit log in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/payrelay/payrelay/infra/conn"
	"github.com/payrelay/payrelay/provider"
	"github.com/payrelay/payrelay/reconcile"
)

// PaymentStore implements reconcile.Store on top of PostgreSQL.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore creates a new PostgreSQL payment store and ensures the
// schema exists.
func NewPaymentStore(db *conn.DB) (*PaymentStore, error) {
	store := &PaymentStore{db: db.DB}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize payment schema: %w", err)
	}
	return store, nil
}

func (s *PaymentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		gateway_order_no TEXT NOT NULL UNIQUE,
		gateway_payment_id TEXT NOT NULL DEFAULT '',
		gateway TEXT NOT NULL,
		link_id TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		pay_url TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		bank_id TEXT NOT NULL DEFAULT '',
		remitter_iban TEXT NOT NULL DEFAULT '',
		remitter_name TEXT NOT NULL DEFAULT '',
		card_last4 TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		paid_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(gateway, order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_gateway_payment_id ON payments(gateway, gateway_payment_id);
	CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(gateway, status);

	CREATE TABLE IF NOT EXISTS payment_links (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		max_payments INTEGER NOT NULL DEFAULT 1,
		used_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		gateway TEXT NOT NULL,
		payment_ref TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		old_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		raw_payload TEXT NOT NULL DEFAULT '',
		http_status INTEGER NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_payment_ref ON audit_log(payment_ref);
	CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

const paymentColumns = `id, merchant_id, order_id, gateway_order_no, gateway_payment_id, gateway,
	link_id, amount, currency, status, pay_url, customer_email, customer_name,
	payment_method, bank_id, remitter_iban, remitter_name, card_last4,
	version, created_at, updated_at, paid_at`

func scanPayment(row interface{ Scan(...any) error }) (*reconcile.Payment, error) {
	var p reconcile.Payment
	var status string
	var paidAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.OrderID, &p.GatewayOrderNo, &p.GatewayPaymentID, &p.Gateway,
		&p.LinkID, &p.Amount, &p.Currency, &status, &p.PayURL, &p.CustomerEmail, &p.CustomerName,
		&p.PaymentMethod, &p.BankID, &p.RemitterIBAN, &p.RemitterName, &p.CardLast4,
		&p.Version, &p.CreatedAt, &p.UpdatedAt, &paidAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = provider.Status(status)
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

// CreatePayment inserts a new payment record.
func (s *PaymentStore) CreatePayment(ctx context.Context, p *reconcile.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	var paidAt sql.NullTime
	if p.PaidAt != nil {
		paidAt = sql.NullTime{Time: *p.PaidAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.MerchantID, p.OrderID, p.GatewayOrderNo, p.GatewayPaymentID, p.Gateway,
		p.LinkID, p.Amount, p.Currency, string(p.Status), p.PayURL, p.CustomerEmail, p.CustomerName,
		p.PaymentMethod, p.BankID, p.RemitterIBAN, p.RemitterName, p.CardLast4,
		p.Version, p.CreatedAt, p.UpdatedAt, paidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment loads a payment by its internal ID.
func (s *PaymentStore) GetPayment(ctx context.Context, id string) (*reconcile.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	return p, nil
}

// FindByReference looks a payment up by one of the external reference fields
// a provider may echo back.
func (s *PaymentStore) FindByReference(ctx context.Context, gateway string, field reconcile.ReferenceField, value string) (*reconcile.Payment, error) {
	if value == "" {
		return nil, reconcile.ErrPaymentNotFound
	}

	var query string
	switch field {
	case reconcile.RefInternalID:
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND gateway = $2`
	case reconcile.RefOrderID:
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 AND gateway = $2`
	case reconcile.RefGatewayOrderNo:
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_order_no = $1 AND gateway = $2`
	case reconcile.RefGatewayPaymentID:
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_payment_id = $1 AND gateway = $2`
	default:
		return nil, fmt.Errorf("unknown reference field: %s", field)
	}

	p, err := scanPayment(s.db.QueryRowContext(ctx, query, value, gateway))
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment by %s: %w", field, err)
	}
	return p, nil
}

// OrderNoExists reports whether a gateway order number is already taken.
func (s *PaymentStore) OrderNoExists(ctx context.Context, orderNo string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM payments WHERE gateway_order_no = $1)`, orderNo).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check order number: %w", err)
	}
	return exists, nil
}

// ApplyTransition performs the conditional status write. The WHERE clause on
// version makes a stale writer update zero rows instead of clobbering a
// concurrent transition.
func (s *PaymentStore) ApplyTransition(ctx context.Context, id string, version int64, newStatus provider.Status, setPaidAt bool, at time.Time, enrich reconcile.Enrichment) error {
	query := `
		UPDATE payments SET
			status = $1,
			version = version + 1,
			updated_at = $2,
			paid_at = CASE WHEN $3 THEN $2 ELSE paid_at END,
			payment_method = COALESCE(NULLIF($4, ''), payment_method),
			bank_id = COALESCE(NULLIF($5, ''), bank_id),
			remitter_iban = COALESCE(NULLIF($6, ''), remitter_iban),
			remitter_name = COALESCE(NULLIF($7, ''), remitter_name),
			card_last4 = COALESCE(NULLIF($8, ''), card_last4)
		WHERE id = $9 AND version = $10
	`
	res, err := s.db.ExecContext(ctx, query,
		string(newStatus), at, setPaidAt,
		enrich.PaymentMethod, enrich.BankID, enrich.RemitterIBAN, enrich.RemitterName, enrich.CardLast4,
		id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to apply transition: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return reconcile.ErrConflict
	}
	return nil
}

// SaveEnrichment persists optional payload fields without touching status or
// version.
func (s *PaymentStore) SaveEnrichment(ctx context.Context, id string, enrich reconcile.Enrichment) error {
	if enrich.Empty() {
		return nil
	}

	query := `
		UPDATE payments SET
			payment_method = COALESCE(NULLIF($1, ''), payment_method),
			bank_id = COALESCE(NULLIF($2, ''), bank_id),
			remitter_iban = COALESCE(NULLIF($3, ''), remitter_iban),
			remitter_name = COALESCE(NULLIF($4, ''), remitter_name),
			card_last4 = COALESCE(NULLIF($5, ''), card_last4),
			updated_at = NOW()
		WHERE id = $6
	`
	_, err := s.db.ExecContext(ctx, query,
		enrich.PaymentMethod, enrich.BankID, enrich.RemitterIBAN, enrich.RemitterName, enrich.CardLast4, id)
	if err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}
	return nil
}

// ListPendingOlderThan returns PENDING payments created before the cutoff.
// An empty gateway matches all gateways.
func (s *PaymentStore) ListPendingOlderThan(ctx context.Context, gateway string, cutoff time.Time) ([]*reconcile.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1 AND created_at < $2 AND ($3 = '' OR gateway = $3)
		ORDER BY created_at`
	return s.listPayments(ctx, query, string(provider.StatusPending), cutoff, gateway)
}

// ListPending returns all PENDING payments for a gateway.
func (s *PaymentStore) ListPending(ctx context.Context, gateway string) ([]*reconcile.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = $1 AND ($2 = '' OR gateway = $2)
		ORDER BY created_at`
	return s.listPayments(ctx, query, string(provider.StatusPending), gateway)
}

func (s *PaymentStore) listPayments(ctx context.Context, query string, args ...any) ([]*reconcile.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*reconcile.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GetLink loads a payment link by ID.
func (s *PaymentStore) GetLink(ctx context.Context, id string) (*reconcile.PaymentLink, error) {
	query := `SELECT id, merchant_id, amount, currency, max_payments, used_count, status, created_at
		FROM payment_links WHERE id = $1`

	var l reconcile.PaymentLink
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.MerchantID, &l.Amount, &l.Currency, &l.MaxPayments, &l.UsedCount, &l.Status, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment link %s: %w", id, err)
	}
	return &l, nil
}

// CreateLink inserts a new payment link.
func (s *PaymentStore) CreateLink(ctx context.Context, l *reconcile.PaymentLink) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = reconcile.LinkActive
	}
	if l.MaxPayments <= 0 {
		l.MaxPayments = 1
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_links (id, merchant_id, amount, currency, max_payments, used_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.MerchantID, l.Amount, l.Currency, l.MaxPayments, l.UsedCount, l.Status, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment link: %w", err)
	}
	return nil
}

// RecountLinkUsage recomputes the link usage counter inside one transaction.
// The count is 1 (the payment that just settled) plus the number of sibling
// PAID payments with a stamped paid_at, so duplicate deliveries of the same
// settlement can never inflate it.
func (s *PaymentStore) RecountLinkUsage(ctx context.Context, linkID, excludePaymentID string) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin link recount: %w", err)
	}
	defer tx.Rollback()

	var maxPayments int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT max_payments, status FROM payment_links WHERE id = $1 FOR UPDATE`, linkID).
		Scan(&maxPayments, &status)
	if err == sql.ErrNoRows {
		return 0, false, reconcile.ErrLinkNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock payment link: %w", err)
	}

	var siblings int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments
		WHERE link_id = $1 AND id <> $2 AND status = $3 AND paid_at IS NOT NULL
	`, linkID, excludePaymentID, string(provider.StatusPaid)).Scan(&siblings)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count link payments: %w", err)
	}

	count := 1 + siblings
	completed := count >= maxPayments

	newStatus := reconcile.LinkActive
	if completed {
		newStatus = reconcile.LinkCompleted
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payment_links SET used_count = $1, status = $2 WHERE id = $3`,
		count, newStatus, linkID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update payment link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit link recount: %w", err)
	}
	return count, completed, nil
}

// InsertAudit appends an audit entry. Entries are never updated or deleted.
func (s *PaymentStore) InsertAudit(ctx context.Context, entry *reconcile.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_log (id, gateway, payment_ref, kind, old_status, new_status, note, raw_payload, http_status, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Gateway, entry.PaymentRef, string(entry.Kind),
		string(entry.OldStatus), string(entry.NewStatus), entry.Note, entry.RawPayload,
		entry.HTTPStatus, entry.LatencyMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries for a payment reference.
func (s *PaymentStore) ListAudit(ctx context.Context, paymentRef string, limit int) ([]*reconcile.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, gateway, payment_ref, kind, old_status, new_status, note, raw_payload, http_status, latency_ms, created_at
		FROM audit_log WHERE payment_ref = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, paymentRef, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*reconcile.AuditEntry
	for rows.Next() {
		var e reconcile.AuditEntry
		var kind, oldStatus, newStatus string
		err := rows.Scan(&e.ID, &e.Gateway, &e.PaymentRef, &kind, &oldStatus, &newStatus,
			&e.Note, &e.RawPayload, &e.HTTPStatus, &e.LatencyMs, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Kind = reconcile.AuditKind(kind)
		e.OldStatus = provider.Status(oldStatus)
		e.NewStatus = provider.Status(newStatus)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

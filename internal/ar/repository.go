package ar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Repository manages invoice rows for one organization.
type Repository interface {
	Create(ctx context.Context, inv Invoice) (Invoice, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, filters shared.ListFilters, status InvoiceStatus) ([]Invoice, int, error)
	MarkPosted(ctx context.Context, id, entryID int64) error
	MarkVoid(ctx context.Context, id int64) error
	ApplyPayment(ctx context.Context, p Payment) (Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	Aging(ctx context.Context, asOf time.Time) (AgingBucket, error)
	ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error)
}

// RepositoryFactory builds org-scoped repositories.
type RepositoryFactory struct {
	pool *pgxpool.Pool
}

func NewRepositoryFactory(pool *pgxpool.Pool) *RepositoryFactory {
	return &RepositoryFactory{pool: pool}
}

func (f *RepositoryFactory) ForOrg(orgID int64) Repository {
	return &repository{pool: f.pool, orgID: orgID}
}

type repository struct {
	pool  *pgxpool.Pool
	orgID int64
}

const invoiceColumns = `id, number, contact_id, issue_date, due_date, status, subtotal, tax_amount, total, paid_amount, source_id, posted_entry_id, created_by, created_at, updated_at`

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Create inserts the invoice header and its lines in one transaction. The
// invoice number is derived from the highest existing number for the
// organization; the unique (organization_id, number) index backstops races.
func (r *repository) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(SUBSTRING(number FROM 5)::bigint),0)+1 FROM invoices WHERE organization_id=$1`,
		r.orgID).Scan(&seq); err != nil {
		return Invoice{}, err
	}
	inv.Number = fmt.Sprintf("INV-%05d", seq)

	err = tx.QueryRow(ctx, `INSERT INTO invoices
(organization_id, number, contact_id, issue_date, due_date, status, subtotal, tax_amount, total, paid_amount, source_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11)
RETURNING id, created_at, updated_at`,
		r.orgID, inv.Number, inv.ContactID, inv.IssueDate, inv.DueDate, inv.Status,
		toNumeric(inv.Subtotal), toNumeric(inv.TaxAmount), toNumeric(inv.Total),
		inv.SourceID, inv.CreatedBy).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return Invoice{}, err
	}

	for i := range inv.Lines {
		line := &inv.Lines[i]
		line.InvoiceID = inv.ID
		err = tx.QueryRow(ctx, `INSERT INTO invoice_lines
(invoice_id, description, quantity, unit_price, account_id, tax_rate_id, tax_amount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			inv.ID, line.Description, line.Quantity, toNumeric(line.UnitPrice),
			line.AccountID, line.TaxRateID, toNumeric(line.TaxAmount), toNumeric(line.LineTotal)).
			Scan(&line.ID)
		if err != nil {
			return Invoice{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 AND organization_id=$2`, id, r.orgID).
		Scan(&inv.ID, &inv.Number, &inv.ContactID, &inv.IssueDate, &inv.DueDate, &inv.Status,
			&inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PaidAmount, &inv.SourceID,
			&inv.PostedEntryID, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, description, quantity, unit_price, account_id, tax_rate_id, tax_amount, line_total
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.Description, &line.Quantity,
			&line.UnitPrice, &line.AccountID, &line.TaxRateID, &line.TaxAmount, &line.LineTotal); err != nil {
			return Invoice{}, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	return inv, rows.Err()
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters, status InvoiceStatus) ([]Invoice, int, error) {
	where := `WHERE organization_id=$1`
	args := []any{r.orgID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices `+where+
		fmt.Sprintf(` ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.ContactID, &inv.IssueDate, &inv.DueDate, &inv.Status,
			&inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PaidAmount, &inv.SourceID,
			&inv.PostedEntryID, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

func (r *repository) MarkPosted(ctx context.Context, id, entryID int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE invoices SET status=$3, posted_entry_id=$4, updated_at=NOW()
WHERE id=$1 AND organization_id=$2 AND status=$5`, id, r.orgID, StatusPosted, entryID, StatusDraft)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidStatus
	}
	return nil
}

func (r *repository) MarkVoid(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE invoices SET status=$3, updated_at=NOW()
WHERE id=$1 AND organization_id=$2 AND status IN ($4,$5)`, id, r.orgID, StatusVoid, StatusDraft, StatusPosted)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidStatus
	}
	return nil
}

// ApplyPayment records the payment row and bumps paid_amount in one
// transaction. The increment and the PAID flip happen inside the UPDATE so
// concurrent payments never clobber each other, the status guard only
// matches POSTED invoices, and the balance guard keeps paid_amount from
// exceeding the invoice total.
func (r *repository) ApplyPayment(ctx context.Context, p Payment) (Invoice, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmd, err := tx.Exec(ctx, `UPDATE invoices
SET paid_amount = paid_amount + $3,
    status = CASE WHEN paid_amount + $3 >= total THEN $4::text ELSE status END,
    updated_at = NOW()
WHERE id=$1 AND organization_id=$2 AND status=$5 AND paid_amount + $3 <= total + 0.005`,
		p.InvoiceID, r.orgID, toNumeric(p.Amount), StatusPaid, StatusPosted)
	if err != nil {
		return Invoice{}, err
	}
	if cmd.RowsAffected() == 0 {
		existing, err := r.Get(ctx, p.InvoiceID)
		if err != nil {
			return Invoice{}, err
		}
		if existing.Status != StatusPosted {
			return Invoice{}, ErrInvalidStatus
		}
		return Invoice{}, ErrPaymentExceedsBalance
	}

	_, err = tx.Exec(ctx, `INSERT INTO payments (organization_id, invoice_id, amount, paid_at, method, note, entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.orgID, p.InvoiceID, toNumeric(p.Amount), p.PaidAt, p.Method, p.Note, p.EntryID)
	if err != nil {
		return Invoice{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Invoice{}, err
	}
	return r.Get(ctx, p.InvoiceID)
}

func (r *repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.invoice_id, p.amount, p.paid_at, p.method, p.note, p.entry_id, p.created_at
FROM payments p JOIN invoices i ON i.id = p.invoice_id
WHERE p.invoice_id=$1 AND i.organization_id=$2 ORDER BY p.paid_at, p.id`, invoiceID, r.orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidAt, &p.Method, &p.Note, &p.EntryID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Aging buckets outstanding balances by days past due as of the given date.
func (r *repository) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	var b AgingBucket
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(CASE WHEN due_date >= $2::date THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date AND due_date >= $2::date - 30 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 30 AND due_date >= $2::date - 60 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 60 AND due_date >= $2::date - 90 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 90 THEN total - paid_amount ELSE 0 END),0)
FROM invoices WHERE organization_id=$1 AND status=$3`, r.orgID, asOf, StatusPosted).
		Scan(&b.Current, &b.Bucket30, &b.Bucket60, &b.Bucket90, &b.Bucket120)
	if err != nil {
		return AgingBucket{}, err
	}
	return b, nil
}

func (r *repository) ListOverdue(ctx context.Context, asOf time.Time) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE organization_id=$1 AND status=$2 AND due_date < $3::date ORDER BY due_date`, r.orgID, StatusPosted, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.ContactID, &inv.IssueDate, &inv.DueDate, &inv.Status,
			&inv.Subtotal, &inv.TaxAmount, &inv.Total, &inv.PaidAmount, &inv.SourceID,
			&inv.PostedEntryID, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

package ap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Repository manages bill rows for one organization.
type Repository interface {
	Create(ctx context.Context, bill Bill) (Bill, error)
	Get(ctx context.Context, id int64) (Bill, error)
	List(ctx context.Context, filters shared.ListFilters, status BillStatus) ([]Bill, int, error)
	MarkPosted(ctx context.Context, id, entryID int64) error
	MarkVoid(ctx context.Context, id int64) error
	ApplyPayment(ctx context.Context, p BillPayment) (Bill, error)
	ListPayments(ctx context.Context, billID int64) ([]BillPayment, error)
	Aging(ctx context.Context, asOf time.Time) (AgingBucket, error)
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

const billColumns = `id, number, contact_id, vendor_ref, issue_date, due_date, status, subtotal, tax_amount, total, paid_amount, source_id, posted_entry_id, created_by, created_at, updated_at`

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func (r *repository) Create(ctx context.Context, bill Bill) (Bill, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Bill{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(SUBSTRING(number FROM 6)::bigint),0)+1 FROM bills WHERE organization_id=$1`,
		r.orgID).Scan(&seq); err != nil {
		return Bill{}, err
	}
	bill.Number = fmt.Sprintf("BILL-%05d", seq)

	err = tx.QueryRow(ctx, `INSERT INTO bills
(organization_id, number, contact_id, vendor_ref, issue_date, due_date, status, subtotal, tax_amount, total, paid_amount, source_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12)
RETURNING id, created_at, updated_at`,
		r.orgID, bill.Number, bill.ContactID, bill.VendorRef, bill.IssueDate, bill.DueDate, bill.Status,
		toNumeric(bill.Subtotal), toNumeric(bill.TaxAmount), toNumeric(bill.Total),
		bill.SourceID, bill.CreatedBy).
		Scan(&bill.ID, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Bill{}, ErrDuplicateVendorRef
		}
		return Bill{}, err
	}

	for i := range bill.Lines {
		line := &bill.Lines[i]
		line.BillID = bill.ID
		err = tx.QueryRow(ctx, `INSERT INTO bill_lines
(bill_id, description, quantity, unit_price, account_id, tax_rate_id, tax_amount, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			bill.ID, line.Description, line.Quantity, toNumeric(line.UnitPrice),
			line.AccountID, line.TaxRateID, toNumeric(line.TaxAmount), toNumeric(line.LineTotal)).
			Scan(&line.ID)
		if err != nil {
			return Bill{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Bill{}, err
	}
	return bill, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Bill, error) {
	var bill Bill
	err := r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id=$1 AND organization_id=$2`, id, r.orgID).
		Scan(&bill.ID, &bill.Number, &bill.ContactID, &bill.VendorRef, &bill.IssueDate, &bill.DueDate, &bill.Status,
			&bill.Subtotal, &bill.TaxAmount, &bill.Total, &bill.PaidAmount, &bill.SourceID,
			&bill.PostedEntryID, &bill.CreatedBy, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, bill_id, description, quantity, unit_price, account_id, tax_rate_id, tax_amount, line_total
FROM bill_lines WHERE bill_id=$1 ORDER BY id`, id)
	if err != nil {
		return Bill{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.Description, &line.Quantity,
			&line.UnitPrice, &line.AccountID, &line.TaxRateID, &line.TaxAmount, &line.LineTotal); err != nil {
			return Bill{}, err
		}
		bill.Lines = append(bill.Lines, line)
	}
	return bill, rows.Err()
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters, status BillStatus) ([]Bill, int, error) {
	where := `WHERE organization_id=$1`
	args := []any{r.orgID}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bills `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filters.Limit, filters.Offset())
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM bills `+where+
		fmt.Sprintf(` ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		var bill Bill
		if err := rows.Scan(&bill.ID, &bill.Number, &bill.ContactID, &bill.VendorRef, &bill.IssueDate, &bill.DueDate, &bill.Status,
			&bill.Subtotal, &bill.TaxAmount, &bill.Total, &bill.PaidAmount, &bill.SourceID,
			&bill.PostedEntryID, &bill.CreatedBy, &bill.CreatedAt, &bill.UpdatedAt); err != nil {
			return nil, 0, err
		}
		bills = append(bills, bill)
	}
	return bills, total, rows.Err()
}

func (r *repository) MarkPosted(ctx context.Context, id, entryID int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE bills SET status=$3, posted_entry_id=$4, updated_at=NOW()
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
	cmd, err := r.pool.Exec(ctx, `UPDATE bills SET status=$3, updated_at=NOW()
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

// ApplyPayment mirrors the receivables flow: the increment and the PAID
// flip happen inside one UPDATE so concurrent payments compose.
func (r *repository) ApplyPayment(ctx context.Context, p BillPayment) (Bill, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Bill{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmd, err := tx.Exec(ctx, `UPDATE bills
SET paid_amount = paid_amount + $3,
    status = CASE WHEN paid_amount + $3 >= total THEN $4::text ELSE status END,
    updated_at = NOW()
WHERE id=$1 AND organization_id=$2 AND status=$5 AND paid_amount + $3 <= total + 0.005`,
		p.BillID, r.orgID, toNumeric(p.Amount), StatusPaid, StatusPosted)
	if err != nil {
		return Bill{}, err
	}
	if cmd.RowsAffected() == 0 {
		existing, err := r.Get(ctx, p.BillID)
		if err != nil {
			return Bill{}, err
		}
		if existing.Status != StatusPosted {
			return Bill{}, ErrInvalidStatus
		}
		return Bill{}, ErrPaymentExceedsBalance
	}

	_, err = tx.Exec(ctx, `INSERT INTO bill_payments (organization_id, bill_id, amount, paid_at, method, note, entry_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.orgID, p.BillID, toNumeric(p.Amount), p.PaidAt, p.Method, p.Note, p.EntryID)
	if err != nil {
		return Bill{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bill{}, err
	}
	return r.Get(ctx, p.BillID)
}

func (r *repository) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.bill_id, p.amount, p.paid_at, p.method, p.note, p.entry_id, p.created_at
FROM bill_payments p JOIN bills b ON b.id = p.bill_id
WHERE p.bill_id=$1 AND b.organization_id=$2 ORDER BY p.paid_at, p.id`, billID, r.orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []BillPayment
	for rows.Next() {
		var p BillPayment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.PaidAt, &p.Method, &p.Note, &p.EntryID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repository) Aging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	var b AgingBucket
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(CASE WHEN due_date >= $2::date THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date AND due_date >= $2::date - 30 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 30 AND due_date >= $2::date - 60 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 60 AND due_date >= $2::date - 90 THEN total - paid_amount ELSE 0 END),0),
COALESCE(SUM(CASE WHEN due_date < $2::date - 90 THEN total - paid_amount ELSE 0 END),0)
FROM bills WHERE organization_id=$1 AND status=$3`, r.orgID, asOf, StatusPosted).
		Scan(&b.Current, &b.Bucket30, &b.Bucket60, &b.Bucket90, &b.Bucket120)
	if err != nil {
		return AgingBucket{}, err
	}
	return b, nil
}

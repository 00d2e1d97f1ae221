package contacts

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Repository manages contact rows for one organization.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Contact, int, error)
	Get(ctx context.Context, id int64) (Contact, error)
	Create(ctx context.Context, in CreateInput) (Contact, error)
	Update(ctx context.Context, id int64, in CreateInput) error
	Deactivate(ctx context.Context, id int64) error
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

const contactColumns = `id, kind, name, email, phone, address, tax_number, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Contact, int, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE organization_id=$1`
	countQuery := `SELECT COUNT(*) FROM contacts WHERE organization_id=$1`
	args := []any{r.orgID}
	countArgs := []any{r.orgID}
	if filters.Search != "" {
		query += ` AND name ILIKE $2`
		countQuery += ` AND name ILIKE $2`
		args = append(args, "%"+filters.Search+"%")
		countArgs = append(countArgs, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filters.Limit, filters.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Kind, &c.Name, &c.Email, &c.Phone, &c.Address, &c.TaxNumber, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, c)
	}
	return contacts, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=$1 AND organization_id=$2`, id, r.orgID).
		Scan(&c.ID, &c.Kind, &c.Name, &c.Email, &c.Phone, &c.Address, &c.TaxNumber, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (r *repository) Create(ctx context.Context, in CreateInput) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `INSERT INTO contacts (organization_id, kind, name, email, phone, address, tax_number, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE) RETURNING `+contactColumns, r.orgID, in.Kind, in.Name, in.Email, in.Phone, in.Address, in.TaxNumber).
		Scan(&c.ID, &c.Kind, &c.Name, &c.Email, &c.Phone, &c.Address, &c.TaxNumber, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

func (r *repository) Update(ctx context.Context, id int64, in CreateInput) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE contacts SET kind=$3, name=$4, email=$5, phone=$6, address=$7, tax_number=$8, updated_at=NOW()
WHERE id=$1 AND organization_id=$2`, id, r.orgID, in.Kind, in.Name, in.Email, in.Phone, in.Address, in.TaxNumber)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE contacts SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND organization_id=$2`, id, r.orgID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

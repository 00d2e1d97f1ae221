package taxes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Repository manages tax rate rows for one organization.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]TaxRate, int, error)
	Get(ctx context.Context, id int64) (TaxRate, error)
	Create(ctx context.Context, in CreateInput) (TaxRate, error)
	Update(ctx context.Context, id int64, in CreateInput) error
	Delete(ctx context.Context, id int64) error
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

const taxColumns = `id, name, rate, applies_to, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]TaxRate, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tax_rates WHERE organization_id=$1`, r.orgID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+taxColumns+` FROM tax_rates WHERE organization_id=$1 ORDER BY name LIMIT $2 OFFSET $3`,
		r.orgID, filters.Limit, filters.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var rates []TaxRate
	for rows.Next() {
		var t TaxRate
		if err := rows.Scan(&t.ID, &t.Name, &t.Rate, &t.AppliesTo, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, err
		}
		rates = append(rates, t)
	}
	return rates, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (TaxRate, error) {
	var t TaxRate
	err := r.pool.QueryRow(ctx, `SELECT `+taxColumns+` FROM tax_rates WHERE id=$1 AND organization_id=$2`, id, r.orgID).
		Scan(&t.ID, &t.Name, &t.Rate, &t.AppliesTo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxRate{}, ErrNotFound
		}
		return TaxRate{}, err
	}
	return t, nil
}

func (r *repository) Create(ctx context.Context, in CreateInput) (TaxRate, error) {
	var t TaxRate
	err := r.pool.QueryRow(ctx, `INSERT INTO tax_rates (organization_id, name, rate, applies_to)
VALUES ($1,$2,$3,$4) RETURNING `+taxColumns, r.orgID, in.Name, in.Rate, in.AppliesTo).
		Scan(&t.ID, &t.Name, &t.Rate, &t.AppliesTo, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return TaxRate{}, err
	}
	return t, nil
}

func (r *repository) Update(ctx context.Context, id int64, in CreateInput) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tax_rates SET name=$3, rate=$4, applies_to=$5, updated_at=NOW()
WHERE id=$1 AND organization_id=$2`, id, r.orgID, in.Name, in.Rate, in.AppliesTo)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tax_rates WHERE id=$1 AND organization_id=$2`, id, r.orgID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

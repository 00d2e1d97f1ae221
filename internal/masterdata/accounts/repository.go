package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// Repository manages chart-of-accounts rows for one organization.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Account, int, error)
	Get(ctx context.Context, id int64) (Account, error)
	Create(ctx context.Context, in CreateInput) (Account, error)
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

const accountColumns = `id, code, name, type, parent_id, balance, is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Account, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE organization_id=$1`, r.orgID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE organization_id=$1 ORDER BY code LIMIT $2 OFFSET $3`,
		r.orgID, filters.Limit, filters.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 AND organization_id=$2`, id, r.orgID).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *repository) Create(ctx context.Context, in CreateInput) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (organization_id, code, name, type, parent_id, balance, is_active)
VALUES ($1,$2,$3,$4,$5,0,TRUE) RETURNING `+accountColumns, r.orgID, in.Code, in.Name, in.Type, in.ParentID).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, mapPgError(err)
	}
	return a, nil
}

func (r *repository) Update(ctx context.Context, id int64, in CreateInput) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET code=$3, name=$4, type=$5, parent_id=$6, updated_at=NOW()
WHERE id=$1 AND organization_id=$2`, id, r.orgID, in.Code, in.Name, in.Type, in.ParentID)
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes the account so historical postings keep resolving.
func (r *repository) Deactivate(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active=FALSE, updated_at=NOW() WHERE id=$1 AND organization_id=$2`, id, r.orgID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateCode
		case "23503":
			return ErrUnknownParent
		}
	}
	return err
}

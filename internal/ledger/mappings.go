package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mappings resolves module/key pairs to ledger account ids, e.g. the AR
// control account or the tax output account for an organization.
type Mappings interface {
	Resolve(ctx context.Context, orgID int64, module, key string) (int64, error)
}

type mappings struct {
	pool *pgxpool.Pool
}

// NewMappings returns the PostgreSQL-backed mapping resolver.
func NewMappings(pool *pgxpool.Pool) Mappings {
	return &mappings{pool: pool}
}

// Resolve looks up the account mapped for the module/key pair.
func (m *mappings) Resolve(ctx context.Context, orgID int64, module, key string) (int64, error) {
	if module == "" || key == "" {
		return 0, errors.New("ledger: mapping module and key required")
	}
	var accountID int64
	err := m.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE organization_id=$1 AND module=$2 AND key=$3`,
		orgID, strings.ToUpper(module), strings.ToUpper(key)).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMappingNotFound
		}
		return 0, err
	}
	return accountID, nil
}

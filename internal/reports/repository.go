package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/ledger"
)

// TrialBalanceRow aggregates posted debits and credits for one account.
type TrialBalanceRow struct {
	AccountID int64              `json:"account_id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Type      ledger.AccountType `json:"type"`
	Debit     float64            `json:"debit"`
	Credit    float64            `json:"credit"`
}

// TrialBalance lists per-account totals plus the grand totals, which are
// equal whenever every entry satisfied the balance invariant.
type TrialBalance struct {
	AsOf        time.Time         `json:"as_of"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  float64           `json:"total_debit"`
	TotalCredit float64           `json:"total_credit"`
}

// ProfitAndLoss summarises revenue and expense activity over a period.
type ProfitAndLoss struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Revenue   float64   `json:"revenue"`
	Expenses  float64   `json:"expenses"`
	NetIncome float64   `json:"net_income"`
}

// Repository runs the report aggregation queries.
type Repository interface {
	TrialBalance(ctx context.Context, orgID int64, asOf time.Time) (TrialBalance, error)
	ProfitAndLoss(ctx context.Context, orgID int64, from, to time.Time) (ProfitAndLoss, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL-backed report repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// TrialBalance sums journal lines per account. Reversed entries stay in the
// journal alongside their negation entries, so no status filter is needed;
// the pairs cancel out in the sums.
func (r *repository) TrialBalance(ctx context.Context, orgID int64, asOf time.Time) (TrialBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type,
COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM accounts a
LEFT JOIN (
    SELECT jl.account_id, jl.debit, jl.credit
    FROM journal_lines jl
    JOIN journal_entries je ON je.id = jl.entry_id
    WHERE je.organization_id = $1 AND je.entry_date <= $2::date
) l ON l.account_id = a.id
WHERE a.organization_id = $1
GROUP BY a.id, a.code, a.name, a.type
HAVING COALESCE(SUM(l.debit),0) <> 0 OR COALESCE(SUM(l.credit),0) <> 0
ORDER BY a.code`, orgID, asOf)
	if err != nil {
		return TrialBalance{}, err
	}
	defer rows.Close()

	tb := TrialBalance{AsOf: asOf}
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.Code, &row.Name, &row.Type, &row.Debit, &row.Credit); err != nil {
			return TrialBalance{}, err
		}
		tb.TotalDebit += row.Debit
		tb.TotalCredit += row.Credit
		tb.Rows = append(tb.Rows, row)
	}
	return tb, rows.Err()
}

func (r *repository) ProfitAndLoss(ctx context.Context, orgID int64, from, to time.Time) (ProfitAndLoss, error) {
	pl := ProfitAndLoss{From: from, To: to}
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(CASE WHEN a.type = $4 THEN l.credit - l.debit ELSE 0 END),0),
COALESCE(SUM(CASE WHEN a.type = $5 THEN l.debit - l.credit ELSE 0 END),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.organization_id = $1 AND e.entry_date >= $2::date AND e.entry_date <= $3::date`,
		orgID, from, to, ledger.AccountTypeRevenue, ledger.AccountTypeExpense).
		Scan(&pl.Revenue, &pl.Expenses)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	pl.NetIncome = pl.Revenue - pl.Expenses
	return pl, nil
}

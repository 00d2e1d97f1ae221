package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearbooks/clearbooks/internal/platform/db"
)

// Repository encapsulates journal storage for one organization. The org id
// is fixed at construction so no query can omit the tenant filter.
type Repository interface {
	GetEntry(ctx context.Context, entryID int64) (JournalEntry, error)
	FindEntryBySource(ctx context.Context, module string, ref uuid.UUID) (JournalEntry, error)
	ListEntries(ctx context.Context, limit, offset int) ([]JournalEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the write operations available within a posting transaction.
type TxRepository interface {
	GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	InsertEntry(ctx context.Context, in PostingInput) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error)
	AdjustBalance(ctx context.Context, accountID int64, delta float64) error
	LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error
	GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error)
	UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error
}

// RepositoryFactory builds org-scoped repositories over a shared pool.
type RepositoryFactory struct {
	pool *pgxpool.Pool
}

// NewRepositoryFactory returns a factory bound to the pool.
func NewRepositoryFactory(pool *pgxpool.Pool) *RepositoryFactory {
	return &RepositoryFactory{pool: pool}
}

// ForOrg returns a Repository scoped to the organization.
func (f *RepositoryFactory) ForOrg(orgID int64) Repository {
	return &repository{pool: f.pool, orgID: orgID}
}

type repository struct {
	pool  *pgxpool.Pool
	orgID int64
}

const entryColumns = `id, number, entry_date, description, reference, source_module, source_id, total, status, created_by, posted_at, created_at, updated_at`

func (r *repository) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 AND organization_id=$2`, entryID, r.orgID))
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := queryLines(ctx, r.pool, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines = lines
	return entry, nil
}

// FindEntryBySource resolves the journal entry a document posting already
// created, used to finish a document status flip after a partial failure.
func (r *repository) FindEntryBySource(ctx context.Context, module string, ref uuid.UUID) (JournalEntry, error) {
	var entryID int64
	err := r.pool.QueryRow(ctx, `SELECT entry_id FROM source_links WHERE organization_id=$1 AND module=$2 AND source_id=$3`,
		r.orgID, module, ref).Scan(&entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	return r.GetEntry(ctx, entryID)
}

func (r *repository) ListEntries(ctx context.Context, limit, offset int) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE organization_id=$1 ORDER BY number DESC LIMIT $2 OFFSET $3`, r.orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, orgID: r.orgID})
	})
}

type txRepository struct {
	tx    pgx.Tx
	orgID int64
}

func (r *txRepository) GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, code, name, type, parent_id, balance, is_active, created_at, updated_at
FROM accounts WHERE organization_id=$1 AND id = ANY($2)`, r.orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[int64]Account, len(ids))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts[a.ID] = a
	}
	return accounts, rows.Err()
}

// InsertEntry allocates the entry number from the per-organization counter.
// The counter UPDATE serializes concurrent allocations on the organization
// row, so two postings never read the same number; a rolled-back transaction
// releases its number along with everything else.
func (r *txRepository) InsertEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	var number int64
	if err := r.tx.QueryRow(ctx, `UPDATE organizations SET last_entry_number = last_entry_number + 1 WHERE id=$1 RETURNING last_entry_number`,
		r.orgID).Scan(&number); err != nil {
		return JournalEntry{}, err
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (organization_id, number, entry_date, description, reference, source_module, source_id, total, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'POSTED', $9)
RETURNING id, number, posted_at, created_at, updated_at`,
		r.orgID, number, in.Date, in.Description, nullString(in.Reference), nullString(in.SourceModule), nullUUID(in.SourceID), toNumeric(in.Total()), nullInt(in.CreatedBy))
	entry := JournalEntry{
		Date:         in.Date,
		Description:  in.Description,
		Reference:    in.Reference,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Total:        in.Total(),
		Status:       EntryStatusPosted,
		CreatedBy:    in.CreatedBy,
	}
	if err := row.Scan(&entry.ID, &entry.Number, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		var inserted JournalLine
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, description, contact_id)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
			entryID, line.AccountID, toNumeric(line.Debit), toNumeric(line.Credit), nullString(line.Description), line.ContactID).
			Scan(&inserted.ID, &inserted.CreatedAt)
		if err != nil {
			return nil, err
		}
		inserted.EntryID = entryID
		inserted.AccountID = line.AccountID
		inserted.Debit = line.Debit
		inserted.Credit = line.Credit
		inserted.Description = line.Description
		inserted.ContactID = line.ContactID
		out = append(out, inserted)
	}
	return out, nil
}

// AdjustBalance applies the delta as a single atomic increment so concurrent
// postings against the same account never lose an update.
func (r *txRepository) AdjustBalance(ctx context.Context, accountID int64, delta float64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $3, updated_at = NOW() WHERE id=$1 AND organization_id=$2`,
		accountID, r.orgID, toNumeric(delta))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUnknownAccount
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (organization_id, module, source_id, entry_id) VALUES ($1,$2,$3,$4)`, r.orgID, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSourceAlreadyLinked
		}
		return err
	}
	return nil
}

func (r *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 AND organization_id=$2 FOR UPDATE`, entryID, r.orgID))
	if err != nil {
		return JournalEntry{}, nil, err
	}
	lines, err := queryLines(ctx, r.tx, entryID)
	if err != nil {
		return JournalEntry{}, nil, err
	}
	return entry, lines, nil
}

func (r *txRepository) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$3, updated_at=NOW() WHERE id=$1 AND organization_id=$2`, entryID, r.orgID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (JournalEntry, error) {
	var entry JournalEntry
	var reference, sourceModule *string
	var sourceID *uuid.UUID
	var createdBy *int64
	err := row.Scan(&entry.ID, &entry.Number, &entry.Date, &entry.Description, &reference, &sourceModule, &sourceID, &entry.Total, &entry.Status, &createdBy, &entry.PostedAt, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrEntryNotFound
		}
		return JournalEntry{}, err
	}
	if reference != nil {
		entry.Reference = *reference
	}
	if sourceModule != nil {
		entry.SourceModule = *sourceModule
	}
	if sourceID != nil {
		entry.SourceID = *sourceID
	}
	if createdBy != nil {
		entry.CreatedBy = *createdBy
	}
	return entry, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, description, contact_id, created_at
FROM journal_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var line JournalLine
		var description *string
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Debit, &line.Credit, &description, &line.ContactID, &line.CreatedAt); err != nil {
			return nil, err
		}
		if description != nil {
			line.Description = *description
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Helpers

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}

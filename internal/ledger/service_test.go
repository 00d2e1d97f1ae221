package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memoryLedger is a transactional in-memory store. WithTx runs the callback
// against a staged copy of the state and swaps it in only on success, so the
// atomicity guarantees of the real repository hold in tests too.
type memoryLedger struct {
	mu       sync.Mutex
	accounts map[int64]map[int64]*Account // org -> account id -> account
	entries  map[int64]map[int64]*JournalEntry
	lines    map[int64][]JournalLine
	links    map[string]int64
	counters map[int64]int64
	nextID   int64
	failOn   map[string]error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		accounts: make(map[int64]map[int64]*Account),
		entries:  make(map[int64]map[int64]*JournalEntry),
		lines:    make(map[int64][]JournalLine),
		links:    make(map[string]int64),
		counters: make(map[int64]int64),
		failOn:   make(map[string]error),
	}
}

func (m *memoryLedger) addAccount(orgID int64, a Account) {
	if m.accounts[orgID] == nil {
		m.accounts[orgID] = make(map[int64]*Account)
	}
	copied := a
	m.accounts[orgID][a.ID] = &copied
}

func (m *memoryLedger) balance(orgID, accountID int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[orgID][accountID].Balance
}

func (m *memoryLedger) entryCount(orgID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries[orgID])
}

func (m *memoryLedger) clone() *memoryLedger {
	copied := newMemoryLedger()
	copied.nextID = m.nextID
	for org, accounts := range m.accounts {
		for _, a := range accounts {
			copied.addAccount(org, *a)
		}
	}
	for org, entries := range m.entries {
		copied.entries[org] = make(map[int64]*JournalEntry)
		for id, e := range entries {
			dup := *e
			copied.entries[org][id] = &dup
		}
	}
	for id, lines := range m.lines {
		copied.lines[id] = append([]JournalLine(nil), lines...)
	}
	for k, v := range m.links {
		copied.links[k] = v
	}
	for org, n := range m.counters {
		copied.counters[org] = n
	}
	return copied
}

func (m *memoryLedger) ForOrg(orgID int64) Repository {
	return &memoryRepo{store: m, orgID: orgID}
}

type memoryRepo struct {
	store *memoryLedger
	orgID int64
}

func (r *memoryRepo) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.entries[r.orgID][entryID]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	out := *entry
	out.Lines = append([]JournalLine(nil), r.store.lines[entryID]...)
	return out, nil
}

func (r *memoryRepo) FindEntryBySource(ctx context.Context, module string, ref uuid.UUID) (JournalEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := fmt.Sprintf("%d:%s:%s", r.orgID, module, ref)
	id, ok := r.store.links[key]
	if !ok {
		return JournalEntry{}, ErrEntryNotFound
	}
	out := *r.store.entries[r.orgID][id]
	out.Lines = append([]JournalLine(nil), r.store.lines[id]...)
	return out, nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, limit, offset int) ([]JournalEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []JournalEntry
	for _, entry := range r.store.entries[r.orgID] {
		out = append(out, *entry)
	}
	return out, nil
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	staged := r.store.clone()
	staged.failOn = r.store.failOn
	if err := fn(ctx, &memoryTx{store: staged, orgID: r.orgID}); err != nil {
		return err
	}
	staged.failOn = nil
	r.store.accounts = staged.accounts
	r.store.entries = staged.entries
	r.store.lines = staged.lines
	r.store.links = staged.links
	r.store.counters = staged.counters
	r.store.nextID = staged.nextID
	return nil
}

type memoryTx struct {
	store *memoryLedger
	orgID int64
}

func (tx *memoryTx) fail(op string) error {
	if err, ok := tx.store.failOn[op]; ok {
		delete(tx.store.failOn, op)
		return err
	}
	return nil
}

func (tx *memoryTx) GetAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account, len(ids))
	for _, id := range ids {
		if a, ok := tx.store.accounts[tx.orgID][id]; ok {
			out[id] = *a
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, in PostingInput) (JournalEntry, error) {
	if err := tx.fail("InsertEntry"); err != nil {
		return JournalEntry{}, err
	}
	if tx.store.entries[tx.orgID] == nil {
		tx.store.entries[tx.orgID] = make(map[int64]*JournalEntry)
	}
	tx.store.nextID++
	tx.store.counters[tx.orgID]++
	now := time.Now()
	entry := JournalEntry{
		ID:           tx.store.nextID,
		Number:       tx.store.counters[tx.orgID],
		Date:         in.Date,
		Description:  in.Description,
		Reference:    in.Reference,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Total:        in.Total(),
		Status:       EntryStatusPosted,
		CreatedBy:    in.CreatedBy,
		PostedAt:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stored := entry
	tx.store.entries[tx.orgID][entry.ID] = &stored
	return entry, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]JournalLine, error) {
	if err := tx.fail("InsertLines"); err != nil {
		return nil, err
	}
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		tx.store.nextID++
		stored := JournalLine{
			ID:          tx.store.nextID,
			EntryID:     entryID,
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
			ContactID:   line.ContactID,
			CreatedAt:   time.Now(),
		}
		tx.store.lines[entryID] = append(tx.store.lines[entryID], stored)
		out = append(out, stored)
	}
	return out, nil
}

func (tx *memoryTx) AdjustBalance(ctx context.Context, accountID int64, delta float64) error {
	if err := tx.fail("AdjustBalance"); err != nil {
		return err
	}
	account, ok := tx.store.accounts[tx.orgID][accountID]
	if !ok {
		return ErrUnknownAccount
	}
	account.Balance += delta
	return nil
}

func (tx *memoryTx) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	key := fmt.Sprintf("%d:%s:%s", tx.orgID, module, ref)
	if _, ok := tx.store.links[key]; ok {
		return ErrSourceAlreadyLinked
	}
	tx.store.links[key] = entryID
	return nil
}

func (tx *memoryTx) GetEntryWithLines(ctx context.Context, entryID int64) (JournalEntry, []JournalLine, error) {
	entry, ok := tx.store.entries[tx.orgID][entryID]
	if !ok {
		return JournalEntry{}, nil, ErrEntryNotFound
	}
	return *entry, append([]JournalLine(nil), tx.store.lines[entryID]...), nil
}

func (tx *memoryTx) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	entry, ok := tx.store.entries[tx.orgID][entryID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = status
	return nil
}

const testOrg int64 = 7

func newTestService(store *memoryLedger) *Service {
	store.addAccount(testOrg, Account{ID: 1, Code: "6100", Name: "Rent Expense", Type: AccountTypeExpense, IsActive: true})
	store.addAccount(testOrg, Account{ID: 2, Code: "1000", Name: "Cash", Type: AccountTypeAsset, IsActive: true})
	store.addAccount(testOrg, Account{ID: 3, Code: "4000", Name: "Sales Revenue", Type: AccountTypeRevenue, IsActive: true})
	return NewService(store, nil)
}

func rentPosting() PostingInput {
	return PostingInput{
		Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Description: "Office rent",
		Lines: []PostingLineInput{
			{AccountID: 1, Debit: 500.00},
			{AccountID: 2, Credit: 500.00},
		},
	}
}

func TestPostEntryBalancesAccounts(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	entry, err := svc.PostEntry(ctx, testOrg, rentPosting())
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, 500.00, entry.Total)
	require.Len(t, entry.Lines, 2)
	require.NotZero(t, entry.Lines[0].ID)
	require.NotZero(t, entry.Lines[1].ID)

	require.Equal(t, 500.00, store.balance(testOrg, 1))
	require.Equal(t, -500.00, store.balance(testOrg, 2))
}

func TestPostEntryRejectsUnbalanced(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	input := rentPosting()
	input.Lines[1].Credit = 499.99

	_, err := svc.PostEntry(ctx, testOrg, input)
	require.ErrorIs(t, err, ErrUnbalanced)

	require.Equal(t, 0.0, store.balance(testOrg, 1))
	require.Equal(t, 0.0, store.balance(testOrg, 2))
	require.Zero(t, store.entryCount(testOrg))
}

func TestPostEntryUnknownAccount(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	input := rentPosting()
	input.Lines[0].AccountID = 999

	_, err := svc.PostEntry(ctx, testOrg, input)
	require.ErrorIs(t, err, ErrUnknownAccount)
	require.Zero(t, store.entryCount(testOrg))
}

func TestPostEntryOtherOrgAccount(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)
	store.addAccount(42, Account{ID: 55, Code: "1000", Name: "Cash", Type: AccountTypeAsset, IsActive: true})

	input := rentPosting()
	input.Lines[1].AccountID = 55

	_, err := svc.PostEntry(ctx, testOrg, input)
	require.ErrorIs(t, err, ErrUnknownAccount)
	require.Equal(t, 0.0, store.balance(42, 55))
}

func TestPostEntryInactiveAccount(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)
	store.addAccount(testOrg, Account{ID: 4, Code: "6200", Name: "Old Expense", Type: AccountTypeExpense, IsActive: false})

	input := rentPosting()
	input.Lines[0].AccountID = 4

	_, err := svc.PostEntry(ctx, testOrg, input)
	require.ErrorIs(t, err, ErrAccountInactive)
	require.Zero(t, store.entryCount(testOrg))
}

func TestPostEntryAtomicityOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	boom := errors.New("connection reset")
	store.failOn["InsertLines"] = boom

	_, err := svc.PostEntry(ctx, testOrg, rentPosting())
	require.ErrorIs(t, err, boom)

	require.Zero(t, store.entryCount(testOrg))
	require.Equal(t, 0.0, store.balance(testOrg, 1))
	require.Equal(t, 0.0, store.balance(testOrg, 2))
}

func TestPostEntryRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	store.failOn["AdjustBalance"] = errors.New("timeout")

	_, err := svc.PostEntry(ctx, testOrg, rentPosting())
	require.Error(t, err)
	require.Equal(t, 0.0, store.balance(testOrg, 1))

	entry, err := svc.PostEntry(ctx, testOrg, rentPosting())
	require.NoError(t, err)
	require.Equal(t, int64(1), entry.Number)
	require.Equal(t, 500.00, store.balance(testOrg, 1))
	require.Equal(t, -500.00, store.balance(testOrg, 2))
	require.Equal(t, 1, store.entryCount(testOrg))
}

func TestPostEntryConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	const n = 25
	var g errgroup.Group
	var want float64
	for i := 1; i <= n; i++ {
		amount := float64(i)
		want += amount
		g.Go(func() error {
			_, err := svc.PostEntry(ctx, testOrg, PostingInput{
				Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Description: "Concurrent sale",
				Lines: []PostingLineInput{
					{AccountID: 2, Debit: amount},
					{AccountID: 3, Credit: amount},
				},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, want, store.balance(testOrg, 2))
	require.Equal(t, -want, store.balance(testOrg, 3))
	require.Equal(t, n, store.entryCount(testOrg))

	// Every posting must land with its own number; concurrent allocations
	// reading the same snapshot would collide on the unique index instead.
	numbers := make(map[int64]bool, n)
	for _, entry := range store.entries[testOrg] {
		require.False(t, numbers[entry.Number], "duplicate entry number %d", entry.Number)
		numbers[entry.Number] = true
	}
	require.Len(t, numbers, n)
}

func TestEntryBySource(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	input := rentPosting()
	input.SourceModule = "AR"
	input.SourceID = uuid.New()

	posted, err := svc.PostEntry(ctx, testOrg, input)
	require.NoError(t, err)

	found, err := svc.EntryBySource(ctx, testOrg, "AR", input.SourceID)
	require.NoError(t, err)
	require.Equal(t, posted.ID, found.ID)
	require.Len(t, found.Lines, 2)

	_, err = svc.EntryBySource(ctx, testOrg, "AR", uuid.New())
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestPostEntrySourceLinkIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	input := rentPosting()
	input.SourceModule = "AR"
	input.SourceID = uuid.New()

	_, err := svc.PostEntry(ctx, testOrg, input)
	require.NoError(t, err)

	_, err = svc.PostEntry(ctx, testOrg, input)
	require.ErrorIs(t, err, ErrSourceAlreadyLinked)

	require.Equal(t, 500.00, store.balance(testOrg, 1))
	require.Equal(t, 1, store.entryCount(testOrg))
}

func TestReverseEntry(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLedger()
	svc := newTestService(store)

	entry, err := svc.PostEntry(ctx, testOrg, rentPosting())
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(ctx, testOrg, ReverseInput{EntryID: entry.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, reversal.Status)
	require.Equal(t, "Reversal of JE 1", reversal.Description)
	require.Len(t, reversal.Lines, 2)
	require.Equal(t, 500.00, reversal.Lines[1].Debit)
	require.Equal(t, 500.00, reversal.Lines[0].Credit)

	require.Equal(t, 0.0, store.balance(testOrg, 1))
	require.Equal(t, 0.0, store.balance(testOrg, 2))

	original, err := svc.GetEntry(ctx, testOrg, entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusReversed, original.Status)

	_, err = svc.ReverseEntry(ctx, testOrg, ReverseInput{EntryID: entry.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPostEntryRequiresOrg(t *testing.T) {
	store := newMemoryLedger()
	svc := newTestService(store)

	_, err := svc.PostEntry(context.Background(), 0, rentPosting())
	require.Error(t, err)
}

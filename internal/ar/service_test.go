package ar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/clearbooks/internal/ledger"
	"github.com/clearbooks/clearbooks/internal/masterdata/taxes"
	"github.com/clearbooks/clearbooks/internal/shared"
)

const testOrg int64 = 7

const (
	acctReceivable int64 = 11
	acctCash       int64 = 12
	acctSales      int64 = 41
	acctTaxOutput  int64 = 21
)

type memoryInvoices struct {
	invoices map[int64]map[int64]*Invoice
	payments map[int64][]Payment
	nextID   int64
	failOn   map[string]error
}

func newMemoryInvoices() *memoryInvoices {
	return &memoryInvoices{
		invoices: make(map[int64]map[int64]*Invoice),
		payments: make(map[int64][]Payment),
		failOn:   make(map[string]error),
	}
}

// fail pops the injected error for op, so each failure fires once.
func (m *memoryInvoices) fail(op string) error {
	err := m.failOn[op]
	if err != nil {
		delete(m.failOn, op)
	}
	return err
}

func (m *memoryInvoices) ForOrg(orgID int64) Repository {
	if m.invoices[orgID] == nil {
		m.invoices[orgID] = make(map[int64]*Invoice)
	}
	return &memoryRepo{store: m, orgID: orgID}
}

type memoryRepo struct {
	store *memoryInvoices
	orgID int64
}

func (r *memoryRepo) Create(_ context.Context, inv Invoice) (Invoice, error) {
	r.store.nextID++
	inv.ID = r.store.nextID
	inv.Number = fmt.Sprintf("INV-%05d", len(r.store.invoices[r.orgID])+1)
	for i := range inv.Lines {
		inv.Lines[i].ID = int64(i + 1)
		inv.Lines[i].InvoiceID = inv.ID
	}
	stored := inv
	r.store.invoices[r.orgID][inv.ID] = &stored
	return inv, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Invoice, error) {
	inv, ok := r.store.invoices[r.orgID][id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return *inv, nil
}

func (r *memoryRepo) List(_ context.Context, _ shared.ListFilters, status InvoiceStatus) ([]Invoice, int, error) {
	var out []Invoice
	for _, inv := range r.store.invoices[r.orgID] {
		if status == "" || inv.Status == status {
			out = append(out, *inv)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) MarkPosted(_ context.Context, id, entryID int64) error {
	if err := r.store.fail("MarkPosted"); err != nil {
		return err
	}
	inv, ok := r.store.invoices[r.orgID][id]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status != StatusDraft {
		return ErrInvalidStatus
	}
	inv.Status = StatusPosted
	inv.PostedEntryID = &entryID
	return nil
}

func (r *memoryRepo) MarkVoid(_ context.Context, id int64) error {
	inv, ok := r.store.invoices[r.orgID][id]
	if !ok {
		return ErrInvoiceNotFound
	}
	if inv.Status != StatusDraft && inv.Status != StatusPosted {
		return ErrInvalidStatus
	}
	inv.Status = StatusVoid
	return nil
}

func (r *memoryRepo) ApplyPayment(_ context.Context, p Payment) (Invoice, error) {
	if err := r.store.fail("ApplyPayment"); err != nil {
		return Invoice{}, err
	}
	inv, ok := r.store.invoices[r.orgID][p.InvoiceID]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	if inv.Status != StatusPosted {
		return Invoice{}, ErrInvalidStatus
	}
	if inv.PaidAmount+p.Amount > inv.Total+0.005 {
		return Invoice{}, ErrPaymentExceedsBalance
	}
	inv.PaidAmount = math.Round((inv.PaidAmount+p.Amount)*100) / 100
	if inv.PaidAmount >= inv.Total {
		inv.Status = StatusPaid
	}
	r.store.payments[p.InvoiceID] = append(r.store.payments[p.InvoiceID], p)
	return *inv, nil
}

func (r *memoryRepo) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	return r.store.payments[invoiceID], nil
}

func (r *memoryRepo) Aging(_ context.Context, asOf time.Time) (AgingBucket, error) {
	var b AgingBucket
	for _, inv := range r.store.invoices[r.orgID] {
		if inv.Status != StatusPosted {
			continue
		}
		outstanding := inv.Total - inv.PaidAmount
		days := int(asOf.Sub(inv.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			b.Current += outstanding
		case days <= 30:
			b.Bucket30 += outstanding
		case days <= 60:
			b.Bucket60 += outstanding
		case days <= 90:
			b.Bucket90 += outstanding
		default:
			b.Bucket120 += outstanding
		}
	}
	return b, nil
}

func (r *memoryRepo) ListOverdue(_ context.Context, asOf time.Time) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.store.invoices[r.orgID] {
		if inv.Status == StatusPosted && inv.DueDate.Before(asOf) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

// fakeLedger validates postings like the real service and records them.
type fakeLedger struct {
	postings  []ledger.PostingInput
	reversals []ledger.ReverseInput
	nextID    int64
	linked    map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{linked: make(map[string]int64)}
}

func (f *fakeLedger) PostEntry(_ context.Context, orgID int64, input ledger.PostingInput) (ledger.JournalEntry, error) {
	if orgID == 0 {
		return ledger.JournalEntry{}, shared.ErrOrgMissing
	}
	if err := input.Validate(); err != nil {
		return ledger.JournalEntry{}, err
	}
	if input.SourceModule != "" {
		key := input.SourceModule + ":" + input.SourceID.String()
		if _, ok := f.linked[key]; ok {
			return ledger.JournalEntry{}, ledger.ErrSourceAlreadyLinked
		}
		f.linked[key] = f.nextID + 1
	}
	f.nextID++
	f.postings = append(f.postings, input)
	return ledger.JournalEntry{ID: f.nextID, Number: f.nextID, Total: input.Total(), Status: ledger.EntryStatusPosted}, nil
}

func (f *fakeLedger) ReverseEntry(_ context.Context, _ int64, input ledger.ReverseInput) (ledger.JournalEntry, error) {
	f.reversals = append(f.reversals, input)
	f.nextID++
	return ledger.JournalEntry{ID: f.nextID, Status: ledger.EntryStatusPosted}, nil
}

func (f *fakeLedger) EntryBySource(_ context.Context, _ int64, module string, ref uuid.UUID) (ledger.JournalEntry, error) {
	id, ok := f.linked[module+":"+ref.String()]
	if !ok {
		return ledger.JournalEntry{}, ledger.ErrEntryNotFound
	}
	return ledger.JournalEntry{ID: id, Status: ledger.EntryStatusPosted}, nil
}

// fakeIdempotency claims keys in memory the way the database store does.
type fakeIdempotency struct {
	keys map[string]string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]string)}
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type fakeMappings map[string]int64

func (f fakeMappings) Resolve(_ context.Context, _ int64, module, key string) (int64, error) {
	id, ok := f[module+":"+key]
	if !ok {
		return 0, ledger.ErrMappingNotFound
	}
	return id, nil
}

type fakeTaxes map[int64]taxes.TaxRate

func (f fakeTaxes) Get(_ context.Context, _ int64, id int64) (taxes.TaxRate, error) {
	rate, ok := f[id]
	if !ok {
		return taxes.TaxRate{}, taxes.ErrNotFound
	}
	return rate, nil
}

type testEnv struct {
	svc   *Service
	led   *fakeLedger
	store *memoryInvoices
	idem  *fakeIdempotency
}

func newTestEnv() *testEnv {
	led := newFakeLedger()
	store := newMemoryInvoices()
	idem := newFakeIdempotency()
	svc := NewService(store, led, fakeMappings{
		"AR:CONTROL":    acctReceivable,
		"AR:TAX_OUTPUT": acctTaxOutput,
		"AR:CASH":       acctCash,
	}, fakeTaxes{
		1: {ID: 1, Name: "VAT 10%", Rate: 10, AppliesTo: taxes.AppliesToSales},
		2: {ID: 2, Name: "Import duty", Rate: 5, AppliesTo: taxes.AppliesToPurchase},
	}, nil, idem)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) })
	return &testEnv{svc: svc, led: led, store: store, idem: idem}
}

func newTestService() (*Service, *fakeLedger) {
	env := newTestEnv()
	return env.svc, env.led
}

func draftInvoice(t *testing.T, svc *Service) Invoice {
	t.Helper()
	inv, err := svc.CreateInvoice(context.Background(), testOrg, CreateInvoiceInput{
		ContactID: 3,
		IssueDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy: 1,
		Lines: []CreateInvoiceLineInput{
			{Description: "Consulting", Quantity: 10, UnitPrice: 100, AccountID: acctSales, TaxRateID: ptr(int64(1))},
			{Description: "Expenses", Quantity: 1, UnitPrice: 250.50, AccountID: acctSales},
		},
	})
	require.NoError(t, err)
	return inv
}

func ptr[T any](v T) *T { return &v }

func TestCreateInvoiceComputesTotals(t *testing.T) {
	svc, _ := newTestService()
	inv := draftInvoice(t, svc)

	require.Equal(t, StatusDraft, inv.Status)
	require.InDelta(t, 1250.50, inv.Subtotal, 0.001)
	require.InDelta(t, 100.00, inv.TaxAmount, 0.001)
	require.InDelta(t, 1350.50, inv.Total, 0.001)
	require.NotEqual(t, inv.SourceID.String(), "00000000-0000-0000-0000-000000000000")
	require.Len(t, inv.Lines, 2)
	require.InDelta(t, 100.00, inv.Lines[0].TaxAmount, 0.001)
}

func TestCreateInvoiceRejectsEmptyLines(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateInvoice(context.Background(), testOrg, CreateInvoiceInput{ContactID: 3})
	require.ErrorIs(t, err, ErrNoLines)
}

func TestCreateInvoiceRejectsPurchaseTax(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateInvoice(context.Background(), testOrg, CreateInvoiceInput{
		ContactID: 3,
		Lines: []CreateInvoiceLineInput{
			{Description: "Goods", Quantity: 1, UnitPrice: 100, AccountID: acctSales, TaxRateID: ptr(int64(2))},
		},
	})
	require.ErrorIs(t, err, ErrTaxNotApplicable)
}

func TestPostInvoiceDerivesBalancedLines(t *testing.T) {
	svc, led := newTestService()
	inv := draftInvoice(t, svc)

	posted, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedEntryID)

	require.Len(t, led.postings, 1)
	posting := led.postings[0]
	require.Equal(t, "AR", posting.SourceModule)
	require.Equal(t, inv.SourceID, posting.SourceID)
	require.NoError(t, posting.Validate())
	require.Len(t, posting.Lines, 4)

	require.Equal(t, acctReceivable, posting.Lines[0].AccountID)
	require.InDelta(t, 1350.50, posting.Lines[0].Debit, 0.001)
	require.Equal(t, acctSales, posting.Lines[1].AccountID)
	require.InDelta(t, 1000.00, posting.Lines[1].Credit, 0.001)
	require.InDelta(t, 250.50, posting.Lines[2].Credit, 0.001)
	require.Equal(t, acctTaxOutput, posting.Lines[3].AccountID)
	require.InDelta(t, 100.00, posting.Lines[3].Credit, 0.001)
}

func TestPostInvoiceTwiceConflicts(t *testing.T) {
	svc, led := newTestService()
	inv := draftInvoice(t, svc)

	_, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	_, err = svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.Len(t, led.postings, 1)
}

func TestRegisterPaymentPartialThenFull(t *testing.T) {
	svc, led := newTestService()
	inv := draftInvoice(t, svc)
	_, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	partial, err := svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 350.50, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, partial.Status)
	require.InDelta(t, 350.50, partial.PaidAmount, 0.001)

	payment := led.postings[len(led.postings)-1]
	require.NoError(t, payment.Validate())
	require.Equal(t, acctCash, payment.Lines[0].AccountID)
	require.InDelta(t, 350.50, payment.Lines[0].Debit, 0.001)
	require.Equal(t, acctReceivable, payment.Lines[1].AccountID)
	require.InDelta(t, 350.50, payment.Lines[1].Credit, 0.001)

	full, err := svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 1000, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, full.Status)
	require.InDelta(t, 1350.50, full.PaidAmount, 0.001)
}

func TestRegisterPaymentOverpayRejected(t *testing.T) {
	svc, led := newTestService()
	inv := draftInvoice(t, svc)
	_, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	before := len(led.postings)

	_, err = svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 2000, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrPaymentExceedsBalance)
	require.Len(t, led.postings, before)
}

func TestRegisterPaymentRequiresPostedInvoice(t *testing.T) {
	svc, _ := newTestService()
	inv := draftInvoice(t, svc)

	_, err := svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestVoidPostedInvoiceReversesEntry(t *testing.T) {
	svc, led := newTestService()
	inv := draftInvoice(t, svc)
	posted, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	voided, err := svc.VoidInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusVoid, voided.Status)
	require.Len(t, led.reversals, 1)
	require.Equal(t, *posted.PostedEntryID, led.reversals[0].EntryID)
}

func TestVoidPaidInvoiceRejected(t *testing.T) {
	svc, _ := newTestService()
	inv := draftInvoice(t, svc)
	_, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	_, err = svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 1350.50, ActorID: 1,
	})
	require.NoError(t, err)

	_, err = svc.VoidInvoice(context.Background(), testOrg, inv.ID, 1)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAgingBucketsOutstanding(t *testing.T) {
	svc, _ := newTestService()
	inv := draftInvoice(t, svc)
	_, err := svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	buckets, err := svc.Aging(context.Background(), testOrg)
	require.NoError(t, err)
	require.InDelta(t, 1350.50, buckets.Current, 0.001)
}

func TestPostInvoiceRetryCompletesAfterStatusFlipFailure(t *testing.T) {
	env := newTestEnv()
	inv := draftInvoice(t, env.svc)

	env.store.failOn["MarkPosted"] = errors.New("connection reset")
	_, err := env.svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.Error(t, err)

	stale, err := env.svc.GetInvoice(context.Background(), testOrg, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stale.Status)
	require.Len(t, env.led.postings, 1)

	// The retry finds the linked entry instead of double-posting and
	// finishes the status flip.
	posted, err := env.svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedEntryID)
	require.Equal(t, int64(1), *posted.PostedEntryID)
	require.Len(t, env.led.postings, 1)
}

func TestRegisterPaymentFailureReversesEntry(t *testing.T) {
	env := newTestEnv()
	inv := draftInvoice(t, env.svc)
	_, err := env.svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	env.store.failOn["ApplyPayment"] = errors.New("connection reset")
	_, err = env.svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1,
	})
	require.Error(t, err)

	require.Len(t, env.led.reversals, 1)
	require.Equal(t, int64(2), env.led.reversals[0].EntryID)

	after, err := env.svc.GetInvoice(context.Background(), testOrg, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, after.Status)
	require.InDelta(t, 0.0, after.PaidAmount, 0.001)
}

func TestRegisterPaymentDuplicateKeyConflicts(t *testing.T) {
	env := newTestEnv()
	inv := draftInvoice(t, env.svc)
	_, err := env.svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	_, err = env.svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)

	_, err = env.svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1, IdempotencyKey: "pay-1",
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, env.led.postings, 2)
}

func TestRegisterPaymentFailureReleasesKey(t *testing.T) {
	env := newTestEnv()
	inv := draftInvoice(t, env.svc)
	_, err := env.svc.PostInvoice(context.Background(), testOrg, inv.ID, 1)
	require.NoError(t, err)

	env.store.failOn["ApplyPayment"] = errors.New("connection reset")
	_, err = env.svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1, IdempotencyKey: "pay-1",
	})
	require.Error(t, err)

	updated, err := env.svc.RegisterPayment(context.Background(), testOrg, RegisterPaymentInput{
		InvoiceID: inv.ID, Amount: 100, ActorID: 1, IdempotencyKey: "pay-1",
	})
	require.NoError(t, err)
	require.InDelta(t, 100.0, updated.PaidAmount, 0.001)
}

func TestApplyPaymentRejectsNonPostedInvoice(t *testing.T) {
	store := newMemoryInvoices()
	repo := store.ForOrg(testOrg)
	inv, err := repo.Create(context.Background(), Invoice{ContactID: 3, Status: StatusPosted, Total: 100})
	require.NoError(t, err)

	_, err = repo.ApplyPayment(context.Background(), Payment{InvoiceID: inv.ID, Amount: 100, EntryID: 1})
	require.NoError(t, err)

	_, err = repo.ApplyPayment(context.Background(), Payment{InvoiceID: inv.ID, Amount: 1, EntryID: 2})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestInvoicesIsolatedPerOrg(t *testing.T) {
	svc, _ := newTestService()
	inv := draftInvoice(t, svc)

	_, err := svc.GetInvoice(context.Background(), testOrg+1, inv.ID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

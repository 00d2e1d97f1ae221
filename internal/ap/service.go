package ap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearbooks/clearbooks/internal/ledger"
	"github.com/clearbooks/clearbooks/internal/masterdata/taxes"
	"github.com/clearbooks/clearbooks/internal/shared"
)

// Mapping keys resolved against the ledger account mappings.
const (
	moduleAP      = "AP"
	keyControl    = "CONTROL"
	keyTaxInput   = "TAX_INPUT"
	keyCashOnHand = "CASH"
)

// RepositoryProvider yields an org-scoped repository per call.
type RepositoryProvider interface {
	ForOrg(orgID int64) Repository
}

// LedgerPort is the slice of the ledger service bill flows depend on.
type LedgerPort interface {
	PostEntry(ctx context.Context, orgID int64, input ledger.PostingInput) (ledger.JournalEntry, error)
	ReverseEntry(ctx context.Context, orgID int64, input ledger.ReverseInput) (ledger.JournalEntry, error)
	EntryBySource(ctx context.Context, orgID int64, module string, ref uuid.UUID) (ledger.JournalEntry, error)
}

// IdempotencyPort claims and releases client-supplied payment keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// TaxLookup resolves tax rates for bill lines.
type TaxLookup interface {
	Get(ctx context.Context, orgID, id int64) (taxes.TaxRate, error)
}

// AuditPort records bill activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the bill lifecycle. All balance changes flow through the
// ledger port.
type Service struct {
	repos    RepositoryProvider
	ledger   LedgerPort
	mappings ledger.Mappings
	taxes    TaxLookup
	audit    AuditPort
	idem     IdempotencyPort
	now      func() time.Time
}

func NewService(repos RepositoryProvider, ledgerSvc LedgerPort, mappings ledger.Mappings, taxLookup TaxLookup, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{repos: repos, ledger: ledgerSvc, mappings: mappings, taxes: taxLookup, audit: audit, idem: idem, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CreateBill computes line totals and tax server-side and stores the bill
// as a draft.
func (s *Service) CreateBill(ctx context.Context, orgID int64, in CreateBillInput) (Bill, error) {
	if orgID == 0 {
		return Bill{}, shared.ErrOrgMissing
	}
	if len(in.Lines) == 0 {
		return Bill{}, ErrNoLines
	}
	bill := Bill{
		ContactID: in.ContactID,
		VendorRef: strings.TrimSpace(in.VendorRef),
		IssueDate: in.IssueDate,
		DueDate:   in.DueDate,
		Status:    StatusDraft,
		SourceID:  uuid.New(),
		CreatedBy: in.CreatedBy,
	}
	if bill.IssueDate.IsZero() {
		bill.IssueDate = s.now()
	}
	if bill.DueDate.IsZero() {
		bill.DueDate = bill.IssueDate.AddDate(0, 0, 30)
	}
	for _, lineIn := range in.Lines {
		if lineIn.Quantity <= 0 || lineIn.UnitPrice < 0 {
			return Bill{}, ErrInvalidAmount
		}
		if lineIn.AccountID == 0 {
			return Bill{}, ledger.ErrUnknownAccount
		}
		line := BillLine{
			Description: strings.TrimSpace(lineIn.Description),
			Quantity:    lineIn.Quantity,
			UnitPrice:   lineIn.UnitPrice,
			AccountID:   lineIn.AccountID,
			TaxRateID:   lineIn.TaxRateID,
			LineTotal:   round2(lineIn.Quantity * lineIn.UnitPrice),
		}
		if lineIn.TaxRateID != nil {
			rate, err := s.taxes.Get(ctx, orgID, *lineIn.TaxRateID)
			if err != nil {
				return Bill{}, err
			}
			if rate.AppliesTo == taxes.AppliesToSales {
				return Bill{}, ErrTaxNotApplicable
			}
			line.TaxAmount = round2(line.LineTotal * rate.Rate / 100)
		}
		bill.Subtotal = round2(bill.Subtotal + line.LineTotal)
		bill.TaxAmount = round2(bill.TaxAmount + line.TaxAmount)
		bill.Lines = append(bill.Lines, line)
	}
	bill.Total = round2(bill.Subtotal + bill.TaxAmount)

	created, err := s.repos.ForOrg(orgID).Create(ctx, bill)
	if err != nil {
		return Bill{}, err
	}
	s.record(ctx, orgID, in.CreatedBy, "bill.create", created.ID, map[string]any{"number": created.Number, "total": created.Total})
	return created, nil
}

// PostBill posts the draft to the ledger: debit each line's expense account
// and the tax input account, credit the payable control account for the
// total. The source link makes a retried post fail instead of duplicating.
func (s *Service) PostBill(ctx context.Context, orgID, id, actorID int64) (Bill, error) {
	if orgID == 0 {
		return Bill{}, shared.ErrOrgMissing
	}
	repo := s.repos.ForOrg(orgID)
	bill, err := repo.Get(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	if bill.Status != StatusDraft {
		return Bill{}, ErrInvalidStatus
	}
	controlID, err := s.mappings.Resolve(ctx, orgID, moduleAP, keyControl)
	if err != nil {
		return Bill{}, err
	}
	var taxAccountID int64
	if bill.TaxAmount > 0 {
		if taxAccountID, err = s.mappings.Resolve(ctx, orgID, moduleAP, keyTaxInput); err != nil {
			return Bill{}, err
		}
	}
	entry, err := s.ledger.PostEntry(ctx, orgID, ledger.PostingInput{
		Date:         bill.IssueDate,
		Description:  "Bill " + bill.Number,
		Reference:    bill.VendorRef,
		SourceModule: moduleAP,
		SourceID:     bill.SourceID,
		CreatedBy:    actorID,
		Lines:        deriveBillLines(bill, controlID, taxAccountID),
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrSourceAlreadyLinked) {
			return Bill{}, err
		}
		// An earlier attempt posted the entry but failed before flipping the
		// bill. Reuse that entry so the retry can finish the flip.
		if entry, err = s.ledger.EntryBySource(ctx, orgID, moduleAP, bill.SourceID); err != nil {
			return Bill{}, err
		}
	}
	if err := repo.MarkPosted(ctx, id, entry.ID); err != nil {
		return Bill{}, err
	}
	s.record(ctx, orgID, actorID, "bill.post", id, map[string]any{"number": bill.Number, "entry_id": entry.ID})
	return repo.Get(ctx, id)
}

// PayBill posts a debit to the payable control account and a credit to the
// paying account, then bumps paid_amount. A payment covering the
// outstanding balance flips the bill to PAID. Requests carrying an
// idempotency key are deduplicated; the key is released again when the
// payment does not go through, so the client may retry with the same key.
func (s *Service) PayBill(ctx context.Context, orgID int64, in PayBillInput) (Bill, error) {
	if orgID == 0 {
		return Bill{}, shared.ErrOrgMissing
	}
	if in.Amount <= 0 {
		return Bill{}, ErrInvalidAmount
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, moduleAP); err != nil {
			return Bill{}, err
		}
	}
	releaseKey := func() {
		if in.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, in.IdempotencyKey)
		}
	}
	repo := s.repos.ForOrg(orgID)
	bill, err := repo.Get(ctx, in.BillID)
	if err != nil {
		releaseKey()
		return Bill{}, err
	}
	if bill.Status != StatusPosted {
		releaseKey()
		return Bill{}, ErrInvalidStatus
	}
	outstanding := round2(bill.Total - bill.PaidAmount)
	if round2(in.Amount) > outstanding {
		releaseKey()
		return Bill{}, ErrPaymentExceedsBalance
	}
	fromID := in.FromAccountID
	if fromID == 0 {
		if fromID, err = s.mappings.Resolve(ctx, orgID, moduleAP, keyCashOnHand); err != nil {
			releaseKey()
			return Bill{}, err
		}
	}
	controlID, err := s.mappings.Resolve(ctx, orgID, moduleAP, keyControl)
	if err != nil {
		releaseKey()
		return Bill{}, err
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	amount := round2(in.Amount)
	entry, err := s.ledger.PostEntry(ctx, orgID, ledger.PostingInput{
		Date:        paidAt,
		Description: "Payment for " + bill.Number,
		Reference:   bill.Number,
		CreatedBy:   in.ActorID,
		Lines: []ledger.PostingLineInput{
			{AccountID: controlID, Debit: amount, ContactID: &bill.ContactID},
			{AccountID: fromID, Credit: amount, ContactID: &bill.ContactID},
		},
	})
	if err != nil {
		releaseKey()
		return Bill{}, err
	}
	updated, err := repo.ApplyPayment(ctx, BillPayment{
		BillID:  in.BillID,
		Amount:  amount,
		PaidAt:  paidAt,
		Method:  in.Method,
		Note:    in.Note,
		EntryID: entry.ID,
	})
	if err != nil {
		// The cash entry is already on the books, so back it out with a
		// reversal before surfacing the failure.
		if _, revErr := s.ledger.ReverseEntry(ctx, orgID, ledger.ReverseInput{
			EntryID:     entry.ID,
			ActorID:     in.ActorID,
			Description: "Reversal of payment for " + bill.Number,
		}); revErr != nil {
			err = errors.Join(err, revErr)
		}
		releaseKey()
		return Bill{}, err
	}
	s.record(ctx, orgID, in.ActorID, "bill.payment", in.BillID, map[string]any{
		"amount": amount, "entry_id": entry.ID, "status": updated.Status,
	})
	return updated, nil
}

// VoidBill cancels a bill. Drafts are voided in place; posted bills reverse
// their journal entry first. Paid bills cannot be voided.
func (s *Service) VoidBill(ctx context.Context, orgID, id, actorID int64) (Bill, error) {
	if orgID == 0 {
		return Bill{}, shared.ErrOrgMissing
	}
	repo := s.repos.ForOrg(orgID)
	bill, err := repo.Get(ctx, id)
	if err != nil {
		return Bill{}, err
	}
	switch bill.Status {
	case StatusDraft:
	case StatusPosted:
		if bill.PaidAmount > 0 {
			return Bill{}, ErrInvalidStatus
		}
		if bill.PostedEntryID == nil {
			return Bill{}, ledger.ErrEntryNotFound
		}
		if _, err := s.ledger.ReverseEntry(ctx, orgID, ledger.ReverseInput{
			EntryID:     *bill.PostedEntryID,
			ActorID:     actorID,
			Description: "Void bill " + bill.Number,
		}); err != nil {
			return Bill{}, err
		}
	default:
		return Bill{}, ErrInvalidStatus
	}
	if err := repo.MarkVoid(ctx, id); err != nil {
		return Bill{}, err
	}
	s.record(ctx, orgID, actorID, "bill.void", id, map[string]any{"number": bill.Number})
	return repo.Get(ctx, id)
}

// GetBill loads one bill with lines.
func (s *Service) GetBill(ctx context.Context, orgID, id int64) (Bill, error) {
	if orgID == 0 {
		return Bill{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Get(ctx, id)
}

// ListBills returns bills, optionally filtered by status.
func (s *Service) ListBills(ctx context.Context, orgID int64, filters shared.ListFilters, status BillStatus) ([]Bill, int, error) {
	if orgID == 0 {
		return nil, 0, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).List(ctx, filters, status)
}

// ListPayments returns payments recorded against a bill.
func (s *Service) ListPayments(ctx context.Context, orgID, billID int64) ([]BillPayment, error) {
	if orgID == 0 {
		return nil, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).ListPayments(ctx, billID)
}

// Aging summarises outstanding payables by days overdue.
func (s *Service) Aging(ctx context.Context, orgID int64) (AgingBucket, error) {
	if orgID == 0 {
		return AgingBucket{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Aging(ctx, s.now())
}

func (s *Service) record(ctx context.Context, orgID, actorID int64, action string, billID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "bill",
		EntityID: fmt.Sprintf("%d", billID),
		Meta:     meta,
		At:       s.now(),
	})
}

// deriveBillLines builds the journal lines for a posted bill: debits against
// each line's expense account plus the tax input account, and one credit
// against the payable control account.
func deriveBillLines(bill Bill, controlAccountID, taxAccountID int64) []ledger.PostingLineInput {
	lines := make([]ledger.PostingLineInput, 0, len(bill.Lines)+2)
	for _, line := range bill.Lines {
		lines = append(lines, ledger.PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.LineTotal,
			Description: line.Description,
		})
	}
	if bill.TaxAmount > 0 {
		lines = append(lines, ledger.PostingLineInput{
			AccountID:   taxAccountID,
			Debit:       bill.TaxAmount,
			Description: "Tax on " + bill.Number,
		})
	}
	lines = append(lines, ledger.PostingLineInput{
		AccountID:   controlAccountID,
		Credit:      bill.Total,
		Description: "Bill " + bill.Number,
		ContactID:   &bill.ContactID,
	})
	return lines
}

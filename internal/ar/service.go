package ar

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
	moduleAR      = "AR"
	keyControl    = "CONTROL"
	keyTaxOutput  = "TAX_OUTPUT"
	keyCashOnHand = "CASH"
)

// RepositoryProvider yields an org-scoped repository per call.
type RepositoryProvider interface {
	ForOrg(orgID int64) Repository
}

// LedgerPort is the slice of the ledger service invoice flows depend on.
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

// TaxLookup resolves tax rates for invoice lines.
type TaxLookup interface {
	Get(ctx context.Context, orgID, id int64) (taxes.TaxRate, error)
}

// AuditPort records invoice activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the invoice lifecycle. Posting and payments change account
// balances only through the ledger port.
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

// CreateInvoice computes line totals and tax server-side and stores the
// invoice as a draft. Drafts have no ledger effect.
func (s *Service) CreateInvoice(ctx context.Context, orgID int64, in CreateInvoiceInput) (Invoice, error) {
	if orgID == 0 {
		return Invoice{}, shared.ErrOrgMissing
	}
	if len(in.Lines) == 0 {
		return Invoice{}, ErrNoLines
	}
	inv := Invoice{
		ContactID: in.ContactID,
		IssueDate: in.IssueDate,
		DueDate:   in.DueDate,
		Status:    StatusDraft,
		SourceID:  uuid.New(),
		CreatedBy: in.CreatedBy,
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = s.now()
	}
	if inv.DueDate.IsZero() {
		inv.DueDate = inv.IssueDate.AddDate(0, 0, 30)
	}
	for _, lineIn := range in.Lines {
		if lineIn.Quantity <= 0 || lineIn.UnitPrice < 0 {
			return Invoice{}, ErrInvalidAmount
		}
		if lineIn.AccountID == 0 {
			return Invoice{}, ledger.ErrUnknownAccount
		}
		line := InvoiceLine{
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
				return Invoice{}, err
			}
			if rate.AppliesTo == taxes.AppliesToPurchase {
				return Invoice{}, ErrTaxNotApplicable
			}
			line.TaxAmount = round2(line.LineTotal * rate.Rate / 100)
		}
		inv.Subtotal = round2(inv.Subtotal + line.LineTotal)
		inv.TaxAmount = round2(inv.TaxAmount + line.TaxAmount)
		inv.Lines = append(inv.Lines, line)
	}
	inv.Total = round2(inv.Subtotal + inv.TaxAmount)

	created, err := s.repos.ForOrg(orgID).Create(ctx, inv)
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, orgID, in.CreatedBy, "invoice.create", created.ID, map[string]any{"number": created.Number, "total": created.Total})
	return created, nil
}

// PostInvoice posts the draft to the ledger: debit the receivable control
// account for the total, credit each line's revenue account, credit the tax
// output account for collected tax. The invoice flips to POSTED only after
// the journal entry commits; the source link makes a retried post a no-op
// failure instead of a duplicate.
func (s *Service) PostInvoice(ctx context.Context, orgID, id, actorID int64) (Invoice, error) {
	if orgID == 0 {
		return Invoice{}, shared.ErrOrgMissing
	}
	repo := s.repos.ForOrg(orgID)
	inv, err := repo.Get(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusDraft {
		return Invoice{}, ErrInvalidStatus
	}
	controlID, err := s.mappings.Resolve(ctx, orgID, moduleAR, keyControl)
	if err != nil {
		return Invoice{}, err
	}
	var taxAccountID int64
	if inv.TaxAmount > 0 {
		if taxAccountID, err = s.mappings.Resolve(ctx, orgID, moduleAR, keyTaxOutput); err != nil {
			return Invoice{}, err
		}
	}
	entry, err := s.ledger.PostEntry(ctx, orgID, ledger.PostingInput{
		Date:         inv.IssueDate,
		Description:  "Invoice " + inv.Number,
		Reference:    inv.Number,
		SourceModule: moduleAR,
		SourceID:     inv.SourceID,
		CreatedBy:    actorID,
		Lines:        deriveInvoiceLines(inv, controlID, taxAccountID),
	})
	if err != nil {
		if !errors.Is(err, ledger.ErrSourceAlreadyLinked) {
			return Invoice{}, err
		}
		// An earlier attempt posted the entry but failed before flipping the
		// invoice. Reuse that entry so the retry can finish the flip.
		if entry, err = s.ledger.EntryBySource(ctx, orgID, moduleAR, inv.SourceID); err != nil {
			return Invoice{}, err
		}
	}
	if err := repo.MarkPosted(ctx, id, entry.ID); err != nil {
		return Invoice{}, err
	}
	s.record(ctx, orgID, actorID, "invoice.post", id, map[string]any{"number": inv.Number, "entry_id": entry.ID})
	return repo.Get(ctx, id)
}

// RegisterPayment posts a debit to the deposit account and a credit to the
// receivable control account, then bumps paid_amount. A payment covering the
// outstanding balance flips the invoice to PAID. Requests carrying an
// idempotency key are deduplicated; the key is released again when the
// payment does not go through, so the client may retry with the same key.
func (s *Service) RegisterPayment(ctx context.Context, orgID int64, in RegisterPaymentInput) (Invoice, error) {
	if orgID == 0 {
		return Invoice{}, shared.ErrOrgMissing
	}
	if in.Amount <= 0 {
		return Invoice{}, ErrInvalidAmount
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, moduleAR); err != nil {
			return Invoice{}, err
		}
	}
	releaseKey := func() {
		if in.IdempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, in.IdempotencyKey)
		}
	}
	repo := s.repos.ForOrg(orgID)
	inv, err := repo.Get(ctx, in.InvoiceID)
	if err != nil {
		releaseKey()
		return Invoice{}, err
	}
	if inv.Status != StatusPosted {
		releaseKey()
		return Invoice{}, ErrInvalidStatus
	}
	outstanding := round2(inv.Total - inv.PaidAmount)
	if round2(in.Amount) > outstanding {
		releaseKey()
		return Invoice{}, ErrPaymentExceedsBalance
	}
	depositID := in.DepositAccountID
	if depositID == 0 {
		if depositID, err = s.mappings.Resolve(ctx, orgID, moduleAR, keyCashOnHand); err != nil {
			releaseKey()
			return Invoice{}, err
		}
	}
	controlID, err := s.mappings.Resolve(ctx, orgID, moduleAR, keyControl)
	if err != nil {
		releaseKey()
		return Invoice{}, err
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	amount := round2(in.Amount)
	entry, err := s.ledger.PostEntry(ctx, orgID, ledger.PostingInput{
		Date:        paidAt,
		Description: "Payment for " + inv.Number,
		Reference:   inv.Number,
		CreatedBy:   in.ActorID,
		Lines: []ledger.PostingLineInput{
			{AccountID: depositID, Debit: amount, ContactID: &inv.ContactID},
			{AccountID: controlID, Credit: amount, ContactID: &inv.ContactID},
		},
	})
	if err != nil {
		releaseKey()
		return Invoice{}, err
	}
	updated, err := repo.ApplyPayment(ctx, Payment{
		InvoiceID: in.InvoiceID,
		Amount:    amount,
		PaidAt:    paidAt,
		Method:    in.Method,
		Note:      in.Note,
		EntryID:   entry.ID,
	})
	if err != nil {
		// The cash entry is already on the books, so back it out with a
		// reversal before surfacing the failure.
		if _, revErr := s.ledger.ReverseEntry(ctx, orgID, ledger.ReverseInput{
			EntryID:     entry.ID,
			ActorID:     in.ActorID,
			Description: "Reversal of payment for " + inv.Number,
		}); revErr != nil {
			err = errors.Join(err, revErr)
		}
		releaseKey()
		return Invoice{}, err
	}
	s.record(ctx, orgID, in.ActorID, "invoice.payment", in.InvoiceID, map[string]any{
		"amount": amount, "entry_id": entry.ID, "status": updated.Status,
	})
	return updated, nil
}

// VoidInvoice cancels an invoice. Drafts are voided in place; posted
// invoices reverse their journal entry first so balances roll back through
// the ledger. Paid invoices cannot be voided.
func (s *Service) VoidInvoice(ctx context.Context, orgID, id, actorID int64) (Invoice, error) {
	if orgID == 0 {
		return Invoice{}, shared.ErrOrgMissing
	}
	repo := s.repos.ForOrg(orgID)
	inv, err := repo.Get(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	switch inv.Status {
	case StatusDraft:
	case StatusPosted:
		if inv.PaidAmount > 0 {
			return Invoice{}, ErrInvalidStatus
		}
		if inv.PostedEntryID == nil {
			return Invoice{}, ledger.ErrEntryNotFound
		}
		if _, err := s.ledger.ReverseEntry(ctx, orgID, ledger.ReverseInput{
			EntryID:     *inv.PostedEntryID,
			ActorID:     actorID,
			Description: "Void invoice " + inv.Number,
		}); err != nil {
			return Invoice{}, err
		}
	default:
		return Invoice{}, ErrInvalidStatus
	}
	if err := repo.MarkVoid(ctx, id); err != nil {
		return Invoice{}, err
	}
	s.record(ctx, orgID, actorID, "invoice.void", id, map[string]any{"number": inv.Number})
	return repo.Get(ctx, id)
}

// GetInvoice loads one invoice with lines.
func (s *Service) GetInvoice(ctx context.Context, orgID, id int64) (Invoice, error) {
	if orgID == 0 {
		return Invoice{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Get(ctx, id)
}

// ListInvoices returns invoices, optionally filtered by status.
func (s *Service) ListInvoices(ctx context.Context, orgID int64, filters shared.ListFilters, status InvoiceStatus) ([]Invoice, int, error) {
	if orgID == 0 {
		return nil, 0, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).List(ctx, filters, status)
}

// ListPayments returns payments recorded against an invoice.
func (s *Service) ListPayments(ctx context.Context, orgID, invoiceID int64) ([]Payment, error) {
	if orgID == 0 {
		return nil, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).ListPayments(ctx, invoiceID)
}

// Aging summarises outstanding receivables by days overdue.
func (s *Service) Aging(ctx context.Context, orgID int64) (AgingBucket, error) {
	if orgID == 0 {
		return AgingBucket{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).Aging(ctx, s.now())
}

// ListOverdue returns posted invoices past their due date.
func (s *Service) ListOverdue(ctx context.Context, orgID int64) ([]Invoice, error) {
	if orgID == 0 {
		return nil, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).ListOverdue(ctx, s.now())
}

func (s *Service) record(ctx context.Context, orgID, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
		At:       s.now(),
	})
}

// deriveInvoiceLines builds the journal lines for a posted invoice: one
// debit against the receivable control account and credits against each
// line's revenue account plus the tax output account.
func deriveInvoiceLines(inv Invoice, controlAccountID, taxAccountID int64) []ledger.PostingLineInput {
	lines := make([]ledger.PostingLineInput, 0, len(inv.Lines)+2)
	lines = append(lines, ledger.PostingLineInput{
		AccountID:   controlAccountID,
		Debit:       inv.Total,
		Description: "Invoice " + inv.Number,
		ContactID:   &inv.ContactID,
	})
	for _, line := range inv.Lines {
		lines = append(lines, ledger.PostingLineInput{
			AccountID:   line.AccountID,
			Credit:      line.LineTotal,
			Description: line.Description,
		})
	}
	if inv.TaxAmount > 0 {
		lines = append(lines, ledger.PostingLineInput{
			AccountID:   taxAccountID,
			Credit:      inv.TaxAmount,
			Description: "Tax on " + inv.Number,
		})
	}
	return lines
}

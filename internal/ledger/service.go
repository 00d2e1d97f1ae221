package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearbooks/clearbooks/internal/shared"
)

// RepositoryProvider yields an org-scoped repository per call.
type RepositoryProvider interface {
	ForOrg(orgID int64) Repository
}

// AuditPort records posting activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the double-entry posting invariants: balanced lines, atomic
// entry+line+balance writes, and reversal by negation entry.
type Service struct {
	repos RepositoryProvider
	audit AuditPort
	now   func() time.Time
}

// NewService builds the posting service.
func NewService(repos RepositoryProvider, audit AuditPort) *Service {
	return &Service{repos: repos, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used in tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PostEntry validates the input and commits the entry, its lines and the
// per-account balance adjustments in a single transaction. A failure at any
// step rolls back every write, so a retried call never double-posts.
func (s *Service) PostEntry(ctx context.Context, orgID int64, input PostingInput) (JournalEntry, error) {
	if orgID == 0 {
		return JournalEntry{}, shared.ErrOrgMissing
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repos.ForOrg(orgID).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.verifyAccounts(ctx, tx, input.Lines); err != nil {
			return err
		}
		inserted, err := tx.InsertEntry(ctx, input)
		if err != nil {
			return err
		}
		lines, err := tx.InsertLines(ctx, inserted.ID, input.Lines)
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			if err := tx.AdjustBalance(ctx, line.AccountID, line.Debit-line.Credit); err != nil {
				return err
			}
		}
		if input.SourceModule != "" {
			if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, inserted.ID); err != nil {
				return err
			}
		}
		inserted.Lines = lines
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  input.CreatedBy,
			Action:   "journal.post",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"number": entry.Number,
				"total":  entry.Total,
				"source": input.SourceModule,
			},
			At: s.now(),
		})
	}
	return entry, nil
}

// ReverseEntry posts a negation entry for a posted journal and marks the
// original REVERSED within the same transaction. Reversal reuses the line
// set with debit and credit swapped, so account balances return to their
// pre-posting values through the ordinary balance adjustment path.
func (s *Service) ReverseEntry(ctx context.Context, orgID int64, input ReverseInput) (JournalEntry, error) {
	if orgID == 0 {
		return JournalEntry{}, shared.ErrOrgMissing
	}
	if input.EntryID == 0 {
		return JournalEntry{}, ErrEntryNotFound
	}
	var reversal JournalEntry
	var originalNumber int64
	err := s.repos.ForOrg(orgID).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, lines, err := tx.GetEntryWithLines(ctx, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return ErrInvalidStatus
		}
		originalNumber = original.Number
		posting := PostingInput{
			Date:        original.Date,
			Description: defaultReversalDescription(input.Description, original.Number),
			Reference:   original.Reference,
			CreatedBy:   input.ActorID,
			Lines:       reverseLines(lines),
		}
		inserted, err := tx.InsertEntry(ctx, posting)
		if err != nil {
			return err
		}
		insertedLines, err := tx.InsertLines(ctx, inserted.ID, posting.Lines)
		if err != nil {
			return err
		}
		for _, line := range posting.Lines {
			if err := tx.AdjustBalance(ctx, line.AccountID, line.Debit-line.Credit); err != nil {
				return err
			}
		}
		if err := tx.UpdateEntryStatus(ctx, original.ID, EntryStatusReversed); err != nil {
			return err
		}
		inserted.Lines = insertedLines
		reversal = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OrgID:    orgID,
			ActorID:  input.ActorID,
			Action:   "journal.reverse",
			Entity:   "journal_entry",
			EntityID: fmt.Sprintf("%d", input.EntryID),
			Meta: map[string]any{
				"reversal_id":     reversal.ID,
				"reversal_number": reversal.Number,
				"original_number": originalNumber,
			},
			At: s.now(),
		})
	}
	return reversal, nil
}

// GetEntry loads one entry with its lines.
func (s *Service) GetEntry(ctx context.Context, orgID, entryID int64) (JournalEntry, error) {
	if orgID == 0 {
		return JournalEntry{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).GetEntry(ctx, entryID)
}

// EntryBySource returns the entry already linked to a source document.
// Document flows use it to finish their status flip when a retry runs into
// the source link from an earlier, partially completed attempt.
func (s *Service) EntryBySource(ctx context.Context, orgID int64, module string, ref uuid.UUID) (JournalEntry, error) {
	if orgID == 0 {
		return JournalEntry{}, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).FindEntryBySource(ctx, module, ref)
}

// ListEntries returns recent entries, newest first.
func (s *Service) ListEntries(ctx context.Context, orgID int64, filters shared.ListFilters) ([]JournalEntry, error) {
	if orgID == 0 {
		return nil, shared.ErrOrgMissing
	}
	return s.repos.ForOrg(orgID).ListEntries(ctx, filters.Limit, filters.Offset())
}

func (s *Service) verifyAccounts(ctx context.Context, tx TxRepository, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccounts(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		account, ok := accounts[id]
		if !ok {
			return ErrUnknownAccount
		}
		if !account.IsActive {
			return ErrAccountInactive
		}
	}
	return nil
}

func defaultReversalDescription(description string, number int64) string {
	if description != "" {
		return description
	}
	return fmt.Sprintf("Reversal of JE %d", number)
}

// Package ledger implements double-entry journal posting and running
// balance maintenance. Every balance change in the system goes through
// Service.PostEntry so the journal remains the sole source of truth.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// EntryStatus enumerates journal entry lifecycle values.
type EntryStatus string

const (
	EntryStatusPosted   EntryStatus = "POSTED"
	EntryStatusReversed EntryStatus = "REVERSED"
)

// Account models a chart of accounts node with its running balance.
type Account struct {
	ID        int64       `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	ParentID  *int64      `json:"parent_id,omitempty"`
	Balance   float64     `json:"balance"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// JournalEntry captures posting metadata. Total always equals the sum of
// line debits, which the balance invariant makes equal to the credit sum.
type JournalEntry struct {
	ID           int64         `json:"id"`
	Number       int64         `json:"number"`
	Date         time.Time     `json:"date"`
	Description  string        `json:"description"`
	Reference    string        `json:"reference,omitempty"`
	SourceModule string        `json:"source_module,omitempty"`
	SourceID     uuid.UUID     `json:"source_id,omitempty"`
	Total        float64       `json:"total"`
	Status       EntryStatus   `json:"status"`
	CreatedBy    int64         `json:"created_by,omitempty"`
	PostedAt     time.Time     `json:"posted_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Lines        []JournalLine `json:"lines,omitempty"`
}

// JournalLine stores a debit or credit amount against one account.
type JournalLine struct {
	ID          int64     `json:"id"`
	EntryID     int64     `json:"entry_id"`
	AccountID   int64     `json:"account_id"`
	Debit       float64   `json:"debit"`
	Credit      float64   `json:"credit"`
	Description string    `json:"description,omitempty"`
	ContactID   *int64    `json:"contact_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PostingLineInput describes one journal line of a posting request.
type PostingLineInput struct {
	AccountID   int64
	Debit       float64
	Credit      float64
	Description string
	ContactID   *int64
}

// PostingInput groups fields required to create a journal entry.
// SourceModule/SourceID are set by document flows (AR, AP) and give
// posting idempotency through the source link table.
type PostingInput struct {
	Date         time.Time
	Description  string
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	CreatedBy    int64
	Lines        []PostingLineInput
}

// ReverseInput wraps parameters for reversing a posted entry.
type ReverseInput struct {
	EntryID     int64
	ActorID     int64
	Description string
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: debits must equal credits")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: entry requires at least two lines")
	// ErrUnknownAccount indicates a line references an account the organization does not own.
	ErrUnknownAccount = errors.New("ledger: unknown account")
	// ErrAccountInactive indicates posting against a deactivated account.
	ErrAccountInactive = errors.New("ledger: account is inactive")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrInvalidStatus indicates the action cannot proceed from the current status.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrSourceAlreadyLinked indicates the source document was already posted.
	ErrSourceAlreadyLinked = errors.New("ledger: source already linked")
	// ErrMappingNotFound indicates a missing account mapping.
	ErrMappingNotFound = errors.New("ledger: account mapping not found")
)

// Validate ensures posting input meets the balance and precision invariants.
// Amounts carry at most two decimal places; the debit and credit totals must
// agree once rounded to cents, which absorbs sub-cent floating point slack.
func (in PostingInput) Validate() error {
	if in.Date.IsZero() {
		return errors.New("ledger: entry date required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		if !centPrecise(line.Debit) || !centPrecise(line.Credit) {
			return fmt.Errorf("ledger: line %d amount exceeds cent precision", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if math.Round(debit*100) != math.Round(credit*100) {
		return ErrUnbalanced
	}
	return nil
}

// Total returns the entry total, defined as the debit sum rounded to cents.
func (in PostingInput) Total() float64 {
	var debit float64
	for _, line := range in.Lines {
		debit += line.Debit
	}
	return math.Round(debit*100) / 100
}

func centPrecise(v float64) bool {
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

func reverseLines(lines []JournalLine) []PostingLineInput {
	out := make([]PostingLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
			ContactID:   line.ContactID,
		})
	}
	return out
}

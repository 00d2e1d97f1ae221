package accounts

import (
	"errors"
	"time"

	"github.com/clearbooks/clearbooks/internal/ledger"
)

// Account is the chart-of-accounts management view of a ledger account.
// Balance is read-only here; it only moves through journal postings.
type Account struct {
	ID        int64              `json:"id"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Type      ledger.AccountType `json:"type"`
	ParentID  *int64             `json:"parent_id,omitempty"`
	Balance   float64            `json:"balance"`
	IsActive  bool               `json:"is_active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CreateInput carries writable account fields.
type CreateInput struct {
	Code     string             `json:"code" validate:"required"`
	Name     string             `json:"name" validate:"required"`
	Type     ledger.AccountType `json:"type" validate:"required"`
	ParentID *int64             `json:"parent_id"`
}

var (
	// ErrNotFound indicates a missing account.
	ErrNotFound = errors.New("accounts: account not found")
	// ErrDuplicateCode indicates the code is taken within the organization.
	ErrDuplicateCode = errors.New("accounts: code already in use")
	// ErrInvalidType indicates an unknown account type.
	ErrInvalidType = errors.New("accounts: invalid account type")
	// ErrUnknownParent indicates the parent account does not exist in the organization.
	ErrUnknownParent = errors.New("accounts: parent account not found")
	// ErrCodeRequired indicates a blank account code.
	ErrCodeRequired = errors.New("accounts: code is required")
	// ErrNameRequired indicates a blank account name.
	ErrNameRequired = errors.New("accounts: name is required")
)

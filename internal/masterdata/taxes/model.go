package taxes

import (
	"errors"
	"time"
)

// Applicability restricts where a tax rate may be used.
type Applicability string

const (
	AppliesToSales    Applicability = "SALES"
	AppliesToPurchase Applicability = "PURCHASE"
	AppliesToBoth     Applicability = "BOTH"
)

// TaxRate represents a percentage tax configuration.
type TaxRate struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Rate      float64       `json:"rate"`
	AppliesTo Applicability `json:"applies_to"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CreateInput carries writable tax rate fields.
type CreateInput struct {
	Name      string        `json:"name" validate:"required"`
	Rate      float64       `json:"rate" validate:"gte=0,lte=100"`
	AppliesTo Applicability `json:"applies_to" validate:"required"`
}

var (
	// ErrNotFound indicates a missing tax rate.
	ErrNotFound = errors.New("taxes: tax rate not found")
	// ErrInvalidRate indicates a rate outside 0-100.
	ErrInvalidRate = errors.New("taxes: rate must be between 0 and 100")
	// ErrInvalidApplicability indicates an unknown applicability value.
	ErrInvalidApplicability = errors.New("taxes: applies_to must be SALES, PURCHASE or BOTH")
	// ErrNameRequired indicates a blank tax name.
	ErrNameRequired = errors.New("taxes: name is required")
)

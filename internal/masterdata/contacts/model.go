package contacts

import (
	"errors"
	"time"
)

// ContactKind marks how a contact participates in documents.
type ContactKind string

const (
	KindCustomer ContactKind = "CUSTOMER"
	KindSupplier ContactKind = "SUPPLIER"
	KindBoth     ContactKind = "BOTH"
)

// Contact is a customer, supplier, or both.
type Contact struct {
	ID        int64       `json:"id"`
	Kind      ContactKind `json:"kind"`
	Name      string      `json:"name"`
	Email     string      `json:"email,omitempty"`
	Phone     string      `json:"phone,omitempty"`
	Address   string      `json:"address,omitempty"`
	TaxNumber string      `json:"tax_number,omitempty"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CreateInput carries writable contact fields.
type CreateInput struct {
	Kind      ContactKind `json:"kind" validate:"required"`
	Name      string      `json:"name" validate:"required"`
	Email     string      `json:"email" validate:"omitempty,email"`
	Phone     string      `json:"phone"`
	Address   string      `json:"address"`
	TaxNumber string      `json:"tax_number"`
}

var (
	// ErrNotFound indicates a missing contact.
	ErrNotFound = errors.New("contacts: contact not found")
	// ErrInvalidKind indicates an unknown contact kind.
	ErrInvalidKind = errors.New("contacts: kind must be CUSTOMER, SUPPLIER or BOTH")
	// ErrNameRequired indicates a blank contact name.
	ErrNameRequired = errors.New("contacts: name is required")
)

// Package ar manages customer invoices and their payments. Posting an
// invoice never touches account balances directly; it derives journal lines
// and hands them to the ledger service, which owns the balance invariant.
package ar

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates invoice lifecycle values.
type InvoiceStatus string

const (
	StatusDraft  InvoiceStatus = "DRAFT"
	StatusPosted InvoiceStatus = "POSTED"
	StatusPaid   InvoiceStatus = "PAID"
	StatusVoid   InvoiceStatus = "VOID"
)

// Invoice is a customer invoice header. Totals are computed server-side
// from the lines; PaidAmount only moves through RegisterPayment.
type Invoice struct {
	ID            int64         `json:"id"`
	Number        string        `json:"number"`
	ContactID     int64         `json:"contact_id"`
	IssueDate     time.Time     `json:"issue_date"`
	DueDate       time.Time     `json:"due_date"`
	Status        InvoiceStatus `json:"status"`
	Subtotal      float64       `json:"subtotal"`
	TaxAmount     float64       `json:"tax_amount"`
	Total         float64       `json:"total"`
	PaidAmount    float64       `json:"paid_amount"`
	SourceID      uuid.UUID     `json:"source_id"`
	PostedEntryID *int64        `json:"posted_entry_id,omitempty"`
	CreatedBy     int64         `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Lines         []InvoiceLine `json:"lines,omitempty"`
}

// InvoiceLine is one billed item. AccountID names the revenue account the
// line credits when the invoice posts.
type InvoiceLine struct {
	ID          int64   `json:"id"`
	InvoiceID   int64   `json:"invoice_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	AccountID   int64   `json:"account_id"`
	TaxRateID   *int64  `json:"tax_rate_id,omitempty"`
	TaxAmount   float64 `json:"tax_amount"`
	LineTotal   float64 `json:"line_total"`
}

// Payment records money received against an invoice.
type Payment struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"invoice_id"`
	Amount    float64   `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
	Method    string    `json:"method,omitempty"`
	Note      string    `json:"note,omitempty"`
	EntryID   int64     `json:"entry_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInvoiceInput carries the writable invoice fields.
type CreateInvoiceInput struct {
	ContactID int64
	IssueDate time.Time
	DueDate   time.Time
	CreatedBy int64
	Lines     []CreateInvoiceLineInput
}

// CreateInvoiceLineInput carries one writable invoice line.
type CreateInvoiceLineInput struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	AccountID   int64
	TaxRateID   *int64
}

// RegisterPaymentInput carries a payment request.
type RegisterPaymentInput struct {
	InvoiceID        int64
	Amount           float64
	PaidAt           time.Time
	Method           string
	Note             string
	DepositAccountID int64
	ActorID          int64
	IdempotencyKey   string
}

// AgingBucket summarises outstanding totals by days overdue.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = errors.New("ar: invoice not found")
	// ErrInvalidStatus indicates the action cannot proceed from the current status.
	ErrInvalidStatus = errors.New("ar: invalid status transition")
	// ErrNoLines indicates an invoice without lines.
	ErrNoLines = errors.New("ar: invoice requires at least one line")
	// ErrInvalidAmount indicates a non-positive quantity, price or payment amount.
	ErrInvalidAmount = errors.New("ar: amount must be positive")
	// ErrPaymentExceedsBalance indicates a payment larger than the outstanding balance.
	ErrPaymentExceedsBalance = errors.New("ar: payment exceeds outstanding balance")
	// ErrTaxNotApplicable indicates a purchase-only tax rate on a sales document.
	ErrTaxNotApplicable = errors.New("ar: tax rate not applicable to sales")
)

// Package ap manages supplier bills and their payments. Posting a bill
// derives journal lines (expense debits, payable credit) and routes them
// through the ledger service, mirroring the receivables flow.
package ap

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BillStatus enumerates bill lifecycle values.
type BillStatus string

const (
	StatusDraft  BillStatus = "DRAFT"
	StatusPosted BillStatus = "POSTED"
	StatusPaid   BillStatus = "PAID"
	StatusVoid   BillStatus = "VOID"
)

// Bill is a supplier bill header. VendorRef holds the supplier's own
// invoice number and is unique per supplier to catch duplicate entry.
type Bill struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	ContactID     int64      `json:"contact_id"`
	VendorRef     string     `json:"vendor_ref,omitempty"`
	IssueDate     time.Time  `json:"issue_date"`
	DueDate       time.Time  `json:"due_date"`
	Status        BillStatus `json:"status"`
	Subtotal      float64    `json:"subtotal"`
	TaxAmount     float64    `json:"tax_amount"`
	Total         float64    `json:"total"`
	PaidAmount    float64    `json:"paid_amount"`
	SourceID      uuid.UUID  `json:"source_id"`
	PostedEntryID *int64     `json:"posted_entry_id,omitempty"`
	CreatedBy     int64      `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Lines         []BillLine `json:"lines,omitempty"`
}

// BillLine is one billed item. AccountID names the expense or asset
// account the line debits when the bill posts.
type BillLine struct {
	ID          int64   `json:"id"`
	BillID      int64   `json:"bill_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	AccountID   int64   `json:"account_id"`
	TaxRateID   *int64  `json:"tax_rate_id,omitempty"`
	TaxAmount   float64 `json:"tax_amount"`
	LineTotal   float64 `json:"line_total"`
}

// BillPayment records money paid against a bill.
type BillPayment struct {
	ID        int64     `json:"id"`
	BillID    int64     `json:"bill_id"`
	Amount    float64   `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
	Method    string    `json:"method,omitempty"`
	Note      string    `json:"note,omitempty"`
	EntryID   int64     `json:"entry_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBillInput carries the writable bill fields.
type CreateBillInput struct {
	ContactID int64
	VendorRef string
	IssueDate time.Time
	DueDate   time.Time
	CreatedBy int64
	Lines     []CreateBillLineInput
}

// CreateBillLineInput carries one writable bill line.
type CreateBillLineInput struct {
	Description string
	Quantity    float64
	UnitPrice   float64
	AccountID   int64
	TaxRateID   *int64
}

// PayBillInput carries a bill payment request.
type PayBillInput struct {
	BillID         int64
	Amount         float64
	PaidAt         time.Time
	Method         string
	Note           string
	FromAccountID  int64
	ActorID        int64
	IdempotencyKey string
}

// AgingBucket summarises outstanding payables by days overdue.
type AgingBucket struct {
	Current   float64 `json:"current"`
	Bucket30  float64 `json:"bucket_30"`
	Bucket60  float64 `json:"bucket_60"`
	Bucket90  float64 `json:"bucket_90"`
	Bucket120 float64 `json:"bucket_120"`
}

var (
	// ErrBillNotFound indicates a missing bill.
	ErrBillNotFound = errors.New("ap: bill not found")
	// ErrInvalidStatus indicates the action cannot proceed from the current status.
	ErrInvalidStatus = errors.New("ap: invalid status transition")
	// ErrNoLines indicates a bill without lines.
	ErrNoLines = errors.New("ap: bill requires at least one line")
	// ErrInvalidAmount indicates a non-positive quantity, price or payment amount.
	ErrInvalidAmount = errors.New("ap: amount must be positive")
	// ErrPaymentExceedsBalance indicates a payment larger than the outstanding balance.
	ErrPaymentExceedsBalance = errors.New("ap: payment exceeds outstanding balance")
	// ErrTaxNotApplicable indicates a sales-only tax rate on a purchase document.
	ErrTaxNotApplicable = errors.New("ap: tax rate not applicable to purchases")
	// ErrDuplicateVendorRef indicates the supplier reference was already recorded.
	ErrDuplicateVendorRef = errors.New("ap: vendor reference already recorded for this supplier")
)

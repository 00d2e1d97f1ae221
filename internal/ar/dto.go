package ar

import (
	"fmt"
	"time"
)

// createInvoiceRequest is the wire format for draft invoice creation.
type createInvoiceRequest struct {
	ContactID int64                `json:"contact_id" validate:"required,gt=0"`
	IssueDate string               `json:"issue_date"`
	DueDate   string               `json:"due_date"`
	Lines     []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type invoiceLineRequest struct {
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	AccountID   int64   `json:"account_id" validate:"required,gt=0"`
	TaxRateID   *int64  `json:"tax_rate_id"`
}

type registerPaymentRequest struct {
	Amount           float64 `json:"amount" validate:"required,gt=0"`
	PaidAt           string  `json:"paid_at"`
	Method           string  `json:"method"`
	Note             string  `json:"note"`
	DepositAccountID int64   `json:"deposit_account_id"`
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("ar: invalid %s %q, expected YYYY-MM-DD", field, value)
	}
	return date, nil
}

func (req createInvoiceRequest) toCreateInput(actorID int64) (CreateInvoiceInput, error) {
	issueDate, err := parseDate("issue_date", req.IssueDate)
	if err != nil {
		return CreateInvoiceInput{}, err
	}
	dueDate, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return CreateInvoiceInput{}, err
	}
	in := CreateInvoiceInput{
		ContactID: req.ContactID,
		IssueDate: issueDate,
		DueDate:   dueDate,
		CreatedBy: actorID,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, CreateInvoiceLineInput{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			AccountID:   line.AccountID,
			TaxRateID:   line.TaxRateID,
		})
	}
	return in, nil
}

func (req registerPaymentRequest) toPaymentInput(invoiceID, actorID int64, idempotencyKey string) (RegisterPaymentInput, error) {
	paidAt, err := parseDate("paid_at", req.PaidAt)
	if err != nil {
		return RegisterPaymentInput{}, err
	}
	return RegisterPaymentInput{
		InvoiceID:        invoiceID,
		Amount:           req.Amount,
		PaidAt:           paidAt,
		Method:           req.Method,
		Note:             req.Note,
		DepositAccountID: req.DepositAccountID,
		ActorID:          actorID,
		IdempotencyKey:   idempotencyKey,
	}, nil
}

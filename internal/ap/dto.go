package ap

import (
	"fmt"
	"time"
)

// createBillRequest is the wire format for draft bill creation.
type createBillRequest struct {
	ContactID int64             `json:"contact_id" validate:"required,gt=0"`
	VendorRef string            `json:"vendor_ref"`
	IssueDate string            `json:"issue_date"`
	DueDate   string            `json:"due_date"`
	Lines     []billLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type billLineRequest struct {
	Description string  `json:"description" validate:"required"`
	Quantity    float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
	AccountID   int64   `json:"account_id" validate:"required,gt=0"`
	TaxRateID   *int64  `json:"tax_rate_id"`
}

type payBillRequest struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaidAt        string  `json:"paid_at"`
	Method        string  `json:"method"`
	Note          string  `json:"note"`
	FromAccountID int64   `json:"from_account_id"`
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("ap: invalid %s %q, expected YYYY-MM-DD", field, value)
	}
	return date, nil
}

func (req createBillRequest) toCreateInput(actorID int64) (CreateBillInput, error) {
	issueDate, err := parseDate("issue_date", req.IssueDate)
	if err != nil {
		return CreateBillInput{}, err
	}
	dueDate, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return CreateBillInput{}, err
	}
	in := CreateBillInput{
		ContactID: req.ContactID,
		VendorRef: req.VendorRef,
		IssueDate: issueDate,
		DueDate:   dueDate,
		CreatedBy: actorID,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, CreateBillLineInput{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			AccountID:   line.AccountID,
			TaxRateID:   line.TaxRateID,
		})
	}
	return in, nil
}

func (req payBillRequest) toPayInput(billID, actorID int64, idempotencyKey string) (PayBillInput, error) {
	paidAt, err := parseDate("paid_at", req.PaidAt)
	if err != nil {
		return PayBillInput{}, err
	}
	return PayBillInput{
		BillID:         billID,
		Amount:         req.Amount,
		PaidAt:         paidAt,
		Method:         req.Method,
		Note:           req.Note,
		FromAccountID:  req.FromAccountID,
		ActorID:        actorID,
		IdempotencyKey: idempotencyKey,
	}, nil
}

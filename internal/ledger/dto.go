package ledger

import (
	"fmt"
	"time"
)

// postEntryRequest is the wire format for manual journal posting.
type postEntryRequest struct {
	Date        string            `json:"date" validate:"required"`
	Description string            `json:"description" validate:"required"`
	Reference   string            `json:"reference"`
	Lines       []postLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type postLineRequest struct {
	AccountID    int64   `json:"account_id" validate:"required,gt=0"`
	DebitAmount  float64 `json:"debit_amount" validate:"gte=0"`
	CreditAmount float64 `json:"credit_amount" validate:"gte=0"`
	Description  string  `json:"description"`
	ContactID    *int64  `json:"contact_id"`
}

type reverseEntryRequest struct {
	Description string `json:"description"`
}

func (req postEntryRequest) toPostingInput(actorID int64) (PostingInput, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return PostingInput{}, fmt.Errorf("ledger: invalid date %q, expected YYYY-MM-DD", req.Date)
	}
	lines := make([]PostingLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, PostingLineInput{
			AccountID:   line.AccountID,
			Debit:       line.DebitAmount,
			Credit:      line.CreditAmount,
			Description: line.Description,
			ContactID:   line.ContactID,
		})
	}
	return PostingInput{
		Date:        date,
		Description: req.Description,
		Reference:   req.Reference,
		CreatedBy:   actorID,
		Lines:       lines,
	}, nil
}

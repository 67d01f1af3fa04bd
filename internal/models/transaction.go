package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction records one balance movement, successful or not. FromCardID
// is nil for terminal top-ups (including self-transfers). A transfer that
// fails mid-flight still leaves a FAILED row carrying the error message.
type Transaction struct {
	ID           int64             `json:"id"`
	Reference    string            `json:"reference"`
	FromCardID   *int64            `json:"from_card_id,omitempty"`
	ToCardID     int64             `json:"to_card_id"`
	Amount       decimal.Decimal   `json:"amount"`
	Description  string            `json:"description,omitempty"`
	Status       TransactionStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
}

// CardIDs returns the distinct card IDs touched by the transaction.
func (t *Transaction) CardIDs() []int64 {
	ids := []int64{t.ToCardID}
	if t.FromCardID != nil && *t.FromCardID != t.ToCardID {
		ids = append(ids, *t.FromCardID)
	}
	return ids
}

package models

import "time"

// CardBlockRequest is a user's request to freeze a card, resolved by an
// admin. At most one PENDING request may exist per card.
type CardBlockRequest struct {
	ID           int64         `json:"id"`
	CardID       int64         `json:"card_id"`
	UserID       int64         `json:"user_id"`
	Reason       BlockReason   `json:"reason"`
	Status       RequestStatus `json:"status"`
	AdminComment string        `json:"admin_comment,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

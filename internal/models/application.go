package models

import "time"

// CardApplication is a user's request to be issued a new card. It leaves
// PENDING exactly once and is immutable afterwards.
type CardApplication struct {
	ID          int64         `json:"id"`
	UserID      int64         `json:"user_id"`
	CardType    CardType      `json:"card_type"`
	Comment     string        `json:"comment,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card represents an issued bank card. NumberCipher holds the encrypted
// card number as stored; the plaintext never leaves the codec except as a
// masked view.
type Card struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"owner_id"`
	NumberCipher string          `json:"-"`
	Type         CardType        `json:"type"`
	Status       CardStatus      `json:"status"`
	Balance      decimal.Decimal `json:"balance"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Expired reports whether the card's expiry date has passed at the given time.
func (c *Card) Expired(now time.Time) bool {
	return c.ExpiryDate.Before(now)
}

// CardView is the presentation form of a card with the number masked.
type CardView struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"owner_id"`
	MaskedNumber string          `json:"card_number"`
	Type         CardType        `json:"type"`
	Status       CardStatus      `json:"status"`
	Balance      decimal.Decimal `json:"balance"`
	ExpiryDate   time.Time       `json:"expiry_date"`
	CreatedAt    time.Time       `json:"created_at"`
}

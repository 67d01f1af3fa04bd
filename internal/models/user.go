package models

import "time"

// User is a directory entry referenced by cards and requests. User
// lifecycle is managed externally; this service only reads it.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

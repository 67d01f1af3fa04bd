package service

import "errors"

// Domain errors surfaced by the core engine. Handlers map these to HTTP
// status codes with errors.Is; reason text is added at the failure site
// via wrapping.
var (
	// ErrNotFound signals an absent entity. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrOwnerNotFound signals that a card's prospective owner does not
	// exist in the user directory.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrAlreadyProcessed signals a second transition attempt on a request
	// or transaction that already left its PENDING/SUCCESS state.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrAlreadyBlocked signals a block attempt on a blocked card.
	ErrAlreadyBlocked = errors.New("card is already blocked")

	// ErrInvalidTransition signals a card status change the lifecycle
	// state machine forbids, e.g. toggling an expired card.
	ErrInvalidTransition = errors.New("invalid card status transition")

	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds signals that a deduction would take a balance
	// below zero. The balance is left unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidBlockRequest signals a block-request precondition failure:
	// card already blocked, expired, or a pending request already exists.
	ErrInvalidBlockRequest = errors.New("invalid block request")

	// ErrCardBlocked and ErrCardExpired reject transfers touching a card
	// that is not ACTIVE.
	ErrCardBlocked = errors.New("card is blocked")
	ErrCardExpired = errors.New("card has expired")

	// ErrAccessDenied signals an authorization failure. Logged as a
	// security-relevant event at the failure site.
	ErrAccessDenied = errors.New("access denied")
)

package models

import (
	"fmt"
	"strings"
)

// CardType is the product class of a card.
type CardType string

const (
	CardTypeDebit   CardType = "DEBIT"
	CardTypeCredit  CardType = "CREDIT"
	CardTypeVirtual CardType = "VIRTUAL"
	CardTypePrepaid CardType = "PREPAID"
)

// ParseCardType converts external input into a CardType.
func ParseCardType(s string) (CardType, error) {
	switch t := CardType(strings.ToUpper(strings.TrimSpace(s))); t {
	case CardTypeDebit, CardTypeCredit, CardTypeVirtual, CardTypePrepaid:
		return t, nil
	default:
		return "", fmt.Errorf("unknown card type %q", s)
	}
}

// CardStatus is a card's lifecycle state. EXPIRED is terminal.
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// RequestStatus is the state of an application or block request. PENDING
// is the only non-terminal state.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether the request can still change.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// ParseRequestStatus converts external input into a RequestStatus.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown request status %q", s)
	}
}

// BlockReason is the user-stated cause of a block request.
type BlockReason string

const (
	BlockReasonLost        BlockReason = "LOST"
	BlockReasonStolen      BlockReason = "STOLEN"
	BlockReasonCompromised BlockReason = "COMPROMISED"
	BlockReasonSuspicious  BlockReason = "SUSPICIOUS"
	BlockReasonOther       BlockReason = "OTHER"
)

// ParseBlockReason converts external input into a BlockReason.
func ParseBlockReason(s string) (BlockReason, error) {
	switch r := BlockReason(strings.ToUpper(strings.TrimSpace(s))); r {
	case BlockReasonLost, BlockReasonStolen, BlockReasonCompromised, BlockReasonSuspicious, BlockReasonOther:
		return r, nil
	default:
		return "", fmt.Errorf("unknown block reason %q", s)
	}
}

// TransactionStatus is the outcome of a balance movement.
type TransactionStatus string

const (
	TransactionStatusSuccess   TransactionStatus = "SUCCESS"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
	TransactionStatusPending   TransactionStatus = "PENDING"
)

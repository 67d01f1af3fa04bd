package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/manurov/card-service/internal/auth"
	"github.com/manurov/card-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const topUpDescription = "Terminal top-up"

// TransferService validates and executes balance transfers. Validation
// failures are rejected before any record exists; once execution starts,
// the attempt always leaves exactly one transaction row: SUCCESS with both
// balance sides applied, or FAILED with neither.
type TransferService struct {
	store  Store
	cards  *CardService
	access *Access
	log    *logrus.Logger
}

// NewTransferService initializes the transfer engine.
func NewTransferService(store Store, cards *CardService, access *Access, log *logrus.Logger) *TransferService {
	return &TransferService{store: store, cards: cards, access: access, log: log}
}

// Transfer moves amount from one of the caller's cards to another and
// returns the transaction ID. A transfer where both card IDs match is a
// pure credit: the deduction is skipped and the record is tagged as a
// terminal top-up with no source card.
func (s *TransferService) Transfer(ctx context.Context, caller auth.Caller, fromCardID, toCardID int64, amount decimal.Decimal, description string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	fromCard, err := s.store.FindCardByID(ctx, fromCardID, false)
	if err != nil {
		return 0, fmt.Errorf("sender card: %w", err)
	}
	toCard, err := s.store.FindCardByID(ctx, toCardID, false)
	if err != nil {
		return 0, fmt.Errorf("recipient card: %w", err)
	}

	if !s.access.CanAccess(fromCard, caller) || !s.access.CanAccess(toCard, caller) {
		s.log.Warnf("User %d denied transfer between cards %d and %d", caller.UserID, fromCardID, toCardID)
		return 0, fmt.Errorf("%w: card does not belong to user", ErrAccessDenied)
	}

	if err := transferable(fromCard, "sender"); err != nil {
		return 0, err
	}
	if err := transferable(toCard, "recipient"); err != nil {
		return 0, err
	}

	self := fromCardID == toCardID
	if !self && fromCard.Balance.LessThan(amount) {
		return 0, fmt.Errorf("%w: sender card %d", ErrInsufficientFunds, fromCardID)
	}

	txn := &models.Transaction{
		Reference:   uuid.NewString(),
		ToCardID:    toCardID,
		Amount:      amount,
		Description: description,
		Status:      models.TransactionStatusSuccess,
	}
	if self {
		txn.Description = topUpDescription
	} else {
		txn.FromCardID = &fromCardID
	}

	execErr := s.store.WithinTx(ctx, func(st Store) error {
		if err := s.moveBalances(ctx, st, txn, fromCardID); err != nil {
			return err
		}
		now := time.Now().UTC()
		txn.ProcessedAt = &now
		if err := st.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}
		return nil
	})
	if execErr != nil {
		s.log.Errorf("Error during transfer from card %d to card %d: %v", fromCardID, toCardID, execErr)
		s.recordFailure(ctx, txn, execErr)
		return 0, fmt.Errorf("transfer failed: %w", execErr)
	}

	s.log.Infof("Transfer completed from card %d to card %d amount %s, transaction ID %d",
		fromCardID, toCardID, amount, txn.ID)
	return txn.ID, nil
}

// moveBalances applies both balance sides inside the surrounding unit of
// work. Cards are touched in ascending ID order so two opposing transfers
// cannot deadlock on row locks.
func (s *TransferService) moveBalances(ctx context.Context, st Store, txn *models.Transaction, fromCardID int64) error {
	if txn.FromCardID == nil {
		return s.cards.addBalance(ctx, st, txn.ToCardID, txn.Amount)
	}
	if fromCardID < txn.ToCardID {
		if err := s.cards.deductBalance(ctx, st, fromCardID, txn.Amount); err != nil {
			return err
		}
		return s.cards.addBalance(ctx, st, txn.ToCardID, txn.Amount)
	}
	if err := s.cards.addBalance(ctx, st, txn.ToCardID, txn.Amount); err != nil {
		return err
	}
	return s.cards.deductBalance(ctx, st, fromCardID, txn.Amount)
}

// recordFailure persists a FAILED transaction carrying the error message
// in its own unit of work, after the failed one rolled back. Best effort:
// if even this write fails, the attempt is only visible in the log.
func (s *TransferService) recordFailure(ctx context.Context, txn *models.Transaction, cause error) {
	now := time.Now().UTC()
	failed := &models.Transaction{
		Reference:    txn.Reference,
		FromCardID:   txn.FromCardID,
		ToCardID:     txn.ToCardID,
		Amount:       txn.Amount,
		Description:  txn.Description,
		Status:       models.TransactionStatusFailed,
		ErrorMessage: cause.Error(),
		ProcessedAt:  &now,
	}
	if err := s.store.CreateTransaction(ctx, failed); err != nil {
		s.log.Errorf("Failed to record FAILED transaction for cards %v -> %d: %v",
			txn.FromCardID, txn.ToCardID, err)
	}
}

// TopUp is the admin path for crediting a card from outside the ledger.
// It produces a SUCCESS record with no source card.
func (s *TransferService) TopUp(ctx context.Context, caller auth.Caller, cardID int64, amount decimal.Decimal) (int64, error) {
	if !s.access.IsAdmin(caller) {
		s.log.Warnf("User %d denied top-up of card %d", caller.UserID, cardID)
		return 0, fmt.Errorf("%w: top-up requires admin role", ErrAccessDenied)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	card, err := s.store.FindCardByID(ctx, cardID, false)
	if err != nil {
		return 0, err
	}
	if err := transferable(card, "recipient"); err != nil {
		return 0, err
	}

	txn := &models.Transaction{
		Reference:   uuid.NewString(),
		ToCardID:    cardID,
		Amount:      amount,
		Description: topUpDescription,
		Status:      models.TransactionStatusSuccess,
	}
	execErr := s.store.WithinTx(ctx, func(st Store) error {
		if err := s.cards.addBalance(ctx, st, cardID, amount); err != nil {
			return err
		}
		now := time.Now().UTC()
		txn.ProcessedAt = &now
		if err := st.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}
		return nil
	})
	if execErr != nil {
		s.log.Errorf("Error during top-up of card %d: %v", cardID, execErr)
		s.recordFailure(ctx, txn, execErr)
		return 0, fmt.Errorf("top-up failed: %w", execErr)
	}

	s.log.Infof("Card %d topped up by %s, transaction ID %d", cardID, amount, txn.ID)
	return txn.ID, nil
}

// Refund reverses a SUCCESS transfer: the source card is credited back and
// the destination debited by the original amount, and the record moves to
// REFUNDED. Terminal; a second refund fails with ErrAlreadyProcessed.
func (s *TransferService) Refund(ctx context.Context, transactionID int64, caller auth.Caller) (*models.Transaction, error) {
	if !s.access.IsAdmin(caller) {
		s.log.Warnf("User %d denied refund of transaction %d", caller.UserID, transactionID)
		return nil, fmt.Errorf("%w: refund requires admin role", ErrAccessDenied)
	}
	s.log.Infof("Refunding transaction %d", transactionID)

	var refunded *models.Transaction
	err := s.store.WithinTx(ctx, func(st Store) error {
		txn, err := st.FindTransactionByID(ctx, transactionID, true)
		if err != nil {
			return err
		}
		if txn.Status != models.TransactionStatusSuccess {
			return fmt.Errorf("%w: transaction %d is %s", ErrAlreadyProcessed, transactionID, txn.Status)
		}

		if txn.FromCardID != nil {
			if err := s.cards.addBalance(ctx, st, *txn.FromCardID, txn.Amount); err != nil {
				return err
			}
		}
		if err := s.cards.deductBalance(ctx, st, txn.ToCardID, txn.Amount); err != nil {
			return fmt.Errorf("recipient card cannot cover refund: %w", err)
		}

		now := time.Now().UTC()
		txn.Status = models.TransactionStatusRefunded
		txn.ProcessedAt = &now
		if err := st.UpdateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		refunded = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Transaction %d refunded", transactionID)
	return refunded, nil
}

// GetTransaction returns a transaction to a card owner on either side, or
// to an admin.
func (s *TransferService) GetTransaction(ctx context.Context, transactionID int64, caller auth.Caller) (*models.Transaction, error) {
	txn, err := s.store.FindTransactionByID(ctx, transactionID, false)
	if err != nil {
		return nil, err
	}
	if caller.IsAdmin() {
		return txn, nil
	}

	involved := false
	for _, cardID := range txn.CardIDs() {
		owner, err := s.access.IsOwner(ctx, cardID, caller)
		if err != nil {
			return nil, err
		}
		if owner {
			involved = true
			break
		}
	}
	if !involved {
		s.log.Warnf("User %d denied access to transaction %d", caller.UserID, transactionID)
		return nil, fmt.Errorf("%w: transaction %d", ErrAccessDenied, transactionID)
	}
	return txn, nil
}

// GetCardTransactions lists the most recent transactions touching a card.
func (s *TransferService) GetCardTransactions(ctx context.Context, cardID int64, caller auth.Caller, limit int) ([]models.Transaction, error) {
	card, err := s.store.FindCardByID(ctx, cardID, false)
	if err != nil {
		return nil, err
	}
	if !s.access.CanAccess(card, caller) {
		s.log.Warnf("User %d denied access to card %d transactions", caller.UserID, cardID)
		return nil, fmt.Errorf("%w: card %d", ErrAccessDenied, cardID)
	}
	return s.store.FindTransactionsByCard(ctx, cardID, limit)
}

// GetUserTransactions lists all transactions touching a user's cards.
func (s *TransferService) GetUserTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return s.store.FindTransactionsByUser(ctx, userID)
}

// MonthlyTransactionCount counts a user's transactions in the calendar
// month containing now.
func (s *TransferService) MonthlyTransactionCount(ctx context.Context, userID int64, now time.Time) (int, error) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return s.store.CountTransactionsByUser(ctx, userID, start, end)
}

// TotalTransferred sums the SUCCESS amounts sent from a user's cards.
func (s *TransferService) TotalTransferred(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.store.TotalTransferredByUser(ctx, userID)
}

func transferable(card *models.Card, role string) error {
	switch card.Status {
	case models.CardStatusBlocked:
		return fmt.Errorf("%w: %s card %d", ErrCardBlocked, role, card.ID)
	case models.CardStatusExpired:
		return fmt.Errorf("%w: %s card %d", ErrCardExpired, role, card.ID)
	}
	return nil
}

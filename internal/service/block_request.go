package service

import (
	"context"
	"fmt"
	"time"

	"github.com/manurov/card-service/internal/auth"
	"github.com/manurov/card-service/internal/models"
	"github.com/sirupsen/logrus"
)

// BlockRequestService runs the card block-request workflow. Creation
// enforces that the card exists, belongs to the caller, is not already
// BLOCKED or EXPIRED, and has no other PENDING block request.
type BlockRequestService struct {
	store  Store
	cards  *CardService
	access *Access
	notify Notifier
	log    *logrus.Logger
}

// NewBlockRequestService initializes the block-request workflow. notify
// may be nil.
func NewBlockRequestService(store Store, cards *CardService, access *Access, notify Notifier, log *logrus.Logger) *BlockRequestService {
	return &BlockRequestService{store: store, cards: cards, access: access, notify: notify, log: log}
}

// Create files a PENDING block request after checking every precondition.
// The uniqueness check and the insert share one unit of work so two
// simultaneous requests for the same card cannot both pass it.
func (s *BlockRequestService) Create(ctx context.Context, caller auth.Caller, cardID int64, reason models.BlockReason) (*models.CardBlockRequest, error) {
	s.log.Infof("Creating block request for card %d by user %d", cardID, caller.UserID)

	var req *models.CardBlockRequest
	err := s.store.WithinTx(ctx, func(st Store) error {
		card, err := st.FindCardByID(ctx, cardID, true)
		if err != nil {
			return err
		}
		if !s.access.CanAccess(card, caller) {
			s.log.Warnf("User %d denied access to card %d", caller.UserID, cardID)
			return fmt.Errorf("%w: card %d", ErrAccessDenied, cardID)
		}

		switch card.Status {
		case models.CardStatusBlocked:
			return fmt.Errorf("%w: card is already blocked", ErrInvalidBlockRequest)
		case models.CardStatusExpired:
			return fmt.Errorf("%w: cannot block expired card", ErrInvalidBlockRequest)
		}

		pending, err := st.HasPendingBlockRequest(ctx, cardID)
		if err != nil {
			return fmt.Errorf("failed to check pending block requests: %w", err)
		}
		if pending {
			return fmt.Errorf("%w: an active block request already exists for this card", ErrInvalidBlockRequest)
		}

		req = &models.CardBlockRequest{
			CardID: cardID,
			UserID: caller.UserID,
			Reason: reason,
			Status: models.RequestStatusPending,
		}
		if err := st.CreateBlockRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to create block request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Block request created with ID %d", req.ID)
	return req, nil
}

// Approve blocks the card and marks the request APPROVED in one unit of
// work.
func (s *BlockRequestService) Approve(ctx context.Context, requestID int64, adminComment string) (*models.CardBlockRequest, error) {
	s.log.Infof("Approving block request %d", requestID)

	var req *models.CardBlockRequest
	err := s.store.WithinTx(ctx, func(st Store) error {
		r, err := st.FindBlockRequestByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: block request %d is %s", ErrAlreadyProcessed, requestID, r.Status)
		}

		if err := s.cards.block(ctx, st, r.CardID, string(r.Reason)); err != nil {
			return err
		}

		now := time.Now().UTC()
		r.Status = models.RequestStatusApproved
		r.AdminComment = adminComment
		r.ProcessedAt = &now
		if err := st.UpdateBlockRequest(ctx, r); err != nil {
			return fmt.Errorf("failed to update block request: %w", err)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Block request %d approved, card %d blocked", requestID, req.CardID)
	s.sendBlocked(ctx, req)
	return req, nil
}

// Reject marks a PENDING block request REJECTED with an admin comment.
func (s *BlockRequestService) Reject(ctx context.Context, requestID int64, adminComment string) (*models.CardBlockRequest, error) {
	s.log.Infof("Rejecting block request %d", requestID)

	var req *models.CardBlockRequest
	err := s.store.WithinTx(ctx, func(st Store) error {
		r, err := st.FindBlockRequestByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: block request %d is %s", ErrAlreadyProcessed, requestID, r.Status)
		}

		now := time.Now().UTC()
		r.Status = models.RequestStatusRejected
		r.AdminComment = adminComment
		r.ProcessedAt = &now
		if err := st.UpdateBlockRequest(ctx, r); err != nil {
			return fmt.Errorf("failed to update block request: %w", err)
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Block request %d rejected", requestID)
	return req, nil
}

// Cancel lets the author withdraw their own PENDING block request.
func (s *BlockRequestService) Cancel(ctx context.Context, requestID, callerUserID int64) error {
	s.log.Infof("Cancelling block request %d by user %d", requestID, callerUserID)

	return s.store.WithinTx(ctx, func(st Store) error {
		r, err := st.FindBlockRequestByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		if r.UserID != callerUserID {
			s.log.Warnf("User %d denied access to block request %d", callerUserID, requestID)
			return fmt.Errorf("%w: block request %d belongs to another user", ErrAccessDenied, requestID)
		}
		if r.Status.Terminal() {
			return fmt.Errorf("%w: block request %d is %s", ErrAlreadyProcessed, requestID, r.Status)
		}

		now := time.Now().UTC()
		r.Status = models.RequestStatusCancelled
		r.ProcessedAt = &now
		if err := st.UpdateBlockRequest(ctx, r); err != nil {
			return fmt.Errorf("failed to update block request: %w", err)
		}

		s.log.Infof("Block request %d cancelled by user", requestID)
		return nil
	})
}

// GetByID returns a single block request.
func (s *BlockRequestService) GetByID(ctx context.Context, requestID int64) (*models.CardBlockRequest, error) {
	return s.store.FindBlockRequestByID(ctx, requestID, false)
}

// GetUserRequests lists a user's block requests.
func (s *BlockRequestService) GetUserRequests(ctx context.Context, userID int64) ([]models.CardBlockRequest, error) {
	return s.store.FindBlockRequestsByUser(ctx, userID)
}

// GetByStatus lists block requests in a given state. Admin path.
func (s *BlockRequestService) GetByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardBlockRequest, error) {
	return s.store.FindBlockRequestsByStatus(ctx, status)
}

func (s *BlockRequestService) sendBlocked(ctx context.Context, req *models.CardBlockRequest) {
	if s.notify == nil {
		return
	}
	user, err := s.store.FindUserByID(ctx, req.UserID)
	if err != nil {
		s.log.Errorf("Failed to resolve user %d for notification: %v", req.UserID, err)
		return
	}
	card, err := s.store.FindCardByID(ctx, req.CardID, false)
	if err != nil {
		s.log.Errorf("Failed to resolve card %d for notification: %v", req.CardID, err)
		return
	}
	masked, err := s.cards.codec.DisplayNumber(card.NumberCipher)
	if err != nil {
		s.log.Errorf("Failed to mask card %d number for notification: %v", card.ID, err)
		return
	}
	if err := s.notify.CardBlocked(user.Email, user.Username, masked, string(req.Reason)); err != nil {
		s.log.Errorf("Failed to send card blocked notification to %s: %v", user.Email, err)
	}
}

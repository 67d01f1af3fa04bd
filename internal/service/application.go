package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manurov/card-service/internal/models"
	"github.com/sirupsen/logrus"
)

// ApplicationService runs the card application workflow:
// PENDING -> APPROVED | REJECTED | CANCELLED, all terminal. Approval and
// card creation commit in the same unit of work.
type ApplicationService struct {
	store  Store
	cards  *CardService
	notify Notifier
	log    *logrus.Logger
}

// NewApplicationService initializes the application workflow. notify may
// be nil.
func NewApplicationService(store Store, cards *CardService, notify Notifier, log *logrus.Logger) *ApplicationService {
	return &ApplicationService{store: store, cards: cards, notify: notify, log: log}
}

// Submit creates a PENDING application for the user.
func (s *ApplicationService) Submit(ctx context.Context, userID int64, cardType models.CardType, comment string) (*models.CardApplication, error) {
	s.log.Infof("Creating card application for user %d", userID)

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}

	app := &models.CardApplication{
		UserID:   user.ID,
		CardType: cardType,
		Comment:  comment,
		Status:   models.RequestStatusPending,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	s.log.Infof("Card application created with ID %d", app.ID)
	return app, nil
}

// Approve issues the requested card and marks the application APPROVED.
// Both writes share one transaction: an application is never APPROVED
// without its card, and no card exists without its approved application.
func (s *ApplicationService) Approve(ctx context.Context, applicationID int64) (*models.Card, error) {
	s.log.Infof("Approving card application %d", applicationID)

	var (
		card *models.Card
		app  *models.CardApplication
	)
	err := s.store.WithinTx(ctx, func(st Store) error {
		a, err := st.FindApplicationByID(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: application %d is %s", ErrAlreadyProcessed, applicationID, a.Status)
		}

		c, err := s.cards.createCard(ctx, st, a.UserID, a.CardType)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		a.Status = models.RequestStatusApproved
		a.ProcessedAt = &now
		if err := st.UpdateApplication(ctx, a); err != nil {
			return fmt.Errorf("failed to update application: %w", err)
		}

		card, app = c, a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Application %d approved, card created with ID %d", applicationID, card.ID)
	s.sendDecision(ctx, app, true)
	return card, nil
}

// Reject marks a PENDING application REJECTED and appends the reason to
// its comment.
func (s *ApplicationService) Reject(ctx context.Context, applicationID int64, reason string) error {
	s.log.Infof("Rejecting card application %d, reason: %s", applicationID, reason)

	var app *models.CardApplication
	err := s.store.WithinTx(ctx, func(st Store) error {
		a, err := st.FindApplicationByID(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: application %d is %s", ErrAlreadyProcessed, applicationID, a.Status)
		}

		now := time.Now().UTC()
		a.Status = models.RequestStatusRejected
		a.ProcessedAt = &now
		if reason != "" {
			if a.Comment != "" {
				a.Comment += " | "
			}
			a.Comment += "Rejection reason: " + reason
		}
		if err := st.UpdateApplication(ctx, a); err != nil {
			return fmt.Errorf("failed to update application: %w", err)
		}
		app = a
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Infof("Application %d rejected", applicationID)
	s.sendDecision(ctx, app, false)
	return nil
}

// Cancel lets the applicant withdraw their own PENDING application.
func (s *ApplicationService) Cancel(ctx context.Context, applicationID, callerUserID int64) error {
	s.log.Infof("Cancelling card application %d by user %d", applicationID, callerUserID)

	return s.store.WithinTx(ctx, func(st Store) error {
		a, err := st.FindApplicationByID(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if a.UserID != callerUserID {
			s.log.Warnf("User %d denied access to application %d", callerUserID, applicationID)
			return fmt.Errorf("%w: application %d belongs to another user", ErrAccessDenied, applicationID)
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: application %d is %s", ErrAlreadyProcessed, applicationID, a.Status)
		}

		now := time.Now().UTC()
		a.Status = models.RequestStatusCancelled
		a.ProcessedAt = &now
		if err := st.UpdateApplication(ctx, a); err != nil {
			return fmt.Errorf("failed to update application: %w", err)
		}

		s.log.Infof("Application %d cancelled by user", applicationID)
		return nil
	})
}

// GetUserApplications lists a user's applications.
func (s *ApplicationService) GetUserApplications(ctx context.Context, userID int64) ([]models.CardApplication, error) {
	return s.store.FindApplicationsByUser(ctx, userID)
}

// GetApplicationsByStatus lists applications in a given state. Admin path.
func (s *ApplicationService) GetApplicationsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardApplication, error) {
	return s.store.FindApplicationsByStatus(ctx, status)
}

func (s *ApplicationService) sendDecision(ctx context.Context, app *models.CardApplication, approved bool) {
	if s.notify == nil {
		return
	}
	user, err := s.store.FindUserByID(ctx, app.UserID)
	if err != nil {
		s.log.Errorf("Failed to resolve user %d for notification: %v", app.UserID, err)
		return
	}
	if err := s.notify.ApplicationDecided(user.Email, user.Username, app.CardType, approved, app.Comment); err != nil {
		s.log.Errorf("Failed to send application decision to %s: %v", user.Email, err)
	}
}

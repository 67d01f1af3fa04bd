package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manurov/card-service/internal/auth"
	"github.com/manurov/card-service/internal/cardnum"
	"github.com/manurov/card-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CardService owns card issuance, the lifecycle state machine and balance
// mutation. Other workflows mutate cards exclusively through it.
type CardService struct {
	store       Store
	codec       *cardnum.Codec
	access      *Access
	cache       CardCache
	log         *logrus.Logger
	expiryYears int
}

// NewCardService initializes the card lifecycle manager. cache may be nil.
func NewCardService(store Store, codec *cardnum.Codec, access *Access, cache CardCache, log *logrus.Logger, expiryYears int) *CardService {
	return &CardService{
		store:       store,
		codec:       codec,
		access:      access,
		cache:       cache,
		log:         log,
		expiryYears: expiryYears,
	}
}

// CreateCard issues a new ACTIVE card with a zero balance for the owner.
func (s *CardService) CreateCard(ctx context.Context, ownerID int64, cardType models.CardType) (*models.Card, error) {
	var card *models.Card
	err := s.store.WithinTx(ctx, func(st Store) error {
		c, err := s.createCard(ctx, st, ownerID, cardType)
		if err != nil {
			return err
		}
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// createCard runs inside the caller's unit of work so approval and card
// creation commit together.
func (s *CardService) createCard(ctx context.Context, st Store, ownerID int64, cardType models.CardType) (*models.Card, error) {
	s.log.Infof("Creating %s card for user %d", cardType, ownerID)

	owner, err := st.FindUserByID(ctx, ownerID)
	if err != nil {
		// Only an absent user becomes ErrOwnerNotFound; a storage fault
		// keeps its own kind.
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrOwnerNotFound, ownerID)
		}
		return nil, fmt.Errorf("failed to resolve owner %d: %w", ownerID, err)
	}

	_, cipher, err := s.codec.Generate(ctx, func(enc string) (bool, error) {
		return st.CardNumberExists(ctx, enc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate card number: %w", err)
	}

	now := time.Now().UTC()
	card := &models.Card{
		OwnerID:      owner.ID,
		NumberCipher: cipher,
		Type:         cardType,
		Status:       models.CardStatusActive,
		Balance:      decimal.Zero,
		ExpiryDate:   now.AddDate(s.expiryYears, 0, 0),
	}
	if err := st.CreateCard(ctx, card); err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	s.log.Infof("Card created with ID %d for user %d", card.ID, owner.ID)
	return card, nil
}

// Block moves a card to BLOCKED. Fails if the card is already blocked or
// the lifecycle forbids the transition.
func (s *CardService) Block(ctx context.Context, cardID int64, reason string) error {
	return s.store.WithinTx(ctx, func(st Store) error {
		return s.block(ctx, st, cardID, reason)
	})
}

func (s *CardService) block(ctx context.Context, st Store, cardID int64, reason string) error {
	s.log.Infof("Blocking card %d, reason: %s", cardID, reason)

	card, err := st.FindCardByID(ctx, cardID, true)
	if err != nil {
		return err
	}
	switch card.Status {
	case models.CardStatusBlocked:
		return fmt.Errorf("%w: card %d", ErrAlreadyBlocked, cardID)
	case models.CardStatusExpired:
		return fmt.Errorf("%w: cannot block expired card %d", ErrInvalidTransition, cardID)
	}

	if err := s.setStatus(ctx, st, card, models.CardStatusBlocked); err != nil {
		return err
	}
	s.log.Infof("Card %d blocked", cardID)
	return nil
}

// Toggle flips a card between ACTIVE and BLOCKED. EXPIRED is terminal.
func (s *CardService) Toggle(ctx context.Context, cardID int64) error {
	return s.store.WithinTx(ctx, func(st Store) error {
		card, err := st.FindCardByID(ctx, cardID, true)
		if err != nil {
			return err
		}

		var next models.CardStatus
		switch card.Status {
		case models.CardStatusActive:
			next = models.CardStatusBlocked
		case models.CardStatusBlocked:
			next = models.CardStatusActive
		default:
			return fmt.Errorf("%w: cannot toggle %s card %d", ErrInvalidTransition, card.Status, cardID)
		}

		if err := s.setStatus(ctx, st, card, next); err != nil {
			return err
		}
		s.log.Infof("Card %d toggled %s -> %s", cardID, card.Status, next)
		return nil
	})
}

func (s *CardService) setStatus(ctx context.Context, st Store, card *models.Card, next models.CardStatus) error {
	ok, err := st.UpdateCardStatus(ctx, card.ID, card.Status, next)
	if err != nil {
		return fmt.Errorf("failed to update card status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: card %d changed concurrently", ErrInvalidTransition, card.ID)
	}
	s.invalidate(ctx, card.ID)
	return nil
}

// AddBalance credits a card. Amount must be positive.
func (s *CardService) AddBalance(ctx context.Context, cardID int64, amount decimal.Decimal) error {
	return s.store.WithinTx(ctx, func(st Store) error {
		return s.addBalance(ctx, st, cardID, amount)
	})
}

func (s *CardService) addBalance(ctx context.Context, st Store, cardID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	if err := st.AddCardBalance(ctx, cardID, amount); err != nil {
		return err
	}
	s.invalidate(ctx, cardID)
	s.log.Infof("Card %d balance topped up by %s", cardID, amount)
	return nil
}

// DeductBalance debits a card. The sufficiency check happens inside the
// same statement that writes the balance, so two concurrent deductions
// cannot both pass it.
func (s *CardService) DeductBalance(ctx context.Context, cardID int64, amount decimal.Decimal) error {
	return s.store.WithinTx(ctx, func(st Store) error {
		return s.deductBalance(ctx, st, cardID, amount)
	})
}

func (s *CardService) deductBalance(ctx context.Context, st Store, cardID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	ok, err := st.DeductCardBalance(ctx, cardID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: card %d balance below %s", ErrInsufficientFunds, cardID, amount)
	}
	s.invalidate(ctx, cardID)
	s.log.Infof("Deducted %s from card %d", amount, cardID)
	return nil
}

// SweepExpired marks cards past their expiry date as EXPIRED. Each card is
// updated under its own unit of work with a compare-and-swap on the status
// observed during the scan, so a card transitioned concurrently is skipped
// this run and re-examined on the next one. Idempotent.
func (s *CardService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.log.Info("Updating expired cards status")

	cards, err := s.store.FindExpiredCards(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for expired cards: %w", err)
	}

	expired := 0
	for i := range cards {
		card := cards[i]
		err := s.store.WithinTx(ctx, func(st Store) error {
			ok, err := st.UpdateCardStatus(ctx, card.ID, card.Status, models.CardStatusExpired)
			if err != nil {
				return err
			}
			if !ok {
				s.log.Debugf("Card %d changed status during sweep, skipping", card.ID)
				return nil
			}
			expired++
			s.invalidate(ctx, card.ID)
			s.log.Infof("Card %d marked as expired", card.ID)
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("failed to expire card %d: %w", card.ID, err)
		}
	}

	s.log.Infof("Updated %d expired cards", expired)
	return expired, nil
}

// GetCard returns a masked card view for the owner or an admin.
func (s *CardService) GetCard(ctx context.Context, cardID int64, caller auth.Caller) (*models.CardView, error) {
	if s.cache != nil {
		if view, ok := s.cache.GetView(ctx, cardID); ok {
			if !caller.IsAdmin() && view.OwnerID != caller.UserID {
				s.log.Warnf("User %d denied access to card %d", caller.UserID, cardID)
				return nil, fmt.Errorf("%w: card %d", ErrAccessDenied, cardID)
			}
			return view, nil
		}
	}

	card, err := s.store.FindCardByID(ctx, cardID, false)
	if err != nil {
		return nil, err
	}
	if !s.access.CanAccess(card, caller) {
		s.log.Warnf("User %d denied access to card %d", caller.UserID, cardID)
		return nil, fmt.Errorf("%w: card %d", ErrAccessDenied, cardID)
	}

	view, err := s.toView(card)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetView(ctx, view)
	}
	return view, nil
}

// GetUserCards lists masked views of a user's cards, optionally only the
// active ones.
func (s *CardService) GetUserCards(ctx context.Context, userID int64, activeOnly bool) ([]models.CardView, error) {
	cards, err := s.store.FindCardsByOwner(ctx, userID, activeOnly)
	if err != nil {
		return nil, err
	}
	return s.toViews(cards)
}

// GetAllCards lists masked views of every card. Admin oversight path; the
// role check happens at the route boundary.
func (s *CardService) GetAllCards(ctx context.Context) ([]models.CardView, error) {
	cards, err := s.store.FindAllCards(ctx)
	if err != nil {
		return nil, err
	}
	return s.toViews(cards)
}

func (s *CardService) toViews(cards []models.Card) ([]models.CardView, error) {
	views := make([]models.CardView, 0, len(cards))
	for i := range cards {
		view, err := s.toView(&cards[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// toView is the single presentation boundary where a stored cipher becomes
// a masked number.
func (s *CardService) toView(card *models.Card) (*models.CardView, error) {
	masked, err := s.codec.DisplayNumber(card.NumberCipher)
	if err != nil {
		return nil, fmt.Errorf("failed to mask card %d number: %w", card.ID, err)
	}
	return &models.CardView{
		ID:           card.ID,
		OwnerID:      card.OwnerID,
		MaskedNumber: masked,
		Type:         card.Type,
		Status:       card.Status,
		Balance:      card.Balance,
		ExpiryDate:   card.ExpiryDate,
		CreatedAt:    card.CreatedAt,
	}, nil
}

func (s *CardService) invalidate(ctx context.Context, cardID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, cardID)
	}
}

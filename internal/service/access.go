package service

import (
	"context"
	"fmt"

	"github.com/manurov/card-service/internal/auth"
	"github.com/manurov/card-service/internal/models"
)

// Access answers ownership and role questions for the workflows. It is a
// pure query layer with no side effects.
type Access struct {
	store Store
}

// NewAccess initializes the access gate.
func NewAccess(store Store) *Access {
	return &Access{store: store}
}

// IsAdmin reports whether the caller holds the admin role.
func (a *Access) IsAdmin(caller auth.Caller) bool {
	return caller.IsAdmin()
}

// IsOwner reports whether the caller owns the card.
func (a *Access) IsOwner(ctx context.Context, cardID int64, caller auth.Caller) (bool, error) {
	card, err := a.store.FindCardByID(ctx, cardID, false)
	if err != nil {
		return false, fmt.Errorf("resolving card owner: %w", err)
	}
	return card.OwnerID == caller.UserID, nil
}

// CanAccess reports whether the caller may act on an already-loaded card:
// its owner, or any admin.
func (a *Access) CanAccess(card *models.Card, caller auth.Caller) bool {
	return caller.IsAdmin() || card.OwnerID == caller.UserID
}

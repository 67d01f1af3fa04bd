package service

import (
	"context"
	"time"

	"github.com/manurov/card-service/internal/models"
	"github.com/shopspring/decimal"
)

// Store is the persistence contract consumed by the engine. The Postgres
// implementation lives in internal/repository; tests use an in-memory fake.
//
// Every workflow operation runs inside a single WithinTx unit of work; the
// Store passed to the callback is bound to that transaction. forUpdate
// requests a row lock so concurrent mutations of the same entity serialize.
type Store interface {
	WithinTx(ctx context.Context, fn func(Store) error) error

	FindUserByID(ctx context.Context, id int64) (*models.User, error)

	CreateCard(ctx context.Context, card *models.Card) error
	FindCardByID(ctx context.Context, id int64, forUpdate bool) (*models.Card, error)
	FindCardsByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]models.Card, error)
	FindAllCards(ctx context.Context) ([]models.Card, error)
	CardNumberExists(ctx context.Context, cipher string) (bool, error)

	// UpdateCardStatus is a compare-and-swap: the write applies only if the
	// card still has the expected status. Returns whether a row changed.
	UpdateCardStatus(ctx context.Context, id int64, expected, next models.CardStatus) (bool, error)

	// AddCardBalance credits unconditionally; DeductCardBalance debits only
	// when the balance covers the amount (the sufficiency check and the
	// write are one statement). Returns whether the debit applied.
	AddCardBalance(ctx context.Context, id int64, amount decimal.Decimal) error
	DeductCardBalance(ctx context.Context, id int64, amount decimal.Decimal) (bool, error)

	FindExpiredCards(ctx context.Context, asOf time.Time) ([]models.Card, error)

	CreateApplication(ctx context.Context, app *models.CardApplication) error
	FindApplicationByID(ctx context.Context, id int64, forUpdate bool) (*models.CardApplication, error)
	UpdateApplication(ctx context.Context, app *models.CardApplication) error
	FindApplicationsByUser(ctx context.Context, userID int64) ([]models.CardApplication, error)
	FindApplicationsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardApplication, error)

	CreateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error
	FindBlockRequestByID(ctx context.Context, id int64, forUpdate bool) (*models.CardBlockRequest, error)
	UpdateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error
	HasPendingBlockRequest(ctx context.Context, cardID int64) (bool, error)
	FindBlockRequestsByUser(ctx context.Context, userID int64) ([]models.CardBlockRequest, error)
	FindBlockRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardBlockRequest, error)

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransactionByID(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransactionsByCard(ctx context.Context, cardID int64, limit int) ([]models.Transaction, error)
	FindTransactionsByUser(ctx context.Context, userID int64) ([]models.Transaction, error)
	CountTransactionsByUser(ctx context.Context, userID int64, from, to time.Time) (int, error)
	TotalTransferredByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// CardCache is an optional read-side cache for masked card views. All
// methods are best-effort: a miss or a cache fault falls back to the store.
type CardCache interface {
	GetView(ctx context.Context, id int64) (*models.CardView, bool)
	SetView(ctx context.Context, view *models.CardView)
	Invalidate(ctx context.Context, id int64)
}

// Notifier delivers best-effort user notifications. Delivery failures are
// logged and never fail the workflow that triggered them.
type Notifier interface {
	ApplicationDecided(to, username string, cardType models.CardType, approved bool, comment string) error
	CardBlocked(to, username, maskedNumber, reason string) error
}

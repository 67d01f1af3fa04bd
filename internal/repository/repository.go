package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/manurov/card-service/internal/models"
	"github.com/manurov/card-service/internal/service"
	"github.com/shopspring/decimal"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same query methods serve both the pooled and the transactional store.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository provides database operations backed by Postgres.
type Repository struct {
	db *sql.DB // nil when bound to a transaction
	q  querier
}

// NewRepository initializes a new repository over the connection pool.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// WithinTx runs fn with a Repository bound to a single database
// transaction, committing on nil and rolling back on error. Nested calls
// reuse the surrounding transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(service.Store) error) error {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Repository{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindUserByID retrieves a user by ID.
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, role, created_at
		FROM bank.users
		WHERE id = $1`
	err := r.q.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %d", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateCard inserts a new card and fills its generated fields.
func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (owner_id, card_number_cipher, type, status, balance, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query,
		card.OwnerID, card.NumberCipher, card.Type, card.Status, card.Balance, card.ExpiryDate).
		Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

const cardColumns = `id, owner_id, card_number_cipher, type, status, balance, expiry_date, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }, card *models.Card) error {
	return row.Scan(&card.ID, &card.OwnerID, &card.NumberCipher, &card.Type,
		&card.Status, &card.Balance, &card.ExpiryDate, &card.CreatedAt, &card.UpdatedAt)
}

// FindCardByID retrieves a card, optionally locking the row for the
// duration of the surrounding transaction.
func (r *Repository) FindCardByID(ctx context.Context, id int64, forUpdate bool) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	card := &models.Card{}
	err := scanCard(r.q.QueryRowContext(ctx, query, id), card)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: card %d", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// FindCardsByOwner lists a user's cards, optionally only the active ones.
func (r *Repository) FindCardsByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE owner_id = $1`
	if activeOnly {
		query += ` AND status = 'ACTIVE'`
	}
	query += ` ORDER BY id`
	return r.queryCards(ctx, query, ownerID)
}

// FindAllCards lists every card.
func (r *Repository) FindAllCards(ctx context.Context) ([]models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards ORDER BY id`
	return r.queryCards(ctx, query)
}

// FindExpiredCards lists cards whose expiry date has passed but whose
// status does not say so yet.
func (r *Repository) FindExpiredCards(ctx context.Context, asOf time.Time) ([]models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE expiry_date < $1 AND status <> 'EXPIRED' ORDER BY id`
	return r.queryCards(ctx, query, asOf)
}

func (r *Repository) queryCards(ctx context.Context, query string, args ...any) ([]models.Card, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		if err := scanCard(rows, &card); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}
	return cards, nil
}

// CardNumberExists reports whether a card with the given encrypted number
// is already stored.
func (r *Repository) CardNumberExists(ctx context.Context, cipher string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM bank.cards WHERE card_number_cipher = $1)`
	if err := r.q.QueryRowContext(ctx, query, cipher).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check card number: %w", err)
	}
	return exists, nil
}

// UpdateCardStatus flips a card's status only if it still has the expected
// one, reporting whether a row changed.
func (r *Repository) UpdateCardStatus(ctx context.Context, id int64, expected, next models.CardStatus) (bool, error) {
	query := `
		UPDATE bank.cards
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`
	res, err := r.q.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update card status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// AddCardBalance credits a card unconditionally.
func (r *Repository) AddCardBalance(ctx context.Context, id int64, amount decimal.Decimal) error {
	query := `
		UPDATE bank.cards
		SET balance = balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`
	res, err := r.q.ExecContext(ctx, query, amount, id)
	if err != nil {
		return fmt.Errorf("failed to add balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: card %d", service.ErrNotFound, id)
	}
	return nil
}

// DeductCardBalance debits a card in a single statement guarded by the
// sufficiency check, so two concurrent debits cannot both pass it.
func (r *Repository) DeductCardBalance(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	query := `
		UPDATE bank.cards
		SET balance = balance - $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND balance >= $1`
	res, err := r.q.ExecContext(ctx, query, amount, id)
	if err != nil {
		return false, fmt.Errorf("failed to deduct balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// CreateApplication inserts a new card application.
func (r *Repository) CreateApplication(ctx context.Context, app *models.CardApplication) error {
	query := `
		INSERT INTO bank.card_applications (user_id, card_type, comment, status, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.q.QueryRowContext(ctx, query, app.UserID, app.CardType, app.Comment, app.Status).
		Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

const applicationColumns = `id, user_id, card_type, comment, status, created_at, processed_at`

func scanApplication(row interface{ Scan(...any) error }, app *models.CardApplication) error {
	var processed sql.NullTime
	if err := row.Scan(&app.ID, &app.UserID, &app.CardType, &app.Comment,
		&app.Status, &app.CreatedAt, &processed); err != nil {
		return err
	}
	if processed.Valid {
		app.ProcessedAt = &processed.Time
	}
	return nil
}

// FindApplicationByID retrieves an application, optionally locking the row.
func (r *Repository) FindApplicationByID(ctx context.Context, id int64, forUpdate bool) (*models.CardApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM bank.card_applications WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	app := &models.CardApplication{}
	err := scanApplication(r.q.QueryRowContext(ctx, query, id), app)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: application %d", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find application: %w", err)
	}
	return app, nil
}

// UpdateApplication persists an application's status, comment and
// processing timestamp.
func (r *Repository) UpdateApplication(ctx context.Context, app *models.CardApplication) error {
	query := `
		UPDATE bank.card_applications
		SET status = $1, comment = $2, processed_at = $3
		WHERE id = $4`
	var processed sql.NullTime
	if app.ProcessedAt != nil {
		processed = sql.NullTime{Time: *app.ProcessedAt, Valid: true}
	}
	res, err := r.q.ExecContext(ctx, query, app.Status, app.Comment, processed, app.ID)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: application %d", service.ErrNotFound, app.ID)
	}
	return nil
}

// FindApplicationsByUser lists a user's applications, newest first.
func (r *Repository) FindApplicationsByUser(ctx context.Context, userID int64) ([]models.CardApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM bank.card_applications WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryApplications(ctx, query, userID)
}

// FindApplicationsByStatus lists applications in a given status, oldest
// first so admins review them in arrival order.
func (r *Repository) FindApplicationsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM bank.card_applications WHERE status = $1 ORDER BY created_at`
	return r.queryApplications(ctx, query, status)
}

func (r *Repository) queryApplications(ctx context.Context, query string, args ...any) ([]models.CardApplication, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var apps []models.CardApplication
	for rows.Next() {
		var app models.CardApplication
		if err := scanApplication(rows, &app); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read applications: %w", err)
	}
	return apps, nil
}

// CreateBlockRequest inserts a new block request.
func (r *Repository) CreateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error {
	query := `
		INSERT INTO bank.card_block_requests (card_id, user_id, reason, status, admin_comment, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.q.QueryRowContext(ctx, query, req.CardID, req.UserID, req.Reason, req.Status, req.AdminComment).
		Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create block request: %w", err)
	}
	return nil
}

const blockRequestColumns = `id, card_id, user_id, reason, status, admin_comment, created_at, processed_at`

func scanBlockRequest(row interface{ Scan(...any) error }, req *models.CardBlockRequest) error {
	var processed sql.NullTime
	if err := row.Scan(&req.ID, &req.CardID, &req.UserID, &req.Reason,
		&req.Status, &req.AdminComment, &req.CreatedAt, &processed); err != nil {
		return err
	}
	if processed.Valid {
		req.ProcessedAt = &processed.Time
	}
	return nil
}

// FindBlockRequestByID retrieves a block request, optionally locking the
// row.
func (r *Repository) FindBlockRequestByID(ctx context.Context, id int64, forUpdate bool) (*models.CardBlockRequest, error) {
	query := `SELECT ` + blockRequestColumns + ` FROM bank.card_block_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	req := &models.CardBlockRequest{}
	err := scanBlockRequest(r.q.QueryRowContext(ctx, query, id), req)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: block request %d", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find block request: %w", err)
	}
	return req, nil
}

// UpdateBlockRequest persists a block request's status, admin comment and
// processing timestamp.
func (r *Repository) UpdateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error {
	query := `
		UPDATE bank.card_block_requests
		SET status = $1, admin_comment = $2, processed_at = $3
		WHERE id = $4`
	var processed sql.NullTime
	if req.ProcessedAt != nil {
		processed = sql.NullTime{Time: *req.ProcessedAt, Valid: true}
	}
	res, err := r.q.ExecContext(ctx, query, req.Status, req.AdminComment, processed, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update block request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: block request %d", service.ErrNotFound, req.ID)
	}
	return nil
}

// HasPendingBlockRequest reports whether a card already has an unresolved
// block request.
func (r *Repository) HasPendingBlockRequest(ctx context.Context, cardID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM bank.card_block_requests WHERE card_id = $1 AND status = 'PENDING')`
	if err := r.q.QueryRowContext(ctx, query, cardID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending block requests: %w", err)
	}
	return exists, nil
}

// FindBlockRequestsByUser lists a user's block requests, newest first.
func (r *Repository) FindBlockRequestsByUser(ctx context.Context, userID int64) ([]models.CardBlockRequest, error) {
	query := `SELECT ` + blockRequestColumns + ` FROM bank.card_block_requests WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryBlockRequests(ctx, query, userID)
}

// FindBlockRequestsByStatus lists block requests in a given status, oldest
// first.
func (r *Repository) FindBlockRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardBlockRequest, error) {
	query := `SELECT ` + blockRequestColumns + ` FROM bank.card_block_requests WHERE status = $1 ORDER BY created_at`
	return r.queryBlockRequests(ctx, query, status)
}

func (r *Repository) queryBlockRequests(ctx context.Context, query string, args ...any) ([]models.CardBlockRequest, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query block requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.CardBlockRequest
	for rows.Next() {
		var req models.CardBlockRequest
		if err := scanBlockRequest(rows, &req); err != nil {
			return nil, fmt.Errorf("failed to scan block request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read block requests: %w", err)
	}
	return reqs, nil
}

// CreateTransaction inserts a transaction record.
func (r *Repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO bank.transactions (reference, from_card_id, to_card_id, amount, description, status, error_message, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, $8)
		RETURNING id, created_at`
	var from sql.NullInt64
	if txn.FromCardID != nil {
		from = sql.NullInt64{Int64: *txn.FromCardID, Valid: true}
	}
	var processed sql.NullTime
	if txn.ProcessedAt != nil {
		processed = sql.NullTime{Time: *txn.ProcessedAt, Valid: true}
	}
	err := r.q.QueryRowContext(ctx, query,
		txn.Reference, from, txn.ToCardID, txn.Amount, txn.Description, txn.Status, txn.ErrorMessage, processed).
		Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, reference, from_card_id, to_card_id, amount, description, status, error_message, created_at, processed_at`

func scanTransaction(row interface{ Scan(...any) error }, txn *models.Transaction) error {
	var from sql.NullInt64
	var processed sql.NullTime
	if err := row.Scan(&txn.ID, &txn.Reference, &from, &txn.ToCardID, &txn.Amount,
		&txn.Description, &txn.Status, &txn.ErrorMessage, &txn.CreatedAt, &processed); err != nil {
		return err
	}
	if from.Valid {
		txn.FromCardID = &from.Int64
	}
	if processed.Valid {
		txn.ProcessedAt = &processed.Time
	}
	return nil
}

// FindTransactionByID retrieves a transaction, optionally locking the row.
func (r *Repository) FindTransactionByID(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM bank.transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	txn := &models.Transaction{}
	err := scanTransaction(r.q.QueryRowContext(ctx, query, id), txn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return txn, nil
}

// UpdateTransaction persists a transaction's status, error message and
// processing timestamp.
func (r *Repository) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		UPDATE bank.transactions
		SET status = $1, error_message = $2, processed_at = $3
		WHERE id = $4`
	var processed sql.NullTime
	if txn.ProcessedAt != nil {
		processed = sql.NullTime{Time: *txn.ProcessedAt, Valid: true}
	}
	res, err := r.q.ExecContext(ctx, query, txn.Status, txn.ErrorMessage, processed, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %d", service.ErrNotFound, txn.ID)
	}
	return nil
}

// FindTransactionsByCard lists the most recent transactions touching a
// card. A non-positive limit returns the full history.
func (r *Repository) FindTransactionsByCard(ctx context.Context, cardID int64, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM bank.transactions
		WHERE to_card_id = $1 OR from_card_id = $1
		ORDER BY created_at DESC`
	args := []any{cardID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.queryTransactions(ctx, query, args...)
}

// FindTransactionsByUser lists transactions touching any of a user's
// cards, newest first.
func (r *Repository) FindTransactionsByUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM bank.transactions t
		WHERE EXISTS (
			SELECT 1 FROM bank.cards c
			WHERE c.owner_id = $1 AND (c.id = t.to_card_id OR c.id = t.from_card_id)
		)
		ORDER BY created_at DESC`
	return r.queryTransactions(ctx, query, userID)
}

// CountTransactionsByUser counts transactions touching a user's cards
// created within [from, to).
func (r *Repository) CountTransactionsByUser(ctx context.Context, userID int64, from, to time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM bank.transactions t
		WHERE t.created_at >= $2 AND t.created_at < $3
		AND EXISTS (
			SELECT 1 FROM bank.cards c
			WHERE c.owner_id = $1 AND (c.id = t.to_card_id OR c.id = t.from_card_id)
		)`
	if err := r.q.QueryRowContext(ctx, query, userID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// TotalTransferredByUser sums the successful amounts sent from a user's
// cards.
func (r *Repository) TotalTransferredByUser(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM bank.transactions t
		JOIN bank.cards c ON c.id = t.from_card_id
		WHERE c.owner_id = $1 AND t.status = 'SUCCESS'`
	if err := r.q.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transfers: %w", err)
	}
	return total, nil
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var txn models.Transaction
		if err := scanTransaction(rows, &txn); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return txns, nil
}

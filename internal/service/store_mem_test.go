package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/manurov/card-service/internal/models"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store used by the engine tests. WithinTx takes
// a snapshot before the callback and restores it on error, mirroring the
// rollback behavior of the Postgres implementation. failOn lets a test
// inject a storage fault into a named operation.
type memStore struct {
	users  map[int64]*models.User
	cards  map[int64]*models.Card
	apps   map[int64]*models.CardApplication
	blocks map[int64]*models.CardBlockRequest
	txns   map[int64]*models.Transaction
	nextID int64
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[int64]*models.User),
		cards:  make(map[int64]*models.Card),
		apps:   make(map[int64]*models.CardApplication),
		blocks: make(map[int64]*models.CardBlockRequest),
		txns:   make(map[int64]*models.Transaction),
		failOn: make(map[string]error),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) fail(op string) error {
	return m.failOn[op]
}

type memSnapshot struct {
	cards  map[int64]*models.Card
	apps   map[int64]*models.CardApplication
	blocks map[int64]*models.CardBlockRequest
	txns   map[int64]*models.Transaction
	nextID int64
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		cards:  make(map[int64]*models.Card, len(m.cards)),
		apps:   make(map[int64]*models.CardApplication, len(m.apps)),
		blocks: make(map[int64]*models.CardBlockRequest, len(m.blocks)),
		txns:   make(map[int64]*models.Transaction, len(m.txns)),
		nextID: m.nextID,
	}
	for id, c := range m.cards {
		cp := *c
		s.cards[id] = &cp
	}
	for id, a := range m.apps {
		cp := *a
		s.apps[id] = &cp
	}
	for id, b := range m.blocks {
		cp := *b
		s.blocks[id] = &cp
	}
	for id, t := range m.txns {
		cp := *t
		s.txns[id] = &cp
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.cards = s.cards
	m.apps = s.apps
	m.blocks = s.blocks
	m.txns = s.txns
	m.nextID = s.nextID
}

func (m *memStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// ---- users ----

func (m *memStore) addUser(username, email string) *models.User {
	u := &models.User{ID: m.id(), Username: username, Email: email, Role: "USER", CreatedAt: time.Now().UTC()}
	m.users[u.ID] = u
	return u
}

func (m *memStore) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	if err := m.fail("FindUserByID"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

// ---- cards ----

func (m *memStore) CreateCard(ctx context.Context, card *models.Card) error {
	if err := m.fail("CreateCard"); err != nil {
		return err
	}
	now := time.Now().UTC()
	card.ID = m.id()
	card.CreatedAt = now
	card.UpdatedAt = now
	cp := *card
	m.cards[card.ID] = &cp
	return nil
}

func (m *memStore) FindCardByID(ctx context.Context, id int64, forUpdate bool) (*models.Card, error) {
	if err := m.fail("FindCardByID"); err != nil {
		return nil, err
	}
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: card %d", ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindCardsByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]models.Card, error) {
	var out []models.Card
	for _, c := range m.cards {
		if c.OwnerID != ownerID {
			continue
		}
		if activeOnly && c.Status != models.CardStatusActive {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindAllCards(ctx context.Context) ([]models.Card, error) {
	var out []models.Card
	for _, c := range m.cards {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CardNumberExists(ctx context.Context, cipher string) (bool, error) {
	if err := m.fail("CardNumberExists"); err != nil {
		return false, err
	}
	for _, c := range m.cards {
		if c.NumberCipher == cipher {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateCardStatus(ctx context.Context, id int64, expected, next models.CardStatus) (bool, error) {
	if err := m.fail("UpdateCardStatus"); err != nil {
		return false, err
	}
	c, ok := m.cards[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = next
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) AddCardBalance(ctx context.Context, id int64, amount decimal.Decimal) error {
	if err := m.fail("AddCardBalance"); err != nil {
		return err
	}
	c, ok := m.cards[id]
	if !ok {
		return fmt.Errorf("%w: card %d", ErrNotFound, id)
	}
	c.Balance = c.Balance.Add(amount)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memStore) DeductCardBalance(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	if err := m.fail("DeductCardBalance"); err != nil {
		return false, err
	}
	c, ok := m.cards[id]
	if !ok || c.Balance.LessThan(amount) {
		return false, nil
	}
	c.Balance = c.Balance.Sub(amount)
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) FindExpiredCards(ctx context.Context, asOf time.Time) ([]models.Card, error) {
	if err := m.fail("FindExpiredCards"); err != nil {
		return nil, err
	}
	var out []models.Card
	for _, c := range m.cards {
		if c.Status != models.CardStatusExpired && c.Expired(asOf) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- applications ----

func (m *memStore) CreateApplication(ctx context.Context, app *models.CardApplication) error {
	if err := m.fail("CreateApplication"); err != nil {
		return err
	}
	app.ID = m.id()
	app.CreatedAt = time.Now().UTC()
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memStore) FindApplicationByID(ctx context.Context, id int64, forUpdate bool) (*models.CardApplication, error) {
	a, ok := m.apps[id]
	if !ok {
		return nil, fmt.Errorf("%w: application %d", ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateApplication(ctx context.Context, app *models.CardApplication) error {
	if err := m.fail("UpdateApplication"); err != nil {
		return err
	}
	if _, ok := m.apps[app.ID]; !ok {
		return fmt.Errorf("%w: application %d", ErrNotFound, app.ID)
	}
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memStore) FindApplicationsByUser(ctx context.Context, userID int64) ([]models.CardApplication, error) {
	var out []models.CardApplication
	for _, a := range m.apps {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindApplicationsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardApplication, error) {
	var out []models.CardApplication
	for _, a := range m.apps {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- block requests ----

func (m *memStore) CreateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error {
	if err := m.fail("CreateBlockRequest"); err != nil {
		return err
	}
	req.ID = m.id()
	req.CreatedAt = time.Now().UTC()
	cp := *req
	m.blocks[req.ID] = &cp
	return nil
}

func (m *memStore) FindBlockRequestByID(ctx context.Context, id int64, forUpdate bool) (*models.CardBlockRequest, error) {
	b, ok := m.blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: block request %d", ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) UpdateBlockRequest(ctx context.Context, req *models.CardBlockRequest) error {
	if err := m.fail("UpdateBlockRequest"); err != nil {
		return err
	}
	if _, ok := m.blocks[req.ID]; !ok {
		return fmt.Errorf("%w: block request %d", ErrNotFound, req.ID)
	}
	cp := *req
	m.blocks[req.ID] = &cp
	return nil
}

func (m *memStore) HasPendingBlockRequest(ctx context.Context, cardID int64) (bool, error) {
	if err := m.fail("HasPendingBlockRequest"); err != nil {
		return false, err
	}
	for _, b := range m.blocks {
		if b.CardID == cardID && b.Status == models.RequestStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindBlockRequestsByUser(ctx context.Context, userID int64) ([]models.CardBlockRequest, error) {
	var out []models.CardBlockRequest
	for _, b := range m.blocks {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindBlockRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.CardBlockRequest, error) {
	var out []models.CardBlockRequest
	for _, b := range m.blocks {
		if b.Status == status {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- transactions ----

func (m *memStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := m.fail("CreateTransaction"); err != nil {
		return err
	}
	txn.ID = m.id()
	txn.CreatedAt = time.Now().UTC()
	cp := *txn
	m.txns[txn.ID] = &cp
	return nil
}

func (m *memStore) FindTransactionByID(ctx context.Context, id int64, forUpdate bool) (*models.Transaction, error) {
	t, ok := m.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", ErrNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := m.fail("UpdateTransaction"); err != nil {
		return err
	}
	if _, ok := m.txns[txn.ID]; !ok {
		return fmt.Errorf("%w: transaction %d", ErrNotFound, txn.ID)
	}
	cp := *txn
	m.txns[txn.ID] = &cp
	return nil
}

func (m *memStore) FindTransactionsByCard(ctx context.Context, cardID int64, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range m.txns {
		if t.ToCardID == cardID || (t.FromCardID != nil && *t.FromCardID == cardID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ownsCard(userID, cardID int64) bool {
	c, ok := m.cards[cardID]
	return ok && c.OwnerID == userID
}

func (m *memStore) involvesUser(t *models.Transaction, userID int64) bool {
	if m.ownsCard(userID, t.ToCardID) {
		return true
	}
	return t.FromCardID != nil && m.ownsCard(userID, *t.FromCardID)
}

func (m *memStore) FindTransactionsByUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range m.txns {
		if m.involvesUser(t, userID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) CountTransactionsByUser(ctx context.Context, userID int64, from, to time.Time) (int, error) {
	count := 0
	for _, t := range m.txns {
		if m.involvesUser(t, userID) && !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) TotalTransferredByUser(ctx context.Context, userID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range m.txns {
		if t.Status != models.TransactionStatusSuccess || t.FromCardID == nil {
			continue
		}
		if m.ownsCard(userID, *t.FromCardID) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

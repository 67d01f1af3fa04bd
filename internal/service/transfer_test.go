package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/manurov/card-service/internal/models"
	"github.com/shopspring/decimal"
)

func TestTransferSuccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	from := env.issueCard(t, owner.ID, "1000.00")
	to := env.issueCard(t, owner.ID, "50.00")
	ctx := context.Background()

	txnID, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("300.25"), "rent share")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("699.75")) {
		t.Errorf("sender balance = %s, want 699.75", got)
	}
	if got := env.cardBalance(t, to.ID); !got.Equal(decimal.RequireFromString("350.25")) {
		t.Errorf("recipient balance = %s, want 350.25", got)
	}

	txn, err := env.store.FindTransactionByID(ctx, txnID, false)
	if err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
	if txn.Status != models.TransactionStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", txn.Status)
	}
	if txn.FromCardID == nil || *txn.FromCardID != from.ID || txn.ToCardID != to.ID {
		t.Errorf("card references = %v -> %d", txn.FromCardID, txn.ToCardID)
	}
	if !txn.Amount.Equal(decimal.RequireFromString("300.25")) {
		t.Errorf("amount = %s", txn.Amount)
	}
	if txn.Description != "rent share" {
		t.Errorf("description = %q", txn.Description)
	}
	if txn.ProcessedAt == nil {
		t.Errorf("processedAt not set")
	}
	if txn.Reference == "" {
		t.Errorf("reference not set")
	}
	if len(env.store.txns) != 1 {
		t.Fatalf("%d transaction rows, want exactly 1", len(env.store.txns))
	}
}

func TestTransferInsufficientFundsRejectedBeforeRecord(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	from := env.issueCard(t, owner.ID, "1000.00")
	to := env.issueCard(t, owner.ID, "")

	_, err := env.transfers.Transfer(context.Background(), userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("1500.50"), "too much")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}

	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("1000.00")) {
		t.Errorf("sender balance = %s, want 1000.00 unchanged", got)
	}
	if got := env.cardBalance(t, to.ID); !got.IsZero() {
		t.Errorf("recipient balance = %s, want 0 unchanged", got)
	}
	for _, txn := range env.store.txns {
		if txn.Status == models.TransactionStatusSuccess {
			t.Fatalf("rejected transfer persisted as SUCCESS: %+v", txn)
		}
	}
}

func TestTransferValidation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	stranger := env.store.addUser("bob", "bob@example.com")
	ctx := context.Background()

	from := env.issueCard(t, owner.ID, "100.00")
	to := env.issueCard(t, owner.ID, "")
	blocked := env.issueCard(t, owner.ID, "100.00")
	if err := env.cards.Block(ctx, blocked.ID, "test"); err != nil {
		t.Fatal(err)
	}
	expired := env.issueCard(t, owner.ID, "100.00")
	env.store.cards[expired.ID].Status = models.CardStatusExpired

	amount := decimal.RequireFromString("10.00")
	cases := []struct {
		name    string
		from    int64
		to      int64
		amount  decimal.Decimal
		caller  int64
		wantErr error
	}{
		{"zero amount", from.ID, to.ID, decimal.Zero, owner.ID, ErrInvalidAmount},
		{"negative amount", from.ID, to.ID, decimal.RequireFromString("-1"), owner.ID, ErrInvalidAmount},
		{"missing sender", 999, to.ID, amount, owner.ID, ErrNotFound},
		{"missing recipient", from.ID, 999, amount, owner.ID, ErrNotFound},
		{"foreign card", from.ID, to.ID, amount, stranger.ID, ErrAccessDenied},
		{"blocked sender", blocked.ID, to.ID, amount, owner.ID, ErrCardBlocked},
		{"blocked recipient", from.ID, blocked.ID, amount, owner.ID, ErrCardBlocked},
		{"expired sender", expired.ID, to.ID, amount, owner.ID, ErrCardExpired},
		{"expired recipient", from.ID, expired.ID, amount, owner.ID, ErrCardExpired},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.transfers.Transfer(ctx, userCaller(tt.caller), tt.from, tt.to, tt.amount, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSelfTransferCreditsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	card := env.issueCard(t, owner.ID, "100.00")
	ctx := context.Background()

	txnID, err := env.transfers.Transfer(ctx, userCaller(owner.ID), card.ID, card.ID,
		decimal.RequireFromString("40.00"), "ignored")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := env.cardBalance(t, card.ID); !got.Equal(decimal.RequireFromString("140.00")) {
		t.Fatalf("balance = %s, want 140.00 (credited exactly once)", got)
	}

	txn, err := env.store.FindTransactionByID(ctx, txnID, false)
	if err != nil {
		t.Fatal(err)
	}
	if txn.FromCardID != nil {
		t.Errorf("self transfer recorded a source card: %v", *txn.FromCardID)
	}
	if txn.Description != topUpDescription {
		t.Errorf("description = %q, want the terminal top-up tag", txn.Description)
	}
}

func TestTransferFaultLeavesFailedRecord(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	from := env.issueCard(t, owner.ID, "500.00")
	to := env.issueCard(t, owner.ID, "100.00")
	ctx := context.Background()

	env.store.failOn["AddCardBalance"] = errors.New("storage fault: connection reset")
	_, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("200.00"), "doomed")
	delete(env.store.failOn, "AddCardBalance")
	if err == nil {
		t.Fatal("expected transfer to fail")
	}

	// Neither balance moved.
	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("sender balance = %s, want 500.00", got)
	}
	if got := env.cardBalance(t, to.ID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("recipient balance = %s, want 100.00", got)
	}

	// Exactly one FAILED row carrying the error.
	var failed []*models.Transaction
	for _, txn := range env.store.txns {
		if txn.Status == models.TransactionStatusFailed {
			failed = append(failed, txn)
		} else {
			t.Errorf("unexpected %s transaction: %+v", txn.Status, txn)
		}
	}
	if len(failed) != 1 {
		t.Fatalf("%d FAILED rows, want exactly 1", len(failed))
	}
	if !strings.Contains(failed[0].ErrorMessage, "connection reset") {
		t.Errorf("error message = %q", failed[0].ErrorMessage)
	}
	if failed[0].FromCardID == nil || *failed[0].FromCardID != from.ID {
		t.Errorf("FAILED row lost the sender reference: %+v", failed[0])
	}
}

func TestTransferRecordFaultIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	from := env.issueCard(t, owner.ID, "500.00")
	to := env.issueCard(t, owner.ID, "")
	ctx := context.Background()

	// Even writing the FAILED record fails; balances must still be intact
	// and the caller still gets the error.
	env.store.failOn["CreateTransaction"] = errors.New("storage down")
	_, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("100.00"), "")
	delete(env.store.failOn, "CreateTransaction")
	if err == nil {
		t.Fatal("expected transfer to fail")
	}

	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("500.00")) {
		t.Errorf("sender balance = %s, want 500.00", got)
	}
	if got := env.cardBalance(t, to.ID); !got.IsZero() {
		t.Errorf("recipient balance = %s, want 0", got)
	}
	if len(env.store.txns) != 0 {
		t.Errorf("%d transaction rows, want 0 when even the FAILED write is down", len(env.store.txns))
	}
}

func TestRefund(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	admin := env.store.addUser("root", "root@example.com")
	from := env.issueCard(t, owner.ID, "1000.00")
	to := env.issueCard(t, owner.ID, "")
	ctx := context.Background()

	txnID, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("200.00"), "refund me")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.transfers.Refund(ctx, txnID, userCaller(owner.ID)); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("refund by non-admin: want ErrAccessDenied, got %v", err)
	}

	refunded, err := env.transfers.Refund(ctx, txnID, adminCaller(admin.ID))
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != models.TransactionStatusRefunded {
		t.Errorf("status = %s, want REFUNDED", refunded.Status)
	}
	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("1000.00")) {
		t.Errorf("sender balance = %s, want 1000.00 restored", got)
	}
	if got := env.cardBalance(t, to.ID); !got.IsZero() {
		t.Errorf("recipient balance = %s, want 0 restored", got)
	}

	if _, err := env.transfers.Refund(ctx, txnID, adminCaller(admin.ID)); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second refund: want ErrAlreadyProcessed, got %v", err)
	}
	if _, err := env.transfers.Refund(ctx, 999, adminCaller(admin.ID)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("refund of missing transaction: want ErrNotFound, got %v", err)
	}
}

func TestRefundSpentFundsFails(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	admin := env.store.addUser("root", "root@example.com")
	from := env.issueCard(t, owner.ID, "300.00")
	to := env.issueCard(t, owner.ID, "")
	other := env.issueCard(t, owner.ID, "")
	ctx := context.Background()

	txnID, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("200.00"), "")
	if err != nil {
		t.Fatal(err)
	}
	// The recipient spends the money before the refund.
	if _, err := env.transfers.Transfer(ctx, userCaller(owner.ID), to.ID, other.ID,
		decimal.RequireFromString("150.00"), ""); err != nil {
		t.Fatal(err)
	}

	_, err = env.transfers.Refund(ctx, txnID, adminCaller(admin.ID))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	// Rolled back: the refund neither credited the sender nor flipped the
	// record.
	if got := env.cardBalance(t, from.ID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("sender balance = %s, want 100.00", got)
	}
	txn, _ := env.store.FindTransactionByID(ctx, txnID, false)
	if txn.Status != models.TransactionStatusSuccess {
		t.Errorf("transaction status = %s, want SUCCESS after failed refund", txn.Status)
	}
}

func TestTopUp(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	admin := env.store.addUser("root", "root@example.com")
	card := env.issueCard(t, owner.ID, "10.00")
	ctx := context.Background()

	if _, err := env.transfers.TopUp(ctx, userCaller(owner.ID), card.ID, decimal.RequireFromString("5.00")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("top-up by non-admin: want ErrAccessDenied, got %v", err)
	}

	txnID, err := env.transfers.TopUp(ctx, adminCaller(admin.ID), card.ID, decimal.RequireFromString("90.00"))
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if got := env.cardBalance(t, card.ID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("balance = %s, want 100.00", got)
	}
	txn, err := env.store.FindTransactionByID(ctx, txnID, false)
	if err != nil {
		t.Fatal(err)
	}
	if txn.FromCardID != nil || txn.Status != models.TransactionStatusSuccess {
		t.Fatalf("top-up record = %+v", txn)
	}

	// Refunding a top-up only debits the destination.
	if _, err := env.transfers.Refund(ctx, txnID, adminCaller(admin.ID)); err != nil {
		t.Fatalf("refund of top-up: %v", err)
	}
	if got := env.cardBalance(t, card.ID); !got.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("balance after refund = %s, want 10.00", got)
	}
}

func TestGetTransactionAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	stranger := env.store.addUser("bob", "bob@example.com")
	admin := env.store.addUser("root", "root@example.com")
	from := env.issueCard(t, owner.ID, "100.00")
	to := env.issueCard(t, owner.ID, "")
	ctx := context.Background()

	txnID, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
		decimal.RequireFromString("10.00"), "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.transfers.GetTransaction(ctx, txnID, userCaller(owner.ID)); err != nil {
		t.Fatalf("participant GetTransaction: %v", err)
	}
	if _, err := env.transfers.GetTransaction(ctx, txnID, adminCaller(admin.ID)); err != nil {
		t.Fatalf("admin GetTransaction: %v", err)
	}
	if _, err := env.transfers.GetTransaction(ctx, txnID, userCaller(stranger.ID)); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("stranger GetTransaction: want ErrAccessDenied, got %v", err)
	}
}

func TestTransactionQueries(t *testing.T) {
	env := newTestEnv(t)
	owner := env.store.addUser("alice", "alice@example.com")
	from := env.issueCard(t, owner.ID, "1000.00")
	to := env.issueCard(t, owner.ID, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.transfers.Transfer(ctx, userCaller(owner.ID), from.ID, to.ID,
			decimal.RequireFromString("10.00"), "batch"); err != nil {
			t.Fatal(err)
		}
	}

	byCard, err := env.transfers.GetCardTransactions(ctx, from.ID, userCaller(owner.ID), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(byCard) != 2 {
		t.Fatalf("limited card history = %d entries, want 2", len(byCard))
	}

	byUser, err := env.transfers.GetUserTransactions(ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser) != 3 {
		t.Fatalf("user history = %d entries, want 3", len(byUser))
	}

	count, err := env.transfers.MonthlyTransactionCount(ctx, owner.ID, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("monthly count = %d, want 3", count)
	}

	total, err := env.transfers.TotalTransferred(ctx, owner.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("total transferred = %s, want 30.00", total)
	}
}

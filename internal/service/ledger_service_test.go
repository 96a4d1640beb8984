package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/invite-engine/internal/domain"
	"go.uber.org/zap"
)

func TestLedgerConsumePassesThrough(t *testing.T) {
	t.Parallel()

	var gotOrg, gotMessage, gotReason string
	var gotAmount int

	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			gotOrg = organizationID
			gotMessage = messageID
			gotAmount = amount
			gotReason = reason
			return []domain.CreditTransaction{{ID: "tx-1", Delta: -amount}}, nil
		},
	}

	ledger, err := NewLedgerService(credits, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}

	txs, err := ledger.Consume(context.Background(), "org-1", "msg-1", 1, domain.CreditReasonSmsFallback)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(txs) != 1 || txs[0].Delta != -1 {
		t.Fatalf("transactions = %v, want single -1 delta", txs)
	}
	if gotOrg != "org-1" || gotMessage != "msg-1" || gotAmount != 1 || gotReason != domain.CreditReasonSmsFallback {
		t.Fatalf("consume args = %q %q %d %q", gotOrg, gotMessage, gotAmount, gotReason)
	}
}

func TestLedgerConsumeSurfacesInsufficientCredits(t *testing.T) {
	t.Parallel()

	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			return nil, domain.ErrInsufficientCredits
		},
	}

	ledger, err := NewLedgerService(credits, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}

	_, err = ledger.Consume(context.Background(), "org-1", "msg-1", 1, domain.CreditReasonSmsDirect)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("Consume() error = %v, want ErrInsufficientCredits", err)
	}
}

func TestLedgerBalanceUsesCurrentTime(t *testing.T) {
	t.Parallel()

	var gotNow time.Time

	credits := &fakeCreditRepo{
		balanceFn: func(ctx context.Context, organizationID string, now time.Time) (int, []domain.CreditGrant, error) {
			gotNow = now
			return 7, []domain.CreditGrant{{ID: "g-1", CreditsGranted: 10, CreditsConsumed: 3}}, nil
		},
	}

	ledger, err := NewLedgerService(credits, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}
	ledger.now = func() time.Time { return workerNow }

	balance, grants, err := ledger.Balance(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 7 || len(grants) != 1 {
		t.Fatalf("balance = %d with %d grants, want 7 with 1", balance, len(grants))
	}
	if !gotNow.Equal(workerNow) {
		t.Fatalf("expiry cutoff = %v, want %v", gotNow, workerNow)
	}
}

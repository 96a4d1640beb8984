package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/observability"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
)

// LedgerService wraps the credit repository with logging and metrics.
// All deductions and refunds flow through here so the ledger has a
// single audited entry point.
type LedgerService struct {
	credits repository.CreditRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewLedgerService(credits repository.CreditRepository, logger *zap.Logger) (*LedgerService, error) {
	if credits == nil {
		return nil, fmt.Errorf("credit repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		credits: credits,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *LedgerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// AddGrant records a purchased or promotional credit block.
func (s *LedgerService) AddGrant(ctx context.Context, grant *domain.CreditGrant) error {
	if err := s.credits.CreateGrant(ctx, grant); err != nil {
		return err
	}
	s.logger.Info("credit grant created",
		zap.String("grantId", grant.ID),
		zap.String("organizationId", grant.OrganizationID),
		zap.Int("creditsGranted", grant.CreditsGranted),
	)
	return nil
}

// Consume deducts amount credits for the physical send identified by
// messageID. Repeated calls for the same messageID are no-ops.
func (s *LedgerService) Consume(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
	txs, err := s.credits.Consume(ctx, organizationID, messageID, amount, reason)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			s.logger.Warn("credit consumption refused, balance exhausted",
				zap.String("organizationId", organizationID),
				zap.String("messageId", messageID),
				zap.Int("amount", amount),
			)
			return nil, err
		}
		return nil, fmt.Errorf("credit consumption failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.AddCreditsConsumed(reason, float64(amount))
	}
	s.logger.Info("credits consumed",
		zap.String("organizationId", organizationID),
		zap.String("messageId", messageID),
		zap.Int("amount", amount),
		zap.String("reason", reason),
	)
	return txs, nil
}

// Refund returns the credits consumed for messageID to their grants.
// Refunding an already-refunded messageID is a no-op.
func (s *LedgerService) Refund(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	txs, err := s.credits.Refund(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("refund requested for unknown consumption",
				zap.String("messageId", messageID),
			)
		}
		return nil, err
	}

	refunded := 0
	for _, tx := range txs {
		if tx.Delta > 0 {
			refunded += tx.Delta
		}
	}
	if s.metrics != nil && refunded > 0 {
		s.metrics.AddCreditsRefunded(float64(refunded))
	}
	s.logger.Info("credits refunded",
		zap.String("messageId", messageID),
		zap.Int("amount", refunded),
	)
	return txs, nil
}

// Balance reports the usable credit total for an organization along
// with the active grants backing it.
func (s *LedgerService) Balance(ctx context.Context, organizationID string) (int, []domain.CreditGrant, error) {
	return s.credits.Balance(ctx, organizationID, s.now().UTC())
}

// Transactions returns the ledger rows recorded for a physical send.
func (s *LedgerService) Transactions(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	return s.credits.GetTransactionsByMessageID(ctx, messageID)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/observability"
	"github.com/kursadbilgin/invite-engine/internal/queue"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultSweepLimit    = 200
)

// FallbackSweeper escalates push deliveries whose confirmation window
// elapsed without a delivery receipt. The claim is a compare-and-set
// on the delivery row, so a delivery is escalated at most once no
// matter how many sweeper instances run.
type FallbackSweeper struct {
	deliveries  repository.DeliveryRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	sweepLimit  int
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

func NewFallbackSweeper(
	deliveries repository.DeliveryRepository,
	publisher queue.Publisher,
	interval time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) (*FallbackSweeper, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FallbackSweeper{
		deliveries:  deliveries,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		sweepLimit:  defaultSweepLimit,
		maxAttempts: maxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *FallbackSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Run sweeps on a fixed interval until context cancellation.
func (s *FallbackSweeper) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("fallback sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("fallback sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("fallback sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce escalates every delivery whose fallback window has elapsed.
func (s *FallbackSweeper) SweepOnce(ctx context.Context) error {
	due, err := s.deliveries.GetFallbackDue(ctx, s.now().UTC(), s.sweepLimit)
	if err != nil {
		return fmt.Errorf("failed to load fallback-due deliveries: %w", err)
	}

	for i := range due {
		if err := s.escalate(ctx, &due[i]); err != nil {
			s.logger.Error("failed to escalate delivery",
				zap.String("deliveryId", due[i].ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// EscalateNow escalates a single delivery immediately, bypassing the
// sweep interval. Used when a push send is rejected outright.
func (s *FallbackSweeper) EscalateNow(ctx context.Context, delivery *domain.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("%w: delivery is required", domain.ErrValidation)
	}
	return s.escalate(ctx, delivery)
}

func (s *FallbackSweeper) escalate(ctx context.Context, delivery *domain.Delivery) error {
	now := s.now().UTC()

	if delivery.PhoneNumber == "" {
		reasonText := string(domain.ReasonNoFallbackChannel)
		err := s.deliveries.MarkFailed(ctx, delivery.ID, domain.ReasonNoFallbackChannel, now,
			s.failureEvent(delivery, &reasonText, now))
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	if delivery.DeliveryAttempt >= s.maxAttempts {
		reasonText := string(domain.ReasonAttemptsExhausted)
		err := s.deliveries.MarkFailed(ctx, delivery.ID, domain.ReasonAttemptsExhausted, now,
			s.failureEvent(delivery, &reasonText, now))
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	// A fresh send id: the SMS attempt is a distinct physical send
	// from the push attempt, with its own credit idempotency key.
	messageID := s.newID()

	claimed, err := s.deliveries.ClaimFallback(ctx, delivery.ID, domain.MessageLogEvent{
		ID:             s.newID(),
		ContactID:      delivery.ContactID,
		JobID:          delivery.JobID,
		CampaignID:     &delivery.CampaignID,
		EventType:      domain.EventSmsFallbackScheduled,
		Channel:        domain.ChannelSMS,
		Status:         domain.StatusSmsFallbackScheduled,
		NotificationID: &messageID,
		CreatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("fallback claim failed: %w", err)
	}
	if !claimed {
		// Another instance won the claim, or a receipt resolved the
		// delivery in the meantime.
		return nil
	}

	msg := queue.DeliveryMessage{
		Kind:       queue.KindSmsFallback,
		DeliveryID: delivery.ID,
		CampaignID: delivery.CampaignID,
		ContactID:  delivery.ContactID,
		Channel:    domain.ChannelSMS,
		MessageID:  messageID,
		Priority:   delivery.Priority,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(domain.ChannelSMS), msg); err != nil {
		// The claim already happened; the delivery stays in
		// SMS_FALLBACK_SCHEDULED and an operator requeue recovers it.
		return fmt.Errorf("failed to publish sms fallback after claim: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncFallbackTriggered()
	}
	s.logger.Info("sms fallback scheduled",
		zap.String("deliveryId", delivery.ID),
		zap.String("messageId", messageID),
	)
	return nil
}

func (s *FallbackSweeper) failureEvent(delivery *domain.Delivery, reason *string, at time.Time) domain.MessageLogEvent {
	return domain.MessageLogEvent{
		ID:         s.newID(),
		ContactID:  delivery.ContactID,
		JobID:      delivery.JobID,
		CampaignID: &delivery.CampaignID,
		EventType:  domain.EventSmsFailed,
		Channel:    delivery.Channel,
		Status:     domain.StatusFailed,
		Reason:     reason,
		CreatedAt:  at,
	}
}

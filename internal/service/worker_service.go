package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/observability"
	"github.com/kursadbilgin/invite-engine/internal/provider"
	"github.com/kursadbilgin/invite-engine/internal/queue"
	"github.com/kursadbilgin/invite-engine/internal/ratelimit"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	defaultSendTimeout   = 15 * time.Second
)

// Escalator triggers the SMS fallback for a delivery outside the
// periodic sweep, used when a push send is rejected outright.
type Escalator interface {
	EscalateNow(ctx context.Context, delivery *domain.Delivery) error
}

// WorkerService consumes the channel work queues and drives each
// delivery through its send: push attempts, direct SMS, portal
// messages, and SMS fallback escalations.
type WorkerService struct {
	deliveries     repository.DeliveryRepository
	ledger         *LedgerService
	events         repository.EventRepository
	consumer       queue.Consumer
	push           provider.PushProvider
	sms            provider.SMSProvider
	portal         provider.PortalProvider
	escalator      Escalator
	rateLimiter    ratelimit.RateLimiter
	logger         *zap.Logger
	metrics        *observability.Metrics
	concurrency    int
	fallbackWindow time.Duration
	maxAttempts    int
	sendTimeout    time.Duration
	now            func() time.Time
	newID          func() string
}

type WorkerConfig struct {
	Concurrency           int
	FallbackWindowSeconds int
	MaxDeliveryAttempts   int
	SendTimeout           time.Duration
}

func NewWorkerService(
	deliveries repository.DeliveryRepository,
	ledger *LedgerService,
	events repository.EventRepository,
	consumer queue.Consumer,
	push provider.PushProvider,
	sms provider.SMSProvider,
	portal provider.PortalProvider,
	escalator Escalator,
	rateLimiter ratelimit.RateLimiter,
	cfg WorkerConfig,
	logger *zap.Logger,
) (*WorkerService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if cfg.Concurrency < minWorkerConcurrency {
		cfg.Concurrency = minWorkerConcurrency
	}
	if cfg.FallbackWindowSeconds <= 0 {
		cfg.FallbackWindowSeconds = 30
	}
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		deliveries:     deliveries,
		ledger:         ledger,
		events:         events,
		consumer:       consumer,
		push:           push,
		sms:            sms,
		portal:         portal,
		escalator:      escalator,
		rateLimiter:    rateLimiter,
		logger:         logger,
		concurrency:    cfg.Concurrency,
		fallbackWindow: time.Duration(cfg.FallbackWindowSeconds) * time.Second,
		maxAttempts:    cfg.MaxDeliveryAttempts,
		sendTimeout:    cfg.SendTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}, nil
}

// Start consumes channel queues and processes delivery messages until
// context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.DeliveryMessage) error {
	delivery, err := s.deliveries.LockForSending(ctx, msg.DeliveryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("delivery not found during lock, skipping",
				zap.String("deliveryId", msg.DeliveryID),
			)
			return nil
		}
		return fmt.Errorf("failed to lock delivery for sending: %w", err)
	}

	// Nil means terminal or already-sent state; ack and skip.
	if delivery == nil {
		return nil
	}

	switch msg.Kind {
	case queue.KindInvite:
		switch delivery.Channel {
		case domain.ChannelPush:
			return s.processPush(ctx, delivery, msg)
		case domain.ChannelSMS:
			return s.processSms(ctx, delivery, msg, domain.CreditReasonSmsDirect, domain.EventSmsAttempted)
		case domain.ChannelPortal:
			return s.processPortal(ctx, delivery)
		}
		return fmt.Errorf("unsupported channel %q for delivery %s", delivery.Channel, delivery.ID)
	case queue.KindSmsFallback:
		if delivery.Status != domain.StatusSmsFallbackScheduled {
			return nil
		}
		return s.processSms(ctx, delivery, msg, domain.CreditReasonSmsFallback, domain.EventSmsFallbackTriggered)
	}

	return fmt.Errorf("unsupported message kind %q", msg.Kind)
}

func (s *WorkerService) processPush(ctx context.Context, delivery *domain.Delivery, msg queue.DeliveryMessage) error {
	channelName := strings.ToLower(delivery.Channel.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	now := s.now().UTC()
	if err := s.appendEvent(ctx, delivery, domain.EventPushAttempted, delivery.Status, nil, &msg.MessageID); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	sendStart := s.now()
	_, sendErr := s.push.SendPush(sendCtx, delivery.DeviceToken, provider.PushPayload{
		NotificationID: msg.MessageID,
		Title:          delivery.Title,
		Body:           delivery.Body,
		JobID:          delivery.JobID,
		CampaignID:     delivery.CampaignID,
	})
	if s.metrics != nil {
		s.metrics.ObserveSendDuration(channelName, s.now().Sub(sendStart))
	}

	if sendErr == nil {
		now = s.now().UTC()
		fallbackDueAt := now.Add(s.fallbackWindow)
		err := s.deliveries.MarkPushSent(ctx, delivery.ID, msg.MessageID, now, fallbackDueAt, s.buildEvent(
			delivery, domain.EventPushSent, domain.StatusPushSent, nil, &msg.MessageID, now,
		))
		if err != nil {
			return fmt.Errorf("failed to mark push sent: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncSent(channelName)
		}
		return nil
	}

	s.logger.Warn("push send rejected",
		zap.String("deliveryId", delivery.ID),
		zap.Error(sendErr),
	)

	now = s.now().UTC()
	if err := s.deliveries.MarkPushFailed(ctx, delivery.ID, now, s.buildEvent(
		delivery, domain.EventPushFailed, domain.StatusPushFailed, nil, &msg.MessageID, now,
	)); err != nil {
		return fmt.Errorf("failed to mark push failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncFailed(channelName, "gateway_rejected")
	}

	// A rejected push escalates immediately instead of waiting out the
	// fallback window.
	failed := *delivery
	failed.Status = domain.StatusPushFailed
	failed.DeliveryAttempt = max(delivery.DeliveryAttempt, 1)
	if s.escalator != nil {
		if err := s.escalator.EscalateNow(ctx, &failed); err != nil {
			return fmt.Errorf("failed to escalate rejected push: %w", err)
		}
	}

	return nil
}

func (s *WorkerService) processSms(
	ctx context.Context,
	delivery *domain.Delivery,
	msg queue.DeliveryMessage,
	creditReason string,
	attemptEvent domain.EventType,
) error {
	channelName := strings.ToLower(domain.ChannelSMS.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if delivery.DeliveryAttempt > s.maxAttempts {
		now := s.now().UTC()
		reasonText := string(domain.ReasonAttemptsExhausted)
		return s.deliveries.MarkFailed(ctx, delivery.ID, domain.ReasonAttemptsExhausted, now, s.buildEvent(
			delivery, domain.EventSmsFailed, domain.StatusFailed, &reasonText, &msg.MessageID, now,
		))
	}

	// Credits are deducted before the adapter call, keyed by the
	// physical send id so a redelivered message cannot double-charge.
	if _, err := s.ledger.Consume(ctx, delivery.OrganizationID, msg.MessageID, 1, creditReason); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			now := s.now().UTC()
			reasonText := string(domain.ReasonInsufficientCredits)
			markErr := s.deliveries.MarkFailed(ctx, delivery.ID, domain.ReasonInsufficientCredits, now, s.buildEvent(
				delivery, domain.EventSmsFailed, domain.StatusFailed, &reasonText, &msg.MessageID, now,
			))
			if markErr != nil {
				return fmt.Errorf("failed to mark delivery failed on exhausted credits: %w", markErr)
			}
			if s.metrics != nil {
				s.metrics.IncFailed(channelName, "insufficient_credits")
			}
			return nil
		}
		return fmt.Errorf("credit consumption failed: %w", err)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	if err := s.appendEvent(ctx, delivery, attemptEvent, delivery.Status, nil, &msg.MessageID); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	sendStart := s.now()
	resp, sendErr := s.sms.SendSMS(sendCtx, delivery.PhoneNumber, delivery.Body)
	if s.metrics != nil {
		s.metrics.ObserveSendDuration(channelName, s.now().Sub(sendStart))
	}

	if sendErr == nil {
		now := s.now().UTC()
		event := s.buildEvent(delivery, domain.EventSmsSent, domain.StatusSmsSent, nil, &msg.MessageID, now)
		event.TwilioSID = &resp.TwilioSID
		if err := s.deliveries.MarkSmsSent(ctx, delivery.ID, resp.TwilioSID, msg.MessageID, now, 1, event); err != nil {
			return fmt.Errorf("failed to mark sms sent: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncSent(channelName)
		}
		return nil
	}

	s.logger.Warn("sms send rejected",
		zap.String("deliveryId", delivery.ID),
		zap.Error(sendErr),
	)

	// The credit paid for a send that never reached the carrier.
	if _, err := s.ledger.Refund(ctx, msg.MessageID); err != nil {
		return fmt.Errorf("failed to refund credit after rejected sms: %w", err)
	}

	now := s.now().UTC()
	reasonText := string(domain.ReasonCarrierRejected)
	if err := s.deliveries.MarkSmsFailed(ctx, delivery.ID, domain.ReasonCarrierRejected, now, s.buildEvent(
		delivery, domain.EventSmsFailed, domain.StatusSmsFailed, &reasonText, &msg.MessageID, now,
	)); err != nil {
		return fmt.Errorf("failed to mark sms failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncFailed(channelName, "carrier_rejected")
	}

	return nil
}

func (s *WorkerService) processPortal(ctx context.Context, delivery *domain.Delivery) error {
	channelName := strings.ToLower(domain.ChannelPortal.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	resp, err := s.portal.CreatePortalMessage(sendCtx, delivery.ContactID, delivery.Body)
	if err != nil {
		// The portal cannot permanently reject valid input; let the
		// queue redeliver.
		return fmt.Errorf("portal message creation failed: %w", err)
	}

	now := s.now().UTC()
	if err := s.deliveries.MarkPortalCreated(ctx, delivery.ID, resp.MessageID, now, s.buildEvent(
		delivery, domain.EventPortalMessageCreated, domain.StatusPortalCreated, nil, &resp.MessageID, now,
	)); err != nil {
		return fmt.Errorf("failed to mark portal message created: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncSent(channelName)
	}
	return nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) appendEvent(
	ctx context.Context,
	delivery *domain.Delivery,
	eventType domain.EventType,
	status domain.DeliveryStatus,
	reason *string,
	notificationID *string,
) error {
	event := s.buildEvent(delivery, eventType, status, reason, notificationID, s.now().UTC())
	if err := s.events.Append(ctx, &event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", eventType, err)
	}
	return nil
}

func (s *WorkerService) buildEvent(
	delivery *domain.Delivery,
	eventType domain.EventType,
	status domain.DeliveryStatus,
	reason *string,
	notificationID *string,
	at time.Time,
) domain.MessageLogEvent {
	return domain.MessageLogEvent{
		ID:             s.newID(),
		ContactID:      delivery.ContactID,
		JobID:          delivery.JobID,
		CampaignID:     &delivery.CampaignID,
		EventType:      eventType,
		Channel:        delivery.Channel,
		Status:         status,
		NotificationID: notificationID,
		Reason:         reason,
		CreatedAt:      at,
	}
}

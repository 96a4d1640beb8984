package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
)

// ReceiptService applies gateway delivery receipts and candidate
// responses to the delivery state machine. Receipts arrive out of
// order and duplicated; anything that no longer matches the current
// delivery state is logged and dropped rather than rejected.
type ReceiptService struct {
	deliveries repository.DeliveryRepository
	events     repository.EventRepository
	ledger     *LedgerService
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewReceiptService(
	deliveries repository.DeliveryRepository,
	events repository.EventRepository,
	ledger *LedgerService,
	logger *zap.Logger,
) (*ReceiptService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptService{
		deliveries: deliveries,
		events:     events,
		ledger:     ledger,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// ConfirmPushReceipt records a push gateway delivery receipt. A
// negative receipt makes the delivery eligible for SMS fallback
// immediately instead of at the end of the confirmation window.
func (s *ReceiptService) ConfirmPushReceipt(ctx context.Context, notificationID string, delivered bool) error {
	if strings.TrimSpace(notificationID) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.GetByNotificationID(ctx, notificationID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if delivered {
		err = s.deliveries.MarkPushDelivered(ctx, delivery.ID, now, s.receiptEvent(
			delivery, domain.EventPushDelivered, domain.StatusPushDelivered, &notificationID, now,
		))
	} else {
		err = s.deliveries.MarkPushFailed(ctx, delivery.ID, now, s.receiptEvent(
			delivery, domain.EventPushFailed, domain.StatusPushFailed, &notificationID, now,
		))
	}
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Warn("push receipt ignored, delivery already moved on",
			zap.String("deliveryId", delivery.ID),
			zap.String("notificationId", notificationID),
			zap.String("status", delivery.Status.String()),
			zap.Bool("delivered", delivered),
		)
		return nil
	}
	return err
}

// ConfirmSmsReceipt records a carrier delivery receipt. A negative
// receipt refunds the credit consumed for the send.
func (s *ReceiptService) ConfirmSmsReceipt(ctx context.Context, twilioSID string, delivered bool) error {
	if strings.TrimSpace(twilioSID) == "" {
		return fmt.Errorf("%w: twilio sid is required", domain.ErrValidation)
	}

	delivery, err := s.deliveries.GetByTwilioSID(ctx, twilioSID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if delivered {
		err = s.deliveries.MarkSmsDelivered(ctx, delivery.ID, now, s.receiptEvent(
			delivery, domain.EventSmsDelivered, domain.StatusSmsDelivered, delivery.NotificationID, now,
		))
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Warn("sms receipt ignored, delivery already moved on",
				zap.String("deliveryId", delivery.ID),
				zap.String("twilioSid", twilioSID),
				zap.String("status", delivery.Status.String()),
			)
			return nil
		}
		return err
	}

	reasonText := string(domain.ReasonCarrierRejected)
	event := s.receiptEvent(delivery, domain.EventSmsFailed, domain.StatusSmsFailed, delivery.NotificationID, now)
	event.TwilioSID = &twilioSID
	event.Reason = &reasonText
	err = s.deliveries.MarkSmsFailed(ctx, delivery.ID, domain.ReasonCarrierRejected, now, event)
	if errors.Is(err, domain.ErrConflict) {
		// An earlier receipt already applied the transition, possibly
		// without completing its refund. Refund is idempotent, so fall
		// through and attempt it again.
		s.logger.Warn("sms failure receipt already applied",
			zap.String("deliveryId", delivery.ID),
			zap.String("twilioSid", twilioSID),
			zap.String("status", delivery.Status.String()),
		)
	} else if err != nil {
		return err
	}

	if delivery.NotificationID != nil {
		if _, err := s.ledger.Refund(ctx, *delivery.NotificationID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to refund credit after carrier rejection: %w", err)
		}
	}
	return nil
}

// RecordResponse appends the candidate's reply to the event log. The
// delivery itself stays in its current state; a reply is not a
// delivery receipt.
func (s *ReceiptService) RecordResponse(ctx context.Context, contactID, jobID string, availability domain.AvailabilityStatus) error {
	if strings.TrimSpace(contactID) == "" {
		return fmt.Errorf("%w: contact id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if !availability.IsValid() {
		return fmt.Errorf("%w: invalid availability %q", domain.ErrValidation, availability)
	}

	reply := availability.String()
	event := domain.MessageLogEvent{
		ID:        s.newID(),
		ContactID: contactID,
		JobID:     jobID,
		EventType: domain.EventResponseReceived,
		Reason:    &reply,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.Append(ctx, &event); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}

	s.logger.Info("candidate response recorded",
		zap.String("contactId", contactID),
		zap.String("jobId", jobID),
		zap.String("availability", reply),
	)
	return nil
}

func (s *ReceiptService) receiptEvent(
	delivery *domain.Delivery,
	eventType domain.EventType,
	status domain.DeliveryStatus,
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
		TwilioSID:      delivery.TwilioSID,
		CreatedAt:      at,
	}
}

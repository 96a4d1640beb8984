package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/queue"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 50
	maxCandidateCount = 1000
)

// InvitationService admits contacts into a campaign: ranks them,
// slices them into batches, creates delivery records, and hands each
// admitted contact to the channel workers through the queue.
type InvitationService struct {
	deliveries repository.DeliveryRepository
	campaigns  repository.CampaignRepository
	events     repository.EventRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	batchSize  int
	now        func() time.Time
	newID      func() string
}

// SubmitRequest is the caller's invitation submission for one campaign.
type SubmitRequest struct {
	CampaignID     string
	JobID          string
	OrganizationID string
	Title          string
	Body           string
	Requirements   JobRequirements
	Candidates     []domain.Candidate
}

// AdmittedContact describes one created delivery.
type AdmittedContact struct {
	ContactID     string
	DeliveryID    string
	Channel       domain.Channel
	Priority      int
	Reason        string
	BatchID       string
	BatchPosition int
}

// RejectedContact describes a candidate rejected at validation, with a
// reason string suitable for display.
type RejectedContact struct {
	ContactID string
	Reason    string
}

// SubmitResult summarizes an admission run.
type SubmitResult struct {
	CampaignID string
	BatchIDs   []string
	Admitted   []AdmittedContact
	Rejected   []RejectedContact
}

func NewInvitationService(
	deliveries repository.DeliveryRepository,
	campaigns repository.CampaignRepository,
	events repository.EventRepository,
	publisher queue.Publisher,
	batchSize int,
	logger *zap.Logger,
) (*InvitationService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if campaigns == nil {
		return nil, fmt.Errorf("campaign repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InvitationService{
		deliveries: deliveries,
		campaigns:  campaigns,
		events:     events,
		publisher:  publisher,
		logger:     logger,
		batchSize:  batchSize,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// Submit validates and admits candidates. A candidate who already
// confirmed is a caller error and fails the whole call; opted-out and
// unreachable candidates are rejected individually without a delivery.
func (s *InvitationService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateSubmitRequest(&req); err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.GetOrCreate(ctx, &domain.Campaign{
		ID:             req.CampaignID,
		JobID:          req.JobID,
		OrganizationID: req.OrganizationID,
		Status:         domain.CampaignStatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register campaign: %w", err)
	}
	if campaign.Status == domain.CampaignStatusCancelled {
		return nil, fmt.Errorf("%w: campaign %s is cancelled", domain.ErrConflict, campaign.ID)
	}

	// Confirmed candidates fail fast before any per-contact handling.
	for i := range req.Candidates {
		if req.Candidates[i].AvailabilityStatus == domain.AvailabilityConfirmed {
			return nil, fmt.Errorf("%w: contact %s", domain.ErrAlreadyConfirmed, req.Candidates[i].ContactID)
		}
	}

	eligible := make([]domain.Candidate, 0, len(req.Candidates))
	rejected := make([]RejectedContact, 0)
	for i := range req.Candidates {
		candidate := req.Candidates[i]
		if candidate.OptedOut {
			s.logger.Info("rejecting opted-out contact",
				zap.String("contactId", candidate.ContactID),
				zap.String("campaignId", req.CampaignID),
			)
			rejected = append(rejected, RejectedContact{
				ContactID: candidate.ContactID,
				Reason:    domain.ErrOptedOut.Error(),
			})
			continue
		}
		if _, err := candidate.PreferredChannel(); err != nil {
			rejected = append(rejected, RejectedContact{
				ContactID: candidate.ContactID,
				Reason:    domain.ErrNoContactableChannel.Error(),
			})
			continue
		}
		eligible = append(eligible, candidate)
	}

	now := s.now().UTC()
	prioritized, err := Rank(eligible, req.Requirements, now)
	if err != nil {
		return nil, err
	}

	batches := Slice(prioritized, s.batchSize)

	result := &SubmitResult{
		CampaignID: campaign.ID,
		BatchIDs:   make([]string, 0, len(batches)),
		Admitted:   make([]AdmittedContact, 0, len(prioritized)),
		Rejected:   rejected,
	}

	deliveries := make([]*domain.Delivery, 0, len(prioritized))
	events := make([]domain.MessageLogEvent, 0, len(prioritized)+len(batches))

	for _, batch := range batches {
		batchID := s.newID()
		result.BatchIDs = append(result.BatchIDs, batchID)

		size := fmt.Sprintf("size=%d", len(batch))
		events = append(events, domain.MessageLogEvent{
			ID:         s.newID(),
			ContactID:  batch[0].Candidate.ContactID,
			JobID:      req.JobID,
			CampaignID: &campaign.ID,
			EventType:  domain.EventBatchCreated,
			BatchID:    &batchID,
			Reason:     &size,
			CreatedAt:  now,
		})

		for position, contact := range batch {
			delivery := s.buildDelivery(campaign, req, contact, batchID, position, now)
			deliveries = append(deliveries, delivery)

			priority := contact.Score
			reason := contact.Reason
			events = append(events, domain.MessageLogEvent{
				ID:             s.newID(),
				ContactID:      contact.Candidate.ContactID,
				JobID:          req.JobID,
				CampaignID:     &campaign.ID,
				EventType:      domain.EventContactPrioritized,
				Channel:        delivery.Channel,
				Status:         delivery.Status,
				Priority:       &priority,
				PriorityReason: &reason,
				BatchID:        &batchID,
				BatchPosition: func() *int {
					v := position
					return &v
				}(),
				CreatedAt: now,
			})

			result.Admitted = append(result.Admitted, AdmittedContact{
				ContactID:     contact.Candidate.ContactID,
				DeliveryID:    delivery.ID,
				Channel:       delivery.Channel,
				Priority:      contact.Score,
				Reason:        contact.Reason,
				BatchID:       batchID,
				BatchPosition: position,
			})
		}
	}

	if err := s.deliveries.CreateBatch(ctx, deliveries, events); err != nil {
		return nil, fmt.Errorf("failed to create deliveries: %w", err)
	}

	for _, delivery := range deliveries {
		msg := queue.DeliveryMessage{
			Kind:       queue.KindInvite,
			DeliveryID: delivery.ID,
			CampaignID: delivery.CampaignID,
			ContactID:  delivery.ContactID,
			Channel:    delivery.Channel,
			MessageID:  s.newID(),
			Priority:   delivery.Priority,
		}

		if err := s.publisher.Publish(ctx, queue.QueueName(delivery.Channel), msg); err != nil {
			s.logger.Error("failed to publish delivery",
				zap.String("deliveryId", delivery.ID),
				zap.String("channel", string(delivery.Channel)),
				zap.Error(err),
			)
			reasonText := string(domain.ReasonInternalError)
			markErr := s.deliveries.MarkFailed(ctx, delivery.ID, domain.ReasonInternalError, s.now().UTC(), domain.MessageLogEvent{
				ID:         s.newID(),
				ContactID:  delivery.ContactID,
				JobID:      delivery.JobID,
				CampaignID: &delivery.CampaignID,
				EventType:  failureEventType(delivery.Channel),
				Channel:    delivery.Channel,
				Status:     domain.StatusFailed,
				Reason:     &reasonText,
				CreatedAt:  s.now().UTC(),
			})
			if markErr != nil {
				s.logger.Error("failed to mark delivery failed after publish error",
					zap.String("deliveryId", delivery.ID),
					zap.Error(markErr),
				)
			}
		}
	}

	return result, nil
}

// Cancel stops admission for a campaign. In-flight sends complete their
// state machine and pending fallbacks are still honored unless the
// caller also aborts undelivered work.
func (s *InvitationService) Cancel(ctx context.Context, campaignID string, abortUndelivered bool) error {
	if strings.TrimSpace(campaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	if err := s.campaigns.Cancel(ctx, strings.TrimSpace(campaignID), abortUndelivered); err != nil {
		return err
	}

	if !abortUndelivered {
		return nil
	}

	aborted, err := s.deliveries.AbortUndelivered(ctx, campaignID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to abort undelivered work: %w", err)
	}

	s.logger.Info("campaign aborted",
		zap.String("campaignId", campaignID),
		zap.Int("abortedDeliveries", len(aborted)),
	)
	return nil
}

func (s *InvitationService) GetDelivery(ctx context.Context, campaignID, contactID string) (*domain.Delivery, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(contactID) == "" {
		return nil, fmt.Errorf("%w: contact id is required", domain.ErrValidation)
	}
	return s.deliveries.GetByPair(ctx, strings.TrimSpace(campaignID), strings.TrimSpace(contactID))
}

func (s *InvitationService) ListDeliveries(ctx context.Context, campaignID string) ([]domain.Delivery, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return s.deliveries.ListByCampaign(ctx, strings.TrimSpace(campaignID))
}

func (s *InvitationService) ListEvents(ctx context.Context, contactID, jobID string) ([]domain.MessageLogEvent, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, fmt.Errorf("%w: contact id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.events.ListByContactJob(ctx, strings.TrimSpace(contactID), strings.TrimSpace(jobID))
}

func (s *InvitationService) buildDelivery(
	campaign *domain.Campaign,
	req SubmitRequest,
	contact PrioritizedContact,
	batchID string,
	position int,
	now time.Time,
) *domain.Delivery {
	channel, _ := contact.Candidate.PreferredChannel()

	status := domain.StatusPending
	fallbackProcessed := false
	attempt := 0
	if channel == domain.ChannelSMS {
		// Direct-SMS admissions skip the push leg entirely; the
		// SMS-scheduled state covers both them and escalations, and
		// the sweep must never claim them.
		status = domain.StatusSmsFallbackScheduled
		fallbackProcessed = true
		attempt = 1
	}
	if channel == domain.ChannelPortal {
		fallbackProcessed = true
	}

	return &domain.Delivery{
		ID:                s.newID(),
		CampaignID:        campaign.ID,
		ContactID:         contact.Candidate.ContactID,
		JobID:             req.JobID,
		OrganizationID:    campaign.OrganizationID,
		Channel:           channel,
		Status:            status,
		DeviceToken:       contact.Candidate.DeviceToken,
		PhoneNumber:       contact.Candidate.PhoneNumber,
		Title:             req.Title,
		Body:              req.Body,
		Priority:          contact.Score,
		PriorityReason:    contact.Reason,
		BatchID:           batchID,
		BatchPosition:     position,
		FallbackProcessed: fallbackProcessed,
		DeliveryAttempt:   attempt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func validateSubmitRequest(req *SubmitRequest) error {
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	req.JobID = strings.TrimSpace(req.JobID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)

	if req.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	if req.JobID == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if req.OrganizationID == "" {
		return fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	if req.Body == "" {
		return fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}
	if len(req.Candidates) == 0 {
		return fmt.Errorf("%w: at least one candidate is required", domain.ErrValidation)
	}
	if len(req.Candidates) > maxCandidateCount {
		return fmt.Errorf("%w: candidate count exceeds %d", domain.ErrValidation, maxCandidateCount)
	}
	return nil
}

func failureEventType(channel domain.Channel) domain.EventType {
	switch channel {
	case domain.ChannelPush:
		return domain.EventPushFailed
	default:
		return domain.EventSmsFailed
	}
}

// IsValidationError reports whether err should surface as a 4xx to the
// caller rather than a retryable server error.
func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrOptedOut) ||
		errors.Is(err, domain.ErrAlreadyConfirmed) ||
		errors.Is(err, domain.ErrNoContactableChannel)
}

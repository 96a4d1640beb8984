package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeliveryRepository persists deliveries. Every state mutation writes
// its MessageLogEvent in the same database transaction so no transition
// is ever unobserved.
type DeliveryRepository interface {
	CreateBatch(ctx context.Context, deliveries []*domain.Delivery, events []domain.MessageLogEvent) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	GetByPair(ctx context.Context, campaignID, contactID string) (*domain.Delivery, error)
	GetByNotificationID(ctx context.Context, notificationID string) (*domain.Delivery, error)
	GetByTwilioSID(ctx context.Context, twilioSID string) (*domain.Delivery, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.Delivery, error)
	LockForSending(ctx context.Context, id string) (*domain.Delivery, error)
	MarkPushSent(ctx context.Context, id, notificationID string, sentAt, fallbackDueAt time.Time, event domain.MessageLogEvent) error
	MarkPushFailed(ctx context.Context, id string, failedAt time.Time, event domain.MessageLogEvent) error
	MarkPushDelivered(ctx context.Context, id string, deliveredAt time.Time, event domain.MessageLogEvent) error
	ClaimFallback(ctx context.Context, id string, event domain.MessageLogEvent) (bool, error)
	MarkSmsSent(ctx context.Context, id, twilioSID, messageID string, sentAt time.Time, costCredits int, event domain.MessageLogEvent) error
	MarkSmsDelivered(ctx context.Context, id string, deliveredAt time.Time, event domain.MessageLogEvent) error
	MarkSmsFailed(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error
	MarkPortalCreated(ctx context.Context, id, portalMessageID string, createdAt time.Time, event domain.MessageLogEvent) error
	MarkFailed(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error
	GetFallbackDue(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error)
	AbortUndelivered(ctx context.Context, campaignID string, now time.Time) ([]domain.Delivery, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) CreateBatch(ctx context.Context, deliveries []*domain.Delivery, events []domain.MessageLogEvent) error {
	models := make([]DeliveryModel, 0, len(deliveries))
	modelIndexes := make([]int, 0, len(deliveries))
	for i, d := range deliveries {
		model := deliveryModelFromDomain(d)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&models, 100).Error; err != nil {
			return err
		}
		return appendEvents(tx, events)
	})
	if err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(deliveries) && deliveries[idx] != nil {
			*deliveries[idx] = *deliveryModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByPair(ctx context.Context, campaignID, contactID string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND contact_id = ?", campaignID, contactID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByNotificationID(ctx context.Context, notificationID string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) GetByTwilioSID(ctx context.Context, twilioSID string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Where("twilio_sid = ?", twilioSID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("batch_id, batch_position").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

// LockForSending locks the row and returns it if it still awaits its
// initial send (PENDING, or SMS_FALLBACK_SCHEDULED for direct-SMS
// admissions). Nil means another worker got there first or the delivery
// is already past this point; the message should be acked and skipped.
func (r *GormDeliveryRepo) LockForSending(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	switch model.Status {
	case domain.StatusPending, domain.StatusSmsFallbackScheduled:
		return deliveryModelToDomain(&model), nil
	}
	return nil, nil
}

func (r *GormDeliveryRepo) MarkPushSent(ctx context.Context, id, notificationID string, sentAt, fallbackDueAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusPending}, map[string]any{
		"status":          domain.StatusPushSent,
		"notification_id": notificationID,
		"sent_at":         sentAt,
		"fallback_due_at": fallbackDueAt,
		"delivery_attempt": gorm.Expr("delivery_attempt + 1"),
	}, event)
}

func (r *GormDeliveryRepo) MarkPushFailed(ctx context.Context, id string, failedAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusPending, domain.StatusPushSent}, map[string]any{
		"status":          domain.StatusPushFailed,
		"failed_at":       failedAt,
		"fallback_due_at": failedAt,
		"delivery_attempt": gorm.Expr("GREATEST(delivery_attempt, 1)"),
	}, event)
}

// MarkPushDelivered also marks fallbackProcessed defensively so a
// concurrently firing fallback sweep is a no-op.
func (r *GormDeliveryRepo) MarkPushDelivered(ctx context.Context, id string, deliveredAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusPushSent}, map[string]any{
		"status":             domain.StatusPushDelivered,
		"delivered_at":       deliveredAt,
		"fallback_processed": true,
	}, event)
}

// ClaimFallback is the exactly-once gate: a compare-and-set on
// fallbackProcessed false to true. Only the winner of the race may
// escalate; everyone else sees claimed == false.
func (r *GormDeliveryRepo) ClaimFallback(ctx context.Context, id string, event domain.MessageLogEvent) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&DeliveryModel{}).
			Where("id = ? AND fallback_processed = ? AND status IN ?",
				id, false, []domain.DeliveryStatus{domain.StatusPushSent, domain.StatusPushFailed}).
			Updates(map[string]any{
				"fallback_processed": true,
				"status":             domain.StatusSmsFallbackScheduled,
				"delivery_attempt":   gorm.Expr("delivery_attempt + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		claimed = true
		return appendEvents(tx, []domain.MessageLogEvent{event})
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (r *GormDeliveryRepo) MarkSmsSent(ctx context.Context, id, twilioSID, messageID string, sentAt time.Time, costCredits int, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusSmsFallbackScheduled}, map[string]any{
		"status":          domain.StatusSmsSent,
		"twilio_sid":      twilioSID,
		"notification_id": messageID,
		"sent_at":         sentAt,
		"cost_credits":    costCredits,
	}, event)
}

func (r *GormDeliveryRepo) MarkSmsDelivered(ctx context.Context, id string, deliveredAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusSmsSent}, map[string]any{
		"status":       domain.StatusSmsDelivered,
		"delivered_at": deliveredAt,
	}, event)
}

func (r *GormDeliveryRepo) MarkSmsFailed(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusSmsFallbackScheduled, domain.StatusSmsSent}, map[string]any{
		"status":         domain.StatusSmsFailed,
		"failure_reason": reason,
		"failed_at":      failedAt,
	}, event)
}

func (r *GormDeliveryRepo) MarkPortalCreated(ctx context.Context, id, portalMessageID string, createdAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{domain.StatusPending}, map[string]any{
		"status":             domain.StatusPortalCreated,
		"notification_id":    portalMessageID,
		"sent_at":            createdAt,
		"delivered_at":       createdAt,
		"fallback_processed": true,
		"delivery_attempt":   gorm.Expr("delivery_attempt + 1"),
	}, event)
}

func (r *GormDeliveryRepo) MarkFailed(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error {
	return r.transition(ctx, id, []domain.DeliveryStatus{
		domain.StatusPending,
		domain.StatusPushSent,
		domain.StatusPushFailed,
		domain.StatusSmsFallbackScheduled,
	}, map[string]any{
		"status":             domain.StatusFailed,
		"failure_reason":     reason,
		"failed_at":          failedAt,
		"fallback_processed": true,
	}, event)
}

func (r *GormDeliveryRepo) GetFallbackDue(ctx context.Context, now time.Time, limit int) ([]domain.Delivery, error) {
	var models []DeliveryModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND status IN ? AND fallback_processed = ? AND fallback_due_at <= ?",
			domain.ChannelPush,
			[]domain.DeliveryStatus{domain.StatusPushSent, domain.StatusPushFailed},
			false,
			now,
		).
		Order("fallback_due_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.Delivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

// AbortUndelivered terminates deliveries that have not reached a
// terminal state for a cancelled campaign, logging one sms_failed event
// per aborted delivery in the same transaction.
func (r *GormDeliveryRepo) AbortUndelivered(ctx context.Context, campaignID string, now time.Time) ([]domain.Delivery, error) {
	var aborted []domain.Delivery
	reason := domain.ReasonCampaignAborted

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []DeliveryModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("campaign_id = ? AND status IN ?", campaignID, []domain.DeliveryStatus{
				domain.StatusPending,
				domain.StatusPushSent,
				domain.StatusPushFailed,
				domain.StatusSmsFallbackScheduled,
			}).
			Find(&models).Error; err != nil {
			return err
		}

		for i := range models {
			model := &models[i]
			result := tx.Model(&DeliveryModel{}).
				Where("id = ?", model.ID).
				Updates(map[string]any{
					"status":             domain.StatusFailed,
					"failure_reason":     reason,
					"failed_at":          now,
					"fallback_processed": true,
				})
			if result.Error != nil {
				return result.Error
			}

			reasonText := string(reason)
			event := domain.MessageLogEvent{
				ID:         uuid.NewString(),
				ContactID:  model.ContactID,
				JobID:      model.JobID,
				CampaignID: &model.CampaignID,
				EventType:  domain.EventSmsFailed,
				Channel:    model.Channel,
				Status:     domain.StatusFailed,
				Reason:     &reasonText,
				CreatedAt:  now,
			}
			if err := appendEvents(tx, []domain.MessageLogEvent{event}); err != nil {
				return err
			}

			model.Status = domain.StatusFailed
			model.FailureReason = &reason
			model.FailedAt = &now
			model.FallbackProcessed = true
			aborted = append(aborted, *deliveryModelToDomain(model))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return aborted, nil
}

func (r *GormDeliveryRepo) transition(
	ctx context.Context,
	id string,
	fromStatuses []domain.DeliveryStatus,
	updates map[string]any,
	event domain.MessageLogEvent,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&DeliveryModel{}).
			Where("id = ? AND status IN ?", id, fromStatuses).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&DeliveryModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}
		return appendEvents(tx, []domain.MessageLogEvent{event})
	})
}

func appendEvents(tx *gorm.DB, events []domain.MessageLogEvent) error {
	for i := range events {
		model := eventModelFromDomain(&events[i])
		if model.ID == "" {
			model.ID = uuid.NewString()
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
	}
	return nil
}

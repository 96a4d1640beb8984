package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"gorm.io/gorm"
)

// EventRepository is the append-only message log. Events are never
// updated or deleted; ListByContactJob returns them in insertion order
// so a delivery timeline can be reconstructed.
type EventRepository interface {
	Append(ctx context.Context, event *domain.MessageLogEvent) error
	ListByContactJob(ctx context.Context, contactID, jobID string) ([]domain.MessageLogEvent, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.MessageLogEvent, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Append(ctx context.Context, event *domain.MessageLogEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event is required", domain.ErrValidation)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	model := eventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*event = *eventModelToDomain(model)
	return nil
}

func (r *GormEventRepo) ListByContactJob(ctx context.Context, contactID, jobID string) ([]domain.MessageLogEvent, error) {
	var models []MessageLogEventModel
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND job_id = ?", contactID, jobID).
		Order("created_at ASC, seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.MessageLogEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}

func (r *GormEventRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.MessageLogEvent, error) {
	var models []MessageLogEventModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC, seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.MessageLogEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}

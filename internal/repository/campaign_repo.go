package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/invite-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CampaignRepository interface {
	GetOrCreate(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error)
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string, abortUndelivered bool) error
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

// GetOrCreate registers the campaign on first submission and returns
// the stored row on subsequent ones, so cancellation state survives
// repeated invitation submissions.
func (r *GormCampaignRepo) GetOrCreate(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	model := campaignModelFromDomain(campaign)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
	if err != nil {
		return nil, err
	}

	var stored CampaignModel
	if err := r.db.WithContext(ctx).First(&stored, "id = ?", campaign.ID).Error; err != nil {
		return nil, err
	}
	return campaignModelToDomain(&stored), nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

func (r *GormCampaignRepo) Cancel(ctx context.Context, id string, abortUndelivered bool) error {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            domain.CampaignStatusCancelled,
			"abort_undelivered": abortUndelivered,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

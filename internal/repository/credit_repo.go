package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditRepository is the organization credit ledger. Consume and
// Refund are atomic: grant rows are locked for the duration of the
// transaction and the conditional update guards against the
// check-then-act race two concurrent escalations would otherwise hit.
type CreditRepository interface {
	CreateGrant(ctx context.Context, grant *domain.CreditGrant) error
	Consume(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error)
	Refund(ctx context.Context, messageID string) ([]domain.CreditTransaction, error)
	Balance(ctx context.Context, organizationID string, now time.Time) (int, []domain.CreditGrant, error)
	GetTransactionsByMessageID(ctx context.Context, messageID string) ([]domain.CreditTransaction, error)
}

type GormCreditRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormCreditRepo(db *gorm.DB) *GormCreditRepo {
	return &GormCreditRepo{db: db, now: time.Now}
}

func (r *GormCreditRepo) CreateGrant(ctx context.Context, grant *domain.CreditGrant) error {
	if grant == nil {
		return fmt.Errorf("%w: grant is required", domain.ErrValidation)
	}
	if grant.OrganizationID == "" {
		return fmt.Errorf("%w: organization id is required", domain.ErrValidation)
	}
	if grant.CreditsGranted <= 0 {
		return fmt.Errorf("%w: credits granted must be positive", domain.ErrValidation)
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}

	model := grantModelFromDomain(grant)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*grant = *grantModelToDomain(model)
	return nil
}

// Consume deducts amount credits for a physical send identified by
// messageID. Calling it twice with the same messageID returns the
// original transactions unchanged instead of double-deducting.
func (r *GormCreditRepo) Consume(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}

	now := r.now().UTC()
	var result []domain.CreditTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grantModels []CreditGrantModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("organization_id = ? AND credits_consumed < credits_granted AND (expires_at IS NULL OR expires_at > ?)",
				organizationID, now).
			Order("expires_at ASC NULLS LAST, id ASC").
			Find(&grantModels).Error; err != nil {
			return err
		}

		// Idempotency check runs after the grant locks: a concurrent
		// consume for the same send blocks above, so this read sees its
		// committed rows instead of racing the insert. The unique
		// partial index on (message_id, grant_id) WHERE delta < 0
		// backstops the remaining no-eligible-grants window.
		var existing []CreditTransactionModel
		if err := tx.Where("message_id = ? AND delta < 0", messageID).
			Order("created_at ASC").
			Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			for i := range existing {
				result = append(result, *transactionModelToDomain(&existing[i]))
			}
			return nil
		}

		grants := make([]domain.CreditGrant, 0, len(grantModels))
		for i := range grantModels {
			grants = append(grants, *grantModelToDomain(&grantModels[i]))
		}

		draws, err := domain.PlanConsumption(grants, amount, now)
		if err != nil {
			return err
		}

		for _, draw := range draws {
			update := tx.Model(&CreditGrantModel{}).
				Where("id = ? AND credits_consumed + ? <= credits_granted", draw.GrantID, draw.Amount).
				Update("credits_consumed", gorm.Expr("credits_consumed + ?", draw.Amount))
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return fmt.Errorf("%w: grant %s would go negative consuming %d for message %s",
					domain.ErrInvariant, draw.GrantID, draw.Amount, messageID)
			}

			txModel := CreditTransactionModel{
				ID:        uuid.NewString(),
				GrantID:   draw.GrantID,
				MessageID: messageID,
				Delta:     -draw.Amount,
				Reason:    reason,
				CreatedAt: now,
			}
			if err := tx.Create(&txModel).Error; err != nil {
				return err
			}
			result = append(result, *transactionModelToDomain(&txModel))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Refund reverses the consumption for messageID by writing positive
// delta lines against the same grants. It never resurrects capacity
// beyond the original consumption, and refunding twice returns the
// first refund unchanged.
func (r *GormCreditRepo) Refund(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}

	now := r.now().UTC()
	var result []domain.CreditTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var consuming []CreditTransactionModel
		if err := tx.Where("message_id = ? AND delta < 0", messageID).
			Find(&consuming).Error; err != nil {
			return err
		}
		if len(consuming) == 0 {
			return domain.ErrNotFound
		}

		var refunded []CreditTransactionModel
		if err := tx.Where("message_id = ? AND delta > 0", messageID).
			Find(&refunded).Error; err != nil {
			return err
		}
		if len(refunded) > 0 {
			for i := range refunded {
				result = append(result, *transactionModelToDomain(&refunded[i]))
			}
			return nil
		}

		for i := range consuming {
			consumed := -consuming[i].Delta

			update := tx.Model(&CreditGrantModel{}).
				Where("id = ? AND credits_consumed >= ?", consuming[i].GrantID, consumed).
				Update("credits_consumed", gorm.Expr("credits_consumed - ?", consumed))
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				return fmt.Errorf("%w: refund of %d for message %s exceeds consumption on grant %s",
					domain.ErrInvariant, consumed, messageID, consuming[i].GrantID)
			}

			txModel := CreditTransactionModel{
				ID:        uuid.NewString(),
				GrantID:   consuming[i].GrantID,
				MessageID: messageID,
				Delta:     consumed,
				Reason:    domain.CreditReasonRefund,
				CreatedAt: now,
			}
			if err := tx.Create(&txModel).Error; err != nil {
				return err
			}
			result = append(result, *transactionModelToDomain(&txModel))
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return result, nil
}

func (r *GormCreditRepo) Balance(ctx context.Context, organizationID string, now time.Time) (int, []domain.CreditGrant, error) {
	var models []CreditGrantModel
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("expires_at ASC NULLS LAST, id ASC").
		Find(&models).Error
	if err != nil {
		return 0, nil, err
	}

	total := 0
	grants := make([]domain.CreditGrant, 0, len(models))
	for i := range models {
		grant := grantModelToDomain(&models[i])
		grants = append(grants, *grant)
		if !grant.Expired(now) {
			total += grant.Remaining()
		}
	}

	return total, grants, nil
}

func (r *GormCreditRepo) GetTransactionsByMessageID(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	var models []CreditTransactionModel
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	transactions := make([]domain.CreditTransaction, 0, len(models))
	for i := range models {
		transactions = append(transactions, *transactionModelToDomain(&models[i]))
	}
	return transactions, nil
}

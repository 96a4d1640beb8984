package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.CampaignModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_status_channel ON deliveries (status, channel)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_fallback_due ON deliveries (fallback_due_at) WHERE fallback_processed = false`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_notification_id ON deliveries (notification_id) WHERE notification_id IS NOT NULL`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_deliveries_twilio_sid ON deliveries (twilio_sid) WHERE twilio_sid IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
		{
			ID: "000003_create_credit_grants",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CreditGrantModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_credit_grants_org_expiry ON credit_grants (organization_id, expires_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CreditGrantModel{})
			},
		},
		{
			ID: "000004_create_credit_transactions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CreditTransactionModel{}); err != nil {
					return err
				}
				// At most one consuming transaction per send and grant;
				// a concurrent duplicate consume fails the insert instead
				// of double-charging.
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_consume ON credit_transactions (message_id, grant_id) WHERE delta < 0`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CreditTransactionModel{})
			},
		},
		{
			ID: "000005_create_message_log_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.MessageLogEventModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_events_campaign ON message_log_events (campaign_id) WHERE campaign_id IS NOT NULL`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.MessageLogEventModel{})
			},
		},
	})

	return m.Migrate()
}

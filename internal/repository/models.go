package repository

import (
	"time"

	"github.com/kursadbilgin/invite-engine/internal/domain"
)

// DeliveryModel is the persistence model for the deliveries table.
type DeliveryModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	CampaignID     string `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_campaign_contact,priority:1"`
	ContactID      string `gorm:"type:uuid;not null;uniqueIndex:idx_deliveries_campaign_contact,priority:2"`
	JobID          string `gorm:"type:uuid;not null"`
	OrganizationID string `gorm:"type:uuid;not null"`

	Channel domain.Channel        `gorm:"type:varchar(10);not null"`
	Status  domain.DeliveryStatus `gorm:"type:varchar(30);not null"`

	DeviceToken string `gorm:"type:varchar(255)"`
	PhoneNumber string `gorm:"type:varchar(32)"`
	Title       string `gorm:"type:varchar(255)"`
	Body        string `gorm:"type:text"`

	NotificationID *string `gorm:"type:varchar(64)"`
	TwilioSID      *string `gorm:"type:varchar(64)"`

	Priority       int    `gorm:"not null"`
	PriorityReason string `gorm:"type:varchar(64)"`
	BatchID        string `gorm:"type:uuid;not null"`
	BatchPosition  int    `gorm:"not null"`

	FallbackProcessed bool `gorm:"not null;default:false"`
	FallbackDueAt     *time.Time

	DeliveryAttempt int                   `gorm:"not null;default:0"`
	CostCredits     int                   `gorm:"not null;default:0"`
	FailureReason   *domain.FailureReason `gorm:"type:varchar(40)"`

	CreatedAt   time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time
	UpdatedAt   time.Time
}

func (DeliveryModel) TableName() string {
	return "deliveries"
}

// CreditGrantModel is the persistence model for credit_grants.
type CreditGrantModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	OrganizationID  string `gorm:"type:uuid;not null;index"`
	CreditsGranted  int    `gorm:"not null"`
	CreditsConsumed int    `gorm:"not null;default:0"`
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CreditGrantModel) TableName() string {
	return "credit_grants"
}

// CreditTransactionModel is the persistence model for credit_transactions.
type CreditTransactionModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	GrantID   string `gorm:"type:uuid;not null;index"`
	MessageID string `gorm:"type:varchar(64);not null;index"`
	Delta     int    `gorm:"not null"`
	Reason    string `gorm:"type:varchar(40);not null"`
	CreatedAt time.Time
}

func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

// MessageLogEventModel is the persistence model for message_log_events.
// Seq preserves insertion order for timeline reconstruction when two
// events share a created_at timestamp.
type MessageLogEventModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	Seq        int64   `gorm:"autoIncrement;uniqueIndex"`
	ContactID  string  `gorm:"type:uuid;not null;index:idx_events_contact_job,priority:1"`
	JobID      string  `gorm:"type:uuid;not null;index:idx_events_contact_job,priority:2"`
	CampaignID *string `gorm:"type:uuid"`

	EventType domain.EventType      `gorm:"type:varchar(40);not null"`
	Channel   domain.Channel        `gorm:"type:varchar(10)"`
	Status    domain.DeliveryStatus `gorm:"type:varchar(30)"`

	Priority       *int
	PriorityReason *string `gorm:"type:varchar(64)"`
	BatchID        *string `gorm:"type:uuid"`
	BatchPosition  *int

	NotificationID *string `gorm:"type:varchar(64)"`
	TwilioSID      *string `gorm:"type:varchar(64)"`
	Reason         *string `gorm:"type:varchar(255)"`

	CreatedAt time.Time
}

func (MessageLogEventModel) TableName() string {
	return "message_log_events"
}

// CampaignModel is the persistence model for campaigns.
type CampaignModel struct {
	ID               string                `gorm:"type:uuid;primaryKey"`
	JobID            string                `gorm:"type:uuid;not null"`
	OrganizationID   string                `gorm:"type:uuid;not null;index"`
	Status           domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	AbortUndelivered bool                  `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:                d.ID,
		CampaignID:        d.CampaignID,
		ContactID:         d.ContactID,
		JobID:             d.JobID,
		OrganizationID:    d.OrganizationID,
		Channel:           d.Channel,
		Status:            d.Status,
		DeviceToken:       d.DeviceToken,
		PhoneNumber:       d.PhoneNumber,
		Title:             d.Title,
		Body:              d.Body,
		NotificationID:    d.NotificationID,
		TwilioSID:         d.TwilioSID,
		Priority:          d.Priority,
		PriorityReason:    d.PriorityReason,
		BatchID:           d.BatchID,
		BatchPosition:     d.BatchPosition,
		FallbackProcessed: d.FallbackProcessed,
		FallbackDueAt:     d.FallbackDueAt,
		DeliveryAttempt:   d.DeliveryAttempt,
		CostCredits:       d.CostCredits,
		FailureReason:     d.FailureReason,
		CreatedAt:         d.CreatedAt,
		SentAt:            d.SentAt,
		DeliveredAt:       d.DeliveredAt,
		FailedAt:          d.FailedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:                m.ID,
		CampaignID:        m.CampaignID,
		ContactID:         m.ContactID,
		JobID:             m.JobID,
		OrganizationID:    m.OrganizationID,
		Channel:           m.Channel,
		Status:            m.Status,
		DeviceToken:       m.DeviceToken,
		PhoneNumber:       m.PhoneNumber,
		Title:             m.Title,
		Body:              m.Body,
		NotificationID:    m.NotificationID,
		TwilioSID:         m.TwilioSID,
		Priority:          m.Priority,
		PriorityReason:    m.PriorityReason,
		BatchID:           m.BatchID,
		BatchPosition:     m.BatchPosition,
		FallbackProcessed: m.FallbackProcessed,
		FallbackDueAt:     m.FallbackDueAt,
		DeliveryAttempt:   m.DeliveryAttempt,
		CostCredits:       m.CostCredits,
		FailureReason:     m.FailureReason,
		CreatedAt:         m.CreatedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		FailedAt:          m.FailedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func grantModelFromDomain(g *domain.CreditGrant) *CreditGrantModel {
	if g == nil {
		return nil
	}

	return &CreditGrantModel{
		ID:              g.ID,
		OrganizationID:  g.OrganizationID,
		CreditsGranted:  g.CreditsGranted,
		CreditsConsumed: g.CreditsConsumed,
		ExpiresAt:       g.ExpiresAt,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func grantModelToDomain(m *CreditGrantModel) *domain.CreditGrant {
	if m == nil {
		return nil
	}

	return &domain.CreditGrant{
		ID:              m.ID,
		OrganizationID:  m.OrganizationID,
		CreditsGranted:  m.CreditsGranted,
		CreditsConsumed: m.CreditsConsumed,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func transactionModelToDomain(m *CreditTransactionModel) *domain.CreditTransaction {
	if m == nil {
		return nil
	}

	return &domain.CreditTransaction{
		ID:        m.ID,
		GrantID:   m.GrantID,
		MessageID: m.MessageID,
		Delta:     m.Delta,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
}

func eventModelFromDomain(e *domain.MessageLogEvent) *MessageLogEventModel {
	if e == nil {
		return nil
	}

	return &MessageLogEventModel{
		ID:             e.ID,
		ContactID:      e.ContactID,
		JobID:          e.JobID,
		CampaignID:     e.CampaignID,
		EventType:      e.EventType,
		Channel:        e.Channel,
		Status:         e.Status,
		Priority:       e.Priority,
		PriorityReason: e.PriorityReason,
		BatchID:        e.BatchID,
		BatchPosition:  e.BatchPosition,
		NotificationID: e.NotificationID,
		TwilioSID:      e.TwilioSID,
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt,
	}
}

func eventModelToDomain(m *MessageLogEventModel) *domain.MessageLogEvent {
	if m == nil {
		return nil
	}

	return &domain.MessageLogEvent{
		ID:             m.ID,
		ContactID:      m.ContactID,
		JobID:          m.JobID,
		CampaignID:     m.CampaignID,
		EventType:      m.EventType,
		Channel:        m.Channel,
		Status:         m.Status,
		Priority:       m.Priority,
		PriorityReason: m.PriorityReason,
		BatchID:        m.BatchID,
		BatchPosition:  m.BatchPosition,
		NotificationID: m.NotificationID,
		TwilioSID:      m.TwilioSID,
		Reason:         m.Reason,
		CreatedAt:      m.CreatedAt,
	}
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:               c.ID,
		JobID:            c.JobID,
		OrganizationID:   c.OrganizationID,
		Status:           c.Status,
		AbortUndelivered: c.AbortUndelivered,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:               m.ID,
		JobID:            m.JobID,
		OrganizationID:   m.OrganizationID,
		Status:           m.Status,
		AbortUndelivered: m.AbortUndelivered,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

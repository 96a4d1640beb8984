package domain

import "time"

// CampaignStatus represents the admission state of a campaign.
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusActive, CampaignStatusCancelled:
		return true
	}
	return false
}

// Campaign tracks admission state for a job's invitation run. Cancelling
// stops new deliveries; in-flight sends complete their state machine and
// pending fallbacks are still honored unless the caller aborts
// undelivered work outright.
type Campaign struct {
	ID               string
	JobID            string
	OrganizationID   string
	Status           CampaignStatus
	AbortUndelivered bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

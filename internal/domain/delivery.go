package domain

import (
	"fmt"
	"strings"
	"time"
)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelPush   Channel = "PUSH"
	ChannelSMS    Channel = "SMS"
	ChannelPortal Channel = "PORTAL"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelSMS, ChannelPortal:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// DeliveryStatus represents the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusPending              DeliveryStatus = "PENDING"
	StatusPushSent             DeliveryStatus = "PUSH_SENT"
	StatusPushDelivered        DeliveryStatus = "PUSH_DELIVERED"
	StatusPushFailed           DeliveryStatus = "PUSH_FAILED"
	StatusSmsFallbackScheduled DeliveryStatus = "SMS_FALLBACK_SCHEDULED"
	StatusSmsSent              DeliveryStatus = "SMS_SENT"
	StatusSmsDelivered         DeliveryStatus = "SMS_DELIVERED"
	StatusSmsFailed            DeliveryStatus = "SMS_FAILED"
	StatusPortalCreated        DeliveryStatus = "PORTAL_CREATED"
	StatusFailed               DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPushSent, StatusPushDelivered, StatusPushFailed,
		StatusSmsFallbackScheduled, StatusSmsSent, StatusSmsDelivered,
		StatusSmsFailed, StatusPortalCreated, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave this status.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusPushDelivered, StatusSmsDelivered, StatusSmsFailed,
		StatusPortalCreated, StatusFailed:
		return true
	}
	return false
}

// IsSuccess reports whether the status is a terminal success.
func (s DeliveryStatus) IsSuccess() bool {
	switch s {
	case StatusPushDelivered, StatusSmsDelivered, StatusPortalCreated:
		return true
	}
	return false
}

// CanTransitionTo enforces the closed transition graph. All writes go
// through this check so illegal transitions surface as ErrConflict
// instead of silently corrupting state.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	switch s {
	case StatusPending:
		switch next {
		case StatusPushSent, StatusPushFailed, StatusSmsFallbackScheduled,
			StatusPortalCreated, StatusFailed:
			return true
		}
	case StatusPushSent:
		switch next {
		case StatusPushDelivered, StatusPushFailed, StatusSmsFallbackScheduled:
			return true
		}
	case StatusPushFailed:
		switch next {
		case StatusSmsFallbackScheduled, StatusFailed:
			return true
		}
	case StatusSmsFallbackScheduled:
		switch next {
		case StatusSmsSent, StatusSmsFailed, StatusFailed:
			return true
		}
	case StatusSmsSent:
		switch next {
		case StatusSmsDelivered, StatusSmsFailed:
			return true
		}
	}
	return false
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// FailureReason enumerates terminal failure reasons surfaced to callers.
type FailureReason string

const (
	ReasonInsufficientCredits FailureReason = "insufficient_credits"
	ReasonAttemptsExhausted   FailureReason = "attempts_exhausted"
	ReasonCarrierRejected     FailureReason = "carrier_rejected"
	ReasonCampaignAborted     FailureReason = "campaign_aborted"
	ReasonNoFallbackChannel   FailureReason = "no_fallback_channel"
	ReasonInternalError       FailureReason = "internal_error"
)

// DisplayMessage returns a reason string suitable for end users.
// Internal detail (adapter errors, stack traces) stays in logs.
func (r FailureReason) DisplayMessage() string {
	switch r {
	case ReasonInsufficientCredits:
		return "insufficient SMS credits"
	case ReasonAttemptsExhausted:
		return "delivery attempts exhausted"
	case ReasonCarrierRejected:
		return "message rejected by carrier"
	case ReasonCampaignAborted:
		return "campaign was cancelled"
	case ReasonNoFallbackChannel:
		return "no SMS fallback channel available"
	case ReasonInternalError:
		return "internal delivery error"
	}
	return "delivery failed"
}

// Delivery is one attempt to reach one contact about one job campaign.
// At most one active delivery exists per (campaign, contact) pair, and
// terminal deliveries are retained for audit rather than deleted.
type Delivery struct {
	ID             string
	CampaignID     string
	ContactID      string
	JobID          string
	OrganizationID string

	Channel Channel
	Status  DeliveryStatus

	// Contact capabilities and rendered content are snapshotted at
	// admission; the engine has no contact store to consult when the
	// fallback sweep escalates later.
	DeviceToken string
	PhoneNumber string
	Title       string
	Body        string

	// NotificationID is the opaque id of the physical send, unique per
	// push/SMS dispatch. Receipt callbacks correlate on it.
	NotificationID *string
	// TwilioSID correlates the SMS send with the carrier.
	TwilioSID *string

	Priority       int
	PriorityReason string
	BatchID        string
	BatchPosition  int

	// FallbackProcessed transitions false to true exactly once; the
	// compare-and-set on it is the sole inter-worker sync point.
	FallbackProcessed bool
	FallbackDueAt     *time.Time

	DeliveryAttempt int
	CostCredits     int
	FailureReason   *FailureReason

	CreatedAt   time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time
	UpdatedAt   time.Time
}

func (d *Delivery) Validate() error {
	if d.CampaignID == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if d.ContactID == "" {
		return fmt.Errorf("%w: contact id is required", ErrValidation)
	}
	if d.JobID == "" {
		return fmt.Errorf("%w: job id is required", ErrValidation)
	}
	if d.OrganizationID == "" {
		return fmt.Errorf("%w: organization id is required", ErrValidation)
	}
	if !d.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, d.Channel)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, d.Status)
	}
	if d.Priority < 1 || d.Priority > 100 {
		return fmt.Errorf("%w: priority must be within [1,100], got %d", ErrValidation, d.Priority)
	}
	return nil
}

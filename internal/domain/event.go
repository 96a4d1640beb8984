package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the stable, persisted vocabulary of delivery transitions.
type EventType string

const (
	EventContactPrioritized   EventType = "contact_prioritized"
	EventBatchCreated         EventType = "batch_created"
	EventPushAttempted        EventType = "push_attempted"
	EventPushSent             EventType = "push_sent"
	EventPushDelivered        EventType = "push_delivered"
	EventPushFailed           EventType = "push_failed"
	EventSmsFallbackScheduled EventType = "sms_fallback_scheduled"
	EventSmsFallbackTriggered EventType = "sms_fallback_triggered"
	EventSmsAttempted         EventType = "sms_attempted"
	EventSmsSent              EventType = "sms_sent"
	EventSmsDelivered         EventType = "sms_delivered"
	EventSmsFailed            EventType = "sms_failed"
	EventPortalMessageCreated EventType = "portal_message_created"
	EventResponseReceived     EventType = "response_received"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventContactPrioritized, EventBatchCreated, EventPushAttempted,
		EventPushSent, EventPushDelivered, EventPushFailed,
		EventSmsFallbackScheduled, EventSmsFallbackTriggered,
		EventSmsAttempted, EventSmsSent, EventSmsDelivered, EventSmsFailed,
		EventPortalMessageCreated, EventResponseReceived:
		return true
	}
	return false
}

func ParseEventTypeFromString(s string) (EventType, error) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return t, nil
}

// MessageLogEvent is an append-only audit record. Events are never
// mutated or deleted, and ordering within a (contact, job) pair is
// reconstructible from CreatedAt plus the insertion sequence.
type MessageLogEvent struct {
	ID         string
	ContactID  string
	JobID      string
	CampaignID *string

	EventType EventType
	Channel   Channel
	Status    DeliveryStatus

	Priority       *int
	PriorityReason *string
	BatchID        *string
	BatchPosition  *int

	NotificationID *string
	TwilioSID      *string
	Reason         *string

	CreatedAt time.Time
}

func (e *MessageLogEvent) Validate() error {
	if e.ContactID == "" {
		return fmt.Errorf("%w: contact id is required", ErrValidation)
	}
	if e.JobID == "" {
		return fmt.Errorf("%w: job id is required", ErrValidation)
	}
	if !e.EventType.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.EventType)
	}
	return nil
}

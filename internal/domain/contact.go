package domain

import (
	"fmt"
	"strings"
	"time"
)

// WorkStatus represents a contact's current working status.
type WorkStatus string

const (
	WorkStatusFree     WorkStatus = "FREE"
	WorkStatusOnJob    WorkStatus = "ON_JOB"
	WorkStatusOffShift WorkStatus = "OFF_SHIFT"
)

func (s WorkStatus) String() string { return string(s) }

func (s WorkStatus) IsValid() bool {
	switch s {
	case WorkStatusFree, WorkStatusOnJob, WorkStatusOffShift:
		return true
	}
	return false
}

func ParseWorkStatusFromString(s string) (WorkStatus, error) {
	st := WorkStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid work status %q", ErrValidation, s)
	}
	return st, nil
}

// AvailabilityStatus represents a contact's standing response for a campaign.
type AvailabilityStatus string

const (
	AvailabilityUnknown   AvailabilityStatus = "UNKNOWN"
	AvailabilityConfirmed AvailabilityStatus = "CONFIRMED"
	AvailabilityDeclined  AvailabilityStatus = "DECLINED"
	AvailabilityMaybe     AvailabilityStatus = "MAYBE"
	AvailabilityNoReply   AvailabilityStatus = "NO_REPLY"
)

func (s AvailabilityStatus) String() string { return string(s) }

func (s AvailabilityStatus) IsValid() bool {
	switch s {
	case AvailabilityUnknown, AvailabilityConfirmed, AvailabilityDeclined,
		AvailabilityMaybe, AvailabilityNoReply:
		return true
	}
	return false
}

func ParseAvailabilityStatusFromString(s string) (AvailabilityStatus, error) {
	st := AvailabilityStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid availability status %q", ErrValidation, s)
	}
	return st, nil
}

// Candidate is a contact submitted for a campaign, as provided by the
// caller. The engine consumes but does not own the contact schema.
type Candidate struct {
	ContactID          string
	DeviceToken        string
	PhoneNumber        string
	PortalEnabled      bool
	OptedOut           bool
	WorkStatus         WorkStatus
	AvailabilityStatus AvailabilityStatus
	Skills             []string
	LastResponseAt     *time.Time
}

func (c *Candidate) Validate() error {
	if strings.TrimSpace(c.ContactID) == "" {
		return fmt.Errorf("%w: contact id is required", ErrValidation)
	}
	if !c.WorkStatus.IsValid() {
		return fmt.Errorf("%w: invalid work status %q for contact %s", ErrValidation, c.WorkStatus, c.ContactID)
	}
	if !c.AvailabilityStatus.IsValid() {
		return fmt.Errorf("%w: invalid availability status %q for contact %s", ErrValidation, c.AvailabilityStatus, c.ContactID)
	}
	return nil
}

// PreferredChannel picks the admission channel from the contact's
// capabilities: push when a device token exists, direct SMS when only a
// phone number exists, portal when neither.
func (c *Candidate) PreferredChannel() (Channel, error) {
	if strings.TrimSpace(c.DeviceToken) != "" {
		return ChannelPush, nil
	}
	if strings.TrimSpace(c.PhoneNumber) != "" {
		return ChannelSMS, nil
	}
	if c.PortalEnabled {
		return ChannelPortal, nil
	}
	return "", fmt.Errorf("%w: contact %s", ErrNoContactableChannel, c.ContactID)
}

// CanFallbackToSMS reports whether SMS escalation is possible at all.
func (c *Candidate) CanFallbackToSMS() bool {
	return strings.TrimSpace(c.PhoneNumber) != ""
}

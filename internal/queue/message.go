package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/invite-engine/internal/domain"
)

// MessageKind distinguishes initial admission sends from SMS escalations.
type MessageKind string

const (
	KindInvite      MessageKind = "invite"
	KindSmsFallback MessageKind = "sms_fallback"
)

func (k MessageKind) IsValid() bool {
	switch k {
	case KindInvite, KindSmsFallback:
		return true
	}
	return false
}

// DeliveryMessage is the broker payload for delivery processing. The
// worker loads the delivery row for content and capabilities; the
// message carries only identity and routing data.
type DeliveryMessage struct {
	Kind       MessageKind    `json:"kind"`
	DeliveryID string         `json:"deliveryId"`
	CampaignID string         `json:"campaignId,omitempty"`
	ContactID  string         `json:"contactId,omitempty"`
	Channel    domain.Channel `json:"channel"`
	// MessageID identifies the physical send and is the credit
	// ledger idempotency key for chargeable sends.
	MessageID string `json:"messageId"`
	Priority  int    `json:"priority"`
}

func (m DeliveryMessage) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid message kind %q", m.Kind)
	}
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if m.Kind == KindSmsFallback && m.Channel != domain.ChannelSMS {
		return fmt.Errorf("sms fallback must route to the sms queue, got %q", m.Channel)
	}
	return nil
}

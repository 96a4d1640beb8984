package provider

import "context"

// PushProvider is the outbound mobile push port. Acceptance by the
// gateway is not confirmed delivery; confirmation arrives later through
// a receipt callback correlated on the notification id.
type PushProvider interface {
	SendPush(ctx context.Context, deviceToken string, payload PushPayload) (*PushResponse, error)
}

// SMSProvider is the outbound SMS port.
type SMSProvider interface {
	SendSMS(ctx context.Context, phoneNumber string, body string) (*SMSResponse, error)
}

// PortalProvider creates in-app portal messages. The portal has no
// delivery confirmation concept, so creation is terminal success.
type PortalProvider interface {
	CreatePortalMessage(ctx context.Context, contactID string, body string) (*PortalResponse, error)
}

// PushPayload is the channel-agnostic invitation content.
type PushPayload struct {
	NotificationID string
	Title          string
	Body           string
	JobID          string
	CampaignID     string
}

// PushResponse stores gateway call metadata for audit and persistence.
type PushResponse struct {
	StatusCode int
	Body       string
	Accepted   bool
}

// SMSResponse carries the carrier correlation id.
type SMSResponse struct {
	StatusCode int
	Body       string
	TwilioSID  string
}

// PortalResponse carries the created portal message id.
type PortalResponse struct {
	MessageID string
}

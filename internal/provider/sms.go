package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultSMSTimeout = 10 * time.Second

type smsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponseBody struct {
	SID string `json:"sid"`
}

// TwilioSMSProvider sends SMS through a Twilio-compatible HTTP gateway
// and surfaces the carrier sid for correlation.
type TwilioSMSProvider struct {
	client   *resty.Client
	endpoint string
}

func NewTwilioSMSProvider(endpoint string) (*TwilioSMSProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)
	client.SetRetryCount(0)

	return NewTwilioSMSProviderWithClient(endpoint, client)
}

func NewTwilioSMSProviderWithClient(endpoint string, client *resty.Client) (*TwilioSMSProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("sms gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid sms gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)

	return &TwilioSMSProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *TwilioSMSProvider) SendSMS(ctx context.Context, phoneNumber string, body string) (*SMSResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("sms provider is not initialized")
	}
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, &ProviderError{
			Message:   "phone number is required",
			Transient: false,
		}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsRequest{To: phoneNumber, Body: body}).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "sms gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "sms gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SMSResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			TwilioSID:  twilioSID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage("sms gateway", statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func twilioSID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	var parsed smsResponseBody
	if err := json.Unmarshal(response.Body(), &parsed); err == nil {
		if sid := strings.TrimSpace(parsed.SID); sid != "" {
			return sid
		}
	}

	for _, key := range []string{"X-Message-Sid", "X-Twilio-Sid"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

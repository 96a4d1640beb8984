package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultPushTimeout = 10 * time.Second

type pushRequest struct {
	Token          string `json:"token"`
	NotificationID string `json:"notificationId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	JobID          string `json:"jobId"`
	CampaignID     string `json:"campaignId"`
}

// HTTPPushProvider sends push notifications through an HTTP push gateway.
type HTTPPushProvider struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPPushProvider(endpoint string) (*HTTPPushProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultPushTimeout)
	client.SetRetryCount(0)

	return NewHTTPPushProviderWithClient(endpoint, client)
}

func NewHTTPPushProviderWithClient(endpoint string, client *resty.Client) (*HTTPPushProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPPushProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPPushProvider) SendPush(ctx context.Context, deviceToken string, payload PushPayload) (*PushResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("push provider is not initialized")
	}
	if strings.TrimSpace(deviceToken) == "" {
		return nil, &ProviderError{
			Message:   "device token is required",
			Transient: false,
		}
	}

	reqBody := pushRequest{
		Token:          deviceToken,
		NotificationID: payload.NotificationID,
		Title:          payload.Title,
		Body:           payload.Body,
		JobID:          payload.JobID,
		CampaignID:     payload.CampaignID,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "push gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "push gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &PushResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			Accepted:   true,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage("push gateway", statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(gateway string, statusCode int, body string) string {
	base := fmt.Sprintf("%s returned status %d", gateway, statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

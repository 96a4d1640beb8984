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

const defaultPortalTimeout = 10 * time.Second

type portalRequest struct {
	ContactID string `json:"contactId"`
	Body      string `json:"body"`
}

type portalResponseBody struct {
	MessageID string `json:"messageId"`
}

// HTTPPortalProvider creates in-app messages through the portal service API.
type HTTPPortalProvider struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPPortalProvider(endpoint string) (*HTTPPortalProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultPortalTimeout)
	client.SetRetryCount(0)

	return NewHTTPPortalProviderWithClient(endpoint, client)
}

func NewHTTPPortalProviderWithClient(endpoint string, client *resty.Client) (*HTTPPortalProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("portal endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid portal endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPortalTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPPortalProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPPortalProvider) CreatePortalMessage(ctx context.Context, contactID string, body string) (*PortalResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("portal provider is not initialized")
	}
	if strings.TrimSpace(contactID) == "" {
		return nil, &ProviderError{
			Message:   "contact id is required",
			Transient: false,
		}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(portalRequest{ContactID: contactID, Body: body}).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "portal request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "portal returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    gatewayErrorMessage("portal", statusCode, responseBody),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var parsed portalResponseBody
	if err := json.Unmarshal(response.Body(), &parsed); err != nil || strings.TrimSpace(parsed.MessageID) == "" {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "portal response missing message id",
			Transient:  false,
		}
	}

	return &PortalResponse{MessageID: parsed.MessageID}, nil
}

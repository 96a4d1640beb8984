package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPPushProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody pushRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p, err := NewHTTPPushProvider(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPPushProvider() error = %v", err)
	}

	resp, err := p.SendPush(context.Background(), "device-token-1", PushPayload{
		NotificationID: "notif-1",
		Title:          "Night shift",
		Body:           "Can you cover tonight?",
		JobID:          "job-1",
		CampaignID:     "camp-1",
	})
	if err != nil {
		t.Fatalf("SendPush() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if !resp.Accepted {
		t.Fatal("Accepted = false, want true")
	}

	if gotBody.Token != "device-token-1" {
		t.Fatalf("request.token = %q, want device-token-1", gotBody.Token)
	}
	if gotBody.NotificationID != "notif-1" {
		t.Fatalf("request.notificationId = %q, want notif-1", gotBody.NotificationID)
	}
	if gotBody.JobID != "job-1" {
		t.Fatalf("request.jobId = %q, want job-1", gotBody.JobID)
	}
}

func TestHTTPPushProviderStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			p, err := NewHTTPPushProvider(server.URL)
			if err != nil {
				t.Fatalf("NewHTTPPushProvider() error = %v", err)
			}

			_, err = p.SendPush(context.Background(), "device-token-1", PushPayload{
				NotificationID: "notif-1",
				Body:           "hello",
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPPushProviderRequiresDeviceToken(t *testing.T) {
	t.Parallel()

	p, err := NewHTTPPushProvider("http://localhost:1")
	if err != nil {
		t.Fatalf("NewHTTPPushProvider() error = %v", err)
	}

	_, err = p.SendPush(context.Background(), "  ", PushPayload{NotificationID: "notif-1"})
	if err == nil {
		t.Fatal("expected error for blank device token")
	}
	if IsTransient(err) {
		t.Fatal("a missing device token is not a transient failure")
	}
}

func TestNewHTTPPushProviderValidatesEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPPushProvider(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPPushProvider("not a url"); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
}

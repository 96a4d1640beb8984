package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDeliveryStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from DeliveryStatus
		to   DeliveryStatus
		want bool
	}{
		{"pending to push sent", StatusPending, StatusPushSent, true},
		{"pending to portal created", StatusPending, StatusPortalCreated, true},
		{"pending to sms fallback", StatusPending, StatusSmsFallbackScheduled, true},
		{"push sent to push delivered", StatusPushSent, StatusPushDelivered, true},
		{"push sent to push failed", StatusPushSent, StatusPushFailed, true},
		{"push sent to sms fallback", StatusPushSent, StatusSmsFallbackScheduled, true},
		{"push failed to sms fallback", StatusPushFailed, StatusSmsFallbackScheduled, true},
		{"push failed to failed", StatusPushFailed, StatusFailed, true},
		{"sms fallback to sms sent", StatusSmsFallbackScheduled, StatusSmsSent, true},
		{"sms fallback to failed", StatusSmsFallbackScheduled, StatusFailed, true},
		{"sms sent to sms delivered", StatusSmsSent, StatusSmsDelivered, true},
		{"sms sent to sms failed", StatusSmsSent, StatusSmsFailed, true},
		{"push delivered is terminal", StatusPushDelivered, StatusSmsFallbackScheduled, false},
		{"sms delivered is terminal", StatusSmsDelivered, StatusSmsFailed, false},
		{"portal created is terminal", StatusPortalCreated, StatusFailed, false},
		{"failed is terminal", StatusFailed, StatusPending, false},
		{"no skip from pending to sms sent", StatusPending, StatusSmsSent, false},
		{"no reversal to pending", StatusPushSent, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestDeliveryStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []DeliveryStatus{
		StatusPushDelivered, StatusSmsDelivered, StatusSmsFailed,
		StatusPortalCreated, StatusFailed,
	}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Errorf("%s should be terminal", status)
		}
		for _, next := range []DeliveryStatus{
			StatusPending, StatusPushSent, StatusPushDelivered, StatusPushFailed,
			StatusSmsFallbackScheduled, StatusSmsSent, StatusSmsDelivered,
			StatusSmsFailed, StatusPortalCreated, StatusFailed,
		} {
			if status.CanTransitionTo(next) {
				t.Errorf("terminal %s should not transition to %s", status, next)
			}
		}
	}

	for _, status := range []DeliveryStatus{StatusPending, StatusPushSent, StatusPushFailed, StatusSmsFallbackScheduled, StatusSmsSent} {
		if status.IsTerminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestDeliveryStatusSuccess(t *testing.T) {
	t.Parallel()

	for _, status := range []DeliveryStatus{StatusPushDelivered, StatusSmsDelivered, StatusPortalCreated} {
		if !status.IsSuccess() {
			t.Errorf("%s should be a success state", status)
		}
	}
	for _, status := range []DeliveryStatus{StatusSmsFailed, StatusFailed, StatusPushSent} {
		if status.IsSuccess() {
			t.Errorf("%s should not be a success state", status)
		}
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	channel, err := ParseChannelFromString(" push ")
	if err != nil {
		t.Fatalf("ParseChannelFromString() error = %v", err)
	}
	if channel != ChannelPush {
		t.Fatalf("channel = %s, want PUSH", channel)
	}

	if _, err := ParseChannelFromString("fax"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDeliveryValidate(t *testing.T) {
	t.Parallel()

	valid := Delivery{
		ID:             "d1",
		CampaignID:     "c1",
		ContactID:      "ct1",
		JobID:          "j1",
		OrganizationID: "o1",
		Channel:        ChannelPush,
		Status:         StatusPending,
		DeviceToken:    "token-1",
		Title:          "Night shift",
		Body:           "Can you cover tonight?",
		Priority:       60,
		BatchID:        "b1",
		BatchPosition:  1,
		CreatedAt:      time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(d *Delivery)
	}{
		{"missing contact", func(d *Delivery) { d.ContactID = "" }},
		{"missing job", func(d *Delivery) { d.JobID = "" }},
		{"missing organization", func(d *Delivery) { d.OrganizationID = "" }},
		{"invalid channel", func(d *Delivery) { d.Channel = "FAX" }},
		{"invalid status", func(d *Delivery) { d.Status = "SOMEDAY" }},
		{"priority too low", func(d *Delivery) { d.Priority = 0 }},
		{"priority too high", func(d *Delivery) { d.Priority = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := valid
			tt.mutate(&d)
			if err := d.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestFailureReasonDisplayMessage(t *testing.T) {
	t.Parallel()

	if got := ReasonInsufficientCredits.DisplayMessage(); got != "insufficient SMS credits" {
		t.Fatalf("DisplayMessage() = %q", got)
	}
	if got := FailureReason("mystery").DisplayMessage(); got != "delivery failed" {
		t.Fatalf("unknown reason DisplayMessage() = %q", got)
	}
}

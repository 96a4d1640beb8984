package domain

import (
	"errors"
	"testing"
)

func TestCandidatePreferredChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate Candidate
		want      Channel
		wantErr   error
	}{
		{
			name:      "device token wins",
			candidate: Candidate{ContactID: "c1", DeviceToken: "tok", PhoneNumber: "+15550001111", PortalEnabled: true},
			want:      ChannelPush,
		},
		{
			name:      "phone only goes direct sms",
			candidate: Candidate{ContactID: "c2", PhoneNumber: "+15550001111", PortalEnabled: true},
			want:      ChannelSMS,
		},
		{
			name:      "portal when nothing else",
			candidate: Candidate{ContactID: "c3", PortalEnabled: true},
			want:      ChannelPortal,
		},
		{
			name:      "unreachable",
			candidate: Candidate{ContactID: "c4"},
			wantErr:   ErrNoContactableChannel,
		},
		{
			name:      "whitespace token is no token",
			candidate: Candidate{ContactID: "c5", DeviceToken: "   ", PhoneNumber: "+15550001111"},
			want:      ChannelSMS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.candidate.PreferredChannel()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PreferredChannel() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("channel = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCandidateCanFallbackToSMS(t *testing.T) {
	t.Parallel()

	with := Candidate{ContactID: "c1", PhoneNumber: "+15550001111"}
	without := Candidate{ContactID: "c2"}

	if !with.CanFallbackToSMS() {
		t.Fatal("candidate with phone should allow SMS fallback")
	}
	if without.CanFallbackToSMS() {
		t.Fatal("candidate without phone should not allow SMS fallback")
	}
}

func TestCandidateValidate(t *testing.T) {
	t.Parallel()

	valid := Candidate{ContactID: "c1", WorkStatus: WorkStatusFree, AvailabilityStatus: AvailabilityUnknown}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	missing := Candidate{WorkStatus: WorkStatusFree, AvailabilityStatus: AvailabilityUnknown}
	if err := missing.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing contact id error = %v, want ErrValidation", err)
	}

	badStatus := Candidate{ContactID: "c1", WorkStatus: "NAPPING", AvailabilityStatus: AvailabilityUnknown}
	if err := badStatus.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad work status error = %v, want ErrValidation", err)
	}
}

func TestParseWorkStatusFromString(t *testing.T) {
	t.Parallel()

	status, err := ParseWorkStatusFromString(" on_job ")
	if err != nil {
		t.Fatalf("ParseWorkStatusFromString() error = %v", err)
	}
	if status != WorkStatusOnJob {
		t.Fatalf("status = %s, want ON_JOB", status)
	}

	if _, err := ParseWorkStatusFromString("retired"); !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

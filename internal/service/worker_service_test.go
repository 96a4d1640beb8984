package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/provider"
	"github.com/kursadbilgin/invite-engine/internal/queue"
	"github.com/kursadbilgin/invite-engine/internal/repository"
	"go.uber.org/zap"
)

var workerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pushDeliveryFixture() *domain.Delivery {
	return &domain.Delivery{
		ID:             "d-1",
		CampaignID:     "camp-1",
		ContactID:      "c-1",
		JobID:          "job-1",
		OrganizationID: "org-1",
		Channel:        domain.ChannelPush,
		Status:         domain.StatusPending,
		DeviceToken:    "tok-1",
		PhoneNumber:    "+15550001111",
		Title:          "Night shift",
		Body:           "Can you cover tonight?",
		Priority:       60,
	}
}

func smsFallbackDeliveryFixture() *domain.Delivery {
	d := pushDeliveryFixture()
	d.Channel = domain.ChannelSMS
	d.Status = domain.StatusSmsFallbackScheduled
	d.DeliveryAttempt = 2
	return d
}

func newTestWorker(
	t *testing.T,
	deliveries *fakeDeliveryRepo,
	credits repository.CreditRepository,
	events *fakeEventRepo,
	push *fakePushProvider,
	sms *fakeSMSProvider,
	portal *fakePortalProvider,
	escalator *fakeEscalator,
) *WorkerService {
	t.Helper()

	ledger, err := NewLedgerService(credits, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}

	worker, err := NewWorkerService(
		deliveries,
		ledger,
		events,
		&fakeConsumer{},
		push,
		sms,
		portal,
		escalator,
		&fakeRateLimiter{},
		WorkerConfig{
			Concurrency:           1,
			FallbackWindowSeconds: 30,
			MaxDeliveryAttempts:   2,
		},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = func() time.Time { return workerNow }
	worker.newID = func() string { return "generated-id" }
	return worker
}

func TestWorkerProcessPushSuccess(t *testing.T) {
	t.Parallel()

	var appendedTypes []domain.EventType
	var sentNotificationID string
	var fallbackDueAt time.Time

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return pushDeliveryFixture(), nil
		},
		markPushSentFn: func(ctx context.Context, id, notificationID string, sentAt, dueAt time.Time, event domain.MessageLogEvent) error {
			sentNotificationID = notificationID
			fallbackDueAt = dueAt
			appendedTypes = append(appendedTypes, event.EventType)
			return nil
		},
	}
	events := &fakeEventRepo{
		appendFn: func(ctx context.Context, event *domain.MessageLogEvent) error {
			appendedTypes = append(appendedTypes, event.EventType)
			return nil
		},
	}
	push := &fakePushProvider{
		sendFn: func(ctx context.Context, deviceToken string, payload provider.PushPayload) (*provider.PushResponse, error) {
			if deviceToken != "tok-1" {
				t.Fatalf("device token = %q, want tok-1", deviceToken)
			}
			if payload.NotificationID != "msg-1" {
				t.Fatalf("notification id = %q, want msg-1", payload.NotificationID)
			}
			return &provider.PushResponse{StatusCode: 202, Accepted: true}, nil
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, events, push, &fakeSMSProvider{}, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelPush,
		MessageID:  "msg-1",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if sentNotificationID != "msg-1" {
		t.Fatalf("stored notification id = %q, want msg-1", sentNotificationID)
	}
	if want := workerNow.Add(30 * time.Second); !fallbackDueAt.Equal(want) {
		t.Fatalf("fallback due at = %v, want %v", fallbackDueAt, want)
	}
	if len(appendedTypes) != 2 || appendedTypes[0] != domain.EventPushAttempted || appendedTypes[1] != domain.EventPushSent {
		t.Fatalf("event types = %v, want [push_attempted push_sent]", appendedTypes)
	}
}

func TestWorkerProcessPushRejectedEscalatesImmediately(t *testing.T) {
	t.Parallel()

	var markedFailed bool
	var escalated *domain.Delivery

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return pushDeliveryFixture(), nil
		},
		markPushFailedFn: func(ctx context.Context, id string, failedAt time.Time, event domain.MessageLogEvent) error {
			markedFailed = true
			return nil
		},
	}
	push := &fakePushProvider{
		sendFn: func(ctx context.Context, deviceToken string, payload provider.PushPayload) (*provider.PushResponse, error) {
			return nil, &provider.ProviderError{StatusCode: 400, Message: "bad token"}
		},
	}
	escalator := &fakeEscalator{
		escalateFn: func(ctx context.Context, delivery *domain.Delivery) error {
			escalated = delivery
			return nil
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, &fakeEventRepo{}, push, &fakeSMSProvider{}, &fakePortalProvider{}, escalator)

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelPush,
		MessageID:  "msg-1",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if !markedFailed {
		t.Fatal("delivery should be marked push failed")
	}
	if escalated == nil {
		t.Fatal("rejected push should escalate without waiting for the sweep")
	}
	if escalated.Status != domain.StatusPushFailed {
		t.Fatalf("escalated status = %s, want PUSH_FAILED", escalated.Status)
	}
}

func TestWorkerProcessSmsFallbackSuccess(t *testing.T) {
	t.Parallel()

	var consumedMessageID, consumedReason string
	var storedSID, storedMessageID string
	var costCredits int

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return smsFallbackDeliveryFixture(), nil
		},
		markSmsSentFn: func(ctx context.Context, id, twilioSID, messageID string, sentAt time.Time, cost int, event domain.MessageLogEvent) error {
			storedSID = twilioSID
			storedMessageID = messageID
			costCredits = cost
			return nil
		},
	}
	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			consumedMessageID = messageID
			consumedReason = reason
			return []domain.CreditTransaction{{ID: "tx-1", Delta: -amount}}, nil
		},
	}
	sms := &fakeSMSProvider{
		sendFn: func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error) {
			if phoneNumber != "+15550001111" {
				t.Fatalf("phone = %q, want +15550001111", phoneNumber)
			}
			return &provider.SMSResponse{StatusCode: 201, TwilioSID: "SM123"}, nil
		},
	}

	worker := newTestWorker(t, deliveries, credits, &fakeEventRepo{}, &fakePushProvider{}, sms, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindSmsFallback,
		DeliveryID: "d-1",
		Channel:    domain.ChannelSMS,
		MessageID:  "msg-2",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if consumedMessageID != "msg-2" {
		t.Fatalf("credit message id = %q, want msg-2", consumedMessageID)
	}
	if consumedReason != domain.CreditReasonSmsFallback {
		t.Fatalf("credit reason = %q, want sms_fallback", consumedReason)
	}
	if storedSID != "SM123" || storedMessageID != "msg-2" {
		t.Fatalf("stored sid/message = %q/%q, want SM123/msg-2", storedSID, storedMessageID)
	}
	if costCredits != 1 {
		t.Fatalf("cost credits = %d, want 1", costCredits)
	}
}

func TestWorkerProcessSmsInsufficientCredits(t *testing.T) {
	t.Parallel()

	var failedReason domain.FailureReason
	smsCalled := false

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return smsFallbackDeliveryFixture(), nil
		},
		markFailedFn: func(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error {
			failedReason = reason
			if event.EventType != domain.EventSmsFailed {
				t.Fatalf("event type = %s, want sms_failed", event.EventType)
			}
			return nil
		},
	}
	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			return nil, domain.ErrInsufficientCredits
		},
	}
	sms := &fakeSMSProvider{
		sendFn: func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error) {
			smsCalled = true
			return &provider.SMSResponse{TwilioSID: "SM-never"}, nil
		},
	}

	worker := newTestWorker(t, deliveries, credits, &fakeEventRepo{}, &fakePushProvider{}, sms, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindSmsFallback,
		DeliveryID: "d-1",
		Channel:    domain.ChannelSMS,
		MessageID:  "msg-2",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if smsCalled {
		t.Fatal("carrier must not be called without credits")
	}
	if failedReason != domain.ReasonInsufficientCredits {
		t.Fatalf("failure reason = %s, want insufficient_credits", failedReason)
	}
}

func TestWorkerProcessSmsCarrierRejectedRefunds(t *testing.T) {
	t.Parallel()

	var refundedMessageID string
	var failedReason domain.FailureReason

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return smsFallbackDeliveryFixture(), nil
		},
		markSmsFailedFn: func(ctx context.Context, id string, reason domain.FailureReason, failedAt time.Time, event domain.MessageLogEvent) error {
			failedReason = reason
			return nil
		},
	}
	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			return []domain.CreditTransaction{{ID: "tx-1", Delta: -amount}}, nil
		},
		refundFn: func(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
			refundedMessageID = messageID
			return []domain.CreditTransaction{{ID: "tx-2", Delta: 1}}, nil
		},
	}
	sms := &fakeSMSProvider{
		sendFn: func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error) {
			return nil, &provider.ProviderError{StatusCode: 400, Message: "invalid number"}
		},
	}

	worker := newTestWorker(t, deliveries, credits, &fakeEventRepo{}, &fakePushProvider{}, sms, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindSmsFallback,
		DeliveryID: "d-1",
		Channel:    domain.ChannelSMS,
		MessageID:  "msg-2",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if refundedMessageID != "msg-2" {
		t.Fatalf("refunded message id = %q, want msg-2", refundedMessageID)
	}
	if failedReason != domain.ReasonCarrierRejected {
		t.Fatalf("failure reason = %s, want carrier_rejected", failedReason)
	}
}

func TestWorkerProcessDirectSmsUsesDirectReason(t *testing.T) {
	t.Parallel()

	var consumedReason string
	smsCalled := false

	delivery := smsFallbackDeliveryFixture()
	delivery.DeliveryAttempt = 1

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return delivery, nil
		},
	}
	credits := &fakeCreditRepo{
		consumeFn: func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
			consumedReason = reason
			return []domain.CreditTransaction{{ID: "tx-1", Delta: -amount}}, nil
		},
	}
	sms := &fakeSMSProvider{
		sendFn: func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error) {
			smsCalled = true
			return &provider.SMSResponse{TwilioSID: "SM123"}, nil
		},
	}

	worker := newTestWorker(t, deliveries, credits, &fakeEventRepo{}, &fakePushProvider{}, sms, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelSMS,
		MessageID:  "msg-3",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if !smsCalled {
		t.Fatal("direct sms admission must reach the carrier")
	}
	if consumedReason != domain.CreditReasonSmsDirect {
		t.Fatalf("credit reason = %q, want sms_direct", consumedReason)
	}
}

func TestWorkerProcessPortalSuccess(t *testing.T) {
	t.Parallel()

	var portalMessageID string

	delivery := pushDeliveryFixture()
	delivery.Channel = domain.ChannelPortal
	delivery.DeviceToken = ""
	delivery.PhoneNumber = ""

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return delivery, nil
		},
		markPortalCreatedFn: func(ctx context.Context, id, messageID string, createdAt time.Time, event domain.MessageLogEvent) error {
			portalMessageID = messageID
			return nil
		},
	}
	portal := &fakePortalProvider{
		createFn: func(ctx context.Context, contactID, body string) (*provider.PortalResponse, error) {
			if contactID != "c-1" {
				t.Fatalf("contact = %q, want c-1", contactID)
			}
			return &provider.PortalResponse{MessageID: "portal-9"}, nil
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, &fakeEventRepo{}, &fakePushProvider{}, &fakeSMSProvider{}, portal, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelPortal,
		MessageID:  "msg-4",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if portalMessageID != "portal-9" {
		t.Fatalf("portal message id = %q, want portal-9", portalMessageID)
	}
}

func TestWorkerSkipsResolvedDelivery(t *testing.T) {
	t.Parallel()

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return nil, nil
		},
	}
	push := &fakePushProvider{
		sendFn: func(ctx context.Context, deviceToken string, payload provider.PushPayload) (*provider.PushResponse, error) {
			t.Fatal("gateway must not be called for a resolved delivery")
			return nil, nil
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, &fakeEventRepo{}, push, &fakeSMSProvider{}, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelPush,
		MessageID:  "msg-1",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestWorkerSkipsStaleFallbackMessage(t *testing.T) {
	t.Parallel()

	delivery := pushDeliveryFixture()
	delivery.Status = domain.StatusPushDelivered

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return delivery, nil
		},
	}
	sms := &fakeSMSProvider{
		sendFn: func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error) {
			t.Fatal("carrier must not be called for a delivered notification")
			return nil, nil
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, &fakeEventRepo{}, &fakePushProvider{}, sms, &fakePortalProvider{}, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindSmsFallback,
		DeliveryID: "d-1",
		Channel:    domain.ChannelSMS,
		MessageID:  "msg-5",
	})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
}

func TestWorkerRequeuesOnPortalError(t *testing.T) {
	t.Parallel()

	delivery := pushDeliveryFixture()
	delivery.Channel = domain.ChannelPortal

	deliveries := &fakeDeliveryRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Delivery, error) {
			return delivery, nil
		},
	}
	portal := &fakePortalProvider{
		createFn: func(ctx context.Context, contactID, body string) (*provider.PortalResponse, error) {
			return nil, errors.New("portal unavailable")
		},
	}

	worker := newTestWorker(t, deliveries, &fakeCreditRepo{}, &fakeEventRepo{}, &fakePushProvider{}, &fakeSMSProvider{}, portal, &fakeEscalator{})

	err := worker.processMessage(context.Background(), queue.DeliveryMessage{
		Kind:       queue.KindInvite,
		DeliveryID: "d-1",
		Channel:    domain.ChannelPortal,
		MessageID:  "msg-6",
	})
	if err == nil {
		t.Fatal("portal errors should be returned so the queue redelivers")
	}
}

type fakePushProvider struct {
	sendFn func(ctx context.Context, deviceToken string, payload provider.PushPayload) (*provider.PushResponse, error)
}

func (f *fakePushProvider) SendPush(ctx context.Context, deviceToken string, payload provider.PushPayload) (*provider.PushResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, deviceToken, payload)
	}
	return &provider.PushResponse{StatusCode: 202, Accepted: true}, nil
}

type fakeSMSProvider struct {
	sendFn func(ctx context.Context, phoneNumber, body string) (*provider.SMSResponse, error)
}

func (f *fakeSMSProvider) SendSMS(ctx context.Context, phoneNumber string, body string) (*provider.SMSResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, phoneNumber, body)
	}
	return &provider.SMSResponse{StatusCode: 201, TwilioSID: "SM-fake"}, nil
}

type fakePortalProvider struct {
	createFn func(ctx context.Context, contactID, body string) (*provider.PortalResponse, error)
}

func (f *fakePortalProvider) CreatePortalMessage(ctx context.Context, contactID string, body string) (*provider.PortalResponse, error) {
	if f.createFn != nil {
		return f.createFn(ctx, contactID, body)
	}
	return &provider.PortalResponse{MessageID: "portal-fake"}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel string) (bool, error)
	waitFn  func(ctx context.Context, channel string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeConsumer) Close() error { return nil }

type fakeEscalator struct {
	escalateFn func(ctx context.Context, delivery *domain.Delivery) error
}

func (f *fakeEscalator) EscalateNow(ctx context.Context, delivery *domain.Delivery) error {
	if f.escalateFn != nil {
		return f.escalateFn(ctx, delivery)
	}
	return nil
}

type fakeCreditRepo struct {
	createGrantFn func(ctx context.Context, grant *domain.CreditGrant) error
	consumeFn     func(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error)
	refundFn      func(ctx context.Context, messageID string) ([]domain.CreditTransaction, error)
	balanceFn     func(ctx context.Context, organizationID string, now time.Time) (int, []domain.CreditGrant, error)
	byMessageFn   func(ctx context.Context, messageID string) ([]domain.CreditTransaction, error)
}

func (f *fakeCreditRepo) CreateGrant(ctx context.Context, grant *domain.CreditGrant) error {
	if f.createGrantFn != nil {
		return f.createGrantFn(ctx, grant)
	}
	return nil
}

func (f *fakeCreditRepo) Consume(ctx context.Context, organizationID, messageID string, amount int, reason string) ([]domain.CreditTransaction, error) {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, organizationID, messageID, amount, reason)
	}
	return []domain.CreditTransaction{{ID: "tx-fake", Delta: -amount}}, nil
}

func (f *fakeCreditRepo) Refund(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	if f.refundFn != nil {
		return f.refundFn(ctx, messageID)
	}
	return []domain.CreditTransaction{{ID: "tx-refund", Delta: 1}}, nil
}

func (f *fakeCreditRepo) Balance(ctx context.Context, organizationID string, now time.Time) (int, []domain.CreditGrant, error) {
	if f.balanceFn != nil {
		return f.balanceFn(ctx, organizationID, now)
	}
	return 0, nil, nil
}

func (f *fakeCreditRepo) GetTransactionsByMessageID(ctx context.Context, messageID string) ([]domain.CreditTransaction, error) {
	if f.byMessageFn != nil {
		return f.byMessageFn(ctx, messageID)
	}
	return nil, nil
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/invite-engine/internal/domain"
	"github.com/kursadbilgin/invite-engine/internal/service"
)

type InvitationService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	Cancel(ctx context.Context, campaignID string, abortUndelivered bool) error
	GetDelivery(ctx context.Context, campaignID, contactID string) (*domain.Delivery, error)
	ListDeliveries(ctx context.Context, campaignID string) ([]domain.Delivery, error)
	ListEvents(ctx context.Context, contactID, jobID string) ([]domain.MessageLogEvent, error)
}

type ReceiptService interface {
	ConfirmPushReceipt(ctx context.Context, notificationID string, delivered bool) error
	ConfirmSmsReceipt(ctx context.Context, twilioSID string, delivered bool) error
	RecordResponse(ctx context.Context, contactID, jobID string, availability domain.AvailabilityStatus) error
}

type LedgerService interface {
	AddGrant(ctx context.Context, grant *domain.CreditGrant) error
	Balance(ctx context.Context, organizationID string) (int, []domain.CreditGrant, error)
}

type InvitationHandler struct {
	invitations InvitationService
	receipts    ReceiptService
	ledger      LedgerService
}

func NewInvitationHandler(invitations InvitationService, receipts ReceiptService, ledger LedgerService) (*InvitationHandler, error) {
	if invitations == nil {
		return nil, fmt.Errorf("invitation service is required")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt service is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	return &InvitationHandler{
		invitations: invitations,
		receipts:    receipts,
		ledger:      ledger,
	}, nil
}

func RegisterInvitationRoutes(router fiber.Router, invitations InvitationService, receipts ReceiptService, ledger LedgerService) error {
	h, err := NewInvitationHandler(invitations, receipts, ledger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/campaigns/:campaignId/invitations", h.SubmitInvitations)
	v1.Post("/campaigns/:campaignId/cancel", h.CancelCampaign)
	v1.Get("/campaigns/:campaignId/deliveries", h.ListDeliveries)
	v1.Get("/campaigns/:campaignId/deliveries/:contactId", h.GetDelivery)
	v1.Get("/events", h.ListEvents)
	v1.Post("/receipts/push", h.PushReceipt)
	v1.Post("/receipts/sms", h.SmsReceipt)
	v1.Post("/responses", h.RecordResponse)
	v1.Post("/credits/grants", h.CreateGrant)
	v1.Get("/credits/:organizationId", h.GetBalance)

	return nil
}

type candidateRequest struct {
	ContactID          string     `json:"contactId"`
	DeviceToken        string     `json:"deviceToken,omitempty"`
	PhoneNumber        string     `json:"phoneNumber,omitempty"`
	PortalEnabled      bool       `json:"portalEnabled,omitempty"`
	OptedOut           bool       `json:"optedOut,omitempty"`
	WorkStatus         string     `json:"workStatus"`
	AvailabilityStatus string     `json:"availabilityStatus"`
	Skills             []string   `json:"skills,omitempty"`
	LastResponseAt     *time.Time `json:"lastResponseAt,omitempty"`
}

type submitInvitationsRequest struct {
	JobID          string             `json:"jobId"`
	OrganizationID string             `json:"organizationId"`
	Title          string             `json:"title"`
	Body           string             `json:"body"`
	RequiredSkills []string           `json:"requiredSkills,omitempty"`
	Candidates     []candidateRequest `json:"candidates"`
}

type admittedContactResponse struct {
	ContactID     string `json:"contactId"`
	DeliveryID    string `json:"deliveryId"`
	Channel       string `json:"channel"`
	Priority      int    `json:"priority"`
	Reason        string `json:"reason"`
	BatchID       string `json:"batchId"`
	BatchPosition int    `json:"batchPosition"`
}

type rejectedContactResponse struct {
	ContactID string `json:"contactId"`
	Reason    string `json:"reason"`
}

type submitInvitationsResponse struct {
	CampaignID string                    `json:"campaignId"`
	BatchIDs   []string                  `json:"batchIds"`
	Admitted   []admittedContactResponse `json:"admitted"`
	Rejected   []rejectedContactResponse `json:"rejected"`
}

type deliveryResponse struct {
	ID             string     `json:"id"`
	CampaignID     string     `json:"campaignId"`
	ContactID      string     `json:"contactId"`
	JobID          string     `json:"jobId"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	Priority       int        `json:"priority"`
	PriorityReason string     `json:"priorityReason,omitempty"`
	BatchID        string     `json:"batchId"`
	BatchPosition  int        `json:"batchPosition"`
	NotificationID *string    `json:"notificationId,omitempty"`
	TwilioSID      *string    `json:"twilioSid,omitempty"`
	FailureReason  *string    `json:"failureReason,omitempty"`
	FailureMessage string     `json:"failureMessage,omitempty"`
	CostCredits    int        `json:"costCredits"`
	CreatedAt      time.Time  `json:"createdAt"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
}

type eventResponse struct {
	ID             string    `json:"id"`
	ContactID      string    `json:"contactId"`
	JobID          string    `json:"jobId"`
	CampaignID     *string   `json:"campaignId,omitempty"`
	EventType      string    `json:"eventType"`
	Channel        string    `json:"channel,omitempty"`
	Status         string    `json:"status,omitempty"`
	Priority       *int      `json:"priority,omitempty"`
	PriorityReason *string   `json:"priorityReason,omitempty"`
	BatchID        *string   `json:"batchId,omitempty"`
	BatchPosition  *int      `json:"batchPosition,omitempty"`
	NotificationID *string   `json:"notificationId,omitempty"`
	TwilioSID      *string   `json:"twilioSid,omitempty"`
	Reason         *string   `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type receiptRequest struct {
	NotificationID string `json:"notificationId,omitempty"`
	TwilioSID      string `json:"twilioSid,omitempty"`
	Delivered      *bool  `json:"delivered"`
}

type responseRequest struct {
	ContactID    string `json:"contactId"`
	JobID        string `json:"jobId"`
	Availability string `json:"availability"`
}

type createGrantRequest struct {
	OrganizationID string     `json:"organizationId"`
	Credits        int        `json:"credits"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

type balanceResponse struct {
	OrganizationID string          `json:"organizationId"`
	Balance        int             `json:"balance"`
	Grants         []grantResponse `json:"grants"`
}

type grantResponse struct {
	ID              string     `json:"id"`
	CreditsGranted  int        `json:"creditsGranted"`
	CreditsConsumed int        `json:"creditsConsumed"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

func (h *InvitationHandler) SubmitInvitations(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("campaignId"))

	var req submitInvitationsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	candidates := make([]domain.Candidate, 0, len(req.Candidates))
	for _, item := range req.Candidates {
		candidate, err := requestToCandidate(item)
		if err != nil {
			return toHTTPError(err)
		}
		candidates = append(candidates, candidate)
	}

	result, err := h.invitations.Submit(c.Context(), service.SubmitRequest{
		CampaignID:     campaignID,
		JobID:          strings.TrimSpace(req.JobID),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		Title:          strings.TrimSpace(req.Title),
		Body:           strings.TrimSpace(req.Body),
		Requirements:   service.JobRequirements{Skills: req.RequiredSkills},
		Candidates:     candidates,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toSubmitResponse(result))
}

func (h *InvitationHandler) CancelCampaign(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("campaignId"))

	var req struct {
		AbortUndelivered bool `json:"abortUndelivered"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := h.invitations.Cancel(c.Context(), campaignID, req.AbortUndelivered); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId":       campaignID,
		"status":           domain.CampaignStatusCancelled.String(),
		"abortUndelivered": req.AbortUndelivered,
	})
}

func (h *InvitationHandler) GetDelivery(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("campaignId"))
	contactID := strings.TrimSpace(c.Params("contactId"))

	delivery, err := h.invitations.GetDelivery(c.Context(), campaignID, contactID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func (h *InvitationHandler) ListDeliveries(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("campaignId"))

	deliveries, err := h.invitations.ListDeliveries(c.Context(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]deliveryResponse, 0, len(deliveries))
	for i := range deliveries {
		responses = append(responses, toDeliveryResponse(&deliveries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"campaignId": campaignID,
		"data":       responses,
	})
}

func (h *InvitationHandler) ListEvents(c *fiber.Ctx) error {
	contactID := strings.TrimSpace(c.Query("contactId"))
	jobID := strings.TrimSpace(c.Query("jobId"))
	if contactID == "" || jobID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "contactId and jobId query parameters are required")
	}

	events, err := h.invitations.ListEvents(c.Context(), contactID, jobID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]eventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, toEventResponse(&events[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"contactId": contactID,
		"jobId":     jobID,
		"data":      responses,
	})
}

func (h *InvitationHandler) PushReceipt(c *fiber.Ctx) error {
	var req receiptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Delivered == nil {
		return fiber.NewError(fiber.StatusBadRequest, "delivered is required")
	}

	if err := h.receipts.ConfirmPushReceipt(c.Context(), strings.TrimSpace(req.NotificationID), *req.Delivered); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *InvitationHandler) SmsReceipt(c *fiber.Ctx) error {
	var req receiptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Delivered == nil {
		return fiber.NewError(fiber.StatusBadRequest, "delivered is required")
	}

	if err := h.receipts.ConfirmSmsReceipt(c.Context(), strings.TrimSpace(req.TwilioSID), *req.Delivered); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *InvitationHandler) RecordResponse(c *fiber.Ctx) error {
	var req responseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	availability, err := domain.ParseAvailabilityStatusFromString(req.Availability)
	if err != nil {
		return toHTTPError(err)
	}

	if err := h.receipts.RecordResponse(c.Context(), strings.TrimSpace(req.ContactID), strings.TrimSpace(req.JobID), availability); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *InvitationHandler) CreateGrant(c *fiber.Ctx) error {
	var req createGrantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	grant := domain.CreditGrant{
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		CreditsGranted: req.Credits,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := h.ledger.AddGrant(c.Context(), &grant); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(grantResponse{
		ID:              grant.ID,
		CreditsGranted:  grant.CreditsGranted,
		CreditsConsumed: grant.CreditsConsumed,
		ExpiresAt:       grant.ExpiresAt,
	})
}

func (h *InvitationHandler) GetBalance(c *fiber.Ctx) error {
	organizationID := strings.TrimSpace(c.Params("organizationId"))

	balance, grants, err := h.ledger.Balance(c.Context(), organizationID)
	if err != nil {
		return toHTTPError(err)
	}

	grantResponses := make([]grantResponse, 0, len(grants))
	for _, grant := range grants {
		grantResponses = append(grantResponses, grantResponse{
			ID:              grant.ID,
			CreditsGranted:  grant.CreditsGranted,
			CreditsConsumed: grant.CreditsConsumed,
			ExpiresAt:       grant.ExpiresAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(balanceResponse{
		OrganizationID: organizationID,
		Balance:        balance,
		Grants:         grantResponses,
	})
}

func requestToCandidate(req candidateRequest) (domain.Candidate, error) {
	workStatus, err := domain.ParseWorkStatusFromString(req.WorkStatus)
	if err != nil {
		return domain.Candidate{}, err
	}

	availability := domain.AvailabilityUnknown
	if strings.TrimSpace(req.AvailabilityStatus) != "" {
		availability, err = domain.ParseAvailabilityStatusFromString(req.AvailabilityStatus)
		if err != nil {
			return domain.Candidate{}, err
		}
	}

	return domain.Candidate{
		ContactID:          strings.TrimSpace(req.ContactID),
		DeviceToken:        strings.TrimSpace(req.DeviceToken),
		PhoneNumber:        strings.TrimSpace(req.PhoneNumber),
		PortalEnabled:      req.PortalEnabled,
		OptedOut:           req.OptedOut,
		WorkStatus:         workStatus,
		AvailabilityStatus: availability,
		Skills:             req.Skills,
		LastResponseAt:     req.LastResponseAt,
	}, nil
}

func toSubmitResponse(result *service.SubmitResult) submitInvitationsResponse {
	if result == nil {
		return submitInvitationsResponse{}
	}

	admitted := make([]admittedContactResponse, 0, len(result.Admitted))
	for _, item := range result.Admitted {
		admitted = append(admitted, admittedContactResponse{
			ContactID:     item.ContactID,
			DeliveryID:    item.DeliveryID,
			Channel:       item.Channel.String(),
			Priority:      item.Priority,
			Reason:        item.Reason,
			BatchID:       item.BatchID,
			BatchPosition: item.BatchPosition,
		})
	}

	rejected := make([]rejectedContactResponse, 0, len(result.Rejected))
	for _, item := range result.Rejected {
		rejected = append(rejected, rejectedContactResponse{
			ContactID: item.ContactID,
			Reason:    item.Reason,
		})
	}

	return submitInvitationsResponse{
		CampaignID: result.CampaignID,
		BatchIDs:   result.BatchIDs,
		Admitted:   admitted,
		Rejected:   rejected,
	}
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	if d == nil {
		return deliveryResponse{}
	}

	resp := deliveryResponse{
		ID:             d.ID,
		CampaignID:     d.CampaignID,
		ContactID:      d.ContactID,
		JobID:          d.JobID,
		Channel:        d.Channel.String(),
		Status:         d.Status.String(),
		Priority:       d.Priority,
		PriorityReason: d.PriorityReason,
		BatchID:        d.BatchID,
		BatchPosition:  d.BatchPosition,
		NotificationID: d.NotificationID,
		TwilioSID:      d.TwilioSID,
		CostCredits:    d.CostCredits,
		CreatedAt:      d.CreatedAt,
		SentAt:         d.SentAt,
		DeliveredAt:    d.DeliveredAt,
		FailedAt:       d.FailedAt,
	}
	if d.FailureReason != nil {
		reason := string(*d.FailureReason)
		resp.FailureReason = &reason
		resp.FailureMessage = d.FailureReason.DisplayMessage()
	}
	return resp
}

func toEventResponse(e *domain.MessageLogEvent) eventResponse {
	if e == nil {
		return eventResponse{}
	}

	return eventResponse{
		ID:             e.ID,
		ContactID:      e.ContactID,
		JobID:          e.JobID,
		CampaignID:     e.CampaignID,
		EventType:      e.EventType.String(),
		Channel:        e.Channel.String(),
		Status:         e.Status.String(),
		Priority:       e.Priority,
		PriorityReason: e.PriorityReason,
		BatchID:        e.BatchID,
		BatchPosition:  e.BatchPosition,
		NotificationID: e.NotificationID,
		TwilioSID:      e.TwilioSID,
		Reason:         e.Reason,
		CreatedAt:      e.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoContactableChannel):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyConfirmed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		return fiber.NewError(fiber.StatusPaymentRequired, err.Error())
	default:
		return err
	}
}

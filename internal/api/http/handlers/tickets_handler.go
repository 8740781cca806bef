package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-chat/internal/api/dto"
	"github.com/spec-kit/support-chat/internal/auth"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/service"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// TicketsHandler manages ticket and conversation endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.Context(), principal.Profile.ID, req.Category, req.Subject, req.Context)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// ListTickets GET /tickets. End-users see their own tickets; administrators
// see everything and may filter by creator.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	filter := parseTicketQuery(c)
	if !principal.IsAdmin() {
		owner := principal.Profile.ID
		filter.OwnerID = &owner
	}

	tickets, err := h.service.ListTickets(c.Context(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.TicketView(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}

	ticket, messages, attachments, err := h.service.GetTicketDetail(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireTicketAccess(principal, ticket); err != nil {
		return err
	}

	names, err := h.resolveNames(c, messages)
	if err != nil {
		return err
	}

	detail := dto.TicketDetailResponse{
		TicketSummary: dto.TicketView(ticket),
		Context:       ticket.Context,
		Messages:      make([]dto.MessageResponse, 0, len(messages)),
		Attachments:   make([]dto.AttachmentResponse, 0, len(attachments)),
	}
	for i := range messages {
		messages[i].AuthorName = names[messages[i].AuthorID]
		detail.Messages = append(detail.Messages, dto.MessageView(&messages[i]))
	}
	for i := range attachments {
		if url, err := h.service.SignedURL(attachments[i].StorageRef); err == nil {
			attachments[i].SignedURL = url
		}
		detail.Attachments = append(detail.Attachments, dto.AttachmentView(&attachments[i]))
	}
	return c.JSON(fiber.Map{"data": detail})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.SetStatus(c.Context(), principal.Profile, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketView(ticket)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.requireTicketAccessByID(c, principal); err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	kind := domain.AuthorKindUser
	if principal.IsAdmin() {
		kind = domain.AuthorKindAdmin
	}
	msg, err := h.service.InsertMessage(c.Context(), c.Params("id"), principal.Profile.ID, kind, req.Body, req.ReplyToID)
	if err != nil {
		return err
	}
	msg.AuthorName = principal.Profile.DisplayName
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageView(msg)})
}

// EditMessage PATCH /tickets/:id/messages/:messageID.
func (h *TicketsHandler) EditMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.service.UpdateMessageAs(c.Context(), principal.Profile, c.Params("messageID"), req.Body); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// DeleteMessage DELETE /tickets/:id/messages/:messageID.
func (h *TicketsHandler) DeleteMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteMessageAs(c.Context(), principal.Profile, c.Params("messageID")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// UploadAttachment POST /tickets/:id/attachments. Multipart form with a
// "file" part and an optional "message_id" field.
func (h *TicketsHandler) UploadAttachment(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.requireTicketAccessByID(c, principal); err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file part required", nil)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable file part", nil)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, domain.MaxAttachmentBytes+1))
	if err != nil {
		return apperrors.NewValidationError("unreadable file part", nil)
	}

	var messageID *string
	if raw := strings.TrimSpace(c.FormValue("message_id")); raw != "" {
		messageID = &raw
	}
	mimeType := fileHeader.Header.Get("Content-Type")

	attachment, err := h.service.InsertAttachment(c.Context(), c.Params("id"), messageID, principal.Profile.ID, data, fileHeader.Filename, mimeType)
	if err != nil {
		return err
	}
	if url, err := h.service.SignedURL(attachment.StorageRef); err == nil {
		attachment.SignedURL = url
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.AttachmentView(attachment)})
}

func (h *TicketsHandler) requireTicketAccessByID(c *fiber.Ctx, principal *auth.Principal) error {
	if principal.IsAdmin() {
		return nil
	}
	ticket, _, _, err := h.service.GetTicketDetail(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return requireTicketAccess(principal, ticket)
}

func (h *TicketsHandler) resolveNames(c *fiber.Ctx, messages []domain.Message) (map[string]string, error) {
	seen := make(map[string]struct{}, len(messages))
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if _, ok := seen[m.AuthorID]; ok {
			continue
		}
		seen[m.AuthorID] = struct{}{}
		ids = append(ids, m.AuthorID)
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	return h.service.ResolveDisplayNames(c.Context(), ids)
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Profile == nil {
		return nil, apperrors.NewAuthError("authenticated profile required")
	}
	return principal, nil
}

func requireTicketAccess(principal *auth.Principal, ticket *domain.Ticket) error {
	if principal.IsAdmin() || ticket.CreatorID == principal.Profile.ID {
		return nil
	}
	return apperrors.NewForbidden("not the ticket owner")
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if creator := c.Query("creator_id"); creator != "" {
		filter.OwnerID = &creator
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status := domain.TicketStatus(strings.TrimSpace(statusStr))
		filter.Status = &status
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		filter.SearchText = &q
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

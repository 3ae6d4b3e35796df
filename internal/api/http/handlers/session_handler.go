package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// SessionHandler manages analyst login and the gated logout contract.
type SessionHandler struct {
	sessions     *service.SessionService
	reassignment *service.ReassignmentService
}

// NewSessionHandler constructs handler.
func NewSessionHandler(sessions *service.SessionService, reassignment *service.ReassignmentService) *SessionHandler {
	return &SessionHandler{sessions: sessions, reassignment: reassignment}
}

// Login POST /auth/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	analyst, token, expiresAt, err := h.sessions.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AnalystID: analyst.ID,
	}})
}

// Logout POST /auth/logout. With open tickets and no decision the response
// reports pendingDecision and the session stays active; the client
// re-requests with {"decision": "solve"} or {"decision": "reassign"}.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	analyst, ok := auth.AnalystFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("analyst required")
	}
	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	result, err := h.reassignment.HandleLogout(c.Context(), analyst.ID, service.LogoutDecision(req.Decision))
	if err != nil {
		return err
	}
	if result.RequiresDecision {
		return c.JSON(dto.LogoutResponse{
			Success:         false,
			PendingDecision: true,
			TicketCount:     result.TicketCount,
		})
	}
	return c.JSON(dto.LogoutResponse{Success: true})
}

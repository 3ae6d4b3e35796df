package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

const analystKey = "auth_analyst"

// AuthMiddleware validates bearer tokens and loads the calling analyst.
type AuthMiddleware struct {
	tokens   *TokenManager
	analysts repository.AnalystRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, analysts repository.AnalystRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, analysts: analysts}
}

// Handle enforces authentication for protected routes and feeds the
// idle-timeout clock by touching the analyst's last-seen timestamp.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	analyst, err := m.analysts.GetByID(c.Context(), claims.AnalystID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("analyst not found")
		}
		return apperrors.MapError(err)
	}
	if analyst.SessionState != domain.SessionStateActive {
		return apperrors.NewUnauthorized("session is not active")
	}
	_ = m.analysts.TouchLastSeen(c.Context(), analyst.ID, time.Now())

	c.Locals(analystKey, analyst)
	return c.Next()
}

// AnalystFromContext retrieves the authenticated analyst.
func AnalystFromContext(c *fiber.Ctx) (*domain.Analyst, bool) {
	val := c.Locals(analystKey)
	if val == nil {
		return nil, false
	}
	analyst, ok := val.(*domain.Analyst)
	return analyst, ok
}

// RequireUploader gates bulk-upload routes on the capability flag.
func RequireUploader() fiber.Handler {
	return func(c *fiber.Ctx) error {
		analyst, ok := AnalystFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("analyst required")
		}
		if !analyst.CanUpload {
			return apperrors.NewForbidden("upload capability required")
		}
		return c.Next()
	}
}

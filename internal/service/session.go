package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// SessionService authenticates analysts and issues session tokens.
type SessionService struct {
	analysts repository.AnalystRepository
	tokenMgr *auth.TokenManager
	clock    func() time.Time
}

// NewSessionService builds the service.
func NewSessionService(cfg config.AuthConfig, analysts repository.AnalystRepository) *SessionService {
	return &SessionService{
		analysts: analysts,
		tokenMgr: auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		clock:    time.Now,
	}
}

// Login authenticates by email and password, activates the session and
// issues a token.
func (s *SessionService) Login(ctx context.Context, email, password string) (*domain.Analyst, string, time.Time, error) {
	analyst, err := s.analysts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(analyst.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}

	if err := s.analysts.SetSessionState(ctx, analyst.ID, domain.SessionStateActive); err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	if err := s.analysts.TouchLastSeen(ctx, analyst.ID, s.clock()); err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	analyst.SessionState = domain.SessionStateActive

	token, expiresAt, err := s.tokenMgr.GenerateToken(analyst.ID)
	if err != nil {
		return nil, "", time.Time{}, apperrors.MapError(err)
	}
	return analyst, token, expiresAt, nil
}

// TokenManager exposes the token manager for middleware wiring.
func (s *SessionService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

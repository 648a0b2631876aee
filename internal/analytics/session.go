package analytics

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/NikhilSetiya/statsbridge/internal/cache"
	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/logging"
	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
)

// SessionClaims are the JWT claims minted for a bridged session
type SessionClaims struct {
	SessionID string `json:"session_id"`
	Anonymous bool   `json:"anonymous,omitempty"`
	jwt.RegisteredClaims
}

// SessionToken pairs a locally minted JWT with its upstream session
type SessionToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Anonymous bool      `json:"anonymous"`
	Degraded  bool      `json:"degraded"`
}

// SessionServiceConfig holds session service configuration
type SessionServiceConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
}

// SessionService exposes the four upstream operations, each wrapped by the
// protection orchestrator. It mints local JWTs for bridged sessions and
// keeps the last good session material in the cache for fallback serving.
type SessionService struct {
	config       SessionServiceConfig
	client       *Client
	orchestrator *resilience.Orchestrator
	cache        *cache.Service
	fallbacks    *cache.FallbackStore
	logger       *logging.Logger
}

// NewSessionService creates a session service
func NewSessionService(config SessionServiceConfig, client *Client, orchestrator *resilience.Orchestrator, cacheService *cache.Service) (*SessionService, error) {
	if config.JWTSecret == "" {
		return nil, apperrors.NewValidationError("jwt secret is required")
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = time.Hour
	}

	svc := &SessionService{
		config:       config,
		client:       client,
		orchestrator: orchestrator,
		cache:        cacheService,
		logger:       logging.GetLogger(),
	}
	if cacheService != nil {
		svc.fallbacks = cache.NewFallbackStore(cacheService)
	}
	return svc, nil
}

// Authenticate establishes an upstream session and mints a local token
func (s *SessionService) Authenticate(ctx context.Context, creds Credentials) (*SessionToken, error) {
	run := s.orchestrator.Run(ctx, resilience.OpAuthenticate,
		func(ctx context.Context) (interface{}, error) {
			return s.client.Authenticate(ctx, creds)
		}, resilience.Options{Holder: creds.ClientID})

	s.logger.LogAuthEvent(ctx, "authenticate", creds.ClientID, run.Success, nil)
	return s.tokenFromRun(ctx, run)
}

// Refresh rotates the upstream session behind an existing local token
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*SessionToken, error) {
	run := s.orchestrator.Run(ctx, resilience.OpRefresh,
		func(ctx context.Context) (interface{}, error) {
			return s.client.Refresh(ctx, refreshToken)
		}, resilience.Options{Priority: resilience.PriorityHigh})

	return s.tokenFromRun(ctx, run)
}

// Logout invalidates the upstream session
func (s *SessionService) Logout(ctx context.Context, sessionID string) error {
	run := s.orchestrator.Run(ctx, resilience.OpLogout,
		func(ctx context.Context) (interface{}, error) {
			return nil, s.client.Logout(ctx, sessionID)
		}, resilience.Options{})

	if !run.Success {
		return run.Err
	}

	if s.cache != nil {
		key := cache.CacheKey{Prefix: cache.PrefixSession, ID: sessionID}
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("Failed to drop cached session",
				"session_id", sessionID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// Validate checks a local token's signature, then its upstream session
func (s *SessionService) Validate(ctx context.Context, token string) (bool, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return false, err
	}
	if claims.Anonymous {
		// Anonymous sessions exist only locally; there is nothing to ask
		// the upstream about.
		return true, nil
	}

	run := s.orchestrator.Run(ctx, resilience.OpValidate,
		func(ctx context.Context) (interface{}, error) {
			active, err := s.client.Validate(ctx, claims.SessionID)
			if err != nil {
				return nil, err
			}
			return active, nil
		}, resilience.Options{Priority: resilience.PriorityLow})

	if !run.Success {
		return false, run.Err
	}

	if active, ok := run.Result.(bool); ok {
		return active, nil
	}
	// A fallback result substitutes for upstream validation; the local
	// signature check above already passed.
	return true, nil
}

// tokenFromRun converts an orchestrated run into a session token, minting
// an anonymous token when a fallback served the request
func (s *SessionService) tokenFromRun(ctx context.Context, run resilience.RunResult) (*SessionToken, error) {
	if !run.Success {
		return nil, run.Err
	}

	switch value := run.Result.(type) {
	case *Session:
		token, err := s.mintToken(value.SessionID, false)
		if err != nil {
			return nil, err
		}
		s.storeSession(ctx, value)
		return &SessionToken{
			Token:     token,
			SessionID: value.SessionID,
			ExpiresAt: value.ExpiresAt,
			Anonymous: false,
			Degraded:  run.Protection.UsedFallback,
		}, nil

	case *resilience.DegradedResult:
		return s.degradedToken(ctx, value)

	default:
		return nil, apperrors.NewInternalError(
			fmt.Sprintf("unexpected session result type %T", run.Result))
	}
}

// degradedToken builds a token from a fallback result
func (s *SessionService) degradedToken(ctx context.Context, result *resilience.DegradedResult) (*SessionToken, error) {
	if result.Mode == resilience.ActionCache {
		if session, err := sessionFromPayload(result.Payload); err == nil {
			token, err := s.mintToken(session.SessionID, false)
			if err != nil {
				return nil, err
			}
			return &SessionToken{
				Token:     token,
				SessionID: session.SessionID,
				ExpiresAt: session.ExpiresAt,
				Degraded:  true,
			}, nil
		}
		// Fall through to an anonymous grant when the payload is unusable.
	}

	sessionID := "anon-" + uuid.New().String()
	token, err := s.mintToken(sessionID, true)
	if err != nil {
		return nil, err
	}
	return &SessionToken{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(s.config.SessionTTL),
		Anonymous: true,
		Degraded:  true,
	}, nil
}

// mintToken signs a local JWT for the session
func (s *SessionService) mintToken(sessionID string, anonymous bool) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.SessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "statsbridge",
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", apperrors.NewInternalError("failed to sign session token").WithCause(err)
	}
	return signed, nil
}

// ParseToken verifies a local JWT and returns its claims
func (s *SessionService) ParseToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	})
	if err != nil {
		return nil, apperrors.NewAuthenticationError("invalid session token").WithCause(err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, apperrors.NewAuthenticationError("invalid session token claims")
	}
	return claims, nil
}

// storeSession keeps the latest good session material around for cache
// fallbacks; failures here never fail the operation
func (s *SessionService) storeSession(ctx context.Context, session *Session) {
	if s.cache == nil {
		return
	}

	key := cache.CacheKey{Prefix: cache.PrefixSession, ID: session.SessionID}
	if err := s.cache.Set(ctx, key, session, 0); err != nil {
		s.logger.Warn("Failed to cache session", "error", err.Error())
	}

	if err := s.fallbacks.Put(ctx, "fallback:authenticate", session); err != nil {
		s.logger.Warn("Failed to store fallback session", "error", err.Error())
	}
}

// sessionFromPayload decodes cached session material that round-tripped
// through JSON as a generic map
func sessionFromPayload(payload interface{}) (*Session, error) {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return nil, apperrors.NewInternalError("cached session payload has unexpected shape")
	}

	session := &Session{}
	if v, ok := m["session_id"].(string); ok {
		session.SessionID = v
	}
	if v, ok := m["access_token"].(string); ok {
		session.AccessToken = v
	}
	if v, ok := m["refresh_token"].(string); ok {
		session.RefreshToken = v
	}
	if v, ok := m["expires_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			session.ExpiresAt = ts
		}
	}
	if session.SessionID == "" {
		return nil, apperrors.NewInternalError("cached session payload is missing its id")
	}
	return session, nil
}

// NewRefreshToken generates an opaque refresh token for tests and tooling
func NewRefreshToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

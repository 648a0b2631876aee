package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NikhilSetiya/statsbridge/pkg/errors"
	"github.com/NikhilSetiya/statsbridge/pkg/resilience"
)

func newTestSessionService(t *testing.T, client *Client, strategies []resilience.FallbackStrategy) *SessionService {
	t.Helper()

	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		Enabled:     true,
		MaxAttempts: 2,
		Backoff: resilience.BackoffConfig{
			Strategy:  resilience.BackoffFixed,
			BaseDelay: time.Millisecond,
			MaxDelay:  5 * time.Millisecond,
		},
	})
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: 10,
		Cooldown:         time.Minute,
	})
	dm, err := resilience.NewDegradationManager(resilience.DegradationManagerConfig{
		MinSampleSize: 1000,
	}, nil, strategies, nil)
	require.NoError(t, err)

	orch := resilience.NewOrchestrator(resilience.OrchestratorConfig{
		RetryEnabled:       true,
		DegradationEnabled: true,
	}, nil, retrier, breakers, dm)

	svc, err := NewSessionService(SessionServiceConfig{
		JWTSecret:  "test-secret",
		SessionTTL: time.Hour,
	}, client, orch, nil)
	require.NoError(t, err)
	return svc
}

func TestSessionServiceRequiresSecret(t *testing.T) {
	_, err := NewSessionService(SessionServiceConfig{}, nil, nil, nil)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))
}

func TestSessionServiceAuthenticate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Session{
			SessionID:   "sess-1",
			AccessToken: "access",
			ExpiresAt:   time.Now().Add(time.Hour),
		})
	})
	svc := newTestSessionService(t, client, nil)

	token, err := svc.Authenticate(context.Background(), Credentials{
		ClientID:     "client-1",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", token.SessionID)
	assert.False(t, token.Anonymous)
	assert.False(t, token.Degraded)

	claims, err := svc.ParseToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "statsbridge", claims.Issuer)
	assert.False(t, claims.Anonymous)
}

func TestSessionServiceAuthenticateFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	svc := newTestSessionService(t, client, nil)

	_, err := svc.Authenticate(context.Background(), Credentials{
		ClientID:     "client-1",
		ClientSecret: "wrong",
	})
	require.Error(t, err)
}

func TestSessionServiceAnonymousFallback(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	strategies := []resilience.FallbackStrategy{
		{
			Name:     "anonymous-session",
			Triggers: []resilience.OperationType{resilience.OpAuthenticate},
			Actions:  []resilience.FallbackAction{{Type: resilience.ActionAnonymous}},
			Priority: 10,
		},
	}
	svc := newTestSessionService(t, client, strategies)

	token, err := svc.Authenticate(context.Background(), Credentials{
		ClientID:     "client-1",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	assert.True(t, token.Anonymous)
	assert.True(t, token.Degraded)
	assert.NotEmpty(t, token.SessionID)

	claims, err := svc.ParseToken(token.Token)
	require.NoError(t, err)
	assert.True(t, claims.Anonymous)

	active, err := svc.Validate(context.Background(), token.Token)
	require.NoError(t, err)
	assert.True(t, active, "anonymous sessions validate locally")
}

func TestSessionServiceValidateRejectsBadToken(t *testing.T) {
	svc := newTestSessionService(t, NewClient(ClientConfig{BaseURL: "http://unused"}, nil), nil)

	_, err := svc.Validate(context.Background(), "garbage")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeAuthentication, apperrors.GetType(err))
}

func TestSessionServiceValidateUpstream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/token":
			json.NewEncoder(w).Encode(Session{SessionID: "sess-1", ExpiresAt: time.Now().Add(time.Hour)})
		case "/v1/auth/validate":
			json.NewEncoder(w).Encode(map[string]bool{"active": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	svc := newTestSessionService(t, client, nil)

	token, err := svc.Authenticate(context.Background(), Credentials{ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)

	active, err := svc.Validate(context.Background(), token.Token)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestSessionServiceRejectsWrongSignature(t *testing.T) {
	svc := newTestSessionService(t, NewClient(ClientConfig{BaseURL: "http://unused"}, nil), nil)
	other, err := NewSessionService(SessionServiceConfig{JWTSecret: "other-secret"}, nil, nil, nil)
	require.NoError(t, err)

	token, err := other.mintToken("sess-1", false)
	require.NoError(t, err)

	_, err = svc.ParseToken(token)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeAuthentication, apperrors.GetType(err))
}

func TestNewRefreshToken(t *testing.T) {
	a, err := NewRefreshToken()
	require.NoError(t, err)
	b, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

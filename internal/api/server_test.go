package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/internal/config"
	"github.com/convoflow/internal/ingest"
	"github.com/convoflow/internal/registry"
	"github.com/convoflow/internal/router"
	"github.com/convoflow/internal/webhookutils"
)

type fakeIngestor struct {
	result *ingest.Result
	err    error
	body   []byte
	key    string
	calls  int
}

func (f *fakeIngestor) Ingest(ctx context.Context, payload []byte, idempotencyKey string) (*ingest.Result, error) {
	f.calls++
	f.body = payload
	f.key = idempotencyKey
	return f.result, f.err
}

type fakeResponder struct {
	result *router.Result
	err    error
	turns  []router.Turn
}

func (f *fakeResponder) Route(ctx context.Context, turn router.Turn) (*router.Result, error) {
	f.turns = append(f.turns, turn)
	return f.result, f.err
}

type emptyLoader struct{}

func (emptyLoader) ListActive(ctx context.Context) ([]*registry.AgentDefinition, error) {
	return nil, nil
}

func testServer(cfg *config.Config, ingestor Ingestor, responder Responder) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	agents := registry.New(emptyLoader{}, "general", time.Minute)
	return NewServer(cfg, ingestor, responder, agents)
}

func TestChannelWebhookHandler_Success(t *testing.T) {
	ingestor := &fakeIngestor{result: &ingest.Result{EventID: "ev-1", Status: "processed"}}
	srv := testServer(nil, ingestor, &fakeResponder{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(`{"direction":"inbound"}`))
	req.Header.Set("X-Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "key-1", ingestor.key)
	assert.JSONEq(t, `{"event_id":"ev-1","status":"processed"}`, rec.Body.String())
}

func TestChannelWebhookHandler_SignatureRequired(t *testing.T) {
	cfg := &config.Config{}
	cfg.Webhook.Secret = "wh-secret"
	ingestor := &fakeIngestor{result: &ingest.Result{Status: "processed"}}
	srv := testServer(cfg, ingestor, &fakeResponder{})

	body := `{"direction":"inbound"}`

	t.Run("MissingSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, ingestor.calls)
	})

	t.Run("WrongSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(body))
		req.Header.Set(webhookutils.SignatureHeader, "deadbeef")
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ValidSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(body))
		req.Header.Set(webhookutils.SignatureHeader, webhookutils.ComputeSignature("wh-secret", []byte(body)))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []byte(body), ingestor.body)
	})
}

func TestChannelWebhookHandler_ProcessingError(t *testing.T) {
	ingestor := &fakeIngestor{err: errors.New("database down")}
	srv := testServer(nil, ingestor, &fakeResponder{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChannelWebhookHandler_FailedResultIsBadRequest(t *testing.T) {
	ingestor := &fakeIngestor{result: &ingest.Result{Status: "failed", Reason: "invalid payload"}}
	srv := testServer(nil, ingestor, &fakeResponder{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiagnosticsRouteHandler(t *testing.T) {
	responder := &fakeResponder{result: &router.Result{
		Reply:    "We are open 9 to 5.",
		AgentKey: "general",
		Ok:       true,
		Replies:  1,
	}}
	srv := testServer(nil, &fakeIngestor{}, responder)

	t.Run("Success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnostics/route",
			strings.NewReader(`{"message":"office hours?"}`))
		req.Header.Set(echoHeaderContentType, "application/json")
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"agent_key":"general"`)
		// Builtin fallback pair backs the empty loader.
		assert.Contains(t, rec.Body.String(), `"source":"builtin"`)
	})

	t.Run("MetadataReachesRouter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnostics/route",
			strings.NewReader(`{"message":"hi","metadata":{"participant":"+15550001111"}}`))
		req.Header.Set(echoHeaderContentType, "application/json")
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotEmpty(t, responder.turns)
		last := responder.turns[len(responder.turns)-1]
		assert.Equal(t, map[string]string{"participant": "+15550001111"}, last.Metadata)
	})

	t.Run("MissingMessage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnostics/route", strings.NewReader(`{}`))
		req.Header.Set(echoHeaderContentType, "application/json")
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

const echoHeaderContentType = "Content-Type"

func adminToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAdminAgentEndpoints(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "admin-secret"
	srv := testServer(cfg, &fakeIngestor{}, &fakeResponder{})

	t.Run("NoToken", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "other-secret"))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ListAgents", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-secret"))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"key":"documents"`)
		assert.Contains(t, rec.Body.String(), `"key":"general"`)
	})

	t.Run("GetAgent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/general", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-secret"))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"key":"general"`)
	})

	t.Run("UnknownAgent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/astrology", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-secret"))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Refresh", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/refresh", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin-secret"))
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	srv := testServer(nil, &fakeIngestor{}, &fakeResponder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(nil, &fakeIngestor{}, &fakeResponder{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

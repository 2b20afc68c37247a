package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safegate/safegate/config"
	"github.com/safegate/safegate/domain"
	"github.com/safegate/safegate/store"
)

func newTestServer(t *testing.T, sink store.Sink) *echo.Echo {
	t.Helper()

	cfg := &config.Config{
		GenerationURL:     "http://localhost:8000",
		GenerationAPIKey:  "secret-key",
		GenerationModel:   "mock-gen",
		SafetyURL:         "http://localhost:8001",
		SafetyModel:       "mock-safety",
		GenerationTimeout: time.Second,
		SafetyTimeout:     time.Second,
		GatePolicy:        domain.GatePolicySuppress,
	}

	h, err := NewHandler(context.Background(), cfg, sink, true)
	require.NoError(t, err)

	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createTestSession(t *testing.T, e *echo.Echo, body any) string {
	t.Helper()

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCreateSessionDefaults(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "http://localhost:8000", resp.Config.Generation.BaseURL)
	assert.Equal(t, "mock-gen", resp.Config.Generation.Model)
	require.NotNil(t, resp.Config.Safety)
	assert.Equal(t, "mock-safety", resp.Config.Safety.Model)

	// Credentials never come back.
	assert.Empty(t, resp.Config.Generation.APIKey)
	assert.Empty(t, resp.Config.Safety.APIKey)
}

func TestCreateSessionInvalidPolicy(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions", map[string]any{
		"config": map[string]any{"gate_policy": "bogus"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTurn(t *testing.T) {
	e := newTestServer(t, nil)
	id := createTestSession(t, e, map[string]any{})

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var turn domain.TurnRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, domain.TurnStateFinalized, turn.State)
	assert.Equal(t, "Hello", turn.User.Content)
	assert.NotEmpty(t, turn.Assistant.Content)
	assert.False(t, turn.Rewritten)

	require.NotNil(t, turn.PreVerdict)
	assert.Equal(t, domain.AnswerNo, turn.PreVerdict.HarmfulRequest)
	require.NotNil(t, turn.PostVerdict)
	assert.Equal(t, domain.AnswerNo, turn.PostVerdict.HarmfulResponse)
}

func TestSubmitTurnUngated(t *testing.T) {
	e := newTestServer(t, nil)
	id := createTestSession(t, e, map[string]any{"gating_disabled": true})

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var turn domain.TurnRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, domain.TurnStateFinalized, turn.State)
	assert.Nil(t, turn.PreVerdict)
	assert.Nil(t, turn.PostVerdict)
}

func TestSubmitTurnStreaming(t *testing.T) {
	e := newTestServer(t, nil)
	id := createTestSession(t, e, map[string]any{
		"config": map[string]any{"streaming": true},
	})

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")

	var payloads []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	require.GreaterOrEqual(t, len(payloads), 3, "expected provisional records, a final record and [DONE]")
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])

	var final domain.TurnRecord
	require.NoError(t, json.Unmarshal([]byte(payloads[len(payloads)-2]), &final))
	assert.Equal(t, domain.TurnStateFinalized, final.State)
	assert.NotEmpty(t, final.Assistant.Content)

	// Provisional content grows toward the final content.
	var first domain.TurnRecord
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &first))
	assert.True(t, strings.HasPrefix(final.Assistant.Content, first.Assistant.Content))
}

func TestSubmitTurnValidation(t *testing.T) {
	e := newTestServer(t, nil)
	id := createTestSession(t, e, map[string]any{})

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/v1/sessions/missing/turns", turnRequest{Content: "Hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchConfig(t *testing.T) {
	e := newTestServer(t, nil)
	id := createTestSession(t, e, map[string]any{})

	rec := doJSON(t, e, http.MethodPatch, "/v1/sessions/"+id+"/config", map[string]any{
		"config": map[string]any{
			"system_prompt": "You are terse.",
			"sampling":      map[string]any{"temperature": 0.2},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "You are terse.", resp.Config.SystemPrompt)
	require.NotNil(t, resp.Config.Sampling.Temperature)
	assert.InDelta(t, 0.2, *resp.Config.Sampling.Temperature, 1e-9)

	// The session still takes turns after reconfiguration.
	turnRec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: "Hello"})
	assert.Equal(t, http.StatusOK, turnRec.Code)
}

func TestPatchConfigNotFound(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodPatch, "/v1/sessions/missing/config", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTurnsEmpty(t *testing.T) {
	e := newTestServer(t, store.NopSink{})
	id := createTestSession(t, e, map[string]any{})

	rec := doJSON(t, e, http.MethodGet, "/v1/sessions/"+id+"/turns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"turns":[]}`, rec.Body.String())
}

func TestListTurnsPersisted(t *testing.T) {
	sink, err := store.NewSQLiteSink("file:" + t.TempDir() + "/transcript.db")
	require.NoError(t, err)
	defer sink.Close()

	e := newTestServer(t, sink)
	id := createTestSession(t, e, map[string]any{})

	rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: "Hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	list := doJSON(t, e, http.MethodGet, "/v1/sessions/"+id+"/turns", nil)
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Turns []domain.TurnRecord `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Turns, 1)
	assert.Equal(t, "Hello", resp.Turns[0].User.Content)
	assert.Equal(t, id, resp.Turns[0].SessionID)
}

func TestListTurnsLimit(t *testing.T) {
	sink, err := store.NewSQLiteSink("file:" + t.TempDir() + "/transcript.db")
	require.NoError(t, err)
	defer sink.Close()

	e := newTestServer(t, sink)
	id := createTestSession(t, e, map[string]any{})

	for _, content := range []string{"first", "second"} {
		rec := doJSON(t, e, http.MethodPost, "/v1/sessions/"+id+"/turns", turnRequest{Content: content})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	list := doJSON(t, e, http.MethodGet, "/v1/sessions/"+id+"/turns?limit=1", nil)
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Turns []domain.TurnRecord `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Turns, 1)
	assert.Equal(t, "first", resp.Turns[0].User.Content)

	bad := doJSON(t, e, http.MethodGet, "/v1/sessions/"+id+"/turns?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestCompare(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/compare", map[string]any{
		"left":  map[string]any{"system_prompt": "You are left."},
		"right": map[string]any{"system_prompt": "You are right."},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createCompareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.CompareID)
	assert.NotEqual(t, created.LeftID, created.RightID)

	turnRec := doJSON(t, e, http.MethodPost, "/v1/compare/"+created.CompareID+"/turns", turnRequest{Content: "Hello"})
	require.Equal(t, http.StatusOK, turnRec.Code, turnRec.Body.String())

	var result compareTurnResponse
	require.NoError(t, json.Unmarshal(turnRec.Body.Bytes(), &result))
	require.NotNil(t, result.Left)
	require.NotNil(t, result.Right)
	assert.Equal(t, created.LeftID, result.Left.SessionID)
	assert.Equal(t, created.RightID, result.Right.SessionID)

	// Gating defaults off in comparison mode.
	assert.Nil(t, result.Left.PreVerdict)
	assert.Nil(t, result.Right.PreVerdict)

	assert.Empty(t, result.LeftError)
	assert.Empty(t, result.RightError)
}

func TestCompareNotFound(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/compare/missing/turns", turnRequest{Content: "Hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

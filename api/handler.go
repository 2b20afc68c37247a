// Package api exposes the rendering-layer boundary over HTTP: session
// creation and reconfiguration, turn submission (JSON or SSE), transcript
// listing, dual-model comparison and a WebSocket streaming endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/safegate/safegate/config"
	"github.com/safegate/safegate/domain"
	"github.com/safegate/safegate/llm"
	"github.com/safegate/safegate/policy"
	"github.com/safegate/safegate/prompts"
	"github.com/safegate/safegate/safety"
	"github.com/safegate/safegate/session"
	"github.com/safegate/safegate/store"
	"github.com/safegate/safegate/turn"
)

// mockVerdict is what the mock safety backend answers in mock mode.
const mockVerdict = "Harmful request: no\nResponse refusal: no\nHarmful response: no"

// Handler wires sessions and orchestrators to HTTP routes.
type Handler struct {
	cfg      *config.Config
	sink     store.Sink
	mockMode bool
	catalog  *prompts.Catalog
	engines  map[string]*policy.Engine

	mu       sync.RWMutex
	sessions map[string]*turn.Orchestrator
	duals    map[string]*turn.DualCoordinator
}

// NewHandler creates the handler and prepares both built-in gate policies.
func NewHandler(ctx context.Context, cfg *config.Config, sink store.Sink, mockMode bool) (*Handler, error) {
	if sink == nil {
		sink = store.NopSink{}
	}

	engines := make(map[string]*policy.Engine, 2)
	for _, mode := range []string{domain.GatePolicySuppress, domain.GatePolicyRewriteOnly} {
		engine, err := policy.NewEngine(ctx, policy.ForMode(mode))
		if err != nil {
			return nil, fmt.Errorf("prepare %s policy: %w", mode, err)
		}
		engines[mode] = engine
	}

	return &Handler{
		cfg:      cfg,
		sink:     sink,
		mockMode: mockMode,
		catalog:  prompts.NewCatalog(),
		engines:  engines,
		sessions: make(map[string]*turn.Orchestrator),
		duals:    make(map[string]*turn.DualCoordinator),
	}, nil
}

// RegisterRoutes registers all routes on the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)

	e.POST("/v1/sessions", h.createSession)
	e.POST("/v1/sessions/:id/turns", h.submitTurn)
	e.PATCH("/v1/sessions/:id/config", h.patchConfig)
	e.GET("/v1/sessions/:id/turns", h.listTurns)

	e.POST("/v1/compare", h.createCompare)
	e.POST("/v1/compare/:id/turns", h.submitCompareTurn)

	e.GET("/ws/sessions/:id", h.handleWebSocket)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	Config         domain.SessionConfig `json:"config"`
	GatingDisabled bool                 `json:"gating_disabled"`
}

type createSessionResponse struct {
	SessionID string               `json:"session_id"`
	Config    domain.SessionConfig `json:"config"`
}

func (h *Handler) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := h.applyDefaults(req.Config, req.GatingDisabled)
	orch, err := h.newOrchestratorSession(cfg)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h.mu.Lock()
	h.sessions[orch.Session().ID()] = orch
	h.mu.Unlock()

	return c.JSON(http.StatusCreated, createSessionResponse{
		SessionID: orch.Session().ID(),
		Config:    redactConfig(orch.Session().Config()),
	})
}

type turnRequest struct {
	Content string `json:"content"`
}

func (h *Handler) submitTurn(c echo.Context) error {
	orch, ok := h.lookupSession(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	ctx := c.Request().Context()

	if orch.Session().Config().Streaming {
		return h.streamTurn(c, orch, req.Content)
	}

	rec, err := orch.Submit(ctx, req.Content)
	if err != nil {
		return turnError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// streamTurn delivers provisional records over SSE, terminated by the
// finalized record and a [DONE] marker.
func (h *Handler) streamTurn(c echo.Context, orch *turn.Orchestrator, content string) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")

	ctx := c.Request().Context()
	started := false

	_, err := orch.SubmitStream(ctx, content, func(rec *domain.TurnRecord) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if !started {
			resp.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
			return err
		}
		resp.Flush()
		return nil
	})
	if err != nil {
		if !started {
			return turnError(err)
		}
		// The consumer went away mid-stream; nothing left to deliver.
		return nil
	}

	fmt.Fprint(resp, "data: [DONE]\n\n")
	resp.Flush()
	return nil
}

func (h *Handler) patchConfig(c echo.Context) error {
	orch, ok := h.lookupSession(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cfg := h.applyDefaults(req.Config, req.GatingDisabled)
	sess := orch.Session()
	if err := sess.Reconfigure(cfg); err != nil {
		if errors.Is(err, domain.ErrTurnInProgress) {
			return echo.NewHTTPError(http.StatusConflict, "turn_in_progress")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Backend identity may have changed; rebuild the clients around the
	// same conversation.
	h.mu.Lock()
	h.sessions[sess.ID()] = h.orchestratorFor(sess)
	h.mu.Unlock()

	return c.JSON(http.StatusOK, createSessionResponse{
		SessionID: sess.ID(),
		Config:    redactConfig(cfg),
	})
}

func (h *Handler) listTurns(c echo.Context) error {
	h.mu.RLock()
	_, ok := h.sessions[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	records, err := h.sink.ListTurns(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list turns")
	}
	if records == nil {
		records = []domain.TurnRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"turns": records})
}

type createCompareRequest struct {
	Left           domain.SessionConfig `json:"left"`
	Right          domain.SessionConfig `json:"right"`
	GatingDisabled bool                 `json:"gating_disabled"`
}

type createCompareResponse struct {
	CompareID string `json:"compare_id"`
	LeftID    string `json:"left_session_id"`
	RightID   string `json:"right_session_id"`
}

func (h *Handler) createCompare(c echo.Context) error {
	var req createCompareRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// Comparison sides gate only when a safety backend is given explicitly.
	left, err := h.newOrchestratorSession(h.applyDefaults(req.Left, req.GatingDisabled || req.Left.Safety == nil))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("left: %v", err))
	}
	right, err := h.newOrchestratorSession(h.applyDefaults(req.Right, req.GatingDisabled || req.Right.Safety == nil))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("right: %v", err))
	}

	d := turn.NewDualCoordinator(left, right)
	id := "cmp_" + uuid.New().String()[:8]

	h.mu.Lock()
	h.duals[id] = d
	h.mu.Unlock()

	return c.JSON(http.StatusCreated, createCompareResponse{
		CompareID: id,
		LeftID:    left.Session().ID(),
		RightID:   right.Session().ID(),
	})
}

type compareTurnResponse struct {
	Left       *domain.TurnRecord `json:"left,omitempty"`
	Right      *domain.TurnRecord `json:"right,omitempty"`
	LeftError  string             `json:"left_error,omitempty"`
	RightError string             `json:"right_error,omitempty"`
}

func (h *Handler) submitCompareTurn(c echo.Context) error {
	h.mu.RLock()
	d, ok := h.duals[c.Param("id")]
	h.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "comparison not found")
	}

	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	res := d.Submit(c.Request().Context(), req.Content)
	out := compareTurnResponse{Left: res.Left, Right: res.Right}
	if res.LeftErr != nil {
		out.LeftError = res.LeftErr.Error()
	}
	if res.RightErr != nil {
		out.RightError = res.RightErr.Error()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) lookupSession(id string) (*turn.Orchestrator, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	orch, ok := h.sessions[id]
	return orch, ok
}

// applyDefaults fills unset backend fields from the process configuration.
func (h *Handler) applyDefaults(cfg domain.SessionConfig, gatingDisabled bool) domain.SessionConfig {
	def := h.cfg.DefaultSessionConfig()
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = def.Generation.BaseURL
	}
	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = def.Generation.APIKey
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = def.Generation.Model
	}
	if cfg.GatePolicy == "" {
		cfg.GatePolicy = def.GatePolicy
	}
	if gatingDisabled {
		cfg.Safety = nil
	} else if cfg.Safety == nil {
		cfg.Safety = def.Safety
	}
	return cfg
}

func (h *Handler) newOrchestratorSession(cfg domain.SessionConfig) (*turn.Orchestrator, error) {
	sess, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	return h.orchestratorFor(sess), nil
}

// orchestratorFor builds the backend clients for a session's current
// configuration.
func (h *Handler) orchestratorFor(sess *session.Session) *turn.Orchestrator {
	cfg := sess.Config()

	var gen llm.Generator
	if h.mockMode {
		gen = llm.NewMockClient()
	} else {
		gen = llm.NewClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, h.cfg.GenerationTimeout)
	}

	var classifier safety.Classifier
	var gate *policy.Engine
	if cfg.GatingEnabled() {
		var backend llm.Generator
		if h.mockMode {
			backend = &llm.MockClient{Response: mockVerdict}
		} else {
			backend = llm.NewClient(cfg.Safety.BaseURL, cfg.Safety.APIKey, h.cfg.SafetyTimeout)
		}
		classifier = safety.NewClient(backend, cfg.Safety.Model, h.catalog)
		gate = h.engines[cfg.GatePolicy]
		if gate == nil {
			gate = h.engines[domain.GatePolicySuppress]
		}
	}

	var opts []turn.Option
	if h.cfg.RewriteWithModel {
		opts = append(opts, turn.WithModelRewrite())
	}
	return turn.New(sess, gen, classifier, gate, h.sink, opts...)
}

// redactConfig strips credentials before echoing configuration back.
func redactConfig(cfg domain.SessionConfig) domain.SessionConfig {
	cfg.Generation.APIKey = ""
	if cfg.Safety != nil {
		s := *cfg.Safety
		s.APIKey = ""
		cfg.Safety = &s
	}
	return cfg
}

func turnError(err error) error {
	if errors.Is(err, domain.ErrTurnInProgress) {
		return echo.NewHTTPError(http.StatusConflict, "turn_in_progress")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

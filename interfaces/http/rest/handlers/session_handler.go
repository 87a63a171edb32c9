package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"designgraph/application/services"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// SessionHandler serves graphs, patches and views
type SessionHandler struct {
	graphs       *services.GraphService
	views        *services.ViewService
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	graphs *services.GraphService,
	views *services.ViewService,
	logger *zap.Logger,
	errorHandler *pkgerrors.ErrorHandler,
) *SessionHandler {
	return &SessionHandler{
		graphs:       graphs,
		views:        views,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	SessionID    string `json:"session_id" validate:"required,max=128"`
	RequireFresh bool   `json:"require_fresh,omitempty"`
}

// ApplyPatchRequest represents the request body for applying a patch. The
// expected version may come from the If-Match header instead.
type ApplyPatchRequest struct {
	ExpectedVersion *int             `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
	Patch           aggregates.Patch `json:"patch"`
}

// GraphSummary is the response for session writes
type GraphSummary struct {
	SessionID string    `json:"session_id"`
	Version   int       `json:"version"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(g *aggregates.Graph) GraphSummary {
	return GraphSummary{
		SessionID: g.SessionID(),
		Version:   g.Version(),
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
		UpdatedAt: g.UpdatedAt(),
	}
}

// CreateSession handles POST /sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	g, created, err := h.graphs.CreateSession(r.Context(), req.SessionID, req.RequireFresh)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	setVersion(w, g.Version())
	respondJSON(w, h.logger, status, summarize(g))
}

// GetSession handles GET /sessions/{sessionID}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	g, err := h.graphs.GetGraph(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	setVersion(w, g.Version())
	respondJSON(w, h.logger, http.StatusOK, g.Snapshot())
}

// ApplyPatch handles POST /sessions/{sessionID}/patches
func (h *SessionHandler) ApplyPatch(w http.ResponseWriter, r *http.Request) {
	var req ApplyPatchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	expected, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	g, err := h.graphs.ApplyPatch(r.Context(), chi.URLParam(r, "sessionID"), expected, req.Patch)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	setVersion(w, g.Version())
	respondJSON(w, h.logger, http.StatusOK, summarize(g))
}

// GetView handles GET /sessions/{sessionID}/view
func (h *SessionHandler) GetView(w http.ResponseWriter, r *http.Request) {
	v, err := h.views.GetView(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("layer"), queryBool(r, "positions"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	setVersion(w, v.Version)
	respondJSON(w, h.logger, http.StatusOK, v)
}

// GetViewDelta handles GET /sessions/{sessionID}/view/delta
func (h *SessionHandler) GetViewDelta(w http.ResponseWriter, r *http.Request) {
	since, ok, err := queryInt(r, "since")
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if !ok {
		h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("since is required").WithCode(pkgerrors.CodeInvalidRequest))
		return
	}

	d, err := h.views.GetDelta(r.Context(), chi.URLParam(r, "sessionID"), since, r.URL.Query().Get("layer"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	setVersion(w, d.Version)
	respondJSON(w, h.logger, http.StatusOK, d)
}

// ExportText handles GET /sessions/{sessionID}/view/text
func (h *SessionHandler) ExportText(w http.ResponseWriter, r *http.Request) {
	text, version, err := h.views.ExportText(r.Context(), chi.URLParam(r, "sessionID"), r.URL.Query().Get("layer"), queryBool(r, "positions"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	setVersion(w, version)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(text)); err != nil {
		h.logger.Warn("Failed to write view text", zap.Error(err))
	}
}

// expectedVersion reconciles the body field with an If-Match header. One of
// them is required and they must agree when both are sent.
func expectedVersion(r *http.Request, fromBody *int) (int, error) {
	header := r.Header.Get("If-Match")
	if header == "" {
		if fromBody == nil {
			return 0, pkgerrors.NewValidationError("expected_version or If-Match is required").WithCode(pkgerrors.CodeInvalidRequest)
		}
		return *fromBody, nil
	}

	raw := strings.Trim(strings.TrimPrefix(strings.TrimSpace(header), "W/"), `"`)
	fromHeader, err := strconv.Atoi(raw)
	if err != nil || fromHeader < 0 {
		return 0, pkgerrors.NewValidationErrorf("If-Match must be a graph version, got %q", header).WithCode(pkgerrors.CodeInvalidRequest)
	}
	if fromBody != nil && *fromBody != fromHeader {
		return 0, pkgerrors.NewValidationError("expected_version and If-Match disagree").
			WithCode(pkgerrors.CodeInvalidRequest).
			WithDetail("expected_version", *fromBody).
			WithDetail("if_match", fromHeader)
	}
	return fromHeader, nil
}

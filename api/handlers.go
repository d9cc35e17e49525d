package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow"
	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/compress"
)

// Response wraps all API responses.
type Response struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error: &APIError{Code: code, Message: message},
	})
}

// sessionID extracts and validates the session_id path parameter.
func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// mapError translates client errors to HTTP responses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ctxwindow.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, ctxwindow.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent_not_found", err.Error())
	case errors.Is(err, compress.ErrInvalidRatio):
		writeError(w, http.StatusBadRequest, "invalid_ratio", err.Error())
	case errors.Is(err, ctxwindow.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (rt *router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := rt.client.CreateSession()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

// statusResponse augments the client status with a rendered summary
// block for the display widget.
type statusResponse struct {
	*ctxwindow.Status
	RecommendationHTML string `json:"recommendation_html,omitempty"`
}

func (rt *router) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	status, err := rt.client.Status(id, r.URL.Query().Get("agent_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:             status,
		RecommendationHTML: renderHTML(status.Recommendation),
	})
}

type compactRequest struct {
	AgentID     string  `json:"agent_id,omitempty"`
	Strategy    string  `json:"strategy,omitempty"`
	TargetRatio float64 `json:"target_ratio,omitempty"`
}

// compactResponse reports the outcome of a compaction pass. The
// summary is returned raw and as sanitized HTML.
type compactResponse struct {
	Strategy        compress.Strategy `json:"strategy"`
	DroppedCount    int               `json:"dropped_count"`
	KeptCount       int               `json:"kept_count"`
	OriginalTokens  int               `json:"original_tokens"`
	CompactedTokens int               `json:"compacted_tokens"`
	AchievedRatio   float64           `json:"achieved_ratio"`
	Summary         string            `json:"summary,omitempty"`
	SummaryHTML     string            `json:"summary_html,omitempty"`
}

func (rt *router) handleCompact(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req compactRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}

	strategy := compress.Strategy(req.Strategy)
	if req.Strategy != "" && !strategy.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_strategy", "unknown strategy "+req.Strategy)
		return
	}

	result, err := rt.client.Compact(r.Context(), id, req.AgentID, strategy, req.TargetRatio)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, compactResponse{
		Strategy:        result.Strategy,
		DroppedCount:    result.DroppedCount,
		KeptCount:       len(result.Turns),
		OriginalTokens:  result.OriginalTokens,
		CompactedTokens: result.CompactedTokens,
		AchievedRatio:   result.AchievedRatio,
		Summary:         result.Summary,
		SummaryHTML:     renderHTML(result.Summary),
	})
}

func (rt *router) handleAutoCompactEnable(w http.ResponseWriter, r *http.Request) {
	rt.setAutoCompact(w, r, true)
}

func (rt *router) handleAutoCompactDisable(w http.ResponseWriter, r *http.Request) {
	rt.setAutoCompact(w, r, false)
}

func (rt *router) setAutoCompact(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := rt.client.SetAutoCompact(id, enabled); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"auto_compact": enabled})
}

func (rt *router) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	events, err := rt.client.Events(id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type checkpointRequest struct {
	Milestone bool `json:"milestone,omitempty"`
}

func (rt *router) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req checkpointRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}

	cpID, err := rt.client.Checkpoint(r.Context(), id, checkpoint.ReasonManual, req.Milestone)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"checkpoint_id": cpID})
}

type recoverRequest struct {
	CheckpointID *uuid.UUID `json:"checkpoint_id,omitempty"`
}

// recoverResponse reports a recovery outcome. The human-readable
// summary is also rendered as sanitized HTML for the widget.
type recoverResponse struct {
	Fresh       bool   `json:"fresh"`
	Notice      string `json:"notice,omitempty"`
	Summary     string `json:"summary,omitempty"`
	SummaryHTML string `json:"summary_html,omitempty"`
	TurnCount   int    `json:"turn_count"`
}

func (rt *router) handleRecover(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req recoverRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}

	outcome, err := rt.client.Recover(r.Context(), id, req.CheckpointID)
	if err != nil {
		mapError(w, err)
		return
	}

	resp := recoverResponse{Fresh: outcome.Fresh, Notice: outcome.Notice}
	if outcome.Result != nil {
		resp.Summary = outcome.Result.Summary
		resp.SummaryHTML = renderHTML(outcome.Result.Summary)
		resp.TurnCount = len(outcome.Result.Turns)
	}
	writeJSON(w, http.StatusOK, resp)
}

type handoffRequest struct {
	AgentID              string `json:"agent_id,omitempty"`
	TargetSpecialization string `json:"target_specialization"`
	Reason               string `json:"reason"`
}

func (rt *router) handleHandoff(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.TargetSpecialization == "" {
		writeError(w, http.StatusBadRequest, "missing_target", "target_specialization is required")
		return
	}

	handoffCtx, err := rt.client.PrepareHandoff(r.Context(), id, req.AgentID, req.TargetSpecialization, req.Reason)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoffCtx)
}

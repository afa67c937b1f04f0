package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gophgate/internal/common"
	"github.com/dmitrijs2005/gophgate/internal/server/proxy"
	"github.com/dmitrijs2005/gophgate/internal/server/services"
)

// Audit actions of the AI proxy.
const (
	ActionAICall    = "AI_API_CALL"
	ActionAISuccess = "AI_API_SUCCESS"
	ActionAIError   = "AI_API_ERROR"

	resourceAI = "ai"
)

func (s *HTTPServer) recordAI(r *http.Request, action, resourceID, status string, details map[string]any) {
	id := identityFrom(r.Context())
	s.sink.Record(r.Context(), services.AuditEntry{
		UserID:       id.UserID,
		Action:       action,
		ResourceType: resourceAI,
		ResourceID:   resourceID,
		Details:      details,
		Status:       status,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func (s *HTTPServer) completion(w http.ResponseWriter, r *http.Request) {
	var req proxy.CompletionRequest
	if err := s.decode(w, r, &req, "Messages array required"); err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.ai == nil || !s.ai.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, newAPIError(http.StatusServiceUnavailable, "ai_not_configured", "AI provider is not configured"))
		return
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = proxy.DefaultMaxTokens
	}
	s.recordAI(r, ActionAICall, "", common.StatusSuccess, map[string]any{
		"messageCount": len(req.Messages),
		"maxTokens":    maxTokens,
		"hasSystem":    len(req.System) > 0,
	})

	res, err := s.ai.Complete(r.Context(), req)

	var upstream *proxy.UpstreamError
	switch {
	case errors.As(err, &upstream):
		s.metrics.UpstreamCall(upstream.Status)
		s.recordAI(r, ActionAIError, "", common.StatusError, map[string]any{"status": upstream.Status, "error": upstream.Message})

		apiErr := newAPIError(upstream.Status, "upstream_error", upstream.Message)
		if upstream.Details != nil {
			apiErr.Details = upstream.Details
		}
		writeJSON(w, upstream.Status, apiErr)
		return

	case errors.Is(err, proxy.ErrResponseTooLarge):
		s.metrics.UpstreamCall(http.StatusBadGateway)
		s.logger.Error(r.Context(), "ai proxy", "error", err)
		s.recordAI(r, ActionAIError, "", common.StatusError, map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadGateway, newAPIError(http.StatusBadGateway, "upstream_response_too_large", "AI response too large"))
		return

	case err != nil:
		s.metrics.UpstreamCall(http.StatusBadGateway)
		s.logger.Error(r.Context(), "ai proxy", "error", err)
		s.recordAI(r, ActionAIError, "", common.StatusError, map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadGateway, newAPIError(http.StatusBadGateway, "upstream_unavailable", "Failed to process AI request"))
		return
	}

	s.metrics.UpstreamCall(http.StatusOK)
	s.recordAI(r, ActionAISuccess, res.ID, common.StatusSuccess, map[string]any{
		"inputTokens":  res.Usage.InputTokens,
		"outputTokens": res.Usage.OutputTokens,
		"stopReason":   res.StopReason,
	})

	writeJSON(w, http.StatusOK, struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{true, res.Raw})
}

func (s *HTTPServer) aiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"status":     "healthy",
		"service":    "ai-proxy",
		"configured": s.ai != nil && s.ai.Configured(),
	})
}

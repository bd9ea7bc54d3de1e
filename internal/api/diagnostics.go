package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/router"
)

// DiagnosticsRouteRequest simulates one routing turn without touching
// conversation storage or the outbound channel.
type DiagnosticsRouteRequest struct {
	Message string `json:"message"`
	History []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DiagnosticsRouteResponse reports the routing outcome with its trace
type DiagnosticsRouteResponse struct {
	Reply      string        `json:"reply"`
	AgentKey   string        `json:"agent_key"`
	Ok         bool          `json:"ok"`
	Replies    int           `json:"replies"`
	Trace      []router.Step `json:"trace"`
	AgentCount int           `json:"agent_count"`
	Source     string        `json:"source"`
}

// DiagnosticsRouteHandler runs the router on an ad-hoc turn
func (s *Server) DiagnosticsRouteHandler(c echo.Context) error {
	var req DiagnosticsRouteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "message is required",
		})
	}

	history := make([]capability.Exchange, 0, len(req.History)+1)
	for _, h := range req.History {
		role := capability.RoleUser
		if h.Role == "assistant" {
			role = capability.RoleAssistant
		}
		history = append(history, capability.Exchange{Role: role, Content: h.Content})
	}
	history = append(history, capability.Exchange{Role: capability.RoleUser, Content: req.Message})

	result, err := s.responder.Route(c.Request().Context(), router.Turn{History: history, Metadata: req.Metadata})
	if err != nil {
		s.log.Error().Err(err).Msg("Diagnostic routing failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "routing failed",
		})
	}

	resp := DiagnosticsRouteResponse{
		Reply:    result.Reply,
		AgentKey: result.AgentKey,
		Ok:       result.Ok,
		Replies:  result.Replies,
		Trace:    result.Trace,
	}
	if snapshot, err := s.agents.Snapshot(c.Request().Context()); err == nil {
		resp.AgentCount = len(snapshot.Keys)
		resp.Source = snapshot.Source
	}

	return c.JSON(http.StatusOK, resp)
}

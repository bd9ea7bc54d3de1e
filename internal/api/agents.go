package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/internal/registry"
)

// AgentSummary is the list view of an agent definition
type AgentSummary struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	TypeTag     string `json:"type_tag"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

// AgentListResponse carries the active agent set and its provenance
type AgentListResponse struct {
	Agents   []AgentSummary `json:"agents"`
	Source   string         `json:"source"`
	LoadedAt string         `json:"loaded_at"`
}

func (s *Server) listAgents(c echo.Context) error {
	snapshot, err := s.agents.Snapshot(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Could not load agent snapshot")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "could not load agents",
		})
	}
	return c.JSON(http.StatusOK, snapshotResponse(snapshot))
}

func (s *Server) getAgent(c echo.Context) error {
	snapshot, err := s.agents.Snapshot(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "could not load agents",
		})
	}

	key := registry.NormalizeKey(c.Param("key"))
	agent, ok := snapshot.Agent(key)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "agent not found: " + key,
		})
	}
	return c.JSON(http.StatusOK, agent)
}

func (s *Server) refreshAgents(c echo.Context) error {
	snapshot, err := s.agents.Refresh(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Agent refresh failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "refresh failed",
		})
	}
	return c.JSON(http.StatusOK, snapshotResponse(snapshot))
}

func snapshotResponse(snapshot *registry.Snapshot) AgentListResponse {
	resp := AgentListResponse{
		Source:   snapshot.Source,
		LoadedAt: snapshot.LoadedAt.Format("2006-01-02T15:04:05Z07:00"),
		Agents:   make([]AgentSummary, 0, len(snapshot.Keys)),
	}
	for _, key := range snapshot.Keys {
		agent := snapshot.Agents[key]
		resp.Agents = append(resp.Agents, AgentSummary{
			Key:         key,
			Name:        agent.Name,
			TypeTag:     agent.TypeTag,
			Description: agent.Description,
			IsDefault:   key == snapshot.DefaultKey,
		})
	}
	return resp
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
)

// AdminHandler serves the operator-facing internal API: agent inventory,
// bootstrap credential issuance, violation and session queries.
type AdminHandler struct {
	agentService *agents.Service
}

func NewAdminHandler(agentService *agents.Service) *AdminHandler {
	return &AdminHandler{agentService: agentService}
}

// ListAgents returns every registered agent with its derived online status.
// GET /api/agents
func (h *AdminHandler) ListAgents(c *gin.Context) {
	agentList, err := h.agentService.ListAgents(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list agents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	responses := make([]dto.AgentResponse, len(agentList))
	for i, a := range agentList {
		responses[i] = toAgentResponse(a, h.agentService.Online(a))
	}
	c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: responses, Count: len(responses)})
}

// GetAgent returns one agent.
// GET /api/agents/:agentId
func (h *AdminHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("agentId")

	agent, err := h.agentService.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent"})
		return
	}

	c.JSON(http.StatusOK, toAgentResponse(agent, h.agentService.Online(agent)))
}

// DeleteAgent removes an agent and all its dependent records.
// DELETE /api/agents/:agentId
func (h *AdminHandler) DeleteAgent(c *gin.Context) {
	agentID := c.Param("agentId")

	if err := h.agentService.DeleteAgent(c.Request.Context(), agentID); err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to delete agent", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete agent"})
		return
	}

	slog.Info("Agent deleted", "agent_id", agentID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GenerateRegistrationCode mints a human-facing code for manual/QR pairing.
// POST /api/agent/registration-code
func (h *AdminHandler) GenerateRegistrationCode(c *gin.Context) {
	var req dto.RegistrationCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issued, err := h.agentService.GenerateRegistrationCode(c.Request.Context(), req.ChildID)
	if err != nil {
		slog.Error("Failed to generate registration code", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate code"})
		return
	}

	c.JSON(http.StatusCreated, dto.RegistrationCodeResponse{
		Code:      issued.Credential,
		ExpiresAt: issued.ExpiresAt,
	})
}

// MintBootstrapToken mints the machine secret baked into an installer.
// POST /api/agent/pending-token
func (h *AdminHandler) MintBootstrapToken(c *gin.Context) {
	var req dto.BootstrapTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issued, err := h.agentService.MintBootstrapToken(c.Request.Context(), req.ChildID, req.Platform, req.Version)
	if err != nil {
		slog.Error("Failed to mint bootstrap token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint token"})
		return
	}

	c.JSON(http.StatusCreated, dto.BootstrapTokenResponse{
		Token:     issued.Credential,
		ExpiresAt: issued.ExpiresAt,
	})
}

// ListViolations returns recent violations reported by an agent.
// GET /api/agents/:agentId/violations
func (h *AdminHandler) ListViolations(c *gin.Context) {
	agentID := c.Param("agentId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	violations, err := h.agentService.ListViolations(c.Request.Context(), agentID, limit)
	if err != nil {
		slog.Error("Failed to list violations", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list violations"})
		return
	}

	records := make([]dto.ViolationRecord, len(violations))
	for i, v := range violations {
		records[i] = dto.ViolationRecord{
			ID:         v.ID,
			AgentID:    v.AgentID,
			PolicyID:   v.PolicyID,
			Type:       v.Type,
			Details:    v.Details,
			OccurredAt: v.OccurredAt,
			ReportedAt: v.ReportedAt,
		}
	}
	c.JSON(http.StatusOK, dto.ListViolationsResponse{Violations: records, Count: len(records)})
}

// CurrentUser returns the active OS user, null while the agent is offline.
// GET /api/agents/:agentId/current-user
func (h *AdminHandler) CurrentUser(c *gin.Context) {
	agentID := c.Param("agentId")

	session, online, err := h.agentService.CurrentUser(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get current user", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get current user"})
		return
	}

	resp := dto.CurrentUserResponse{Online: online}
	if session != nil {
		resp.User = &dto.UserSessionResponse{Username: session.Username, RecordedAt: session.RecordedAt}
	}
	c.JSON(http.StatusOK, resp)
}

// LastUser returns the most recent OS user regardless of liveness.
// GET /api/agents/:agentId/last-user
func (h *AdminHandler) LastUser(c *gin.Context) {
	agentID := c.Param("agentId")

	session, err := h.agentService.LastUser(c.Request.Context(), agentID)
	if err != nil {
		slog.Error("Failed to get last user", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get last user"})
		return
	}

	var user *dto.UserSessionResponse
	if session != nil {
		user = &dto.UserSessionResponse{Username: session.Username, RecordedAt: session.RecordedAt}
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UserSessionHistory lists recent user sessions, newest first.
// GET /api/agents/:agentId/user-sessions
func (h *AdminHandler) UserSessionHistory(c *gin.Context) {
	agentID := c.Param("agentId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := h.agentService.UserSessionHistory(c.Request.Context(), agentID, limit)
	if err != nil {
		slog.Error("Failed to list user sessions", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}

	responses := make([]dto.UserSessionResponse, len(sessions))
	for i, s := range sessions {
		responses[i] = dto.UserSessionResponse{Username: s.Username, RecordedAt: s.RecordedAt}
	}
	c.JSON(http.StatusOK, dto.SessionHistoryResponse{Sessions: responses, Count: len(responses)})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
	"github.com/guardianware/guardian-hub/internal/plugins"
	"github.com/guardianware/guardian-hub/internal/store"
)

// AgentHandler serves the agent-facing protocol endpoints. Every route here
// runs behind AgentAuth, so the agent identity is always on the context.
type AgentHandler struct {
	agentService *agents.Service
	coordinator  *plugins.Coordinator
}

func NewAgentHandler(agentService *agents.Service, coordinator *plugins.Coordinator) *AgentHandler {
	return &AgentHandler{agentService: agentService, coordinator: coordinator}
}

// Heartbeat is the protocol's single multiplexing point: it updates
// liveness, optionally records the active OS user, and atomically drains
// the pending action queue for pull-delivery.
// POST /api/agent/heartbeat
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	agentID := c.GetString("agent_id")

	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta := store.AgentMetadata{IP: c.ClientIP()}
	if req.Metadata != nil {
		meta.Hostname = req.Metadata.Hostname
		meta.Platform = req.Metadata.Platform
		meta.Version = req.Metadata.Version
	}

	agent, err := h.agentService.Heartbeat(c.Request.Context(), agentID, meta)
	if err != nil {
		if errors.Is(err, agents.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Heartbeat failed", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}

	if req.UserContext != nil && req.UserContext.SystemUser != "" {
		if err := h.agentService.RecordUserSession(c.Request.Context(), agentID, req.UserContext.SystemUser); err != nil {
			// Session bookkeeping must not fail the heartbeat.
			slog.Warn("Failed to record user session", "error", err, "agent_id", agentID)
		}
	}

	pending, err := h.coordinator.ClaimPendingActions(c.Request.Context(), agentID)
	if err != nil {
		slog.Error("Failed to claim pending actions", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
		return
	}

	c.JSON(http.StatusOK, dto.HeartbeatResponse{
		Success:        true,
		DefaultChild:   agent.DefaultChildID,
		PendingActions: toTriggerResponses(pending),
	})
}

// Policies returns the authenticated agent's policy set.
// GET /api/agent/policies
func (h *AgentHandler) Policies(c *gin.Context) {
	agentID := c.GetString("agent_id")

	policies, err := h.agentService.GetPolicies(c.Request.Context(), agentID)
	if err != nil {
		slog.Error("Failed to load policies", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load policies"})
		return
	}

	c.JSON(http.StatusOK, dto.ListPoliciesResponse{
		Policies: toPolicyResponses(policies),
		Count:    len(policies),
	})
}

// ReportViolation persists a policy breach observed by the agent.
// POST /api/agent/violations
func (h *AgentHandler) ReportViolation(c *gin.Context) {
	agentID := c.GetString("agent_id")

	var req dto.ViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	violationID, err := h.agentService.RecordViolation(c.Request.Context(), agentID, agents.ViolationParams{
		PolicyID:   req.PolicyID,
		Type:       req.Type,
		Details:    req.Details,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, agents.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		default:
			slog.Error("Failed to record violation", "error", err, "agent_id", agentID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record violation"})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.ViolationResponse{Success: true, ViolationID: violationID})
}

// PluginData ingests monitor observations. Partial failure is expected; a
// bad item is reported per-entry, never aborting the batch.
// POST /api/agent/plugin-data
func (h *AgentHandler) PluginData(c *gin.Context) {
	agentID := c.GetString("agent_id")

	var req dto.PluginDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	processed, batchErrors := h.coordinator.ProcessPluginData(c.Request.Context(), agentID, req.PluginData)
	c.JSON(http.StatusOK, dto.BatchResult{Processed: processed, Errors: batchErrors})
}

// ActionResponses records execution results for delivered triggers, with
// the same partial-failure contract as PluginData.
// POST /api/agent/plugin-action-responses
func (h *AgentHandler) ActionResponses(c *gin.Context) {
	agentID := c.GetString("agent_id")

	var req dto.ActionResponsesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	responses := make([]plugins.ActionResponse, len(req.Responses))
	for i, r := range req.Responses {
		responses[i] = plugins.ActionResponse{
			TriggerID:  r.TriggerID,
			Status:     r.Status,
			ReturnCode: r.ReturnCode,
			Output:     r.Output,
			Error:      r.Error,
			ExecutedAt: r.ExecutedAt,
		}
	}

	processed, batchErrors := h.coordinator.ProcessActionResponses(c.Request.Context(), agentID, responses)
	c.JSON(http.StatusOK, dto.BatchResult{Processed: processed, Errors: batchErrors})
}

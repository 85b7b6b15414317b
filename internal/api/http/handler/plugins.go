package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
	"github.com/guardianware/guardian-hub/internal/plugins"
)

// PluginHandler serves the operator-facing plugin surface: deployments,
// triggers and collected monitor data.
type PluginHandler struct {
	coordinator *plugins.Coordinator
}

func NewPluginHandler(coordinator *plugins.Coordinator) *PluginHandler {
	return &PluginHandler{coordinator: coordinator}
}

// DeployMonitor registers or updates a recurring observation task.
// POST /api/agents/:agentId/deploy-monitor
func (h *PluginHandler) DeployMonitor(c *gin.Context) {
	agentID := c.Param("agentId")

	var req dto.DeployMonitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.coordinator.DeployMonitor(c.Request.Context(), agentID, plugins.MonitorConfig{
		PluginID:  req.PluginID,
		MonitorID: req.MonitorID,
		Script:    req.Script,
		Platforms: req.Platforms,
		Interval:  req.Interval,
	})
	if err != nil {
		h.writeDeployError(c, err, agentID)
		return
	}

	c.JSON(http.StatusOK, dto.DeployResponse{Success: true})
}

// DeployAction registers or updates a triggerable task.
// POST /api/agents/:agentId/deploy-action
func (h *PluginHandler) DeployAction(c *gin.Context) {
	agentID := c.Param("agentId")

	var req dto.DeployActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.coordinator.DeployAction(c.Request.Context(), agentID, plugins.ActionConfig{
		PluginID:  req.PluginID,
		ActionID:  req.ActionID,
		Script:    req.Script,
		Platforms: req.Platforms,
	})
	if err != nil {
		h.writeDeployError(c, err, agentID)
		return
	}

	c.JSON(http.StatusOK, dto.DeployResponse{Success: true})
}

// TriggerAction queues one invocation of a deployed action. The trigger id
// comes back immediately; the outcome arrives later via action responses.
// POST /api/agents/:agentId/trigger-action
func (h *PluginHandler) TriggerAction(c *gin.Context) {
	agentID := c.Param("agentId")

	var req dto.TriggerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	triggerID, err := h.coordinator.TriggerAction(c.Request.Context(), agentID, req.PluginID, req.ActionID, req.Arguments)
	if err != nil {
		if errors.Is(err, plugins.ErrActionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "action not deployed"})
			return
		}
		slog.Error("Failed to trigger action", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger action"})
		return
	}

	c.JSON(http.StatusCreated, dto.TriggerActionResponse{TriggerID: triggerID})
}

// Deployments returns the agent's monitors, actions and undelivered triggers.
// GET /api/agents/:agentId/deployments
func (h *PluginHandler) Deployments(c *gin.Context) {
	agentID := c.Param("agentId")

	status, err := h.coordinator.GetDeploymentStatus(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, plugins.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		slog.Error("Failed to get deployment status", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get deployments"})
		return
	}

	resp := dto.DeploymentStatusResponse{
		Monitors:        make([]dto.MonitorResponse, len(status.Monitors)),
		Actions:         make([]dto.ActionDeploymentResponse, len(status.Actions)),
		PendingTriggers: make([]dto.TriggerResponse, len(status.PendingTriggers)),
	}
	for i, m := range status.Monitors {
		resp.Monitors[i] = dto.MonitorResponse{
			PluginID:   m.PluginID,
			MonitorID:  m.MonitorID,
			Script:     m.Script,
			Platforms:  m.Platforms,
			Interval:   m.Interval,
			DeployedAt: m.DeployedAt,
			UpdatedAt:  m.UpdatedAt,
		}
	}
	for i, a := range status.Actions {
		resp.Actions[i] = dto.ActionDeploymentResponse{
			PluginID:   a.PluginID,
			ActionID:   a.ActionID,
			Script:     a.Script,
			Platforms:  a.Platforms,
			DeployedAt: a.DeployedAt,
			UpdatedAt:  a.UpdatedAt,
		}
	}
	for i, t := range status.PendingTriggers {
		resp.PendingTriggers[i] = toTriggerResponse(t)
	}
	c.JSON(http.StatusOK, resp)
}

// RecentPluginData returns the latest monitor payloads for one plugin.
// GET /api/agents/:agentId/plugin-data/:pluginId
func (h *PluginHandler) RecentPluginData(c *gin.Context) {
	agentID := c.Param("agentId")
	pluginID := c.Param("pluginId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.coordinator.GetRecentPluginData(c.Request.Context(), agentID, pluginID, limit)
	if err != nil {
		slog.Error("Failed to get plugin data", "error", err, "agent_id", agentID, "plugin_id", pluginID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get plugin data"})
		return
	}

	responses := make([]dto.PluginDataRecordResponse, len(records))
	for i, r := range records {
		responses[i] = dto.PluginDataRecordResponse{
			ID:         r.ID,
			PluginID:   r.PluginID,
			MonitorID:  r.MonitorID,
			Payload:    r.Payload,
			ReceivedAt: r.ReceivedAt,
		}
	}
	c.JSON(http.StatusOK, dto.RecentPluginDataResponse{Records: responses, Count: len(responses)})
}

func (h *PluginHandler) writeDeployError(c *gin.Context, err error, agentID string) {
	switch {
	case errors.Is(err, plugins.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, plugins.ErrAgentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
	default:
		slog.Error("Failed to deploy plugin task", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deploy failed"})
	}
}

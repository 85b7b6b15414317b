package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
)

// PolicyHandler serves the operator-facing policy CRUD for a single agent.
type PolicyHandler struct {
	agentService *agents.Service
}

func NewPolicyHandler(agentService *agents.Service) *PolicyHandler {
	return &PolicyHandler{agentService: agentService}
}

// List returns all policies assigned to an agent.
// GET /api/agents/:agentId/policies
func (h *PolicyHandler) List(c *gin.Context) {
	agentID := c.Param("agentId")

	policies, err := h.agentService.GetPolicies(c.Request.Context(), agentID)
	if err != nil {
		slog.Error("Failed to list policies", "error", err, "agent_id", agentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list policies"})
		return
	}

	responses := make([]dto.PolicyResponse, len(policies))
	for i, p := range policies {
		responses[i] = toPolicyResponse(p)
	}
	c.JSON(http.StatusOK, dto.ListPoliciesResponse{Policies: responses, Count: len(responses)})
}

// Create assigns a new policy to an agent.
// POST /api/agents/:agentId/policies
func (h *PolicyHandler) Create(c *gin.Context) {
	agentID := c.Param("agentId")

	var req dto.CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.agentService.CreatePolicy(c.Request.Context(), agentID, agents.PolicyParams{
		Type:    req.Type,
		Name:    req.Name,
		Config:  req.Config,
		Enabled: req.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, agents.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		default:
			slog.Error("Failed to create policy", "error", err, "agent_id", agentID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create policy"})
		}
		return
	}

	slog.Info("Policy created", "agent_id", agentID, "policy_id", policy.ID, "type", policy.Type)
	c.JSON(http.StatusCreated, toPolicyResponse(policy))
}

// Update patches an existing policy. Only the fields present in the request
// change; omitted fields keep their stored value.
// PATCH /api/agents/:agentId/policies/:policyId
func (h *PolicyHandler) Update(c *gin.Context) {
	agentID := c.Param("agentId")
	policyID := c.Param("policyId")

	var req dto.UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.agentService.UpdatePolicy(c.Request.Context(), agentID, policyID, agents.PolicyParams{
		Type:    req.Type,
		Name:    req.Name,
		Config:  req.Config,
		Enabled: req.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, agents.ErrPolicyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
		default:
			slog.Error("Failed to update policy", "error", err, "agent_id", agentID, "policy_id", policyID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update policy"})
		}
		return
	}

	c.JSON(http.StatusOK, toPolicyResponse(policy))
}

// Delete removes a policy from an agent.
// DELETE /api/agents/:agentId/policies/:policyId
func (h *PolicyHandler) Delete(c *gin.Context) {
	agentID := c.Param("agentId")
	policyID := c.Param("policyId")

	if err := h.agentService.DeletePolicy(c.Request.Context(), agentID, policyID); err != nil {
		if errors.Is(err, agents.ErrPolicyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
			return
		}
		slog.Error("Failed to delete policy", "error", err, "agent_id", agentID, "policy_id", policyID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete policy"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

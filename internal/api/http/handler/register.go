package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
	"github.com/guardianware/guardian-hub/internal/auth"
)

type RegisterHandler struct {
	agentService *agents.Service
}

func NewRegisterHandler(agentService *agents.Service) *RegisterHandler {
	return &RegisterHandler{agentService: agentService}
}

// Register exchanges a registration code or installer token for a durable
// agent identity and a JWT.
// POST /api/agent/register
func (h *RegisterHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.agentService.Register(c.Request.Context(), agents.RegisterParams{
		RegistrationCode: req.RegistrationCode,
		AuthToken:        req.AuthToken,
		Info: auth.AgentInfo{
			MachineID: req.AgentInfo.MachineID,
			Hostname:  req.AgentInfo.Hostname,
			Platform:  req.AgentInfo.Platform,
			Version:   req.AgentInfo.Version,
			IP:        c.ClientIP(),
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, agents.ErrCodeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "registration code or token not found"})
		case errors.Is(err, agents.ErrCodeExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "registration code or token expired"})
		default:
			slog.Error("Agent registration failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	c.Header("X-Agent-Id", result.Agent.ID)
	c.Header("X-Agent-Token", result.Token)
	c.JSON(http.StatusCreated, dto.RegisterResponse{
		Success:  true,
		AgentID:  result.Agent.ID,
		Token:    result.Token,
		ChildID:  result.ChildID,
		Policies: toPolicyResponses(result.Policies),
	})
}

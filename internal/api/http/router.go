package http

import (
	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http/handler"
	"github.com/guardianware/guardian-hub/internal/api/http/middleware"
	"github.com/guardianware/guardian-hub/internal/auth"
	"github.com/guardianware/guardian-hub/internal/handshake"
	"github.com/guardianware/guardian-hub/internal/plugins"
)

type Services struct {
	AgentService *agents.Service
	Coordinator  *plugins.Coordinator
	Gateway      *auth.Gateway
	Handshake    *handshake.Service
}

// SetupRoute wires the three route surfaces: unauthenticated bootstrap
// endpoints, the agent-facing API behind credential auth, and the
// operator-facing internal API behind the admin key.
func SetupRoute(engine *gin.Engine, srvs *Services, config Config) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	// Handshake and registration are the bootstrap surface; an agent has no
	// credential yet when it calls them.
	handshakeHandler := handler.NewHandshakeHandler(srvs.Handshake)
	engine.GET("/api/agent/handshake", handshakeHandler.Handshake)

	registerHandler := handler.NewRegisterHandler(srvs.AgentService)
	engine.POST("/api/agent/register", registerHandler.Register)

	agentHandler := handler.NewAgentHandler(srvs.AgentService, srvs.Coordinator)
	agentAPI := engine.Group("/api/agent", middleware.AgentAuth(srvs.Gateway))
	{
		agentAPI.POST("/heartbeat", agentHandler.Heartbeat)
		agentAPI.GET("/policies", agentHandler.Policies)
		agentAPI.POST("/violations", agentHandler.ReportViolation)
		agentAPI.POST("/plugin-data", agentHandler.PluginData)
		agentAPI.POST("/plugin-action-responses", agentHandler.ActionResponses)
	}

	adminHandler := handler.NewAdminHandler(srvs.AgentService)
	policyHandler := handler.NewPolicyHandler(srvs.AgentService)
	pluginHandler := handler.NewPluginHandler(srvs.Coordinator)

	credentials := engine.Group("/api/agent", middleware.APIKeyAuth(config.AdminAPIKey))
	{
		credentials.POST("/registration-code", adminHandler.GenerateRegistrationCode)
		credentials.POST("/pending-token", adminHandler.MintBootstrapToken)
	}

	internalAPI := engine.Group("/api/agents", middleware.APIKeyAuth(config.AdminAPIKey))
	{
		internalAPI.GET("", adminHandler.ListAgents)
		internalAPI.GET("/:agentId", adminHandler.GetAgent)
		internalAPI.DELETE("/:agentId", adminHandler.DeleteAgent)

		internalAPI.GET("/:agentId/policies", policyHandler.List)
		internalAPI.POST("/:agentId/policies", policyHandler.Create)
		internalAPI.PATCH("/:agentId/policies/:policyId", policyHandler.Update)
		internalAPI.DELETE("/:agentId/policies/:policyId", policyHandler.Delete)

		internalAPI.GET("/:agentId/violations", adminHandler.ListViolations)
		internalAPI.GET("/:agentId/current-user", adminHandler.CurrentUser)
		internalAPI.GET("/:agentId/last-user", adminHandler.LastUser)
		internalAPI.GET("/:agentId/user-sessions", adminHandler.UserSessionHistory)

		internalAPI.POST("/:agentId/deploy-monitor", pluginHandler.DeployMonitor)
		internalAPI.POST("/:agentId/deploy-action", pluginHandler.DeployAction)
		internalAPI.POST("/:agentId/trigger-action", pluginHandler.TriggerAction)
		internalAPI.GET("/:agentId/deployments", pluginHandler.Deployments)
		internalAPI.GET("/:agentId/plugin-data/:pluginId", pluginHandler.RecentPluginData)
	}
}

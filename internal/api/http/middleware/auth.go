package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/auth"
)

const (
	apiKeyHeader = "X-API-Key"

	// Headers an agent may supply so bootstrap-token redemption can
	// auto-register it with real metadata.
	machineIDHeader = "X-Machine-Id"
	hostnameHeader  = "X-Hostname"
	platformHeader  = "X-Platform"
	versionHeader   = "X-Agent-Version"

	// Headers returned when a raw credential was upgraded to a JWT.
	agentTokenHeader = "X-Agent-Token"
	agentIDHeader    = "X-Agent-Id"
)

// AgentAuth resolves the bearer credential through the gateway's resolver
// chain and attaches the agent identity to the request. When the credential
// was a raw token, the freshly minted JWT is returned in X-Agent-Token so
// the agent can upgrade.
func AgentAuth(gateway *auth.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		credential := strings.TrimPrefix(header, "Bearer ")
		info := auth.AgentInfo{
			MachineID: c.GetHeader(machineIDHeader),
			Hostname:  c.GetHeader(hostnameHeader),
			Platform:  c.GetHeader(platformHeader),
			Version:   c.GetHeader(versionHeader),
			IP:        c.ClientIP(),
		}

		identity, err := gateway.Resolve(c.Request.Context(), credential, info)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				slog.Error("Credential resolution failed", "error", err, "client_ip", c.ClientIP())
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if identity.Token != "" {
			c.Header(agentTokenHeader, identity.Token)
		}
		if identity.NewAgent {
			c.Header(agentIDHeader, identity.AgentID)
		}

		c.Set("agent_id", identity.AgentID)
		c.Set("child_id", identity.ChildID)
		c.Next()
	}
}

// APIKeyAuth guards the operator/plugin-facing internal API.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			slog.Warn("Internal API key not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Internal API is not configured",
			})
			return
		}

		providedKey := c.GetHeader(apiKeyHeader)
		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			slog.Warn("Invalid API key attempt",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}

		c.Next()
	}
}

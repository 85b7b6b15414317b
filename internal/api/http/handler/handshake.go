package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/guardianware/guardian-hub/internal/api/http/dto"
	"github.com/guardianware/guardian-hub/internal/handshake"
)

type HandshakeHandler struct {
	handshakeService *handshake.Service
}

func NewHandshakeHandler(handshakeService *handshake.Service) *HandshakeHandler {
	return &HandshakeHandler{handshakeService: handshakeService}
}

// Handshake returns a signed challenge the agent verifies against the
// public key in its own config before trusting this server.
// GET /api/agent/handshake
func (h *HandshakeHandler) Handshake(c *gin.Context) {
	if h.handshakeService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "handshake service not initialized"})
		return
	}

	challenge, err := h.handshakeService.Handshake()
	if err != nil {
		slog.Error("Handshake failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate challenge"})
		return
	}

	c.JSON(http.StatusOK, dto.HandshakeResponse{
		Nonce:       challenge.Nonce,
		Timestamp:   challenge.Timestamp,
		Signature:   challenge.Signature,
		Version:     challenge.Version,
		Fingerprint: challenge.Fingerprint,
	})
}

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentToken_RoundTrip(t *testing.T) {
	config := JWTConfig{Secret: "test-secret", Issuer: "guardian-hub"}

	token, err := GenerateAgentToken(config, "agent-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateAgentToken(config, token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
	assert.Equal(t, "guardian-hub", claims.Issuer)
	assert.Equal(t, "agent-1", claims.Subject)
}

func TestValidateAgentToken_WrongSecret(t *testing.T) {
	token, err := GenerateAgentToken(JWTConfig{Secret: "secret-a"}, "agent-1")
	require.NoError(t, err)

	_, err = ValidateAgentToken(JWTConfig{Secret: "secret-b"}, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAgentToken_Garbage(t *testing.T) {
	config := JWTConfig{Secret: "test-secret"}

	_, err := ValidateAgentToken(config, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateAgentToken(config, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

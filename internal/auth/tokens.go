package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AgentTokenTTL is how long an agent JWT stays valid. Agents are expected to
// hold one identity for the lifetime of an install, so the TTL is long; the
// installer token fallback covers re-auth after expiry.
const AgentTokenTTL = 365 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type Claims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// GenerateAgentToken mints a signed JWT carrying the agent's identity.
func GenerateAgentToken(config JWTConfig, agentID string) (string, error) {
	now := time.Now()
	claims := Claims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    config.Issuer,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AgentTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateAgentToken verifies signature and expiry and returns the claims.
func ValidateAgentToken(config JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(config.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AgentID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

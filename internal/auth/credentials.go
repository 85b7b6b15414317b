package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	tokenPrefix = "gt_"
	tokenLength = 32 // 32 bytes = 256 bits

	// Registration codes avoid characters that are easy to misread when a
	// parent types them from a QR fallback: no O/0/I/1/L.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

// GenerateBootstrapToken creates the machine-grade secret embedded in a
// downloaded installer package.
func GenerateBootstrapToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateRegistrationCode creates a short human-facing code, formatted as
// XXXX-XXXX for readability.
func GenerateRegistrationCode() (string, error) {
	bytes := make([]byte, codeLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	code := make([]byte, codeLength)
	for i, b := range bytes {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}

// HashCredential computes the SHA-256 hash stored in place of any raw
// bootstrap token, registration code, or agent auth token. Registration
// codes are normalised first so "abcd-efgh" and "ABCDEFGH" hash alike.
func HashCredential(credential string) string {
	normalised := credential
	if !strings.HasPrefix(credential, tokenPrefix) {
		normalised = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(credential), "-", ""))
	}
	hash := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(hash[:])
}

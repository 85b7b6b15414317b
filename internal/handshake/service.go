// Package handshake proves the hub's authenticity to a connecting agent.
// mDNS-discovered hosts are not inherently trustworthy, so an agent asks the
// hub to sign a fresh challenge and verifies it against the public key baked
// into the agent's own config before trusting any instruction.
package handshake

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/guardianware/guardian-hub/internal/keypair"
)

const nonceLength = 32

// Challenge is a signed proof that the hub holds the private key matching
// the public key distributed with agent installers.
type Challenge struct {
	Nonce       string
	Timestamp   int64
	Signature   string
	Version     string
	Fingerprint string
}

// Service is stateless per call: the property being proven is "holds the
// private key", not "this exact exchange is unique". Agents that want replay
// resistance bind the returned timestamp to a short validity window.
type Service struct {
	keys    *keypair.Manager
	version string
}

func NewService(keys *keypair.Manager, version string) *Service {
	return &Service{keys: keys, version: version}
}

// Handshake generates a fresh challenge: a random nonce and the current
// timestamp, signed as "timestamp|nonce".
func (s *Service) Handshake() (*Challenge, error) {
	if s.keys == nil {
		return nil, keypair.ErrNotInitialized
	}

	raw := make([]byte, nonceLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := base64.StdEncoding.EncodeToString(raw)
	timestamp := time.Now().Unix()

	signature, err := s.keys.Sign(SignedMessage(timestamp, nonce))
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	fingerprint, err := s.keys.Fingerprint()
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Nonce:       nonce,
		Timestamp:   timestamp,
		Signature:   base64.StdEncoding.EncodeToString(signature),
		Version:     s.version,
		Fingerprint: fingerprint,
	}, nil
}

// SignedMessage builds the exact byte string covered by the challenge
// signature. Agents must build the identical string when verifying.
func SignedMessage(timestamp int64, nonce string) []byte {
	return []byte(fmt.Sprintf("%d|%s", timestamp, nonce))
}

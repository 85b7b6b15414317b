// Package keypair owns the hub's ed25519 identity key. Agents verify the
// hub's handshake signature against the public key embedded in their
// installer-generated config file, so the key must be stable across restarts.
package keypair

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const privateKeyPEMType = "PRIVATE KEY"

var ErrNotInitialized = errors.New("keypair not initialized")

// Manager holds the hub's signing key. Load once at startup; all methods are
// read-only afterwards and safe for concurrent use.
type Manager struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Load reads the ed25519 private key from keyPath, generating and persisting
// a new one on first run.
func Load(keyPath string) (*Manager, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return fromPEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der})

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}

	slog.Info("Generated new hub signing key", "path", keyPath)

	return &Manager{private: private, public: private.Public().(ed25519.PublicKey)}, nil
}

func fromPEM(data []byte) (*Manager, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privateKeyPEMType {
		return nil, errors.New("key file does not contain a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	private, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T, want ed25519", parsed)
	}
	return &Manager{private: private, public: private.Public().(ed25519.PublicKey)}, nil
}

// NewEphemeral generates a keypair that is never persisted. Tests only.
func NewEphemeral() (*Manager, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Manager{private: private, public: public}, nil
}

// Sign signs message with the hub's private key.
func (m *Manager) Sign(message []byte) ([]byte, error) {
	if m == nil || m.private == nil {
		return nil, ErrNotInitialized
	}
	return ed25519.Sign(m.private, message), nil
}

// Verify checks a signature produced by Sign. Agents run the equivalent
// check locally; this is exposed for tests and diagnostics.
func (m *Manager) Verify(message, signature []byte) bool {
	if m == nil || m.public == nil {
		return false
	}
	return ed25519.Verify(m.public, message, signature)
}

// PublicKey returns the raw 32-byte public key.
func (m *Manager) PublicKey() ed25519.PublicKey {
	return m.public
}

// PublicKeyBase64 returns the public key in the base64 form embedded in
// agent config files.
func (m *Manager) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(m.public)
}

// AuthorizedKey returns the public key in SSH authorized-key format
// ("ssh-ed25519 AAAA..."), the form installers write to agent configs.
func (m *Manager) AuthorizedKey() (string, error) {
	sshPub, err := ssh.NewPublicKey(m.public)
	if err != nil {
		return "", fmt.Errorf("convert public key: %w", err)
	}
	return string(ssh.MarshalAuthorizedKey(sshPub)), nil
}

// Fingerprint returns the SHA256 fingerprint of the public key, as reported
// in handshake responses so agents can log which identity they verified.
func (m *Manager) Fingerprint() (string, error) {
	sshPub, err := ssh.NewPublicKey(m.public)
	if err != nil {
		return "", fmt.Errorf("convert public key: %w", err)
	}
	return ssh.FingerprintSHA256(sshPub), nil
}

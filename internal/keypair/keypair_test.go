package keypair

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_GeneratesThenReloads(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "keys", "hub.key")

	first, err := Load(keyPath)
	require.NoError(t, err)
	require.FileExists(t, keyPath)

	second, err := Load(keyPath)
	require.NoError(t, err)

	// Same file, same identity.
	assert.Equal(t, first.PublicKeyBase64(), second.PublicKeyBase64())
}

func TestLoad_RejectsGarbageFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "hub.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("not a pem file"), 0o600))

	_, err := Load(keyPath)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	m, err := NewEphemeral()
	require.NoError(t, err)

	message := []byte("1700000000|some-nonce")
	signature, err := m.Sign(message)
	require.NoError(t, err)

	assert.True(t, m.Verify(message, signature))
	assert.False(t, m.Verify([]byte("1700000000|other-nonce"), signature))

	other, err := NewEphemeral()
	require.NoError(t, err)
	assert.False(t, other.Verify(message, signature))
}

func TestSign_Uninitialized(t *testing.T) {
	var m *Manager
	_, err := m.Sign([]byte("message"))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, m.Verify([]byte("message"), nil))
}

func TestPublicKeyFormats(t *testing.T) {
	m, err := NewEphemeral()
	require.NoError(t, err)

	authorized, err := m.AuthorizedKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authorized, "ssh-ed25519 "))

	fingerprint, err := m.Fingerprint()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fingerprint, "SHA256:"))
}

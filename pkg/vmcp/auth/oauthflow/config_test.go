package oauthflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		cfg, err := NewConfig("client-id", "secret", "https://auth.example.com/authorize", "https://auth.example.com/token", []string{"read"}, true, 8910, nil)
		require.NoError(t, err)
		assert.Equal(t, "client-id", cfg.ClientID)
		assert.True(t, cfg.UsePKCE)
	})

	t.Run("missing client id", func(t *testing.T) {
		t.Parallel()
		_, err := NewConfig("", "secret", "https://auth.example.com/authorize", "https://auth.example.com/token", nil, false, 0, nil)
		assert.ErrorContains(t, err, "client_id")
	})

	t.Run("invalid authorization url", func(t *testing.T) {
		t.Parallel()
		_, err := NewConfig("client-id", "secret", "not-a-url", "https://auth.example.com/token", nil, false, 0, nil)
		assert.Error(t, err)
	})
}

func TestConfig_AuthorizationURL(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig("client-id", "", "https://auth.example.com/authorize", "https://auth.example.com/token", []string{"read", "write"}, true, 8910, nil)
	require.NoError(t, err)
	cfg.RedirectURL = "http://localhost:8910/callback"

	pkce, err := GeneratePKCEParams()
	require.NoError(t, err)
	state, err := GenerateState()
	require.NoError(t, err)

	u, err := cfg.AuthorizationURL(state, pkce)
	require.NoError(t, err)
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "code_challenge=")
	assert.Contains(t, u, "code_challenge_method=S256")
	assert.Contains(t, u, "state="+state)
}

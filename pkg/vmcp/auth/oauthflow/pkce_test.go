package oauthflow

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCEParams(t *testing.T) {
	t.Parallel()

	params, err := GeneratePKCEParams()
	require.NoError(t, err)
	assert.NotEmpty(t, params.CodeVerifier)
	assert.NotEmpty(t, params.CodeChallenge)

	sum := sha256.Sum256([]byte(params.CodeVerifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, params.CodeChallenge)
}

func TestGeneratePKCEParams_Unique(t *testing.T) {
	t.Parallel()

	a, err := GeneratePKCEParams()
	require.NoError(t, err)
	b, err := GeneratePKCEParams()
	require.NoError(t, err)

	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
	assert.NotEqual(t, a.CodeChallenge, b.CodeChallenge)
}

func TestGenerateState(t *testing.T) {
	t.Parallel()

	a, err := GenerateState()
	require.NoError(t, err)
	assert.NotEmpty(t, a)

	b, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

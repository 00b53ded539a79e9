package strategies

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

func TestUnauthenticatedStrategy_Name(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unauthenticated", NewUnauthenticatedStrategy().Name())
}

func TestUnauthenticatedStrategy_Authenticate(t *testing.T) {
	t.Parallel()

	strategy := NewUnauthenticatedStrategy()
	req := httptest.NewRequest(http.MethodGet, "http://backend.example.com/test", nil)
	req.Header.Set("X-Custom-Header", "original-value")

	err := strategy.Authenticate(t.Context(), req, &authtypes.BackendAuthStrategy{
		Type: authtypes.StrategyTypeUnauthenticated,
	})

	assert.NoError(t, err)
	assert.Equal(t, "original-value", req.Header.Get("X-Custom-Header"))
	assert.Empty(t, req.Header.Get("Authorization"))
}

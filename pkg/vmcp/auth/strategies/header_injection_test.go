package strategies

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/health"
)

func TestHeaderInjectionStrategy_Name(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "header_injection", NewHeaderInjectionStrategy().Name())
}

func TestHeaderInjectionStrategy_Authenticate(t *testing.T) {
	t.Parallel()

	cfg := &types.BackendAuthStrategy{
		Type: types.StrategyTypeHeaderInjection,
		HeaderInjection: &types.HeaderInjectionConfig{
			HeaderName:  "X-API-Key",
			HeaderValue: "secret-key-123",
		},
	}
	strategy := NewHeaderInjectionStrategy()

	t.Run("sets header correctly", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "http://backend.example.com/test", nil)
		err := strategy.Authenticate(t.Context(), req, cfg)
		assert.NoError(t, err)
		assert.Equal(t, "secret-key-123", req.Header.Get("X-API-Key"))
	})

	t.Run("skips authentication for health checks", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "http://backend.example.com/test", nil)
		ctx := health.WithHealthCheckMarker(t.Context())
		err := strategy.Authenticate(ctx, req, cfg)
		assert.NoError(t, err)
		assert.Empty(t, req.Header.Get("X-API-Key"))
	})

	t.Run("missing config errors", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "http://backend.example.com/test", nil)
		err := strategy.Authenticate(t.Context(), req, nil)
		assert.Error(t, err)
	})
}

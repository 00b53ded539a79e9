package vmcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authtypes "github.com/stacklok/vmcp-gateway/pkg/vmcp/auth/types"
)

func TestNewImmutableRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		backends      []Backend
		expectedCount int
	}{
		{
			name: "single backend",
			backends: []Backend{
				{ID: "backend-1", Name: "GitHub MCP", HealthStatus: BackendHealthy},
			},
			expectedCount: 1,
		},
		{
			name:          "empty slice",
			backends:      []Backend{},
			expectedCount: 0,
		},
		{
			name:          "nil slice",
			backends:      nil,
			expectedCount: 0,
		},
		{
			name: "duplicate IDs - last wins",
			backends: []Backend{
				{ID: "dup", Name: "First", Metadata: map[string]string{"v": "1"}},
				{ID: "dup", Name: "Second", Metadata: map[string]string{"v": "2"}},
			},
			expectedCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			registry := NewImmutableRegistry(tt.backends)
			require.NotNil(t, registry)
			assert.Equal(t, tt.expectedCount, registry.Count())
		})
	}

	t.Run("duplicate IDs resolve to the later entry", func(t *testing.T) {
		t.Parallel()
		registry := NewImmutableRegistry([]Backend{
			{ID: "dup", Name: "First"},
			{ID: "dup", Name: "Second"},
		})
		backend := registry.Get(t.Context(), "dup")
		require.NotNil(t, backend)
		assert.Equal(t, "Second", backend.Name)
	})
}

func TestBackendRegistry_Get(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	registry := NewImmutableRegistry([]Backend{
		{
			ID:            "github-mcp",
			Name:          "GitHub MCP",
			BaseURL:       "http://localhost:8080",
			TransportType: "streamable-http",
			HealthStatus:  BackendHealthy,
			AuthConfig: &authtypes.BackendAuthStrategy{
				Type:          authtypes.StrategyTypeTokenExchange,
				TokenExchange: &authtypes.TokenExchangeConfig{Audience: "github-api"},
			},
			Metadata: map[string]string{"env": "production"},
		},
	})

	t.Run("existing backend", func(t *testing.T) {
		t.Parallel()
		b := registry.Get(ctx, "github-mcp")
		require.NotNil(t, b)
		assert.Equal(t, "GitHub MCP", b.Name)
		assert.Equal(t, "github-api", b.AuthConfig.TokenExchange.Audience)
	})

	t.Run("non-existent backend", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, registry.Get(ctx, "missing"))
	})

	t.Run("returns independent copies", func(t *testing.T) {
		t.Parallel()
		b1 := registry.Get(ctx, "github-mcp")
		b2 := registry.Get(ctx, "github-mcp")
		require.NotNil(t, b1)
		require.NotNil(t, b2)
		assert.NotSame(t, b1, b2)

		b1.Name = "Modified"
		assert.Equal(t, "GitHub MCP", b2.Name)
	})
}

func TestBackendRegistry_List(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("returns a modifiable copy", func(t *testing.T) {
		t.Parallel()
		registry := NewImmutableRegistry([]Backend{{ID: "backend-1", Name: "Backend 1"}})

		list1 := registry.List(ctx)
		list1[0].Name = "Modified"

		list2 := registry.List(ctx)
		assert.Equal(t, "Backend 1", list2[0].Name)
	})

	t.Run("empty registry returns empty, non-nil slice", func(t *testing.T) {
		t.Parallel()
		registry := NewImmutableRegistry(nil)
		result := registry.List(ctx)
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})
}

func TestImmutabilityGuarantees(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("original slice mutation does not affect registry", func(t *testing.T) {
		t.Parallel()
		backends := []Backend{{ID: "backend-1", Name: "Backend 1"}}
		registry := NewImmutableRegistry(backends)

		backends[0].Name = "Modified"

		b := registry.Get(ctx, "backend-1")
		assert.Equal(t, "Backend 1", b.Name)
	})
}

func TestBackendToTarget(t *testing.T) {
	t.Parallel()

	t.Run("nil backend yields nil target", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, BackendToTarget(nil))
	})

	t.Run("complete backend", func(t *testing.T) {
		t.Parallel()
		backend := &Backend{
			ID:            "github-mcp",
			Name:          "GitHub MCP",
			BaseURL:       "http://localhost:8080",
			TransportType: "streamable-http",
			HealthStatus:  BackendHealthy,
			AuthConfig: &authtypes.BackendAuthStrategy{
				Type:          authtypes.StrategyTypeTokenExchange,
				TokenExchange: &authtypes.TokenExchangeConfig{Audience: "github-api"},
			},
			Metadata: map[string]string{"env": "production"},
		}

		target := BackendToTarget(backend)
		require.NotNil(t, target)
		assert.Equal(t, "github-mcp", target.WorkloadID)
		assert.Equal(t, "GitHub MCP", target.WorkloadName)
		assert.Equal(t, authtypes.StrategyTypeTokenExchange, target.AuthStrategy)
		assert.False(t, target.SessionAffinity)
	})

	t.Run("minimal backend", func(t *testing.T) {
		t.Parallel()
		target := BackendToTarget(&Backend{ID: "minimal"})
		require.NotNil(t, target)
		assert.Equal(t, "minimal", target.WorkloadID)
		assert.Empty(t, target.AuthStrategy)
		assert.Nil(t, target.Metadata)
	})
}

func TestBackendTarget_GetBackendCapabilityName(t *testing.T) {
	t.Parallel()

	t.Run("returns original name when set", func(t *testing.T) {
		t.Parallel()
		target := &BackendTarget{WorkloadID: "fetch", OriginalCapabilityName: "fetch"}
		assert.Equal(t, "fetch", target.GetBackendCapabilityName("fetch_fetch"))
	})

	t.Run("returns resolved name when original is empty", func(t *testing.T) {
		t.Parallel()
		target := &BackendTarget{WorkloadID: "github"}
		assert.Equal(t, "create_issue", target.GetBackendCapabilityName("create_issue"))
	})
}

func TestNewDynamicRegistry(t *testing.T) {
	t.Parallel()
	registry := NewDynamicRegistry(nil)
	assert.Equal(t, uint64(0), registry.Version())
	assert.Equal(t, 0, registry.Count())
}

func TestDynamicRegistry_Upsert(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("insert increments version", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry(nil)
		require.NoError(t, registry.Upsert(Backend{ID: "b1", Name: "Backend 1"}))
		assert.Equal(t, uint64(1), registry.Version())
		assert.Equal(t, 1, registry.Count())
	})

	t.Run("rejects empty ID", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry(nil)
		err := registry.Upsert(Backend{Name: "No ID"})
		assert.ErrorContains(t, err, "backend ID cannot be empty")
		assert.Equal(t, uint64(0), registry.Version())
	})

	t.Run("repeated identical upsert still advances version", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry(nil)
		backend := Backend{ID: "b1", Name: "Backend 1"}
		require.NoError(t, registry.Upsert(backend))
		require.NoError(t, registry.Upsert(backend))
		assert.Equal(t, uint64(2), registry.Version())
	})

	t.Run("external modification after upsert does not affect registry", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry(nil)
		backend := Backend{ID: "test", Name: "Original"}
		require.NoError(t, registry.Upsert(backend))

		backend.Name = "External Modification"

		retrieved := registry.Get(ctx, "test")
		require.NotNil(t, retrieved)
		assert.Equal(t, "Original", retrieved.Name)
	})
}

func TestDynamicRegistry_Remove(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("removes existing backend", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry([]Backend{{ID: "github-mcp", Name: "GitHub"}})
		require.NoError(t, registry.Remove("github-mcp"))
		assert.Equal(t, 0, registry.Count())
		assert.Equal(t, uint64(1), registry.Version())
		assert.Nil(t, registry.Get(ctx, "github-mcp"))
	})

	t.Run("idempotent on missing ID", func(t *testing.T) {
		t.Parallel()
		registry := NewDynamicRegistry(nil)
		require.NoError(t, registry.Remove("missing"))
		assert.Equal(t, uint64(1), registry.Version())
	})
}

func TestDomainTypes_ConflictResolutionStrategy(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ConflictResolutionStrategy("prefix"), ConflictStrategyPrefix)
	assert.Equal(t, ConflictResolutionStrategy("priority"), ConflictStrategyPriority)
	assert.Equal(t, ConflictResolutionStrategy("manual"), ConflictStrategyManual)
}

func TestDomainTypes_RoutingTable(t *testing.T) {
	t.Parallel()

	toolTarget := &BackendTarget{WorkloadID: "github-mcp"}
	table := &RoutingTable{
		Tools:     map[string]*BackendTarget{"create_pr": toolTarget},
		Resources: map[string]*BackendTarget{},
		Prompts:   map[string]*BackendTarget{},
	}

	assert.Len(t, table.Tools, 1)
	assert.Equal(t, "github-mcp", table.Tools["create_pr"].WorkloadID)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/backup"
	"github.com/S-Corkum/caching-platform/internal/cache"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/core"
	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		PlatformName: "caching-platform",
		Environment:  "test",
		Redis: config.RedisConfig{
			MaxConnections:    10,
			ConnectionTimeout: time.Second,
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
		},
		Scaling: config.ScalingConfig{
			Enabled:            true,
			MinNodes:           2,
			MaxNodes:           5,
			ScaleUpThreshold:   85,
			ScaleDownThreshold: 30,
			ScaleUpCooldown:    5 * time.Minute,
			ScaleDownCooldown:  10 * time.Minute,
			PredictionWindow:   time.Hour,
		},
		Monitoring: config.MonitoringConfig{
			MetricsInterval:     30 * time.Second,
			HealthCheckInterval: 10 * time.Second,
			AlertThresholds:     map[string]float64{"cpu_usage": 85},
		},
		Tenants: config.TenantConfig{
			DefaultMemoryMB:          512,
			DefaultRequestsPerSecond: 1000,
			DefaultConnections:       50,
		},
		API:    config.APIConfig{Enabled: true, ListenAddr: ":0"},
		Backup: config.BackupConfig{Store: "file"},
	}
}

type apiFixture struct {
	server *Server
	orch   *core.Orchestrator
	clock  *platform.FakeClock
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	logger := observability.NewNoopLogger()
	metrics := observability.NewNoopMetricsClient()
	pool := cache.NewPoolWithClient(client, cfg.Redis, logger, metrics)
	clock := platform.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	store, err := backup.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	probe := func(ctx context.Context) (monitor.SystemStats, error) {
		return monitor.SystemStats{CPUPercent: 40, MemoryPercent: 50, DiskPercent: 30}, nil
	}

	orch, err := core.NewWithOptions(context.Background(), cfg, core.Options{
		Pool:        pool,
		BackupStore: store,
		Provisioner: &scaler.RecordingProvisioner{},
		SystemProbe: probe,
	}, clock, logger, metrics)
	require.NoError(t, err)
	require.NoError(t, orch.Initialize(context.Background()))

	server := NewServer(orch, cfg, logger, metrics)
	return &apiFixture{server: server, orch: orch, clock: clock, cfg: cfg}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && json.Unmarshal(rec.Body.Bytes(), &decoded) != nil {
		decoded = nil
	}
	return rec, decoded
}

func (f *apiFixture) command(t *testing.T, token, command string, params interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	body := map[string]interface{}{"command": command}
	if params != nil {
		body["params"] = params
	}
	// The per-tenant rate limiter keys off the fake clock.
	f.clock.Advance(10 * time.Millisecond)
	return f.do(t, http.MethodPost, "/api/v1/commands", token, body)
}

func TestCommandEndpoint(t *testing.T) {
	f := newTestServer(t, nil)

	rec, resp := f.command(t, "", "create_tenant", map[string]interface{}{"name": "acme"})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, true, resp["ok"])

	rec, _ = f.command(t, "", "cache_set", map[string]interface{}{
		"tenant": "acme", "key": "greeting", "value": "hello", "ttl": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = f.command(t, "", "cache_get", map[string]interface{}{
		"tenant": "acme", "key": "greeting",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", resp["value"])
}

func TestCommandErrorMapping(t *testing.T) {
	f := newTestServer(t, nil)

	t.Run("unknown command", func(t *testing.T) {
		rec, resp := f.command(t, "", "frobnicate", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unknown_command", resp["error"])
	})

	t.Run("missing tenant", func(t *testing.T) {
		rec, resp := f.command(t, "", "cache_get", map[string]interface{}{
			"tenant": "ghost", "key": "k",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", resp["error"])
	})

	t.Run("duplicate tenant", func(t *testing.T) {
		_, resp := f.command(t, "", "create_tenant", map[string]interface{}{"name": "dup"})
		require.Equal(t, true, resp["ok"])
		rec, resp := f.command(t, "", "create_tenant", map[string]interface{}{"name": "dup"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "already_exists", resp["error"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewBufferString(`{`))
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	f := newTestServer(t, nil)

	// Populate the monitor's component checks before asking for health.
	_, resp := f.command(t, "", "health_check", nil)
	require.Equal(t, true, resp["ok"])

	rec, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["healthy"])

	rec, body = f.do(t, http.MethodGet, "/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "caching-platform", body["platform"])
}

func TestMetricsEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.Metrics = config.MetricsConfig{Enabled: true, Namespace: "caching_platform"}

	logger := observability.NewNoopLogger()
	prom := observability.NewPrometheusMetricsClient("caching_platform", "api", nil)
	pool := cache.NewPoolWithClient(client, cfg.Redis, logger, prom)
	clock := platform.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	store, err := backup.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	orch, err := core.NewWithOptions(context.Background(), cfg, core.Options{
		Pool:        pool,
		BackupStore: store,
		Provisioner: &scaler.RecordingProvisioner{},
		SystemProbe: func(ctx context.Context) (monitor.SystemStats, error) {
			return monitor.SystemStats{CPUPercent: 40}, nil
		},
	}, clock, logger, prom)
	require.NoError(t, err)
	require.NoError(t, orch.Initialize(context.Background()))

	server := NewServer(orch, cfg, logger, prom)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	f := newTestServer(t, func(cfg *config.Config) {
		cfg.Security = config.SecurityConfig{
			AuthenticationEnabled: true,
			JWTSecret:             "test-secret",
			JWTExpiryHours:        1,
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec, _ := f.command(t, "", "list_tenants", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec, _ := f.command(t, "not-a-jwt", "list_tenants", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTValidator("different-secret", 1)
		token, err := other.GenerateToken("ops", "", nil)
		require.NoError(t, err)
		rec, _ := f.command(t, token, "list_tenants", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := f.server.validator.GenerateToken("ops", "acme", []string{"admin"})
		require.NoError(t, err)
		rec, resp := f.command(t, token, "list_tenants", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, resp["ok"])
	})

	t.Run("health stays public", func(t *testing.T) {
		rec, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
		assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestJWTValidator(t *testing.T) {
	v := NewJWTValidator("s3cret", 1)

	token, err := v.GenerateToken("alice", "acme", []string{"admin"})
	require.NoError(t, err)

	claims, err := v.ValidateHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	_, err = v.ValidateHeader("")
	assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))

	_, err = v.ValidateHeader("Basic dXNlcg==")
	assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))
}

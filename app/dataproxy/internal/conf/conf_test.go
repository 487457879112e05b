package conf

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/xdooria-dal/pkg/compress"
	"github.com/lk2023060901/xdooria-dal/pkg/config"
	"github.com/lk2023060901/xdooria-dal/pkg/database/adapter"
	"github.com/lk2023060901/xdooria-dal/pkg/database/pool"
	"github.com/lk2023060901/xdooria-dal/pkg/otel"
	"github.com/lk2023060901/xdooria-dal/pkg/router"
	"github.com/lk2023060901/xdooria-dal/pkg/serializer"
)

func loadSample(t *testing.T) *Config {
	t.Helper()
	l := config.NewLoader()
	require.NoError(t, l.LoadFile(filepath.Join("..", "..", "config.yaml"), "yaml"))
	var cfg Config
	require.NoError(t, l.Unmarshal(&cfg))
	return &cfg
}

func TestSampleConfig(t *testing.T) {
	cfg := loadSample(t)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Connections, 4)
	assert.Equal(t, adapter.ProviderPostgres, cfg.Connections[0].Provider)
	assert.Equal(t, 20, cfg.Connections[0].Pool.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Connections[0].Pool.AcquireTimeout)
	assert.Equal(t, router.StrategyFallback, cfg.Routing.Strategy)
	assert.Equal(t, "documents", cfg.Routing.EntityMapping["events"])
	require.NotNil(t, cfg.Service.Cache)
	assert.Equal(t, 10000, cfg.Service.Cache.L1.MaxSize)
	require.NotNil(t, cfg.Service.Transaction)
	assert.Equal(t, 5*time.Minute, cfg.Service.Transaction.MaxTimeout)
	require.Len(t, cfg.Service.Permission.Rules, 2)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, 6379, cfg.Redis.Standalone.Port)
	assert.True(t, cfg.Web.RateLimit.Enabled)
	assert.Equal(t, compress.Zstd, cfg.Service.Cache.L2Codec.Compression)
	assert.Equal(t, serializer.Msgpack, cfg.Service.Cache.L2Codec.Format)
	assert.Equal(t, otel.SamplerParent, cfg.Tracing.Sampler)
	assert.InDelta(t, 0.2, cfg.Tracing.Ratio, 1e-9)
	assert.False(t, cfg.Sentry.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "sub", cfg.Auth.ActorClaim)
}

func TestPoolMinSizeZero(t *testing.T) {
	cfg := loadSample(t)
	require.NotNil(t, cfg.Connections[1].Pool.MinSize)
	assert.Equal(t, 0, *cfg.Connections[1].Pool.MinSize)

	merged, err := pool.MergeConfig(pool.DefaultConfig(), &cfg.Connections[1].Pool)
	require.NoError(t, err)
	require.NoError(t, merged.Validate())
	assert.Equal(t, 0, merged.Min(), "explicit zero is not replaced by the default")

	// 未填写时使用默认值
	merged, err = pool.MergeConfig(pool.DefaultConfig(), &pool.Config{MaxSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Min())
	assert.Equal(t, 5, merged.ReconnectAttempts())
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DAL_ROUTING_STRATEGY", "ROUND_ROBIN")
	cfg := loadSample(t)
	assert.Equal(t, router.StrategyRoundRobin, cfg.Routing.Strategy)
}

func TestValidateCrossReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"duplicate connection", func(c *Config) { c.Connections = append(c.Connections, c.Connections[0]) }},
		{"unknown primary", func(c *Config) { c.Routing.Primary = "ghost" }},
		{"unknown fallback", func(c *Config) { c.Routing.Fallbacks = []string{"ghost"} }},
		{"unknown mapping", func(c *Config) { c.Routing.EntityMapping["orders"] = "ghost" }},
		{"bad strategy", func(c *Config) { c.Routing.Strategy = "RANDOM" }},
		{"no connections", func(c *Config) { c.Connections = nil }},
		{"rest without base url", func(c *Config) { c.Connections[3].BaseURL = "" }},
		{"kafka sink without kafka", func(c *Config) {
			c.Service.Audit.Sink = "kafka"
			c.Kafka = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadSample(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRoutingWatcher(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "config.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, src, 0o644))

	w, err := config.NewWatcher[router.RoutingConfig](path, "yaml", RoutingKey)
	require.NoError(t, err)
	assert.Equal(t, "main", w.GetConfig().Primary)

	var latest atomic.Pointer[router.RoutingConfig]
	w.OnChange(func(r *router.RoutingConfig) { latest.Store(r) })

	updated := []byte("routing:\n  strategy: ROUND_ROBIN\n  primary: reporting\n  fallbacks: [main]\n")
	require.NoError(t, os.WriteFile(path, updated, 0o644))
	require.NoError(t, w.Reload())

	require.Eventually(t, func() bool {
		r := latest.Load()
		return r != nil && r.Primary == "reporting" && r.Strategy == router.StrategyRoundRobin
	}, time.Second, 10*time.Millisecond)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 1000, cfg.FeedRetention)
	assert.Equal(t, 20, cfg.BackfillLimit)
	assert.Equal(t, 120*time.Second, cfg.CacheTTL)
	assert.Equal(t, 800*time.Millisecond, cfg.HydrateTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEED_BACKEND", "pebble")
	t.Setenv("GRAPH_BACKEND", " neo4j ")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("FEED_RETENTION", "50")
	t.Setenv("BACKFILL_LIMIT", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()
	assert.Equal(t, "pebble", cfg.FeedBackend)
	assert.Equal(t, "neo4j", cfg.GraphBackend)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.FeedRetention)
	assert.Equal(t, 20, cfg.BackfillLimit, "unparsable value falls back to default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsOrigins)
	assert.True(t, cfg.UsesPebble())
	assert.False(t, cfg.UsesPostgres())
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.FeedBackend = "cassandra"
	cfg.CacheBackend = "memcached"
	cfg.FanoutConcurrency = 0
	cfg.CacheTTL = 0
	cfg.Env = "prod"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"FEED_BACKEND", "CACHE_BACKEND", "FANOUT_CONCURRENCY", "CACHE_TTL", "JWT_PUBLIC_KEY_PATH"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRequiresJWTKeyOutsideLocal(t *testing.T) {
	t.Setenv("JWT_PUBLIC_KEY_PATH", "")
	for _, env := range []string{"staging", "prod", "dev"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv("APP_ENV", env)
			err := Load().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "JWT_PUBLIC_KEY_PATH")
		})
	}

	t.Setenv("APP_ENV", "local")
	require.NoError(t, Load().Validate())

	t.Setenv("APP_ENV", "staging")
	t.Setenv("JWT_PUBLIC_KEY_PATH", "/etc/timeline/jwt.pem")
	require.NoError(t, Load().Validate())
}

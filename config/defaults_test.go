package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, WorkshopConfig{}, cfg.Workshop)
	assert.NotEqual(t, StoreConfig{}, cfg.Store)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultWorkshopConfig(t *testing.T) {
	cfg := DefaultWorkshopConfig()
	assert.Equal(t, 2200*time.Millisecond, cfg.RoundDelay)
	assert.Equal(t, 2, cfg.MemoryWindow)
	assert.Equal(t, "Start.", cfg.SeedText)
	assert.Equal(t, "discussion in progress", cfg.BackgroundPlaceholder)
	assert.Zero(t, cfg.ProviderTimeout)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestDefaultStoreConfig(t *testing.T) {
	cfg := DefaultStoreConfig()
	assert.Equal(t, "memory", cfg.Type)
	assert.Equal(t, "nexus:", cfg.KeyPrefix)
	assert.Positive(t, cfg.MaxRetries)
	assert.True(t, cfg.SeedDefaultAgents)
}

func TestDefaultLLMConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "v1beta", cfg.APIVersion)
	assert.Contains(t, cfg.Models, cfg.DefaultModel)
	assert.Len(t, cfg.Models, 3)
	assert.InDelta(t, 0.95, cfg.TopP, 0.0001)
	assert.InDelta(t, 40, cfg.TopK, 0.0001)
	assert.Equal(t, 4000, cfg.ThinkingCap)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogAndTelemetryConfig(t *testing.T) {
	log := DefaultLogConfig()
	assert.Equal(t, "info", log.Level)
	assert.Equal(t, []string{"stdout"}, log.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "nexus", tel.ServiceName)
}

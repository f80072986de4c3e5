package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, DirectoryPostgres, cfg.DirectoryBackend)
	assert.Equal(t, "all-minilm", cfg.EmbeddingModel)
	assert.Equal(t, 384, cfg.EmbeddingDimension)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLMModel)
	assert.Equal(t, time.Hour, cfg.ConversationTTL)
	assert.False(t, cfg.TelephonyEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DIRECTORY_BACKEND", "memory")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("VONAGE_APPLICATION_ID", "app")
	t.Setenv("VONAGE_PRIVATE_KEY_PATH", "/tmp/key.pem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DirectoryMemory, cfg.DirectoryBackend)
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.True(t, cfg.TelephonyEnabled())
}

func TestValidate_RejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"directory", func(c *Config) { c.DirectoryBackend = "redis" }},
		{"embedding", func(c *Config) { c.EmbeddingProvider = "sbert" }},
		{"reranker", func(c *Config) { c.RerankerProvider = "bm25" }},
		{"conversation", func(c *Config) { c.ConversationBackend = "s3" }},
		{"dimension", func(c *Config) { c.EmbeddingDimension = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				DirectoryBackend:    DirectoryMemory,
				EmbeddingProvider:   EmbeddingOllama,
				RerankerProvider:    RerankerCrossEncoder,
				ConversationBackend: ConversationMemory,
				EmbeddingDimension:  384,
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

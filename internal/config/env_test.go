package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://kb:kb@localhost:5432/kb")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.Ingest.ChunkMaxTokens)
	assert.Equal(t, 50, cfg.Ingest.ChunkOverlapTokens)
	assert.Equal(t, "ita", cfg.Ingest.OCRLanguage)
	assert.InDelta(t, 0.4, cfg.Retrieval.WeightFTS, 1e-9)
	assert.InDelta(t, 0.4, cfg.Retrieval.WeightVector, 1e-9)
	assert.InDelta(t, 0.2, cfg.Retrieval.WeightRecency, 1e-9)
	assert.Equal(t, 3*time.Second, cfg.Retrieval.VectorTimeout)
	assert.False(t, cfg.S3Enabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://kb:kb@localhost:5432/kb")
	t.Setenv("OCR_TIMEOUT", "90s")
	t.Setenv("RECENCY_HALF_LIFE_DAYS", "30")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MAX_OCR_PAGES", "not-a-number")
	t.Setenv("RETRIEVAL_VECTOR_TIMEOUT", "750ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Ingest.OCRTimeout)
	assert.InDelta(t, 30.0, cfg.Retrieval.RecencyHalfLifeDays, 1e-9)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CorsOrigins)
	assert.Equal(t, 750*time.Millisecond, cfg.Retrieval.VectorTimeout)
	assert.Equal(t, 40, cfg.Ingest.MaxOCRPages, "invalid ints fall back to the default")
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate_RejectsBadPolicy(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL: "postgres://x",
			EmbedDim:    768,
			Ingest:      IngestSettings{ChunkMaxTokens: 100, ChunkOverlapTokens: 10, Concurrency: 2},
			Retrieval:   RetrievalSettings{RecencyHalfLifeDays: 10, WeightFTS: 1},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Ingest.ChunkOverlapTokens = 100
	assert.Error(t, c.Validate())

	c = base()
	c.Retrieval.WeightFTS = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Retrieval.WeightVector = -1
	assert.Error(t, c.Validate())
}

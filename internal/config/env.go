package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	Port         string
	CorsOrigins  []string
	JWTSecret    string
	LogLevel     string
	LogFormat    string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	RedisAddr    string
	RedisDB      int

	QueryCacheTTL time.Duration

	AIAPIKey        string
	EmbedModel      string
	EmbedDim        int
	EmbedBatchSize  int
	EmbedTimeout    time.Duration
	EmbedMaxRetries int
	EmbedRPS        float64

	Ingest    IngestSettings
	Retrieval RetrievalSettings
}

// IngestSettings are the policy knobs of extraction, chunking and the quality gate.
type IngestSettings struct {
	ChunkMaxTokens       int
	ChunkOverlapTokens   int
	MinQuality           float64
	MinTextRunes         int
	MaxGarbageRatio      float64
	JunkChunkThreshold   float64
	PageQualityThreshold float64
	ScanQualityThreshold float64
	OCRSampleDepth       int
	MaxOCRPages          int
	OCRTimeout           time.Duration
	OCRLanguage          string
	OCRDPI               int
	DocumentTimeout      time.Duration
	Concurrency          int
	FetchTimeout         time.Duration
	FetchMaxBytes        int64
	FetchRPS             float64
}

// RetrievalSettings hold the fusion defaults.
type RetrievalSettings struct {
	RecencyHalfLifeDays float64
	WeightFTS           float64
	WeightVector        float64
	WeightRecency       float64
	CandidateMultiplier int
	VectorTimeout       time.Duration
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		Port:         getEnv("PORT", "8080"),
		CorsOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "eu-south-1"),
		BucketName:   getEnv("BUCKET_NAME", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),

		QueryCacheTTL: getEnvDuration("QUERY_CACHE_TTL", 24*time.Hour),

		AIAPIKey:        getEnv("GEMINI_API_KEY", ""),
		EmbedModel:      getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:        getEnvInt("EMBED_DIM", 768),
		EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 64),
		EmbedTimeout:    getEnvDuration("EMBED_TIMEOUT", 60*time.Second),
		EmbedMaxRetries: getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRPS:        getEnvFloat("EMBED_RPS", 5),

		Ingest: IngestSettings{
			ChunkMaxTokens:       getEnvInt("CHUNK_MAX_TOKENS", 512),
			ChunkOverlapTokens:   getEnvInt("CHUNK_OVERLAP_TOKENS", 50),
			MinQuality:           getEnvFloat("MIN_QUALITY", 0.4),
			MinTextRunes:         getEnvInt("MIN_TEXT_RUNES", 200),
			MaxGarbageRatio:      getEnvFloat("MAX_GARBAGE_RATIO", 0.3),
			JunkChunkThreshold:   getEnvFloat("JUNK_CHUNK_THRESHOLD", 0.35),
			PageQualityThreshold: getEnvFloat("PAGE_QUALITY_THRESHOLD", 0.5),
			ScanQualityThreshold: getEnvFloat("SCAN_QUALITY_THRESHOLD", 0.6),
			OCRSampleDepth:       getEnvInt("OCR_SAMPLE_DEPTH", 5),
			MaxOCRPages:          getEnvInt("MAX_OCR_PAGES", 40),
			OCRTimeout:           getEnvDuration("OCR_TIMEOUT", 5*time.Minute),
			OCRLanguage:          getEnv("OCR_LANGUAGE", "ita"),
			OCRDPI:               getEnvInt("OCR_DPI", 200),
			DocumentTimeout:      getEnvDuration("DOCUMENT_TIMEOUT", 10*time.Minute),
			Concurrency:          getEnvInt("INGEST_CONCURRENCY", 4),
			FetchTimeout:         getEnvDuration("FETCH_TIMEOUT", 45*time.Second),
			FetchMaxBytes:        int64(getEnvInt("FETCH_MAX_BYTES", 50<<20)),
			FetchRPS:             getEnvFloat("FETCH_RPS", 2),
		},

		Retrieval: RetrievalSettings{
			RecencyHalfLifeDays: getEnvFloat("RECENCY_HALF_LIFE_DAYS", 365),
			WeightFTS:           getEnvFloat("WEIGHT_FTS", 0.4),
			WeightVector:        getEnvFloat("WEIGHT_VECTOR", 0.4),
			WeightRecency:       getEnvFloat("WEIGHT_RECENCY", 0.2),
			CandidateMultiplier: getEnvInt("CANDIDATE_MULTIPLIER", 4),
			VectorTimeout:       getEnvDuration("RETRIEVAL_VECTOR_TIMEOUT", 3*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	in := c.Ingest
	if in.ChunkMaxTokens <= 0 {
		return fmt.Errorf("CHUNK_MAX_TOKENS must be positive, got %d", in.ChunkMaxTokens)
	}
	if in.ChunkOverlapTokens < 0 || in.ChunkOverlapTokens >= in.ChunkMaxTokens {
		return fmt.Errorf("CHUNK_OVERLAP_TOKENS must be in [0, %d), got %d", in.ChunkMaxTokens, in.ChunkOverlapTokens)
	}
	if in.Concurrency <= 0 {
		return fmt.Errorf("INGEST_CONCURRENCY must be positive, got %d", in.Concurrency)
	}
	r := c.Retrieval
	if r.RecencyHalfLifeDays <= 0 {
		return fmt.Errorf("RECENCY_HALF_LIFE_DAYS must be positive, got %v", r.RecencyHalfLifeDays)
	}
	if r.WeightFTS < 0 || r.WeightVector < 0 || r.WeightRecency < 0 || r.WeightFTS+r.WeightVector+r.WeightRecency <= 0 {
		return fmt.Errorf("retrieval weights must be non-negative with a positive sum")
	}
	return nil
}

// S3Enabled reports whether the raw source archive can be configured.
func (c *Config) S3Enabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a float, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("env value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config defines the parrot server configuration schema and the
// helpers that load, validate and hot-reload it.
package config

import "time"

// LogLevel controls log verbosity for the parrot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects the implementation behind a dialogue store.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendPostgres StoreBackend = "postgres"
	BackendMongo    StoreBackend = "mongo"
	BackendRedis    StoreBackend = "redis"
)

// Config is the root configuration structure for parrot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Providers  ProvidersConfig   `yaml:"providers"`
	Stores     StoresConfig      `yaml:"stores"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	Generation GenerationConfig  `yaml:"generation"`
	WriteBack  WriteBackConfig   `yaml:"write_back"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Characters []CharacterConfig `yaml:"characters"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TrustForwardedFor makes the rate limiter key clients by the first
	// X-Forwarded-For entry. Enable only behind a trusted reverse proxy.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// ShutdownTimeout bounds graceful shutdown, including the drain of
	// pending write-backs.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the language model and embedding providers. Each
// entry names a provider registered in the [Registry]. Fallbacks are tried in
// order when the primary fails or its circuit breaker is open.
type ProvidersConfig struct {
	LLM                ProviderEntry   `yaml:"llm"`
	LLMFallbacks       []ProviderEntry `yaml:"llm_fallbacks"`
	Embeddings         ProviderEntry   `yaml:"embeddings"`
	EmbeddingFallbacks []ProviderEntry `yaml:"embedding_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// StoresConfig selects the lexical and vector store backends.
type StoresConfig struct {
	// Lexical is one of memory, postgres or mongo.
	Lexical StoreBackend `yaml:"lexical"`

	// Vector is one of memory or postgres.
	Vector StoreBackend `yaml:"vector"`

	// PostgresDSN is required when either backend is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MongoURI and MongoDatabase are required when the lexical backend is mongo.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// EmbeddingDimensions is the vector column width used by migrations.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// ConnectAttempts and ConnectDelay control the startup connection retry.
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`

	// AutoMigrate applies the postgres schema on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RetrievalConfig tunes the cache lookup path.
type RetrievalConfig struct {
	// MaxDistance is the cosine distance cutoff for semantic matches.
	MaxDistance float64 `yaml:"max_distance"`

	// Limit caps the number of semantic candidates considered.
	Limit int `yaml:"limit"`

	// MinLengthRatio discards candidates whose length differs too much from
	// the incoming message. The comparison is strict.
	MinLengthRatio float64 `yaml:"min_length_ratio"`

	LexicalTimeout time.Duration `yaml:"lexical_timeout"`
	EmbedTimeout   time.Duration `yaml:"embed_timeout"`
	VectorTimeout  time.Duration `yaml:"vector_timeout"`

	// EmbeddingCacheTTL memoises embeddings of identical messages. Zero
	// disables the cache.
	EmbeddingCacheTTL time.Duration `yaml:"embedding_cache_ttl"`
}

// GenerationConfig tunes the language model fallback.
type GenerationConfig struct {
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	MaxChars    int           `yaml:"max_chars"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WriteBackConfig tunes the asynchronous cache write after generation.
type WriteBackConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Backend is memory or redis.
	Backend StoreBackend `yaml:"backend"`

	// RedisURL is required when Backend is redis.
	RedisURL string `yaml:"redis_url"`

	// Limit is the number of requests allowed per Window.
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`

	// SweepInterval controls how often the memory backend evicts idle
	// clients. Ignored by redis, whose keys expire on their own.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CharacterConfig is a configured character persona. The special name
// "_default" replaces the template used for unknown characters.
type CharacterConfig struct {
	Name        string `yaml:"name"`
	Personality string `yaml:"personality"`
}

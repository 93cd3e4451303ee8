package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama", "huggingface"},
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr      = ":3000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxDistance    = 0.35
	DefaultLimit          = 5
	DefaultMinLengthRatio = 0.5
	DefaultLexicalTimeout = 2 * time.Second
	DefaultEmbedTimeout   = 5 * time.Second
	DefaultVectorTimeout  = 3 * time.Second

	DefaultMaxTokens   = 150
	DefaultTemperature = 0.9
	DefaultMaxChars    = 500
	DefaultGenTimeout  = 30 * time.Second

	DefaultWriteBackTimeout = 10 * time.Second
	DefaultWriteBackTries   = 3
	DefaultWriteBackBackoff = 200 * time.Millisecond

	DefaultRateLimit     = 20
	DefaultRateWindow    = time.Minute
	DefaultSweepInterval = time.Minute

	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 5 * time.Second
	DefaultMongoDatabase   = "parrot"
)

// envRef matches ${NAME} references. Bare $NAME is left alone so prompts may
// contain dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments it reads ".env" in the working
// directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// fills defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces every ${NAME} in s with the value of the environment
// variable NAME. Unset variables expand to the empty string.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	st := &cfg.Stores
	if st.Lexical == "" {
		st.Lexical = BackendMemory
	}
	if st.Vector == "" {
		st.Vector = BackendMemory
	}
	if st.MongoDatabase == "" {
		st.MongoDatabase = DefaultMongoDatabase
	}
	if st.ConnectAttempts == 0 {
		st.ConnectAttempts = DefaultConnectAttempts
	}
	if st.ConnectDelay == 0 {
		st.ConnectDelay = DefaultConnectDelay
	}

	rt := &cfg.Retrieval
	if rt.MaxDistance == 0 {
		rt.MaxDistance = DefaultMaxDistance
	}
	if rt.Limit == 0 {
		rt.Limit = DefaultLimit
	}
	if rt.MinLengthRatio == 0 {
		rt.MinLengthRatio = DefaultMinLengthRatio
	}
	if rt.LexicalTimeout == 0 {
		rt.LexicalTimeout = DefaultLexicalTimeout
	}
	if rt.EmbedTimeout == 0 {
		rt.EmbedTimeout = DefaultEmbedTimeout
	}
	if rt.VectorTimeout == 0 {
		rt.VectorTimeout = DefaultVectorTimeout
	}

	g := &cfg.Generation
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.Temperature == 0 {
		g.Temperature = DefaultTemperature
	}
	if g.MaxChars == 0 {
		g.MaxChars = DefaultMaxChars
	}
	if g.Timeout == 0 {
		g.Timeout = DefaultGenTimeout
	}

	w := &cfg.WriteBack
	if w.Timeout == 0 {
		w.Timeout = DefaultWriteBackTimeout
	}
	if w.MaxAttempts == 0 {
		w.MaxAttempts = DefaultWriteBackTries
	}
	if w.InitialBackoff == 0 {
		w.InitialBackoff = DefaultWriteBackBackoff
	}

	rl := &cfg.RateLimit
	if rl.Backend == "" {
		rl.Backend = BackendMemory
	}
	if rl.Limit == 0 {
		rl.Limit = DefaultRateLimit
	}
	if rl.Window == 0 {
		rl.Window = DefaultRateWindow
	}
	if rl.SweepInterval == 0 {
		rl.SweepInterval = DefaultSweepInterval
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	p := cfg.Providers
	if p.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; uncached messages will fail")
	}
	if p.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; semantic lookup is disabled")
	}
	validateProviderName("llm", p.LLM.Name)
	validateProviderName("embeddings", p.Embeddings.Name)
	for i, fb := range p.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range p.EmbeddingFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embedding_fallbacks[%d].name is required", i))
		}
		validateProviderName("embeddings", fb.Name)
	}

	st := cfg.Stores
	switch st.Lexical {
	case "", BackendMemory, BackendPostgres, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("stores.lexical %q is invalid; valid values: memory, postgres, mongo", st.Lexical))
	}
	switch st.Vector {
	case "", BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("stores.vector %q is invalid; valid values: memory, postgres", st.Vector))
	}
	if (st.Lexical == BackendPostgres || st.Vector == BackendPostgres) && st.PostgresDSN == "" {
		errs = append(errs, errors.New("stores.postgres_dsn is required when a postgres backend is selected"))
	}
	if st.Lexical == BackendMongo && st.MongoURI == "" {
		errs = append(errs, errors.New("stores.mongo_uri is required when stores.lexical is mongo"))
	}
	if st.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("stores.embedding_dimensions must not be negative, got %d", st.EmbeddingDimensions))
	}
	if st.Vector == BackendPostgres && st.AutoMigrate && st.EmbeddingDimensions == 0 {
		errs = append(errs, errors.New("stores.embedding_dimensions is required when stores.auto_migrate is set"))
	}

	rt := cfg.Retrieval
	if rt.MaxDistance < 0 || rt.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("retrieval.max_distance must be within [0, 2], got %v", rt.MaxDistance))
	}
	if rt.Limit < 0 {
		errs = append(errs, fmt.Errorf("retrieval.limit must not be negative, got %d", rt.Limit))
	}
	if rt.MinLengthRatio < 0 || rt.MinLengthRatio >= 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_length_ratio must be within [0, 1), got %v", rt.MinLengthRatio))
	}
	for name, d := range map[string]time.Duration{
		"retrieval.lexical_timeout":     rt.LexicalTimeout,
		"retrieval.embed_timeout":       rt.EmbedTimeout,
		"retrieval.vector_timeout":      rt.VectorTimeout,
		"retrieval.embedding_cache_ttl": rt.EmbeddingCacheTTL,
		"generation.timeout":            cfg.Generation.Timeout,
		"write_back.timeout":            cfg.WriteBack.Timeout,
		"rate_limit.window":             cfg.RateLimit.Window,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}

	g := cfg.Generation
	if g.MaxChars < 0 || g.MaxChars > 500 {
		errs = append(errs, fmt.Errorf("generation.max_chars must be within [0, 500], got %d", g.MaxChars))
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature must be within [0, 2], got %v", g.Temperature))
	}
	if g.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens must not be negative, got %d", g.MaxTokens))
	}

	if cfg.WriteBack.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("write_back.max_attempts must not be negative, got %d", cfg.WriteBack.MaxAttempts))
	}

	rl := cfg.RateLimit
	switch rl.Backend {
	case "", BackendMemory:
	case BackendRedis:
		if rl.RedisURL == "" {
			errs = append(errs, errors.New("rate_limit.redis_url is required when rate_limit.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is invalid; valid values: memory, redis", rl.Backend))
	}
	if rl.Limit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.limit must not be negative, got %d", rl.Limit))
	}

	seen := make(map[string]int, len(cfg.Characters))
	for i, c := range cfg.Characters {
		prefix := fmt.Sprintf("characters[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if strings.TrimSpace(c.Personality) == "" {
			errs = append(errs, fmt.Errorf("%s.personality is required", prefix))
		}
		key := dialogue.NormalizeCharacter(c.Name)
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates characters[%d]", prefix, c.Name, j))
			continue
		}
		seen[key] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

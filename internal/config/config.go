package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
)

// Environment variables that override file settings
const (
	EnvDBPath   = "DOCSEARCH_DB_PATH"
	EnvLogLevel = "DOCSEARCH_LOG_LEVEL"
)

const (
	// DirName is the per-user directory holding config and database
	DirName = ".docsearch"
	// FileName is the config file inside DirName
	FileName = "config.toml"
	// DBFileName is the default database file inside DirName
	DBFileName = "docsearch.db"
)

// Config is the complete typed configuration
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Indexing  IndexingConfig  `toml:"indexing"`
	Search    SearchConfig    `toml:"search"`
	Log       LogConfig       `toml:"log"`
	Sources   []SourceConfig  `toml:"sources"`
}

// DatabaseConfig configures the store and its connection retries
type DatabaseConfig struct {
	Path             string `toml:"path"`
	MaxOpenAttempts  int    `toml:"max_open_attempts"`
	BusyTimeoutMS    int    `toml:"busy_timeout_ms"`
	InitialBackoffMS int    `toml:"initial_backoff_ms"`
}

// EmbeddingConfig selects and tunes the embedding provider. An empty
// provider is detected from the environment.
type EmbeddingConfig struct {
	Provider          string  `toml:"provider"`
	Model             string  `toml:"model"`
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	Dimension         int     `toml:"dimension"`
	PoolSize          int     `toml:"pool_size"`
	CacheSize         int     `toml:"cache_size"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxBatchSize      int     `toml:"max_batch_size"`
}

// IndexingConfig tunes the indexing pipeline
type IndexingConfig struct {
	BatchSize             int      `toml:"batch_size"`
	Workers               int      `toml:"workers"`
	Extensions            []string `toml:"extensions"`
	MaxFileSize           int64    `toml:"max_file_size"`
	RelationshipBatchSize int      `toml:"relationship_batch_size"`
	ReindexSchedule       string   `toml:"reindex_schedule"`
}

// SearchConfig tunes ranking and the result cache
type SearchConfig struct {
	DefaultLimit      int      `toml:"default_limit"`
	MaxLimit          int      `toml:"max_limit"`
	TopChunks         int      `toml:"top_chunks"`
	CacheSize         int      `toml:"cache_size"`
	CacheTTL          Duration `toml:"cache_ttl"`
	RelationshipBoost float64  `toml:"relationship_boost"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// SourceConfig is one documentation corpus to index
type SourceConfig struct {
	Name        string `toml:"name"`
	Root        string `toml:"root"`
	BaseURL     string `toml:"base_url"`
	Version     string `toml:"version"`
	VersionFile string `toml:"version_file"`
}

// Duration is a time.Duration written as a string such as "1h30m"
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:             DefaultDBPath(),
			MaxOpenAttempts:  storage.DefaultMaxAttempts,
			BusyTimeoutMS:    int(storage.DefaultBusyTimeout / time.Millisecond),
			InitialBackoffMS: int(storage.DefaultInitialBackoff / time.Millisecond),
		},
		Embedding: EmbeddingConfig{
			CacheSize: embedder.DefaultCacheSize,
		},
		Indexing: IndexingConfig{
			BatchSize:             indexer.DefaultBatchSize,
			Extensions:            append([]string(nil), indexer.DefaultExtensions...),
			MaxFileSize:           indexer.DefaultMaxFileSize,
			RelationshipBatchSize: indexer.DefaultRelationshipBatchSize,
		},
		Search: SearchConfig{
			DefaultLimit:      searcher.DefaultLimit,
			MaxLimit:          searcher.MaxLimit,
			TopChunks:         searcher.DefaultTopChunks,
			CacheSize:         searcher.DefaultCacheSize,
			CacheTTL:          Duration(searcher.DefaultCacheTTL),
			RelationshipBoost: searcher.DefaultRelationshipBoost,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Dir returns the per-user docsearch directory
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// DefaultDBPath returns the default database location
func DefaultDBPath() string {
	return filepath.Join(Dir(), DBFileName)
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path means DefaultPath; a missing file
// means defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file yet, run on defaults
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults without consulting the environment
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return err
	}
	return nil
}

// Encode renders the configuration as TOML
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if v := get(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := get(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := get(embedder.EnvProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}

	jina, openai, ollama := get(embedder.EnvJinaAPIKey), get(embedder.EnvOpenAIAPIKey), get(embedder.EnvOllamaHost)
	if c.Embedding.Provider == "" {
		switch {
		case jina != "":
			c.Embedding.Provider = embedder.ProviderJina
		case openai != "":
			c.Embedding.Provider = embedder.ProviderOpenAI
		case ollama != "":
			c.Embedding.Provider = embedder.ProviderOllama
		default:
			c.Embedding.Provider = embedder.ProviderLocal
		}
	}

	switch c.Embedding.Provider {
	case embedder.ProviderJina:
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = jina
		}
	case embedder.ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = openai
		}
	case embedder.ProviderOllama:
		if c.Embedding.BaseURL == "" && ollama != "" {
			c.Embedding.BaseURL = ollamaURL(ollama)
		}
	}
}

// ollamaURL accepts OLLAMA_HOST both as host:port and as a URL
func ollamaURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Database.Path == "" {
		add("database.path must be set")
	}
	if c.Database.MaxOpenAttempts <= 0 {
		add("database.max_open_attempts must be positive")
	}

	switch c.Embedding.Provider {
	case "", embedder.ProviderLocal, embedder.ProviderOllama, embedder.ProviderJina, embedder.ProviderOpenAI:
	default:
		add("embedding.provider %q is not supported", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		add("embedding.dimension must not be negative")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		add("embedding.requests_per_second must not be negative")
	}

	if c.Indexing.BatchSize <= 0 {
		add("indexing.batch_size must be positive")
	}
	if c.Indexing.Workers < 0 {
		add("indexing.workers must not be negative")
	}
	if c.Indexing.RelationshipBatchSize <= 0 {
		add("indexing.relationship_batch_size must be positive")
	}
	if c.Indexing.MaxFileSize < 0 {
		add("indexing.max_file_size must not be negative")
	}
	for _, ext := range c.Indexing.Extensions {
		if !strings.HasPrefix(ext, ".") {
			add("indexing.extensions entry %q must start with a dot", ext)
		}
	}

	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit <= 0 {
		add("search limits must be positive")
	} else if c.Search.DefaultLimit > c.Search.MaxLimit {
		add("search.default_limit %d exceeds search.max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.TopChunks <= 0 {
		add("search.top_chunks must be positive")
	}
	if c.Search.RelationshipBoost < 0 {
		add("search.relationship_boost must not be negative")
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		add("log.level %q is not a valid level", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format %q must be console or json", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			add("sources[%d].name must be set", i)
		} else if seen[src.Name] {
			add("source %q is defined more than once", src.Name)
		}
		seen[src.Name] = true
		if src.Root == "" {
			add("source %q has no root", src.Name)
		}
		if src.Version != "" && src.VersionFile != "" {
			add("source %q sets both version and version_file", src.Name)
		}
	}

	return errors.Join(errs...)
}

// Source looks up a configured source by name
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}

// SelectSources returns every source, or only the named one
func (c *Config) SelectSources(name string) ([]SourceConfig, error) {
	if name == "" {
		if len(c.Sources) == 0 {
			return nil, errors.New("no sources configured")
		}
		return c.Sources, nil
	}
	src, ok := c.Source(name)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	return []SourceConfig{src}, nil
}

// StorageOptions maps the database section onto storage.Options
func (c *Config) StorageOptions(logger *zap.Logger) storage.Options {
	return storage.Options{
		Path:           c.Database.Path,
		MaxAttempts:    c.Database.MaxOpenAttempts,
		InitialBackoff: time.Duration(c.Database.InitialBackoffMS) * time.Millisecond,
		BusyTimeout:    time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond,
		Logger:         logger,
	}
}

// EmbedderConfig maps the embedding section onto embedder.Config
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:          c.Embedding.Provider,
		Model:             c.Embedding.Model,
		BaseURL:           c.Embedding.BaseURL,
		APIKey:            c.Embedding.APIKey,
		Dimension:         c.Embedding.Dimension,
		CacheSize:         c.Embedding.CacheSize,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		MaxBatchSize:      c.Embedding.MaxBatchSize,
	}
}

// IndexerConfig maps the indexing section onto indexer.Config
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		Workers:               c.Indexing.Workers,
		BatchSize:             c.Indexing.BatchSize,
		RelationshipBatchSize: c.Indexing.RelationshipBatchSize,
		Extensions:            c.Indexing.Extensions,
		MaxFileSize:           c.Indexing.MaxFileSize,
	}
}

// SearcherConfig maps the search section onto searcher.Config
func (c *Config) SearcherConfig() searcher.Config {
	return searcher.Config{
		DefaultLimit:      c.Search.DefaultLimit,
		MaxLimit:          c.Search.MaxLimit,
		TopChunks:         c.Search.TopChunks,
		RelationshipBoost: c.Search.RelationshipBoost,
		CacheSize:         c.Search.CacheSize,
		CacheTTL:          time.Duration(c.Search.CacheTTL),
	}
}

// IndexerSource maps a source onto indexer.Source. A version_file wins
// over a fixed version; neither means the default version.
func (s SourceConfig) IndexerSource() indexer.Source {
	src := indexer.Source{
		Name:    s.Name,
		Root:    s.Root,
		BaseURL: s.BaseURL,
		Version: indexer.StaticVersion(s.Version),
	}
	if s.VersionFile != "" {
		src.Version = indexer.FileVersion{Path: s.VersionFile}
	}
	return src
}

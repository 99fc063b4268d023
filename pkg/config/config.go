// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	HTTP       HTTP       `yaml:"http"`
	Chunk      Chunk      `yaml:"chunk"`
	Embed      Embed      `yaml:"embed"`
	Store      Store      `yaml:"store"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
}

type HTTP struct {
	Port              string        `yaml:"port"`
	CORSOrigin        string        `yaml:"cors_origin"`
	UploadDir         string        `yaml:"upload_dir"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type Chunk struct {
	MaxSize int `yaml:"max_size"`
	Overlap int `yaml:"overlap"`
}

// Embed selects the embedding provider. The same provider serves ingestion
// and queries.
type Embed struct {
	Provider  string        `yaml:"provider"` // openai, ollama or hash
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"-"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	// RateLimit is embedded texts per second; zero disables throttling.
	RateLimit    float64       `yaml:"rate_limit"`
	Burst        int           `yaml:"burst"`
	BreakerFails int           `yaml:"breaker_fails"`
	BreakerOpen  time.Duration `yaml:"breaker_open"`
}

type Store struct {
	Backend      string `yaml:"backend"` // qdrant, postgres or memory
	Collection   string `yaml:"collection"`
	QdrantAddr   string `yaml:"qdrant_addr"`
	QdrantAPIKey string `yaml:"-"`
	PostgresDSN  string `yaml:"-"`
	// MemoryPath is an optional JSON snapshot for the memory backend.
	MemoryPath string `yaml:"memory_path"`
}

type Dispatcher struct {
	Kind       string `yaml:"kind"` // local or nats
	Workers    int    `yaml:"workers"`
	QueueSize  int    `yaml:"queue_size"`
	NATSURL    string `yaml:"nats_url"`
	Subject    string `yaml:"subject"`
	DLQSubject string `yaml:"dlq_subject"`
	// StatusSubject carries job status changes between processes.
	StatusSubject string `yaml:"status_subject"`
	QueueGroup    string `yaml:"queue_group"`
	// TrackerSize bounds the number of job status records kept.
	TrackerSize int `yaml:"tracker_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTP{
			Port:              "8080",
			CORSOrigin:        "*",
			UploadDir:         os.TempDir(),
			MaxUploadBytes:    32 << 20,
			AllowedExtensions: []string{".txt"},
			ShutdownTimeout:   10 * time.Second,
		},
		Chunk: Chunk{MaxSize: 1000, Overlap: 200},
		Embed: Embed{
			Provider:     "openai",
			Timeout:      60 * time.Second,
			Burst:        100,
			BreakerFails: 5,
			BreakerOpen:  30 * time.Second,
		},
		Store: Store{
			Backend:    "qdrant",
			Collection: "docustream_index",
			QdrantAddr: "localhost:6334",
		},
		Dispatcher: Dispatcher{
			Kind:          "local",
			Workers:       4,
			QueueSize:     64,
			NATSURL:       "nats://127.0.0.1:4222",
			Subject:       "docustream.ingest",
			DLQSubject:    "docustream.ingest.dlq",
			StatusSubject: "docustream.ingest.status",
			QueueGroup:    "docustream-workers",
			TrackerSize:   1024,
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// DOCUSTREAM_CONFIG is consulted. A .env file in the working directory is
// loaded into the environment first if present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("DOCUSTREAM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)

	c.HTTP.Port = envOr("PORT", c.HTTP.Port)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)
	c.HTTP.UploadDir = envOr("UPLOAD_DIR", c.HTTP.UploadDir)
	if v := os.Getenv("ALLOWED_EXTENSIONS"); v != "" {
		c.HTTP.AllowedExtensions = splitList(v)
	}

	c.Embed.Provider = envOr("EMBED_PROVIDER", c.Embed.Provider)
	c.Embed.Model = envOr("EMBED_MODEL", c.Embed.Model)
	c.Embed.BaseURL = envOr("EMBED_BASE_URL", c.Embed.BaseURL)
	c.Embed.APIKey = envOr("OPENAI_API_KEY", c.Embed.APIKey)

	c.Store.Backend = envOr("STORE_BACKEND", c.Store.Backend)
	c.Store.Collection = envOr("COLLECTION", c.Store.Collection)
	c.Store.QdrantAddr = envOr("QDRANT_URL", c.Store.QdrantAddr)
	c.Store.QdrantAPIKey = envOr("QDRANT_API_KEY", c.Store.QdrantAPIKey)
	c.Store.PostgresDSN = envOr("DATABASE_URL", c.Store.PostgresDSN)
	c.Store.MemoryPath = envOr("MEMORY_PATH", c.Store.MemoryPath)

	c.Dispatcher.Kind = envOr("DISPATCHER", c.Dispatcher.Kind)
	c.Dispatcher.NATSURL = envOr("NATS_URL", c.Dispatcher.NATSURL)

	var err error
	if c.HTTP.MaxUploadBytes, err = envInt64("MAX_UPLOAD_BYTES", c.HTTP.MaxUploadBytes); err != nil {
		return err
	}
	if c.Chunk.MaxSize, err = envInt("CHUNK_SIZE", c.Chunk.MaxSize); err != nil {
		return err
	}
	if c.Chunk.Overlap, err = envInt("CHUNK_OVERLAP", c.Chunk.Overlap); err != nil {
		return err
	}
	if c.Embed.Dimension, err = envInt("EMBED_DIMENSION", c.Embed.Dimension); err != nil {
		return err
	}
	if c.Dispatcher.Workers, err = envInt("WORKERS", c.Dispatcher.Workers); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Chunk.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk.max_size must be positive"))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap > c.Chunk.MaxSize {
		errs = append(errs, fmt.Errorf("chunk.overlap must be between 0 and max_size"))
	}
	if !oneOf(c.Embed.Provider, "openai", "ollama", "hash") {
		errs = append(errs, fmt.Errorf("embed.provider %q is not one of openai, ollama, hash", c.Embed.Provider))
	}
	if !oneOf(c.Store.Backend, "qdrant", "postgres", "memory") {
		errs = append(errs, fmt.Errorf("store.backend %q is not one of qdrant, postgres, memory", c.Store.Backend))
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("store.backend postgres needs DATABASE_URL"))
	}
	if c.Store.Collection == "" {
		errs = append(errs, fmt.Errorf("store.collection is required"))
	}
	if !oneOf(c.Dispatcher.Kind, "local", "nats") {
		errs = append(errs, fmt.Errorf("dispatcher.kind %q is not one of local, nats", c.Dispatcher.Kind))
	}
	if c.Dispatcher.Workers <= 0 {
		errs = append(errs, fmt.Errorf("dispatcher.workers must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

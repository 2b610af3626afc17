// Package config loads socialauthd settings from an optional YAML file and
// SOCIALAUTH_* environment variables. Environment variables win.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	sa "github.com/panyam/socialauth"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SOCIALAUTH_"

// FileEnvVar names the optional YAML file.
const FileEnvVar = EnvPrefix + "CONFIG_FILE"

// State store kinds.
const (
	StateStoreMemory    = "memory"
	StateStoreRedis     = "redis"
	StateStoreSQL       = "sql"
	StateStoreDatastore = "datastore"
)

type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"socialauth.db"`
	RedisURL    string `env:"REDIS_URL"`

	// DatastoreProject switches accounts to Cloud Datastore instead of the
	// SQL database.
	DatastoreProject   string `env:"DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`

	// StateStore is memory, redis, sql or datastore. Empty picks redis when
	// RedisURL is set, then datastore when DatastoreProject is, else sql.
	StateStore string `env:"STATE_STORE"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"socialauth"`
	JWTAudience string        `env:"JWT_AUDIENCE"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	StateTTL    time.Duration `env:"STATE_TTL" envDefault:"10m"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`

	SuccessURL string `env:"SUCCESS_URL" envDefault:"/auth/success"`
	ErrorURL   string `env:"ERROR_URL" envDefault:"/auth/error"`
	LinkPolicy string `env:"LINK_POLICY" envDefault:"link"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	LoginPerMinute float64       `env:"LOGIN_PER_MINUTE" envDefault:"10"`
	LoginBurst     int           `env:"LOGIN_BURST" envDefault:"5"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
}

// Load reads the YAML file named by SOCIALAUTH_CONFIG_FILE, if any, then the
// process environment, and validates the result.
func Load() (*Config, error) {
	return LoadFrom(env.ToMap(os.Environ()))
}

// LoadFrom is Load with an explicit environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	merged := map[string]string{}
	if path := environ[FileEnvVar]; path != "" {
		fromFile, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			merged[k] = v
		}
	}
	for k, v := range environ {
		merged[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: merged}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile maps top-level YAML keys onto environment names, so
// "google_client_id" sets SOCIALAUTH_GOOGLE_CLIENT_ID.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: %q must be a scalar", path, k)
		}
		out[EnvPrefix+strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < sa.MinSecretKeyLength {
		return fmt.Errorf("%sJWT_SECRET must be at least %d bytes", EnvPrefix, sa.MinSecretKeyLength)
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return fmt.Errorf("google client id and secret must be set together")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		return fmt.Errorf("github client id and secret must be set together")
	}
	if _, err := sa.ParseLinkPolicy(c.LinkPolicy); err != nil {
		return err
	}
	switch c.StateStore {
	case "", StateStoreMemory, StateStoreSQL:
	case StateStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("state store redis needs %sREDIS_URL", EnvPrefix)
		}
	case StateStoreDatastore:
		if c.DatastoreProject == "" {
			return fmt.Errorf("state store datastore needs %sDATASTORE_PROJECT", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown state store %q", c.StateStore)
	}
	if c.SessionTTL <= 0 || c.StateTTL <= 0 {
		return fmt.Errorf("session and state TTLs must be positive")
	}
	return nil
}

// StateStoreKind resolves an empty StateStore.
func (c *Config) StateStoreKind() string {
	switch {
	case c.StateStore != "":
		return c.StateStore
	case c.RedisURL != "":
		return StateStoreRedis
	case c.DatastoreProject != "":
		return StateStoreDatastore
	}
	return StateStoreSQL
}

// Providers returns the configurations for every provider with credentials.
func (c *Config) Providers() []sa.ProviderConfig {
	base := strings.TrimRight(c.BaseURL, "/")
	var out []sa.ProviderConfig
	if c.GoogleClientID != "" {
		out = append(out, sa.GoogleProvider(c.GoogleClientID, c.GoogleClientSecret, base+"/auth/google/callback"))
	}
	if c.GitHubClientID != "" {
		out = append(out, sa.GitHubProvider(c.GitHubClientID, c.GitHubClientSecret, base+"/auth/github/callback"))
	}
	return out
}

// NewLogger builds the slog logger described by LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

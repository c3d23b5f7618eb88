// Package config provides process configuration for the sqlgate server and
// the per-session configuration overlay used by the gateway core.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Session modes selectable at process start via gateway.session.mode.
const (
	// ModeMulti gives every client an isolated session.
	ModeMulti = "multi"

	// ModeSingle aliases every client handle to one shared session.
	ModeSingle = "single"
)

// Static configuration keys. These are fixed at process start and any
// runtime Set against them fails with ErrImmutableConfig.
const (
	// KeySessionMode selects single- vs multi-session deployment.
	KeySessionMode = "gateway.session.mode"

	// KeyScratchDir is the base directory for session-scoped artifacts.
	KeyScratchDir = "gateway.scratch.dir"

	// KeyServerName is the advertised server name.
	KeyServerName = "gateway.server.name"
)

// Session-scoped keys with gateway semantics.
const (
	// KeyAsyncExec enables asynchronous statement execution for a session.
	// Mutable at runtime, default "true".
	KeyAsyncExec = "gateway.operation.async"

	// KeyFetchMaxRows caps the rows returned by a single fetch.
	KeyFetchMaxRows = "gateway.fetch.max_rows"

	// KeyDefaultDatabase is the current database assigned to new sessions.
	KeyDefaultDatabase = "gateway.database.default"
)

// Config holds the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Engine EngineConfig `yaml:"engine"`
	Audit  AuditConfig  `yaml:"audit"`

	// Defaults seeds the session tier of every new overlay.
	Defaults map[string]string `yaml:"defaults"`
}

// ServerConfig configures the serving process.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Transport   string `yaml:"transport"` // "stdio", "http"
	Address     string `yaml:"address"`

	// SessionMode is "multi" (default) or "single".
	SessionMode string `yaml:"session_mode"`

	// ScratchDir is where per-session artifacts (operation logs, spill
	// pipes) are created. Defaults to the OS temp directory.
	ScratchDir string `yaml:"scratch_dir"`
}

// AuthConfig configures OpenSession authentication.
type AuthConfig struct {
	AllowAnonymous bool             `yaml:"allow_anonymous"`
	APIKeys        APIKeyAuthConfig `yaml:"api_keys"`
	JWT            JWTAuthConfig    `yaml:"jwt"`
}

// APIKeyAuthConfig configures API key authentication.
type APIKeyAuthConfig struct {
	Enabled bool        `yaml:"enabled"`
	Keys    []APIKeyDef `yaml:"keys"`
}

// APIKeyDef defines an API key. Hash is a bcrypt hash of the key value.
type APIKeyDef struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// JWTAuthConfig configures bearer token authentication.
type JWTAuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Issuer     string `yaml:"issuer"`
	SigningKey string `yaml:"signing_key"` // Base64-encoded HMAC key
}

// EngineConfig configures the query engine backend.
type EngineConfig struct {
	// Kind selects the engine: "trino" or "memory".
	Kind  string      `yaml:"kind"`
	Trino TrinoConfig `yaml:"trino"`
}

// TrinoConfig configures the Trino engine adapter.
type TrinoConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	Catalog   string        `yaml:"catalog"`
	Schema    string        `yaml:"schema"`
	SSL       bool          `yaml:"ssl"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batch_size"`
}

// AuditConfig configures the operation audit log.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// envVarPattern matches ${VAR} references in configuration values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses a configuration file, expanding ${ENV_VAR}
// references in the raw YAML before unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expanded := envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "sqlgate"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.SessionMode == "" {
		cfg.Server.SessionMode = ModeMulti
	}
	if cfg.Server.ScratchDir == "" {
		cfg.Server.ScratchDir = os.TempDir()
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "memory"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.Defaults == nil {
		cfg.Defaults = map[string]string{}
	}
	if _, ok := cfg.Defaults[KeyAsyncExec]; !ok {
		cfg.Defaults[KeyAsyncExec] = "true"
	}
}

// validate rejects configurations the server cannot run with.
func validate(cfg *Config) error {
	if cfg.Server.SessionMode != ModeMulti && cfg.Server.SessionMode != ModeSingle {
		return fmt.Errorf("invalid session_mode %q: must be %q or %q",
			cfg.Server.SessionMode, ModeMulti, ModeSingle)
	}
	if cfg.Engine.Kind != "memory" && cfg.Engine.Kind != "trino" {
		return fmt.Errorf("invalid engine kind %q: must be \"memory\" or \"trino\"", cfg.Engine.Kind)
	}
	for key := range cfg.Defaults {
		if _, static := StaticKeys(cfg)[key]; static {
			return fmt.Errorf("default for %q conflicts with a static key", key)
		}
	}
	return nil
}

// StaticKeys returns the static key tier derived from the process
// configuration. These values are fixed for the life of the process.
func StaticKeys(cfg *Config) map[string]string {
	return map[string]string{
		KeySessionMode: cfg.Server.SessionMode,
		KeyScratchDir:  cfg.Server.ScratchDir,
		KeyServerName:  cfg.Server.Name,
	}
}

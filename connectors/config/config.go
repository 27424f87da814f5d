// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the service configuration from YAML with
// environment variable expansion and overrides, and resolves connection
// credentials through a secrets manager.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/executor"
	"axonflow/sqlgate/connectors/security"
)

// Server defaults.
const (
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultSecretsCacheTTL = 5 * time.Minute
)

// Secrets providers.
const (
	SecretsProviderNone = ""
	SecretsProviderEnv  = "env"
	SecretsProviderAWS  = "aws"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig                     `yaml:"server"`
	Security    security.Policy                  `yaml:"security"`
	Pool        base.PoolOptions                 `yaml:"pool"`
	Query       QueryConfig                      `yaml:"query"`
	Log         LogConfig                        `yaml:"log"`
	Secrets     SecretsConfig                    `yaml:"secrets"`
	Connections map[string]base.ConnectionConfig `yaml:"connections"`
}

// ServerConfig configures the HTTP tool surface.
type ServerConfig struct {
	Addr               string        `yaml:"addr"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	JWTSecret          base.Secret   `yaml:"jwt_secret"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RedisURL           string        `yaml:"redis_url"`
	ShutdownTimeout    base.Duration `yaml:"shutdown_timeout"`
}

// QueryConfig bounds statement execution.
type QueryConfig struct {
	Timeout    base.Duration `yaml:"timeout"`
	MaxTimeout base.Duration `yaml:"max_timeout"`
	MaxRows    int           `yaml:"max_rows"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecretsConfig selects the secrets manager used for credentials.secret_ref.
type SecretsConfig struct {
	Provider string        `yaml:"provider"`
	Region   string        `yaml:"region"`
	CacheTTL base.Duration `yaml:"cache_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ShutdownTimeout: base.Duration(DefaultShutdownTimeout),
		},
		Security: security.DefaultPolicy(),
		Pool:     base.DefaultPoolOptions(),
		Query: QueryConfig{
			Timeout:    base.Duration(executor.DefaultQueryTimeout),
			MaxTimeout: base.Duration(executor.DefaultMaxQueryTimeout),
			MaxRows:    executor.DefaultMaxRows,
		},
		Log: LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Secrets: SecretsConfig{
			CacheTTL: base.Duration(DefaultSecretsCacheTTL),
		},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data, os.LookupEnv); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML content on top of the defaults without consulting
// the process environment for overrides.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte, lookup func(string) (string, bool)) error {
	expanded := expandEnvVars(string(data), lookup)
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, $VAR and ${VAR:-default}. Undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string, lookup func(string) (string, bool)) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value, ok := lookup(varName); ok && value != "" {
			return value
		}
		return defaultVal
	})
}

// ApplyEnv overlays the SECURITY_*, DB_*, SERVER_ADDR, JWT_SECRET,
// REDIS_URL, RATE_LIMIT_PER_MINUTE and LOG_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("SECURITY_READONLY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SECURITY_READONLY: %w", err)
		}
		c.Security.ReadonlyMode = b
	}
	if v, ok := get("SECURITY_MAX_QUERY_LENGTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SECURITY_MAX_QUERY_LENGTH: %w", err)
		}
		c.Security.MaxQueryLength = n
	}
	if v, ok := get("SECURITY_ALLOWED_OPERATIONS"); ok {
		c.Security.AllowedOperations = security.ParseList(v)
	}
	if v, ok := get("SECURITY_BLOCKED_KEYWORDS"); ok {
		c.Security.BlockedKeywords = security.ParseList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DB_POOL_MIN_SIZE", &c.Pool.MinSize},
		{"DB_POOL_MAX_SIZE", &c.Pool.MaxSize},
		{"RATE_LIMIT_PER_MINUTE", &c.Server.RateLimitPerMinute},
	}
	for _, e := range ints {
		if v, ok := get(e.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *base.Duration
	}{
		{"DB_POOL_IDLE_TIMEOUT", &c.Pool.IdleTimeout},
		{"DB_ACQUIRE_TIMEOUT", &c.Pool.AcquireTimeout},
		{"DB_QUERY_TIMEOUT", &c.Query.Timeout},
	}
	for _, e := range durations {
		if v, ok := get(e.key); ok {
			d, err := base.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = base.Duration(d)
		}
	}

	if v, ok := get("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("JWT_SECRET"); ok {
		c.Server.JWTSecret = base.Secret(v)
	}
	if v, ok := get("REDIS_URL"); ok {
		c.Server.RedisURL = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

// Validate reports configuration mistakes. Connection entries are checked
// with their map key as the id when connection_id is omitted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative")
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.Query.Timeout < 0 || c.Query.MaxTimeout < 0 {
		return fmt.Errorf("query timeouts must not be negative")
	}
	if c.Query.MaxTimeout > 0 && c.Query.Timeout > c.Query.MaxTimeout {
		return fmt.Errorf("query.timeout %s exceeds query.max_timeout %s",
			c.Query.Timeout.Std(), c.Query.MaxTimeout.Std())
	}
	if c.Query.MaxRows < 0 {
		return fmt.Errorf("query.max_rows must not be negative")
	}
	switch strings.ToLower(c.Secrets.Provider) {
	case SecretsProviderNone, SecretsProviderEnv, SecretsProviderAWS:
	default:
		return fmt.Errorf("unknown secrets provider %q", c.Secrets.Provider)
	}
	for _, conn := range c.ConnectionList() {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("connection %q: %w", base.SanitizeLogString(conn.ID), err)
		}
	}
	for key, conn := range c.Connections {
		if conn.ID != "" && conn.ID != key {
			return fmt.Errorf("connection %q: connection_id %q does not match its key", key, conn.ID)
		}
	}
	return nil
}

// ConnectionList returns the pre-declared connections sorted by id, each
// with its map key filled in as the id and pool bounds defaulted from the
// global pool section.
func (c *Config) ConnectionList() []base.ConnectionConfig {
	keys := make([]string, 0, len(c.Connections))
	for k := range c.Connections {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]base.ConnectionConfig, 0, len(keys))
	for _, k := range keys {
		conn := c.Connections[k]
		if conn.ID == "" {
			conn.ID = k
		}
		conn.Pool = conn.Pool.WithDefaults(c.Pool)
		out = append(out, conn)
	}
	return out
}

// ExecutorConfig returns the executor limits and global policy.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Policy:          c.Security,
		QueryTimeout:    c.Query.Timeout.Std(),
		MaxQueryTimeout: c.Query.MaxTimeout.Std(),
		MaxRows:         c.Query.MaxRows,
	}
}

// Redacted renders the configuration as JSON with every secret masked.
func (c *Config) Redacted() ([]byte, error) {
	out := *c
	out.Connections = make(map[string]base.ConnectionConfig, len(c.Connections))
	for k, conn := range c.Connections {
		out.Connections[k] = conn.Redacted()
	}
	return json.MarshalIndent(out, "", "  ")
}

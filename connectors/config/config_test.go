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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

const sampleYAML = `
server:
  addr: ":9090"
  cors_origins: ["https://console.example.com"]
  jwt_secret: ${JWT_SIGNING_KEY}
security:
  readonly_mode: true
  allowed_operations: [SELECT, WITH]
pool:
  min_size: 1
  max_size: 5
  acquire_timeout: 3s
query:
  timeout: 20s
  max_rows: 500
connections:
  orders:
    dialect: postgres
    host: ${ORDERS_HOST:-localhost}
    database: orders
    credentials:
      secret_ref: env:ORDERS_DB
  reports:
    dialect: mysql
    host: reports.internal
    database: reports
    credentials:
      username: reader
      password: $REPORTS_PASSWORD
    pool:
      max_size: 2
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), envMap(map[string]string{
		"JWT_SIGNING_KEY":  "signing-key",
		"REPORTS_PASSWORD": "pw",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "signing-key", cfg.Server.JWTSecret.Reveal())
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout.Std())

	assert.True(t, cfg.Security.ReadonlyMode)
	assert.Equal(t, []string{"SELECT", "WITH"}, cfg.Security.AllowedOperations)
	assert.Equal(t, []string{"DROP", "TRUNCATE", "ALTER"}, cfg.Security.BlockedKeywords, "unset lists keep defaults")
	assert.True(t, cfg.Security.CheckDangerousPatterns)

	assert.Equal(t, 3*time.Second, cfg.Pool.AcquireTimeout.Std())
	assert.Equal(t, base.DefaultIdleTimeout, cfg.Pool.IdleTimeout.Std())

	ec := cfg.ExecutorConfig()
	assert.Equal(t, 20*time.Second, ec.QueryTimeout)
	assert.Equal(t, 5*time.Minute, ec.MaxQueryTimeout)
	assert.Equal(t, 500, ec.MaxRows)

	conns := cfg.ConnectionList()
	require.Len(t, conns, 2)
	assert.Equal(t, "orders", conns[0].ID)
	assert.Equal(t, "localhost", conns[0].Host)
	assert.Equal(t, "env:ORDERS_DB", conns[0].Credentials.SecretRef)
	assert.Equal(t, 1, conns[0].Pool.MinSize)
	assert.Equal(t, 5, conns[0].Pool.MaxSize)

	assert.Equal(t, "reports", conns[1].ID)
	assert.Equal(t, "pw", conns[1].Credentials.Password.Reveal())
	assert.Equal(t, 2, conns[1].Pool.MaxSize)
	assert.Equal(t, 3*time.Second, conns[1].Pool.AcquireTimeout.Std())
}

func TestExpandEnvVars(t *testing.T) {
	lookup := envMap(map[string]string{"HOST": "db", "EMPTY": ""})
	tests := []struct {
		in   string
		want string
	}{
		{"host: ${HOST}", "host: db"},
		{"host: $HOST", "host: db"},
		{"host: ${MISSING:-fallback}", "host: fallback"},
		{"host: ${EMPTY:-fallback}", "host: fallback"},
		{"host: ${MISSING}", "host: "},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in, lookup); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SECURITY_READONLY":           "true",
		"SECURITY_MAX_QUERY_LENGTH":   "2048",
		"SECURITY_ALLOWED_OPERATIONS": `["SELECT","WITH"]`,
		"SECURITY_BLOCKED_KEYWORDS":   "DROP, GRANT",
		"DB_POOL_MIN_SIZE":            "0",
		"DB_POOL_MAX_SIZE":            "8",
		"DB_POOL_IDLE_TIMEOUT":        "10m",
		"DB_ACQUIRE_TIMEOUT":          "2",
		"DB_QUERY_TIMEOUT":            "45s",
		"SERVER_ADDR":                 ":7000",
		"JWT_SECRET":                  "k",
		"REDIS_URL":                   "redis://cache:6379/0",
		"RATE_LIMIT_PER_MINUTE":       "120",
		"LOG_LEVEL":                   "debug",
		"LOG_FORMAT":                  "console",
		"UNRELATED":                   "x",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Security.ReadonlyMode)
	assert.Equal(t, 2048, cfg.Security.MaxQueryLength)
	assert.Equal(t, []string{"SELECT", "WITH"}, cfg.Security.AllowedOperations)
	assert.Equal(t, []string{"DROP", "GRANT"}, cfg.Security.BlockedKeywords)
	assert.Equal(t, 0, cfg.Pool.MinSize)
	assert.Equal(t, 8, cfg.Pool.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Pool.IdleTimeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Pool.AcquireTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.Query.Timeout.Std())
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "k", cfg.Server.JWTSecret.Reveal())
	assert.Equal(t, "redis://cache:6379/0", cfg.Server.RedisURL)
	assert.Equal(t, 120, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestApplyEnv_Invalid(t *testing.T) {
	for _, kv := range [][2]string{
		{"SECURITY_READONLY", "maybe"},
		{"SECURITY_MAX_QUERY_LENGTH", "long"},
		{"DB_POOL_MAX_SIZE", "many"},
		{"DB_QUERY_TIMEOUT", "soon"},
	} {
		t.Run(kv[0], func(t *testing.T) {
			err := Default().ApplyEnv(envMap(map[string]string{kv[0]: kv[1]}))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }},
		{"no allowed operations", func(c *Config) { c.Security.AllowedOperations = nil }},
		{"pool min above max", func(c *Config) { c.Pool.MinSize, c.Pool.MaxSize = 5, 2 }},
		{"timeout above max", func(c *Config) { c.Query.Timeout = base.Duration(10 * time.Minute) }},
		{"negative max rows", func(c *Config) { c.Query.MaxRows = -1 }},
		{"unknown secrets provider", func(c *Config) { c.Secrets.Provider = "vault" }},
		{"invalid connection", func(c *Config) {
			c.Connections = map[string]base.ConnectionConfig{"bad": {Dialect: "postgres", Database: "x"}}
		}},
		{"mismatched connection id", func(c *Config) {
			c.Connections = map[string]base.ConnectionConfig{"a": {
				ID: "b", Dialect: "postgres", Host: "h", Database: "d",
				Credentials: base.Credentials{Username: "u"},
			}}
		}},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sqlgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9191\"\nlog:\n  level: warn\n"), 0o600))

	t.Setenv("LOG_LEVEL", "error")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.Server.Addr)
	assert.Equal(t, "error", cfg.Log.Level, "environment overrides the file")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Server.JWTSecret = "jwt-signing-key"
	cfg.Connections = map[string]base.ConnectionConfig{"a": {
		Dialect: "postgres", Host: "h", Database: "d",
		Credentials: base.Credentials{Username: "u", Password: "db-password"},
	}}
	out, err := cfg.Redacted()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "jwt-signing-key")
	assert.NotContains(t, string(out), "db-password")
	assert.Contains(t, string(out), "[REDACTED]")
}

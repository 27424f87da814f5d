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

package base

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"axonflow/sqlgate/connectors/security"
	"axonflow/sqlgate/connectors/sqltext"
)

func TestErrorIs(t *testing.T) {
	err := NewError(KindPool, CodePoolExhausted, "db1", "acquire", "no connection within 10s", nil)
	wrapped := fmt.Errorf("executing: %w", err)

	assert.True(t, errors.Is(wrapped, ErrPoolExhausted))
	assert.False(t, errors.Is(wrapped, ErrPoolClosed))
	assert.Equal(t, KindPool, KindOf(wrapped))
	assert.Equal(t, CodePoolExhausted, CodeOf(wrapped))
	assert.Equal(t, "POOL_ERROR/POOL_EXHAUSTED [db1] acquire: no connection within 10s", err.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(KindConnection, CodeConnectError, "db1", "add", "cannot connect", cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrConnect))
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil, "db1", "op"))

	timeout := AsError(context.DeadlineExceeded, "db1", "query")
	assert.Equal(t, CodeQueryTimeout, timeout.Code)
	assert.True(t, timeout.Retryable)

	canceled := AsError(fmt.Errorf("wrapped: %w", context.Canceled), "db1", "query")
	assert.Equal(t, CodeCanceled, canceled.Code)

	existing := NotFound("db1", "query")
	assert.Same(t, existing, AsError(fmt.Errorf("x: %w", existing), "db2", "other"))

	generic := AsError(errors.New("syntax error"), "db1", "query")
	assert.Equal(t, KindExecution, generic.Kind)
	assert.Equal(t, CodeSQLError, generic.Code)
}

func TestValidationError(t *testing.T) {
	rejection := security.NewValidator().Validate("DROP TABLE t", security.DefaultPolicy(), sqltext.Postgres)
	require.Error(t, rejection)

	err := ValidationError("db1", "execute_query", rejection)
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, Code(security.ReasonOperationNotAllowed), err.Code)

	other := ValidationError("db1", "execute_query", errors.New("bad"))
	assert.Equal(t, CodeInvalidRequest, other.Code)
}

func TestErrorJSONHidesCause(t *testing.T) {
	err := NewError(KindExecution, CodeSQLError, "db1", "query", "boom", errors.New("internal driver detail"))
	b, jerr := json.Marshal(err)
	require.NoError(t, jerr)
	assert.NotContains(t, string(b), "internal driver detail")
	assert.Contains(t, string(b), `"code":"SQL_ERROR"`)
}

func TestSafeMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secrets []string
		absent  string
	}{
		{"explicit secret", "auth failed for s3cr3t-pw", []string{"s3cr3t-pw"}, "s3cr3t-pw"},
		{"key value", "connect: host=db password=hunter2 user=app", nil, "hunter2"},
		{"json field", `{"password":"hunter2"}`, nil, "hunter2"},
		{"url userinfo", "dial postgres://app:hunter2@db:5432/x failed", nil, "hunter2"},
		{"mysql dsn", "bad dsn app:hunter2@tcp(db:3306)/x", nil, "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeMessage(tt.in, tt.secrets...)
			assert.NotContains(t, got, tt.absent)
			assert.Contains(t, got, redacted)
		})
	}
}

func TestSanitizeLogString(t *testing.T) {
	assert.Equal(t, `a\nb\rc`, SanitizeLogString("a\nb\rc"))
	assert.Equal(t, "red", SanitizeLogString("\x1b[31mred\x1b[0m"))
	long := SanitizeLogString(strings.Repeat("x", 600))
	assert.True(t, strings.HasSuffix(long, "...[truncated]"))
	assert.Len(t, long, maxMessageLength+len("...[truncated]"))
}

func TestValidateHelpers(t *testing.T) {
	assert.NoError(t, ValidateConnectionID("db1"))
	assert.NoError(t, ValidateConnectionID("analytics-prod.eu_1"))
	assert.Error(t, ValidateConnectionID(""))
	assert.Error(t, ValidateConnectionID("-leading"))
	assert.Error(t, ValidateConnectionID("has space"))

	assert.NoError(t, ValidateHost("db.internal"))
	assert.NoError(t, ValidateHost("10.0.0.1"))
	assert.NoError(t, ValidateHost("::1"))
	assert.NoError(t, ValidateHost("[fe80::1]"))
	assert.Error(t, ValidateHost(""))
	assert.Error(t, ValidateHost("db;rm -rf"))

	assert.NoError(t, ValidateObjectName("table", "Order Items"))
	assert.Error(t, ValidateObjectName("table", ""))
	assert.Error(t, ValidateObjectName("table", "a\x00b"))
}

func validConfig() ConnectionConfig {
	return ConnectionConfig{
		ID:          "db1",
		Dialect:     "postgres",
		Host:        "localhost",
		Port:        5432,
		Database:    "app",
		Credentials: Credentials{Username: "app", Password: "pw"},
		Pool:        DefaultPoolOptions(),
	}
}

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ConnectionConfig)
		wantErr bool
	}{
		{"valid", func(c *ConnectionConfig) {}, false},
		{"secret ref without username", func(c *ConnectionConfig) { c.Credentials = Credentials{SecretRef: "env:DB"} }, false},
		{"bad id", func(c *ConnectionConfig) { c.ID = "" }, true},
		{"no dialect", func(c *ConnectionConfig) { c.Dialect = " " }, true},
		{"bad host", func(c *ConnectionConfig) { c.Host = "a b" }, true},
		{"bad port", func(c *ConnectionConfig) { c.Port = 70000 }, true},
		{"no database", func(c *ConnectionConfig) { c.Database = "" }, true},
		{"no username", func(c *ConnectionConfig) { c.Credentials.Username = "" }, true},
		{"min above max", func(c *ConnectionConfig) { c.Pool.MinSize = 5; c.Pool.MaxSize = 2 }, true},
		{"zero max", func(c *ConnectionConfig) { c.Pool.MinSize = 0; c.Pool.MaxSize = 0 }, true},
		{"bad policy", func(c *ConnectionConfig) { c.Policy = &security.Policy{MaxQueryLength: -1} }, true},
		{"policy without operations", func(c *ConnectionConfig) { c.Policy = &security.Policy{ReadonlyMode: true} }, false},
		{"control in option", func(c *ConnectionConfig) { c.Options = map[string]string{"sslmode": "x\n"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolOptionsWithDefaults(t *testing.T) {
	d := DefaultPoolOptions()

	got := PoolOptions{}.WithDefaults(d)
	assert.Equal(t, d, got)

	got = PoolOptions{MinSize: 0, MaxSize: 3}.WithDefaults(d)
	assert.Equal(t, 0, got.MinSize)
	assert.Equal(t, 3, got.MaxSize)

	got = PoolOptions{MinSize: 25}.WithDefaults(d)
	assert.Equal(t, 25, got.MaxSize)
}

func TestSecretNeverSerialized(t *testing.T) {
	cfg := validConfig()
	cfg.Credentials.Password = "hunter2"

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")

	y, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(y), "hunter2")

	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", cfg, cfg, cfg, cfg.Credentials.Password), "hunter2")
	assert.Equal(t, "hunter2", cfg.Credentials.Password.Reveal())
	assert.Equal(t, Secret(redacted), cfg.Redacted().Credentials.Password)
}

func TestSecretDecodes(t *testing.T) {
	var c Credentials
	require.NoError(t, json.Unmarshal([]byte(`{"username":"app","password":"hunter2"}`), &c))
	assert.Equal(t, "hunter2", c.Password.Reveal())
}

func TestDurationDecoding(t *testing.T) {
	var p PoolOptions
	require.NoError(t, json.Unmarshal([]byte(`{"idle_timeout":"5m","acquire_timeout":2.5}`), &p))
	assert.Equal(t, 5*time.Minute, p.IdleTimeout.Std())
	assert.Equal(t, 2500*time.Millisecond, p.AcquireTimeout.Std())

	var y PoolOptions
	require.NoError(t, yaml.Unmarshal([]byte("idle_timeout: 90\ndrain_timeout: 1s\n"), &y))
	assert.Equal(t, 90*time.Second, y.IdleTimeout.Std())
	assert.Equal(t, time.Second, y.DrainTimeout.Std())

	assert.Error(t, json.Unmarshal([]byte(`{"idle_timeout":"soon"}`), &p))

	b, err := json.Marshal(Duration(3 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"3s"`, string(b))
}

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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"axonflow/sqlgate/connectors/security"
)

// Pool defaults.
const (
	DefaultPoolMinSize        = 2
	DefaultPoolMaxSize        = 20
	DefaultIdleTimeout        = 30 * time.Minute
	DefaultAcquireTimeout     = 10 * time.Second
	DefaultDrainTimeout       = 10 * time.Second
	DefaultValidationInterval = 30 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
)

// Secret holds a credential. It renders as [REDACTED] in every format so
// it cannot leak through logs or serialized summaries.
type Secret string

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Reveal returns the raw secret for handing to a driver.
func (s Secret) Reveal() string { return string(s) }

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return redacted, nil
}

// Duration accepts "30s" style strings or plain numbers of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case string:
		parsed, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// ParseDuration parses "30s"/"5m" or a bare number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Credentials authenticate a connection. SecretRef, when set, is resolved
// by a secrets manager before the pool is created.
type Credentials struct {
	Username  string `json:"username" yaml:"username"`
	Password  Secret `json:"password,omitempty" yaml:"password,omitempty"`
	SecretRef string `json:"secret_ref,omitempty" yaml:"secret_ref,omitempty"`
}

// PoolOptions bounds a connection pool.
type PoolOptions struct {
	MinSize            int      `json:"min_size" yaml:"min_size"`
	MaxSize            int      `json:"max_size" yaml:"max_size"`
	IdleTimeout        Duration `json:"idle_timeout" yaml:"idle_timeout"`
	AcquireTimeout     Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	DrainTimeout       Duration `json:"drain_timeout" yaml:"drain_timeout"`
	ValidationInterval Duration `json:"validation_interval" yaml:"validation_interval"`
}

// DefaultPoolOptions returns the built-in pool bounds.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MinSize:            DefaultPoolMinSize,
		MaxSize:            DefaultPoolMaxSize,
		IdleTimeout:        Duration(DefaultIdleTimeout),
		AcquireTimeout:     Duration(DefaultAcquireTimeout),
		DrainTimeout:       Duration(DefaultDrainTimeout),
		ValidationInterval: Duration(DefaultValidationInterval),
	}
}

// WithDefaults fills unset durations from d. Sizes are filled only when
// both are zero so that an explicit min of 0 survives.
func (o PoolOptions) WithDefaults(d PoolOptions) PoolOptions {
	if o.MinSize == 0 && o.MaxSize == 0 {
		o.MinSize, o.MaxSize = d.MinSize, d.MaxSize
	}
	if o.MaxSize == 0 {
		o.MaxSize = d.MaxSize
		if o.MaxSize < o.MinSize {
			o.MaxSize = o.MinSize
		}
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.AcquireTimeout == 0 {
		o.AcquireTimeout = d.AcquireTimeout
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	if o.ValidationInterval == 0 {
		o.ValidationInterval = d.ValidationInterval
	}
	return o
}

// Validate checks the pool invariants max >= min >= 0 and max >= 1.
func (o PoolOptions) Validate() error {
	switch {
	case o.MinSize < 0:
		return fmt.Errorf("pool min_size must not be negative")
	case o.MaxSize < 1:
		return fmt.Errorf("pool max_size must be at least 1")
	case o.MinSize > o.MaxSize:
		return fmt.Errorf("pool min_size %d exceeds max_size %d", o.MinSize, o.MaxSize)
	case o.IdleTimeout < 0 || o.AcquireTimeout < 0 || o.DrainTimeout < 0 || o.ValidationInterval < 0:
		return fmt.Errorf("pool timeouts must not be negative")
	}
	return nil
}

// ConnectionConfig describes one logical connection. It is immutable once
// a pool exists; changing it means removing and re-adding the connection.
type ConnectionConfig struct {
	ID           string            `json:"connection_id" yaml:"connection_id"`
	Dialect      string            `json:"dialect" yaml:"dialect"`
	Host         string            `json:"host" yaml:"host"`
	Port         int               `json:"port,omitempty" yaml:"port,omitempty"`
	Database     string            `json:"database" yaml:"database"`
	Credentials  Credentials       `json:"credentials" yaml:"credentials"`
	Pool         PoolOptions       `json:"pool,omitempty" yaml:"pool,omitempty"`
	Policy       *security.Policy  `json:"policy,omitempty" yaml:"policy,omitempty"`
	QueryTimeout Duration          `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty"`
	Options      map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks the connection parameters. Dialect support is checked by
// the registry, which knows the available dialects.
func (c ConnectionConfig) Validate() error {
	if err := ValidateConnectionID(c.ID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Dialect) == "" {
		return fmt.Errorf("dialect is required")
	}
	if err := ValidateHost(c.Host); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.Database) == "" || hasControl(c.Database) {
		return fmt.Errorf("database must be a non-empty name without control characters")
	}
	if c.Credentials.SecretRef == "" {
		if strings.TrimSpace(c.Credentials.Username) == "" || hasControl(c.Credentials.Username) {
			return fmt.Errorf("username must be non-empty without control characters")
		}
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query_timeout must not be negative")
	}
	if c.Policy != nil {
		if err := c.Policy.ValidateOverride(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	for k, v := range c.Options {
		if hasControl(k) || hasControl(v) {
			return fmt.Errorf("option %q contains control characters", SanitizeLogString(k))
		}
	}
	return nil
}

// Redacted returns a copy safe to log or serialize.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	out := c
	if out.Credentials.Password != "" {
		out.Credentials.Password = redacted
	}
	return out
}

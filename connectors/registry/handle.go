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

package registry

import (
	"time"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/pool"
	"axonflow/sqlgate/connectors/security"
)

// Handle is a registered connection: its immutable config, dialect and
// pool.
type Handle struct {
	cfg       base.ConnectionConfig
	dialect   base.Dialect
	pool      *pool.Pool
	createdAt time.Time
}

// NewHandle wraps an existing pool. The registry creates handles itself;
// this is for callers that manage a pool directly.
func NewHandle(cfg base.ConnectionConfig, dialect base.Dialect, p *pool.Pool) *Handle {
	return &Handle{cfg: cfg, dialect: dialect, pool: p, createdAt: time.Now()}
}

func (h *Handle) ID() string { return h.cfg.ID }

// Config returns the connection config with the password redacted.
func (h *Handle) Config() base.ConnectionConfig { return h.cfg.Redacted() }

func (h *Handle) Dialect() base.Dialect { return h.dialect }

func (h *Handle) Pool() *pool.Pool { return h.pool }

func (h *Handle) CreatedAt() time.Time { return h.createdAt }

// Policy returns the connection's own security policy, or nil when the
// global policy applies unchanged. It can only tighten the global policy.
func (h *Handle) Policy() *security.Policy { return h.cfg.Policy }

// QueryTimeout returns the connection's statement timeout, zero if unset.
func (h *Handle) QueryTimeout() time.Duration { return h.cfg.QueryTimeout.Std() }

// Secret returns the connection password for redaction purposes.
func (h *Handle) Secret() string { return h.cfg.Credentials.Password.Reveal() }

// DefaultSchema is the schema used when a caller names none.
func (h *Handle) DefaultSchema() string { return h.dialect.DefaultSchema(h.cfg) }

// Summary returns the credential-free view of the connection. Readonly
// reflects only the connection's own policy; callers that hold the global
// policy combine the two.
func (h *Handle) Summary(queries base.QueryStats) base.ConnectionSummary {
	return base.ConnectionSummary{
		ConnectionID: h.cfg.ID,
		Dialect:      h.dialect.Name(),
		Host:         h.cfg.Host,
		Port:         h.cfg.Port,
		Database:     h.cfg.Database,
		Username:     h.cfg.Credentials.Username,
		Readonly:     h.cfg.Policy != nil && h.cfg.Policy.ReadonlyMode,
		Pool:         h.pool.Stats(),
		Queries:      queries,
		CreatedAt:    h.createdAt,
	}
}

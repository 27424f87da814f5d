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
	"time"
)

// QueryRequest is one parameterized statement. Parameters and
// NamedParameters are mutually exclusive; values are always bound by the
// driver and never interpolated into the text.
type QueryRequest struct {
	ConnectionID    string                 `json:"connection_id,omitempty"`
	Statement       string                 `json:"statement"`
	Parameters      []interface{}          `json:"parameters,omitempty"`
	NamedParameters map[string]interface{} `json:"named_parameters,omitempty"`
	// FetchSize caps the rows materialized in the result (0 = configured max).
	FetchSize int `json:"fetch_size,omitempty"`
	// TimeoutSeconds overrides the connection's query timeout, capped by
	// the configured maximum.
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	QueryID        string `json:"query_id,omitempty"`
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the canonical result shape for every dialect.
type QueryResult struct {
	QueryID         string                   `json:"query_id"`
	Columns         []Column                 `json:"columns"`
	Rows            []map[string]interface{} `json:"rows"`
	RowCount        int                      `json:"row_count"`
	AffectedRows    int64                    `json:"affected_rows"`
	LastInsertID    *int64                   `json:"last_insert_id,omitempty"`
	ExecutionTimeMs int64                    `json:"execution_time_ms"`
	Truncated       bool                     `json:"truncated"`
}

// TransactionRequest is an ordered list of statements run as one unit.
type TransactionRequest struct {
	ConnectionID string         `json:"connection_id"`
	Statements   []QueryRequest `json:"statements"`
}

// TransactionResult reports the unit outcome. Committed and RolledBack are
// never both true; both are false only when the transaction never began.
type TransactionResult struct {
	Committed       bool           `json:"committed"`
	RolledBack      bool           `json:"rolled_back"`
	Results         []*QueryResult `json:"results,omitempty"`
	FailedIndex     *int           `json:"failed_index,omitempty"`
	Error           *Error         `json:"error,omitempty"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}

// BatchRequest runs one statement against many parameter lists.
type BatchRequest struct {
	ConnectionID  string          `json:"connection_id"`
	Statement     string          `json:"statement"`
	ParameterSets [][]interface{} `json:"parameter_sets"`
}

// ItemStatus is the outcome of one batch item.
type ItemStatus string

const (
	ItemSucceeded  ItemStatus = "succeeded"
	ItemFailed     ItemStatus = "failed"
	ItemRolledBack ItemStatus = "rolled_back"
	ItemSkipped    ItemStatus = "skipped"
)

// BatchItemResult is the outcome of one parameter set.
type BatchItemResult struct {
	Index        int        `json:"index"`
	Status       ItemStatus `json:"status"`
	AffectedRows int64      `json:"affected_rows"`
	Error        *Error     `json:"error,omitempty"`
}

// BatchResult separates per-item failures from a whole-batch failure.
type BatchResult struct {
	Items           []BatchItemResult `json:"items"`
	SuccessCount    int               `json:"success_count"`
	FailureCount    int               `json:"failure_count"`
	TotalAffected   int64             `json:"total_affected_rows"`
	Atomic          bool              `json:"atomic"`
	BatchError      *Error            `json:"batch_error,omitempty"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	MinSize   int    `json:"min_size"`
	MaxSize   int    `json:"max_size"`
	Idle      int    `json:"idle"`
	Leased    int    `json:"leased"`
	Opening   int    `json:"opening"`
	Acquired  uint64 `json:"acquired_total"`
	Opened    uint64 `json:"opened_total"`
	Closed    uint64 `json:"closed_total"`
	Discarded uint64 `json:"discarded_total"`
	Exhausted uint64 `json:"exhausted_total"`
	Evicted   uint64 `json:"evicted_total"`
}

// QueryStats aggregates statement outcomes for one connection.
type QueryStats struct {
	Total       int64      `json:"total"`
	Successful  int64      `json:"successful"`
	Failed      int64      `json:"failed"`
	AverageMs   float64    `json:"average_ms"`
	LastQueryAt *time.Time `json:"last_query_at,omitempty"`
}

// QueryRecord is one entry of a connection's recent operation history.
// It never carries statement text or parameters.
type QueryRecord struct {
	Time       time.Time `json:"time"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"`
	DurationMs float64   `json:"duration_ms"`
}

// ConnectionSummary is the credential-free view of a registered connection.
type ConnectionSummary struct {
	ConnectionID string     `json:"connection_id"`
	Dialect      string     `json:"dialect"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Database     string     `json:"database"`
	Username     string     `json:"username"`
	Readonly     bool       `json:"readonly"`
	Pool         PoolStats  `json:"pool"`
	Queries      QueryStats `json:"queries"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusNotFound  = "not_found"
)

// HealthStatus is the result of a connection health check.
type HealthStatus struct {
	ConnectionID string     `json:"connection_id"`
	Status       string     `json:"status"`
	LatencyMs    int64      `json:"latency_ms"`
	Message      string     `json:"message,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
	Pool         *PoolStats `json:"pool,omitempty"`
}

// Healthy reports whether the health check succeeded.
func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}

// ColumnInfo describes one table column.
type ColumnInfo struct {
	Name            string  `json:"name"`
	OrdinalPosition int     `json:"ordinal_position"`
	DataType        string  `json:"data_type"`
	Nullable        bool    `json:"nullable"`
	Default         *string `json:"default,omitempty"`
	MaxLength       *int64  `json:"max_length,omitempty"`
	Precision       *int64  `json:"precision,omitempty"`
	Scale           *int64  `json:"scale,omitempty"`
	Comment         string  `json:"comment,omitempty"`
}

// IndexInfo describes one index.
type IndexInfo struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	Unique     bool     `json:"unique"`
	Primary    bool     `json:"primary"`
	Definition string   `json:"definition,omitempty"`
}

// ConstraintInfo describes one constraint column.
type ConstraintInfo struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Column        string `json:"column,omitempty"`
	ForeignTable  string `json:"foreign_table,omitempty"`
	ForeignColumn string `json:"foreign_column,omitempty"`
}

// TableSchema is the structure of one table.
type TableSchema struct {
	Schema      string           `json:"schema"`
	Table       string           `json:"table"`
	Columns     []ColumnInfo     `json:"columns"`
	PrimaryKeys []string         `json:"primary_keys"`
	Indexes     []IndexInfo      `json:"indexes"`
	Constraints []ConstraintInfo `json:"constraints"`
	RowEstimate *int64           `json:"row_estimate,omitempty"`
}

// TableInfo is one entry of a table listing.
type TableInfo struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Comment     string `json:"comment,omitempty"`
	RowEstimate *int64 `json:"row_estimate,omitempty"`
}

// ExplainFormat is the shape of a plan.
type ExplainFormat string

const (
	ExplainJSON ExplainFormat = "json"
	ExplainText ExplainFormat = "text"
)

// ExplainResult is an execution plan.
type ExplainResult struct {
	Format          ExplainFormat `json:"format"`
	Plan            interface{}   `json:"plan,omitempty"`
	Lines           []string      `json:"lines,omitempty"`
	Analyzed        bool          `json:"analyzed"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
}

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
	"database/sql"

	"axonflow/sqlgate/connectors/sqltext"
)

// ErrorClass is a dialect's reading of a driver error.
type ErrorClass struct {
	Code      Code
	SQLState  string
	Retryable bool
	// BadConn means the physical connection must not be reused.
	BadConn bool
	// Message is a driver-independent description, already free of
	// credentials. Empty means use the driver message.
	Message string
}

// Dialect captures everything that differs between database backends. The
// executors, pool and inspector are written against this interface only.
//
// Catalog query builders return fixed SQL text plus bound arguments. The
// inspector relies on the column order documented on each method.
type Dialect interface {
	// Name is the configuration name ("postgres", "mysql").
	Name() string

	DefaultPort() int

	// DefaultSchema is the schema used when the caller names none.
	DefaultSchema(cfg ConnectionConfig) string

	// Open returns a database handle for cfg. It must not contact the server.
	Open(cfg ConnectionConfig) (*sql.DB, error)

	// Syntax returns the lexical rules used for validation.
	Syntax() sqltext.Syntax

	// Placeholder renders the n-th (1-based) positional parameter.
	Placeholder(n int) string

	// ConvertValue maps a scanned driver value to a JSON-friendly value.
	ConvertValue(v interface{}, databaseType string) interface{}

	// ClassifyError interprets a driver error.
	ClassifyError(err error) ErrorClass

	// SchemasQuery lists user schemas: (schema_name).
	SchemasQuery() (string, []interface{})

	// TablesQuery lists tables and views of schema:
	// (schema, name, type, comment, row_estimate).
	TablesQuery(schema string) (string, []interface{})

	// ColumnsQuery describes columns of schema.table:
	// (name, ordinal, data_type, is_nullable YES/NO, default, max_length,
	// precision, scale, comment).
	ColumnsQuery(schema, table string) (string, []interface{})

	// IndexesQuery lists index columns of schema.table, one row per column
	// in index order: (index_name, column_name, unique, primary, definition).
	IndexesQuery(schema, table string) (string, []interface{})

	// ConstraintsQuery lists constraint columns of schema.table:
	// (name, type, column, foreign_table, foreign_column).
	ConstraintsQuery(schema, table string) (string, []interface{})

	// ExplainStatement wraps stmt in the dialect's EXPLAIN syntax.
	ExplainStatement(stmt string, analyze bool) (string, ExplainFormat)
}

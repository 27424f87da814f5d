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

package conntest

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/sqltext"
)

// SQLiteName is the dialect name of the in-process SQLite backend.
const SQLiteName = "sqlite"

// SQLite implements base.Dialect on the pure-Go modernc SQLite engine. The
// connection's Database is the database file path. It backs end-to-end
// tests and local demos; it is not a production backend.
type SQLite struct{}

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{}
}

var _ base.Dialect = (*SQLite)(nil)

func (d *SQLite) Name() string { return SQLiteName }

func (d *SQLite) DefaultPort() int { return 0 }

func (d *SQLite) DefaultSchema(base.ConnectionConfig) string { return "main" }

func (d *SQLite) Syntax() sqltext.Syntax { return sqltext.Syntax{BacktickIdents: true} }

func (d *SQLite) Placeholder(int) string { return "?" }

// DSN builds the driver DSN for cfg. Pragmas are set per connection so that
// every pooled connection waits on locks and enforces foreign keys.
func DSN(cfg base.ConnectionConfig) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if mode := cfg.Options["mode"]; mode != "" {
		q.Set("mode", mode)
	}
	if cache := cfg.Options["cache"]; cache != "" {
		q.Set("cache", cache)
	}
	return "file:" + cfg.Database + "?" + q.Encode()
}

func (d *SQLite) Open(cfg base.ConnectionConfig) (*sql.DB, error) {
	for k := range cfg.Options {
		if k != "mode" && k != "cache" {
			return nil, fmt.Errorf("unsupported sqlite option %q", k)
		}
	}
	return sql.Open("sqlite", DSN(cfg))
}

// ConvertValue turns text returned as bytes into strings unless the column
// is declared as a blob.
func (d *SQLite) ConvertValue(v interface{}, databaseType string) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if strings.Contains(strings.ToUpper(databaseType), "BLOB") {
		return append([]byte(nil), b...)
	}
	return string(b)
}

// ClassifyError treats busy and locked databases as retryable.
func (d *SQLite) ClassifyError(err error) base.ErrorClass {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		class := base.ErrorClass{Code: base.CodeSQLError}
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			class.Retryable = true
		case sqlite3.SQLITE_INTERRUPT:
			class.Code = base.CodeQueryTimeout
			class.Retryable = true
		}
		return class
	}
	return base.ErrorClass{Code: base.CodeSQLError}
}

func (d *SQLite) SchemasQuery() (string, []interface{}) {
	return `SELECT name FROM pragma_database_list WHERE name <> 'temp' ORDER BY seq`, nil
}

func (d *SQLite) TablesQuery(schema string) (string, []interface{}) {
	return `
SELECT ?,
       name,
       CASE type WHEN 'view' THEN 'VIEW' ELSE 'BASE TABLE' END,
       '',
       NULL
FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
ORDER BY name`, []interface{}{schema}
}

func (d *SQLite) ColumnsQuery(schema, table string) (string, []interface{}) {
	return `
SELECT name,
       cid + 1,
       type,
       CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END,
       dflt_value,
       NULL,
       NULL,
       NULL,
       ''
FROM pragma_table_info(?, ?)
ORDER BY cid`, []interface{}{table, schema}
}

func (d *SQLite) IndexesQuery(schema, table string) (string, []interface{}) {
	return `
SELECT il.name,
       ii.name,
       il."unique",
       il.origin = 'pk',
       COALESCE(m.sql, '')
FROM pragma_index_list(?, ?) AS il
JOIN pragma_index_info(il.name, ?) AS ii
LEFT JOIN sqlite_master AS m ON m.type = 'index' AND m.name = il.name
ORDER BY il.name, ii.seqno`, []interface{}{table, schema, schema}
}

func (d *SQLite) ConstraintsQuery(schema, table string) (string, []interface{}) {
	return `
SELECT name, kind, col, ftable, fcol
FROM (
    SELECT 'pk' AS name, 'PRIMARY KEY' AS kind, name AS col, '' AS ftable, '' AS fcol, pk AS seq
    FROM pragma_table_info(?, ?)
    WHERE pk > 0
    UNION ALL
    SELECT 'fk_' || id, 'FOREIGN KEY', "from", "table", COALESCE("to", ''), seq
    FROM pragma_foreign_key_list(?, ?)
)
ORDER BY name, seq`, []interface{}{table, schema, table, schema}
}

// ExplainStatement uses EXPLAIN QUERY PLAN. SQLite has no executing
// explain, so analyze plans are the same text plan.
func (d *SQLite) ExplainStatement(stmt string, analyze bool) (string, base.ExplainFormat) {
	return "EXPLAIN QUERY PLAN " + stmt, base.ExplainText
}

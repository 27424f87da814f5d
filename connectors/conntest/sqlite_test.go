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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
)

func TestSQLite_CatalogQueries(t *testing.T) {
	ctx := context.Background()
	d := NewSQLite()
	cfg := SQLiteConfig(t, "lite")

	db, err := d.Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		total REAL DEFAULT 0
	)`)
	require.NoError(t, err)

	q, args := d.TablesQuery("main")
	rows, err := db.QueryContext(ctx, q, args...)
	require.NoError(t, err)
	var names []string
	for rows.Next() {
		var schema, name, typ, comment string
		var estimate *int64
		require.NoError(t, rows.Scan(&schema, &name, &typ, &comment, &estimate))
		assert.Equal(t, "main", schema)
		assert.Equal(t, "BASE TABLE", typ)
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{"customers", "orders"}, names)

	q, args = d.ColumnsQuery("main", "orders")
	rows, err = db.QueryContext(ctx, q, args...)
	require.NoError(t, err)
	var columns []string
	for rows.Next() {
		var name, dataType, nullable, comment string
		var ordinal int
		var def *string
		var maxLen, precision, scale *int64
		require.NoError(t, rows.Scan(&name, &ordinal, &dataType, &nullable, &def, &maxLen, &precision, &scale, &comment))
		columns = append(columns, name)
		if name == "customer_id" {
			assert.Equal(t, "NO", nullable)
		}
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, []string{"id", "customer_id", "total"}, columns)

	q, args = d.ConstraintsQuery("main", "orders")
	rows, err = db.QueryContext(ctx, q, args...)
	require.NoError(t, err)
	var kinds []string
	for rows.Next() {
		var name, kind, col, ft, fc string
		require.NoError(t, rows.Scan(&name, &kind, &col, &ft, &fc))
		kinds = append(kinds, kind+":"+col)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.ElementsMatch(t, []string{"FOREIGN KEY:customer_id", "PRIMARY KEY:id"}, kinds)
}

func TestSQLite_Explain(t *testing.T) {
	stmt, format := NewSQLite().ExplainStatement("SELECT 1", true)
	assert.Equal(t, "EXPLAIN QUERY PLAN SELECT 1", stmt)
	assert.Equal(t, base.ExplainText, format)
}

func TestSQLite_RejectsUnknownOption(t *testing.T) {
	cfg := SQLiteConfig(t, "lite")
	cfg.Options = map[string]string{"journal": "off"}
	_, err := NewSQLite().Open(cfg)
	assert.Error(t, err)
}

func TestConnector_CountsAndFailures(t *testing.T) {
	ctx := context.Background()
	c := NewConnector()
	db := c.DB()
	defer db.Close()

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.PingContext(ctx))
	assert.Equal(t, int64(1), c.Live())

	c.FailPing(true)
	assert.Error(t, conn.PingContext(ctx))
	c.FailPing(false)
	conn.Close()
	assert.Equal(t, int64(0), c.Live())

	c.FailConnect(true)
	_, err = db.Conn(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(1), c.Opened())
}

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

package mysql

const schemasQuery = `
SELECT SCHEMA_NAME
FROM INFORMATION_SCHEMA.SCHEMATA
WHERE SCHEMA_NAME NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
ORDER BY SCHEMA_NAME`

const tablesQuery = `
SELECT TABLE_SCHEMA,
       TABLE_NAME,
       TABLE_TYPE,
       COALESCE(TABLE_COMMENT, ''),
       TABLE_ROWS
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = ?
ORDER BY TABLE_NAME`

const columnsQuery = `
SELECT COLUMN_NAME,
       ORDINAL_POSITION,
       DATA_TYPE,
       IS_NULLABLE,
       COLUMN_DEFAULT,
       CHARACTER_MAXIMUM_LENGTH,
       NUMERIC_PRECISION,
       NUMERIC_SCALE,
       COALESCE(COLUMN_COMMENT, '')
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

const indexesQuery = `
SELECT INDEX_NAME,
       COLUMN_NAME,
       NON_UNIQUE = 0,
       INDEX_NAME = 'PRIMARY',
       ''
FROM INFORMATION_SCHEMA.STATISTICS
WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
ORDER BY INDEX_NAME, SEQ_IN_INDEX`

const constraintsQuery = `
SELECT tc.CONSTRAINT_NAME,
       tc.CONSTRAINT_TYPE,
       COALESCE(kcu.COLUMN_NAME, ''),
       COALESCE(kcu.REFERENCED_TABLE_NAME, ''),
       COALESCE(kcu.REFERENCED_COLUMN_NAME, '')
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
LEFT JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
       ON kcu.CONSTRAINT_SCHEMA = tc.CONSTRAINT_SCHEMA
      AND kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
      AND kcu.TABLE_NAME = tc.TABLE_NAME
WHERE tc.TABLE_SCHEMA = ? AND tc.TABLE_NAME = ?
ORDER BY tc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`

func (d *Dialect) SchemasQuery() (string, []interface{}) {
	return schemasQuery, nil
}

func (d *Dialect) TablesQuery(schema string) (string, []interface{}) {
	return tablesQuery, []interface{}{schema}
}

func (d *Dialect) ColumnsQuery(schema, table string) (string, []interface{}) {
	return columnsQuery, []interface{}{schema, table}
}

func (d *Dialect) IndexesQuery(schema, table string) (string, []interface{}) {
	return indexesQuery, []interface{}{schema, table}
}

func (d *Dialect) ConstraintsQuery(schema, table string) (string, []interface{}) {
	return constraintsQuery, []interface{}{schema, table}
}

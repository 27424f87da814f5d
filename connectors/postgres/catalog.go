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

package postgres

const schemasQuery = `
SELECT schema_name
FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
  AND schema_name NOT LIKE 'pg\_toast%'
  AND schema_name NOT LIKE 'pg\_temp\_%'
ORDER BY schema_name`

const tablesQuery = `
SELECT t.table_schema,
       t.table_name,
       t.table_type,
       COALESCE(obj_description(c.oid, 'pg_class'), ''),
       CASE WHEN c.reltuples < 0 THEN NULL ELSE c.reltuples::bigint END
FROM information_schema.tables t
LEFT JOIN pg_catalog.pg_namespace n ON n.nspname = t.table_schema
LEFT JOIN pg_catalog.pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
WHERE t.table_schema = $1
ORDER BY t.table_name`

const columnsQuery = `
SELECT col.column_name,
       col.ordinal_position,
       col.data_type,
       col.is_nullable,
       col.column_default,
       col.character_maximum_length,
       col.numeric_precision,
       col.numeric_scale,
       COALESCE(col_description(c.oid, a.attnum), '')
FROM information_schema.columns col
LEFT JOIN pg_catalog.pg_namespace n ON n.nspname = col.table_schema
LEFT JOIN pg_catalog.pg_class c ON c.relname = col.table_name AND c.relnamespace = n.oid
LEFT JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attname = col.column_name
WHERE col.table_schema = $1 AND col.table_name = $2
ORDER BY col.ordinal_position`

const indexesQuery = `
SELECT i.relname,
       a.attname,
       ix.indisunique,
       ix.indisprimary,
       pg_get_indexdef(ix.indexrelid)
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname = $1 AND t.relname = $2
ORDER BY i.relname, k.ord`

const constraintsQuery = `
SELECT tc.constraint_name,
       tc.constraint_type,
       COALESCE(kcu.column_name, ''),
       COALESCE(ccu.table_name, ''),
       COALESCE(ccu.column_name, '')
FROM information_schema.table_constraints tc
LEFT JOIN information_schema.key_column_usage kcu
       ON kcu.constraint_schema = tc.constraint_schema
      AND kcu.constraint_name = tc.constraint_name
      AND kcu.table_name = tc.table_name
LEFT JOIN information_schema.constraint_column_usage ccu
       ON tc.constraint_type = 'FOREIGN KEY'
      AND ccu.constraint_schema = tc.constraint_schema
      AND ccu.constraint_name = tc.constraint_name
WHERE tc.table_schema = $1 AND tc.table_name = $2
  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE', 'FOREIGN KEY', 'CHECK')
ORDER BY tc.constraint_name, kcu.ordinal_position`

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

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

// Package schema answers catalog questions (schemas, tables, columns,
// indexes, constraints) and produces execution plans. Catalog lookups are
// fixed statements whose only inputs are bound arguments.
package schema

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/executor"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/shared/logger"
)

// Operation names.
const (
	OpGetTableSchema = "get_table_schema"
	OpListTables     = "list_tables"
	OpListSchemas    = "list_schemas"
	OpExplain        = "explain_query"
)

// maxNameLength bounds table and schema names accepted from callers.
const maxNameLength = 256

// Inspector is safe for concurrent use.
type Inspector struct {
	exec   *executor.Executor
	tracer trace.Tracer
	log    *logger.Logger
	now    func() time.Time
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the inspector logger.
func WithLogger(l *logger.Logger) Option {
	return func(i *Inspector) { i.log = l }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(i *Inspector) { i.tracer = t }
}

// New creates an Inspector running its statements through exec.
func New(exec *executor.Executor, opts ...Option) *Inspector {
	i := &Inspector{
		exec:   exec,
		tracer: otel.Tracer("axonflow/sqlgate/schema"),
		log:    logger.New("schema"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// observe starts a span for op and returns the function that ends it.
func (i *Inspector) observe(ctx context.Context, op, connectionID string) (context.Context, func(error)) {
	start := i.now()
	ctx, span := i.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("sqlgate.connection_id", connectionID),
		attribute.String("sqlgate.operation", op),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		i.exec.Observe(connectionID, op, start, err)
	}
}

func (i *Inspector) query(ctx context.Context, h *registry.Handle, op, stmt string, args []interface{}) ([][]interface{}, error) {
	res, err := i.exec.QueryTrusted(ctx, executor.TrustedQuery{
		ConnectionID: h.ID(),
		Operation:    op,
		Statement:    stmt,
		Args:         args,
	})
	if err != nil {
		return nil, err
	}
	return cells(res), nil
}

// ListSchemas returns the user schemas of the connection.
func (i *Inspector) ListSchemas(ctx context.Context, connectionID string) (out []string, err error) {
	ctx, done := i.observe(ctx, OpListSchemas, connectionID)
	defer func() { done(err) }()

	h, err := i.exec.Handle(connectionID, OpListSchemas)
	if err != nil {
		return nil, err
	}
	stmt, args := h.Dialect().SchemasQuery()
	rows, err := i.query(ctx, h, OpListSchemas, stmt, args)
	if err != nil {
		return nil, err
	}
	out = make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, asString(r[0]))
	}
	return out, nil
}

// ListTables returns the tables and views of schema, or of the
// connection's default schema when schema is empty.
func (i *Inspector) ListTables(ctx context.Context, connectionID, schema string) (out []base.TableInfo, err error) {
	ctx, done := i.observe(ctx, OpListTables, connectionID)
	defer func() { done(err) }()

	h, err := i.exec.Handle(connectionID, OpListTables)
	if err != nil {
		return nil, err
	}
	schema, err = resolveName(h, OpListTables, "schema", schema, h.DefaultSchema())
	if err != nil {
		return nil, err
	}
	return i.tables(ctx, h, OpListTables, schema)
}

func (i *Inspector) tables(ctx context.Context, h *registry.Handle, op, schema string) ([]base.TableInfo, error) {
	stmt, args := h.Dialect().TablesQuery(schema)
	rows, err := i.query(ctx, h, op, stmt, args)
	if err != nil {
		return nil, err
	}
	out := make([]base.TableInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, base.TableInfo{
			Schema:      asString(r[0]),
			Name:        asString(r[1]),
			Type:        asString(r[2]),
			Comment:     asString(r[3]),
			RowEstimate: asInt64(r[4]),
		})
	}
	return out, nil
}

// GetTableSchema describes one table. A table without columns does not
// exist and yields TABLE_NOT_FOUND.
func (i *Inspector) GetTableSchema(ctx context.Context, connectionID, table, schema string) (ts *base.TableSchema, err error) {
	ctx, done := i.observe(ctx, OpGetTableSchema, connectionID)
	defer func() { done(err) }()

	h, err := i.exec.Handle(connectionID, OpGetTableSchema)
	if err != nil {
		return nil, err
	}
	table, err = resolveName(h, OpGetTableSchema, "table", table, "")
	if err != nil {
		return nil, err
	}
	schema, err = resolveName(h, OpGetTableSchema, "schema", schema, h.DefaultSchema())
	if err != nil {
		return nil, err
	}
	d := h.Dialect()

	stmt, args := d.ColumnsQuery(schema, table)
	rows, err := i.query(ctx, h, OpGetTableSchema, stmt, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, base.NewError(base.KindExecution, base.CodeTableNotFound, h.ID(), OpGetTableSchema,
			fmt.Sprintf("table %s.%s not found", base.SanitizeLogString(schema), base.SanitizeLogString(table)), nil)
	}
	ts = &base.TableSchema{
		Schema:      schema,
		Table:       table,
		Columns:     parseColumns(rows),
		PrimaryKeys: []string{},
	}

	stmt, args = d.IndexesQuery(schema, table)
	if rows, err = i.query(ctx, h, OpGetTableSchema, stmt, args); err != nil {
		return nil, err
	}
	ts.Indexes = parseIndexes(rows)

	stmt, args = d.ConstraintsQuery(schema, table)
	if rows, err = i.query(ctx, h, OpGetTableSchema, stmt, args); err != nil {
		return nil, err
	}
	ts.Constraints = parseConstraints(rows)
	ts.PrimaryKeys = primaryKeys(ts.Constraints, ts.Indexes)

	tables, err := i.tables(ctx, h, OpGetTableSchema, schema)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.Name == table {
			ts.RowEstimate = t.RowEstimate
			break
		}
	}
	return ts, nil
}

// resolveName trims a caller-supplied identifier, falling back to def.
func resolveName(h *registry.Handle, op, what, name, def string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = def
	}
	switch {
	case name == "":
		return "", base.InvalidRequest(h.ID(), op, what+" is required")
	case len(name) > maxNameLength:
		return "", base.InvalidRequest(h.ID(), op, fmt.Sprintf("%s name exceeds %d bytes", what, maxNameLength))
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "", base.InvalidRequest(h.ID(), op, what+" name contains control characters")
	}
	return name, nil
}

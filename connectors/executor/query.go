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

package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/pool"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/connectors/sqltext"
)

// queryer is satisfied by *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// prepared is a validated statement ready for the driver.
type prepared struct {
	stmt    string
	args    []interface{}
	rows    bool
	timeout time.Duration
	limit   int
	queryID string
}

// Execute validates req, runs it on a leased connection and maps the
// result to the canonical shape.
func (e *Executor) Execute(ctx context.Context, req base.QueryRequest) (res *base.QueryResult, err error) {
	start := e.now()
	ctx, span := e.startSpan(ctx, OpQuery, req.ConnectionID)
	defer func() { e.finish(span, OpQuery, req.ConnectionID, start, err) }()

	h, err := e.Handle(req.ConnectionID, OpQuery)
	if err != nil {
		return nil, err
	}
	p, err := e.prepare(h, req, OpQuery)
	if err != nil {
		return nil, err
	}

	lease, err := e.acquire(ctx, h, OpQuery)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	runCtx, unbind := lease.Bind(runCtx)
	defer unbind()

	res, runErr := e.run(runCtx, lease.Conn(), h, p)
	if runErr != nil {
		return nil, e.classify(runCtx, runErr, h, lease, OpQuery)
	}
	res.ExecutionTimeMs = e.elapsedMs(start)
	return res, nil
}

// prepare validates the statement and binds its parameters. Nothing here
// touches a connection.
func (e *Executor) prepare(h *registry.Handle, req base.QueryRequest, op string) (*prepared, error) {
	if req.FetchSize < 0 || req.TimeoutSeconds < 0 {
		return nil, base.InvalidRequest(h.ID(), op, "fetch_size and timeout_seconds must not be negative")
	}
	syn := h.Dialect().Syntax()
	if err := e.validator.Validate(req.Statement, e.PolicyFor(h), syn); err != nil {
		return nil, base.ValidationError(h.ID(), op, err)
	}
	stmt, args, err := e.Bind(h, op, req.Statement, req.Parameters, req.NamedParameters)
	if err != nil {
		return nil, err
	}
	return &prepared{
		stmt:    stmt,
		args:    args,
		rows:    sqltext.Analyze(stmt, syn).ReturnsRows(),
		timeout: e.timeout(h, req.TimeoutSeconds),
		limit:   e.limit(req.FetchSize),
		queryID: e.queryID(req.QueryID),
	}, nil
}

// Bind converts caller parameters into driver arguments. Named parameters
// are rewritten to the dialect's positional placeholders; values are never
// spliced into the text.
func (e *Executor) Bind(h *registry.Handle, op, stmt string, params []interface{}, named map[string]interface{}) (string, []interface{}, error) {
	id := h.ID()
	if len(params) > 0 && len(named) > 0 {
		return "", nil, base.InvalidRequest(id, op, "parameters and named_parameters cannot be combined")
	}
	if len(named) == 0 {
		args, err := normalizeParams(params)
		if err != nil {
			return "", nil, base.InvalidRequest(id, op, err.Error())
		}
		return stmt, args, nil
	}

	values := make(map[string]interface{}, len(named))
	for k, v := range named {
		nv, err := normalizeParam(v)
		if err != nil {
			return "", nil, base.InvalidRequest(id, op, fmt.Sprintf("named parameter %s: %v", k, err))
		}
		values[k] = nv
	}
	rewritten, args, err := sqltext.RewriteNamed(stmt, h.Dialect().Syntax(), values, h.Dialect().Placeholder)
	if err != nil {
		return "", nil, base.InvalidRequest(id, op, err.Error())
	}
	return rewritten, args, nil
}

// timeout resolves the statement timeout: request override, then the
// connection setting, then the default, capped by the maximum.
func (e *Executor) timeout(h *registry.Handle, seconds int) time.Duration {
	d := e.cfg.QueryTimeout
	if t := h.QueryTimeout(); t > 0 {
		d = t
	}
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	if d > e.cfg.MaxQueryTimeout {
		d = e.cfg.MaxQueryTimeout
	}
	return d
}

func (e *Executor) limit(fetchSize int) int {
	if fetchSize > 0 && fetchSize < e.cfg.MaxRows {
		return fetchSize
	}
	return e.cfg.MaxRows
}

// run executes p on q. Errors are returned raw for classification.
func (e *Executor) run(ctx context.Context, q queryer, h *registry.Handle, p *prepared) (*base.QueryResult, error) {
	res := &base.QueryResult{QueryID: p.queryID}
	if !p.rows {
		r, err := q.ExecContext(ctx, p.stmt, p.args...)
		if err != nil {
			return nil, err
		}
		res.Columns = []base.Column{}
		res.Rows = []map[string]interface{}{}
		if n, err := r.RowsAffected(); err == nil {
			res.AffectedRows = n
		}
		if id, err := r.LastInsertId(); err == nil && id > 0 {
			res.LastInsertID = &id
		}
		return res, nil
	}

	rows, err := q.QueryContext(ctx, p.stmt, p.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, data, truncated, err := scanRows(rows, h.Dialect(), p.limit)
	if err != nil {
		return nil, err
	}
	res.Columns = cols
	res.Rows = data
	res.RowCount = len(data)
	res.Truncated = truncated
	return res, nil
}

// scanRows reads at most limit rows through the driver cursor. Repeated
// column names get a numeric suffix so no value is lost in the row map.
func scanRows(rows *sql.Rows, d base.Dialect, limit int) ([]base.Column, []map[string]interface{}, bool, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, false, err
	}
	cols := make([]base.Column, len(types))
	seen := make(map[string]bool, len(types))
	for i, ct := range types {
		cols[i] = base.Column{Name: uniqueName(ct.Name(), seen), Type: ct.DatabaseTypeName()}
	}

	out := make([]map[string]interface{}, 0)
	truncated := false
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for rows.Next() {
		if len(out) >= limit {
			truncated = true
			break
		}
		for i := range vals {
			vals[i] = nil
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, false, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c.Name] = d.ConvertValue(vals[i], c.Type)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return cols, out, truncated, nil
}

func uniqueName(name string, seen map[string]bool) string {
	if name == "" {
		name = "column"
	}
	candidate := name
	for n := 2; seen[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	seen[candidate] = true
	return candidate
}

func normalizeParams(in []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(in))
	for i, v := range in {
		nv, err := normalizeParam(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		out[i] = nv
	}
	return out, nil
}

// normalizeParam converts decoded JSON values into driver values. Numbers
// become int64 when integral, objects and arrays are bound as JSON text.
func normalizeParam(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	case float64:
		if t == float64(int64(t)) && t >= -1<<53 && t <= 1<<53 {
			return int64(t), nil
		}
		return t, nil
	case int:
		return int64(t), nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// TrustedQuery is a statement built by this module with every caller value
// bound as an argument, such as catalog lookups. It skips policy checks.
type TrustedQuery struct {
	ConnectionID string
	Operation    string
	Statement    string
	Args         []interface{}
	// RollbackAfter runs the statement in a transaction that is always
	// rolled back, so nothing it does persists.
	RollbackAfter bool
}

// QueryTrusted runs q on a leased connection and returns its rows. It does
// not record operation metrics; callers observe the enclosing operation.
func (e *Executor) QueryTrusted(ctx context.Context, q TrustedQuery) (*base.QueryResult, error) {
	start := e.now()
	h, err := e.Handle(q.ConnectionID, q.Operation)
	if err != nil {
		return nil, err
	}
	lease, err := e.acquire(ctx, h, q.Operation)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout(h, 0))
	defer cancel()
	runCtx, unbind := lease.Bind(runCtx)
	defer unbind()

	p := &prepared{stmt: q.Statement, args: q.Args, rows: true, limit: e.cfg.MaxRows, queryID: e.newID()}
	var res *base.QueryResult
	if q.RollbackAfter {
		res, err = e.runRolledBack(runCtx, lease, h, p, q.Operation)
	} else {
		res, err = e.run(runCtx, lease.Conn(), h, p)
	}
	if err != nil {
		return nil, e.classify(runCtx, err, h, lease, q.Operation)
	}
	res.ExecutionTimeMs = e.elapsedMs(start)
	return res, nil
}

func (e *Executor) runRolledBack(ctx context.Context, lease *pool.Lease, h *registry.Handle, p *prepared, op string) (*base.QueryResult, error) {
	tx, err := lease.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	res, runErr := e.run(ctx, tx, h, p)
	err = tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		lease.MarkBroken()
		e.metrics.ObserveRollback(h.ID(), err)
		if runErr == nil {
			return nil, base.NewError(base.KindRollbackFailed, base.CodeRollbackFailed, h.ID(), op,
				"rollback failed: "+err.Error(), err).Redacting(h.Secret())
		}
	} else {
		e.metrics.ObserveRollback(h.ID(), nil)
	}
	return res, runErr
}

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

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/sqltext"
)

const (
	// Name is the dialect name used in connection configs.
	Name = "postgres"

	defaultPort    = 5432
	defaultSchema  = "public"
	defaultSSLMode = "prefer"
	defaultAppName = "sqlgate"
)

// Dialect implements base.Dialect and base.Batcher for PostgreSQL on top of
// pgx. Batches are pipelined in one round trip and run in the implicit
// transaction PostgreSQL opens for an extended-protocol pipeline.
type Dialect struct{}

// New returns the PostgreSQL dialect.
func New() *Dialect {
	return &Dialect{}
}

var (
	_ base.Dialect = (*Dialect)(nil)
	_ base.Batcher = (*Dialect)(nil)
)

func (d *Dialect) Name() string { return Name }

func (d *Dialect) DefaultPort() int { return defaultPort }

func (d *Dialect) DefaultSchema(base.ConnectionConfig) string { return defaultSchema }

func (d *Dialect) Syntax() sqltext.Syntax { return sqltext.Postgres }

func (d *Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// ConnConfig builds the pgx configuration for cfg. The password is set on
// the parsed config rather than embedded in the URL so that it never
// appears in a connection string.
func ConnConfig(cfg base.ConnectionConfig) (*pgx.ConnConfig, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	q := url.Values{}
	q.Set("sslmode", defaultSSLMode)
	q.Set("application_name", defaultAppName)
	q.Set("connect_timeout", strconv.Itoa(int(base.DefaultConnectTimeout/time.Second)))
	for k, v := range cfg.Options {
		switch k {
		case "sslmode", "application_name", "connect_timeout", "sslrootcert", "search_path",
			"statement_cache_capacity", "default_query_exec_mode":
			q.Set(k, v)
		default:
			return nil, fmt.Errorf("unsupported postgres option %q", k)
		}
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(cfg.Credentials.Username),
		Host:     net.JoinHostPort(strings.Trim(cfg.Host, "[]"), strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	pc, err := pgx.ParseConfig(u.String())
	if err != nil {
		return nil, errors.New(base.SafeMessage(err.Error()))
	}
	pc.Password = cfg.Credentials.Password.Reveal()
	return pc, nil
}

// Open returns a database/sql handle backed by pgx. No connection is made.
func (d *Dialect) Open(cfg base.ConnectionConfig) (*sql.DB, error) {
	pc, err := ConnConfig(cfg)
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*pc), nil
}

// ConvertValue maps pgx stdlib values to JSON-friendly values.
func (d *Dialect) ConvertValue(v interface{}, databaseType string) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		switch databaseType {
		case "JSON", "JSONB":
			if json.Valid(val) {
				return json.RawMessage(append([]byte(nil), val...))
			}
			return string(val)
		case "BYTEA":
			return append([]byte(nil), val...)
		}
		return string(val)
	case string:
		if (databaseType == "JSON" || databaseType == "JSONB") && json.Valid([]byte(val)) {
			return json.RawMessage(val)
		}
		return val
	default:
		return v
	}
}

// ClassifyError reads SQLSTATE classes: 40 (serialization, deadlock) and
// 53 (resources) are retryable, 08 and 57P0x mean the connection is gone,
// 57014 is a statement timeout or cancel.
func (d *Dialect) ClassifyError(err error) base.ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := base.ErrorClass{
			Code:     base.CodeSQLError,
			SQLState: pgErr.Code,
			Message:  fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code),
		}
		switch {
		case pgErr.Code == "57014":
			class.Code = base.CodeQueryTimeout
			class.Retryable = true
		case strings.HasPrefix(pgErr.Code, "40"), strings.HasPrefix(pgErr.Code, "53"):
			class.Retryable = true
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			class.Retryable = true
			class.BadConn = true
		}
		return class
	}

	var connectErr *pgconn.ConnectError
	switch {
	case errors.As(err, &connectErr):
		return base.ErrorClass{Code: base.CodeConnectError, Retryable: true, BadConn: true, Message: "cannot connect to server"}
	case errors.Is(err, driver.ErrBadConn):
		return base.ErrorClass{Code: base.CodeSQLError, Retryable: true, BadConn: true, Message: "connection lost"}
	case pgconn.Timeout(err):
		return base.ErrorClass{Code: base.CodeQueryTimeout, Retryable: true, BadConn: true}
	case pgconn.SafeToRetry(err):
		return base.ErrorClass{Code: base.CodeSQLError, Retryable: true, BadConn: true}
	}
	return base.ErrorClass{Code: base.CodeSQLError}
}

// ExplainStatement always asks for a JSON plan.
func (d *Dialect) ExplainStatement(stmt string, analyze bool) (string, base.ExplainFormat) {
	if analyze {
		return "EXPLAIN (ANALYZE, FORMAT JSON) " + stmt, base.ExplainJSON
	}
	return "EXPLAIN (FORMAT JSON) " + stmt, base.ExplainJSON
}

// ExecBatch pipelines every set through pgx in one round trip. The pipeline
// ends with a single Sync, so PostgreSQL runs it as one implicit
// transaction: on failure of item k, items before k are rolled back and
// items after k never run.
func (d *Dialect) ExecBatch(ctx context.Context, conn *sql.Conn, stmt string, sets [][]interface{}) base.BatchOutcome {
	out := base.BatchOutcome{Items: make([]base.BatchItemOutcome, len(sets)), Atomic: true}
	for i := range out.Items {
		out.Items[i].Status = base.ItemSkipped
	}

	pipelined := false
	rawErr := conn.Raw(func(driverConn interface{}) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return nil
		}
		pipelined = true
		runPipeline(ctx, sc.Conn(), stmt, sets, &out)
		return nil
	})
	if rawErr != nil {
		out.Err = rawErr
		return out
	}
	if !pipelined {
		return base.ExecSequential(ctx, conn, stmt, sets)
	}
	return out
}

func runPipeline(ctx context.Context, pc *pgx.Conn, stmt string, sets [][]interface{}, out *base.BatchOutcome) {
	batch := &pgx.Batch{}
	for _, args := range sets {
		batch.Queue(stmt, args...)
	}
	results := pc.SendBatch(ctx, batch)

	failed := -1
	var failErr error
	for i := range sets {
		tag, err := results.Exec()
		if err != nil {
			failed, failErr = i, err
			break
		}
		out.Items[i] = base.BatchItemOutcome{Status: base.ItemSucceeded, Affected: tag.RowsAffected()}
	}
	closeErr := results.Close()
	if failErr == nil && closeErr != nil {
		failErr = closeErr
	}
	if failErr == nil {
		return
	}

	for i := range out.Items {
		if out.Items[i].Status == base.ItemSucceeded {
			out.Items[i] = base.BatchItemOutcome{Status: base.ItemRolledBack}
		}
	}

	var pgErr *pgconn.PgError
	if failed >= 0 && errors.As(failErr, &pgErr) {
		out.Items[failed] = base.BatchItemOutcome{Status: base.ItemFailed, Err: failErr}
		return
	}
	out.Err = failErr
}

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

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/sqltext"
)

const (
	// Name is the dialect name used in connection configs.
	Name = "mysql"

	defaultPort = 3306
)

// MySQL server error numbers used for classification.
const (
	errLockWaitTimeout    = 1205
	errDeadlock           = 1213
	errQueryInterrupted   = 1317
	errQueryTimeout       = 3024
	errTooManyConnections = 1040
	errAccessDenied       = 1045
	errServerShutdown     = 1053
)

// Dialect implements base.Dialect for MySQL. MySQL has no pipelined batch
// protocol, so batches run as one prepared statement executed per item.
type Dialect struct{}

// New returns the MySQL dialect.
func New() *Dialect {
	return &Dialect{}
}

var _ base.Dialect = (*Dialect)(nil)

func (d *Dialect) Name() string { return Name }

func (d *Dialect) DefaultPort() int { return defaultPort }

// DefaultSchema is the connection's database; MySQL has no schema level
// below it.
func (d *Dialect) DefaultSchema(cfg base.ConnectionConfig) string { return cfg.Database }

func (d *Dialect) Syntax() sqltext.Syntax { return sqltext.MySQL }

func (d *Dialect) Placeholder(int) string { return "?" }

// DriverConfig builds the driver configuration for cfg. Multi-statements
// and client-side interpolation stay disabled so every value travels as a
// server-side bound parameter.
func DriverConfig(cfg base.ConnectionConfig) (*mysql.Config, error) {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Credentials.Username
	mc.Passwd = cfg.Credentials.Password.Reveal()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(strings.Trim(cfg.Host, "[]"), strconv.Itoa(port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Collation = "utf8mb4_unicode_ci"
	mc.Timeout = base.DefaultConnectTimeout
	mc.ReadTimeout = 0
	mc.WriteTimeout = 0
	mc.MultiStatements = false
	mc.InterpolateParams = false

	for k, v := range cfg.Options {
		switch k {
		case "tls":
			mc.TLSConfig = v
		case "timeout":
			d, err := base.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			mc.Timeout = d
		case "read_timeout":
			d, err := base.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			mc.ReadTimeout = d
		case "write_timeout":
			d, err := base.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			mc.WriteTimeout = d
		case "collation":
			mc.Collation = v
		default:
			return nil, fmt.Errorf("unsupported mysql option %q", k)
		}
	}
	return mc, nil
}

// Open returns a database/sql handle backed by go-sql-driver. No
// connection is made.
func (d *Dialect) Open(cfg base.ConnectionConfig) (*sql.DB, error) {
	mc, err := DriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, errors.New(base.SafeMessage(err.Error(), mc.Passwd))
	}
	return sql.OpenDB(connector), nil
}

// ConvertValue maps driver values to JSON-friendly values. The text
// protocol returns every column as []byte, so numeric types are parsed
// back here; DECIMAL stays a string to keep its precision.
func (d *Dialect) ConvertValue(v interface{}, databaseType string) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	typeName := strings.ToUpper(databaseType)
	switch {
	case strings.HasSuffix(typeName, "INT"):
		if strings.HasPrefix(typeName, "UNSIGNED") {
			if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
				return n
			}
		} else if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		return string(b)
	case typeName == "FLOAT", typeName == "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	case typeName == "JSON":
		if json.Valid(b) {
			return json.RawMessage(append([]byte(nil), b...))
		}
		return string(b)
	case strings.Contains(typeName, "BLOB"), strings.Contains(typeName, "BINARY"), typeName == "BIT", typeName == "GEOMETRY":
		return append([]byte(nil), b...)
	default:
		return string(b)
	}
}

// ClassifyError reads MySQL error numbers: deadlocks and lock wait timeouts
// are retryable, max_execution_time expiry is a query timeout.
func (d *Dialect) ClassifyError(err error) base.ErrorClass {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		class := base.ErrorClass{
			Code:     base.CodeSQLError,
			SQLState: string(myErr.SQLState[:]),
			Message:  fmt.Sprintf("%s (MySQL %d)", myErr.Message, myErr.Number),
		}
		if class.SQLState == "\x00\x00\x00\x00\x00" {
			class.SQLState = ""
		}
		switch myErr.Number {
		case errDeadlock, errLockWaitTimeout:
			class.Retryable = true
		case errQueryTimeout, errQueryInterrupted:
			class.Code = base.CodeQueryTimeout
			class.Retryable = true
		case errTooManyConnections:
			class.Code = base.CodeConnectError
			class.Retryable = true
			class.BadConn = true
		case errAccessDenied:
			class.Code = base.CodeConnectError
			class.BadConn = true
		case errServerShutdown:
			class.Retryable = true
			class.BadConn = true
		}
		return class
	}

	switch {
	case errors.Is(err, mysql.ErrInvalidConn), errors.Is(err, driver.ErrBadConn):
		return base.ErrorClass{Code: base.CodeSQLError, Retryable: true, BadConn: true, Message: "connection lost"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		class := base.ErrorClass{Code: base.CodeSQLError, Retryable: true, BadConn: true, Message: "network error"}
		if netErr.Timeout() {
			class.Code = base.CodeQueryTimeout
		}
		return class
	}
	return base.ErrorClass{Code: base.CodeSQLError}
}

// ExplainStatement uses a JSON plan, or the tree produced by EXPLAIN
// ANALYZE (MySQL 8.0.18+) when the statement is executed.
func (d *Dialect) ExplainStatement(stmt string, analyze bool) (string, base.ExplainFormat) {
	if analyze {
		return "EXPLAIN ANALYZE " + stmt, base.ExplainText
	}
	return "EXPLAIN FORMAT=JSON " + stmt, base.ExplainJSON
}

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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/security"
)

func txRequest(stmts ...string) base.TransactionRequest {
	req := base.TransactionRequest{ConnectionID: "db1"}
	for _, s := range stmts {
		req.Statements = append(req.Statements, base.QueryRequest{Statement: s})
	}
	return req
}

func TestTransaction_Commit(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(q("INSERT INTO accounts (id, balance) VALUES ($1, $2)")).
		WithArgs(int64(1), int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery(q("SELECT balance FROM accounts WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(100)))
	env.mock.ExpectCommit()

	req := base.TransactionRequest{ConnectionID: "db1", Statements: []base.QueryRequest{
		{Statement: "INSERT INTO accounts (id, balance) VALUES ($1, $2)", Parameters: []interface{}{1, 100}},
		{Statement: "SELECT balance FROM accounts WHERE id = $1", Parameters: []interface{}{1}},
	}}
	res, err := env.exec.ExecuteTransaction(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Committed)
	assert.False(t, res.RolledBack)
	assert.Nil(t, res.FailedIndex)
	assert.Nil(t, res.Error)
	require.Len(t, res.Results, 2)
	assert.Equal(t, int64(1), res.Results[0].AffectedRows)
	assert.EqualValues(t, 100, res.Results[1].Rows[0]["balance"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestTransaction_StatementFailureRollsBack(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(q("UPDATE accounts SET balance = balance - 10 WHERE id = 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec(q("UPDATE accounts SET balance = balance + 10 WHERE id = 2")).
		WillReturnError(errors.New("check constraint violated"))
	env.mock.ExpectRollback()

	res, err := env.exec.ExecuteTransaction(context.Background(), txRequest(
		"UPDATE accounts SET balance = balance - 10 WHERE id = 1",
		"UPDATE accounts SET balance = balance + 10 WHERE id = 2",
		"UPDATE audit SET touched = true",
	))
	require.Error(t, err)
	assert.False(t, res.Committed)
	assert.True(t, res.RolledBack)
	require.NotNil(t, res.FailedIndex)
	assert.Equal(t, 1, *res.FailedIndex)
	assert.Empty(t, res.Results)
	assert.Equal(t, base.CodeSQLError, res.Error.Code)
	assert.Same(t, res.Error, err)

	// the third statement never reached the driver
	assert.NoError(t, env.mock.ExpectationsWereMet())
	assert.Equal(t, 1, env.pool.Stats().Idle)
}

func TestTransaction_InvalidStatementRollsBack(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(q("INSERT INTO items (id) VALUES ($1)")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectRollback()

	req := base.TransactionRequest{ConnectionID: "db1", Statements: []base.QueryRequest{
		{Statement: "INSERT INTO items (id) VALUES ($1)", Parameters: []interface{}{1}},
		{Statement: "INVALID SQL"},
	}}
	res, err := env.exec.ExecuteTransaction(context.Background(), req)
	require.Error(t, err)
	assert.True(t, res.RolledBack)
	assert.Equal(t, base.KindValidation, res.Error.Kind)
	assert.Equal(t, base.Code(security.ReasonOperationNotAllowed), res.Error.Code)
	assert.Equal(t, 1, *res.FailedIndex)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestTransaction_InvalidRequests(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	ctx := context.Background()

	res, err := env.exec.ExecuteTransaction(ctx, base.TransactionRequest{ConnectionID: "db1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, base.ErrInvalidRequest))
	assert.False(t, res.Committed)
	assert.False(t, res.RolledBack)

	req := txRequest("SELECT 1")
	req.Statements[0].ConnectionID = "other"
	_, err = env.exec.ExecuteTransaction(ctx, req)
	assert.True(t, errors.Is(err, base.ErrInvalidRequest))

	res, err = env.exec.ExecuteTransaction(ctx, base.TransactionRequest{ConnectionID: "nope", Statements: []base.QueryRequest{{Statement: "SELECT 1"}}})
	assert.True(t, errors.Is(err, base.ErrNotFound))
	assert.False(t, res.RolledBack)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestTransaction_BeginFailure(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin().WillReturnError(errors.New("cannot begin"))

	res, err := env.exec.ExecuteTransaction(context.Background(), txRequest("SELECT 1"))
	require.Error(t, err)
	assert.False(t, res.Committed)
	assert.False(t, res.RolledBack)
	assert.Nil(t, res.FailedIndex)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

// A failed rollback discards the connection, so this test ends with it.
func TestTransaction_RollbackFailure(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(q("DELETE FROM sessions")).WillReturnError(errors.New("lock timeout"))
	env.mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

	res, err := env.exec.ExecuteTransaction(context.Background(), txRequest("DELETE FROM sessions"))
	require.Error(t, err)
	assert.False(t, res.Committed)
	assert.False(t, res.RolledBack)
	assert.Equal(t, base.KindRollbackFailed, res.Error.Kind)
	assert.True(t, errors.Is(err, base.ErrRollbackFailed))
	assert.Contains(t, res.Error.Message, string(base.CodeSQLError))
	assert.Equal(t, uint64(1), env.pool.Stats().Discarded)
}

// A failed commit leaves the session state unknown; the connection is
// discarded, so this test ends with it.
func TestTransaction_CommitFailure(t *testing.T) {
	env := newMockEnv(t, DefaultConfig(), nil)
	env.mock.ExpectBegin()
	env.mock.ExpectExec(q("UPDATE t SET a = 1")).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit().WillReturnError(errors.New("serialization failure " + testPassword))

	res, err := env.exec.ExecuteTransaction(context.Background(), txRequest("UPDATE t SET a = 1"))
	require.Error(t, err)
	assert.False(t, res.Committed)
	assert.True(t, res.RolledBack)
	assert.Empty(t, res.Results)
	assert.True(t, errors.Is(err, base.ErrCommitFailed))
	assert.NotContains(t, res.Error.Message, testPassword)
	assert.Equal(t, uint64(1), env.pool.Stats().Discarded)
}

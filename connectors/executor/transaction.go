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
	"errors"
	"fmt"

	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/pool"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/shared/logger"
)

// ExecuteTransaction runs the statements in order on one connection inside
// a single transaction. Each statement is validated just before it runs;
// the first failure rolls everything back and later statements never run.
//
// The result is never nil. err is nil exactly when the transaction
// committed, and then matches result.Error otherwise.
func (e *Executor) ExecuteTransaction(ctx context.Context, req base.TransactionRequest) (res *base.TransactionResult, err error) {
	start := e.now()
	ctx, span := e.startSpan(ctx, OpTransaction, req.ConnectionID)
	defer func() { e.finish(span, OpTransaction, req.ConnectionID, start, err) }()

	res = &base.TransactionResult{}
	fail := func(be *base.Error) (*base.TransactionResult, error) {
		res.Error = be
		res.Results = nil
		res.ExecutionTimeMs = e.elapsedMs(start)
		return res, be
	}

	h, err := e.Handle(req.ConnectionID, OpTransaction)
	if err != nil {
		return fail(base.AsError(err, req.ConnectionID, OpTransaction))
	}
	if len(req.Statements) == 0 {
		return fail(base.InvalidRequest(h.ID(), OpTransaction, "transaction has no statements"))
	}
	for i, s := range req.Statements {
		if s.ConnectionID != "" && s.ConnectionID != req.ConnectionID {
			return fail(base.InvalidRequest(h.ID(), OpTransaction,
				fmt.Sprintf("statement %d targets connection %s", i, base.SanitizeLogString(s.ConnectionID))))
		}
	}

	lease, err := e.acquire(ctx, h, OpTransaction)
	if err != nil {
		return fail(base.AsError(err, h.ID(), OpTransaction))
	}
	defer lease.Release()

	txCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxQueryTimeout)
	defer cancel()
	txCtx, unbind := lease.Bind(txCtx)
	defer unbind()

	tx, err := lease.Conn().BeginTx(txCtx, nil)
	if err != nil {
		return fail(e.classify(txCtx, err, h, lease, OpTransaction))
	}

	results := make([]*base.QueryResult, 0, len(req.Statements))
	for i, stmt := range req.Statements {
		r, stepErr := e.step(txCtx, tx, h, lease, stmt)
		if stepErr != nil {
			idx := i
			res.FailedIndex = &idx
			return fail(e.rollback(tx, h, lease, res, stepErr))
		}
		results = append(results, r)
	}

	if err := tx.Commit(); err != nil {
		lease.MarkBroken()
		res.RolledBack = true
		ce := base.NewError(base.KindExecution, base.CodeCommitFailed, h.ID(), OpTransaction,
			"commit failed: "+err.Error(), err).Redacting(h.Secret())
		e.log.ForConnection(h.ID()).Error("Transaction commit failed", zap.String("code", string(ce.Code)))
		return fail(ce)
	}

	res.Committed = true
	res.Results = results
	res.ExecutionTimeMs = e.elapsedMs(start)
	return res, nil
}

// step validates and runs one transaction statement under its own timeout.
func (e *Executor) step(ctx context.Context, tx *sql.Tx, h *registry.Handle, lease *pool.Lease, req base.QueryRequest) (*base.QueryResult, *base.Error) {
	start := e.now()
	p, err := e.prepare(h, req, OpTransaction)
	if err != nil {
		return nil, base.AsError(err, h.ID(), OpTransaction)
	}
	stepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	r, err := e.run(stepCtx, tx, h, p)
	if err != nil {
		return nil, e.classify(stepCtx, err, h, lease, OpTransaction)
	}
	r.ExecutionTimeMs = e.elapsedMs(start)
	return r, nil
}

// rollback undoes tx after cause. A rollback that fails leaves the session
// state unknown, so the connection is discarded.
func (e *Executor) rollback(tx *sql.Tx, h *registry.Handle, lease *pool.Lease, res *base.TransactionResult, cause *base.Error) *base.Error {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		lease.MarkBroken()
		e.metrics.ObserveRollback(h.ID(), err)
		e.log.ForConnection(h.ID()).Error("Transaction rollback failed",
			logger.Operation(OpTransaction),
			zap.String("cause", string(cause.Code)))
		return base.NewError(base.KindRollbackFailed, base.CodeRollbackFailed, h.ID(), OpTransaction,
			fmt.Sprintf("rollback failed after %s: %s", cause.Code, err.Error()), err).Redacting(h.Secret())
	}
	e.metrics.ObserveRollback(h.ID(), nil)
	res.RolledBack = true
	return cause
}

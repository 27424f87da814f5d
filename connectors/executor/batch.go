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
	"fmt"

	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/shared/logger"
)

// ExecuteBatch runs one statement against every parameter set on a single
// connection. Dialects implementing base.Batcher pipeline the sets in one
// round trip; others prepare once and execute per set.
//
// Per-item failures are reported on the items. err is non-nil only when
// the batch as a whole failed, and then equals result.BatchError.
func (e *Executor) ExecuteBatch(ctx context.Context, req base.BatchRequest) (res *base.BatchResult, err error) {
	start := e.now()
	ctx, span := e.startSpan(ctx, OpBatch, req.ConnectionID)
	defer func() { e.finish(span, OpBatch, req.ConnectionID, start, err) }()

	res = &base.BatchResult{Items: []base.BatchItemResult{}}
	fail := func(be *base.Error) (*base.BatchResult, error) {
		res.BatchError = be
		res.ExecutionTimeMs = e.elapsedMs(start)
		return res, be
	}

	h, err := e.Handle(req.ConnectionID, OpBatch)
	if err != nil {
		return fail(base.AsError(err, req.ConnectionID, OpBatch))
	}
	if len(req.ParameterSets) == 0 {
		return fail(base.InvalidRequest(h.ID(), OpBatch, "parameter_sets must not be empty"))
	}
	p, err := e.prepare(h, base.QueryRequest{Statement: req.Statement}, OpBatch)
	if err != nil {
		return fail(base.AsError(err, h.ID(), OpBatch))
	}
	sets := make([][]interface{}, len(req.ParameterSets))
	for i, set := range req.ParameterSets {
		args, nerr := normalizeParams(set)
		if nerr != nil {
			return fail(base.InvalidRequest(h.ID(), OpBatch, fmt.Sprintf("parameter set %d: %v", i, nerr)))
		}
		sets[i] = args
	}

	lease, err := e.acquire(ctx, h, OpBatch)
	if err != nil {
		return fail(base.AsError(err, h.ID(), OpBatch))
	}
	defer lease.Release()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	runCtx, unbind := lease.Bind(runCtx)
	defer unbind()

	var out base.BatchOutcome
	if b, ok := h.Dialect().(base.Batcher); ok {
		out = b.ExecBatch(runCtx, lease.Conn(), p.stmt, sets)
	} else {
		out = base.ExecSequential(runCtx, lease.Conn(), p.stmt, sets)
	}

	res.Atomic = out.Atomic
	res.Items = make([]base.BatchItemResult, len(out.Items))
	for i, it := range out.Items {
		item := base.BatchItemResult{Index: i, Status: it.Status, AffectedRows: it.Affected}
		if it.Err != nil {
			item.Error = e.classify(runCtx, it.Err, h, lease, OpBatch)
		}
		switch it.Status {
		case base.ItemSucceeded:
			res.SuccessCount++
			res.TotalAffected += it.Affected
		case base.ItemFailed:
			res.FailureCount++
		}
		res.Items[i] = item
	}
	e.metrics.ObserveBatch(h.ID(), res.Items)

	if out.Err != nil {
		be := e.classify(runCtx, out.Err, h, lease, OpBatch)
		e.log.ForConnection(h.ID()).Warn("Batch failed",
			logger.Operation(OpBatch),
			zap.Int("items", len(sets)),
			zap.String("code", string(be.Code)))
		return fail(be)
	}
	res.ExecutionTimeMs = e.elapsedMs(start)
	return res, nil
}

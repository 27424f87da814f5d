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

package base

import (
	"context"
	"database/sql"
)

// BatchItemOutcome is the driver-level result of one parameter set.
type BatchItemOutcome struct {
	Status   ItemStatus
	Affected int64
	Err      error
}

// BatchOutcome is what a batch run reports back to the executor.
type BatchOutcome struct {
	// Items has one entry per parameter set, in order.
	Items []BatchItemOutcome
	// Atomic reports that the batch applied all-or-nothing.
	Atomic bool
	// Err is a whole-batch failure (prepare failed, connection lost).
	Err error
}

// Batcher is implemented by dialects that can pipeline a batch over a
// single connection in one round trip.
type Batcher interface {
	ExecBatch(ctx context.Context, conn *sql.Conn, stmt string, sets [][]interface{}) BatchOutcome
}

// ExecSequential prepares stmt once on conn and executes every set in
// order. Items are independent: a failing item does not stop the rest. A
// context error stops the run and marks the remaining items skipped.
func ExecSequential(ctx context.Context, conn *sql.Conn, stmt string, sets [][]interface{}) BatchOutcome {
	out := BatchOutcome{Items: make([]BatchItemOutcome, len(sets))}
	for i := range out.Items {
		out.Items[i].Status = ItemSkipped
	}

	prepared, err := conn.PrepareContext(ctx, stmt)
	if err != nil {
		out.Err = err
		return out
	}
	defer prepared.Close()

	for i, args := range sets {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		res, err := prepared.ExecContext(ctx, args...)
		if err != nil {
			out.Items[i] = BatchItemOutcome{Status: ItemFailed, Err: err}
			continue
		}
		affected, _ := res.RowsAffected()
		out.Items[i] = BatchItemOutcome{Status: ItemSucceeded, Affected: affected}
	}
	return out
}

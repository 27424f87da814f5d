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

package pool

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"
)

// Lease is exclusive use of one pooled connection. Release must be called
// on every exit path; calls after the first are no-ops.
type Lease struct {
	pool       *Pool
	conn       *sql.Conn
	checkedAt  time.Time
	acquiredAt time.Time
	broken     atomic.Bool
	once       sync.Once
}

// Conn returns the leased connection.
func (l *Lease) Conn() *sql.Conn { return l.conn }

// ConnectionID returns the id of the pool the lease came from.
func (l *Lease) ConnectionID() string { return l.pool.id }

// Bind derives a context that is also cancelled when the pool force-closes
// its outstanding leases. Statements run on the lease should use it.
func (l *Lease) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.pool.kill, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// ForciblyClosed reports whether the pool cancelled this lease at close.
func (l *Lease) ForciblyClosed() bool {
	return l.pool.kill.Err() != nil
}

// MarkBroken makes Release close the connection instead of reusing it.
func (l *Lease) MarkBroken() {
	l.broken.Store(true)
}

// Broken reports whether the lease was marked broken.
func (l *Lease) Broken() bool {
	return l.broken.Load()
}

// Held returns how long the connection has been leased.
func (l *Lease) Held() time.Duration {
	return l.pool.now().Sub(l.acquiredAt)
}

// Release returns the connection to the pool.
func (l *Lease) Release() {
	l.once.Do(func() { l.pool.put(l) })
}

// Discard closes the connection and frees its slot.
func (l *Lease) Discard() {
	l.MarkBroken()
	l.Release()
}

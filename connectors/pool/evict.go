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
	"time"

	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
)

func (p *Pool) evictLoop() {
	defer p.evictor.Done()
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictIdle()
			p.refill()
		}
	}
}

// evictIdle closes connections idle longer than the idle timeout while the
// pool holds more than its minimum.
func (p *Pool) evictIdle() {
	timeout := p.opts.IdleTimeout.Std()
	if timeout <= 0 {
		return
	}
	n := len(p.idle)
	taken := make([]*idleConn, 0, n)
collect:
	for i := 0; i < n; i++ {
		select {
		case ic := <-p.idle:
			taken = append(taken, ic)
		default:
			break collect
		}
	}

	live := p.live()
	now := p.now()
	evicted := 0
	for _, ic := range taken {
		if live > p.opts.MinSize && now.Sub(ic.idleSince) >= timeout {
			p.closeConn(ic.conn, false)
			p.evicted.Add(1)
			live--
			evicted++
			continue
		}
		p.putIdle(ic)
	}
	if evicted > 0 {
		p.log.Debug("Evicted idle connections", zap.Int("count", evicted))
	}
}

// refill tops the pool back up to its minimum.
func (p *Pool) refill() {
	for i := p.live(); i < p.opts.MinSize; i++ {
		ctx, cancel := context.WithTimeout(p.life, base.DefaultConnectTimeout)
		err := p.grow(ctx, false)
		cancel()
		if err != nil {
			p.log.Warn("Failed to replenish connection pool", zap.String("error", base.SafeMessage(err.Error(), p.secrets...)))
			return
		}
	}
}

// live counts connections that hold a capacity token.
func (p *Pool) live() int {
	return p.opts.MaxSize - len(p.tokens)
}

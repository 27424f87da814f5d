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

// Package metrics records operation outcomes per connection id, both as
// Prometheus series and as the in-memory summary shown by
// list_connections.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"axonflow/sqlgate/connectors/base"
)

const namespace = "sqlgate"

// DefaultHistorySize is the number of recent operations kept per connection.
const DefaultHistorySize = 1000

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	rollbacks  *prometheus.CounterVec
	batchItems *prometheus.CounterVec

	historySize int
	now         func() time.Time

	mu    sync.RWMutex
	conns map[string]*ConnectionMetrics
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithHistorySize bounds the per-connection operation history. Zero or a
// negative size disables it.
func WithHistorySize(n int) Option {
	return func(r *Recorder) { r.historySize = n }
}

// WithClock sets the time source for history entries.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a Recorder and registers its series with reg. A nil reg
// keeps the series unregistered, which tests use for isolation.
func New(reg prometheus.Registerer, opts ...Option) *Recorder {
	r := &Recorder{
		historySize: DefaultHistorySize,
		now:         time.Now,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of tool operations by connection, operation and outcome",
		}, []string{"connection_id", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"connection_id", "operation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Statements rejected by the security policy",
		}, []string{"connection_id", "reason"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Transaction rollbacks by outcome",
		}, []string{"connection_id", "outcome"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_items_total",
			Help:      "Batch items by final status",
		}, []string{"connection_id", "status"}),
		conns: make(map[string]*ConnectionMetrics),
	}
	for _, opt := range opts {
		opt(r)
	}
	if reg != nil {
		reg.MustRegister(r.operations, r.duration, r.rejections, r.rollbacks, r.batchItems)
	}
	return r
}

// ObserveOperation records one operation. Validation rejections are also
// counted by reason.
func (r *Recorder) ObserveOperation(connectionID, operation string, d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
		if code := base.CodeOf(err); code != "" {
			outcome = strings.ToLower(string(code))
		}
		if base.KindOf(err) == base.KindValidation {
			r.rejections.WithLabelValues(connectionID, string(base.CodeOf(err))).Inc()
		}
	}
	r.operations.WithLabelValues(connectionID, operation, outcome).Inc()
	r.duration.WithLabelValues(connectionID, operation).Observe(d.Seconds())
	m := r.connection(connectionID)
	m.Record(d, err)
	m.remember(base.QueryRecord{
		Time:       r.now().UTC(),
		Operation:  operation,
		Outcome:    outcome,
		DurationMs: float64(d) / float64(time.Millisecond),
	})
}

// ObserveRollback records a rollback and whether it succeeded.
func (r *Recorder) ObserveRollback(connectionID string, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.rollbacks.WithLabelValues(connectionID, outcome).Inc()
}

// ObserveBatch counts batch items by status.
func (r *Recorder) ObserveBatch(connectionID string, items []base.BatchItemResult) {
	if r == nil {
		return
	}
	counts := make(map[base.ItemStatus]int)
	for _, it := range items {
		counts[it.Status]++
	}
	for status, n := range counts {
		r.batchItems.WithLabelValues(connectionID, string(status)).Add(float64(n))
	}
}

// QueryStats returns the in-memory summary for a connection.
func (r *Recorder) QueryStats(connectionID string) base.QueryStats {
	if r == nil {
		return base.QueryStats{}
	}
	r.mu.RLock()
	m := r.conns[connectionID]
	r.mu.RUnlock()
	if m == nil {
		return base.QueryStats{}
	}
	return m.Snapshot()
}

// History returns the recent operations of a connection, oldest first.
func (r *Recorder) History(connectionID string) []base.QueryRecord {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	m := r.conns[connectionID]
	r.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.History()
}

// Connections lists the ids with recorded metrics.
func (r *Recorder) Connections() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forget drops every series and the summary of a removed connection.
func (r *Recorder) Forget(connectionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.conns, connectionID)
	r.mu.Unlock()

	match := prometheus.Labels{"connection_id": connectionID}
	r.operations.DeletePartialMatch(match)
	r.duration.DeletePartialMatch(match)
	r.rejections.DeletePartialMatch(match)
	r.rollbacks.DeletePartialMatch(match)
	r.batchItems.DeletePartialMatch(match)
}

func (r *Recorder) connection(id string) *ConnectionMetrics {
	r.mu.RLock()
	m := r.conns[id]
	r.mu.RUnlock()
	if m != nil {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m = r.conns[id]; m == nil {
		m = &ConnectionMetrics{limit: r.historySize}
		r.conns[id] = m
	}
	return m
}

// ConnectionMetrics tracks operation counts for one connection
type ConnectionMetrics struct {
	total         int64
	successful    int64
	failed        int64
	durationTotal int64
	lastQuery     int64

	mu      sync.Mutex
	limit   int
	history []base.QueryRecord
	next    int
}

// Record records one operation
func (m *ConnectionMetrics) Record(d time.Duration, err error) {
	atomic.AddInt64(&m.total, 1)
	atomic.AddInt64(&m.durationTotal, int64(d))
	if err != nil {
		atomic.AddInt64(&m.failed, 1)
	} else {
		atomic.AddInt64(&m.successful, 1)
	}
}

// Snapshot returns current counts
func (m *ConnectionMetrics) Snapshot() base.QueryStats {
	total := atomic.LoadInt64(&m.total)
	stats := base.QueryStats{
		Total:      total,
		Successful: atomic.LoadInt64(&m.successful),
		Failed:     atomic.LoadInt64(&m.failed),
	}
	if total > 0 {
		avg := time.Duration(atomic.LoadInt64(&m.durationTotal) / total)
		stats.AverageMs = float64(avg) / float64(time.Millisecond)
	}
	if last := atomic.LoadInt64(&m.lastQuery); last != 0 {
		t := time.Unix(0, last).UTC()
		stats.LastQueryAt = &t
	}
	return stats
}

// remember appends rec to the ring, overwriting the oldest entry once the
// limit is reached.
func (m *ConnectionMetrics) remember(rec base.QueryRecord) {
	atomic.StoreInt64(&m.lastQuery, rec.Time.UnixNano())
	if m.limit <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < m.limit {
		m.history = append(m.history, rec)
		return
	}
	m.history[m.next] = rec
	m.next = (m.next + 1) % m.limit
}

// History returns a copy of the ring, oldest first.
func (m *ConnectionMetrics) History() []base.QueryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]base.QueryRecord, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	return append(out, m.history[:m.next]...)
}

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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"axonflow/sqlgate/connectors/base"
)

// PoolStatsSource reports the current pool statistics of every registered
// connection.
type PoolStatsSource interface {
	PoolStats() map[string]base.PoolStats
}

// PoolCollector exposes pool state as gauges collected at scrape time, so
// removed connections disappear without explicit cleanup.
type PoolCollector struct {
	source      PoolStatsSource
	connections *prometheus.Desc
	exhausted   *prometheus.Desc
	discarded   *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector creates a collector reading from source.
func NewPoolCollector(source PoolStatsSource) *PoolCollector {
	return &PoolCollector{
		source: source,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "connections"),
			"Pool connections by state",
			[]string{"connection_id", "state"}, nil),
		exhausted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "exhausted_total"),
			"Acquires that timed out waiting for a connection",
			[]string{"connection_id"}, nil),
		discarded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "discarded_total"),
			"Connections closed as broken",
			[]string{"connection_id"}, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.exhausted
	ch <- c.discarded
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for id, st := range c.source.PoolStats() {
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(st.Idle), id, "idle")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(st.Leased), id, "leased")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(st.Opening), id, "opening")
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(st.MaxSize), id, "max")
		ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(st.Exhausted), id)
		ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(st.Discarded), id)
	}
}

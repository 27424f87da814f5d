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

// Package conntest provides in-process backends for tests: a SQLite
// dialect on modernc.org/sqlite and a fake driver connector that only
// answers pings.
package conntest

import (
	"path/filepath"
	"testing"

	"axonflow/sqlgate/connectors/base"
)

// SQLiteConfig returns a connection config for a fresh SQLite database
// file under the test's temporary directory.
func SQLiteConfig(t testing.TB, id string) base.ConnectionConfig {
	t.Helper()
	return base.ConnectionConfig{
		ID:          id,
		Dialect:     SQLiteName,
		Host:        "localhost",
		Database:    filepath.Join(t.TempDir(), id+".db"),
		Credentials: base.Credentials{Username: "test"},
		Pool: base.PoolOptions{
			MinSize: 1,
			MaxSize: 4,
		},
	}
}

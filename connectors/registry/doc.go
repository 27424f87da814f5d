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

/*
Package registry owns every connection pool of the process, keyed by
connection id.

# Overview

The Registry is the single entry point for connection lifecycle. It handles:

  - Validating connection configs and resolving secret references
  - Creating a pool per connection id and pinging the database on add
  - Looking up pools for the executors and the schema inspector
  - Health checks, summaries and pool statistics
  - Draining every pool concurrently at shutdown

# Creating a Registry

Dialects are registered explicitly:

	reg := registry.New(
	    registry.WithDialect(postgres.New()),
	    registry.WithDialect(mysql.New()),
	    registry.WithMetrics(recorder),
	)

# Adding Connections

	err := reg.AddConnection(ctx, base.ConnectionConfig{
	    ID:       "orders",
	    Dialect:  "postgres",
	    Host:     "db.internal",
	    Database: "orders",
	    Credentials: base.Credentials{
	        Username: "app",
	        Password: base.Secret(password),
	    },
	})

An id is reserved before the database is contacted, so two concurrent adds
of the same id cannot both succeed.

# Removing Connections

RemoveConnection unregisters the id first, so no new operation can start
on it, then drains the pool. Operations still running after the pool's
drain timeout are cancelled and fail with a retryable FORCIBLY_CLOSED
error. If the pool still fails to close, for example because ctx ends
while leases are outstanding, RemoveConnection itself returns a
FORCIBLY_CLOSED error; the id stays unregistered.

# Thread Safety

The id map is guarded by a sync.RWMutex. Pinging and draining happen
outside the lock.
*/
package registry

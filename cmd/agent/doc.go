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
Command agent runs the SQL gateway: connection pools for PostgreSQL and
MySQL behind a validated, parameterized tool endpoint.

# Usage

	agent serve --config sqlgate.yaml
	agent validate --dialect postgres "SELECT * FROM orders WHERE id = $1"

# Environment Variables

Every setting in the config file can be overridden:

  - SERVER_ADDR, JWT_SECRET, REDIS_URL, RATE_LIMIT_PER_MINUTE
  - SECURITY_READONLY, SECURITY_MAX_QUERY_LENGTH,
    SECURITY_ALLOWED_OPERATIONS, SECURITY_BLOCKED_KEYWORDS
  - DB_POOL_MIN_SIZE, DB_POOL_MAX_SIZE, DB_POOL_IDLE_TIMEOUT,
    DB_ACQUIRE_TIMEOUT, DB_QUERY_TIMEOUT
  - LOG_LEVEL, LOG_FORMAT

SQLGATE_CONFIG names the config file when --config is not given.
*/
package main

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
Package logger provides component-scoped structured logging for sqlgate.

# Overview

Loggers are thin wrappers over a process-wide zap core. Configure installs
the core once at startup; New then hands out loggers that stamp every entry
with the component name, instance id and container name.

	if err := logger.Configure("info", "json"); err != nil {
	    return err
	}
	log := logger.New("registry").ForConnection("db1")
	log.Info("pool created", zap.Int("min", 2), zap.Int("max", 20))

Connection credentials must never be passed as fields. Statements are only
logged at debug level through base.SanitizeLogString.

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - HOSTNAME: container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

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
Package security validates SQL statements against an operation policy
before they are sent to a database.

# Rules

Rules run in a fixed order and the first failure wins:

 1. QUERY_TOO_LONG: statement exceeds MaxQueryLength bytes.
 2. EMPTY_STATEMENT: nothing but whitespace and comments.
 3. OPERATION_NOT_ALLOWED: leading verb not in AllowedOperations.
 4. READONLY_VIOLATION: ReadonlyMode and the statement mutates, including
    data-modifying WITH bodies and EXPLAIN ANALYZE of a mutating target.
 5. BLOCKED_KEYWORD: a blocked keyword appears as a whole word.
 6. MULTIPLE_STATEMENTS: more than one ';'-separated statement.
 7. DANGEROUS_PATTERN: file access, program execution, remote links,
    sleep functions or credential catalogs.

Every rule looks only at text the server interprets. Keywords inside
string literals, quoted identifiers and comments never match.

Validation is a gate, not a sanitizer. Values always travel as bound
parameters; the validator never rewrites a statement.

# Usage

	v := security.NewValidator()
	if err := v.Validate(stmt, policy, sqltext.Postgres); err != nil {
	    var rej *security.RejectionError
	    errors.As(err, &rej) // rej.Reason == security.ReasonBlockedKeyword ...
	}
*/
package security

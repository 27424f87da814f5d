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

package security

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxQueryLength bounds statement size in bytes.
	DefaultMaxQueryLength = 10000
)

// Policy is the set of rules a statement must satisfy before it reaches a
// driver. Policies are values; callers copy rather than share them.
type Policy struct {
	ReadonlyMode           bool     `json:"readonly_mode" yaml:"readonly_mode"`
	AllowedOperations      []string `json:"allowed_operations" yaml:"allowed_operations"`
	BlockedKeywords        []string `json:"blocked_keywords" yaml:"blocked_keywords"`
	MaxQueryLength         int      `json:"max_query_length" yaml:"max_query_length"`
	CheckDangerousPatterns bool     `json:"check_dangerous_patterns" yaml:"check_dangerous_patterns"`
}

// DefaultPolicy returns the policy applied when nothing else is configured.
func DefaultPolicy() Policy {
	return Policy{
		ReadonlyMode:           false,
		AllowedOperations:      []string{"SELECT", "INSERT", "UPDATE", "DELETE", "WITH", "EXPLAIN"},
		BlockedKeywords:        []string{"DROP", "TRUNCATE", "ALTER"},
		MaxQueryLength:         DefaultMaxQueryLength,
		CheckDangerousPatterns: true,
	}
}

// Normalized returns a copy with upper-cased, de-duplicated, trimmed word
// lists and a positive length bound.
func (p Policy) Normalized() Policy {
	out := p
	out.AllowedOperations = normalizeWords(p.AllowedOperations)
	out.BlockedKeywords = normalizeWords(p.BlockedKeywords)
	if out.MaxQueryLength <= 0 {
		out.MaxQueryLength = DefaultMaxQueryLength
	}
	return out
}

// Validate reports configuration mistakes.
func (p Policy) Validate() error {
	if p.MaxQueryLength < 0 {
		return fmt.Errorf("max_query_length must not be negative, got %d", p.MaxQueryLength)
	}
	if len(normalizeWords(p.AllowedOperations)) == 0 {
		return fmt.Errorf("allowed_operations must name at least one operation")
	}
	for _, op := range p.AllowedOperations {
		if strings.ContainsAny(strings.TrimSpace(op), " \t\n;") {
			return fmt.Errorf("allowed operation %q must be a single word", op)
		}
	}
	return nil
}

// ValidateOverride checks a per-connection policy. An empty operation list
// is allowed there and means the global list applies unchanged.
func (p Policy) ValidateOverride() error {
	if p.MaxQueryLength < 0 {
		return fmt.Errorf("max_query_length must not be negative, got %d", p.MaxQueryLength)
	}
	for _, op := range p.AllowedOperations {
		if strings.ContainsAny(strings.TrimSpace(op), " \t\n;") {
			return fmt.Errorf("allowed operation %q must be a single word", op)
		}
	}
	return nil
}

// Restrict returns p tightened by o. The result is never more permissive
// than p: read-only and pattern checks are OR'd, allowed operations are
// intersected (an empty list in o keeps p's), blocked keywords are unioned
// and the smaller positive length limit wins.
func (p Policy) Restrict(o Policy) Policy {
	p = p.Normalized()
	o.AllowedOperations = normalizeWords(o.AllowedOperations)
	o.BlockedKeywords = normalizeWords(o.BlockedKeywords)

	out := Policy{
		ReadonlyMode:           p.ReadonlyMode || o.ReadonlyMode,
		AllowedOperations:      p.AllowedOperations,
		BlockedKeywords:        normalizeWords(append(append([]string(nil), p.BlockedKeywords...), o.BlockedKeywords...)),
		MaxQueryLength:         p.MaxQueryLength,
		CheckDangerousPatterns: p.CheckDangerousPatterns || o.CheckDangerousPatterns,
	}
	if len(o.AllowedOperations) > 0 {
		allowed := make([]string, 0, len(p.AllowedOperations))
		for _, op := range p.AllowedOperations {
			if o.Allows(op) {
				allowed = append(allowed, op)
			}
		}
		out.AllowedOperations = allowed
	}
	if o.MaxQueryLength > 0 && o.MaxQueryLength < out.MaxQueryLength {
		out.MaxQueryLength = o.MaxQueryLength
	}
	return out
}

// Allows reports whether verb (upper-case) is an allowed operation.
func (p Policy) Allows(verb string) bool {
	for _, op := range p.AllowedOperations {
		if strings.EqualFold(strings.TrimSpace(op), verb) {
			return true
		}
	}
	return false
}

func normalizeWords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, w := range in {
		w = strings.ToUpper(strings.Join(strings.Fields(w), " "))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// ParseList accepts a JSON array (["SELECT","WITH"]) or a comma separated
// list (SELECT,WITH) as used by the SECURITY_* environment variables.
func ParseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

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

	"axonflow/sqlgate/connectors/sqltext"
)

// Reason names the rule a statement failed.
type Reason string

const (
	ReasonEmptyStatement      Reason = "EMPTY_STATEMENT"
	ReasonQueryTooLong        Reason = "QUERY_TOO_LONG"
	ReasonOperationNotAllowed Reason = "OPERATION_NOT_ALLOWED"
	ReasonReadonlyViolation   Reason = "READONLY_VIOLATION"
	ReasonBlockedKeyword      Reason = "BLOCKED_KEYWORD"
	ReasonMultipleStatements  Reason = "MULTIPLE_STATEMENTS"
	ReasonDangerousPattern    Reason = "DANGEROUS_PATTERN"
)

// Reasons lists every rejection reason.
func Reasons() []Reason {
	return []Reason{
		ReasonEmptyStatement, ReasonQueryTooLong, ReasonOperationNotAllowed,
		ReasonReadonlyViolation, ReasonBlockedKeyword, ReasonMultipleStatements,
		ReasonDangerousPattern,
	}
}

// excerptLen bounds how much statement text a rejection may echo back.
const excerptLen = 80

// RejectionError is returned when a statement violates the policy.
type RejectionError struct {
	Reason Reason
	// Subject is the verb, keyword or pattern name that triggered the rule.
	Subject string
	Detail  string
	Excerpt string
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("statement rejected (%s): %s", e.Reason, e.Detail)
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" [%s]", e.Excerpt)
	}
	return msg
}

func reject(reason Reason, subject, detail, stmt string) *RejectionError {
	return &RejectionError{
		Reason:  reason,
		Subject: subject,
		Detail:  detail,
		Excerpt: sqltext.Excerpt(stmt, excerptLen),
	}
}

// Validator checks statements against a Policy. It holds no per-call state
// and is safe for concurrent use.
type Validator struct {
	patterns *PatternSet
}

// Option configures a Validator.
type Option func(*Validator)

// WithPatterns replaces the built-in dangerous pattern set.
func WithPatterns(ps *PatternSet) Option {
	return func(v *Validator) {
		v.patterns = ps
	}
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{patterns: NewPatternSet()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks stmt against policy using the lexical rules of syn. It
// returns nil or a *RejectionError and never modifies stmt.
func (v *Validator) Validate(stmt string, policy Policy, syn sqltext.Syntax) error {
	policy = policy.Normalized()
	if err := checkLength(stmt, policy); err != nil {
		return err
	}
	s := sqltext.Analyze(stmt, syn)
	if s.Empty() {
		return reject(ReasonEmptyStatement, "", "statement is empty", "")
	}

	verb := s.Verb()
	if verb == "" || !policy.Allows(verb) {
		shown := verb
		if shown == "" {
			shown = "<none>"
		}
		return reject(ReasonOperationNotAllowed, verb,
			fmt.Sprintf("operation %s is not allowed; allowed: %s", shown, strings.Join(policy.AllowedOperations, ", ")), stmt)
	}
	if policy.ReadonlyMode && s.Mutating() {
		return reject(ReasonReadonlyViolation, verb,
			fmt.Sprintf("%s modifies data and the connection is read-only", verb), stmt)
	}

	return v.checkBody(s, policy)
}

// ValidateExplainTarget checks a statement that will be wrapped in EXPLAIN.
// The verb allow-list does not apply since the statement only runs when
// analyze is set, and in read-only mode analyze of a mutating statement is
// refused.
func (v *Validator) ValidateExplainTarget(stmt string, policy Policy, syn sqltext.Syntax, analyze bool) error {
	policy = policy.Normalized()
	if err := checkLength(stmt, policy); err != nil {
		return err
	}
	s := sqltext.Analyze(stmt, syn)
	if s.Empty() {
		return reject(ReasonEmptyStatement, "", "statement is empty", "")
	}
	if s.Verb() == "EXPLAIN" {
		return reject(ReasonOperationNotAllowed, "EXPLAIN", "statement is already an EXPLAIN", stmt)
	}
	if analyze && policy.ReadonlyMode && s.Mutating() {
		return reject(ReasonReadonlyViolation, s.Verb(),
			fmt.Sprintf("EXPLAIN ANALYZE would execute %s on a read-only connection", s.Verb()), stmt)
	}
	return v.checkBody(s, policy)
}

func checkLength(stmt string, policy Policy) error {
	if len(stmt) > policy.MaxQueryLength {
		return reject(ReasonQueryTooLong, "",
			fmt.Sprintf("statement is %d bytes, limit is %d", len(stmt), policy.MaxQueryLength), stmt)
	}
	return nil
}

// checkBody applies the keyword, stacking and pattern rules. A statement
// with an unterminated literal or comment cannot be inspected reliably and
// is refused.
func (v *Validator) checkBody(s *sqltext.Statement, policy Policy) error {
	if !s.Complete {
		return reject(ReasonDangerousPattern, "unterminated",
			"statement has an unterminated string, identifier or comment", s.Raw)
	}

	words := s.Words()
	for _, kw := range policy.BlockedKeywords {
		if containsPhrase(words, strings.Fields(kw)) {
			return reject(ReasonBlockedKeyword, kw, fmt.Sprintf("keyword %s is blocked", kw), s.Raw)
		}
	}

	if s.Count > 1 {
		return reject(ReasonMultipleStatements, "",
			fmt.Sprintf("found %d statements, only one is allowed", s.Count), s.Raw)
	}

	if policy.CheckDangerousPatterns && v.patterns != nil {
		if p := v.patterns.Match(stripped(s)); p != nil {
			return reject(ReasonDangerousPattern, p.Name, p.Description, s.Raw)
		}
	}
	return nil
}

// containsPhrase reports whether phrase occurs as consecutive words.
func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// stripped rebuilds the statement from its tokens with every string literal
// emptied and comments dropped, so patterns only see interpreted text.
func stripped(s *sqltext.Statement) string {
	var b strings.Builder
	b.Grow(len(s.Raw))
	for i, t := range s.Tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		if t.Kind == sqltext.String {
			b.WriteString("''")
			continue
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

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

package sqltext

import (
	"errors"
	"fmt"
	"strings"
)

// Class is the broad category of a statement.
type Class int

const (
	ClassOther Class = iota
	ClassQuery
	ClassDML
	ClassDDL
	ClassDCL
	ClassTCL
	ClassUtility
)

func (c Class) String() string {
	switch c {
	case ClassQuery:
		return "DQL"
	case ClassDML:
		return "DML"
	case ClassDDL:
		return "DDL"
	case ClassDCL:
		return "DCL"
	case ClassTCL:
		return "TCL"
	case ClassUtility:
		return "UTILITY"
	default:
		return "OTHER"
	}
}

var verbClasses = map[string]Class{
	"SELECT": ClassQuery, "WITH": ClassQuery, "VALUES": ClassQuery, "TABLE": ClassQuery,

	"INSERT": ClassDML, "UPDATE": ClassDML, "DELETE": ClassDML, "MERGE": ClassDML,
	"REPLACE": ClassDML, "UPSERT": ClassDML, "COPY": ClassDML, "LOAD": ClassDML, "CALL": ClassDML,
	"DO": ClassDML, "HANDLER": ClassDML,

	"CREATE": ClassDDL, "DROP": ClassDDL, "ALTER": ClassDDL, "TRUNCATE": ClassDDL,
	"RENAME": ClassDDL, "COMMENT": ClassDDL, "REINDEX": ClassDDL, "CLUSTER": ClassDDL,
	"REFRESH": ClassDDL, "VACUUM": ClassDDL, "OPTIMIZE": ClassDDL, "REPAIR": ClassDDL,

	"GRANT": ClassDCL, "REVOKE": ClassDCL, "DENY": ClassDCL,

	"BEGIN": ClassTCL, "START": ClassTCL, "COMMIT": ClassTCL, "ROLLBACK": ClassTCL,
	"SAVEPOINT": ClassTCL, "RELEASE": ClassTCL, "END": ClassTCL, "ABORT": ClassTCL,

	"EXPLAIN": ClassUtility, "SHOW": ClassUtility, "DESCRIBE": ClassUtility, "DESC": ClassUtility,
	"SET": ClassUtility, "USE": ClassUtility, "PRAGMA": ClassUtility, "ANALYZE": ClassUtility,
	"ANALYSE": ClassUtility, "LOCK": ClassUtility, "LISTEN": ClassUtility, "NOTIFY": ClassUtility,
	"PREPARE": ClassUtility, "EXECUTE": ClassUtility, "DEALLOCATE": ClassUtility,
	"FLUSH": ClassUtility, "KILL": ClassUtility, "RESET": ClassUtility, "DISCARD": ClassUtility,
}

// ClassOf returns the class of an upper-case verb.
func ClassOf(verb string) Class {
	return verbClasses[verb]
}

// mutatingWords are verbs that change data or schema wherever they appear
// at statement level, including inside a WITH body.
var mutatingWords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "REPLACE": true,
	"UPSERT": true, "TRUNCATE": true, "COPY": true,
}

// explainOptions are words that may sit between EXPLAIN and its target.
var explainOptions = map[string]bool{
	"ANALYZE": true, "ANALYSE": true, "VERBOSE": true, "EXTENDED": true, "PARTITIONS": true,
	"FORMAT": true, "JSON": true, "TEXT": true, "TREE": true, "TRADITIONAL": true, "XML": true,
	"YAML": true, "QUERY": true, "PLAN": true,
}

var rowVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "TABLE": true, "EXPLAIN": true,
	"SHOW": true, "DESCRIBE": true, "DESC": true, "PRAGMA": true,
}

// Statement is the lexical view of one SQL text.
type Statement struct {
	Raw    string
	Tokens []Token
	// Complete is false when a literal or comment was left open.
	Complete bool
	// Count is the number of non-empty ';'-separated statements.
	Count int
}

// Analyze tokenizes raw under syn.
func Analyze(raw string, syn Syntax) *Statement {
	tokens, complete := Tokenize(raw, syn)
	s := &Statement{Raw: raw, Tokens: tokens, Complete: complete}
	pending := false
	for _, t := range tokens {
		if t.Kind == Symbol && t.Text == ";" {
			if pending {
				s.Count++
			}
			pending = false
			continue
		}
		pending = true
	}
	if pending {
		s.Count++
	}
	return s
}

// Empty reports whether the text holds nothing but whitespace and comments.
func (s *Statement) Empty() bool {
	return s.Count == 0
}

// Verb is the first word of the statement, upper-cased. A leading '(' is
// skipped so that parenthesized selects still classify.
func (s *Statement) Verb() string {
	for _, t := range s.Tokens {
		if t.Kind == Symbol && t.Text == "(" {
			continue
		}
		if t.Kind == Word {
			return t.Upper()
		}
		return ""
	}
	return ""
}

// Class returns the class of the leading verb.
func (s *Statement) Class() Class {
	return ClassOf(s.Verb())
}

// Words returns all upper-cased word tokens outside literals and comments.
func (s *Statement) Words() []string {
	out := make([]string, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		if t.Kind == Word {
			out = append(out, t.Upper())
		}
	}
	return out
}

// HasWord reports whether w (upper-case) appears as a standalone word.
func (s *Statement) HasWord(w string) bool {
	for _, t := range s.Tokens {
		if t.Kind == Word && strings.EqualFold(t.Text, w) {
			return true
		}
	}
	return false
}

// ExplainTarget returns the verb EXPLAIN applies to and whether ANALYZE was
// requested. ok is false when the statement is not an EXPLAIN.
func (s *Statement) ExplainTarget() (verb string, analyze bool, ok bool) {
	if s.Verb() != "EXPLAIN" {
		return "", false, false
	}
	depth := 0
	seenExplain := false
	for _, t := range s.Tokens {
		if !seenExplain {
			seenExplain = t.Kind == Word && t.Upper() == "EXPLAIN"
			continue
		}
		switch {
		case t.Kind == Symbol && t.Text == "(":
			depth++
		case t.Kind == Symbol && t.Text == ")":
			depth--
		case depth > 0:
			if t.Kind == Word && (t.Upper() == "ANALYZE" || t.Upper() == "ANALYSE") {
				analyze = true
			}
		case t.Kind == Word && explainOptions[t.Upper()]:
			if t.Upper() == "ANALYZE" || t.Upper() == "ANALYSE" {
				analyze = true
			}
		case t.Kind == Word:
			return t.Upper(), analyze, true
		}
	}
	return "", analyze, true
}

// Mutating reports whether the statement can change data or schema. A WITH
// is mutating when any data-modifying verb appears in its body; an EXPLAIN
// is mutating only when it executes (ANALYZE) a mutating target.
func (s *Statement) Mutating() bool {
	verb := s.Verb()
	switch verb {
	case "":
		return false
	case "WITH":
		for i, t := range s.Tokens {
			if t.Kind != Word || !mutatingWords[t.Upper()] {
				continue
			}
			// REPLACE(...) and INSERT(...) are also string functions.
			if i+1 < len(s.Tokens) && s.Tokens[i+1].Kind == Symbol && s.Tokens[i+1].Text == "(" {
				continue
			}
			return true
		}
		return false
	case "EXPLAIN":
		target, analyze, _ := s.ExplainTarget()
		if !analyze {
			return false
		}
		return target != "" && isMutatingVerb(target)
	}
	return isMutatingVerb(verb)
}

func isMutatingVerb(verb string) bool {
	switch ClassOf(verb) {
	case ClassQuery:
		return false
	case ClassUtility:
		// SET, LOCK, PREPARE and friends change session or server state.
		switch verb {
		case "EXPLAIN", "SHOW", "DESCRIBE", "DESC":
			return false
		}
		return true
	case ClassTCL:
		return false
	default:
		return true
	}
}

// ReturnsRows reports whether executing the statement yields a result set.
func (s *Statement) ReturnsRows() bool {
	if rowVerbs[s.Verb()] {
		return true
	}
	return s.HasWord("RETURNING")
}

// Excerpt returns at most n bytes of the raw text with whitespace collapsed.
func Excerpt(raw string, n int) string {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if len(collapsed) <= n {
		return collapsed
	}
	cut := n
	for cut > 0 && cut < len(collapsed) && collapsed[cut]&0xC0 == 0x80 {
		cut--
	}
	return collapsed[:cut] + "..."
}

// ErrMissingParameter is returned when a named placeholder has no value.
var ErrMissingParameter = errors.New("missing named parameter")

// RewriteNamed replaces :name placeholders outside literals with the
// positional placeholders produced by placeholder(1), placeholder(2), ...
// and returns the argument list in placeholder order. A name used twice
// binds its value twice.
func RewriteNamed(raw string, syn Syntax, named map[string]any, placeholder func(n int) string) (string, []any, error) {
	tokens, _ := Tokenize(raw, syn)
	var b strings.Builder
	b.Grow(len(raw))
	args := make([]any, 0, len(named))
	last := 0
	for _, t := range tokens {
		if t.Kind != Param || !strings.HasPrefix(t.Text, ":") {
			continue
		}
		name := t.Text[1:]
		val, ok := named[name]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
		args = append(args, val)
		b.WriteString(raw[last:t.Start])
		b.WriteString(placeholder(len(args)))
		last = t.End
	}
	b.WriteString(raw[last:])
	return b.String(), args, nil
}

// CountPositional returns the number of positional placeholders: '?' marks
// and the highest $n.
func CountPositional(raw string, syn Syntax) int {
	tokens, _ := Tokenize(raw, syn)
	question, dollar := 0, 0
	for _, t := range tokens {
		if t.Kind != Param {
			continue
		}
		switch {
		case t.Text == "?":
			question++
		case strings.HasPrefix(t.Text, "$"):
			n := 0
			for _, c := range t.Text[1:] {
				n = n*10 + int(c-'0')
			}
			if n > dollar {
				dollar = n
			}
		}
	}
	if dollar > question {
		return dollar
	}
	return question
}

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
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"axonflow/sqlgate/connectors/sqltext"
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	if err == nil {
		return ""
	}
	var rej *RejectionError
	require.True(t, errors.As(err, &rej), "unexpected error type %T", err)
	return rej.Reason
}

func TestValidate_DefaultPolicy(t *testing.T) {
	v := NewValidator()
	policy := DefaultPolicy()

	tests := []struct {
		name string
		sql  string
		want Reason
	}{
		{"simple select", "SELECT 1", ""},
		{"select with params", "SELECT * FROM users WHERE id = $1", ""},
		{"insert", "INSERT INTO t (a) VALUES ($1)", ""},
		{"update", "update t set a = 1 where id = 2", ""},
		{"delete", "DELETE FROM t WHERE id = 1", ""},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", ""},
		{"explain", "EXPLAIN SELECT 1", ""},
		{"trailing semicolon", "SELECT 1;", ""},
		{"keyword inside literal", "SELECT * FROM t WHERE note = 'please DROP me'", ""},
		{"keyword inside comment", "SELECT 1 -- DROP TABLE t", ""},
		{"keyword as quoted ident", `SELECT "drop" FROM t`, ""},
		{"column prefixed with keyword", "SELECT dropped_at FROM t", ""},
		{"empty", "", ReasonEmptyStatement},
		{"whitespace", "  \n\t ", ReasonEmptyStatement},
		{"only comment", "/* nothing */", ReasonEmptyStatement},
		{"create not allowed", "CREATE TABLE t (id int)", ReasonOperationNotAllowed},
		{"grant not allowed", "GRANT ALL ON t TO bob", ReasonOperationNotAllowed},
		{"drop verb", "DROP TABLE users", ReasonOperationNotAllowed},
		{"leading literal", "'x'", ReasonOperationNotAllowed},
		{"blocked keyword lower case", "SELECT 1 FROM t WHERE x IN (SELECT 1) AND truncate = 1", ReasonBlockedKeyword},
		{"blocked keyword in cte", "WITH a AS (SELECT 1) SELECT * FROM a; alter table t add c int", ReasonBlockedKeyword},
		{"stacked", "SELECT 1; SELECT 2", ReasonMultipleStatements},
		{"stacked delete", "SELECT 1; DELETE FROM t", ReasonMultipleStatements},
		{"pg_sleep", "SELECT pg_sleep(10)", ReasonDangerousPattern},
		{"pg_read_file", "SELECT pg_read_file('/etc/passwd')", ReasonDangerousPattern},
		{"dblink", "SELECT * FROM dblink('host=x', 'select 1') AS t(a int)", ReasonDangerousPattern},
		{"credential catalog", "SELECT rolpassword FROM pg_authid", ReasonDangerousPattern},
		{"outfile", "SELECT * FROM t INTO OUTFILE '/tmp/x'", ReasonDangerousPattern},
		{"sleep in literal is fine", "SELECT 'pg_sleep(10)'", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.sql, policy, sqltext.Postgres)
			assert.Equal(t, tt.want, reasonOf(t, err))
		})
	}
}

func TestValidate_Readonly(t *testing.T) {
	v := NewValidator()
	policy := DefaultPolicy()
	policy.ReadonlyMode = true

	tests := []struct {
		sql  string
		want Reason
	}{
		{"SELECT * FROM t", ""},
		{"DELETE FROM t", ReasonReadonlyViolation},
		{"INSERT INTO t VALUES (1)", ReasonReadonlyViolation},
		{"UPDATE t SET a = 1", ReasonReadonlyViolation},
		{"WITH d AS (DELETE FROM t RETURNING id) SELECT * FROM d", ReasonReadonlyViolation},
		{"EXPLAIN DELETE FROM t", ""},
		{"EXPLAIN ANALYZE DELETE FROM t", ReasonReadonlyViolation},
		{"EXPLAIN ANALYZE SELECT 1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, reasonOf(t, v.Validate(tt.sql, policy, sqltext.Postgres)))
		})
	}
}

func TestValidate_MySQLLexicalRules(t *testing.T) {
	v := NewValidator()
	policy := DefaultPolicy()
	policy.ReadonlyMode = true

	tests := []struct {
		name string
		sql  string
		want Reason
	}{
		{"dash arithmetic hides nothing", "WITH a AS (SELECT 1--1) DELETE FROM t", ReasonReadonlyViolation},
		{"executable comment body is checked", "WITH a AS (SELECT 1) /*! DELETE FROM t */", ReasonReadonlyViolation},
		{"backslash in double quoted string", `WITH a AS (SELECT "\" ") DELETE FROM t -- "`, ReasonReadonlyViolation},
		{"dangerous call in executable comment", "SELECT 1 /*! , LOAD_FILE('/etc/passwd') */", ReasonDangerousPattern},
		{"stacked inside executable comment", "SELECT 1 /*! ; SELECT 2 */", ReasonMultipleStatements},
		{"blocked keyword after comment opener", "SELECT 1 /* /* */ , 1 FROM t WHERE 1 = 1 OR drop = 1", ReasonBlockedKeyword},
		{"unterminated string", "SELECT 'abc", ReasonDangerousPattern},
		{"unterminated executable comment", "SELECT 1 /*! , 2", ReasonDangerousPattern},
		{"real comment", "SELECT 1 -- DELETE FROM t", ""},
		{"plain block comment", "SELECT /* DELETE */ 1", ""},
		{"double quoted string literal", `SELECT "DELETE FROM t"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reasonOf(t, v.Validate(tt.sql, policy, sqltext.MySQL)))
		})
	}
}

func TestValidateExplainTarget_Unterminated(t *testing.T) {
	v := NewValidator()
	err := v.ValidateExplainTarget("SELECT * FROM t WHERE a = 'x", DefaultPolicy(), sqltext.Postgres, false)
	assert.Equal(t, ReasonDangerousPattern, reasonOf(t, err))

	err = v.ValidateExplainTarget("SELECT 1 /*! , LOAD_FILE('x') */", DefaultPolicy(), sqltext.MySQL, false)
	assert.Equal(t, ReasonDangerousPattern, reasonOf(t, err))
}

func TestValidate_ReadonlyIgnoresAllowList(t *testing.T) {
	policy := DefaultPolicy()
	policy.ReadonlyMode = true
	policy.AllowedOperations = append(policy.AllowedOperations, "CREATE", "SET")

	v := NewValidator()
	assert.Equal(t, ReasonReadonlyViolation, reasonOf(t, v.Validate("CREATE TABLE t (a int)", policy, sqltext.Postgres)))
	assert.Equal(t, ReasonReadonlyViolation, reasonOf(t, v.Validate("SET search_path = public", policy, sqltext.Postgres)))
}

func TestValidate_QueryTooLong(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxQueryLength = 20

	err := NewValidator().Validate("SELECT * FROM a_really_long_table_name", policy, sqltext.Generic)
	assert.Equal(t, ReasonQueryTooLong, reasonOf(t, err))

	err = NewValidator().Validate("SELECT 1", policy, sqltext.Generic)
	assert.NoError(t, err)
}

func TestValidate_MySQLSyntax(t *testing.T) {
	v := NewValidator()
	policy := DefaultPolicy()

	assert.NoError(t, v.Validate("SELECT `drop` FROM t # DROP", policy, sqltext.MySQL))
	assert.NoError(t, v.Validate(`SELECT 'it\'s; DROP' FROM t`, policy, sqltext.MySQL))
	assert.Equal(t, ReasonDangerousPattern, reasonOf(t, v.Validate("SELECT SLEEP(5)", policy, sqltext.MySQL)))
	assert.Equal(t, ReasonDangerousPattern, reasonOf(t, v.Validate("SELECT LOAD_FILE('/etc/passwd')", policy, sqltext.MySQL)))
	assert.Equal(t, ReasonDangerousPattern, reasonOf(t, v.Validate("SELECT user, authentication_string FROM mysql.user", policy, sqltext.MySQL)))
}

func TestValidate_MultiWordBlockedKeyword(t *testing.T) {
	policy := DefaultPolicy()
	policy.BlockedKeywords = []string{"for  update"}

	v := NewValidator()
	assert.Equal(t, ReasonBlockedKeyword, reasonOf(t, v.Validate("SELECT * FROM t FOR UPDATE", policy, sqltext.Postgres)))
	assert.NoError(t, v.Validate("SELECT * FROM t WHERE for_update = 1", policy, sqltext.Postgres))
}

func TestValidate_DangerousPatternsDisabled(t *testing.T) {
	policy := DefaultPolicy()
	policy.CheckDangerousPatterns = false
	assert.NoError(t, NewValidator().Validate("SELECT pg_sleep(1)", policy, sqltext.Postgres))
}

func TestValidate_CustomPatterns(t *testing.T) {
	custom := NewPatternSetFrom(&Pattern{
		Name:     "no_secrets",
		Category: CategoryCredentialCatalog,
		Regex:    regexp.MustCompile(`(?i)\bsecrets\b`),
	})
	v := NewValidator(WithPatterns(custom))

	err := v.Validate("SELECT * FROM secrets", DefaultPolicy(), sqltext.Postgres)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "no_secrets", rej.Subject)
	assert.NoError(t, v.Validate("SELECT pg_sleep(1)", DefaultPolicy(), sqltext.Postgres))
}

func TestValidate_DoesNotMutateStatement(t *testing.T) {
	stmt := "  SELECT 'a'   FROM t  "
	before := strings.Clone(stmt)
	_ = NewValidator().Validate(stmt, DefaultPolicy(), sqltext.Postgres)
	assert.Equal(t, before, stmt)
}

func TestRejectionError_BoundedExcerpt(t *testing.T) {
	stmt := "CREATE TABLE t (" + strings.Repeat("c int, ", 200) + "d int)"
	err := NewValidator().Validate(stmt, DefaultPolicy(), sqltext.Postgres)
	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.LessOrEqual(t, len(rej.Excerpt), excerptLen+3)
	assert.Contains(t, err.Error(), string(ReasonOperationNotAllowed))
}

func TestValidateExplainTarget(t *testing.T) {
	v := NewValidator()
	policy := DefaultPolicy()
	policy.ReadonlyMode = true

	assert.NoError(t, v.ValidateExplainTarget("DELETE FROM t", policy, sqltext.Postgres, false))
	assert.Equal(t, ReasonReadonlyViolation, reasonOf(t, v.ValidateExplainTarget("DELETE FROM t", policy, sqltext.Postgres, true)))
	assert.NoError(t, v.ValidateExplainTarget("SELECT * FROM t", policy, sqltext.Postgres, true))
	assert.Equal(t, ReasonMultipleStatements, reasonOf(t, v.ValidateExplainTarget("SELECT 1; SELECT 2", policy, sqltext.Postgres, false)))
	assert.Equal(t, ReasonBlockedKeyword, reasonOf(t, v.ValidateExplainTarget("ALTER TABLE t ADD c int", policy, sqltext.Postgres, false)))
	assert.Equal(t, ReasonOperationNotAllowed, reasonOf(t, v.ValidateExplainTarget("EXPLAIN SELECT 1", policy, sqltext.Postgres, false)))
	assert.Equal(t, ReasonEmptyStatement, reasonOf(t, v.ValidateExplainTarget(" ", policy, sqltext.Postgres, false)))
}

func TestPolicy(t *testing.T) {
	p := Policy{AllowedOperations: []string{" select", "SELECT", "with "}, BlockedKeywords: []string{"drop", ""}}.Normalized()
	assert.Equal(t, []string{"SELECT", "WITH"}, p.AllowedOperations)
	assert.Equal(t, []string{"DROP"}, p.BlockedKeywords)
	assert.Equal(t, DefaultMaxQueryLength, p.MaxQueryLength)
	assert.True(t, p.Allows("SELECT"))
	assert.False(t, p.Allows("DELETE"))

	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{}.Validate())
	assert.Error(t, Policy{AllowedOperations: []string{"SELECT; DROP"}}.Validate())
	assert.Error(t, Policy{AllowedOperations: []string{"SELECT"}, MaxQueryLength: -1}.Validate())
}

func TestPolicy_Restrict(t *testing.T) {
	global := DefaultPolicy()
	global.ReadonlyMode = true

	loose := Policy{
		ReadonlyMode:      false,
		AllowedOperations: []string{"delete", "SELECT", "CREATE"},
		BlockedKeywords:   nil,
		MaxQueryLength:    50000,
	}
	got := global.Restrict(loose)
	assert.True(t, got.ReadonlyMode, "read-only cannot be switched off")
	assert.Equal(t, []string{"SELECT", "DELETE"}, got.AllowedOperations)
	assert.Equal(t, []string{"DROP", "TRUNCATE", "ALTER"}, got.BlockedKeywords)
	assert.Equal(t, DefaultMaxQueryLength, got.MaxQueryLength)
	assert.True(t, got.CheckDangerousPatterns, "a partial policy keeps pattern checks on")

	strict := Policy{AllowedOperations: []string{"SELECT"}, BlockedKeywords: []string{"union"}, MaxQueryLength: 100}
	got = DefaultPolicy().Restrict(strict)
	assert.False(t, got.ReadonlyMode)
	assert.Equal(t, []string{"SELECT"}, got.AllowedOperations)
	assert.Equal(t, []string{"DROP", "TRUNCATE", "ALTER", "UNION"}, got.BlockedKeywords)
	assert.Equal(t, 100, got.MaxQueryLength)

	got = DefaultPolicy().Restrict(Policy{ReadonlyMode: true})
	assert.True(t, got.ReadonlyMode)
	assert.Equal(t, DefaultPolicy().AllowedOperations, got.AllowedOperations, "empty list inherits")

	v := NewValidator()
	assert.Equal(t, ReasonReadonlyViolation, reasonOf(t, v.Validate("DELETE FROM t", global.Restrict(loose), sqltext.Postgres)))
	assert.Equal(t, ReasonOperationNotAllowed, reasonOf(t, v.Validate("CREATE TABLE t (a int)", global.Restrict(loose), sqltext.Postgres)))
}

func TestPolicy_ValidateOverride(t *testing.T) {
	assert.NoError(t, Policy{ReadonlyMode: true}.ValidateOverride())
	assert.Error(t, Policy{MaxQueryLength: -1}.ValidateOverride())
	assert.Error(t, Policy{AllowedOperations: []string{"SELECT; DROP"}}.ValidateOverride())
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"SELECT", "WITH"}, ParseList(`["SELECT", "WITH"]`))
	assert.Equal(t, []string{"DROP", "ALTER"}, ParseList("DROP, ALTER"))
	assert.Nil(t, ParseList("  "))
}

func TestPatternSet(t *testing.T) {
	ps := NewPatternSet()
	assert.NotEmpty(t, ps.Patterns())
	assert.NotEmpty(t, ps.PatternsByCategory(CategoryTimeBased))
	for _, p := range ps.Patterns() {
		assert.NotEmpty(t, p.Name)
		assert.NotNil(t, p.Regex)
		assert.True(t, p.Severity >= 1 && p.Severity <= 10, p.Name)
	}
	assert.Nil(t, ps.Match("SELECT 1"))
}

// A verb outside the allow-list is rejected however it is cased or
// surrounded by comments and whitespace.
func TestDisallowedVerbProperty(t *testing.T) {
	verbs := []string{"CREATE", "DROP", "GRANT", "REVOKE", "TRUNCATE", "VACUUM", "COPY", "CALL"}
	rapid.Check(t, func(rt *rapid.T) {
		verb := rapid.SampledFrom(verbs).Draw(rt, "verb")
		cased := mixCase(verb, rapid.SliceOfN(rapid.Bool(), len(verb), len(verb)).Draw(rt, "case"))
		prefix := rapid.SampledFrom([]string{"", " ", "\n", "-- c\n", "/* c */ "}).Draw(rt, "prefix")
		err := NewValidator().Validate(prefix+cased+" something", DefaultPolicy(), sqltext.Postgres)
		var rej *RejectionError
		if !errors.As(err, &rej) || rej.Reason != ReasonOperationNotAllowed {
			rt.Fatalf("expected OPERATION_NOT_ALLOWED for %q, got %v", prefix+cased, err)
		}
	})
}

// A blocked keyword standing alone anywhere in the statement body is found
// regardless of case.
func TestBlockedKeywordProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		kw := rapid.SampledFrom([]string{"DROP", "TRUNCATE", "ALTER"}).Draw(rt, "kw")
		cased := mixCase(kw, rapid.SliceOfN(rapid.Bool(), len(kw), len(kw)).Draw(rt, "case"))
		pos := rapid.IntRange(0, 2).Draw(rt, "pos")
		parts := []string{"SELECT a FROM t", "WHERE b = 1", "ORDER BY a"}
		parts[pos] = parts[pos] + " " + cased
		err := NewValidator().Validate(strings.Join(parts, " "), DefaultPolicy(), sqltext.Postgres)
		var rej *RejectionError
		if !errors.As(err, &rej) || rej.Reason != ReasonBlockedKeyword {
			rt.Fatalf("expected BLOCKED_KEYWORD, got %v", err)
		}
	})
}

func mixCase(s string, upper []bool) string {
	b := []byte(s)
	for i := range b {
		if !upper[i] {
			b[i] = byte(strings.ToLower(string(b[i]))[0])
		}
	}
	return string(b)
}

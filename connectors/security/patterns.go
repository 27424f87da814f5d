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
	"regexp"
)

// Category classifies what a dangerous pattern protects against.
type Category string

const (
	// CategoryFileAccess covers server-side file reads and writes.
	CategoryFileAccess Category = "file_access"

	// CategoryProgramExecution covers running programs on the database host.
	CategoryProgramExecution Category = "program_execution"

	// CategoryRemoteLink covers connections from the server to other servers.
	CategoryRemoteLink Category = "remote_link"

	// CategoryTimeBased covers sleep and benchmark functions used for
	// time-based inference or for tying up pool connections.
	CategoryTimeBased Category = "time_based"

	// CategoryCredentialCatalog covers catalogs holding password hashes.
	CategoryCredentialCatalog Category = "credential_catalog"
)

// Pattern is a dangerous construct matched against statement text with
// literals and comments removed.
type Pattern struct {
	// Name is a stable identifier reported in rejections.
	Name string

	Category Category

	Regex *regexp.Regexp

	Description string

	// Severity indicates the risk level (1-10).
	Severity int
}

// PatternSet holds a collection of dangerous patterns.
type PatternSet struct {
	patterns []*Pattern
}

// NewPatternSet creates a pattern set with the built-in patterns.
func NewPatternSet() *PatternSet {
	return &PatternSet{patterns: defaultPatterns()}
}

// NewPatternSetFrom creates a pattern set from explicit patterns.
func NewPatternSetFrom(patterns ...*Pattern) *PatternSet {
	return &PatternSet{patterns: patterns}
}

// Patterns returns all patterns in the set.
func (ps *PatternSet) Patterns() []*Pattern {
	return ps.patterns
}

// PatternsByCategory returns patterns filtered by category.
func (ps *PatternSet) PatternsByCategory(category Category) []*Pattern {
	var result []*Pattern
	for _, p := range ps.patterns {
		if p.Category == category {
			result = append(result, p)
		}
	}
	return result
}

// Match returns the first pattern matching text, or nil.
func (ps *PatternSet) Match(text string) *Pattern {
	for _, p := range ps.patterns {
		if p.Regex.MatchString(text) {
			return p
		}
	}
	return nil
}

func defaultPatterns() []*Pattern {
	return []*Pattern{
		// File access
		{
			Name:        "pg_file_functions",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\bpg_(read_file|read_binary_file|write_file|ls_dir|stat_file|ls_logdir|ls_waldir)\s*\(`),
			Description: "PostgreSQL server file system functions",
			Severity:    10,
		},
		{
			Name:        "pg_large_object_io",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\blo_(import|export)\s*\(`),
			Description: "PostgreSQL large object import/export to server files",
			Severity:    10,
		},
		{
			Name:        "mysql_load_file",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\bload_file\s*\(`),
			Description: "MySQL LOAD_FILE reads server files",
			Severity:    10,
		},
		{
			Name:        "mysql_into_outfile",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`),
			Description: "MySQL SELECT ... INTO OUTFILE writes server files",
			Severity:    10,
		},
		{
			Name:        "load_data",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\bload\s+data\b`),
			Description: "MySQL LOAD DATA reads files into tables",
			Severity:    9,
		},
		{
			Name:        "copy_file",
			Category:    CategoryFileAccess,
			Regex:       regexp.MustCompile(`(?i)\bcopy\b.*\b(from|to)\s+'`),
			Description: "PostgreSQL COPY to or from a server file",
			Severity:    9,
		},

		// Program execution
		{
			Name:        "copy_program",
			Category:    CategoryProgramExecution,
			Regex:       regexp.MustCompile(`(?i)\bcopy\b.*\bprogram\b`),
			Description: "PostgreSQL COPY ... PROGRAM runs a shell command",
			Severity:    10,
		},
		{
			Name:        "sys_exec",
			Category:    CategoryProgramExecution,
			Regex:       regexp.MustCompile(`(?i)\b(sys_exec|sys_eval|xp_cmdshell)\s*\(`),
			Description: "UDF-based command execution",
			Severity:    10,
		},

		// Remote links
		{
			Name:        "dblink",
			Category:    CategoryRemoteLink,
			Regex:       regexp.MustCompile(`(?i)\bdblink(_exec|_connect|_open|_send_query)?\s*\(`),
			Description: "PostgreSQL dblink opens connections from the server",
			Severity:    9,
		},

		// Time-based
		{
			Name:        "pg_sleep",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bpg_sleep(_for|_until)?\s*\(`),
			Description: "PostgreSQL sleep functions",
			Severity:    7,
		},
		{
			Name:        "mysql_sleep",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bsleep\s*\(`),
			Description: "MySQL SLEEP function",
			Severity:    7,
		},
		{
			Name:        "mysql_benchmark",
			Category:    CategoryTimeBased,
			Regex:       regexp.MustCompile(`(?i)\bbenchmark\s*\(`),
			Description: "MySQL BENCHMARK function",
			Severity:    7,
		},

		// Credential catalogs
		{
			Name:        "pg_credential_catalogs",
			Category:    CategoryCredentialCatalog,
			Regex:       regexp.MustCompile(`(?i)\bpg_(shadow|authid|user_mappings)\b`),
			Description: "PostgreSQL catalogs exposing password hashes",
			Severity:    9,
		},
		{
			Name:        "mysql_user_table",
			Category:    CategoryCredentialCatalog,
			Regex:       regexp.MustCompile("(?i)\\bmysql\\s*\\.\\s*`?user`?\\b"),
			Description: "MySQL account table",
			Severity:    9,
		},
	}
}

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

// Package sqltext is a small literal-aware SQL lexer. It does not parse SQL;
// it only knows enough about comments, string literals and quoted identifiers
// to let callers inspect the words that the server will actually interpret.
package sqltext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Syntax describes the lexical rules of a dialect.
type Syntax struct {
	// HashComments treats '#' as a line comment (MySQL).
	HashComments bool
	// BacktickIdents treats `...` as a quoted identifier (MySQL).
	BacktickIdents bool
	// BackslashEscapes lets '\' escape the next character in '...' (MySQL).
	BackslashEscapes bool
	// DollarQuotes enables $tag$...$tag$ strings and E'...' escapes (PostgreSQL).
	DollarQuotes bool
	// NestedComments lets /* ... */ nest (PostgreSQL).
	NestedComments bool
	// DashCommentNeedsSpace makes '--' a comment only when followed by
	// whitespace, a control character or the end of input (MySQL).
	DashCommentNeedsSpace bool
	// ExecutableComments lexes the body of /*! ... */ and /*M! ... */ as
	// code (MySQL).
	ExecutableComments bool
	// DoubleQuotedStrings treats "..." as a string literal rather than an
	// identifier (MySQL without ANSI_QUOTES).
	DoubleQuotedStrings bool
}

var (
	Postgres = Syntax{DollarQuotes: true, NestedComments: true}
	MySQL    = Syntax{
		HashComments:          true,
		BacktickIdents:        true,
		BackslashEscapes:      true,
		DashCommentNeedsSpace: true,
		ExecutableComments:    true,
		DoubleQuotedStrings:   true,
	}
	// Generic is ANSI-ish: '--' and '/* */' comments, '' strings, "" identifiers.
	Generic = Syntax{}
)

// Kind classifies a token.
type Kind int

const (
	Word Kind = iota
	Number
	String
	QuotedIdent
	Symbol
	Param
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case Number:
		return "number"
	case String:
		return "string"
	case QuotedIdent:
		return "quoted_ident"
	case Symbol:
		return "symbol"
	case Param:
		return "param"
	default:
		return "unknown"
	}
}

// Token is a lexeme with its byte offsets in the source statement.
type Token struct {
	Kind  Kind
	Text  string
	Start int
	End   int
}

// Upper returns the token text upper-cased; only meaningful for words.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Tokenize splits stmt into tokens, dropping whitespace and comments.
// The second result is false when a string, identifier or block comment
// is left unterminated; everything after the opening delimiter is then
// reported as one literal token (or dropped, for comments).
func Tokenize(stmt string, syn Syntax) ([]Token, bool) {
	l := &lexer{src: stmt, syn: syn, complete: true}
	l.run()
	return l.tokens, l.complete
}

type lexer struct {
	src      string
	syn      Syntax
	pos      int
	tokens   []Token
	complete bool
	// execDepth counts open /*! ... */ sections whose body is code.
	execDepth int
}

func (l *lexer) emit(kind Kind, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: l.src[start:l.pos], Start: start, End: l.pos})
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *lexer) run() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		start := l.pos
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			l.pos++
		case c == '-' && l.peek(1) == '-' && l.dashComment():
			l.skipLine()
		case c == '#' && l.syn.HashComments:
			l.skipLine()
		case c == '/' && l.peek(1) == '*' && l.syn.ExecutableComments && l.executableOpener() > 0:
			l.pos += l.executableOpener()
			for n := 0; n < 6 && isDigit(l.peek(0)); n++ {
				l.pos++
			}
			l.execDepth++
		case c == '*' && l.peek(1) == '/' && l.execDepth > 0:
			l.pos += 2
			l.execDepth--
		case c == '/' && l.peek(1) == '*':
			l.skipBlockComment()
		case c == '\'':
			l.quoted('\'', l.syn.BackslashEscapes)
			l.emit(String, start)
		case (c == 'E' || c == 'e') && l.peek(1) == '\'' && l.syn.DollarQuotes:
			l.pos++
			l.quoted('\'', true)
			l.emit(String, start)
		case c == '"' && l.syn.DoubleQuotedStrings:
			l.quoted('"', l.syn.BackslashEscapes)
			l.emit(String, start)
		case c == '"':
			l.quoted('"', false)
			l.emit(QuotedIdent, start)
		case c == '`' && l.syn.BacktickIdents:
			l.quoted('`', false)
			l.emit(QuotedIdent, start)
		case c == '$' && l.syn.DollarQuotes:
			l.dollar()
		case c == '?':
			l.pos++
			l.emit(Param, start)
		case c == ':':
			l.colon()
		case c >= '0' && c <= '9', c == '.' && isDigit(l.peek(1)):
			l.number()
			l.emit(Number, start)
		case isWordStart(c) || c >= utf8.RuneSelf:
			l.word()
			l.emit(Word, start)
		default:
			l.pos++
			l.emit(Symbol, start)
		}
	}
	if l.execDepth > 0 {
		l.complete = false
	}
}

// dashComment reports whether the '--' at pos starts a comment.
func (l *lexer) dashComment() bool {
	if !l.syn.DashCommentNeedsSpace || l.pos+2 >= len(l.src) {
		return true
	}
	return l.src[l.pos+2] <= ' ' || l.src[l.pos+2] == 0x7f
}

// executableOpener returns the length of a /*! or /*M! opener at pos, or 0.
func (l *lexer) executableOpener() int {
	switch {
	case l.peek(2) == '!':
		return 3
	case l.peek(2) == 'M' && l.peek(3) == '!':
		return 4
	}
	return 0
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

// skipBlockComment consumes a block comment, counting nested openers only
// when the dialect nests comments.
func (l *lexer) skipBlockComment() {
	depth := 0
	for l.pos < len(l.src) {
		switch {
		case l.src[l.pos] == '/' && l.peek(1) == '*' && (depth == 0 || l.syn.NestedComments):
			depth++
			l.pos += 2
		case l.src[l.pos] == '*' && l.peek(1) == '/':
			depth--
			l.pos += 2
			if depth == 0 {
				return
			}
		default:
			l.pos++
		}
	}
	l.complete = false
}

// quoted consumes a literal delimited by q where a doubled q is an escaped q.
func (l *lexer) quoted(q byte, backslash bool) {
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case backslash && c == '\\':
			l.pos += 2
		case c == q && l.peek(1) == q:
			l.pos += 2
		case c == q:
			l.pos++
			return
		default:
			l.pos++
		}
	}
	l.pos = len(l.src)
	l.complete = false
}

func (l *lexer) dollar() {
	start := l.pos
	if isDigit(l.peek(1)) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		l.emit(Param, start)
		return
	}
	end := l.pos + 1
	for end < len(l.src) && isWordChar(l.src[end]) && l.src[end] != '$' {
		end++
	}
	if end >= len(l.src) || l.src[end] != '$' {
		l.pos++
		l.emit(Symbol, start)
		return
	}
	tag := l.src[start : end+1]
	body := strings.Index(l.src[end+1:], tag)
	if body < 0 {
		l.pos = len(l.src)
		l.complete = false
	} else {
		l.pos = end + 1 + body + len(tag)
	}
	l.emit(String, start)
}

func (l *lexer) colon() {
	start := l.pos
	switch {
	case l.peek(1) == ':':
		l.pos += 2
		l.emit(Symbol, start)
	case isWordStart(l.peek(1)):
		l.pos++
		for l.pos < len(l.src) && isWordChar(l.src[l.pos]) && l.src[l.pos] != '$' {
			l.pos++
		}
		l.emit(Param, start)
	default:
		l.pos++
		l.emit(Symbol, start)
	}
}

func (l *lexer) number() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isDigit(c) || c == '.' || c == '_' || c == 'x' || c == 'X' ||
			(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			l.pos++
			continue
		}
		if (c == '+' || c == '-') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E') {
			l.pos++
			continue
		}
		return
	}
}

// word always consumes at least one rune so that a stray non-letter rune
// cannot stall the lexer.
func (l *lexer) word() {
	_, size := utf8.DecodeRuneInString(l.src[l.pos:])
	l.pos += size
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return
			}
			l.pos += size
			continue
		}
		if !isWordChar(c) {
			return
		}
		l.pos++
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}

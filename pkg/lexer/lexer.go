// Package lexer implements the single-pass Kabap tokeniser. The source
// is walked one character at a time plus one sentinel pass after the end
// of the buffer, assembling statements as tokens close. Only basic
// sanity checks happen here; token order that makes no sense (such as an
// operator where a block opens) is the executor's problem.
package lexer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kabaplang/kabap-go/pkg/token"
	"github.com/kabaplang/kabap-go/pkg/types"
)

// identPattern is the rule for variable, label and reference names.
var identPattern = regexp.MustCompile(`^[a-z_]+[a-z0-9_]*$`)

// Result is a scanned program with its label table. Labels map a name to
// the index of its label statement; after a goto the executor resumes on
// the statement that follows it.
type Result struct {
	Program token.Program
	Labels  map[string]int
}

// Scan tokenises src into statements. The returned error is a
// *types.Error carrying the offending line.
func Scan(src string) (*Result, error) {
	s := &scanner{
		src:     []rune(src),
		program: token.Program{},
		labels:  make(map[string]int),
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return &Result{Program: s.program, Labels: s.labels}, nil
}

type scanner struct {
	src   []rune
	line  int
	nests int

	program   token.Program
	statement token.Statement
	labels    map[string]int

	current     token.Type // type of the open token
	value       []rune     // accumulating value of the open token
	prev        token.Type
	conditional bool // an if is awaiting its guarded statement
	atEnd       bool
}

func (s *scanner) errorf(format string, args ...any) error {
	return types.Errorf(s.line, format, args...)
}

func (s *scanner) run() error {
	j := len(s.src)
	for i := -1; j > 0 && i <= j; i++ {
		var c rune
		if i > -1 && i < j {
			c = s.src[i]
		}
		s.atEnd = i == j

		next := token.Null
		if i == j {
			next = token.Whitespace
		}

		switch {
		case c == '\n' || i == -1 || i == j:
			// Newline and the sentinel passes close whatever is open.
			// A complete reference or number closes like whitespace
			// would; anything half-built is an error.
			switch s.current {
			case token.Comment:
				s.current = token.StatementEnd
			case token.String:
				return s.errorf("Unterminated string")
			case token.Operator:
				return s.errorf("Unterminated operator")
			case token.Variable, token.Label:
				// A bare sigil whose name never arrived.
				return s.errorf("Unterminated %s", s.current)
			}
			if c == '\n' || i == -1 {
				next = token.LineHint
			}
			c = 0
		case s.current == token.Comment:
			continue
		case c == '"' || s.current == token.String:
			if s.current != token.String {
				next = token.String
				c = 0
			} else if c == '"' {
				next = token.Whitespace
			}
		case c == ' ' || c == '\t' || c == 0:
			if s.current != token.Null {
				next = token.Whitespace
			}
		case c == '{':
			next = token.BlockStart
			s.nests++
		case c == '}':
			next = token.BlockEnd
			if s.nests--; s.nests < 0 {
				return s.errorf("Closing unopened block")
			}
		case strings.ContainsRune("<=>!+-*/%^", c):
			if c == '/' && string(s.value) == "/" {
				// Two consecutive slashes turn into a comment.
				s.current = token.Null
				next = token.Comment
				c = 0
				s.value = s.value[:0]
			} else if s.current != token.Operator {
				next = token.Operator
			}
		case c == '$':
			if s.current != token.Variable {
				next = token.Variable
			}
		case c == ':':
			if s.current != token.Label {
				next = token.Label
			}
		case s.current != token.Reference && (c >= '0' && c <= '9' || c == '.' && s.current == token.Number):
			if s.current != token.Number {
				next = token.Number
			}
		case c == '.' || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
			if s.current != token.Reference {
				next = token.Reference
			}
		case c == ';':
			if s.current != token.StatementEnd {
				next = token.StatementEnd
			}
		default:
			return s.errorf("Unexpected character: %c", c)
		}

		if next != token.Null {
			if err := s.closeToken(); err != nil {
				return err
			}
			if next == token.Whitespace {
				s.current = token.Null
			} else {
				s.current = next
			}
			s.prev = s.current
		}

		// Grow the open token, or stamp the line number on a fresh hint.
		if s.current != token.Null && s.current != token.BlockStart && s.current != token.BlockEnd && c != 0 {
			s.value = append(s.value, c)
		} else if s.current == token.LineHint && len(s.value) == 0 {
			s.line++
			s.value = []rune(strconv.Itoa(s.line))
		}
	}

	// A statement the source never delimited still belongs to the program.
	s.flush()

	if s.nests > 0 {
		return s.errorf("Unclosed open block")
	}
	if s.conditional {
		return s.errorf("A conditional requires a statement after")
	}
	return nil
}

// closeToken finishes the open token: reclassifies flow words, applies
// the inline sanity checks, appends it to the current statement and
// flushes the statement when the token delimits one.
func (s *scanner) closeToken() error {
	if s.current == token.Reference && token.OneOf(token.FlowWords, strings.ToLower(string(s.value))) {
		s.current = token.Flow
		s.value = []rune(strings.ToLower(string(s.value)))
		if string(s.value) == "if" {
			s.conditional = true
		}
	}

	if s.current == token.Null {
		return nil
	}

	n := len(s.statement)
	switch {
	case n > 0 && s.current == token.Label:
		return s.errorf("A label must be in its own statement")

	case n > 0 && (s.statement[n-1].Type == token.Variable && s.statement[n-1].Value == "$" ||
		s.statement[n-1].Type == token.Label && s.statement[n-1].Value == ":"):
		// The token after a bare $ or : names the variable or label.
		sigil := &s.statement[n-1]
		if s.current != token.Reference {
			return s.errorf("Required %s after %s", sigil.Type, sigil.Value)
		}
		name := strings.ToLower(string(s.value))
		if !identPattern.MatchString(name) {
			return s.errorf("Invalid %s, must start with a letter or underscore, and contain only letters, numbers and underscores", sigil.Type)
		}
		sigil.Value = name
		if sigil.Type == token.Label {
			if _, used := s.labels[name]; used {
				return s.errorf("Label already used on line %s: %s", s.labelLine(s.labels[name]), name)
			}
			s.labels[name] = len(s.program)
		}

	case s.current == token.Operator && !token.KnownOperator(string(s.value)):
		return s.errorf("Unknown operator: %s", string(s.value))

	case s.current == token.StatementEnd && n == 0 && s.prev != token.Comment:
		return s.errorf("Missing statement")

	case s.conditional && (s.current == token.Label || s.current == token.BlockEnd):
		return s.errorf("A conditional cannot be followed by a %s", s.current)

	case s.current != token.StatementEnd:
		s.statement = append(s.statement, token.Token{Type: s.current, Value: string(s.value)})
	}
	s.value = s.value[:0]

	switch s.current {
	case token.StatementEnd, token.LineHint, token.BlockStart, token.BlockEnd:
		s.flush()
	}
	return nil
}

// flush moves the current statement into the program. Consecutive line
// hint statements collapse into the latest, and a hint trailing the
// whole source is dropped.
func (s *scanner) flush() {
	if len(s.statement) == 0 {
		return
	}

	if s.conditional && s.statement[0].Type != token.LineHint &&
		!(s.statement[0].Type == token.Flow && s.statement[0].Value == "if") {
		s.conditional = false
	}

	if hint, ok := s.loneHint(s.statement); ok {
		if last := len(s.program) - 1; last >= 0 {
			if prev, ok := s.loneHint(s.program[last]); ok {
				prev.Value = hint.Value
				s.statement = nil
				return
			}
		}
		if s.atEnd {
			s.statement = nil
			return
		}
	}

	s.program = append(s.program, s.statement)
	s.statement = nil
}

func (s *scanner) loneHint(stmt token.Statement) (*token.Token, bool) {
	if len(stmt) == 1 && stmt[0].Type == token.LineHint {
		return &stmt[0], true
	}
	return nil, false
}

// labelLine finds the nearest line hint before the statement at idx, for
// the duplicate-label error.
func (s *scanner) labelLine(idx int) string {
	for k := idx - 1; k >= 0; k-- {
		if s.program[k][0].Type == token.LineHint {
			return s.program[k][0].Value
		}
	}
	return "unknown"
}

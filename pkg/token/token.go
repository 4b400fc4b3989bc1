// Package token defines the token, statement and program model shared by
// the lexer, optimiser, codec and executor.
package token

// Type identifies the lexical class of a token.
type Type int

const (
	// Scanner-internal classes; these never appear in a finished program.
	Null Type = iota
	Whitespace
	Comment

	// Program classes.
	LineHint     // carries the line number as a decimal string
	StatementEnd // delimits statements, never stored
	BlockStart   // {
	BlockEnd     // }
	Flow         // break, goto, if
	Operator
	Variable
	String
	Number
	Reference
	Label
)

// String returns the lowercase class name used in user-facing errors.
func (t Type) String() string {
	switch t {
	case Null:
		return "null"
	case Whitespace:
		return "whitespace"
	case Comment:
		return "comment"
	case LineHint:
		return "linehint"
	case StatementEnd:
		return "statementend"
	case BlockStart:
		return "blockstart"
	case BlockEnd:
		return "blockend"
	case Flow:
		return "flow"
	case Operator:
		return "operator"
	case Variable:
		return "variable"
	case String:
		return "string"
	case Number:
		return "number"
	case Reference:
		return "reference"
	case Label:
		return "label"
	default:
		return "unknown"
	}
}

// Token is the smallest unit of execution: a type and its source lexeme.
type Token struct {
	Type  Type
	Value string
}

// Statement is an ordered, non-empty token sequence. A statement whose
// first token is a LineHint or a Label is a marker; anything else is
// executable.
type Statement []Token

// Clone returns a copy of the statement. The executor works on clones so
// the loaded program is never mutated and repeated runs behave the same.
func (s Statement) Clone() Statement {
	out := make(Statement, len(s))
	copy(out, s)
	return out
}

// Program is the ordered statement list produced by the lexer or codec.
// The executor's outer index over it is the program counter.
type Program []Statement

// FlowWords are the reference lexemes the lexer reclassifies as Flow.
var FlowWords = []string{"break", "goto", "if"}

// Operator lexeme classes; the executor reduces them in pass order.
var (
	Comparators  = []string{"<", "<=", "==", ">=", ">", "!="}
	Mathematical = []string{"+", "-", "*", "/", "%", "^", "++", "--"}
	Assignment   = []string{"="}
	Concatenate  = []string{"<<"}
)

// OneOf reports whether v appears in set.
func OneOf(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// KnownOperator reports whether lexeme is any recognised operator.
func KnownOperator(lexeme string) bool {
	return OneOf(Comparators, lexeme) || OneOf(Mathematical, lexeme) ||
		OneOf(Assignment, lexeme) || OneOf(Concatenate, lexeme)
}

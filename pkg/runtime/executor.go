package runtime

import (
	"math"
	"strconv"
	"strings"

	"github.com/kabaplang/kabap-go/pkg/extension"
	"github.com/kabaplang/kabap-go/pkg/number"
	"github.com/kabaplang/kabap-go/pkg/token"
	"github.com/kabaplang/kabap-go/pkg/types"
)

// execute is the resolution/execution step. The outer loop index over
// the statements is effectively the program counter (goto jumps it in
// either direction). Each statement is cloned into working storage and
// run through five inner passes:
//
//	0 forward:  flow control on break|goto, assignment checks,
//	            variable and reference substitution
//	1 backward: mathematical operator reduction
//	2 backward: string operator reduction
//	3 backward: comparator reduction
//	4 forward:  assignment write, flow control on conditional if
//
// The backward passes give the right-to-left association documented for
// chained operators.
func (e *Engine) execute() bool {
	// A failed parse keeps its error; report nothing new.
	if e.parseFailed {
		return false
	}

	e.line = 0
	e.Stdout = ""
	e.Stderr = ""

	if e.program == nil {
		return e.fail(&types.Error{Message: "Script or tokens must be loaded before running"})
	}

	ticks := 0
	prog := e.program

	for i := 0; i < len(prog); i++ {
		// Bound runaway scripts (such as an infinite goto loop).
		ticks++
		if ticks == e.watchdog && e.watchdog > 0 {
			return e.fail(types.Errorf(e.line, "Watchdog %d ticks timeout, execution break", ticks))
		}

		stmt := prog[i].Clone()

		// Pass 0: trivial statements and flow control.
		if len(stmt) == 1 && stmt[0].Type == token.LineHint {
			if n, err := strconv.Atoi(stmt[0].Value); err == nil {
				e.line = n
			}
			continue
		}
		if len(stmt) == 1 && stmt[0].Type == token.Label {
			continue
		}

		if stmt[0].Type == token.Flow {
			switch stmt[0].Value {
			case "break":
				if len(stmt) > 1 {
					return e.fail(types.Errorf(e.line, "Nothing can be after break"))
				}
				return true
			case "goto":
				if len(stmt) < 2 || stmt[1].Type != token.Reference {
					return e.fail(types.Errorf(e.line, "Expected label after goto"))
				}
				if len(stmt) > 2 {
					return e.fail(types.Errorf(e.line, "Nothing can be after label"))
				}
				target, ok := e.labels[strings.ToLower(stmt[1].Value)]
				if !ok {
					return e.fail(types.Errorf(e.line, "Unknown label: %s", stmt[1].Value))
				}
				// The label statement's own index; the loop increment
				// lands execution on the statement after it.
				i = target
				continue
			}
		}

		// Decide whether this statement is an assignment.
		assignment := false
		opAt := -1
		for m, t := range stmt {
			if t.Type == token.Operator && token.OneOf(token.Assignment, t.Value) {
				if opAt != -1 {
					return e.fail(types.Errorf(e.line, "Only 1 assignment can be in a statement"))
				}
				opAt = m
				assignment = true
			}
		}
		if assignment {
			if opAt != 1 {
				return e.fail(types.Errorf(e.line, "Assignment expects 1 left-hand value"))
			}
			if len(stmt) < 3 {
				return e.fail(types.Errorf(e.line, "Assignment expects a right-hand value"))
			}
			if stmt[0].Type != token.Variable && stmt[0].Type != token.Reference {
				return e.fail(types.Errorf(e.line, "Assignment left-hand value must be a variable or reference"))
			}
		}

		// Pass 0 resolution: replace variables and references with their
		// values, in left-to-right source order.
		for m := 0; m < len(stmt); m++ {
			t := &stmt[m]

			if assignment {
				if m < 2 {
					continue // the LValue and the = are written in pass 4
				}
				switch t.Type {
				case token.Operator, token.Variable, token.String, token.Number, token.Reference:
				default:
					return e.fail(types.Errorf(e.line, "Assignment cannot contain a %s", t.Type))
				}
			}

			switch t.Type {
			case token.Variable:
				v, ok := e.variables[strings.ToLower(t.Value)]
				if !ok {
					return e.fail(types.Errorf(e.line, "Undefined variable: %s", t.Value))
				}
				t.Type, t.Value = token.String, v
			case token.Reference:
				if strings.ToLower(t.Value) == "return" {
					verb := "call"
					if assignment {
						verb = "read"
					}
					return e.fail(types.Errorf(e.line, "Cannot %s from a return", verb))
				}
				v, err := e.extensions.Dispatch(extension.Read, t.Value, "")
				if err != nil {
					return e.fail(types.Errorf(e.line, "%s", err))
				}
				t.Type, t.Value = token.String, v
			}
		}

		// Passes 1-3: operator reduction, right to left.
		var rerr *types.Error
		for pass := 1; pass <= 3; pass++ {
			if stmt, rerr = e.reduce(stmt, pass, assignment); rerr != nil {
				return e.fail(rerr)
			}
		}

		// Pass 4: write the LValue if this is an assignment.
		if assignment {
			if len(stmt) > 3 {
				return e.fail(types.Errorf(e.line, "Assignment takes only one right-hand value"))
			}
			lv, rv := stmt[0], stmt[2]
			switch {
			case lv.Type == token.Variable:
				e.variables[strings.ToLower(lv.Value)] = rv.Value
			case strings.ToLower(lv.Value) == "return":
				e.Stdout = rv.Value
			default:
				if _, err := e.extensions.Dispatch(extension.Write, lv.Value, rv.Value); err != nil {
					return e.fail(types.Errorf(e.line, "%s", err))
				}
			}
		}

		// Pass 4: conditional flow control.
		if stmt[0].Type == token.Flow && stmt[0].Value == "if" {
			if len(stmt) < 2 {
				return e.fail(types.Errorf(e.line, "Missing if condition to be evaluated"))
			}
			if len(stmt) > 2 {
				return e.fail(types.Errorf(e.line, "Only 1 if condition can be evaluated"))
			}
			switch stmt[1].Type {
			case token.Flow, token.BlockStart, token.BlockEnd:
				return e.fail(types.Errorf(e.line, "An if condition cannot contain a %s", stmt[1].Type))
			}

			if number.Extract(stmt[1].Value, 0) == 0 {
				next, err := e.skipConditional(prog, i)
				if err != nil {
					return e.fail(err)
				}
				i = next
			}
		}
	}

	return true
}

// skipConditional scans forward from the false if at index i to find
// where execution resumes: after the matching BlockEnd for the block
// form, or after the single guarded statement for the bare form. Line
// hints are skipped and a nested top-level if passes through so its own
// guarded region is consumed too.
func (e *Engine) skipConditional(prog token.Program, i int) (int, *types.Error) {
	nests := 0
	m := i + 1
	for ; m < len(prog); m++ {
		first := prog[m][0]
		if first.Type == token.LineHint || (nests == 0 && first.Type == token.Flow && first.Value == "if") {
			continue
		}
		switch first.Type {
		case token.BlockStart:
			nests++
		case token.BlockEnd:
			nests--
		}
		if nests == 0 {
			break
		}
	}

	if m == len(prog) || nests > 0 {
		return 0, types.Errorf(e.line, "Could not find the end of a conditional block")
	}
	return m, nil
}

// reduce performs one backward reduction pass over the working buffer.
// Pass 1 reduces mathematical operators, pass 2 the string concatenation
// operator, pass 3 the comparators.
func (e *Engine) reduce(stmt token.Statement, pass int, assignment bool) (token.Statement, *types.Error) {
	for m := len(stmt) - 1; m >= 0; m-- {
		t := stmt[m]
		if t.Type != token.Operator || !inPass(pass, t.Value) {
			continue
		}

		unary := t.Value == "++" || t.Value == "--"

		leftmost := 0
		if assignment {
			leftmost = 2
		}
		if m == leftmost {
			return nil, types.Errorf(e.line, "Missing left-hand operand before operator: %s", t.Value)
		}
		if m+1 == len(stmt) && !unary {
			return nil, types.Errorf(e.line, "Missing right-hand operand after operator: %s", t.Value)
		}
		if lt := stmt[m-1].Type; lt != token.String && lt != token.Number {
			return nil, types.Errorf(e.line, "Left-hand operand cannot be a %s", lt)
		}
		if !unary {
			if rt := stmt[m+1].Type; rt != token.String && rt != token.Number {
				return nil, types.Errorf(e.line, "Right-hand operand cannot be a %s", rt)
			}
		}

		if pass == 2 {
			// String concatenation joins the lexical values as-is.
			stmt[m-1] = token.Token{Type: token.String, Value: stmt[m-1].Value + stmt[m+1].Value}
			stmt = append(stmt[:m], stmt[m+2:]...)
		} else {
			stmt[m-1] = token.Token{Type: token.Number, Value: e.apply(t.Value, stmt, m, unary)}
			if unary {
				stmt = append(stmt[:m], stmt[m+1:]...)
			} else {
				stmt = append(stmt[:m], stmt[m+2:]...)
			}
		}

		// The result sits at m-1 now; step over it so the next operator
		// found is the one to its left.
		m--
	}
	return stmt, nil
}

// apply computes one mathematical or comparator operation. Operands are
// decoded as numbers with a default of 0, except equality which is
// case-insensitive string comparison of the values as-is.
func (e *Engine) apply(op string, stmt token.Statement, m int, unary bool) string {
	left := stmt[m-1].Value
	var right string
	if !unary {
		right = stmt[m+1].Value
	}

	switch op {
	case "==":
		return bool01(strings.EqualFold(left, right))
	case "!=":
		return bool01(!strings.EqualFold(left, right))
	}

	l := number.Extract(left, 0)
	var r float64
	switch {
	case op == "++":
		r = 1
	case op == "--":
		r = -1
	default:
		r = number.Extract(right, 0)
	}

	switch op {
	case "+", "++", "--":
		return number.Format(l+r, e.scale)
	case "-":
		return number.Format(l-r, e.scale)
	case "*":
		return number.Format(l*r, e.scale)
	case "/":
		if r == 0 {
			// Most Kabap users would not understand a division by zero
			// error.
			return "0"
		}
		return number.Format(l/r, e.scale)
	case "%":
		return number.Format(math.Mod(l, r), e.scale)
	case "^":
		return number.Format(math.Pow(l, r), e.scale)
	case "<":
		return bool01(l < r)
	case "<=":
		return bool01(l <= r)
	case ">=":
		return bool01(l >= r)
	case ">":
		return bool01(l > r)
	}
	return ""
}

func inPass(pass int, op string) bool {
	switch pass {
	case 1:
		return token.OneOf(token.Mathematical, op)
	case 2:
		return token.OneOf(token.Concatenate, op)
	case 3:
		return token.OneOf(token.Comparators, op)
	}
	return false
}

func bool01(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Package optimiser rewrites a tokenised program in place. Levels are
// cumulative: 0 does nothing, 1 is reserved for literal folding, 2
// discards line hints, 3 additionally renames user identifiers to
// generated short names (full minification).
package optimiser

import (
	"strings"

	"github.com/kabaplang/kabap-go/pkg/token"
	"github.com/kabaplang/kabap-go/pkg/types"
)

// Optimise applies the requested level to prog and its label table.
// Label targets stay valid across statement removals.
func Optimise(prog *token.Program, labels map[string]int, level int) error {
	if level < 0 || level > 3 {
		return &types.Error{Message: "Optimisation level is out of bounds"}
	}
	if level < 2 {
		// Level 1 literal folding is not implemented yet; nothing to do.
		return nil
	}

	p := *prog

	// Discard every line hint, dropping statements that become empty and
	// pulling label pointers down past the removed indices.
	for k := len(p) - 1; k >= 0; k-- {
		stmt := p[k]
		for m := len(stmt) - 1; m >= 0; m-- {
			if stmt[m].Type == token.LineHint {
				stmt = append(stmt[:m], stmt[m+1:]...)
			}
		}
		p[k] = stmt
		if len(stmt) == 0 {
			p = append(p[:k], p[k+1:]...)
			for name, at := range labels {
				if at >= k {
					labels[name] = at - 1
				}
			}
		}
	}

	if level >= 3 {
		minifyNames(p, labels)
	}

	*prog = p
	return nil
}

// minifyNames rewrites variable, label and goto-target values to short
// generated names. All three share one namespace keyed by sigil, so a
// goto target and its label always land on the same name.
func minifyNames(p token.Program, labels map[string]int) {
	short := make(map[string]string)

	for _, stmt := range p {
		for m := len(stmt) - 1; m >= 0; m-- {
			t := &stmt[m]
			var key string
			switch {
			case t.Type == token.Variable:
				key = "$" + t.Value
			case t.Type == token.Label:
				key = ":" + t.Value
			case t.Type == token.Reference && m > 0 &&
				stmt[m-1].Type == token.Flow && stmt[m-1].Value == "goto":
				key = ":" + t.Value
			default:
				continue
			}
			if _, ok := short[key]; !ok {
				short[key] = indexName(len(short))
			}
			t.Value = short[key]
		}
	}

	// Rebuild the label table under the new names.
	renamed := make(map[string]int)
	for key, name := range short {
		if rest, ok := strings.CutPrefix(key, ":"); ok {
			if at, exists := labels[rest]; exists {
				renamed[name] = at
			}
		}
	}
	for name := range labels {
		delete(labels, name)
	}
	for name, at := range renamed {
		labels[name] = at
	}
}

// indexName converts an index to a spreadsheet-column-style name:
// a..z, aa..az, ba.. and so on.
func indexName(i int) string {
	if i < 0 {
		return ""
	}
	return indexName(i/26-1) + string(rune('a'+i%26))
}

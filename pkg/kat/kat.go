// Package kat reads and writes the persisted token interchange format.
// A .kat file is UTF-8 text: a header comment on the first line, then
// one token per line, each a single-character type sigil optionally
// followed by the lexeme.
package kat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kabaplang/kabap-go/pkg/token"
)

// Header carries the engine settings serialised on the first line.
type Header struct {
	Version    int
	Scale      int
	Watchdog   int
	Optimise   int
	Extensions []string
}

// Document is a decoded token file. Scale and Watchdog are -1 when the
// header omits them, which the engine maps back to its defaults.
type Document struct {
	Program  token.Program
	Labels   map[string]int
	Scale    int
	Watchdog int
}

var sigils = map[token.Type]byte{
	token.LineHint:     '.',
	token.StatementEnd: ';',
	token.BlockStart:   '{',
	token.BlockEnd:     '}',
	token.Flow:         '>',
	token.Operator:     '_',
	token.Variable:     '$',
	token.String:       '"',
	token.Number:       '#',
	token.Reference:    '@',
	token.Label:        ':',
}

var typeOf = func() map[byte]token.Type {
	m := make(map[byte]token.Type, len(sigils))
	for t, c := range sigils {
		m[c] = t
	}
	return m
}()

// immediate reports whether a token auto-delimits a statement; between
// two non-immediate tokens an explicit ";" line is written instead.
func immediate(t token.Type) bool {
	switch t {
	case token.LineHint, token.Label, token.BlockStart, token.BlockEnd:
		return true
	}
	return false
}

// Encode serialises a program with its header line. Trailing newlines
// are truncated.
func Encode(prog token.Program, h Header) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Kabap=Tokens v=%d utf8=✓ s=%d wd=%d o=%d e=%s\n",
		h.Version, h.Scale, h.Watchdog, h.Optimise, strings.Join(h.Extensions, ","))

	lastImmediate := true // nothing precedes the first statement
	for _, stmt := range prog {
		for k, t := range stmt {
			this := immediate(t.Type)
			if k == 0 && !lastImmediate && !this {
				sb.WriteString(";\n")
			}
			lastImmediate = this

			sb.WriteByte(sigils[t.Type])
			sb.WriteString(t.Value)
			sb.WriteByte('\n')
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// Decode parses a token file. The header must declare a version no newer
// than maxVersion and the utf8 marker. The focus here is speed over
// robustness: the first malformed thing encountered aborts the load.
func Decode(text string, maxVersion int) (*Document, error) {
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[0], "//") {
		return nil, fmt.Errorf("kat: missing header")
	}

	preds := make(map[string]string)
	for _, chunk := range strings.Split(lines[0], " ") {
		kv := strings.Split(chunk, "=")
		if len(kv) == 2 {
			preds[kv[0]] = kv[1]
		}
	}
	if preds["Kabap"] != "Tokens" || preds["utf8"] != "✓" {
		return nil, fmt.Errorf("kat: not a token file")
	}
	v, err := strconv.Atoi(preds["v"])
	if err != nil || v < 1 || v > maxVersion {
		return nil, fmt.Errorf("kat: unsupported version %q", preds["v"])
	}

	doc := &Document{
		Program:  token.Program{},
		Scale:    -1,
		Watchdog: -1,
		Labels:   make(map[string]int),
	}
	if s, ok := preds["s"]; ok {
		if doc.Scale, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("kat: bad scale %q", s)
		}
	}
	if s, ok := preds["wd"]; ok {
		if doc.Watchdog, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("kat: bad watchdog %q", s)
		}
	}

	var stmt token.Statement
	lastImmediate := false
	n := len(lines)
	for i := 1; i <= n; i++ { // one faux read past the end flushes the tail
		c := byte(';')
		var value string
		if i < n {
			line := lines[i]
			if line == "" {
				return nil, fmt.Errorf("kat: empty token line %d", i+1)
			}
			c = line[0]
			if len(line) > 1 {
				value = line[1:]
			}
		}
		if c == '/' {
			continue
		}

		this := c == ';' || c == '.' || c == ':' || c == '{' || c == '}'
		if (this || lastImmediate || i == n) && len(stmt) > 0 {
			doc.Program = append(doc.Program, stmt)
			stmt = nil
		}
		if c == ':' {
			doc.Labels[value] = len(doc.Program)
		}

		if c == ';' {
			lastImmediate = false
			continue
		}
		lastImmediate = this
		stmt = append(stmt, token.Token{Type: typeOf[c], Value: value})
	}

	return doc, nil
}

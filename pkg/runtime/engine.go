// Package runtime implements the Kabap engine: lifecycle, configuration,
// the variable store and the statement-at-a-time executor. An Engine is
// not safe for concurrent use; every method blocks its caller.
package runtime

import (
	"strings"

	"github.com/kabaplang/kabap-go/pkg/extension"
	"github.com/kabaplang/kabap-go/pkg/kat"
	"github.com/kabaplang/kabap-go/pkg/lexer"
	"github.com/kabaplang/kabap-go/pkg/optimiser"
	"github.com/kabaplang/kabap-go/pkg/token"
	"github.com/kabaplang/kabap-go/pkg/types"
)

// Engine version, sent to extensions during the registration handshake.
const (
	VersionMajor = 1
	VersionMinor = 0
)

const (
	watchdogDefault = 1000
	scaleDefault    = 3
)

// Engine is one Kabap instance. It persists across calls: variables and
// extensions survive between runs until Reset or ExtensionRemoveAll.
type Engine struct {
	// Stdout holds the execution output, populated by "return =".
	Stdout string
	// Stderr holds the first error raised, empty when none.
	Stderr string

	scale    int
	watchdog int

	program    token.Program
	labels     map[string]int
	variables  map[string]string
	extensions *extension.Registry

	line        int
	parseFailed bool
}

// New creates an engine with defaults applied and the built-in kabap
// extension registered.
func New() *Engine {
	e := &Engine{
		scale:     scaleDefault,
		watchdog:  watchdogDefault,
		variables: make(map[string]string),
	}
	e.ExtensionRemoveAll()
	return e
}

// fail records err in Stderr and returns false for use in return chains.
func (e *Engine) fail(err error) bool {
	e.Stderr = err.Error()
	return false
}

// WatchdogGet returns the statement tick limit; 0 means unlimited.
func (e *Engine) WatchdogGet() int { return e.watchdog }

// WatchdogSet sets the tick limit. Negative values restore the default.
func (e *Engine) WatchdogSet(limit int) {
	if limit < 0 {
		limit = watchdogDefault
	}
	e.watchdog = limit
}

// ScaleGet returns the decimal places kept by numeric operations.
func (e *Engine) ScaleGet() int { return e.scale }

// ScaleSet sets the decimal scale. Negative values restore the default.
func (e *Engine) ScaleSet(scale int) {
	if scale < 0 {
		scale = scaleDefault
	}
	e.scale = scale
}

// Reset clears variables, stdout and stderr and resets every extension.
// The loaded program is kept.
func (e *Engine) Reset() {
	e.line = 0
	e.Stdout = ""
	e.Stderr = ""
	e.variables = make(map[string]string)
	e.extensions.ResetAll()
}

// VariableHas reports whether the variable is set. Keys are given
// without the $ sigil.
func (e *Engine) VariableHas(key string) bool {
	_, ok := e.variables[key]
	return ok
}

// VariableGet returns a variable's value; ok is false when unset.
func (e *Engine) VariableGet(key string) (string, bool) {
	v, ok := e.variables[key]
	return v, ok
}

// VariableSet stores a variable. Host-set keys keep their case; scripts
// always read and write lowercase names.
func (e *Engine) VariableSet(key, value string) {
	e.variables[key] = value
}

// VariableRemove unsets a variable.
func (e *Engine) VariableRemove(key string) {
	delete(e.variables, key)
}

// VariableRemoveAll unsets every variable.
func (e *Engine) VariableRemoveAll() {
	e.variables = make(map[string]string)
}

// VariableStoreGet returns the live variable store.
func (e *Engine) VariableStoreGet() map[string]string {
	return e.variables
}

// VariableStoreSet replaces the variable store wholesale.
func (e *Engine) VariableStoreSet(vars map[string]string) {
	if vars == nil {
		vars = make(map[string]string)
	}
	e.variables = vars
}

// ExtensionAdd registers an extension. It returns false when the
// extension declines the handshake or is already registered.
func (e *Engine) ExtensionAdd(ext extension.Extension) bool {
	return e.extensions.Add(ext)
}

// ExtensionRemove removes a previously added extension. Anonymous
// extensions cannot be removed selectively; the failure is reported in
// Stderr and false returned.
func (e *Engine) ExtensionRemove(ext extension.Extension) bool {
	removed, err := e.extensions.Remove(ext)
	if err != nil {
		e.fail(types.Errorf(e.line, "%s", err))
		return false
	}
	return removed
}

// ExtensionRemoveAll drops every extension and re-adds the built-in one.
func (e *Engine) ExtensionRemoveAll() {
	e.extensions = extension.NewRegistry(VersionMajor, false)
	e.extensions.Add(&kabapExtension{engine: e})
}

// Script loads, tokenises and optimises a script, without executing it.
// On failure Stderr holds the reason and the error sticks until the next
// successful load: Run refuses to execute a program that never parsed.
func (e *Engine) Script(src string) bool {
	src = strings.TrimPrefix(src, "\uFEFF")
	src = strings.ReplaceAll(src, "\r\n", "\n")
	src = strings.ReplaceAll(src, "\r", "\n")

	head := src
	if len(head) > 64 {
		head = head[:64]
	}
	if strings.Contains(strings.ToLower(head), "kabap=tokens") {
		e.parseFailed = true
		return e.fail(&types.Error{Message: "Cannot load tokens as a script"})
	}

	e.Reset()
	e.scale = scaleDefault
	e.watchdog = watchdogDefault
	e.program = nil
	e.labels = nil
	e.parseFailed = true

	res, err := lexer.Scan(src)
	if err != nil {
		return e.fail(err)
	}
	if err := optimiser.Optimise(&res.Program, res.Labels, 1); err != nil {
		return e.fail(err)
	}

	e.program = res.Program
	e.labels = res.Labels
	e.parseFailed = false
	return true
}

// TokensLoad bypasses the tokeniser and loads a pre-parsed .kat token
// string. The header's scale and watchdog settings are applied; absent
// values fall back to the defaults. The focus is speed, not robustness:
// a bad file just returns false.
func (e *Engine) TokensLoad(tokens string) bool {
	doc, err := kat.Decode(tokens, VersionMajor)
	if err != nil {
		return false
	}

	e.Reset()
	e.ScaleSet(doc.Scale)
	e.WatchdogSet(doc.Watchdog)
	e.program = doc.Program
	e.labels = doc.Labels
	e.parseFailed = false
	return true
}

// TokensSave optimises the loaded program to the given level and
// serialises it in the .kat format. It requires a loaded program; on
// failure Stderr holds the reason and ok is false.
func (e *Engine) TokensSave(optimiseLevel int) (string, bool) {
	if e.program == nil {
		e.fail(types.Errorf(e.line, "No script or tokens have yet been loaded"))
		return "", false
	}
	if err := optimiser.Optimise(&e.program, e.labels, optimiseLevel); err != nil {
		e.fail(err)
		return "", false
	}

	return kat.Encode(e.program, kat.Header{
		Version:    VersionMajor,
		Scale:      e.scale,
		Watchdog:   e.watchdog,
		Optimise:   optimiseLevel,
		Extensions: e.extensions.Prefixes("kabap"),
	}), true
}

// Run executes the loaded program. Stdout and Stderr are repopulated;
// variables persist from any previous run unless Reset was called.
func (e *Engine) Run() bool {
	return e.execute()
}

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kabaplang/kabap-go/pkg/extension"
	"github.com/kabaplang/kabap-go/pkg/runtime"
)

// loadScript reads a Kabap script from the testdata directory.
func loadScript(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "scripts", name))
	if err != nil {
		t.Fatalf("failed to load script %s: %v", name, err)
	}
	return string(data)
}

// runScript loads and runs a source string on a fresh engine, applying
// vars between parse and execution (Script resets the variable store).
func runScript(t *testing.T, source string, vars map[string]string) *runtime.Engine {
	t.Helper()
	e := runtime.New()
	return runOn(t, e, source, vars)
}

func runOn(t *testing.T, e *runtime.Engine, source string, vars map[string]string) *runtime.Engine {
	t.Helper()
	if !e.Script(source) {
		t.Fatalf("script failed: %s", e.Stderr)
	}
	for k, v := range vars {
		e.VariableSet(k, v)
	}
	if !e.Run() {
		t.Fatalf("run failed: %s", e.Stderr)
	}
	return e
}

func assertOutput(t *testing.T, e *runtime.Engine, stdout string) {
	t.Helper()
	if e.Stdout != stdout {
		t.Errorf("stdout = %q, want %q", e.Stdout, stdout)
	}
	if e.Stderr != "" {
		t.Errorf("stderr = %q, want empty", e.Stderr)
	}
}

// storeExtension is the host extension used across the suite: a
// prefix-owned in-memory store seeded with foo=bar.
type storeExtension struct {
	prefix string
	store  map[string]string
}

func newStoreExtension() *storeExtension {
	x := &storeExtension{prefix: "test"}
	x.Reset()
	return x
}

func (x *storeExtension) ID() string { return "integration-" + x.prefix }

func (x *storeExtension) Register(version int, debug bool) (string, bool) {
	if version != 1 {
		return "", false
	}
	return x.prefix, true
}

func (x *storeExtension) Reset() {
	x.store = map[string]string{"foo": "bar"}
}

func (x *storeExtension) Handle(msg *extension.Message) *extension.Message {
	parts := strings.Split(strings.ToLower(msg.Name), ".")
	if len(parts) != 2 {
		msg.Result = extension.Ignored
		return msg
	}
	if msg.Type == extension.Read {
		msg.Value = x.store[parts[1]]
		msg.Result = extension.HandledOkay
	} else {
		x.store[parts[1]] = msg.Value
		msg.Result = extension.HandledOkay
	}
	return msg
}

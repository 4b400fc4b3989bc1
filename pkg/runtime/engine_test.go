package runtime

import (
	"strconv"
	"strings"
	"testing"

	"github.com/kabaplang/kabap-go/pkg/extension"
)

// testExt mimics a host extension: a prefix-owned in-memory store
// seeded with foo=bar.
type testExt struct {
	store map[string]string
}

func newTestExt() *testExt {
	x := &testExt{}
	x.Reset()
	return x
}

func (x *testExt) ID() string { return "test" }

func (x *testExt) Register(version int, debug bool) (string, bool) {
	if version != 1 {
		return "", false
	}
	return "test", true
}

func (x *testExt) Reset() {
	x.store = map[string]string{"foo": "bar"}
}

func (x *testExt) Handle(msg *extension.Message) *extension.Message {
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

func run(t *testing.T, e *Engine, src string) bool {
	t.Helper()
	if !e.Script(src) {
		return false
	}
	return e.Run()
}

func expect(t *testing.T, src, stdout, stderr string, ok bool) {
	t.Helper()
	e := New()
	got := run(t, e, src)
	if got != ok {
		t.Errorf("run(%q) = %v, want %v (stderr %q)", src, got, ok, e.Stderr)
	}
	if e.Stdout != stdout {
		t.Errorf("run(%q) stdout = %q, want %q", src, e.Stdout, stdout)
	}
	if e.Stderr != stderr {
		t.Errorf("run(%q) stderr = %q, want %q", src, e.Stderr, stderr)
	}
}

func TestArithmetic(t *testing.T) {
	expect(t, "return = 2+2;", "4", "", true)
	expect(t, "return = 2 + 3 * 4;", "14", "", true)
	expect(t, "return = 2 ^ 10;", "1024", "", true)
	expect(t, "return = 7 % 4;", "3", "", true)
	expect(t, "return = 10 / 4;", "2.5", "", true)
}

func TestRightToLeftAssociation(t *testing.T) {
	// Reduction is right-to-left, so a - b - c is a - (b - c).
	expect(t, "return = 10 - 5 - 3;", "8", "", true)
	expect(t, "return = 100 / 10 / 5;", "50", "", true)
}

func TestDivisionByZeroIsZero(t *testing.T) {
	expect(t, "return = 1/0;", "0", "", true)
	expect(t, "$x = 0; return = 5 / $x;", "0", "", true)
}

func TestIncrementDecrement(t *testing.T) {
	expect(t, "$x = 5; return = $x ++;", "6", "", true)
	expect(t, "$x = 5; return = $x --;", "4", "", true)
}

func TestStringConcatenation(t *testing.T) {
	expect(t, `return = "a" << "b" << 1;`, "ab1", "", true)
	expect(t, `$who = "world"; return = "hello " << $who;`, "hello world", "", true)
}

func TestEqualityIsCaseInsensitiveStringComparison(t *testing.T) {
	expect(t, `return = "Foo" == "foo";`, "1", "", true)
	expect(t, `return = "Foo" != "foo";`, "0", "", true)
	// Not numeric: different lexemes of the same number differ...
	expect(t, "return = 01 == 1;", "0", "", true)
	// ...while the relational operators compare numerically.
	expect(t, "return = 01 >= 1;", "1", "", true)
}

func TestComparators(t *testing.T) {
	expect(t, "return = 2 < 3;", "1", "", true)
	expect(t, "return = 3 <= 3;", "1", "", true)
	expect(t, "return = 2 > 3;", "0", "", true)
	expect(t, "return = 3 >= 4;", "0", "", true)
}

func TestScaleRounding(t *testing.T) {
	expect(t, "return = 10 / 3;", "3.333", "", true)
	expect(t, "kabap.scale = 1; return = 10 / 3;", "3.3", "", true)
	expect(t, "kabap.scale = 0; return = 5 / 2;", "3", "", true)
	expect(t, "kabap.scale = 2; return = kabap.scale;", "2", "", true)
}

func TestConditionalGuardsSingleStatement(t *testing.T) {
	expect(t, "$x = 8; $y = 1.49; $s = $x * $y; if $s > 10; $s = 10; return = $s;", "10", "", true)
	expect(t, "$x = 1; if 0; $x = 2; return = $x;", "1", "", true)
}

func TestConditionalGuardsBlock(t *testing.T) {
	expect(t, "$x = 1; if 0; { $x = 2; $x = 3; } return = $x;", "1", "", true)
	expect(t, "$x = 1; if 1; { $x = 2; } return = $x;", "2", "", true)
	// A nested top-level if passes through with its own guarded statement.
	expect(t, "$x = 1; if 0; if 1; $x = 9; return = $x;", "1", "", true)
}

func TestGotoLoop(t *testing.T) {
	e := New()
	if !e.Script(":loop\n$n = $n + 1;\nif $n < 3;\ngoto loop;\nreturn = $n;") {
		t.Fatalf("script failed: %s", e.Stderr)
	}
	e.VariableSet("n", "0")
	if !e.Run() {
		t.Fatalf("run failed: %s", e.Stderr)
	}
	if e.Stdout != "3" || e.Stderr != "" {
		t.Errorf("stdout=%q stderr=%q, want 3 and empty", e.Stdout, e.Stderr)
	}
}

func TestBreakStopsExecution(t *testing.T) {
	expect(t, "return = 1; break; return = 2;", "1", "", true)
}

func TestRunPersistsVariablesBetweenRuns(t *testing.T) {
	e := New()
	if !e.Script("$n = $n + 1; return = $n;") {
		t.Fatalf("script failed: %s", e.Stderr)
	}
	e.VariableSet("n", "0")

	for i := 1; i <= 3; i++ {
		if !e.Run() {
			t.Fatalf("run %d failed: %s", i, e.Stderr)
		}
		if e.Stdout != strconv.Itoa(i) {
			t.Errorf("run %d stdout = %q, want %q", i, e.Stdout, strconv.Itoa(i))
		}
	}

	// Reset clears the store, so the next run fails on the undefined read.
	e.Reset()
	if e.Run() {
		t.Fatal("run after reset should fail")
	}
	if e.Stderr != "Line 1: Undefined variable: n" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

func TestRunWithoutProgram(t *testing.T) {
	e := New()
	if e.Run() {
		t.Fatal("run without a program should fail")
	}
	if e.Stderr != "Script or tokens must be loaded before running" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

func TestFailedScriptKeepsItsError(t *testing.T) {
	e := New()
	if e.Script("@") {
		t.Fatal("script should fail")
	}
	want := "Line 1: Unexpected character: @"
	if e.Stderr != want {
		t.Fatalf("stderr = %q, want %q", e.Stderr, want)
	}
	if e.Run() {
		t.Fatal("run after failed script should fail")
	}
	if e.Stderr != want {
		t.Errorf("run must re-surface the parse error, got %q", e.Stderr)
	}
}

func TestScriptRejectsTokenFormat(t *testing.T) {
	e := New()
	if e.Script("// Kabap=Tokens v=1 utf8=✓ s=3 wd=1000 o=0 e=") {
		t.Fatal("token text must not load as a script")
	}
	if e.Stderr != "Cannot load tokens as a script" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

func TestWatchdogIsTight(t *testing.T) {
	const src = "$x = 1;" // two ticks: the line hint and the assignment

	e := New()
	e.Script(src)
	e.WatchdogSet(2)
	if e.Run() {
		t.Fatal("watchdog == tick count must trip")
	}
	if e.Stderr != "Line 1: Watchdog 2 ticks timeout, execution break" {
		t.Errorf("stderr = %q", e.Stderr)
	}

	e.Script(src)
	e.WatchdogSet(3)
	if !e.Run() {
		t.Errorf("watchdog > tick count must pass: %s", e.Stderr)
	}

	e.Script(src)
	e.WatchdogSet(0)
	if !e.Run() {
		t.Errorf("watchdog 0 must disable the limit: %s", e.Stderr)
	}
}

func TestWatchdogNegativeRestoresDefault(t *testing.T) {
	e := New()
	e.WatchdogSet(0)
	e.WatchdogSet(-5)
	if e.WatchdogGet() != 1000 {
		t.Errorf("watchdog = %d, want 1000", e.WatchdogGet())
	}
}

func TestBuiltinExtension(t *testing.T) {
	expect(t, "return = kabap.version;", "1.0", "", true)
	expect(t, "kabap.version = 2;", "", "Line 1: kabap.version is read only", false)
	expect(t, "kabap.random = 1;", "", "Line 1: kabap.random is read only", false)

	e := New()
	if !run(t, e, "return = kabap.random;") {
		t.Fatalf("random read failed: %s", e.Stderr)
	}
	n, err := strconv.Atoi(e.Stdout)
	if err != nil || n < 0 || n >= 10000 {
		t.Errorf("kabap.random = %q, want an integer in [0,10000)", e.Stdout)
	}
}

func TestHostExtensionReadWrite(t *testing.T) {
	e := New()
	if !e.ExtensionAdd(newTestExt()) {
		t.Fatal("extension add failed")
	}
	if !run(t, e, "return = test.foo;") {
		t.Fatalf("run failed: %s", e.Stderr)
	}
	if e.Stdout != "bar" {
		t.Errorf("stdout = %q, want %q", e.Stdout, "bar")
	}

	if !run(t, e, `test.foo = "baz"; return = test.foo;`) {
		t.Fatalf("run failed: %s", e.Stderr)
	}
	if e.Stdout != "baz" {
		t.Errorf("stdout = %q, want %q", e.Stdout, "baz")
	}
}

func TestExtensionDuplicateAndRemove(t *testing.T) {
	e := New()
	ext := newTestExt()
	if !e.ExtensionAdd(ext) {
		t.Fatal("first add failed")
	}
	if e.ExtensionAdd(newTestExt()) {
		t.Error("second add of the same identity must fail")
	}

	if !e.ExtensionRemove(ext) {
		t.Fatal("remove failed")
	}
	if run(t, e, "return = test.foo;") {
		t.Fatal("run should fail once the extension is gone")
	}
	if e.Stderr != "Line 1: Reference not found: test.foo" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

func TestExtensionRemoveAllKeepsBuiltin(t *testing.T) {
	e := New()
	e.ExtensionAdd(newTestExt())
	e.ExtensionRemoveAll()

	if run(t, e, "return = test.foo;") {
		t.Error("test extension should be gone")
	}
	if !run(t, e, "return = kabap.version;") {
		t.Errorf("builtin must be re-added: %s", e.Stderr)
	}
}

// anonymousExt has no stable identity, so it cannot be removed.
type anonymousExt struct{}

func (anonymousExt) Register(version int, debug bool) (string, bool) { return "anon", true }
func (anonymousExt) Reset()                                          {}
func (anonymousExt) Handle(msg *extension.Message) *extension.Message {
	msg.Result = extension.Ignored
	return msg
}

func TestAnonymousExtensionCannotBeRemoved(t *testing.T) {
	e := New()
	ext := anonymousExt{}
	if !e.ExtensionAdd(ext) {
		t.Fatal("add failed")
	}
	if e.ExtensionRemove(ext) {
		t.Error("anonymous extensions must not be removable")
	}
	if e.Stderr != "Anonymous extensions cannot be removed" {
		t.Errorf("stderr = %q", e.Stderr)
	}

	// The host's way out is to remove all and re-add what it wants.
	e.ExtensionRemoveAll()
	if !run(t, e, "return = kabap.version;") {
		t.Errorf("builtin must survive remove-all: %s", e.Stderr)
	}
}

func TestReturnReferenceIsWriteOnly(t *testing.T) {
	expect(t, "$x = return;", "", "Line 1: Cannot read from a return", false)
	expect(t, "return;", "", "Line 1: Cannot call from a return", false)
}

func TestExecutorErrors(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"return = $missing;", "Line 1: Undefined variable: missing"},
		{"goto nowhere;", "Line 1: Unknown label: nowhere"},
		{"break 1;", "Line 1: Nothing can be after break"},
		{"goto;", "Line 1: Expected label after goto"},
		{":a;\ngoto a 1;", "Line 2: Nothing can be after label"},
		{"$x = 1 = 2;", "Line 1: Only 1 assignment can be in a statement"},
		{"$x 1 = 2;", "Line 1: Assignment expects 1 left-hand value"},
		{"$x =;", "Line 1: Assignment expects a right-hand value"},
		{"1 = 2;", "Line 1: Assignment left-hand value must be a variable or reference"},
		{"$x = if;\n$y = 1;", "Line 1: Assignment cannot contain a flow"},
		{"$x = 1 2;", "Line 1: Assignment takes only one right-hand value"},
		{"$x = + 1;", "Line 1: Missing left-hand operand before operator: +"},
		{"5 +;", "Line 1: Missing right-hand operand after operator: +"},
		{"5 + + 5;", "Line 1: Left-hand operand cannot be a operator"},
		{"if;\n$x = 1;", "Line 1: Missing if condition to be evaluated"},
		{"if 1 2;\n$x = 1;", "Line 1: Only 1 if condition can be evaluated"},
		{"return = nosuch.thing;", "Line 1: Reference not found: nosuch.thing"},
	}
	for _, c := range cases {
		expect(t, c.src, "", c.want, false)
	}
}

func TestVariableStoreAccess(t *testing.T) {
	e := New()
	e.VariableSet("Mixed", "kept")
	if !e.VariableHas("Mixed") {
		t.Error("host-set key must keep its case")
	}
	if v, _ := e.VariableGet("Mixed"); v != "kept" {
		t.Errorf("VariableGet = %q", v)
	}

	e.VariableRemove("Mixed")
	if e.VariableHas("Mixed") {
		t.Error("remove failed")
	}

	e.VariableStoreSet(map[string]string{"a": "1"})
	if len(e.VariableStoreGet()) != 1 {
		t.Errorf("store = %v", e.VariableStoreGet())
	}
	e.VariableRemoveAll()
	if len(e.VariableStoreGet()) != 0 {
		t.Errorf("store not emptied: %v", e.VariableStoreGet())
	}
}

func TestScriptWritesVariablesLowercase(t *testing.T) {
	e := New()
	if !run(t, e, "$Total = 42;") {
		t.Fatalf("run failed: %s", e.Stderr)
	}
	if v, ok := e.VariableGet("total"); !ok || v != "42" {
		t.Errorf("total = %q, %v; want 42", v, ok)
	}
}

func TestTokensSaveRequiresProgram(t *testing.T) {
	e := New()
	if _, ok := e.TokensSave(0); ok {
		t.Fatal("save without a program should fail")
	}
	if e.Stderr != "No script or tokens have yet been loaded" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	e := New()
	if !e.Script("$x = 2; return = $x * 3;") {
		t.Fatalf("script failed: %s", e.Stderr)
	}
	saved, ok := e.TokensSave(0)
	if !ok {
		t.Fatalf("save failed: %s", e.Stderr)
	}

	e2 := New()
	if !e2.TokensLoad(saved) {
		t.Fatal("load failed")
	}
	saved2, ok := e2.TokensSave(0)
	if !ok {
		t.Fatalf("second save failed: %s", e2.Stderr)
	}
	if saved != saved2 {
		t.Errorf("round trip not idempotent:\nfirst:\n%s\nsecond:\n%s", saved, saved2)
	}

	if !e2.Run() {
		t.Fatalf("run failed: %s", e2.Stderr)
	}
	if e2.Stdout != "6" {
		t.Errorf("stdout = %q, want 6", e2.Stdout)
	}
}

func TestTokensLoadAppliesHeaderSettings(t *testing.T) {
	e := New()
	if !e.Script("return = 10 / 3;") {
		t.Fatalf("script failed: %s", e.Stderr)
	}
	e.ScaleSet(1)
	e.WatchdogSet(77)
	saved, ok := e.TokensSave(0)
	if !ok {
		t.Fatalf("save failed: %s", e.Stderr)
	}

	e2 := New()
	if !e2.TokensLoad(saved) {
		t.Fatal("load failed")
	}
	if e2.ScaleGet() != 1 || e2.WatchdogGet() != 77 {
		t.Errorf("settings = s%d wd%d, want s1 wd77", e2.ScaleGet(), e2.WatchdogGet())
	}
	if !e2.Run() {
		t.Fatalf("run failed: %s", e2.Stderr)
	}
	if e2.Stdout != "3.3" {
		t.Errorf("stdout = %q, want 3.3 (scale from header)", e2.Stdout)
	}
}

func TestTokensLoadRejectsGarbage(t *testing.T) {
	e := New()
	if e.TokensLoad("not a token file") {
		t.Error("garbage must not load")
	}
	if e.TokensLoad("// Kabap=Tokens v=9 utf8=✓") {
		t.Error("future versions must not load")
	}
}

func TestMinificationPreservesBehaviour(t *testing.T) {
	// Level 3 renames $n, so the counter starts inside the script rather
	// than from a host-set variable.
	const src = "$n = 0;\n:loop\n$n = $n + 1;\nif $n < 3;\ngoto loop;\nreturn = \"n=\" << $n;"

	reference := New()
	reference.Script(src)
	if !reference.Run() {
		t.Fatalf("reference run failed: %s", reference.Stderr)
	}

	e := New()
	e.Script(src)
	minified, ok := e.TokensSave(3)
	if !ok {
		t.Fatalf("save failed: %s", e.Stderr)
	}

	e2 := New()
	if !e2.TokensLoad(minified) {
		t.Fatalf("load failed:\n%s", minified)
	}
	if !e2.Run() {
		t.Fatalf("minified run failed: %s\ntokens:\n%s", e2.Stderr, minified)
	}
	if e2.Stdout != reference.Stdout {
		t.Errorf("stdout = %q, want %q", e2.Stdout, reference.Stdout)
	}
}

func TestConditionalBlockEndMissingInTokens(t *testing.T) {
	// Unreachable from the tokeniser (it rejects unclosed blocks) but a
	// hand-crafted token stream can produce it.
	tokens := "// Kabap=Tokens v=1 utf8=✓\n>if\n#0\n{\n$x\n_=\n#1"
	e := New()
	if !e.TokensLoad(tokens) {
		t.Fatal("load failed")
	}
	if e.Run() {
		t.Fatal("run should fail")
	}
	if e.Stderr != "Could not find the end of a conditional block" {
		t.Errorf("stderr = %q", e.Stderr)
	}
}

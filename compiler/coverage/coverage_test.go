package coverage

import (
	"go/ast"
	"go/token"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/prodcov/prodcov/internal/srctesting"
)

const hookSrc = `package covruntime

type CodeReporter struct{}

func (r *CodeReporter) InstrumentCode(param string, line int) {}

var Instance = &CodeReporter{}
`

// program parses the given (name, src) pairs into a shared FileSet and
// instruments them in the given order.
type program struct {
	fset  *token.FileSet
	files map[string]*ast.File
	inst  *Instrumenter
}

func instrumentProgram(t *testing.T, reporter ChangeReporter, sources ...[2]string) *program {
	t.Helper()
	p := &program{
		fset:  token.NewFileSet(),
		files: make(map[string]*ast.File),
	}
	p.inst = New(p.fset, reporter)
	order := make([]string, 0, len(sources))
	for _, source := range sources {
		name, src := source[0], source[1]
		p.files[name] = srctesting.Parse(t, p.fset, name, src)
		order = append(order, name)
	}
	for _, name := range order {
		if err := p.inst.File(p.files[name]); err != nil {
			t.Fatalf("File(%s) returned error: %s", name, err)
		}
	}
	return p
}

// injectedCall destructures the instrumentation statement expected at the
// front of a function body and returns its arguments.
func injectedCall(t *testing.T, body *ast.BlockStmt) (param string, line int, ok bool) {
	t.Helper()
	if len(body.List) == 0 {
		return "", 0, false
	}
	expr, isExpr := body.List[0].(*ast.ExprStmt)
	if !isExpr {
		return "", 0, false
	}
	call, isCall := expr.X.(*ast.CallExpr)
	if !isCall {
		return "", 0, false
	}
	method, isSel := call.Fun.(*ast.SelectorExpr)
	if !isSel || method.Sel.Name != "InstrumentCode" {
		return "", 0, false
	}
	instance, isSel := method.X.(*ast.SelectorExpr)
	if !isSel || instance.Sel.Name != "Instance" {
		return "", 0, false
	}
	pkg, isIdent := instance.X.(*ast.Ident)
	if !isIdent || pkg.Name != HookPackageName {
		return "", 0, false
	}
	if len(call.Args) != 2 {
		t.Fatalf("Injected call has %d arguments, want 2", len(call.Args))
	}
	param, err := strconv.Unquote(call.Args[0].(*ast.BasicLit).Value)
	if err != nil {
		t.Fatalf("Failed to unquote injected param: %s", err)
	}
	line, err = strconv.Atoi(call.Args[1].(*ast.BasicLit).Value)
	if err != nil {
		t.Fatalf("Failed to parse injected line number: %s", err)
	}
	return param, line, true
}

// funcDecl finds the named function declaration in a file.
func funcDecl(t *testing.T, file *ast.File, name string) *ast.FuncDecl {
	t.Helper()
	for _, decl := range file.Decls {
		if fdecl, ok := decl.(*ast.FuncDecl); ok && fdecl.Name.Name == name {
			return fdecl
		}
	}
	t.Fatalf("Function %q not found", name)
	return nil
}

func TestScenario(t *testing.T) {
	// The hook-defining file comes first in program order, as arranged by the
	// host pipeline, so every later function is eligible.
	p := instrumentProgram(t, nil,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, "package main\n\nfunc f() int { return 1 }\n\nfunc g() int { return 2 }\n"},
		[2]string{`b.go`, "package main\n\nfunc h() int { return f() }\n"},
	)

	wantParams := map[string]struct {
		file string
		fn   string
	}{
		`C`: {`a.go`, `f`},
		`E`: {`a.go`, `g`},
		`G`: {`b.go`, `h`},
	}
	for _, fn := range []struct{ file, name, wantParam string }{
		{`a.go`, `f`, `C`},
		{`a.go`, `g`, `E`},
		{`b.go`, `h`, `G`},
	} {
		param, _, ok := injectedCall(t, funcDecl(t, p.files[fn.file], fn.name).Body)
		if !ok {
			t.Fatalf("Function %s in %s received no instrumentation call", fn.name, fn.file)
		}
		if param != fn.wantParam {
			t.Errorf("Function %s got param %q, want %q", fn.name, param, fn.wantParam)
		}
	}

	// The hook file itself is never instrumented.
	if _, _, ok := injectedCall(t, funcDecl(t, p.files[`instrumentcode.go`], `InstrumentCode`).Body); ok {
		t.Error("The hook-defining file received an instrumentation call")
	}

	vm := p.inst.InstrumentationMapping()
	if vm.Len() != 3 {
		t.Errorf("Mapping holds %d identifiers, want 3", vm.Len())
	}
	files, _ := vm.Reserved(FileNamesRow)
	if diff := cmp.Diff([]string{`a.go`, `b.go`}, files.Values); diff != "" {
		t.Errorf("FileNames row mismatch (-want,+got):\n%s", diff)
	}
	fns, _ := vm.Reserved(FunctionNamesRow)
	if diff := cmp.Diff([]string{`f`, `g`, `h`}, fns.Values); diff != "" {
		t.Errorf("FunctionNames row mismatch (-want,+got):\n%s", diff)
	}

	for id, want := range wantParams {
		c, err := DecodeParam(vm, id)
		if err != nil {
			t.Fatalf("DecodeParam(%q) returned error: %s", id, err)
		}
		if c.FileName != want.file || c.FunctionName != want.fn || c.Kind != FunctionKind {
			t.Errorf("DecodeParam(%q) returned %v, want (%s, %s, %s)", id, c, want.file, want.fn, FunctionKind)
		}
	}
}

func TestTraversalGating(t *testing.T) {
	// a.go precedes the hook-defining file, so its functions are visited
	// while the reporting call target is still undefined and must be skipped.
	p := instrumentProgram(t, nil,
		[2]string{`a.go`, "package main\n\nfunc f() {}\n\nfunc g() {}\n"},
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`b.go`, "package main\n\nfunc h() {}\n"},
	)

	for _, name := range []string{`f`, `g`} {
		if _, _, ok := injectedCall(t, funcDecl(t, p.files[`a.go`], name).Body); ok {
			t.Errorf("Function %s was instrumented before the hook file was visited", name)
		}
	}
	if _, _, ok := injectedCall(t, funcDecl(t, p.files[`b.go`], `h`).Body); !ok {
		t.Error("Function h after the hook file received no instrumentation call")
	}

	vm := p.inst.InstrumentationMapping()
	if vm.Len() != 1 {
		t.Errorf("Mapping holds %d identifiers, want 1", vm.Len())
	}
	files, _ := vm.Reserved(FileNamesRow)
	if diff := cmp.Diff([]string{`b.go`}, files.Values); diff != "" {
		t.Errorf("FileNames row mismatch (-want,+got):\n%s", diff)
	}
}

func TestProvenanceFiltering(t *testing.T) {
	fset := token.NewFileSet()
	target := srctesting.Parse(t, fset, `a.go`, "package main\n\nfunc f() {}\n")
	polyfill := srctesting.Parse(t, fset, `polyfill.go`, "package main\n\nfunc shim() {}\n")

	// Splice the polyfill function into a.go's tree, the way an earlier pass
	// injects synthesized code. Its positions still point at polyfill.go.
	target.Decls = append(target.Decls, polyfill.Decls...)

	inst := New(fset, nil)
	hook := srctesting.Parse(t, fset, `instrumentcode.go`, hookSrc)
	if err := inst.File(hook); err != nil {
		t.Fatalf("File(instrumentcode.go) returned error: %s", err)
	}
	if err := inst.File(target); err != nil {
		t.Fatalf("File(a.go) returned error: %s", err)
	}

	if _, _, ok := injectedCall(t, funcDecl(t, target, `f`).Body); !ok {
		t.Error("Function f originating from a.go received no instrumentation call")
	}
	if _, _, ok := injectedCall(t, funcDecl(t, target, `shim`).Body); ok {
		t.Error("Injected function shim was instrumented despite foreign provenance")
	}
}

func TestFunctionLiteralNames(t *testing.T) {
	tests := []struct {
		desc string
		src  string
		want string
	}{
		{
			desc: `bound to variable`,
			src:  "var handler = func() {}\n",
			want: `handler`,
		}, {
			desc: `goroutine literal`,
			src:  "func run() { go func() {}() }\n",
			want: AnonymousName,
		},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			p := instrumentProgram(t, nil,
				[2]string{`instrumentcode.go`, hookSrc},
				[2]string{`a.go`, "package main\n\n" + test.src},
			)
			vm := p.inst.InstrumentationMapping()
			fns, _ := vm.Reserved(FunctionNamesRow)
			found := false
			for _, fn := range fns.Values {
				if fn == test.want {
					found = true
				}
			}
			if !found {
				t.Errorf("FunctionNames row %v doesn't contain %q", fns.Values, test.want)
			}
		})
	}
}

func TestNestedFunctionOrder(t *testing.T) {
	// Post-order: the inner literal is visited, named and numbered before its
	// enclosing declaration.
	p := instrumentProgram(t, nil,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, "package main\n\nfunc f() {\n\tx := func() {}\n\tx()\n}\n"},
	)

	fdecl := funcDecl(t, p.files[`a.go`], `f`)
	param, _, ok := injectedCall(t, fdecl.Body)
	if !ok {
		t.Fatal("Function f received no instrumentation call")
	}
	if param != `E` {
		t.Errorf("Function f got param %q, want %q allocated after its nested literal", param, `E`)
	}

	vm := p.inst.InstrumentationMapping()
	fns, _ := vm.Reserved(FunctionNamesRow)
	if diff := cmp.Diff([]string{`x`, `f`}, fns.Values); diff != "" {
		t.Errorf("FunctionNames row mismatch (-want,+got):\n%s", diff)
	}
}

func TestLineNumbers(t *testing.T) {
	src := "package main\n\nfunc f() int {\n\treturn 1\n}\n\nfunc g() int {\n\treturn 2\n}\n"
	p := instrumentProgram(t, nil,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, src},
	)

	if _, line, _ := injectedCall(t, funcDecl(t, p.files[`a.go`], `f`).Body); line != 3 {
		t.Errorf("Function f got line %d, want 3", line)
	}
	if _, line, _ := injectedCall(t, funcDecl(t, p.files[`a.go`], `g`).Body); line != 7 {
		t.Errorf("Function g got line %d, want 7", line)
	}
}

func TestIgnoreDirective(t *testing.T) {
	p := instrumentProgram(t, nil,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, "package main\n\n//prodcov:ignore\nfunc hot() {}\n\nfunc f() {}\n"},
	)

	if _, _, ok := injectedCall(t, funcDecl(t, p.files[`a.go`], `hot`).Body); ok {
		t.Error("Function hot was instrumented despite the prodcov:ignore directive")
	}
	if _, _, ok := injectedCall(t, funcDecl(t, p.files[`a.go`], `f`).Body); !ok {
		t.Error("Function f received no instrumentation call")
	}
}

type changeRecorder struct {
	blocks []*ast.BlockStmt
}

func (r *changeRecorder) ReportChange(block *ast.BlockStmt) {
	r.blocks = append(r.blocks, block)
}

func TestChangeReporting(t *testing.T) {
	recorder := &changeRecorder{}
	instrumentProgram(t, recorder,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, "package main\n\nfunc f() {}\n\nfunc g() { h := func() {}; h() }\n"},
	)

	// f, g and the literal bound to h: one notification per mutated block.
	if len(recorder.blocks) != 3 {
		t.Errorf("ReportChange was called %d times, want 3", len(recorder.blocks))
	}
}

func TestInstrumentedSourcePrints(t *testing.T) {
	p := instrumentProgram(t, nil,
		[2]string{`instrumentcode.go`, hookSrc},
		[2]string{`a.go`, "package main\n\nfunc f() int {\n\treturn 1\n}\n"},
	)

	printed := srctesting.Format(t, p.fset, p.files[`a.go`])
	if !strings.Contains(printed, `covruntime.Instance.InstrumentCode("C", 3)`) {
		t.Errorf("Printed source doesn't contain the instrumentation call:\n%s", printed)
	}
}

package coverage

import (
	"go/ast"
	"go/token"
	"strconv"
)

// Identities of the runtime hook the injected calls target. The hook package
// ships its reporting entry point as a method on a package-level instance, so
// every injected statement takes the fixed form
//
//	covruntime.Instance.InstrumentCode("<encodedParam>", <lineNumber>)
//
// These must match the declarations in the file named by HookFileName; the
// instrumented program must have that value defined by the time any injected
// call executes.
const (
	// HookImportPath is the import path of the package defining the runtime
	// hook. The build host injects it into every file that received
	// instrumentation.
	HookImportPath = "github.com/prodcov/prodcov/covruntime"

	// HookPackageName is the identifier instrumented code references the hook
	// package by.
	HookPackageName = "covruntime"

	hookInstanceName = "Instance"
	hookMethodName   = "InstrumentCode"

	// HookFileName is the well-known name of the source file defining the
	// runtime hook, matched by suffix against node file identities. Nothing
	// is instrumented before this file has been visited, and the file itself
	// is never instrumented.
	//
	// TODO(prodcov): make this configurable so instrumentation doesn't rely
	// on a hardcoded file name.
	HookFileName = "instrumentcode.go"
)

// FunctionKind tags every function-entry site. The registry and the encoding
// are general over kinds; finer-grained kinds (e.g. branches) would slot in
// here without a format change.
const FunctionKind = "Type.FUNCTION"

// AnonymousName is the function name recorded for literals that aren't bound
// to any name.
const AnonymousName = "Anonymous"

// ChangeReporter is notified once per block that received an instrumentation
// statement, so the surrounding pipeline can track which parts of the program
// changed.
type ChangeReporter interface {
	ReportChange(block *ast.BlockStmt)
}

// instrumentBlock prepends a reporting call to the block and signals the
// change. fnName is the resolved name of the enclosing function.
func (v *visitor) instrumentBlock(block *ast.BlockStmt, fnName string) error {
	stmt, err := v.newInstrumentationStmt(block, fnName)
	if err != nil {
		return err
	}
	block.List = append([]ast.Stmt{stmt}, block.List...)
	if v.inst.reporter != nil {
		v.inst.reporter.ReportChange(block)
	}
	return nil
}

// newInstrumentationStmt builds the statement
//
//	covruntime.Instance.InstrumentCode("<encodedParam>", <lineNumber>)
//
// where encodedParam identifies the (file, function, kind) coordinate in the
// parameter mapping and lineNumber is the 1-based source line of the block.
// The synthesized nodes carry the block's source position so downstream
// diagnostics and tools see sane locations.
func (v *visitor) newInstrumentationStmt(block *ast.BlockStmt, fnName string) (ast.Stmt, error) {
	param, err := v.inst.mapping.EncodeParam(v.unitFile, fnName, FunctionKind)
	if err != nil {
		return nil, err
	}

	pos := block.Pos()
	line := v.inst.fset.Position(block.Pos()).Line

	instance := &ast.SelectorExpr{
		X:   &ast.Ident{NamePos: pos, Name: HookPackageName},
		Sel: &ast.Ident{NamePos: pos, Name: hookInstanceName},
	}
	method := &ast.SelectorExpr{
		X:   instance,
		Sel: &ast.Ident{NamePos: pos, Name: hookMethodName},
	}
	call := &ast.CallExpr{
		Fun:    method,
		Lparen: pos,
		Args: []ast.Expr{
			&ast.BasicLit{ValuePos: pos, Kind: token.STRING, Value: strconv.Quote(param)},
			&ast.BasicLit{ValuePos: pos, Kind: token.INT, Value: strconv.Itoa(line)},
		},
		Rparen: pos,
	}
	return &ast.ExprStmt{X: call}, nil
}

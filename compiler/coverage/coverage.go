// Package coverage implements production coverage instrumentation: a
// compile-time pass that prepends a lightweight reporting call to the body of
// every function in a program, paired with a compact, reversible parameter
// mapping that lets an out-of-band decoder translate the calls' terse
// arguments back into (source file, function, kind) coordinates.
//
// The payload injected per function is a single short call with a Base64 VLQ
// encoded argument, small enough for code shipped to end users, where which
// functions actually execute is the signal of interest.
package coverage

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"

	"github.com/prodcov/prodcov/compiler/astutil"
	"github.com/prodcov/prodcov/internal/varmap"
)

// Instrumenter owns one compilation's instrumentation state: the parameter
// mapping registry and the hook-file gating flag, both of which span all
// files of the program.
//
// An Instrumenter must not be shared between concurrent compilations;
// identifier assignment is not reentrant. Create one per compilation,
// instrument the program's files in order, call InstrumentationMapping once,
// discard.
type Instrumenter struct {
	fset     *token.FileSet
	mapping  *ParameterMapping
	reporter ChangeReporter

	// visitedHookFile flips to true when the traversal first visits a node of
	// the hook-defining file. Until then no node may be instrumented: the
	// call target isn't defined yet in the output program and an injected
	// call would fault at runtime.
	visitedHookFile bool
}

// New creates an Instrumenter for one compilation. reporter may be nil if
// the caller doesn't track changes.
func New(fset *token.FileSet, reporter ChangeReporter) *Instrumenter {
	return &Instrumenter{
		fset:     fset,
		mapping:  NewParameterMapping(),
		reporter: reporter,
	}
}

// File instruments one traversal unit in place. Files of a program must be
// passed in program order: the order determines hook-file gating and the
// first-seen assignment of namespace indices and identifiers.
//
// Every node of the file is visited exactly once, children before parents.
// The returned error is fatal for the compilation (identifier capacity
// exhaustion is the only failure this pass produces on well-formed input).
func (in *Instrumenter) File(file *ast.File) error {
	v := &visitor{
		inst:     in,
		unitFile: in.fset.Position(file.Pos()).Filename,
	}
	ast.Walk(v, file)
	if v.err != nil {
		return fmt.Errorf("failed to instrument %s: %w", v.unitFile, v.err)
	}
	return nil
}

// InstrumentationMapping finalizes and returns the parameter mapping for the
// compilation. Call exactly once, after all files have been instrumented.
func (in *Instrumenter) InstrumentationMapping() *varmap.Map {
	return in.mapping.Materialize()
}

// visitor drives the post-order traversal of one file. ast.Walk invokes
// Visit(node) before a node's children and Visit(nil) after them; nodes are
// processed on the latter call, so children are always handled before their
// parents and statements injected into a body are never re-visited.
type visitor struct {
	inst     *Instrumenter
	unitFile string

	// stack holds the ancestors of the node currently being walked, innermost
	// last. It serves name resolution for function literals.
	stack []ast.Node

	// err is the first fatal failure; once set, traversal only unwinds.
	err error
}

func (v *visitor) Visit(node ast.Node) ast.Visitor {
	if node == nil {
		last := v.stack[len(v.stack)-1]
		v.stack = v.stack[:len(v.stack)-1]
		if v.err == nil {
			v.visit(last)
		}
		return nil
	}
	if v.err != nil {
		return nil
	}
	v.stack = append(v.stack, node)
	return v
}

// visit applies the instrumentation policy to a single node, in post-order.
func (v *visitor) visit(node ast.Node) {
	sourceFile := v.inst.fset.Position(node.Pos()).Filename

	// A node whose origin isn't the file under traversal was injected by an
	// earlier pass (e.g. a synthesized polyfill). Instrumenting it would
	// misattribute its provenance, and the hook may not be reachable from its
	// context, so it is always skipped.
	if sourceFile != v.unitFile {
		return
	}

	// Until the hook-defining file has been visited the reporting call target
	// doesn't exist in the output program, so nothing may be instrumented.
	// The hook file itself is never instrumented either.
	if !v.inst.visitedHookFile || strings.HasSuffix(sourceFile, HookFileName) {
		if strings.HasSuffix(sourceFile, HookFileName) {
			v.inst.visitedHookFile = true
		}
		return
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		if n.Body == nil || astutil.Ignored(n) {
			// Body-less declarations are implemented externally; ignored
			// functions opted out via the prodcov:ignore directive.
			return
		}
		v.err = v.instrumentBlock(n.Body, astutil.FuncKey(n))
	case *ast.FuncLit:
		name := astutil.BestBoundName(v.stack, n)
		if name == `` {
			name = AnonymousName
		}
		v.err = v.instrumentBlock(n.Body, name)
	}
}
